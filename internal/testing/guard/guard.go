// Package guard forces test mode for packages that import it. Blank
// import it from test files that must never touch live infrastructure.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("WARDEN_TEST_MODE") == "" {
			_ = os.Setenv("WARDEN_TEST_MODE", "1")
		}
	})
}
