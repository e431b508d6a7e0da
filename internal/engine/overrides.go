package engine

import (
	"context"

	"github.com/warden-authz/warden/internal/authz"
)

// OverridesFor returns the principal's direct permission overrides
// verbatim. Overrides are principal-scoped, not resource-scoped: they
// are named exceptions that follow the principal everywhere and take
// absolute precedence over role-derived permissions. Fails with
// not-found only when the principal itself does not exist.
func (e *Engine) OverridesFor(ctx context.Context, key authz.PrincipalKey) ([]authz.Override, error) {
	principal, err := e.getPrincipal(ctx, key)
	if err != nil {
		return nil, err
	}
	return principal.Overrides, nil
}
