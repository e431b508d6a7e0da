// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/warden-authz/warden/internal/authz"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
// Cycle detection is an internal-consistency fault, store timeouts
// surface as gateway timeouts so callers know a retry may help.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, authz.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, authz.ErrDuplicate):
		Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, authz.ErrScopeMismatch):
		Problem(w, http.StatusUnprocessableEntity, "Scope Mismatch", err.Error())
	case errors.Is(err, authz.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, authz.ErrStoreTimeout):
		Problem(w, http.StatusGatewayTimeout, "Store Timeout", err.Error())
	case errors.Is(err, authz.ErrCycleDetected):
		Problem(w, http.StatusInternalServerError, "Internal Error", "resource hierarchy is corrupt")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
