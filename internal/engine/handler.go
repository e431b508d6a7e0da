package engine

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/warden-authz/warden/internal/authz"
	"github.com/warden-authz/warden/internal/platform/httpx"
)

// Handler exposes the resolution endpoint. Resolution is read-only
// and keyed entirely by the URL and query string so gateways can
// cache aggressively in front of it.
type Handler struct {
	logger *slog.Logger
	engine *Engine
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, engine *Engine) *Handler {
	return &Handler{logger: logger, engine: engine}
}

// MountRoutes registers the resolve route.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{grain}/{resourceID}", h.resolve)
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) {
	resourceID, err := uuid.Parse(chi.URLParam(r, "resourceID"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid resource id", authz.ErrValidation))
		return
	}
	key, err := keyFromQuery(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	set, err := h.engine.Resolve(r.Context(), key, chi.URLParam(r, "grain"), resourceID)
	if err != nil {
		if h.logger != nil {
			h.logger.Error("resolve", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, set)
}

func keyFromQuery(r *http.Request) (authz.PrincipalKey, error) {
	q := r.URL.Query()
	subject := q.Get("subject")
	if subject == "" {
		return authz.PrincipalKey{}, fmt.Errorf("%w: subject query parameter required", authz.ErrValidation)
	}
	switch kind := q.Get("kind"); authz.PrincipalKind(kind) {
	case authz.KindUser:
		idp := q.Get("idp")
		if idp == "" {
			return authz.PrincipalKey{}, fmt.Errorf("%w: idp query parameter required for users", authz.ErrValidation)
		}
		return authz.UserKey(idp, subject), nil
	case authz.KindClient:
		return authz.ClientKey(subject), nil
	default:
		return authz.PrincipalKey{}, fmt.Errorf("%w: kind must be user or client", authz.ErrValidation)
	}
}
