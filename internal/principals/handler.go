package principals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/warden-authz/warden/internal/authz"
	"github.com/warden-authz/warden/internal/platform/httpx"
)

// Handler manages user and client endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountUserRoutes registers user routes. Users are addressed by
// identity provider and subject.
func (h *Handler) MountUserRoutes(r chi.Router) {
	r.Post("/", h.createUser)
	r.Route("/{idp}/{subject}", func(r chi.Router) {
		r.Get("/", h.getPrincipal(userKey))
		r.Delete("/", h.deletePrincipal(userKey))
		r.Post("/roles", h.updateRoles(userKey, h.service.AssignRoles, "assign user roles"))
		r.Delete("/roles", h.updateRoles(userKey, h.service.RemoveRoles, "remove user roles"))
		r.Put("/overrides", h.setOverride(userKey))
		r.Delete("/overrides", h.clearOverride(userKey))
	})
}

// MountClientRoutes registers client routes.
func (h *Handler) MountClientRoutes(r chi.Router) {
	r.Post("/", h.createClient)
	r.Route("/{clientID}", func(r chi.Router) {
		r.Get("/", h.getPrincipal(clientKey))
		r.Delete("/", h.deletePrincipal(clientKey))
		r.Post("/verify", h.verifyClient)
		r.Post("/roles", h.updateRoles(clientKey, h.service.AssignRoles, "assign client roles"))
		r.Delete("/roles", h.updateRoles(clientKey, h.service.RemoveRoles, "remove client roles"))
		r.Put("/overrides", h.setOverride(clientKey))
		r.Delete("/overrides", h.clearOverride(clientKey))
	})
}

func userKey(r *http.Request) authz.PrincipalKey {
	return authz.UserKey(chi.URLParam(r, "idp"), chi.URLParam(r, "subject"))
}

func clientKey(r *http.Request) authz.PrincipalKey {
	return authz.ClientKey(chi.URLParam(r, "clientID"))
}

type createUserRequest struct {
	IdentityProvider string `json:"identityProvider" validate:"required,max=128"`
	Subject          string `json:"subject" validate:"required,max=256"`
}

type createClientRequest struct {
	ClientID string `json:"clientId" validate:"required,max=256"`
}

type verifyClientRequest struct {
	Secret string `json:"secret" validate:"required"`
}

type roleIDsRequest struct {
	RoleIDs []string `json:"roleIds" validate:"required,min=1,dive,uuid"`
}

type setOverrideRequest struct {
	Permission string `json:"permission" validate:"required,max=256"`
	Allow      *bool  `json:"allow" validate:"required"`
}

type clearOverrideRequest struct {
	Permission string `json:"permission" validate:"required,max=256"`
}

type overrideResponse struct {
	Permission string `json:"permission"`
	Allow      bool   `json:"allow"`
}

type principalResponse struct {
	Kind             string             `json:"kind"`
	IdentityProvider string             `json:"identityProvider,omitempty"`
	Subject          string             `json:"subject"`
	RoleIDs          []string           `json:"roleIds"`
	GroupIDs         []string           `json:"groupIds"`
	Overrides        []overrideResponse `json:"overrides"`
}

func toPrincipalResponse(principal authz.Principal) principalResponse {
	roleIDs := make([]string, 0, len(principal.RoleIDs))
	for _, id := range principal.RoleIDs {
		roleIDs = append(roleIDs, id.String())
	}
	groupIDs := make([]string, 0, len(principal.GroupIDs))
	for _, id := range principal.GroupIDs {
		groupIDs = append(groupIDs, id.String())
	}
	overrides := make([]overrideResponse, 0, len(principal.Overrides))
	for _, override := range principal.Overrides {
		overrides = append(overrides, overrideResponse{Permission: override.Permission, Allow: override.Allow})
	}
	return principalResponse{
		Kind:             string(principal.Key.Kind),
		IdentityProvider: principal.Key.IdentityProvider,
		Subject:          principal.Key.Subject,
		RoleIDs:          roleIDs,
		GroupIDs:         groupIDs,
		Overrides:        overrides,
	}
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !h.decode(w, r, &req) {
		return
	}
	principal, err := h.service.CreateUser(r.Context(), req.IdentityProvider, req.Subject)
	if err != nil {
		h.fail(w, "create user", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toPrincipalResponse(principal))
}

func (h *Handler) createClient(w http.ResponseWriter, r *http.Request) {
	var req createClientRequest
	if !h.decode(w, r, &req) {
		return
	}
	principal, secret, err := h.service.CreateClient(r.Context(), req.ClientID)
	if err != nil {
		h.fail(w, "create client", err)
		return
	}
	body := toPrincipalResponse(principal)
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"client": body,
		"secret": secret,
	})
}

func (h *Handler) verifyClient(w http.ResponseWriter, r *http.Request) {
	var req verifyClientRequest
	if !h.decode(w, r, &req) {
		return
	}
	clientID := chi.URLParam(r, "clientID")
	if err := h.service.VerifyClientSecret(r.Context(), clientID, req.Secret); err != nil {
		if errors.Is(err, ErrBadSecret) {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "client secret mismatch")
			return
		}
		h.fail(w, "verify client", err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) getPrincipal(key func(*http.Request) authz.PrincipalKey) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, err := h.service.Get(r.Context(), key(r))
		if err != nil {
			h.fail(w, "get principal", err)
			return
		}
		httpx.JSON(w, http.StatusOK, toPrincipalResponse(*principal))
	}
}

func (h *Handler) deletePrincipal(key func(*http.Request) authz.PrincipalKey) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.service.Delete(r.Context(), key(r)); err != nil {
			h.fail(w, "delete principal", err)
			return
		}
		httpx.NoContent(w)
	}
}

func (h *Handler) updateRoles(key func(*http.Request) authz.PrincipalKey, apply func(context.Context, authz.PrincipalKey, []uuid.UUID) (authz.Principal, error), action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req roleIDsRequest
		if !h.decode(w, r, &req) {
			return
		}
		roleIDs := make([]uuid.UUID, 0, len(req.RoleIDs))
		for _, raw := range req.RoleIDs {
			roleID, err := uuid.Parse(raw)
			if err != nil {
				httpx.RespondError(w, fmt.Errorf("%w: invalid role id %q", authz.ErrValidation, raw))
				return
			}
			roleIDs = append(roleIDs, roleID)
		}
		principal, err := apply(r.Context(), key(r), roleIDs)
		if err != nil {
			h.fail(w, action, err)
			return
		}
		httpx.JSON(w, http.StatusOK, toPrincipalResponse(principal))
	}
}

func (h *Handler) setOverride(key func(*http.Request) authz.PrincipalKey) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req setOverrideRequest
		if !h.decode(w, r, &req) {
			return
		}
		principal, err := h.service.SetOverride(r.Context(), key(r), req.Permission, *req.Allow)
		if err != nil {
			h.fail(w, "set override", err)
			return
		}
		httpx.JSON(w, http.StatusOK, toPrincipalResponse(principal))
	}
}

func (h *Handler) clearOverride(key func(*http.Request) authz.PrincipalKey) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req clearOverrideRequest
		if !h.decode(w, r, &req) {
			return
		}
		principal, err := h.service.ClearOverride(r.Context(), key(r), req.Permission)
		if err != nil {
			h.fail(w, "clear override", err)
			return
		}
		httpx.JSON(w, http.StatusOK, toPrincipalResponse(principal))
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, req any) bool {
	if err := httpx.DecodeJSON(r, req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return false
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", authz.ErrValidation, err))
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, action string, err error) {
	if h.logger != nil {
		h.logger.Error(action, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
