package roles

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/warden-authz/warden/internal/authz"
	"github.com/warden-authz/warden/internal/platform/httpx"
)

// Handler manages role endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers role routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.createRole)
	r.Get("/{roleID}", h.getRole)
	r.Delete("/{roleID}", h.deleteRole)
	r.Post("/{roleID}/permissions", h.attachPermissions)
	r.Delete("/{roleID}/permissions", h.detachPermissions)
	r.Get("/scope/{grain}/{resourceID}", h.listByScope)
}

// MountPermissionRoutes registers permission routes.
func (h *Handler) MountPermissionRoutes(r chi.Router) {
	r.Post("/", h.createPermission)
	r.Delete("/{permissionID}", h.deletePermission)
	r.Get("/scope/{grain}/{resourceID}", h.listPermissionsByScope)
}

type createRoleRequest struct {
	Grain           string `json:"grain" validate:"required,max=128"`
	SecurableItemID string `json:"securableItemId" validate:"required,uuid"`
	Name            string `json:"name" validate:"required,max=256"`
	Deny            bool   `json:"deny"`
}

type permissionIDsRequest struct {
	PermissionIDs []string `json:"permissionIds" validate:"required,min=1,dive,uuid"`
}

type roleResponse struct {
	ID              string   `json:"id"`
	Grain           string   `json:"grain"`
	SecurableItemID string   `json:"securableItemId"`
	Name            string   `json:"name"`
	Deny            bool     `json:"deny"`
	PermissionIDs   []string `json:"permissionIds"`
}

func toRoleResponse(role authz.Role) roleResponse {
	permIDs := make([]string, 0, len(role.PermissionIDs))
	for _, id := range role.PermissionIDs {
		permIDs = append(permIDs, id.String())
	}
	return roleResponse{
		ID:              role.ID.String(),
		Grain:           role.Grain,
		SecurableItemID: role.SecurableItemID.String(),
		Name:            role.Name,
		Deny:            role.Deny,
		PermissionIDs:   permIDs,
	}
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", authz.ErrValidation, err))
		return
	}
	itemID, err := uuid.Parse(req.SecurableItemID)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid securable item id", authz.ErrValidation))
		return
	}
	role, err := h.service.CreateRole(r.Context(), req.Grain, itemID, req.Name, req.Deny)
	if err != nil {
		h.fail(w, "create role", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toRoleResponse(role))
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.roleID(w, r)
	if !ok {
		return
	}
	role, err := h.service.GetRole(r.Context(), id)
	if err != nil {
		h.fail(w, "get role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRoleResponse(*role))
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.roleID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteRole(r.Context(), id); err != nil {
		h.fail(w, "delete role", err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) attachPermissions(w http.ResponseWriter, r *http.Request) {
	h.updatePermissions(w, r, h.service.AttachPermissions)
}

func (h *Handler) detachPermissions(w http.ResponseWriter, r *http.Request) {
	h.updatePermissions(w, r, h.service.DetachPermissions)
}

func (h *Handler) updatePermissions(w http.ResponseWriter, r *http.Request, apply func(context.Context, uuid.UUID, []uuid.UUID) (authz.Role, error)) {
	id, ok := h.roleID(w, r)
	if !ok {
		return
	}
	var req permissionIDsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", authz.ErrValidation, err))
		return
	}
	permIDs := make([]uuid.UUID, 0, len(req.PermissionIDs))
	for _, raw := range req.PermissionIDs {
		permID, err := uuid.Parse(raw)
		if err != nil {
			httpx.RespondError(w, fmt.Errorf("%w: invalid permission id %q", authz.ErrValidation, raw))
			return
		}
		permIDs = append(permIDs, permID)
	}
	role, err := apply(r.Context(), id, permIDs)
	if err != nil {
		h.fail(w, "update role permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRoleResponse(role))
}

func (h *Handler) listByScope(w http.ResponseWriter, r *http.Request) {
	itemID, err := uuid.Parse(chi.URLParam(r, "resourceID"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid resource id", authz.ErrValidation))
		return
	}
	list, err := h.service.ListRolesByScope(r.Context(), chi.URLParam(r, "grain"), itemID)
	if err != nil {
		h.fail(w, "list roles", err)
		return
	}
	out := make([]roleResponse, 0, len(list))
	for _, role := range list {
		out = append(out, toRoleResponse(role))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": out})
}

type createPermissionRequest struct {
	Grain           string `json:"grain" validate:"required,max=128"`
	SecurableItemID string `json:"securableItemId" validate:"required,uuid"`
	Name            string `json:"name" validate:"required,max=256"`
}

type permissionResponse struct {
	ID              string `json:"id"`
	Grain           string `json:"grain"`
	SecurableItemID string `json:"securableItemId"`
	Name            string `json:"name"`
}

func toPermissionResponse(perm authz.Permission) permissionResponse {
	return permissionResponse{
		ID:              perm.ID.String(),
		Grain:           perm.Grain,
		SecurableItemID: perm.SecurableItemID.String(),
		Name:            perm.Name,
	}
}

func (h *Handler) createPermission(w http.ResponseWriter, r *http.Request) {
	var req createPermissionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", authz.ErrValidation, err))
		return
	}
	itemID, err := uuid.Parse(req.SecurableItemID)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid securable item id", authz.ErrValidation))
		return
	}
	perm, err := h.service.CreatePermission(r.Context(), req.Grain, itemID, req.Name)
	if err != nil {
		h.fail(w, "create permission", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toPermissionResponse(perm))
}

func (h *Handler) deletePermission(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "permissionID"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid permission id", authz.ErrValidation))
		return
	}
	if err := h.service.DeletePermission(r.Context(), id); err != nil {
		h.fail(w, "delete permission", err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) listPermissionsByScope(w http.ResponseWriter, r *http.Request) {
	itemID, err := uuid.Parse(chi.URLParam(r, "resourceID"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid resource id", authz.ErrValidation))
		return
	}
	list, err := h.service.ListPermissionsByScope(r.Context(), chi.URLParam(r, "grain"), itemID)
	if err != nil {
		h.fail(w, "list permissions", err)
		return
	}
	out := make([]permissionResponse, 0, len(list))
	for _, perm := range list {
		out = append(out, toPermissionResponse(perm))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": out})
}

func (h *Handler) roleID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "roleID"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid role id", authz.ErrValidation))
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, action string, err error) {
	if h.logger != nil {
		h.logger.Error(action, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
