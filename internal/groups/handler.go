package groups

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/warden-authz/warden/internal/authz"
	"github.com/warden-authz/warden/internal/platform/httpx"
	"github.com/warden-authz/warden/internal/shared"
)

// Handler manages group endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers group routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.createGroup)
	r.Get("/", h.listGroups)
	r.Get("/by-name/{groupName}", h.getGroupByName)
	r.Get("/{groupID}", h.getGroup)
	r.Delete("/{groupID}", h.deleteGroup)
	r.Post("/{groupID}/roles", h.addRoles)
	r.Delete("/{groupID}/roles", h.removeRoles)
	r.Get("/{groupID}/members", h.listMembers)
	r.Post("/{groupID}/members", h.addMember)
	r.Delete("/{groupID}/members", h.removeMember)
}

type createGroupRequest struct {
	Name string `json:"name" validate:"required,max=256"`
}

type roleIDsRequest struct {
	RoleIDs []string `json:"roleIds" validate:"required,min=1,dive,uuid"`
}

type memberRequest struct {
	Kind             string `json:"kind" validate:"required,oneof=user client"`
	IdentityProvider string `json:"identityProvider" validate:"max=128"`
	Subject          string `json:"subject" validate:"required,max=256"`
}

type groupResponse struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	RoleIDs []string `json:"roleIds"`
}

type memberResponse struct {
	Kind             string `json:"kind"`
	IdentityProvider string `json:"identityProvider,omitempty"`
	Subject          string `json:"subject"`
}

func toGroupResponse(group authz.Group) groupResponse {
	roleIDs := make([]string, 0, len(group.RoleIDs))
	for _, id := range group.RoleIDs {
		roleIDs = append(roleIDs, id.String())
	}
	return groupResponse{ID: group.ID.String(), Name: group.Name, RoleIDs: roleIDs}
}

func (h *Handler) createGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", authz.ErrValidation, err))
		return
	}
	group, err := h.service.CreateGroup(r.Context(), req.Name)
	if err != nil {
		h.fail(w, "create group", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toGroupResponse(group))
}

func (h *Handler) listGroups(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListGroups(r.Context())
	if err != nil {
		h.fail(w, "list groups", err)
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("perPage"))
	p := shared.NewPagination(page, perPage, len(list))
	start := p.Offset()
	if start > len(list) {
		start = len(list)
	}
	end := start + p.PerPage
	if end > len(list) {
		end = len(list)
	}
	out := make([]groupResponse, 0, end-start)
	for _, group := range list[start:end] {
		out = append(out, toGroupResponse(group))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"groups": out, "pagination": p})
}

func (h *Handler) getGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := h.groupID(w, r)
	if !ok {
		return
	}
	group, err := h.service.GetGroup(r.Context(), id)
	if err != nil {
		h.fail(w, "get group", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toGroupResponse(*group))
}

func (h *Handler) getGroupByName(w http.ResponseWriter, r *http.Request) {
	group, err := h.service.GetGroupByName(r.Context(), chi.URLParam(r, "groupName"))
	if err != nil {
		h.fail(w, "get group by name", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toGroupResponse(*group))
}

func (h *Handler) deleteGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := h.groupID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteGroup(r.Context(), id); err != nil {
		h.fail(w, "delete group", err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) addRoles(w http.ResponseWriter, r *http.Request) {
	h.updateRoles(w, r, h.service.AddRoles)
}

func (h *Handler) removeRoles(w http.ResponseWriter, r *http.Request) {
	h.updateRoles(w, r, h.service.RemoveRoles)
}

func (h *Handler) updateRoles(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, groupID uuid.UUID, roleIDs []uuid.UUID) (authz.Group, error)) {
	id, ok := h.groupID(w, r)
	if !ok {
		return
	}
	var req roleIDsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", authz.ErrValidation, err))
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
	group, err := apply(r.Context(), id, roleIDs)
	if err != nil {
		h.fail(w, "update group roles", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toGroupResponse(group))
}

func (h *Handler) addMember(w http.ResponseWriter, r *http.Request) {
	h.updateMember(w, r, h.service.AddMember, "add group member")
}

func (h *Handler) removeMember(w http.ResponseWriter, r *http.Request) {
	h.updateMember(w, r, h.service.RemoveMember, "remove group member")
}

func (h *Handler) updateMember(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, groupID uuid.UUID, key authz.PrincipalKey) error, action string) {
	id, ok := h.groupID(w, r)
	if !ok {
		return
	}
	var req memberRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", authz.ErrValidation, err))
		return
	}
	key, err := principalKey(req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := apply(r.Context(), id, key); err != nil {
		h.fail(w, action, err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) listMembers(w http.ResponseWriter, r *http.Request) {
	id, ok := h.groupID(w, r)
	if !ok {
		return
	}
	members, err := h.service.ListMembers(r.Context(), id)
	if err != nil {
		h.fail(w, "list group members", err)
		return
	}
	out := make([]memberResponse, 0, len(members))
	for _, member := range members {
		out = append(out, memberResponse{
			Kind:             string(member.Key.Kind),
			IdentityProvider: member.Key.IdentityProvider,
			Subject:          member.Key.Subject,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"members": out})
}

func principalKey(req memberRequest) (authz.PrincipalKey, error) {
	switch authz.PrincipalKind(req.Kind) {
	case authz.KindUser:
		if req.IdentityProvider == "" {
			return authz.PrincipalKey{}, fmt.Errorf("%w: identity provider required for users", authz.ErrValidation)
		}
		return authz.UserKey(req.IdentityProvider, req.Subject), nil
	case authz.KindClient:
		return authz.ClientKey(req.Subject), nil
	default:
		return authz.PrincipalKey{}, fmt.Errorf("%w: unknown principal kind %q", authz.ErrValidation, req.Kind)
	}
}

func (h *Handler) groupID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "groupID"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid group id", authz.ErrValidation))
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
