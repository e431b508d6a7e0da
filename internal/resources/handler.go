package resources

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/warden-authz/warden/internal/authz"
	"github.com/warden-authz/warden/internal/platform/httpx"
)

// Handler manages grain and securable item endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers grain and resource routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/grains", h.listGrains)
	r.Post("/grains", h.createGrain)
	r.Delete("/grains/{grain}", h.deleteGrain)

	r.Get("/grains/{grain}/resources", h.listRoots)
	r.Post("/grains/{grain}/resources", h.createResource)
	r.Get("/grains/{grain}/resources/{resourceID}", h.getResource)
	r.Get("/grains/{grain}/resources/{resourceID}/children", h.listChildren)
	r.Delete("/grains/{grain}/resources/{resourceID}", h.deleteResource)
}

type createGrainRequest struct {
	Name string `json:"name" validate:"required,max=128"`
}

type createResourceRequest struct {
	Name     string  `json:"name" validate:"required,max=256"`
	ParentID *string `json:"parentId,omitempty" validate:"omitempty,uuid"`
}

type resourceResponse struct {
	ID       string  `json:"id"`
	Grain    string  `json:"grain"`
	Name     string  `json:"name"`
	ParentID *string `json:"parentId,omitempty"`
}

func toResourceResponse(item authz.SecurableItem) resourceResponse {
	out := resourceResponse{ID: item.ID.String(), Grain: item.Grain, Name: item.Name}
	if item.ParentID != nil {
		parent := item.ParentID.String()
		out.ParentID = &parent
	}
	return out
}

func (h *Handler) listGrains(w http.ResponseWriter, r *http.Request) {
	grains, err := h.service.ListGrains(r.Context())
	if err != nil {
		h.fail(w, "list grains", err)
		return
	}
	names := make([]string, 0, len(grains))
	for _, grain := range grains {
		names = append(names, grain.Name)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"grains": names})
}

func (h *Handler) createGrain(w http.ResponseWriter, r *http.Request) {
	var req createGrainRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", authz.ErrValidation, err))
		return
	}
	grain, err := h.service.CreateGrain(r.Context(), req.Name)
	if err != nil {
		h.fail(w, "create grain", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"name": grain.Name})
}

func (h *Handler) deleteGrain(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteGrain(r.Context(), chi.URLParam(r, "grain")); err != nil {
		h.fail(w, "delete grain", err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) createResource(w http.ResponseWriter, r *http.Request) {
	var req createResourceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", authz.ErrValidation, err))
		return
	}
	var parentID *uuid.UUID
	if req.ParentID != nil {
		parsed, err := uuid.Parse(*req.ParentID)
		if err != nil {
			httpx.RespondError(w, fmt.Errorf("%w: invalid parent id", authz.ErrValidation))
			return
		}
		parentID = &parsed
	}
	item, err := h.service.CreateResource(r.Context(), chi.URLParam(r, "grain"), req.Name, parentID)
	if err != nil {
		h.fail(w, "create resource", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResourceResponse(item))
}

func (h *Handler) getResource(w http.ResponseWriter, r *http.Request) {
	id, ok := h.resourceID(w, r)
	if !ok {
		return
	}
	item, err := h.service.GetResource(r.Context(), chi.URLParam(r, "grain"), id)
	if err != nil {
		h.fail(w, "get resource", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResourceResponse(*item))
}

func (h *Handler) listRoots(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListRoots(r.Context(), chi.URLParam(r, "grain"))
	if err != nil {
		h.fail(w, "list roots", err)
		return
	}
	h.respondList(w, items)
}

func (h *Handler) listChildren(w http.ResponseWriter, r *http.Request) {
	id, ok := h.resourceID(w, r)
	if !ok {
		return
	}
	items, err := h.service.ListChildren(r.Context(), chi.URLParam(r, "grain"), id)
	if err != nil {
		h.fail(w, "list children", err)
		return
	}
	h.respondList(w, items)
}

func (h *Handler) deleteResource(w http.ResponseWriter, r *http.Request) {
	id, ok := h.resourceID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteResource(r.Context(), chi.URLParam(r, "grain"), id); err != nil {
		h.fail(w, "delete resource", err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) respondList(w http.ResponseWriter, items []authz.SecurableItem) {
	out := make([]resourceResponse, 0, len(items))
	for _, item := range items {
		out = append(out, toResourceResponse(item))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"resources": out})
}

func (h *Handler) resourceID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "resourceID"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid resource id", authz.ErrValidation))
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
