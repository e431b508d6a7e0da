// Package resources manages grains and the securable item hierarchy.
package resources

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/warden-authz/warden/internal/authz"
	"github.com/warden-authz/warden/internal/engine"
	"github.com/warden-authz/warden/internal/shared"
)

// Service handles grain and securable item administration.
type Service struct {
	grains    authz.GrainStore
	resources authz.ResourceStore
	audit     *shared.AuditLogger
	cache     *engine.Cache
	logger    *slog.Logger
}

// NewService builds a Service instance.
func NewService(grains authz.GrainStore, resources authz.ResourceStore, audit *shared.AuditLogger, cache *engine.Cache, logger *slog.Logger) *Service {
	return &Service{grains: grains, resources: resources, audit: audit, cache: cache, logger: logger}
}

// CreateGrain registers a new tenancy partition.
func (s *Service) CreateGrain(ctx context.Context, name string) (authz.Grain, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return authz.Grain{}, fmt.Errorf("%w: grain name required", authz.ErrValidation)
	}
	grain := authz.Grain{Name: name}
	if err := s.grains.CreateGrain(ctx, grain); err != nil {
		return authz.Grain{}, err
	}
	s.recordMutation(ctx, "grain.create", "grain", name, nil)
	return grain, nil
}

// ListGrains returns all grains.
func (s *Service) ListGrains(ctx context.Context) ([]authz.Grain, error) {
	return s.grains.ListGrains(ctx)
}

// DeleteGrain removes an empty grain. Grains referenced by securable
// items are immutable and cannot be removed.
func (s *Service) DeleteGrain(ctx context.Context, name string) error {
	roots, err := s.resources.ListRoots(ctx, name)
	if err != nil {
		return err
	}
	if len(roots) > 0 {
		return fmt.Errorf("%w: grain %q still holds securable items", authz.ErrValidation, name)
	}
	if err := s.grains.DeleteGrain(ctx, name); err != nil {
		return err
	}
	s.recordMutation(ctx, "grain.delete", "grain", name, nil)
	return nil
}

// CreateResource inserts a securable item under an optional parent.
func (s *Service) CreateResource(ctx context.Context, grain, name string, parentID *uuid.UUID) (authz.SecurableItem, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return authz.SecurableItem{}, fmt.Errorf("%w: resource name required", authz.ErrValidation)
	}
	if _, err := s.grains.GetGrain(ctx, grain); err != nil {
		if errors.Is(err, authz.ErrNotFound) {
			return authz.SecurableItem{}, fmt.Errorf("%w: grain %q", authz.ErrNotFound, grain)
		}
		return authz.SecurableItem{}, err
	}
	if parentID != nil {
		if _, err := s.resources.GetResource(ctx, grain, *parentID); err != nil {
			if errors.Is(err, authz.ErrNotFound) {
				return authz.SecurableItem{}, fmt.Errorf("%w: parent resource %s in grain %q", authz.ErrNotFound, parentID, grain)
			}
			return authz.SecurableItem{}, err
		}
	}
	item := authz.SecurableItem{
		ID:       uuid.New(),
		Grain:    grain,
		Name:     name,
		ParentID: parentID,
	}
	if err := s.resources.CreateResource(ctx, item); err != nil {
		return authz.SecurableItem{}, err
	}
	s.recordMutation(ctx, "resource.create", "securable_item", item.ID.String(), map[string]any{"grain": grain, "name": name})
	return item, nil
}

// GetResource fetches a securable item by id.
func (s *Service) GetResource(ctx context.Context, grain string, id uuid.UUID) (*authz.SecurableItem, error) {
	return s.resources.GetResource(ctx, grain, id)
}

// GetResourceByName fetches a securable item by name.
func (s *Service) GetResourceByName(ctx context.Context, grain, name string) (*authz.SecurableItem, error) {
	return s.resources.GetResourceByName(ctx, grain, name)
}

// ListChildren returns the direct children of a securable item.
func (s *Service) ListChildren(ctx context.Context, grain string, parentID uuid.UUID) ([]authz.SecurableItem, error) {
	return s.resources.ListChildren(ctx, grain, parentID)
}

// ListRoots returns the top-level securable items of a grain.
func (s *Service) ListRoots(ctx context.Context, grain string) ([]authz.SecurableItem, error) {
	return s.resources.ListRoots(ctx, grain)
}

// DeleteResource removes a childless securable item.
func (s *Service) DeleteResource(ctx context.Context, grain string, id uuid.UUID) error {
	children, err := s.resources.ListChildren(ctx, grain, id)
	if err != nil {
		return err
	}
	if len(children) > 0 {
		return fmt.Errorf("%w: resource %s still has children", authz.ErrValidation, id)
	}
	if err := s.resources.DeleteResource(ctx, grain, id); err != nil {
		return err
	}
	s.recordMutation(ctx, "resource.delete", "securable_item", id.String(), map[string]any{"grain": grain})
	return nil
}

func (s *Service) recordMutation(ctx context.Context, action, entity, entityID string, meta map[string]any) {
	if err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		Meta:     meta,
	}); err != nil && s.logger != nil {
		s.logger.Warn("audit record", slog.Any("error", err))
	}
	if err := s.cache.Bump(ctx); err != nil && s.logger != nil {
		s.logger.Warn("cache bump", slog.Any("error", err))
	}
}
