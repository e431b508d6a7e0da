// Package groups manages group administration and membership.
package groups

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/warden-authz/warden/internal/authz"
	"github.com/warden-authz/warden/internal/engine"
	"github.com/warden-authz/warden/internal/shared"
)

// Service orchestrates group operations.
type Service struct {
	groups     authz.GroupStore
	roles      authz.RoleStore
	principals authz.PrincipalStore
	audit      *shared.AuditLogger
	cache      *engine.Cache
	logger     *slog.Logger
}

// NewService builds a Service instance.
func NewService(groups authz.GroupStore, roles authz.RoleStore, principals authz.PrincipalStore, audit *shared.AuditLogger, cache *engine.Cache, logger *slog.Logger) *Service {
	return &Service{groups: groups, roles: roles, principals: principals, audit: audit, cache: cache, logger: logger}
}

// CreateGroup inserts a group. Names are unique across the service.
func (s *Service) CreateGroup(ctx context.Context, name string) (authz.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return authz.Group{}, fmt.Errorf("%w: group name required", authz.ErrValidation)
	}
	now := time.Now().UTC()
	group := authz.Group{
		ID:        uuid.New(),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.groups.CreateGroup(ctx, group); err != nil {
		return authz.Group{}, err
	}
	s.recordMutation(ctx, "group.create", "group", group.ID.String(), map[string]any{"name": name})
	return group, nil
}

// GetGroup fetches a group by id.
func (s *Service) GetGroup(ctx context.Context, id uuid.UUID) (*authz.Group, error) {
	return s.groups.GetGroup(ctx, id)
}

// GetGroupByName fetches a group by its unique name.
func (s *Service) GetGroupByName(ctx context.Context, name string) (*authz.Group, error) {
	return s.groups.GetGroupByName(ctx, name)
}

// ListGroups returns all groups.
func (s *Service) ListGroups(ctx context.Context) ([]authz.Group, error) {
	return s.groups.ListGroups(ctx)
}

// DeleteGroup removes a group. Memberships referencing it become
// dangling and contribute nothing until the sweep job prunes them.
func (s *Service) DeleteGroup(ctx context.Context, id uuid.UUID) error {
	if err := s.groups.DeleteGroup(ctx, id); err != nil {
		return err
	}
	s.recordMutation(ctx, "group.delete", "group", id.String(), nil)
	return nil
}

// AddRoles assigns roles to a group. Every role id must resolve.
func (s *Service) AddRoles(ctx context.Context, groupID uuid.UUID, roleIDs []uuid.UUID) (authz.Group, error) {
	group, err := s.groups.GetGroup(ctx, groupID)
	if err != nil {
		return authz.Group{}, err
	}
	assigned := make(map[uuid.UUID]struct{}, len(group.RoleIDs))
	for _, id := range group.RoleIDs {
		assigned[id] = struct{}{}
	}
	for _, id := range roleIDs {
		if _, err := s.roles.GetRole(ctx, id); err != nil {
			if errors.Is(err, authz.ErrNotFound) {
				return authz.Group{}, fmt.Errorf("%w: role %s", authz.ErrNotFound, id)
			}
			return authz.Group{}, err
		}
		if _, ok := assigned[id]; !ok {
			assigned[id] = struct{}{}
			group.RoleIDs = append(group.RoleIDs, id)
		}
	}
	if err := s.groups.UpdateGroupRoles(ctx, groupID, group.RoleIDs); err != nil {
		return authz.Group{}, err
	}
	s.recordMutation(ctx, "group.add_roles", "group", groupID.String(), map[string]any{"count": len(roleIDs)})
	return *group, nil
}

// RemoveRoles unassigns roles from a group. Role ids not assigned are
// ignored.
func (s *Service) RemoveRoles(ctx context.Context, groupID uuid.UUID, roleIDs []uuid.UUID) (authz.Group, error) {
	group, err := s.groups.GetGroup(ctx, groupID)
	if err != nil {
		return authz.Group{}, err
	}
	drop := make(map[uuid.UUID]struct{}, len(roleIDs))
	for _, id := range roleIDs {
		drop[id] = struct{}{}
	}
	kept := make([]uuid.UUID, 0, len(group.RoleIDs))
	for _, id := range group.RoleIDs {
		if _, ok := drop[id]; !ok {
			kept = append(kept, id)
		}
	}
	group.RoleIDs = kept
	if err := s.groups.UpdateGroupRoles(ctx, groupID, group.RoleIDs); err != nil {
		return authz.Group{}, err
	}
	s.recordMutation(ctx, "group.remove_roles", "group", groupID.String(), map[string]any{"count": len(roleIDs)})
	return *group, nil
}

// AddMember enrolls a principal in a group. Adding an existing member
// is a no-op.
func (s *Service) AddMember(ctx context.Context, groupID uuid.UUID, key authz.PrincipalKey) error {
	if !key.Valid() {
		return fmt.Errorf("%w: invalid principal key", authz.ErrValidation)
	}
	if _, err := s.groups.GetGroup(ctx, groupID); err != nil {
		return err
	}
	principal, err := s.principals.GetPrincipal(ctx, key)
	if err != nil {
		return err
	}
	for _, id := range principal.GroupIDs {
		if id == groupID {
			return nil
		}
	}
	groupIDs := append(principal.GroupIDs, groupID)
	if err := s.principals.UpdatePrincipalGroups(ctx, key, groupIDs); err != nil {
		return err
	}
	s.recordMutation(ctx, "group.add_member", "group", groupID.String(), map[string]any{"principal": key.String()})
	return nil
}

// RemoveMember withdraws a principal from a group. Removing a
// non-member is a no-op.
func (s *Service) RemoveMember(ctx context.Context, groupID uuid.UUID, key authz.PrincipalKey) error {
	if !key.Valid() {
		return fmt.Errorf("%w: invalid principal key", authz.ErrValidation)
	}
	principal, err := s.principals.GetPrincipal(ctx, key)
	if err != nil {
		return err
	}
	kept := make([]uuid.UUID, 0, len(principal.GroupIDs))
	for _, id := range principal.GroupIDs {
		if id != groupID {
			kept = append(kept, id)
		}
	}
	if len(kept) == len(principal.GroupIDs) {
		return nil
	}
	if err := s.principals.UpdatePrincipalGroups(ctx, key, kept); err != nil {
		return err
	}
	s.recordMutation(ctx, "group.remove_member", "group", groupID.String(), map[string]any{"principal": key.String()})
	return nil
}

// ListMembers returns the principals enrolled in a group.
func (s *Service) ListMembers(ctx context.Context, groupID uuid.UUID) ([]authz.Principal, error) {
	if _, err := s.groups.GetGroup(ctx, groupID); err != nil {
		return nil, err
	}
	return s.principals.ListGroupMembers(ctx, groupID)
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
