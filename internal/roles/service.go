// Package roles manages role and permission administration.
package roles

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

// Service orchestrates role and permission operations.
type Service struct {
	roles       authz.RoleStore
	permissions authz.PermissionStore
	resources   authz.ResourceStore
	audit       *shared.AuditLogger
	cache       *engine.Cache
	logger      *slog.Logger
}

// NewService builds a Service instance.
func NewService(roles authz.RoleStore, permissions authz.PermissionStore, resources authz.ResourceStore, audit *shared.AuditLogger, cache *engine.Cache, logger *slog.Logger) *Service {
	return &Service{roles: roles, permissions: permissions, resources: resources, audit: audit, cache: cache, logger: logger}
}

// CreateRole inserts a role scoped to one (grain, securable item)
// pair. The scope must exist.
func (s *Service) CreateRole(ctx context.Context, grain string, securableItemID uuid.UUID, name string, deny bool) (authz.Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return authz.Role{}, fmt.Errorf("%w: role name required", authz.ErrValidation)
	}
	if _, err := s.resources.GetResource(ctx, grain, securableItemID); err != nil {
		if errors.Is(err, authz.ErrNotFound) {
			return authz.Role{}, fmt.Errorf("%w: securable item %s in grain %q", authz.ErrNotFound, securableItemID, grain)
		}
		return authz.Role{}, err
	}
	role := authz.Role{
		ID:              uuid.New(),
		Grain:           grain,
		SecurableItemID: securableItemID,
		Name:            name,
		Deny:            deny,
	}
	if err := s.roles.CreateRole(ctx, role); err != nil {
		return authz.Role{}, err
	}
	s.recordMutation(ctx, "role.create", "role", role.ID.String(), map[string]any{"grain": grain, "name": name, "deny": deny})
	return role, nil
}

// GetRole fetches a role by id.
func (s *Service) GetRole(ctx context.Context, id uuid.UUID) (*authz.Role, error) {
	return s.roles.GetRole(ctx, id)
}

// ListRolesByScope returns the roles bound to one scope.
func (s *Service) ListRolesByScope(ctx context.Context, grain string, securableItemID uuid.UUID) ([]authz.Role, error) {
	return s.roles.ListRolesByScope(ctx, grain, securableItemID)
}

// DeleteRole removes a role. Assignments referencing the role become
// dangling and contribute nothing until the sweep job prunes them.
func (s *Service) DeleteRole(ctx context.Context, id uuid.UUID) error {
	if err := s.roles.DeleteRole(ctx, id); err != nil {
		return err
	}
	s.recordMutation(ctx, "role.delete", "role", id.String(), nil)
	return nil
}

// AttachPermissions adds permissions to a role. Every permission must
// share the role's exact scope.
func (s *Service) AttachPermissions(ctx context.Context, roleID uuid.UUID, permissionIDs []uuid.UUID) (authz.Role, error) {
	role, err := s.roles.GetRole(ctx, roleID)
	if err != nil {
		return authz.Role{}, err
	}
	attached := make(map[uuid.UUID]struct{}, len(role.PermissionIDs))
	for _, id := range role.PermissionIDs {
		attached[id] = struct{}{}
	}
	for _, id := range permissionIDs {
		perm, err := s.permissions.GetPermission(ctx, id)
		if err != nil {
			if errors.Is(err, authz.ErrNotFound) {
				return authz.Role{}, fmt.Errorf("%w: permission %s", authz.ErrNotFound, id)
			}
			return authz.Role{}, err
		}
		if perm.Grain != role.Grain || perm.SecurableItemID != role.SecurableItemID {
			return authz.Role{}, fmt.Errorf("%w: permission %q is scoped to a different grain or securable item", authz.ErrScopeMismatch, perm.Name)
		}
		if _, ok := attached[id]; !ok {
			attached[id] = struct{}{}
			role.PermissionIDs = append(role.PermissionIDs, id)
		}
	}
	if err := s.roles.UpdateRolePermissions(ctx, roleID, role.PermissionIDs); err != nil {
		return authz.Role{}, err
	}
	s.recordMutation(ctx, "role.attach_permissions", "role", roleID.String(), map[string]any{"count": len(permissionIDs)})
	return *role, nil
}

// DetachPermissions removes permissions from a role. Ids not attached
// are ignored.
func (s *Service) DetachPermissions(ctx context.Context, roleID uuid.UUID, permissionIDs []uuid.UUID) (authz.Role, error) {
	role, err := s.roles.GetRole(ctx, roleID)
	if err != nil {
		return authz.Role{}, err
	}
	drop := make(map[uuid.UUID]struct{}, len(permissionIDs))
	for _, id := range permissionIDs {
		drop[id] = struct{}{}
	}
	kept := make([]uuid.UUID, 0, len(role.PermissionIDs))
	for _, id := range role.PermissionIDs {
		if _, ok := drop[id]; !ok {
			kept = append(kept, id)
		}
	}
	role.PermissionIDs = kept
	if err := s.roles.UpdateRolePermissions(ctx, roleID, role.PermissionIDs); err != nil {
		return authz.Role{}, err
	}
	s.recordMutation(ctx, "role.detach_permissions", "role", roleID.String(), map[string]any{"count": len(permissionIDs)})
	return *role, nil
}

// CreatePermission inserts a permission scoped like a role.
func (s *Service) CreatePermission(ctx context.Context, grain string, securableItemID uuid.UUID, name string) (authz.Permission, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return authz.Permission{}, fmt.Errorf("%w: permission name required", authz.ErrValidation)
	}
	if _, err := s.resources.GetResource(ctx, grain, securableItemID); err != nil {
		if errors.Is(err, authz.ErrNotFound) {
			return authz.Permission{}, fmt.Errorf("%w: securable item %s in grain %q", authz.ErrNotFound, securableItemID, grain)
		}
		return authz.Permission{}, err
	}
	perm := authz.Permission{
		ID:              uuid.New(),
		Grain:           grain,
		SecurableItemID: securableItemID,
		Name:            name,
	}
	if err := s.permissions.CreatePermission(ctx, perm); err != nil {
		return authz.Permission{}, err
	}
	s.recordMutation(ctx, "permission.create", "permission", perm.ID.String(), map[string]any{"grain": grain, "name": name})
	return perm, nil
}

// ListPermissionsByScope returns the permissions of one scope.
func (s *Service) ListPermissionsByScope(ctx context.Context, grain string, securableItemID uuid.UUID) ([]authz.Permission, error) {
	return s.permissions.ListPermissionsByScope(ctx, grain, securableItemID)
}

// DeletePermission removes a permission. Roles still referencing it
// hold a dangling id that resolution skips.
func (s *Service) DeletePermission(ctx context.Context, id uuid.UUID) error {
	if err := s.permissions.DeletePermission(ctx, id); err != nil {
		return err
	}
	s.recordMutation(ctx, "permission.delete", "permission", id.String(), nil)
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
