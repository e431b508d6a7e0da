// Package memstore provides mutex-guarded in-memory implementations
// of the authz store contracts. It backs the inmemory storage
// provider and the unit tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warden-authz/warden/internal/authz"
)

// Store holds every entity family behind a single RWMutex. Reads
// return copies so callers never observe concurrent mutation.
type Store struct {
	mu         sync.RWMutex
	grains     map[string]authz.Grain
	resources  map[uuid.UUID]authz.SecurableItem
	roles      map[uuid.UUID]authz.Role
	perms      map[uuid.UUID]authz.Permission
	groups     map[uuid.UUID]authz.Group
	principals map[authz.PrincipalKey]authz.Principal
}

// New returns an empty store.
func New() *Store {
	return &Store{
		grains:     make(map[string]authz.Grain),
		resources:  make(map[uuid.UUID]authz.SecurableItem),
		roles:      make(map[uuid.UUID]authz.Role),
		perms:      make(map[uuid.UUID]authz.Permission),
		groups:     make(map[uuid.UUID]authz.Group),
		principals: make(map[authz.PrincipalKey]authz.Principal),
	}
}

// Stores bundles the same instance as every entity family backend.
func (s *Store) Stores() authz.Stores {
	return authz.Stores{
		Grains:      s,
		Resources:   s,
		Roles:       s,
		Permissions: s,
		Groups:      s,
		Principals:  s,
	}
}

// GetGrain fetches a grain by name.
func (s *Store) GetGrain(ctx context.Context, name string) (*authz.Grain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	grain, ok := s.grains[name]
	if !ok {
		return nil, authz.ErrNotFound
	}
	return &grain, nil
}

// ListGrains returns all grains.
func (s *Store) ListGrains(ctx context.Context) ([]authz.Grain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]authz.Grain, 0, len(s.grains))
	for _, grain := range s.grains {
		out = append(out, grain)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// CreateGrain inserts a grain.
func (s *Store) CreateGrain(ctx context.Context, grain authz.Grain) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.grains[grain.Name]; ok {
		return authz.ErrDuplicate
	}
	if grain.CreatedAt.IsZero() {
		grain.CreatedAt = time.Now().UTC()
	}
	s.grains[grain.Name] = grain
	return nil
}

// DeleteGrain removes a grain by name.
func (s *Store) DeleteGrain(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.grains[name]; !ok {
		return authz.ErrNotFound
	}
	delete(s.grains, name)
	return nil
}

// GetResource fetches a securable item by grain and id.
func (s *Store) GetResource(ctx context.Context, grain string, id uuid.UUID) (*authz.SecurableItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.resources[id]
	if !ok || item.Grain != grain {
		return nil, authz.ErrNotFound
	}
	return copyResource(item), nil
}

// GetResourceByName fetches a securable item by grain and name.
func (s *Store) GetResourceByName(ctx context.Context, grain, name string) (*authz.SecurableItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, item := range s.resources {
		if item.Grain == grain && item.Name == name {
			return copyResource(item), nil
		}
	}
	return nil, authz.ErrNotFound
}

// ListChildren returns the direct children of a securable item.
func (s *Store) ListChildren(ctx context.Context, grain string, parentID uuid.UUID) ([]authz.SecurableItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []authz.SecurableItem
	for _, item := range s.resources {
		if item.Grain == grain && item.ParentID != nil && *item.ParentID == parentID {
			out = append(out, *copyResource(item))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ListRoots returns the top-level securable items of a grain.
func (s *Store) ListRoots(ctx context.Context, grain string) ([]authz.SecurableItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []authz.SecurableItem
	for _, item := range s.resources {
		if item.Grain == grain && item.ParentID == nil {
			out = append(out, *copyResource(item))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// CreateResource inserts a securable item.
func (s *Store) CreateResource(ctx context.Context, item authz.SecurableItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.resources[item.ID]; ok {
		return authz.ErrDuplicate
	}
	for _, existing := range s.resources {
		if existing.Grain == item.Grain && existing.Name == item.Name {
			return authz.ErrDuplicate
		}
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	s.resources[item.ID] = *copyResource(item)
	return nil
}

// DeleteResource removes a securable item.
func (s *Store) DeleteResource(ctx context.Context, grain string, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.resources[id]
	if !ok || item.Grain != grain {
		return authz.ErrNotFound
	}
	delete(s.resources, id)
	return nil
}

// GetRole fetches a role by id.
func (s *Store) GetRole(ctx context.Context, id uuid.UUID) (*authz.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	role, ok := s.roles[id]
	if !ok {
		return nil, authz.ErrNotFound
	}
	return copyRole(role), nil
}

// ListRolesByScope returns the roles bound to one (grain, item) pair.
func (s *Store) ListRolesByScope(ctx context.Context, grain string, securableItemID uuid.UUID) ([]authz.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []authz.Role
	for _, role := range s.roles {
		if role.Grain == grain && role.SecurableItemID == securableItemID {
			out = append(out, *copyRole(role))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// CreateRole inserts a role.
func (s *Store) CreateRole(ctx context.Context, role authz.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[role.ID]; ok {
		return authz.ErrDuplicate
	}
	for _, existing := range s.roles {
		if existing.Grain == role.Grain && existing.SecurableItemID == role.SecurableItemID && existing.Name == role.Name {
			return authz.ErrDuplicate
		}
	}
	now := time.Now().UTC()
	if role.CreatedAt.IsZero() {
		role.CreatedAt = now
	}
	role.UpdatedAt = now
	s.roles[role.ID] = *copyRole(role)
	return nil
}

// UpdateRolePermissions replaces a role's permission attachments.
func (s *Store) UpdateRolePermissions(ctx context.Context, id uuid.UUID, permissionIDs []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[id]
	if !ok {
		return authz.ErrNotFound
	}
	role.PermissionIDs = append([]uuid.UUID(nil), permissionIDs...)
	role.UpdatedAt = time.Now().UTC()
	s.roles[id] = role
	return nil
}

// DeleteRole removes a role by id.
func (s *Store) DeleteRole(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[id]; !ok {
		return authz.ErrNotFound
	}
	delete(s.roles, id)
	return nil
}

// GetPermission fetches a permission by id.
func (s *Store) GetPermission(ctx context.Context, id uuid.UUID) (*authz.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	perm, ok := s.perms[id]
	if !ok {
		return nil, authz.ErrNotFound
	}
	return &perm, nil
}

// ListPermissionsByScope returns the permissions of one scope.
func (s *Store) ListPermissionsByScope(ctx context.Context, grain string, securableItemID uuid.UUID) ([]authz.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []authz.Permission
	for _, perm := range s.perms {
		if perm.Grain == grain && perm.SecurableItemID == securableItemID {
			out = append(out, perm)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// CreatePermission inserts a permission.
func (s *Store) CreatePermission(ctx context.Context, perm authz.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.perms[perm.ID]; ok {
		return authz.ErrDuplicate
	}
	for _, existing := range s.perms {
		if existing.Grain == perm.Grain && existing.SecurableItemID == perm.SecurableItemID && existing.Name == perm.Name {
			return authz.ErrDuplicate
		}
	}
	if perm.CreatedAt.IsZero() {
		perm.CreatedAt = time.Now().UTC()
	}
	s.perms[perm.ID] = perm
	return nil
}

// DeletePermission removes a permission by id.
func (s *Store) DeletePermission(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.perms[id]; !ok {
		return authz.ErrNotFound
	}
	delete(s.perms, id)
	return nil
}

// GetGroup fetches a group by id.
func (s *Store) GetGroup(ctx context.Context, id uuid.UUID) (*authz.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	group, ok := s.groups[id]
	if !ok {
		return nil, authz.ErrNotFound
	}
	return copyGroup(group), nil
}

// GetGroupByName fetches a group by its unique name.
func (s *Store) GetGroupByName(ctx context.Context, name string) (*authz.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, group := range s.groups {
		if group.Name == name {
			return copyGroup(group), nil
		}
	}
	return nil, authz.ErrNotFound
}

// ListGroups returns all groups.
func (s *Store) ListGroups(ctx context.Context) ([]authz.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]authz.Group, 0, len(s.groups))
	for _, group := range s.groups {
		out = append(out, *copyGroup(group))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// CreateGroup inserts a group.
func (s *Store) CreateGroup(ctx context.Context, group authz.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[group.ID]; ok {
		return authz.ErrDuplicate
	}
	for _, existing := range s.groups {
		if existing.Name == group.Name {
			return authz.ErrDuplicate
		}
	}
	now := time.Now().UTC()
	if group.CreatedAt.IsZero() {
		group.CreatedAt = now
	}
	group.UpdatedAt = now
	s.groups[group.ID] = *copyGroup(group)
	return nil
}

// UpdateGroupRoles replaces a group's role assignments.
func (s *Store) UpdateGroupRoles(ctx context.Context, id uuid.UUID, roleIDs []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	group, ok := s.groups[id]
	if !ok {
		return authz.ErrNotFound
	}
	group.RoleIDs = append([]uuid.UUID(nil), roleIDs...)
	group.UpdatedAt = time.Now().UTC()
	s.groups[id] = group
	return nil
}

// DeleteGroup removes a group by id.
func (s *Store) DeleteGroup(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[id]; !ok {
		return authz.ErrNotFound
	}
	delete(s.groups, id)
	return nil
}

// GetPrincipal fetches a principal by key.
func (s *Store) GetPrincipal(ctx context.Context, key authz.PrincipalKey) (*authz.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	principal, ok := s.principals[key]
	if !ok {
		return nil, authz.ErrNotFound
	}
	return copyPrincipal(principal), nil
}

// ListGroupMembers returns the principals belonging to a group.
func (s *Store) ListGroupMembers(ctx context.Context, groupID uuid.UUID) ([]authz.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []authz.Principal
	for _, principal := range s.principals {
		for _, id := range principal.GroupIDs {
			if id == groupID {
				out = append(out, *copyPrincipal(principal))
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out, nil
}

// CreatePrincipal inserts a principal.
func (s *Store) CreatePrincipal(ctx context.Context, principal authz.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.principals[principal.Key]; ok {
		return authz.ErrDuplicate
	}
	now := time.Now().UTC()
	if principal.CreatedAt.IsZero() {
		principal.CreatedAt = now
	}
	principal.UpdatedAt = now
	s.principals[principal.Key] = *copyPrincipal(principal)
	return nil
}

// UpdatePrincipalRoles replaces a principal's direct role ids.
func (s *Store) UpdatePrincipalRoles(ctx context.Context, key authz.PrincipalKey, roleIDs []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	principal, ok := s.principals[key]
	if !ok {
		return authz.ErrNotFound
	}
	principal.RoleIDs = append([]uuid.UUID(nil), roleIDs...)
	principal.UpdatedAt = time.Now().UTC()
	s.principals[key] = principal
	return nil
}

// UpdatePrincipalGroups replaces a principal's group memberships.
func (s *Store) UpdatePrincipalGroups(ctx context.Context, key authz.PrincipalKey, groupIDs []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	principal, ok := s.principals[key]
	if !ok {
		return authz.ErrNotFound
	}
	principal.GroupIDs = append([]uuid.UUID(nil), groupIDs...)
	principal.UpdatedAt = time.Now().UTC()
	s.principals[key] = principal
	return nil
}

// UpdatePrincipalOverrides replaces a principal's overrides.
func (s *Store) UpdatePrincipalOverrides(ctx context.Context, key authz.PrincipalKey, overrides []authz.Override) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	principal, ok := s.principals[key]
	if !ok {
		return authz.ErrNotFound
	}
	principal.Overrides = append([]authz.Override(nil), overrides...)
	principal.UpdatedAt = time.Now().UTC()
	s.principals[key] = principal
	return nil
}

// DeletePrincipal removes a principal by key.
func (s *Store) DeletePrincipal(ctx context.Context, key authz.PrincipalKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.principals[key]; !ok {
		return authz.ErrNotFound
	}
	delete(s.principals, key)
	return nil
}

func copyResource(item authz.SecurableItem) *authz.SecurableItem {
	out := item
	if item.ParentID != nil {
		parent := *item.ParentID
		out.ParentID = &parent
	}
	return &out
}

func copyRole(role authz.Role) *authz.Role {
	out := role
	out.PermissionIDs = append([]uuid.UUID(nil), role.PermissionIDs...)
	return &out
}

func copyGroup(group authz.Group) *authz.Group {
	out := group
	out.RoleIDs = append([]uuid.UUID(nil), group.RoleIDs...)
	return &out
}

func copyPrincipal(principal authz.Principal) *authz.Principal {
	out := principal
	out.RoleIDs = append([]uuid.UUID(nil), principal.RoleIDs...)
	out.GroupIDs = append([]uuid.UUID(nil), principal.GroupIDs...)
	out.Overrides = append([]authz.Override(nil), principal.Overrides...)
	return &out
}
