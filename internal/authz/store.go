package authz

import (
	"context"

	"github.com/google/uuid"
)

// Store contracts are narrow per-entity-family interfaces. The
// resolution engine depends only on the read methods; the admin
// services use the write methods as well. Backends (memstore,
// pgstore) implement the same contracts and are selected by
// configuration.

// GrainStore persists grains.
type GrainStore interface {
	GetGrain(ctx context.Context, name string) (*Grain, error)
	ListGrains(ctx context.Context) ([]Grain, error)
	CreateGrain(ctx context.Context, grain Grain) error
	DeleteGrain(ctx context.Context, name string) error
}

// ResourceStore persists securable items.
type ResourceStore interface {
	GetResource(ctx context.Context, grain string, id uuid.UUID) (*SecurableItem, error)
	GetResourceByName(ctx context.Context, grain, name string) (*SecurableItem, error)
	ListChildren(ctx context.Context, grain string, parentID uuid.UUID) ([]SecurableItem, error)
	ListRoots(ctx context.Context, grain string) ([]SecurableItem, error)
	CreateResource(ctx context.Context, item SecurableItem) error
	DeleteResource(ctx context.Context, grain string, id uuid.UUID) error
}

// RoleStore persists roles and their permission attachments.
type RoleStore interface {
	GetRole(ctx context.Context, id uuid.UUID) (*Role, error)
	ListRolesByScope(ctx context.Context, grain string, securableItemID uuid.UUID) ([]Role, error)
	CreateRole(ctx context.Context, role Role) error
	UpdateRolePermissions(ctx context.Context, id uuid.UUID, permissionIDs []uuid.UUID) error
	DeleteRole(ctx context.Context, id uuid.UUID) error
}

// PermissionStore persists permissions.
type PermissionStore interface {
	GetPermission(ctx context.Context, id uuid.UUID) (*Permission, error)
	ListPermissionsByScope(ctx context.Context, grain string, securableItemID uuid.UUID) ([]Permission, error)
	CreatePermission(ctx context.Context, perm Permission) error
	DeletePermission(ctx context.Context, id uuid.UUID) error
}

// GroupStore persists groups and their role assignments.
type GroupStore interface {
	GetGroup(ctx context.Context, id uuid.UUID) (*Group, error)
	GetGroupByName(ctx context.Context, name string) (*Group, error)
	ListGroups(ctx context.Context) ([]Group, error)
	CreateGroup(ctx context.Context, group Group) error
	UpdateGroupRoles(ctx context.Context, id uuid.UUID, roleIDs []uuid.UUID) error
	DeleteGroup(ctx context.Context, id uuid.UUID) error
}

// PrincipalStore persists users and clients together with their
// assignments and overrides.
type PrincipalStore interface {
	GetPrincipal(ctx context.Context, key PrincipalKey) (*Principal, error)
	ListGroupMembers(ctx context.Context, groupID uuid.UUID) ([]Principal, error)
	CreatePrincipal(ctx context.Context, principal Principal) error
	UpdatePrincipalRoles(ctx context.Context, key PrincipalKey, roleIDs []uuid.UUID) error
	UpdatePrincipalGroups(ctx context.Context, key PrincipalKey, groupIDs []uuid.UUID) error
	UpdatePrincipalOverrides(ctx context.Context, key PrincipalKey, overrides []Override) error
	DeletePrincipal(ctx context.Context, key PrincipalKey) error
}

// Stores bundles one backend of every entity family.
type Stores struct {
	Grains      GrainStore
	Resources   ResourceStore
	Roles       RoleStore
	Permissions PermissionStore
	Groups      GroupStore
	Principals  PrincipalStore
}
