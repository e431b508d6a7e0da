package engine

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/warden-authz/warden/internal/authz"
)

// TaggedPermission is a permission reached through a role, tagged
// with that role's deny flag. A permission reachable through both an
// allowing and a denying role appears twice with both tags; conflict
// resolution is the merge step's job, not the expander's.
type TaggedPermission struct {
	Permission authz.Permission
	Deny       bool
	RoleID     uuid.UUID
	ChainIndex int
}

// ExpandPermissions retrieves the permissions attached to each role.
// Dangling permission references are skipped.
func (e *Engine) ExpandPermissions(ctx context.Context, roles []ScopedRole) ([]TaggedPermission, error) {
	var tagged []TaggedPermission
	for _, scoped := range roles {
		for _, permID := range scoped.Role.PermissionIDs {
			perm, err := e.getPermission(ctx, permID)
			if errors.Is(err, authz.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			tagged = append(tagged, TaggedPermission{
				Permission: *perm,
				Deny:       scoped.Role.Deny,
				RoleID:     scoped.Role.ID,
				ChainIndex: scoped.ChainIndex,
			})
		}
	}
	return tagged, nil
}

func (e *Engine) getPermission(ctx context.Context, id uuid.UUID) (*authz.Permission, error) {
	ctx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()
	perm, err := e.stores.Permissions.GetPermission(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return perm, nil
}
