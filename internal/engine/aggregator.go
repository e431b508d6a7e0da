package engine

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/warden-authz/warden/internal/authz"
)

// ScopedRole is a role that matched the query scope, together with
// the ancestor-chain position that bound it. ChainIndex is not used
// by the additive deny-wins policy but is threaded through for audit
// and for a future nearest-wins policy.
type ScopedRole struct {
	Role       authz.Role
	ChainIndex int
}

// RolesFor returns every role the principal holds, directly or via
// group membership, whose (grain, securable item) scope matches a
// node in the ancestor chain. A role reachable through multiple paths
// appears once. Dangling role or group references contribute nothing;
// they are skipped rather than failing the query.
func (e *Engine) RolesFor(ctx context.Context, principal *authz.Principal, grain string, chain []authz.SecurableItem) ([]ScopedRole, error) {
	chainIndex := make(map[uuid.UUID]int, len(chain))
	for i, item := range chain {
		chainIndex[item.ID] = i
	}

	candidates := make([]uuid.UUID, 0, len(principal.RoleIDs))
	seen := make(map[uuid.UUID]struct{}, len(principal.RoleIDs))
	appendID := func(id uuid.UUID) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		candidates = append(candidates, id)
	}
	for _, id := range principal.RoleIDs {
		appendID(id)
	}
	for _, groupID := range principal.GroupIDs {
		group, err := e.getGroup(ctx, groupID)
		if errors.Is(err, authz.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, id := range group.RoleIDs {
			appendID(id)
		}
	}

	var scoped []ScopedRole
	for _, id := range candidates {
		role, err := e.getRole(ctx, id)
		if errors.Is(err, authz.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if role.Grain != grain {
			continue
		}
		index, ok := chainIndex[role.SecurableItemID]
		if !ok {
			continue
		}
		scoped = append(scoped, ScopedRole{Role: *role, ChainIndex: index})
	}
	return scoped, nil
}

func (e *Engine) getGroup(ctx context.Context, id uuid.UUID) (*authz.Group, error) {
	ctx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()
	group, err := e.stores.Groups.GetGroup(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return group, nil
}

func (e *Engine) getRole(ctx context.Context, id uuid.UUID) (*authz.Role, error) {
	ctx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()
	role, err := e.stores.Roles.GetRole(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return role, nil
}
