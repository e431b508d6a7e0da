package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/warden-authz/warden/internal/authz"
)

// AncestorChain walks parent references from the requested securable
// item up to its root and returns the chain ordered root first,
// requested item last. A missing item is a hard not-found; exceeding
// the depth bound reports a cycle. A dangling parent reference
// terminates the walk, treating the last reachable item as the root
// (tolerant read, see RolesFor).
func (e *Engine) AncestorChain(ctx context.Context, grain string, resourceID uuid.UUID) ([]authz.SecurableItem, error) {
	item, err := e.getResource(ctx, grain, resourceID)
	if err != nil {
		if errors.Is(err, authz.ErrNotFound) {
			return nil, fmt.Errorf("%w: resource %s in grain %q", authz.ErrNotFound, resourceID, grain)
		}
		return nil, err
	}

	chain := []authz.SecurableItem{*item}
	for depth := 0; item.ParentID != nil; depth++ {
		if depth >= e.maxDepth {
			return nil, fmt.Errorf("%w: traversal exceeded %d levels at resource %s", authz.ErrCycleDetected, e.maxDepth, item.ID)
		}
		parent, err := e.getResource(ctx, grain, *item.ParentID)
		if errors.Is(err, authz.ErrNotFound) {
			break
		}
		if err != nil {
			return nil, err
		}
		chain = append(chain, *parent)
		item = parent
	}

	// Reverse in place: the walk collected leaf to root.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

func (e *Engine) getResource(ctx context.Context, grain string, id uuid.UUID) (*authz.SecurableItem, error) {
	ctx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()
	item, err := e.stores.Resources.GetResource(ctx, grain, id)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return item, nil
}
