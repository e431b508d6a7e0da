// Package engine implements the permission resolution engine: it
// combines direct role assignments, group-inherited roles, and
// per-principal overrides into one effective permission set, scoped
// by grain and resource hierarchy.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/warden-authz/warden/internal/authz"
	"github.com/warden-authz/warden/internal/observability"
)

const (
	// DefaultMaxDepth bounds ancestor traversal against corrupt
	// hierarchies.
	DefaultMaxDepth = 32
	// DefaultStoreTimeout is the per-store-call deadline.
	DefaultStoreTimeout = 5 * time.Second
)

// Options configures an Engine. Cache, Logger, and Metrics are
// optional.
type Options struct {
	MaxDepth     int
	StoreTimeout time.Duration
	Cache        *Cache
	Logger       *slog.Logger
	Metrics      *observability.Metrics
}

// Engine orchestrates resolution. It holds no locks and performs
// read-only store access; mutations belong to the admin services.
type Engine struct {
	stores       authz.Stores
	cache        *Cache
	logger       *slog.Logger
	metrics      *observability.Metrics
	maxDepth     int
	storeTimeout time.Duration
	flight       singleflight.Group
}

// New constructs an Engine over the given store set.
func New(stores authz.Stores, opts Options) *Engine {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = DefaultStoreTimeout
	}
	return &Engine{
		stores:       stores,
		cache:        opts.Cache,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		maxDepth:     opts.MaxDepth,
		storeTimeout: opts.StoreTimeout,
	}
}

// Resolve computes the effective permission set for a principal on a
// resource. Identical concurrent queries are collapsed into a single
// computation; results may be served from the versioned cache.
//
// Error paths never grant access: the returned set is empty whenever
// err is non-nil.
func (e *Engine) Resolve(ctx context.Context, key authz.PrincipalKey, grain string, resourceID uuid.UUID) (authz.EffectivePermissionSet, error) {
	start := time.Now()
	result, err := e.resolve(ctx, key, grain, resourceID)
	if e.metrics != nil {
		e.metrics.ObserveResolution(outcomeLabel(err), time.Since(start))
	}
	if err != nil {
		return authz.EffectivePermissionSet{}, err
	}
	return result, nil
}

func (e *Engine) resolve(ctx context.Context, key authz.PrincipalKey, grain string, resourceID uuid.UUID) (authz.EffectivePermissionSet, error) {
	if !key.Valid() {
		return authz.EffectivePermissionSet{}, fmt.Errorf("%w: incomplete principal key", authz.ErrNotFound)
	}

	cacheKey := ""
	if e.cache != nil {
		built, err := e.cache.Key(ctx, key.String(), grain, resourceID.String())
		if err != nil {
			e.warn("resolution cache key", err)
		} else {
			cacheKey = built
			var cached authz.EffectivePermissionSet
			hit, err := e.cache.Get(ctx, cacheKey, &cached)
			if err != nil {
				e.warn("resolution cache get", err)
			}
			if e.metrics != nil {
				e.metrics.ObserveResolutionCache(hit)
			}
			if hit {
				return cached, nil
			}
		}
	}

	value, err, _ := e.flight.Do(key.String()+"\x00"+grain+"\x00"+resourceID.String(), func() (interface{}, error) {
		return e.compute(ctx, key, grain, resourceID)
	})
	if err != nil {
		return authz.EffectivePermissionSet{}, err
	}
	result := value.(authz.EffectivePermissionSet)

	if e.cache != nil && cacheKey != "" {
		if err := e.cache.Set(ctx, cacheKey, result); err != nil {
			e.warn("resolution cache set", err)
		}
	}
	return result, nil
}

func (e *Engine) compute(ctx context.Context, key authz.PrincipalKey, grain string, resourceID uuid.UUID) (authz.EffectivePermissionSet, error) {
	var (
		chain     []authz.SecurableItem
		principal *authz.Principal
	)

	// The ancestor chain and the principal record are disjoint reads;
	// the merge below is commutative over both, so ordering between
	// them is irrelevant.
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		chain, err = e.AncestorChain(groupCtx, grain, resourceID)
		return err
	})
	group.Go(func() error {
		var err error
		principal, err = e.getPrincipal(groupCtx, key)
		return err
	})
	if err := group.Wait(); err != nil {
		return authz.EffectivePermissionSet{}, err
	}

	roles, err := e.RolesFor(ctx, principal, grain, chain)
	if err != nil {
		return authz.EffectivePermissionSet{}, err
	}
	tagged, err := e.ExpandPermissions(ctx, roles)
	if err != nil {
		return authz.EffectivePermissionSet{}, err
	}

	return authz.EffectivePermissionSet{
		Principal:   key,
		Grain:       grain,
		ResourceID:  resourceID,
		Permissions: mergePermissions(tagged, principal.Overrides),
	}, nil
}

// mergePermissions applies the resolution policy: a role-derived name
// is allowed iff at least one allowing role grants it and no role
// denies it; overrides then apply with absolute precedence.
func mergePermissions(tagged []TaggedPermission, overrides []authz.Override) []string {
	allowed := make(map[string]struct{})
	denied := make(map[string]struct{})
	for _, tp := range tagged {
		if tp.Deny {
			denied[tp.Permission.Name] = struct{}{}
		} else {
			allowed[tp.Permission.Name] = struct{}{}
		}
	}
	for name := range denied {
		delete(allowed, name)
	}
	for _, override := range overrides {
		if override.Allow {
			allowed[override.Permission] = struct{}{}
		} else {
			delete(allowed, override.Permission)
		}
	}

	names := make([]string, 0, len(allowed))
	for name := range allowed {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// getPrincipal fetches the principal record; a missing principal is a
// hard not-found.
func (e *Engine) getPrincipal(ctx context.Context, key authz.PrincipalKey) (*authz.Principal, error) {
	ctx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()
	principal, err := e.stores.Principals.GetPrincipal(ctx, key)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return principal, nil
}

// mapStoreErr surfaces store deadline overruns as the dedicated
// timeout error so callers can apply their own retry policy.
func mapStoreErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return authz.ErrStoreTimeout
	}
	return err
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, authz.ErrNotFound):
		return "not_found"
	case errors.Is(err, authz.ErrCycleDetected):
		return "cycle"
	case errors.Is(err, authz.ErrStoreTimeout):
		return "store_timeout"
	default:
		return "error"
	}
}

func (e *Engine) warn(msg string, err error) {
	if e.logger != nil {
		e.logger.Warn(msg, slog.Any("error", err))
	}
}
