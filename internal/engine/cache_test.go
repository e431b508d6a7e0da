package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/warden-authz/warden/internal/authz"
	"github.com/warden-authz/warden/internal/engine"
)

func newTestCache(t *testing.T) *engine.Cache {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return engine.NewCache(client, time.Minute)
}

func TestCacheRoundTrip(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	key, err := cache.Key(ctx, "user:local:alice", "docs", uuid.NewString())
	require.NoError(t, err)

	var missed authz.EffectivePermissionSet
	hit, err := cache.Get(ctx, key, &missed)
	require.NoError(t, err)
	require.False(t, hit)

	stored := authz.EffectivePermissionSet{
		Principal:   authz.UserKey("local", "alice"),
		Grain:       "docs",
		Permissions: []string{"read", "write"},
	}
	require.NoError(t, cache.Set(ctx, key, stored))

	var loaded authz.EffectivePermissionSet
	hit, err = cache.Get(ctx, key, &loaded)
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, stored.Permissions, loaded.Permissions)
}

func TestCacheBumpChangesKeys(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	before, err := cache.Key(ctx, "user:local:alice", "docs", "r1")
	require.NoError(t, err)
	require.NoError(t, cache.Set(ctx, before, authz.EffectivePermissionSet{Permissions: []string{"read"}}))

	require.NoError(t, cache.Bump(ctx))

	after, err := cache.Key(ctx, "user:local:alice", "docs", "r1")
	require.NoError(t, err)
	require.NotEqual(t, before, after)

	var loaded authz.EffectivePermissionSet
	hit, err := cache.Get(ctx, after, &loaded)
	require.NoError(t, err)
	require.False(t, hit)
}

func TestCacheNilSafe(t *testing.T) {
	var cache *engine.Cache
	ctx := context.Background()

	key, err := cache.Key(ctx, "a", "b")
	require.NoError(t, err)
	require.NotEmpty(t, key)

	hit, err := cache.Get(ctx, key, &authz.EffectivePermissionSet{})
	require.NoError(t, err)
	require.False(t, hit)
	require.NoError(t, cache.Set(ctx, key, nil))
	require.NoError(t, cache.Bump(ctx))
}

func TestResolveUsesCacheUntilBump(t *testing.T) {
	f := newFixture(t)
	cache := newTestCache(t)
	eng := engine.New(f.store.Stores(), engine.Options{Cache: cache})
	ctx := context.Background()

	read := f.addPermission(f.workspace, "read")
	viewer := f.addRole(f.workspace, "viewer", false, read)
	key := f.addUser("alice", []uuid.UUID{viewer}, nil, nil)

	set, err := eng.Resolve(ctx, key, grainDocs, f.q3)
	require.NoError(t, err)
	require.Equal(t, []string{"read"}, set.Permissions)

	// The store changes underneath, but the cached result is served
	// until the version is bumped.
	require.NoError(t, f.store.UpdatePrincipalRoles(ctx, key, nil))

	set, err = eng.Resolve(ctx, key, grainDocs, f.q3)
	require.NoError(t, err)
	require.Equal(t, []string{"read"}, set.Permissions)

	require.NoError(t, cache.Bump(ctx))

	set, err = eng.Resolve(ctx, key, grainDocs, f.q3)
	require.NoError(t, err)
	require.Empty(t, set.Permissions)
}
