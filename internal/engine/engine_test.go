package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/warden-authz/warden/internal/authz"
	"github.com/warden-authz/warden/internal/authz/memstore"
	"github.com/warden-authz/warden/internal/engine"
)

// fixture wires a memstore-backed engine with a small document
// hierarchy: workspace -> reports -> q3.
type fixture struct {
	t      *testing.T
	store  *memstore.Store
	engine *engine.Engine

	workspace uuid.UUID
	reports   uuid.UUID
	q3        uuid.UUID
}

const grainDocs = "docs"

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	f := &fixture{
		t:      t,
		store:  store,
		engine: engine.New(store.Stores(), engine.Options{}),
	}
	ctx := context.Background()
	require.NoError(t, store.CreateGrain(ctx, authz.Grain{Name: grainDocs}))
	f.workspace = f.addResource("workspace", nil)
	f.reports = f.addResource("reports", &f.workspace)
	f.q3 = f.addResource("q3", &f.reports)
	return f
}

func (f *fixture) addResource(name string, parent *uuid.UUID) uuid.UUID {
	f.t.Helper()
	id := uuid.New()
	require.NoError(f.t, f.store.CreateResource(context.Background(), authz.SecurableItem{
		ID:       id,
		Grain:    grainDocs,
		Name:     name,
		ParentID: parent,
	}))
	return id
}

func (f *fixture) addPermission(scope uuid.UUID, name string) uuid.UUID {
	f.t.Helper()
	id := uuid.New()
	require.NoError(f.t, f.store.CreatePermission(context.Background(), authz.Permission{
		ID:              id,
		Grain:           grainDocs,
		SecurableItemID: scope,
		Name:            name,
	}))
	return id
}

func (f *fixture) addRole(scope uuid.UUID, name string, deny bool, permIDs ...uuid.UUID) uuid.UUID {
	f.t.Helper()
	id := uuid.New()
	require.NoError(f.t, f.store.CreateRole(context.Background(), authz.Role{
		ID:              id,
		Grain:           grainDocs,
		SecurableItemID: scope,
		Name:            name,
		Deny:            deny,
		PermissionIDs:   permIDs,
	}))
	return id
}

func (f *fixture) addGroup(name string, roleIDs ...uuid.UUID) uuid.UUID {
	f.t.Helper()
	id := uuid.New()
	require.NoError(f.t, f.store.CreateGroup(context.Background(), authz.Group{
		ID:      id,
		Name:    name,
		RoleIDs: roleIDs,
	}))
	return id
}

func (f *fixture) addUser(subject string, roleIDs []uuid.UUID, groupIDs []uuid.UUID, overrides []authz.Override) authz.PrincipalKey {
	f.t.Helper()
	key := authz.UserKey("local", subject)
	require.NoError(f.t, f.store.CreatePrincipal(context.Background(), authz.Principal{
		Key:       key,
		RoleIDs:   roleIDs,
		GroupIDs:  groupIDs,
		Overrides: overrides,
	}))
	return key
}

func (f *fixture) resolve(key authz.PrincipalKey, resourceID uuid.UUID) (authz.EffectivePermissionSet, error) {
	return f.engine.Resolve(context.Background(), key, grainDocs, resourceID)
}

func TestResolveDenyWins(t *testing.T) {
	f := newFixture(t)
	read := f.addPermission(f.workspace, "read")
	write := f.addPermission(f.workspace, "write")
	del := f.addPermission(f.workspace, "delete")
	editor := f.addRole(f.workspace, "editor", false, read, write, del)
	blocked := f.addRole(f.workspace, "blocked", true, del)
	key := f.addUser("alice", []uuid.UUID{editor, blocked}, nil, nil)

	set, err := f.resolve(key, f.q3)
	require.NoError(t, err)
	require.Equal(t, []string{"read", "write"}, set.Permissions)
	require.True(t, set.Has("read"))
	require.False(t, set.Has("delete"))
}

func TestResolveOverrideBeatsRoleDeny(t *testing.T) {
	f := newFixture(t)
	read := f.addPermission(f.workspace, "read")
	del := f.addPermission(f.workspace, "delete")
	editor := f.addRole(f.workspace, "editor", false, read, del)
	blocked := f.addRole(f.workspace, "blocked", true, del)
	key := f.addUser("alice", []uuid.UUID{editor, blocked}, nil, []authz.Override{
		{Permission: "delete", Allow: true},
	})

	set, err := f.resolve(key, f.q3)
	require.NoError(t, err)
	require.Equal(t, []string{"delete", "read"}, set.Permissions)
}

func TestResolveDenyOverrideRemovesRoleGrant(t *testing.T) {
	f := newFixture(t)
	read := f.addPermission(f.workspace, "read")
	write := f.addPermission(f.workspace, "write")
	editor := f.addRole(f.workspace, "editor", false, read, write)
	key := f.addUser("bob", []uuid.UUID{editor}, nil, []authz.Override{
		{Permission: "write", Allow: false},
	})

	set, err := f.resolve(key, f.q3)
	require.NoError(t, err)
	require.Equal(t, []string{"read"}, set.Permissions)
}

func TestResolveAllowOverrideGrantsUnheldPermission(t *testing.T) {
	f := newFixture(t)
	key := f.addUser("carol", nil, nil, []authz.Override{
		{Permission: "export", Allow: true},
	})

	set, err := f.resolve(key, f.q3)
	require.NoError(t, err)
	require.Equal(t, []string{"export"}, set.Permissions)
}

func TestResolveDeterministic(t *testing.T) {
	f := newFixture(t)
	read := f.addPermission(f.workspace, "read")
	write := f.addPermission(f.workspace, "write")
	editor := f.addRole(f.workspace, "editor", false, write, read)
	key := f.addUser("alice", []uuid.UUID{editor}, nil, nil)

	first, err := f.resolve(key, f.q3)
	require.NoError(t, err)
	second, err := f.resolve(key, f.q3)
	require.NoError(t, err)
	require.Equal(t, first.Permissions, second.Permissions)
	require.Equal(t, []string{"read", "write"}, first.Permissions)
}

func TestResolveGroupEquivalentToDirect(t *testing.T) {
	f := newFixture(t)
	read := f.addPermission(f.workspace, "read")
	viewer := f.addRole(f.workspace, "viewer", false, read)
	group := f.addGroup("readers", viewer)

	direct := f.addUser("direct", []uuid.UUID{viewer}, nil, nil)
	viaGroup := f.addUser("member", nil, []uuid.UUID{group}, nil)

	directSet, err := f.resolve(direct, f.q3)
	require.NoError(t, err)
	groupSet, err := f.resolve(viaGroup, f.q3)
	require.NoError(t, err)
	require.Equal(t, directSet.Permissions, groupSet.Permissions)
}

func TestResolveDuplicatePathsCollapse(t *testing.T) {
	f := newFixture(t)
	read := f.addPermission(f.workspace, "read")
	viewer := f.addRole(f.workspace, "viewer", false, read)
	groupA := f.addGroup("a", viewer)
	groupB := f.addGroup("b", viewer)
	key := f.addUser("alice", []uuid.UUID{viewer}, []uuid.UUID{groupA, groupB}, nil)

	set, err := f.resolve(key, f.q3)
	require.NoError(t, err)
	require.Equal(t, []string{"read"}, set.Permissions)
}

func TestResolveEmptyWithoutAssignments(t *testing.T) {
	f := newFixture(t)
	key := f.addUser("nobody", nil, nil, nil)

	set, err := f.resolve(key, f.q3)
	require.NoError(t, err)
	require.Empty(t, set.Permissions)
	require.Equal(t, key, set.Principal)
	require.Equal(t, grainDocs, set.Grain)
}

func TestResolveInheritsThroughHierarchy(t *testing.T) {
	f := newFixture(t)
	read := f.addPermission(f.workspace, "read")
	edit := f.addPermission(f.reports, "edit")
	rootViewer := f.addRole(f.workspace, "viewer", false, read)
	folderEditor := f.addRole(f.reports, "editor", false, edit)
	key := f.addUser("alice", []uuid.UUID{rootViewer, folderEditor}, nil, nil)

	// Leaf sees both ancestors' roles.
	set, err := f.resolve(key, f.q3)
	require.NoError(t, err)
	require.Equal(t, []string{"edit", "read"}, set.Permissions)

	// The root only matches its own scope.
	set, err = f.resolve(key, f.workspace)
	require.NoError(t, err)
	require.Equal(t, []string{"read"}, set.Permissions)
}

func TestResolveIgnoresSiblingScopes(t *testing.T) {
	f := newFixture(t)
	archive := f.addResource("archive", &f.workspace)
	purge := f.addPermission(archive, "purge")
	archivist := f.addRole(archive, "archivist", false, purge)
	key := f.addUser("alice", []uuid.UUID{archivist}, nil, nil)

	// q3 descends from reports, not archive.
	set, err := f.resolve(key, f.q3)
	require.NoError(t, err)
	require.Empty(t, set.Permissions)

	set, err = f.resolve(key, archive)
	require.NoError(t, err)
	require.Equal(t, []string{"purge"}, set.Permissions)
}

func TestResolveIgnoresOtherGrains(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.CreateGrain(context.Background(), authz.Grain{Name: "apps"}))
	appRoot := uuid.New()
	require.NoError(t, f.store.CreateResource(context.Background(), authz.SecurableItem{
		ID:    appRoot,
		Grain: "apps",
		Name:  "portal",
	}))
	launch := uuid.New()
	require.NoError(t, f.store.CreatePermission(context.Background(), authz.Permission{
		ID:              launch,
		Grain:           "apps",
		SecurableItemID: appRoot,
		Name:            "launch",
	}))
	appRole := uuid.New()
	require.NoError(t, f.store.CreateRole(context.Background(), authz.Role{
		ID:              appRole,
		Grain:           "apps",
		SecurableItemID: appRoot,
		Name:            "launcher",
		PermissionIDs:   []uuid.UUID{launch},
	}))
	key := f.addUser("alice", []uuid.UUID{appRole}, nil, nil)

	set, err := f.resolve(key, f.q3)
	require.NoError(t, err)
	require.Empty(t, set.Permissions)
}

func TestResolveUnknownResource(t *testing.T) {
	f := newFixture(t)
	key := f.addUser("alice", nil, nil, nil)

	_, err := f.resolve(key, uuid.New())
	require.ErrorIs(t, err, authz.ErrNotFound)
}

func TestResolveUnknownPrincipal(t *testing.T) {
	f := newFixture(t)

	_, err := f.resolve(authz.UserKey("local", "ghost"), f.q3)
	require.ErrorIs(t, err, authz.ErrNotFound)
}

func TestResolveInvalidPrincipalKey(t *testing.T) {
	f := newFixture(t)

	_, err := f.resolve(authz.PrincipalKey{}, f.q3)
	require.ErrorIs(t, err, authz.ErrNotFound)
}

func TestResolveCycleDetected(t *testing.T) {
	f := newFixture(t)
	// Two items pointing at each other; the walk must bail out at the
	// depth bound instead of looping.
	a, b := uuid.New(), uuid.New()
	require.NoError(t, f.store.CreateResource(context.Background(), authz.SecurableItem{
		ID: a, Grain: grainDocs, Name: "loop-a", ParentID: &b,
	}))
	require.NoError(t, f.store.CreateResource(context.Background(), authz.SecurableItem{
		ID: b, Grain: grainDocs, Name: "loop-b", ParentID: &a,
	}))
	key := f.addUser("alice", nil, nil, nil)

	_, err := f.resolve(key, a)
	require.ErrorIs(t, err, authz.ErrCycleDetected)
}

func TestResolveSkipsDanglingReferences(t *testing.T) {
	f := newFixture(t)
	read := f.addPermission(f.workspace, "read")
	viewer := f.addRole(f.workspace, "viewer", false, read, uuid.New())
	key := f.addUser("alice",
		[]uuid.UUID{viewer, uuid.New()},
		[]uuid.UUID{uuid.New()},
		nil)

	set, err := f.resolve(key, f.q3)
	require.NoError(t, err)
	require.Equal(t, []string{"read"}, set.Permissions)
}

func TestResolveDanglingParentTreatedAsRoot(t *testing.T) {
	f := newFixture(t)
	deleted := uuid.New()
	orphan := f.addResource("orphan", &deleted)
	read := f.addPermission(orphan, "read")
	viewer := f.addRole(orphan, "viewer", false, read)
	key := f.addUser("alice", []uuid.UUID{viewer}, nil, nil)

	set, err := f.resolve(key, orphan)
	require.NoError(t, err)
	require.Equal(t, []string{"read"}, set.Permissions)
}

// stalledPrincipalStore blocks until the per-call deadline fires.
type stalledPrincipalStore struct {
	authz.PrincipalStore
}

func (s stalledPrincipalStore) GetPrincipal(ctx context.Context, key authz.PrincipalKey) (*authz.Principal, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestResolveStoreTimeout(t *testing.T) {
	f := newFixture(t)
	stores := f.store.Stores()
	stores.Principals = stalledPrincipalStore{PrincipalStore: f.store}
	eng := engine.New(stores, engine.Options{StoreTimeout: 20 * time.Millisecond})
	key := f.addUser("alice", nil, nil, nil)

	_, err := eng.Resolve(context.Background(), key, grainDocs, f.q3)
	require.ErrorIs(t, err, authz.ErrStoreTimeout)
}

func TestAncestorChainOrder(t *testing.T) {
	f := newFixture(t)

	chain, err := f.engine.AncestorChain(context.Background(), grainDocs, f.q3)
	require.NoError(t, err)
	require.Len(t, chain, 3)
	require.Equal(t, f.workspace, chain[0].ID)
	require.Equal(t, f.reports, chain[1].ID)
	require.Equal(t, f.q3, chain[2].ID)
}

func TestAncestorChainSingleNode(t *testing.T) {
	f := newFixture(t)

	chain, err := f.engine.AncestorChain(context.Background(), grainDocs, f.workspace)
	require.NoError(t, err)
	require.Len(t, chain, 1)
	require.Equal(t, f.workspace, chain[0].ID)
}

func TestRolesForChainIndex(t *testing.T) {
	f := newFixture(t)
	read := f.addPermission(f.workspace, "read")
	edit := f.addPermission(f.reports, "edit")
	rootViewer := f.addRole(f.workspace, "viewer", false, read)
	folderEditor := f.addRole(f.reports, "editor", false, edit)
	key := f.addUser("alice", []uuid.UUID{rootViewer, folderEditor}, nil, nil)

	ctx := context.Background()
	principal, err := f.store.GetPrincipal(ctx, key)
	require.NoError(t, err)
	chain, err := f.engine.AncestorChain(ctx, grainDocs, f.q3)
	require.NoError(t, err)
	roles, err := f.engine.RolesFor(ctx, principal, grainDocs, chain)
	require.NoError(t, err)
	require.Len(t, roles, 2)

	byName := map[string]int{}
	for _, scoped := range roles {
		byName[scoped.Role.Name] = scoped.ChainIndex
	}
	require.Equal(t, 0, byName["viewer"])
	require.Equal(t, 1, byName["editor"])
}

func TestExpandPermissionsKeepsBothTags(t *testing.T) {
	f := newFixture(t)
	del := f.addPermission(f.workspace, "delete")
	editor := f.addRole(f.workspace, "editor", false, del)
	blocked := f.addRole(f.workspace, "blocked", true, del)
	key := f.addUser("alice", []uuid.UUID{editor, blocked}, nil, nil)

	ctx := context.Background()
	principal, err := f.store.GetPrincipal(ctx, key)
	require.NoError(t, err)
	chain, err := f.engine.AncestorChain(ctx, grainDocs, f.q3)
	require.NoError(t, err)
	roles, err := f.engine.RolesFor(ctx, principal, grainDocs, chain)
	require.NoError(t, err)
	tagged, err := f.engine.ExpandPermissions(ctx, roles)
	require.NoError(t, err)

	require.Len(t, tagged, 2)
	denies := 0
	for _, tp := range tagged {
		require.Equal(t, "delete", tp.Permission.Name)
		if tp.Deny {
			denies++
		}
	}
	require.Equal(t, 1, denies)
}

func TestOverridesFor(t *testing.T) {
	f := newFixture(t)
	key := f.addUser("alice", nil, nil, []authz.Override{
		{Permission: "read", Allow: true},
		{Permission: "delete", Allow: false},
	})

	overrides, err := f.engine.OverridesFor(context.Background(), key)
	require.NoError(t, err)
	require.Len(t, overrides, 2)

	_, err = f.engine.OverridesFor(context.Background(), authz.UserKey("local", "ghost"))
	require.ErrorIs(t, err, authz.ErrNotFound)
}
