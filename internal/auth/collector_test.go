package auth

import (
	"context"
	"sync"
	"testing"

	"gitforge.org/internal/eventbus"
)

func seededStores() *MemoryStores {
	mem := NewMemoryStores()
	mem.PutUser(&User{Name: "trillian", Active: true})
	mem.PutUser(&User{Name: "marvin", Active: true})
	mem.PutGroup(&Group{Name: "crew", Members: []string{"trillian", "marvin"}})
	mem.PutRepository(&Repository{
		ID:        "42",
		Namespace: "hitchhikers",
		Name:      "guide",
		Permissions: []RepositoryPermission{
			{Name: "trillian", Verbs: []string{"read", "write"}},
			{Name: "crew", Group: true, Verbs: []string{"read"}},
			{Name: "ford", Verbs: nil},
		},
	})
	return mem
}

func TestCollectAdminShortCircuit(t *testing.T) {
	mem := seededStores()
	stores := mem.Stores()
	collector := NewCollector(stores.Repositories, stores.Grants)

	info, err := collector.Collect(context.Background(), &User{Name: "root", Admin: true}, nil)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if !info.HasRole(RoleAdmin) || !info.HasRole(RoleUser) {
		t.Fatalf("admin roles missing: %v", info.Roles)
	}
	if !info.IsPermitted("repository:delete:any") {
		t.Fatal("admin must hold the match-all permission")
	}
}

func TestCollectGathersPermissions(t *testing.T) {
	mem := seededStores()
	stores := mem.Stores()
	ctx := context.Background()
	if err := stores.Grants.Add(ctx, &AssignedPermission{
		Name: "trillian", Permission: "configuration:read:global",
	}); err != nil {
		t.Fatalf("add grant: %v", err)
	}
	if err := stores.Grants.Add(ctx, &AssignedPermission{
		Name: "crew", Group: true, Permission: "repository:create",
	}); err != nil {
		t.Fatalf("add grant: %v", err)
	}
	collector := NewCollector(stores.Repositories, stores.Grants)

	user, _ := stores.Users.Get(ctx, "trillian")
	info, err := collector.Collect(ctx, user, []string{"crew"})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	for _, want := range []string{
		"repository:read:42",
		"repository:write:42",
		"configuration:read:global",
		"repository:create",
		"user:read:trillian",
		"user:changePassword:trillian",
	} {
		if !info.IsPermitted(want) {
			t.Fatalf("expected %q to be permitted, have %v", want, info.Permissions)
		}
	}
	if info.IsPermitted("repository:delete:42") {
		t.Fatalf("delete must not be permitted, have %v", info.Permissions)
	}
	if info.HasRole(RoleAdmin) {
		t.Fatal("plain user must not hold admin role")
	}
}

func TestCollectSkipsEmptyVerbs(t *testing.T) {
	mem := seededStores()
	stores := mem.Stores()
	collector := NewCollector(stores.Repositories, stores.Grants)

	info, err := collector.Collect(context.Background(), &User{Name: "ford", Active: true}, nil)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if info.IsPermitted("repository:read:42") {
		t.Fatalf("empty verb list must grant nothing, have %v", info.Permissions)
	}
}

func TestCollectCachesPerUserAndGroups(t *testing.T) {
	mem := seededStores()
	stores := mem.Stores()
	ctx := context.Background()
	collector := NewCollector(stores.Repositories, stores.Grants)

	user, _ := stores.Users.Get(ctx, "trillian")
	first, err := collector.Collect(ctx, user, []string{"crew"})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	second, err := collector.Collect(ctx, user, []string{"crew"})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if first != second {
		t.Fatal("expected the cached instance on the second call")
	}

	// Different group set, different cache entry.
	third, err := collector.Collect(ctx, user, nil)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if third == first {
		t.Fatal("group change must produce a distinct entry")
	}
}

func TestCollectorInvalidationPolicy(t *testing.T) {
	mem := seededStores()
	stores := mem.Stores()
	ctx := context.Background()
	bus := eventbus.New()
	collector := NewCollector(stores.Repositories, stores.Grants)
	collector.Subscribe(bus)

	trillian, _ := stores.Users.Get(ctx, "trillian")
	marvin, _ := stores.Users.Get(ctx, "marvin")

	fill := func() (*AuthorizationInfo, *AuthorizationInfo) {
		a, err := collector.Collect(ctx, trillian, []string{"crew"})
		if err != nil {
			t.Fatalf("collect: %v", err)
		}
		b, err := collector.Collect(ctx, marvin, []string{"crew"})
		if err != nil {
			t.Fatalf("collect: %v", err)
		}
		return a, b
	}
	cachedFor := func(u *User, prev *AuthorizationInfo) bool {
		got, err := collector.Collect(ctx, u, []string{"crew"})
		if err != nil {
			t.Fatalf("collect: %v", err)
		}
		return got == prev
	}

	// A display name edit leaves the cache alone.
	a, b := fill()
	before := *trillian
	after := *trillian
	after.DisplayName = "Tricia McMillan"
	bus.Publish(UserEvent{Type: EventModified, User: &after, Before: &before})
	if !cachedFor(trillian, a) || !cachedFor(marvin, b) {
		t.Fatal("display name edit must not evict")
	}

	// Deactivating a user evicts only that user.
	a, b = fill()
	deactivated := *trillian
	deactivated.Active = false
	bus.Publish(UserEvent{Type: EventModified, User: &deactivated, Before: trillian})
	if cachedFor(trillian, a) {
		t.Fatal("active flag change must evict the user")
	}
	if !cachedFor(marvin, b) {
		t.Fatal("other users must stay cached")
	}

	// Any group change clears everything.
	a, b = fill()
	bus.Publish(GroupEvent{Type: EventModified, Group: &Group{Name: "crew"}})
	if cachedFor(trillian, a) || cachedFor(marvin, b) {
		t.Fatal("group change must clear the cache")
	}

	// A repository metadata edit leaves the cache alone.
	a, b = fill()
	repoBefore := &Repository{ID: "42", Name: "guide"}
	repoAfter := &Repository{ID: "42", Name: "the-guide"}
	bus.Publish(RepositoryEvent{Type: EventModified, Repository: repoAfter, Before: repoBefore})
	if !cachedFor(trillian, a) || !cachedFor(marvin, b) {
		t.Fatal("repository rename must not evict")
	}

	// Archiving a repository clears everything.
	a, b = fill()
	archived := &Repository{ID: "42", Name: "guide", Archived: true}
	bus.Publish(RepositoryEvent{Type: EventModified, Repository: archived, Before: repoBefore})
	if cachedFor(trillian, a) || cachedFor(marvin, b) {
		t.Fatal("archiving must clear the cache")
	}

	// A user grant evicts only that user; a group grant clears everything.
	a, b = fill()
	bus.Publish(GrantEvent{Type: EventCreated, Grant: &AssignedPermission{Name: "trillian", Permission: "x"}})
	if cachedFor(trillian, a) {
		t.Fatal("user grant must evict the user")
	}
	if !cachedFor(marvin, b) {
		t.Fatal("user grant must not evict others")
	}
	a, b = fill()
	bus.Publish(GrantEvent{Type: EventCreated, Grant: &AssignedPermission{Name: "crew", Group: true, Permission: "x"}})
	if cachedFor(trillian, a) || cachedFor(marvin, b) {
		t.Fatal("group grant must clear the cache")
	}

	// Pre-commit events never touch the cache.
	a, b = fill()
	evt := GrantEvent{Type: EventCreated, Grant: &AssignedPermission{Name: "trillian", Permission: "x"}}
	evt.PreCommit = true
	bus.Publish(evt)
	if !cachedFor(trillian, a) || !cachedFor(marvin, b) {
		t.Fatal("pre-commit events must be ignored")
	}
}

// gatedRepositoryStore blocks the first All call until released, so a test
// can hold a computation in flight while mutations land.
type gatedRepositoryStore struct {
	inner   RepositoryStore
	entered chan struct{}
	release chan struct{}
	first   sync.Once
}

func (s *gatedRepositoryStore) All(ctx context.Context) ([]Repository, error) {
	gated := false
	s.first.Do(func() { gated = true })
	if gated {
		close(s.entered)
		<-s.release
	}
	return s.inner.All(ctx)
}

func TestCollectAfterInvalidationRecomputes(t *testing.T) {
	mem := seededStores()
	stores := mem.Stores()
	ctx := context.Background()
	gate := &gatedRepositoryStore{
		inner:   stores.Repositories,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	collector := NewCollector(gate, stores.Grants)

	user, _ := stores.Users.Get(ctx, "trillian")

	type collectResult struct {
		info *AuthorizationInfo
		err  error
	}
	stale := make(chan collectResult, 1)
	go func() {
		info, err := collector.Collect(ctx, user, nil)
		stale <- collectResult{info, err}
	}()
	<-gate.entered

	// The mutation lands after the in-flight computation has already read
	// the grant store, so its result predates the eviction.
	if err := stores.Grants.Add(ctx, &AssignedPermission{
		Name: "trillian", Permission: "configuration:read:global",
	}); err != nil {
		t.Fatalf("add grant: %v", err)
	}
	collector.InvalidateUser("trillian")

	info, err := collector.Collect(ctx, user, nil)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if !info.IsPermitted("configuration:read:global") {
		t.Fatalf("collect after invalidation missed the new grant: %v", info.Permissions)
	}

	close(gate.release)
	if got := <-stale; got.err != nil {
		t.Fatalf("in-flight collect: %v", got.err)
	}

	// The finished stale flight must not have overwritten the cache.
	after, err := collector.Collect(ctx, user, nil)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if !after.IsPermitted("configuration:read:global") {
		t.Fatalf("stale computation poisoned the cache: %v", after.Permissions)
	}
}

func TestCollectorInvalidateUserIsCaseInsensitive(t *testing.T) {
	mem := seededStores()
	stores := mem.Stores()
	ctx := context.Background()
	collector := NewCollector(stores.Repositories, stores.Grants)

	user, _ := stores.Users.Get(ctx, "trillian")
	first, err := collector.Collect(ctx, user, nil)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	collector.InvalidateUser("TRILLIAN")
	second, err := collector.Collect(ctx, user, nil)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if first == second {
		t.Fatal("expected recomputation after invalidation")
	}
}
