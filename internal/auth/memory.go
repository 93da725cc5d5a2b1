package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"gitforge.org/internal/ids"
)

// MemoryStores is an in-memory implementation of every store interface.
// It backs tests and the standalone server mode.
type MemoryStores struct {
	mu     sync.RWMutex
	users  map[string]*User
	groups map[string]*Group
	repos  map[string]*Repository
	grants map[string]*AssignedPermission
	keys   map[string]SecureKey
}

// NewMemoryStores returns empty in-memory stores.
func NewMemoryStores() *MemoryStores {
	return &MemoryStores{
		users:  make(map[string]*User),
		groups: make(map[string]*Group),
		repos:  make(map[string]*Repository),
		grants: make(map[string]*AssignedPermission),
		keys:   make(map[string]SecureKey),
	}
}

// Stores bundles the memory stores into the shape the service expects.
func (m *MemoryStores) Stores() Stores {
	return Stores{
		Users:        (*memoryUsers)(m),
		Groups:       (*memoryGroups)(m),
		Repositories: (*memoryRepos)(m),
		Grants:       (*memoryGrants)(m),
		Keys:         (*memoryKeys)(m),
	}
}

// PutUser inserts or replaces a user.
func (m *MemoryStores) PutUser(u *User) {
	m.mu.Lock()
	clone := *u
	m.users[u.Name] = &clone
	m.mu.Unlock()
}

// PutGroup inserts or replaces a group.
func (m *MemoryStores) PutGroup(g *Group) {
	m.mu.Lock()
	clone := *g
	clone.Members = append([]string(nil), g.Members...)
	m.groups[g.Name] = &clone
	m.mu.Unlock()
}

// PutRepository inserts or replaces a repository.
func (m *MemoryStores) PutRepository(r *Repository) {
	m.mu.Lock()
	clone := *r
	clone.Permissions = append([]RepositoryPermission(nil), r.Permissions...)
	m.repos[r.ID] = &clone
	m.mu.Unlock()
}

type memoryUsers MemoryStores

func (m *memoryUsers) Get(_ context.Context, name string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[name]
	if !ok {
		return nil, fmt.Errorf("%w: user %q", ErrNotFound, name)
	}
	clone := *u
	return &clone, nil
}

func (m *memoryUsers) Update(_ context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.Name]; !ok {
		return fmt.Errorf("%w: user %q", ErrNotFound, user.Name)
	}
	clone := *user
	m.users[user.Name] = &clone
	return nil
}

type memoryGroups MemoryStores

func (m *memoryGroups) All(_ context.Context) ([]Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Group, 0, len(m.groups))
	for _, g := range m.groups {
		clone := *g
		clone.Members = append([]string(nil), g.Members...)
		out = append(out, clone)
	}
	return out, nil
}

type memoryRepos MemoryStores

func (m *memoryRepos) All(_ context.Context) ([]Repository, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Repository, 0, len(m.repos))
	for _, r := range m.repos {
		clone := *r
		clone.Permissions = append([]RepositoryPermission(nil), r.Permissions...)
		out = append(out, clone)
	}
	return out, nil
}

type memoryGrants MemoryStores

func (m *memoryGrants) All(_ context.Context) ([]AssignedPermission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]AssignedPermission, 0, len(m.grants))
	for _, g := range m.grants {
		out = append(out, *g)
	}
	return out, nil
}

func (m *memoryGrants) Get(_ context.Context, id string) (*AssignedPermission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.grants[id]
	if !ok {
		return nil, fmt.Errorf("%w: grant %q", ErrNotFound, id)
	}
	clone := *g
	return &clone, nil
}

func (m *memoryGrants) Add(_ context.Context, grant *AssignedPermission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if grant.ID == "" {
		grant.ID = ids.New()
	}
	if grant.CreatedAt.IsZero() {
		grant.CreatedAt = time.Now().UTC()
	}
	clone := *grant
	m.grants[grant.ID] = &clone
	return nil
}

func (m *memoryGrants) Remove(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.grants[id]; !ok {
		return fmt.Errorf("%w: grant %q", ErrNotFound, id)
	}
	delete(m.grants, id)
	return nil
}

type memoryKeys MemoryStores

func (m *memoryKeys) GetOrCreate(_ context.Context, subject string) (SecureKey, error) {
	m.mu.RLock()
	key, ok := m.keys[subject]
	m.mu.RUnlock()
	if ok {
		return key, nil
	}

	buf := make([]byte, 64)
	if _, err := rand.Read(buf); err != nil {
		return SecureKey{}, fmt.Errorf("generate signing key: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// A racing caller may have won; keep the stored key in that case.
	if key, ok := m.keys[subject]; ok {
		return key, nil
	}
	key = SecureKey{Bytes: buf, CreatedAt: time.Now().UTC()}
	m.keys[subject] = key
	return key, nil
}
