package auth

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"gitforge.org/internal/eventbus"
	"gitforge.org/internal/obs"
)

// Collector computes and caches per-principal authorization. Results are
// keyed by user name plus group memberships, so a group change produces a
// different key and a fresh computation.
type Collector struct {
	repos  RepositoryStore
	grants GrantStore

	mu     sync.RWMutex
	cache  map[string]*AuthorizationInfo
	gen    uint64
	flight singleflight.Group
}

// NewCollector constructs a collector over the given stores.
func NewCollector(repos RepositoryStore, grants GrantStore) *Collector {
	return &Collector{
		repos:  repos,
		grants: grants,
		cache:  make(map[string]*AuthorizationInfo),
	}
}

func collectorKey(user *User, groups []string) string {
	sorted := make([]string, len(groups))
	copy(sorted, groups)
	sort.Strings(sorted)
	return user.Name + "\x00" + strings.Join(sorted, "\x00")
}

// Collect returns the authorization for the user and its groups. Admins
// short-circuit to the match-all permission and are never cached.
// Concurrent computations for the same key are deduplicated.
func (c *Collector) Collect(ctx context.Context, user *User, groups []string) (*AuthorizationInfo, error) {
	if user.Admin {
		return &AuthorizationInfo{
			Roles:       []string{RoleUser, RoleAdmin},
			Permissions: []string{wildcardToken},
		}, nil
	}

	key := collectorKey(user, groups)
	c.mu.RLock()
	cached, ok := c.cache[key]
	gen := c.gen
	c.mu.RUnlock()
	if ok {
		obs.AuthzCacheHit()
		return cached, nil
	}
	obs.AuthzCacheMiss()

	// The generation is part of the flight key so that a caller arriving
	// after an eviction never joins a computation that started before the
	// mutation. The stale flight likewise must not write its result back.
	result, err, _ := c.flight.Do(strconv.FormatUint(gen, 10)+"\x00"+key, func() (any, error) {
		info, err := c.compute(ctx, user, groups)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.gen == gen {
			c.cache[key] = info
		}
		c.mu.Unlock()
		return info, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*AuthorizationInfo), nil
}

func (c *Collector) compute(ctx context.Context, user *User, groups []string) (*AuthorizationInfo, error) {
	groupSet := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		groupSet[g] = struct{}{}
	}

	var permissions []string
	seen := make(map[string]struct{})
	add := func(p string) {
		if _, dup := seen[p]; dup {
			return
		}
		seen[p] = struct{}{}
		permissions = append(permissions, p)
	}

	grants, err := c.grants.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("collect grants: %w", err)
	}
	for _, grant := range grants {
		if matchesPrincipal(grant.Name, grant.Group, user.Name, groupSet) {
			add(grant.Permission)
		}
	}

	repos, err := c.repos.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("collect repositories: %w", err)
	}
	for _, repo := range repos {
		for _, perm := range repo.Permissions {
			if len(perm.Verbs) == 0 {
				continue
			}
			if matchesPrincipal(perm.Name, perm.Group, user.Name, groupSet) {
				add("repository:" + strings.Join(perm.Verbs, subpartDivider) + partDivider + repo.ID)
			}
		}
	}

	// Every user may read and manage its own account.
	add("user:read,changePassword:" + user.Name)

	return &AuthorizationInfo{Roles: []string{RoleUser}, Permissions: permissions}, nil
}

func matchesPrincipal(name string, group bool, user string, groups map[string]struct{}) bool {
	if group {
		_, ok := groups[name]
		return ok
	}
	return name == user
}

// InvalidateUser drops every cached entry for the named user.
func (c *Collector) InvalidateUser(name string) {
	prefix := strings.ToLower(name) + "\x00"
	c.mu.Lock()
	for key := range c.cache {
		if strings.HasPrefix(strings.ToLower(key), prefix) {
			delete(c.cache, key)
		}
	}
	c.gen++
	c.mu.Unlock()
}

// InvalidateAll clears the whole cache.
func (c *Collector) InvalidateAll() {
	c.mu.Lock()
	c.cache = make(map[string]*AuthorizationInfo)
	c.gen++
	c.mu.Unlock()
}

// Subscribe wires the collector to the event bus. Only committed events
// invalidate; the rules are deliberately conservative, clearing everything
// whenever a change could affect more than one user.
func (c *Collector) Subscribe(bus *eventbus.Bus) {
	bus.Subscribe(func(evt eventbus.Event) {
		if !evt.Committed() {
			return
		}
		switch e := evt.(type) {
		case UserEvent:
			c.onUserEvent(e)
		case GroupEvent:
			c.InvalidateAll()
		case RepositoryEvent:
			c.onRepositoryEvent(e)
		case GrantEvent:
			c.onGrantEvent(e)
		}
	})
}

func (c *Collector) onUserEvent(e UserEvent) {
	if e.User == nil {
		return
	}
	switch e.Type {
	case EventCreated, EventDeleted:
		c.InvalidateUser(e.User.Name)
	case EventModified:
		// Only flags that feed into authorization matter; display name
		// or email edits leave the cache alone.
		if e.Before == nil || e.Before.Active != e.User.Active || e.Before.Admin != e.User.Admin {
			c.InvalidateUser(e.User.Name)
		}
	}
}

func (c *Collector) onRepositoryEvent(e RepositoryEvent) {
	switch e.Type {
	case EventCreated, EventDeleted:
		c.InvalidateAll()
	case EventModified:
		if e.Before == nil || repoAuthzChanged(e.Before, e.Repository) {
			c.InvalidateAll()
		}
	}
}

func repoAuthzChanged(before, after *Repository) bool {
	if after == nil {
		return true
	}
	if before.Archived != after.Archived || before.PublicReadable != after.PublicReadable {
		return true
	}
	if len(before.Permissions) != len(after.Permissions) {
		return true
	}
	for i, p := range before.Permissions {
		q := after.Permissions[i]
		if p.Name != q.Name || p.Group != q.Group || strings.Join(p.Verbs, ",") != strings.Join(q.Verbs, ",") {
			return true
		}
	}
	return false
}

func (c *Collector) onGrantEvent(e GrantEvent) {
	if e.Grant == nil {
		return
	}
	if e.Grant.Group {
		// Group membership is not part of the event, so every member's
		// cache entry could be stale.
		c.InvalidateAll()
		return
	}
	c.InvalidateUser(e.Grant.Name)
}
