package auth

import "context"

// UserStore provides read and synchronization access to user records.
type UserStore interface {
	Get(ctx context.Context, name string) (*User, error)
	Update(ctx context.Context, user *User) error
}

// GroupStore lists all groups. Group membership is resolved by scanning.
type GroupStore interface {
	All(ctx context.Context) ([]Group, error)
}

// RepositoryStore lists all repositories with their permission grants.
type RepositoryStore interface {
	All(ctx context.Context) ([]Repository, error)
}

// GrantStore manages durable assigned permissions.
type GrantStore interface {
	All(ctx context.Context) ([]AssignedPermission, error)
	Get(ctx context.Context, id string) (*AssignedPermission, error)
	Add(ctx context.Context, grant *AssignedPermission) error
	Remove(ctx context.Context, id string) error
}

// KeyStore resolves the signing key for a subject, generating and
// persisting a new random key on first use. Creation must be atomic per
// subject: when two callers race, both must end up with the same key.
type KeyStore interface {
	GetOrCreate(ctx context.Context, subject string) (SecureKey, error)
}

// Stores bundles the collaborators the auth service needs.
type Stores struct {
	Users        UserStore
	Groups       GroupStore
	Repositories RepositoryStore
	Grants       GrantStore
	Keys         KeyStore
}
