package auth

import "time"

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User represents an account that can authenticate against the server.
// The name is the stable identifier.
type User struct {
	Name         string    `json:"name"`
	DisplayName  string    `json:"display_name,omitempty"`
	Email        string    `json:"email,omitempty"`
	PasswordHash string    `json:"-"`
	Active       bool      `json:"active"`
	Admin        bool      `json:"admin"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Group names a set of member users. Groups are read-only to this package.
type Group struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

// RepositoryPermission grants verbs on a repository to a user or group.
type RepositoryPermission struct {
	Name  string   `json:"name"`
	Group bool     `json:"group"`
	Verbs []string `json:"verbs"`
}

// Repository is the subset of the repository model that authorization
// depends on.
type Repository struct {
	ID             string                 `json:"id"`
	Namespace      string                 `json:"namespace"`
	Name           string                 `json:"name"`
	Archived       bool                   `json:"archived"`
	PublicReadable bool                   `json:"public_readable"`
	Permissions    []RepositoryPermission `json:"permissions"`
}

// AssignedPermission is a durable, admin-managed grant of a permission
// string to a user or group.
type AssignedPermission struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Group      bool      `json:"group"`
	Permission string    `json:"permission"`
	CreatedAt  time.Time `json:"created_at"`
}

// SecureKey is the per-subject HMAC signing key.
type SecureKey struct {
	Bytes     []byte
	CreatedAt time.Time
}

// AuthorizationInfo is the computed authorization result for a principal:
// role names plus resolved permission strings.
type AuthorizationInfo struct {
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

// HasRole reports whether the role name is present.
func (i *AuthorizationInfo) HasRole(role string) bool {
	if i == nil {
		return false
	}
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsPermitted reports whether any held permission implies the requested one.
func (i *AuthorizationInfo) IsPermitted(required string) bool {
	if i == nil {
		return false
	}
	req, err := ParsePermission(required)
	if err != nil {
		return false
	}
	for _, held := range i.Permissions {
		p, err := ParsePermission(held)
		if err != nil {
			continue
		}
		if p.Implies(req) {
			return true
		}
	}
	return false
}

// Principal is a verified identity together with its effective
// authorization for the current request.
type Principal struct {
	User   *User
	Groups []string
	Authz  *AuthorizationInfo
}

// IsPermitted reports whether the principal's effective authorization
// implies the permission.
func (p Principal) IsPermitted(required string) bool {
	return p.Authz.IsPermitted(required)
}

// IsAdmin reports whether the principal holds the admin role.
func (p Principal) IsAdmin() bool {
	return p.Authz.HasRole(RoleAdmin)
}
