package auth

import "strings"

// Scope is an ordered, set-semantics collection of permission strings
// declared by a token. An empty scope means no restriction: the token
// carries the subject's full authorization.
type Scope []string

// NewScope builds a scope from the given permission strings, trimming
// blanks and dropping duplicates while preserving order.
func NewScope(values ...string) Scope {
	var scope Scope
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		scope = append(scope, v)
	}
	return scope
}

// Empty reports whether the scope imposes no restriction.
func (s Scope) Empty() bool { return len(s) == 0 }

// Contains reports whether the exact permission string is part of the scope.
func (s Scope) Contains(value string) bool {
	for _, v := range s {
		if v == value {
			return true
		}
	}
	return false
}

func (s Scope) String() string {
	return "[" + strings.Join(s, ", ") + "]"
}

// FilterAuthorization intersects a principal's full authorization with a
// token's declared scope. Every scope entry is limited against every held
// permission; non-matching entries are simply dropped, so the result never
// exceeds either side. An empty scope returns the info unchanged.
func FilterAuthorization(info *AuthorizationInfo, scope Scope) *AuthorizationInfo {
	if info == nil || scope.Empty() {
		return info
	}
	var limited []string
	seen := make(map[string]struct{})
	for _, entry := range scope {
		requested, err := ParsePermission(entry)
		if err != nil {
			continue
		}
		for _, held := range info.Permissions {
			permission, err := ParsePermission(held)
			if err != nil {
				continue
			}
			result, ok := permission.Limit(requested)
			if !ok {
				continue
			}
			value := result.String()
			if _, dup := seen[value]; dup {
				continue
			}
			seen[value] = struct{}{}
			limited = append(limited, value)
		}
	}
	return &AuthorizationInfo{Roles: info.Roles, Permissions: limited}
}
