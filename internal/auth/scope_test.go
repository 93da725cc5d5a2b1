package auth

import (
	"reflect"
	"testing"
)

func TestNewScopeDedupesAndTrims(t *testing.T) {
	scope := NewScope(" repository:read:42 ", "", "repository:read:42", "user:read:anna")
	want := Scope{"repository:read:42", "user:read:anna"}
	if !reflect.DeepEqual(scope, want) {
		t.Fatalf("scope = %v, want %v", scope, want)
	}
	if scope.Empty() {
		t.Fatal("scope should not be empty")
	}
	if !scope.Contains("user:read:anna") {
		t.Fatal("expected scope to contain user:read:anna")
	}
	if got := scope.String(); got != "[repository:read:42, user:read:anna]" {
		t.Fatalf("String() = %q", got)
	}
}

func TestFilterAuthorizationEmptyScopeKeepsEverything(t *testing.T) {
	info := &AuthorizationInfo{
		Roles:       []string{RoleUser},
		Permissions: []string{"repository:read,write:42"},
	}
	if got := FilterAuthorization(info, nil); got != info {
		t.Fatalf("empty scope should return the info unchanged")
	}
}

func TestFilterAuthorizationLimitsToScope(t *testing.T) {
	info := &AuthorizationInfo{
		Roles:       []string{RoleUser},
		Permissions: []string{"repository:read,write:42", "user:read,changePassword:anna"},
	}
	scope := NewScope("repository:read:*")

	filtered := FilterAuthorization(info, scope)
	want := []string{"repository:read:42"}
	if !reflect.DeepEqual(filtered.Permissions, want) {
		t.Fatalf("filtered permissions = %v, want %v", filtered.Permissions, want)
	}
	if !reflect.DeepEqual(filtered.Roles, info.Roles) {
		t.Fatalf("roles must be preserved, got %v", filtered.Roles)
	}
	if !filtered.IsPermitted("repository:read:42") {
		t.Fatal("expected read on repository 42")
	}
	if filtered.IsPermitted("repository:write:42") {
		t.Fatal("write must be outside the scoped token")
	}
}

func TestFilterAuthorizationScopeNeverEscalates(t *testing.T) {
	info := &AuthorizationInfo{
		Roles:       []string{RoleUser},
		Permissions: []string{"repository:read:42"},
	}
	// The token claims more than the subject holds; the result stays
	// bounded by the subject's authorization.
	filtered := FilterAuthorization(info, NewScope("repository:*:*"))
	want := []string{"repository:read:42"}
	if !reflect.DeepEqual(filtered.Permissions, want) {
		t.Fatalf("filtered permissions = %v, want %v", filtered.Permissions, want)
	}
}

func TestFilterAuthorizationDisjointScopeYieldsNothing(t *testing.T) {
	info := &AuthorizationInfo{
		Roles:       []string{RoleUser},
		Permissions: []string{"repository:read:42"},
	}
	filtered := FilterAuthorization(info, NewScope("user:*:*"))
	if len(filtered.Permissions) != 0 {
		t.Fatalf("expected no permissions, got %v", filtered.Permissions)
	}
}

func TestAuthorizationInfoIsPermitted(t *testing.T) {
	info := &AuthorizationInfo{Permissions: []string{"repository:read,write:42"}}
	if !info.IsPermitted("repository:read:42") {
		t.Fatal("expected read to be permitted")
	}
	if info.IsPermitted("repository:delete:42") {
		t.Fatal("delete must not be permitted")
	}
	var nilInfo *AuthorizationInfo
	if nilInfo.IsPermitted("repository:read:42") {
		t.Fatal("nil info must permit nothing")
	}
}
