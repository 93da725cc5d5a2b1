package auth

import (
	"fmt"
	"strings"
)

const (
	partDivider    = ":"
	subpartDivider = ","
	wildcardToken  = "*"
)

// Permission is a wildcard permission: a colon-delimited sequence of parts,
// each part a comma-delimited set of tokens. A lone "*" at any position
// matches anything at that position and beyond. Missing trailing parts are
// implicitly wildcard.
type Permission struct {
	parts [][]string
}

// ParsePermission parses a wildcard permission string such as
// "repository:read,write:42".
func ParsePermission(value string) (Permission, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Permission{}, fmt.Errorf("%w: permission must not be empty", ErrInvalidArgument)
	}
	var parts [][]string
	for _, rawPart := range strings.Split(value, partDivider) {
		var tokens []string
		seen := make(map[string]struct{})
		for _, token := range strings.Split(rawPart, subpartDivider) {
			token = strings.TrimSpace(token)
			if token == "" {
				continue
			}
			if _, ok := seen[token]; ok {
				continue
			}
			seen[token] = struct{}{}
			tokens = append(tokens, token)
		}
		if len(tokens) == 0 {
			return Permission{}, fmt.Errorf("%w: permission %q contains an empty part", ErrInvalidArgument, value)
		}
		parts = append(parts, tokens)
	}
	return Permission{parts: parts}, nil
}

// String reassembles the permission into its canonical string form.
func (p Permission) String() string {
	joined := make([]string, len(p.parts))
	for i, tokens := range p.parts {
		joined[i] = strings.Join(tokens, subpartDivider)
	}
	return strings.Join(joined, partDivider)
}

// Implies reports whether p grants everything other grants.
func (p Permission) Implies(other Permission) bool {
	for i, otherPart := range other.parts {
		// p is shorter than other: remaining parts are implicit wildcards.
		if i >= len(p.parts) {
			return true
		}
		part := p.parts[i]
		if !containsToken(part, wildcardToken) && !containsAll(part, otherPart) {
			return false
		}
	}
	// p is longer than other: the surplus parts must all be wildcards.
	for i := len(other.parts); i < len(p.parts); i++ {
		if !containsToken(p.parts[i], wildcardToken) {
			return false
		}
	}
	return true
}

// Limit computes the most specific permission implied by both p and other.
// The second return value is false when the two permissions do not
// intersect. Intersecting a scope entry with a subject permission this way
// guarantees a token never carries more privilege than its subject.
func (p Permission) Limit(other Permission) (Permission, bool) {
	if p.Implies(other) {
		return other, true
	}
	if other.Implies(p) {
		return p, true
	}
	if len(p.parts) == 0 || len(other.parts) == 0 {
		return Permission{}, false
	}
	// The type part must be identical; "repository:..." can never be
	// limited against "user:...".
	if !sameTokenSet(p.parts[0], other.parts[0]) {
		return Permission{}, false
	}
	length := len(p.parts)
	if len(other.parts) > length {
		length = len(other.parts)
	}
	parts := [][]string{p.parts[0]}
	for i := 1; i < length; i++ {
		intersection := intersectTokens(partAt(p.parts, i), partAt(other.parts, i))
		if len(intersection) == 0 {
			return Permission{}, false
		}
		parts = append(parts, intersection)
	}
	return Permission{parts: trimTrailingWildcards(parts)}, true
}

// partAt returns the tokens at position i, treating missing trailing parts
// as wildcard.
func partAt(parts [][]string, i int) []string {
	if i >= len(parts) {
		return []string{wildcardToken}
	}
	return parts[i]
}

// intersectTokens intersects two token sets. A lone wildcard imposes no
// restriction, so the intersection is simply the other side.
func intersectTokens(a, b []string) []string {
	if containsToken(a, wildcardToken) {
		return b
	}
	if containsToken(b, wildcardToken) {
		return a
	}
	var out []string
	for _, token := range a {
		if containsToken(b, token) {
			out = append(out, token)
		}
	}
	return out
}

func trimTrailingWildcards(parts [][]string) [][]string {
	end := len(parts)
	for end > 1 && len(parts[end-1]) == 1 && parts[end-1][0] == wildcardToken {
		end--
	}
	return parts[:end]
}

func containsToken(tokens []string, token string) bool {
	for _, t := range tokens {
		if t == token {
			return true
		}
	}
	return false
}

func containsAll(tokens, required []string) bool {
	for _, r := range required {
		if !containsToken(tokens, r) {
			return false
		}
	}
	return true
}

func sameTokenSet(a, b []string) bool {
	return containsAll(a, b) && containsAll(b, a)
}
