package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultTokenLifetime is how long an access token is valid when the
	// builder is not told otherwise.
	DefaultTokenLifetime = time.Hour
	// DefaultRefreshableFor is the default window in which an expired
	// token can still be exchanged for a fresh one.
	DefaultRefreshableFor = 12 * time.Hour
)

// Enricher can add claims to a token under construction, for example an
// anti-forgery marker. Enrichers run just before the token is signed, after
// the subject has been resolved.
type Enricher func(ctx context.Context, b *TokenBuilder)

// GroupsEnricher fills the groups claim from the group store when the
// caller did not set it, so verification can skip a store round-trip.
func GroupsEnricher(store GroupStore) Enricher {
	return func(ctx context.Context, b *TokenBuilder) {
		if b.groups != nil || b.subject == "" {
			return
		}
		groups, err := store.All(ctx)
		if err != nil {
			b.fail(fmt.Errorf("resolve groups: %w", err))
			return
		}
		for _, group := range groups {
			for _, member := range group.Members {
				if member == b.subject {
					b.groups = append(b.groups, group.Name)
					break
				}
			}
		}
	}
}

// TokenBuilderFactory creates token builders bound to a codec and clock.
type TokenBuilderFactory struct {
	codec     *Codec
	enrichers []Enricher
	now       func() time.Time
}

// NewTokenBuilderFactory constructs a factory. A nil clock defaults to
// time.Now.
func NewTokenBuilderFactory(codec *Codec, enrichers []Enricher, now func() time.Time) *TokenBuilderFactory {
	if now == nil {
		now = time.Now
	}
	return &TokenBuilderFactory{codec: codec, enrichers: enrichers, now: now}
}

// New returns a fresh builder with default lifetimes.
func (f *TokenBuilderFactory) New() *TokenBuilder {
	return &TokenBuilder{
		factory:  f,
		lifetime: DefaultTokenLifetime,
		refresh:  DefaultRefreshableFor,
		custom:   make(map[string]any),
		runHooks: true,
	}
}

// TokenBuilder assembles the claims of a single access token. Setter
// methods return the builder for chaining; argument errors are captured and
// reported by Build.
type TokenBuilder struct {
	factory *TokenBuilderFactory

	subject    string
	issuer     string
	lifetime   time.Duration
	refresh    time.Duration
	refreshAbs time.Time
	parentID   string
	scope      Scope
	groups     []string
	custom     map[string]any
	runHooks   bool
	err        error
}

// Subject sets the subject explicitly. When unset, Build resolves the
// subject from the principal in the context.
func (b *TokenBuilder) Subject(name string) *TokenBuilder {
	b.subject = name
	return b
}

// Issuer sets the iss claim.
func (b *TokenBuilder) Issuer(issuer string) *TokenBuilder {
	b.issuer = issuer
	return b
}

// ExpiresIn sets the token lifetime.
func (b *TokenBuilder) ExpiresIn(d time.Duration) *TokenBuilder {
	if d <= 0 {
		b.fail(fmt.Errorf("%w: token lifetime must be positive", ErrInvalidArgument))
		return b
	}
	b.lifetime = d
	return b
}

// RefreshableFor sets the refresh window measured from issuance. A zero
// duration disables refresh for this token.
func (b *TokenBuilder) RefreshableFor(d time.Duration) *TokenBuilder {
	if d < 0 {
		b.fail(fmt.Errorf("%w: refresh window must not be negative", ErrInvalidArgument))
		return b
	}
	b.refresh = d
	return b
}

// refreshableUntil pins the refresh window to an absolute instant,
// overriding any relative window. Used when refreshing so that the lineage
// keeps the original window.
func (b *TokenBuilder) refreshableUntil(t time.Time) *TokenBuilder {
	b.refreshAbs = t
	return b
}

// WithScope restricts the token to the given scope.
func (b *TokenBuilder) WithScope(scope Scope) *TokenBuilder {
	b.scope = scope
	return b
}

// WithGroups embeds the subject's group memberships in the token.
func (b *TokenBuilder) WithGroups(groups []string) *TokenBuilder {
	b.groups = groups
	return b
}

// Parent records the ID of the token this one was refreshed from.
func (b *TokenBuilder) Parent(id string) *TokenBuilder {
	b.parentID = id
	return b
}

// Custom adds a custom claim. Keys managed by the token itself are
// rejected.
func (b *TokenBuilder) Custom(key string, value any) *TokenBuilder {
	if key == "" {
		b.fail(fmt.Errorf("%w: custom claim key must not be empty", ErrInvalidArgument))
		return b
	}
	if value == nil {
		b.fail(fmt.Errorf("%w: custom claim %q must not be nil", ErrInvalidArgument, key))
		return b
	}
	if _, reserved := reservedClaims[key]; reserved {
		b.fail(fmt.Errorf("%w: claim %q is reserved", ErrInvalidArgument, key))
		return b
	}
	b.custom[key] = value
	return b
}

// HasCustom reports whether a custom claim is already set. Enrichers use
// this to avoid overwriting claims carried over from a refreshed token.
func (b *TokenBuilder) HasCustom(key string) bool {
	_, ok := b.custom[key]
	return ok
}

func (b *TokenBuilder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Build signs the assembled claims and returns the claim set together with
// its compact serialization. When no subject was set, the principal from
// the context supplies it; without either, Build fails with
// ErrNotAuthenticated.
func (b *TokenBuilder) Build(ctx context.Context) (*AccessToken, string, error) {
	if b.err != nil {
		return nil, "", b.err
	}
	if b.subject == "" {
		principal, ok := PrincipalFromContext(ctx)
		if !ok || principal.User == nil {
			return nil, "", ErrNotAuthenticated
		}
		b.subject = principal.User.Name
	}
	if b.runHooks {
		for _, enrich := range b.factory.enrichers {
			enrich(ctx, b)
		}
		if b.err != nil {
			return nil, "", b.err
		}
	}

	now := b.factory.now().UTC().Truncate(time.Second)
	token := &AccessToken{
		ID:         uuid.NewString(),
		Subject:    b.subject,
		Issuer:     b.issuer,
		IssuedAt:   now,
		Expiration: now.Add(b.lifetime),
		ParentID:   b.parentID,
		Scope:      b.scope,
		Groups:     b.groups,
	}
	switch {
	case !b.refreshAbs.IsZero():
		token.RefreshableUntil = b.refreshAbs.UTC().Truncate(time.Second)
	case b.refresh > 0:
		token.RefreshableUntil = now.Add(b.refresh)
	}
	if len(b.custom) > 0 {
		token.Custom = make(map[string]any, len(b.custom))
		for k, v := range b.custom {
			token.Custom[k] = v
		}
	}
	// A fresh token roots its own refresh lineage.
	if token.ParentID == "" {
		token.ParentID = token.ID
	}

	compact, err := b.factory.codec.Encode(ctx, token)
	if err != nil {
		return nil, "", err
	}
	return token, compact, nil
}
