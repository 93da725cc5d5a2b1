package auth

import (
	"context"
	"time"
)

// RefreshStrategy decides whether an eligible token should actually be
// replaced. Keeping the decision separate from eligibility lets the server
// refresh lazily instead of on every request.
type RefreshStrategy interface {
	ShouldRefresh(now time.Time, token *AccessToken) bool
}

// PercentageStrategy refreshes once more than the given fraction of the
// token's lifespan has elapsed.
type PercentageStrategy struct {
	Fraction float64
}

// ShouldRefresh reports whether the elapsed share of the lifespan strictly
// exceeds the fraction. A token exactly at the boundary is not refreshed.
func (s PercentageStrategy) ShouldRefresh(now time.Time, token *AccessToken) bool {
	lifespan := token.Expiration.Sub(token.IssuedAt)
	if lifespan <= 0 {
		return false
	}
	elapsed := now.Sub(token.IssuedAt)
	return float64(elapsed)/float64(lifespan) > s.Fraction
}

// alwaysRefresh replaces every eligible token. Used by the explicit
// refresh endpoint, where the client has already decided.
type alwaysRefresh struct{}

func (alwaysRefresh) ShouldRefresh(time.Time, *AccessToken) bool { return true }

// Refresher exchanges tokens for fresh ones while preserving their claims
// and lineage.
type Refresher struct {
	factory  *TokenBuilderFactory
	strategy RefreshStrategy
	lifetime time.Duration
	now      func() time.Time
}

// NewRefresher constructs a refresher. Replacement tokens get the given
// lifetime; zero falls back to DefaultTokenLifetime. A nil strategy
// refreshes every eligible token; a nil clock defaults to time.Now.
func NewRefresher(factory *TokenBuilderFactory, strategy RefreshStrategy, lifetime time.Duration, now func() time.Time) *Refresher {
	if strategy == nil {
		strategy = alwaysRefresh{}
	}
	if lifetime <= 0 {
		lifetime = DefaultTokenLifetime
	}
	if now == nil {
		now = time.Now
	}
	return &Refresher{factory: factory, strategy: strategy, lifetime: lifetime, now: now}
}

// CanRefresh reports whether the token is still eligible: either not yet
// expired, or inside its refresh window.
func (r *Refresher) CanRefresh(token *AccessToken) bool {
	now := r.now()
	if now.Before(token.Expiration) {
		return true
	}
	return token.Refreshable() && now.Before(token.RefreshableUntil)
}

// Refresh returns a replacement token when the old one is eligible and the
// strategy agrees, otherwise (nil, "", nil). The replacement carries the
// old token's issuer, scope, groups and custom claims, gets a fresh
// lifetime, keeps the original refresh window, and records the old token
// as its parent.
func (r *Refresher) Refresh(ctx context.Context, old *AccessToken) (*AccessToken, string, error) {
	if !r.CanRefresh(old) || !r.strategy.ShouldRefresh(r.now(), old) {
		return nil, "", nil
	}
	builder := r.factory.New().
		Subject(old.Subject).
		Issuer(old.Issuer).
		ExpiresIn(r.lifetime).
		WithScope(old.Scope).
		WithGroups(old.Groups).
		Parent(old.ID)
	if old.Refreshable() {
		builder.refreshableUntil(old.RefreshableUntil)
	} else {
		builder.RefreshableFor(0)
	}
	for key, value := range old.Custom {
		builder.Custom(key, value)
	}
	return builder.Build(ctx)
}
