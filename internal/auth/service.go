package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gitforge.org/internal/eventbus"
	"gitforge.org/internal/ids"
	"gitforge.org/internal/obs"
)

// Service ties credential checking, token issuance, verification and
// authorization together behind one API.
type Service struct {
	stores     Stores
	codec      *Codec
	builders   *TokenBuilderFactory
	refresher  *Refresher
	collector  *Collector
	throttle   *LoginThrottle
	validators []ClaimsValidator
	bus        *eventbus.Bus

	now        func() time.Time
	issuer     string
	tokenTTL   time.Duration
	refreshTTL time.Duration
}

// Option configures the service.
type Option func(*serviceConfig)

type serviceConfig struct {
	now             func() time.Time
	issuer          string
	tokenTTL        time.Duration
	refreshTTL      time.Duration
	throttleLimit   int
	throttleWindow  time.Duration
	enrichers       []Enricher
	validators      []ClaimsValidator
	refreshStrategy RefreshStrategy
}

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *serviceConfig) { c.now = now }
}

// WithIssuer sets the iss claim stamped on every token.
func WithIssuer(issuer string) Option {
	return func(c *serviceConfig) { c.issuer = issuer }
}

// WithTokenTTL sets the access token lifetime.
func WithTokenTTL(d time.Duration) Option {
	return func(c *serviceConfig) { c.tokenTTL = d }
}

// WithRefreshTTL sets the refresh window measured from issuance.
func WithRefreshTTL(d time.Duration) Option {
	return func(c *serviceConfig) { c.refreshTTL = d }
}

// WithThrottle configures the login failure lockout. Non-positive values
// disable it.
func WithThrottle(limit int, window time.Duration) Option {
	return func(c *serviceConfig) {
		c.throttleLimit = limit
		c.throttleWindow = window
	}
}

// WithEnrichers appends token enrichers.
func WithEnrichers(enrichers ...Enricher) Option {
	return func(c *serviceConfig) { c.enrichers = append(c.enrichers, enrichers...) }
}

// WithValidators appends claim validators run during verification.
func WithValidators(validators ...ClaimsValidator) Option {
	return func(c *serviceConfig) { c.validators = append(c.validators, validators...) }
}

// WithRefreshStrategy overrides when the explicit refresh endpoint mints a
// replacement token.
func WithRefreshStrategy(s RefreshStrategy) Option {
	return func(c *serviceConfig) { c.refreshStrategy = s }
}

// NewService wires the auth service over the given stores and event bus.
// The collector subscribes to the bus for cache invalidation.
func NewService(stores Stores, bus *eventbus.Bus, opts ...Option) *Service {
	cfg := serviceConfig{
		now:            time.Now,
		tokenTTL:       DefaultTokenLifetime,
		refreshTTL:     DefaultRefreshableFor,
		throttleLimit:  10,
		throttleWindow: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	codec := NewCodec(stores.Keys, cfg.now)
	builders := NewTokenBuilderFactory(codec, cfg.enrichers, cfg.now)
	collector := NewCollector(stores.Repositories, stores.Grants)
	if bus != nil {
		collector.Subscribe(bus)
	}

	return &Service{
		stores:     stores,
		codec:      codec,
		builders:   builders,
		refresher:  NewRefresher(builders, cfg.refreshStrategy, cfg.tokenTTL, cfg.now),
		collector:  collector,
		throttle:   NewLoginThrottle(cfg.throttleLimit, cfg.throttleWindow, cfg.now),
		validators: cfg.validators,
		bus:        bus,
		now:        cfg.now,
		issuer:     cfg.issuer,
		tokenTTL:   cfg.tokenTTL,
		refreshTTL: cfg.refreshTTL,
	}
}

// TokenBuilder returns a builder preconfigured with the service's issuer
// and lifetimes, for callers that need tokens outside the login flow.
func (s *Service) TokenBuilder() *TokenBuilder {
	return s.builders.New().
		Issuer(s.issuer).
		ExpiresIn(s.tokenTTL).
		RefreshableFor(s.refreshTTL)
}

// Login checks credentials and mints an access token. Failed attempts
// count toward the lockout; a locked account is rejected before the
// password is checked.
func (s *Service) Login(ctx context.Context, username, password string, scope Scope) (*AccessToken, string, error) {
	if username == "" || password == "" {
		return nil, "", fmt.Errorf("%w: username and password are required", ErrInvalidArgument)
	}
	if err := s.throttle.BeforeAttempt(username); err != nil {
		return nil, "", err
	}

	user, err := s.stores.Users.Get(ctx, username)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, "", err
	}
	// An unknown user burns a failed attempt like a wrong password, so
	// the lockout cannot be used to probe for account names.
	if user == nil || !VerifyPassword(user.PasswordHash, password) {
		s.throttle.OnFailure(username)
		return nil, "", ErrUnauthorized
	}
	s.throttle.OnSuccess(username)
	if !user.Active {
		return nil, "", ErrAccountDisabled
	}

	groups, err := s.collectGroups(ctx, user.Name)
	if err != nil {
		return nil, "", err
	}

	token, compact, err := s.TokenBuilder().
		Subject(user.Name).
		WithScope(scope).
		WithGroups(groups).
		Build(ctx)
	if err != nil {
		return nil, "", err
	}
	obs.TokenIssued()
	return token, compact, nil
}

// VerifyToken validates a compact token against the current request and
// returns the principal with its scope-filtered authorization.
func (s *Service) VerifyToken(ctx context.Context, compact string, req *Request) (Principal, error) {
	token, err := s.codec.Decode(ctx, compact)
	if err != nil {
		obs.TokenVerified("rejected")
		return Principal{}, err
	}
	for _, validate := range s.validators {
		if err := validate(ctx, req, token); err != nil {
			obs.TokenVerified("rejected")
			return Principal{}, err
		}
	}

	user, err := s.stores.Users.Get(ctx, token.Subject)
	if err != nil {
		obs.TokenVerified("rejected")
		if errors.Is(err, ErrNotFound) {
			return Principal{}, fmt.Errorf("%w: unknown subject", ErrClaimsInvalid)
		}
		return Principal{}, err
	}
	if !user.Active {
		obs.TokenVerified("rejected")
		return Principal{}, ErrAccountDisabled
	}

	groups := token.Groups
	if groups == nil {
		if groups, err = s.collectGroups(ctx, user.Name); err != nil {
			return Principal{}, err
		}
	}
	info, err := s.collector.Collect(ctx, user, groups)
	if err != nil {
		return Principal{}, err
	}
	obs.TokenVerified("accepted")
	return Principal{
		User:   user,
		Groups: groups,
		Authz:  FilterAuthorization(info, token.Scope),
	}, nil
}

// RefreshToken exchanges a possibly expired token for a fresh one. The
// second return value reports whether a replacement was minted; a valid
// token the strategy declines to refresh returns ("", false, nil).
func (s *Service) RefreshToken(ctx context.Context, compact string) (string, bool, error) {
	old, err := s.codec.DecodeExpired(ctx, compact)
	if err != nil {
		return "", false, err
	}
	if !s.refresher.CanRefresh(old) {
		return "", false, ErrTokenExpired
	}
	user, err := s.stores.Users.Get(ctx, old.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", false, fmt.Errorf("%w: unknown subject", ErrClaimsInvalid)
		}
		return "", false, err
	}
	if !user.Active {
		return "", false, ErrAccountDisabled
	}

	fresh, replacement, err := s.refresher.Refresh(ctx, old)
	if err != nil {
		return "", false, err
	}
	if fresh == nil {
		return "", false, nil
	}
	obs.TokenIssued()
	return replacement, true, nil
}

// CheckLoginAttempt reports whether the named principal may attempt a
// login right now. A locked principal gets ErrAccountLocked and the lock
// window restarts.
func (s *Service) CheckLoginAttempt(name string) error {
	return s.throttle.BeforeAttempt(name)
}

// Authorize returns ErrUnauthorized unless the principal holds the
// permission.
func (s *Service) Authorize(p Principal, permission string) error {
	if !p.IsPermitted(permission) {
		return fmt.Errorf("%w: missing permission %q", ErrUnauthorized, permission)
	}
	return nil
}

// Collect exposes the collector for callers that need the unfiltered
// authorization of a user, such as account introspection.
func (s *Service) Collect(ctx context.Context, user *User, groups []string) (*AuthorizationInfo, error) {
	return s.collector.Collect(ctx, user, groups)
}

// CollectGroups returns the names of the groups the user belongs to.
func (s *Service) CollectGroups(ctx context.Context, username string) ([]string, error) {
	return s.collectGroups(ctx, username)
}

// ListGrants returns all assigned permissions. Admin only.
func (s *Service) ListGrants(ctx context.Context, p Principal) ([]AssignedPermission, error) {
	if !p.IsAdmin() {
		return nil, fmt.Errorf("%w: admin role required", ErrUnauthorized)
	}
	return s.stores.Grants.All(ctx)
}

// AddGrant stores a new assigned permission and announces it on the bus.
// Admin only.
func (s *Service) AddGrant(ctx context.Context, p Principal, grant *AssignedPermission) error {
	if !p.IsAdmin() {
		return fmt.Errorf("%w: admin role required", ErrUnauthorized)
	}
	if grant.Name == "" {
		return fmt.Errorf("%w: grant target is required", ErrInvalidArgument)
	}
	if _, err := ParsePermission(grant.Permission); err != nil {
		return err
	}
	if grant.ID == "" {
		grant.ID = ids.New()
	}
	if grant.CreatedAt.IsZero() {
		grant.CreatedAt = s.now().UTC()
	}
	if err := s.stores.Grants.Add(ctx, grant); err != nil {
		return err
	}
	s.publish(GrantEvent{Type: EventCreated, Grant: grant})
	return nil
}

// RemoveGrant deletes an assigned permission and announces it on the bus.
// Admin only.
func (s *Service) RemoveGrant(ctx context.Context, p Principal, id string) error {
	if !p.IsAdmin() {
		return fmt.Errorf("%w: admin role required", ErrUnauthorized)
	}
	grant, err := s.stores.Grants.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.stores.Grants.Remove(ctx, id); err != nil {
		return err
	}
	s.publish(GrantEvent{Type: EventDeleted, Grant: grant})
	return nil
}

func (s *Service) publish(evt eventbus.Event) {
	if s.bus != nil {
		s.bus.Publish(evt)
	}
}

func (s *Service) collectGroups(ctx context.Context, username string) ([]string, error) {
	groups, err := s.stores.Groups.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("collect groups: %w", err)
	}
	var names []string
	for _, group := range groups {
		for _, member := range group.Members {
			if member == username {
				names = append(names, group.Name)
				break
			}
		}
	}
	return names, nil
}
