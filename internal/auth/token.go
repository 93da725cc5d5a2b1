package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claim names used in the token payload. Refresh metadata lives in
// namespaced custom claims so it survives round-trips through standard JWT
// tooling.
const (
	claimRefreshExpiration = "gitforge.refreshExpiration"
	claimParentTokenID     = "gitforge.parentTokenId"
	claimScope             = "scope"
	claimGroups            = "groups"
)

// reservedClaims are payload keys managed by the token itself; custom
// claims may not shadow them.
var reservedClaims = map[string]struct{}{
	"jti": {}, "sub": {}, "iss": {}, "iat": {}, "exp": {}, "nbf": {}, "aud": {},
	claimRefreshExpiration: {},
	claimParentTokenID:     {},
	claimScope:             {},
	claimGroups:            {},
}

// AccessToken is the decoded claim set of a signed bearer token. Tokens are
// immutable once built; a refresh produces a new token whose ParentID
// points at the refreshed token's ID. A freshly built token is its own
// parent.
type AccessToken struct {
	ID               string
	Subject          string
	Issuer           string
	IssuedAt         time.Time
	Expiration       time.Time
	RefreshableUntil time.Time
	ParentID         string
	Scope            Scope
	Groups           []string
	Custom           map[string]any
}

// Refreshable reports whether the token was issued with a refresh window.
func (t *AccessToken) Refreshable() bool {
	return !t.RefreshableUntil.IsZero()
}

// CustomValue returns the named custom claim.
func (t *AccessToken) CustomValue(key string) (any, bool) {
	v, ok := t.Custom[key]
	return v, ok
}

func (t *AccessToken) validate() error {
	if t.ID == "" || t.Subject == "" {
		return fmt.Errorf("%w: missing id or subject", ErrClaimsInvalid)
	}
	if t.IssuedAt.IsZero() || t.Expiration.IsZero() {
		return fmt.Errorf("%w: missing timestamps", ErrClaimsInvalid)
	}
	if !t.Expiration.After(t.IssuedAt) {
		return fmt.Errorf("%w: expiration precedes issued-at", ErrClaimsInvalid)
	}
	if t.Refreshable() && t.RefreshableUntil.Before(t.IssuedAt) {
		return fmt.Errorf("%w: refresh window precedes issued-at", ErrClaimsInvalid)
	}
	return nil
}

// jwt.Claims implementation. Expiry validation stays in the library; the
// remaining invariants are checked by validate.

func (t *AccessToken) GetExpirationTime() (*jwt.NumericDate, error) {
	if t.Expiration.IsZero() {
		return nil, nil
	}
	return jwt.NewNumericDate(t.Expiration), nil
}

func (t *AccessToken) GetIssuedAt() (*jwt.NumericDate, error) {
	if t.IssuedAt.IsZero() {
		return nil, nil
	}
	return jwt.NewNumericDate(t.IssuedAt), nil
}

func (t *AccessToken) GetNotBefore() (*jwt.NumericDate, error) { return nil, nil }
func (t *AccessToken) GetIssuer() (string, error)              { return t.Issuer, nil }
func (t *AccessToken) GetSubject() (string, error)             { return t.Subject, nil }
func (t *AccessToken) GetAudience() (jwt.ClaimStrings, error)  { return nil, nil }

// MarshalJSON flattens the claim set, including custom claims, into a
// single JWT payload object.
func (t AccessToken) MarshalJSON() ([]byte, error) {
	payload := map[string]any{
		"jti": t.ID,
		"sub": t.Subject,
		"iat": t.IssuedAt.Unix(),
		"exp": t.Expiration.Unix(),
	}
	if t.Issuer != "" {
		payload["iss"] = t.Issuer
	}
	if t.Refreshable() {
		payload[claimRefreshExpiration] = t.RefreshableUntil.Unix()
	}
	if t.ParentID != "" {
		payload[claimParentTokenID] = t.ParentID
	}
	if !t.Scope.Empty() {
		payload[claimScope] = []string(t.Scope)
	}
	if len(t.Groups) > 0 {
		payload[claimGroups] = t.Groups
	}
	for key, value := range t.Custom {
		if _, reserved := reservedClaims[key]; reserved {
			continue
		}
		payload[key] = value
	}
	return json.Marshal(payload)
}

// UnmarshalJSON restores the claim set; unknown payload keys become custom
// claims.
func (t *AccessToken) UnmarshalJSON(data []byte) error {
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	t.ID, _ = payload["jti"].(string)
	t.Subject, _ = payload["sub"].(string)
	t.Issuer, _ = payload["iss"].(string)
	if iat, ok := claimInt64(payload["iat"]); ok {
		t.IssuedAt = time.Unix(iat, 0).UTC()
	}
	if exp, ok := claimInt64(payload["exp"]); ok {
		t.Expiration = time.Unix(exp, 0).UTC()
	}
	if refresh, ok := claimInt64(payload[claimRefreshExpiration]); ok {
		t.RefreshableUntil = time.Unix(refresh, 0).UTC()
	}
	t.ParentID, _ = payload[claimParentTokenID].(string)
	t.Scope = NewScope(claimStrings(payload[claimScope])...)
	t.Groups = claimStrings(payload[claimGroups])
	t.Custom = nil
	for key, value := range payload {
		if _, reserved := reservedClaims[key]; reserved {
			continue
		}
		if t.Custom == nil {
			t.Custom = make(map[string]any)
		}
		t.Custom[key] = value
	}
	return nil
}

func claimInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return i, true
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}

func claimStrings(v any) []string {
	switch values := v.(type) {
	case []string:
		return values
	case []any:
		var out []string
		for _, item := range values {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Codec signs and verifies compact access tokens using HMAC-SHA256 with a
// key resolved per subject.
type Codec struct {
	keys KeyStore
	now  func() time.Time
}

// NewCodec constructs a codec. A nil clock defaults to time.Now.
func NewCodec(keys KeyStore, now func() time.Time) *Codec {
	if now == nil {
		now = time.Now
	}
	return &Codec{keys: keys, now: now}
}

// Encode signs the claim set with the key of the token's subject.
func (c *Codec) Encode(ctx context.Context, token *AccessToken) (string, error) {
	if err := token.validate(); err != nil {
		return "", err
	}
	key, err := c.keys.GetOrCreate(ctx, token.Subject)
	if err != nil {
		return "", err
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, token).SignedString(key.Bytes)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Decode verifies signature and expiration, returning the claim set.
// The signing key is resolved from the subject claimed inside the token,
// never from an external hint, so a forged token cannot select another
// subject's key.
func (c *Codec) Decode(ctx context.Context, compact string) (*AccessToken, error) {
	return c.decode(ctx, compact, false)
}

// DecodeExpired verifies the signature but tolerates an elapsed
// expiration. Used by the refresh flow, which has its own window check.
func (c *Codec) DecodeExpired(ctx context.Context, compact string) (*AccessToken, error) {
	return c.decode(ctx, compact, true)
}

func (c *Codec) decode(ctx context.Context, compact string, allowExpired bool) (*AccessToken, error) {
	options := []jwt.ParserOption{jwt.WithTimeFunc(func() time.Time { return c.now() })}
	if allowExpired {
		options = append(options, jwt.WithoutClaimsValidation())
	}
	claims := &AccessToken{}
	parsed, err := jwt.ParseWithClaims(compact, claims, c.keyfunc(ctx), options...)
	if err != nil {
		return nil, mapTokenError(err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidSignature
	}
	if err := claims.validate(); err != nil {
		return nil, err
	}
	return claims, nil
}

func (c *Codec) keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidSignature
		}
		claims, ok := token.Claims.(*AccessToken)
		if !ok || claims.Subject == "" {
			return nil, ErrClaimsInvalid
		}
		key, err := c.keys.GetOrCreate(ctx, claims.Subject)
		if err != nil {
			return nil, err
		}
		return key.Bytes, nil
	}
}

func mapTokenError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidSignature) || errors.Is(err, ErrClaimsInvalid) ||
		errors.Is(err, ErrTokenExpired):
		return err
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrInvalidSignature
	default:
		return fmt.Errorf("%w: %v", ErrClaimsInvalid, err)
	}
}
