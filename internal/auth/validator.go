package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

const (
	xsrfClaim  = "xsrf"
	xsrfHeader = "X-XSRF-Token"
)

// Request carries the pieces of an HTTP request that claim validators may
// inspect, without coupling this package to net/http.
type Request struct {
	Method string
	Path   string
	Header func(name string) string
}

func (r *Request) header(name string) string {
	if r == nil || r.Header == nil {
		return ""
	}
	return r.Header(name)
}

// ClaimsValidator checks a decoded token against the request it arrived
// with. Validators run after signature and expiry verification.
type ClaimsValidator func(ctx context.Context, req *Request, token *AccessToken) error

// XsrfValidator enforces the anti-forgery claim: when a token carries an
// xsrf claim, mutating requests must echo it in the X-XSRF-Token header.
// Tokens without the claim, safe methods and non-HTTP verifications pass.
func XsrfValidator(ctx context.Context, req *Request, token *AccessToken) error {
	if req == nil {
		return nil
	}
	value, ok := token.CustomValue(xsrfClaim)
	if !ok {
		return nil
	}
	switch req.Method {
	case "GET", "HEAD", "OPTIONS":
		return nil
	}
	expected, _ := value.(string)
	if expected == "" || req.header(xsrfHeader) != expected {
		return fmt.Errorf("%w: xsrf token mismatch", ErrClaimsInvalid)
	}
	return nil
}

// XsrfEnricher stamps a random anti-forgery claim on every new token. A
// claim carried over from a refreshed token is kept so the client's stored
// value stays valid.
func XsrfEnricher(_ context.Context, b *TokenBuilder) {
	if b.HasCustom(xsrfClaim) {
		return
	}
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		b.fail(fmt.Errorf("generate xsrf token: %w", err))
		return
	}
	b.Custom(xsrfClaim, base64.RawURLEncoding.EncodeToString(buf))
}
