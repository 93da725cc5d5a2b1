package auth

import "context"

type contextKey string

const (
	principalKey contextKey = "auth.principal"
	tokenKey     contextKey = "auth.token"
)

// ContextWithPrincipal attaches a verified principal to the context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the principal attached by the
// authentication middleware.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// ContextWithToken attaches the decoded access token to the context.
func ContextWithToken(ctx context.Context, t *AccessToken) context.Context {
	return context.WithValue(ctx, tokenKey, t)
}

// TokenFromContext returns the access token the request authenticated
// with, if any.
func TokenFromContext(ctx context.Context) (*AccessToken, bool) {
	t, ok := ctx.Value(tokenKey).(*AccessToken)
	return t, ok && t != nil
}
