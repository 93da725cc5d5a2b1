package auth

import "errors"

var (
	// ErrNotAuthenticated indicates a token was requested without an explicit
	// subject and no authenticated principal is present in the context.
	ErrNotAuthenticated = errors.New("auth: not authenticated")

	// ErrInvalidArgument indicates malformed caller input, for example an
	// empty custom claim key or a non-positive duration.
	ErrInvalidArgument = errors.New("auth: invalid argument")

	// ErrInvalidSignature indicates the token signature does not match the
	// key resolved for the claimed subject.
	ErrInvalidSignature = errors.New("auth: invalid token signature")

	// ErrTokenExpired is distinguished from other verification failures so a
	// caller can attempt a refresh flow instead of forcing a full re-login.
	ErrTokenExpired = errors.New("auth: token expired")

	// ErrClaimsInvalid indicates the token decoded but its claim set failed
	// validation.
	ErrClaimsInvalid = errors.New("auth: token claims invalid")

	// ErrAccountLocked indicates the login attempt throttle tripped.
	ErrAccountLocked = errors.New("auth: account temporarily locked")

	// ErrAccountDisabled indicates the principal is inactive.
	ErrAccountDisabled = errors.New("auth: account disabled")

	ErrUnauthorized = errors.New("auth: unauthorized")
	ErrNotFound     = errors.New("auth: not found")
)
