package apperrors

import (
	"errors"
)

// Closed set of failures the auth core may return.
// Callers match with errors.Is instead of inspecting messages.
var (
	ErrUserAlreadyExists = errors.New("user already exists")
	ErrUserNotFound      = errors.New("user not found")

	// Token codec failures
	ErrTokenExpired     = errors.New("token is expired")
	ErrTokenNotYetValid = errors.New("token is not valid yet")
	ErrTokenMalformed   = errors.New("token is malformed or has bad signature")

	// Access token was issued under a since-invalidated token version
	ErrTokenVersionMismatch = errors.New("token version mismatch")

	// Refresh token has no matching live session row
	ErrSessionNotFoundOrRevoked = errors.New("session not found or revoked")

	// Wrong password or unknown login: deliberately the same error
	ErrCredentialMismatch = errors.New("credentials do not match")

	// Collapsed failure returned by Resolve: the caller must not be able
	// to tell an absent token from an invalid, expired or stale one
	ErrUnauthenticated = errors.New("not authenticated")
)
