package models

import (
	"time"

	"github.com/google/uuid"
)

// Session is the durable record backing one issued refresh token.
// The raw refresh token is never persisted, only its sha256 hex digest.
// The row is mutated exactly once: to set RevokedAt on logout,
// logout-everywhere, password change or rotation.
type Session struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	RefreshTokenHash string
	UserAgent        *string
	IP               *string
	CreatedAt        time.Time
	ExpiresAt        time.Time
	RevokedAt        *time.Time // nil while the session is live
}

// Device is the client metadata captured at session creation
type Device struct {
	UserAgent string
	IP        string
}
