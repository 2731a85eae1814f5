package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID             uuid.UUID
	CreatedAt      time.Time
	Username       string
	HashedPassword string

	// Generation counter for all access tokens issued to this user.
	// Bumping it invalidates every outstanding access token at once.
	TokenVersion int64

	// Carried into access token claims for downstream authorization
	Verified bool
}

// Identity is the result of resolving a bearer token.
// It is all the rest of the system is allowed to learn about the caller.
type Identity struct {
	UserID   uuid.UUID
	Verified bool
}
