package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mkotelnikov/ephemera/internal/models"
)

type SessionRepo interface {
	// Insert a new session row
	Save(ctx context.Context, session models.Session) error

	// Get session by refresh token digest regardless of its state
	// Has to return apperrors.ErrSessionNotFoundOrRevoked if no row matches
	GetByTokenHash(ctx context.Context, tokenHash string) (models.Session, error)

	// Consume a live session: set revoked_at in a single conditional
	// update. Succeeds for exactly one caller per session; a second
	// concurrent call, a revoked row, an expired row or an unknown digest
	// all return apperrors.ErrSessionNotFoundOrRevoked
	Consume(ctx context.Context, tokenHash string, now time.Time) (models.Session, error)

	// Revoke session by refresh token digest
	// Idempotent: already revoked or unknown digest is not an error
	Revoke(ctx context.Context, tokenHash string, now time.Time) error

	// Revoke every live session of the user, return the number revoked
	RevokeAllForUser(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error)

	// Delete sessions whose expires_at is older than cutoff.
	// Advisory cleanup for the retention sweep: expired rows already fail
	// validation, deleting them is not required for correctness
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
