package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mkotelnikov/ephemera/internal/apperrors"
	"github.com/mkotelnikov/ephemera/internal/models"
)

type SessionRepo struct {
	db DBTX
}

const saveSession = `-- name: SaveSession
INSERT INTO sessions (id, user_id, refresh_token_hash, user_agent, ip, created_at, expires_at, revoked_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id
`

func (r *SessionRepo) Save(ctx context.Context, s models.Session) error {
	rows, _ := r.db.Query(ctx, saveSession,
		s.ID, s.UserID, s.RefreshTokenHash, s.UserAgent, s.IP, s.CreatedAt, s.ExpiresAt, s.RevokedAt,
	)
	_, err := pgx.CollectOneRow(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

const getSession = `-- name: GetSession by refresh token digest
SELECT id, user_id, user_agent, ip, created_at, expires_at, revoked_at
FROM sessions
WHERE refresh_token_hash = $1
`

// Get session whatever its state: revoked and expired rows are returned too
func (r *SessionRepo) GetByTokenHash(ctx context.Context, tokenHash string) (models.Session, error) {
	rows, _ := r.db.Query(ctx, getSession, tokenHash)
	session, err := pgx.CollectOneRow(rows, rowToSession(tokenHash))

	switch {
	case err == nil:
		return session, nil
	case errors.Is(err, pgx.ErrNoRows):
		return session, apperrors.ErrSessionNotFoundOrRevoked
	default:
		return session, fmt.Errorf("db error: %w", err)
	}
}

const consumeSession = `-- name: ConsumeSession
UPDATE sessions
SET revoked_at = $2
WHERE refresh_token_hash = $1
  AND revoked_at IS NULL
  AND expires_at > $2
RETURNING id, user_id, user_agent, ip, created_at, expires_at, revoked_at
`

// Consume a live session in one conditional update. The 'revoked_at IS
// NULL' guard makes concurrent redemption race-safe: only the first
// caller matches the row, everyone else sees zero rows and fails
func (r *SessionRepo) Consume(ctx context.Context, tokenHash string, now time.Time) (models.Session, error) {
	rows, _ := r.db.Query(ctx, consumeSession, tokenHash, now)
	session, err := pgx.CollectOneRow(rows, rowToSession(tokenHash))

	switch {
	case err == nil:
		return session, nil
	case errors.Is(err, pgx.ErrNoRows):
		return session, apperrors.ErrSessionNotFoundOrRevoked
	default:
		return session, fmt.Errorf("db error: %w", err)
	}
}

const revokeSession = `-- name: RevokeSession
UPDATE sessions
SET revoked_at = COALESCE(revoked_at, $2)
WHERE refresh_token_hash = $1
`

// Revoke never overwrites an earlier revocation and treats an unknown
// digest as done already
func (r *SessionRepo) Revoke(ctx context.Context, tokenHash string, now time.Time) error {
	_, err := r.db.Exec(ctx, revokeSession, tokenHash, now)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

const revokeAllForUser = `-- name: RevokeAllForUser
UPDATE sessions
SET revoked_at = $2
WHERE user_id = $1 AND revoked_at IS NULL
`

func (r *SessionRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, revokeAllForUser, userID, now)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

const deleteExpiredSessions = `-- name: DeleteExpiredSessions
DELETE FROM sessions
WHERE expires_at < $1
`

func (r *SessionRepo) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, deleteExpiredSessions, cutoff)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

func rowToSession(tokenHash string) func(row pgx.CollectableRow) (models.Session, error) {
	return func(row pgx.CollectableRow) (models.Session, error) {
		var s = models.Session{RefreshTokenHash: tokenHash}
		err := row.Scan(&s.ID, &s.UserID, &s.UserAgent, &s.IP, &s.CreatedAt, &s.ExpiresAt, &s.RevokedAt)
		return s, err
	}
}
