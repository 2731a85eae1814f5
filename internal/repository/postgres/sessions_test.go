package postgres

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkotelnikov/ephemera/internal/apperrors"
	"github.com/mkotelnikov/ephemera/internal/models"
	"github.com/mkotelnikov/ephemera/internal/repository"
	"github.com/mkotelnikov/ephemera/internal/testutil"
)

func Test_SessionRepo(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	strptr := func(s string) *string { return &s }

	// Sessions reference users, so every case creates its owner first
	makeUser := func(t *testing.T, tx pgx.Tx, username string) models.User {
		t.Helper()
		r := &UserRepo{db: tx}
		user, err := r.CreateUser(t.Context(), repository.CreateUserParams{Username: username, PasswordHash: "hash"})
		require.NoError(t, err)
		return user
	}

	makeSession := func(user models.User, hash string, expiresAt time.Time) models.Session {
		return models.Session{
			ID:               uuid.New(),
			UserID:           user.ID,
			RefreshTokenHash: hash,
			UserAgent:        strptr("test-agent"),
			IP:               strptr("127.0.0.1"),
			CreatedAt:        time.Now().Truncate(time.Second),
			ExpiresAt:        expiresAt.Truncate(time.Second),
		}
	}

	t.Run("save and get", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := &SessionRepo{db: tx}
			user := makeUser(t, tx, "saveuser")
			session := makeSession(user, "digest-save", time.Now().Add(24*time.Hour))

			err := r.Save(t.Context(), session)
			require.NoError(t, err)

			got, err := r.GetByTokenHash(t.Context(), "digest-save")
			require.NoError(t, err)
			assert.Equal(t, session.ID, got.ID)
			assert.Equal(t, user.ID, got.UserID)
			assert.Equal(t, "digest-save", got.RefreshTokenHash)
			assert.Equal(t, "test-agent", *got.UserAgent)
			assert.Equal(t, "127.0.0.1", *got.IP)
			assert.Nil(t, got.RevokedAt)
		})
	})

	t.Run("save fails on duplicate digest", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := &SessionRepo{db: tx}
			user := makeUser(t, tx, "dupuser")

			require.NoError(t, r.Save(t.Context(), makeSession(user, "digest-dup", time.Now().Add(time.Hour))))

			err := r.Save(t.Context(), makeSession(user, "digest-dup", time.Now().Add(time.Hour)))
			require.Error(t, err, "refresh token digest must be unique")
		})
	})

	t.Run("get unknown digest", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := &SessionRepo{db: tx}

			_, err := r.GetByTokenHash(t.Context(), "never-stored")

			require.ErrorIs(t, err, apperrors.ErrSessionNotFoundOrRevoked)
		})
	})

	t.Run("consume live session once", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := &SessionRepo{db: tx}
			user := makeUser(t, tx, "consumeuser")
			require.NoError(t, r.Save(t.Context(), makeSession(user, "digest-consume", time.Now().Add(time.Hour))))

			got, err := r.Consume(t.Context(), "digest-consume", time.Now())
			require.NoError(t, err)
			assert.Equal(t, user.ID, got.UserID)
			require.NotNil(t, got.RevokedAt, "consumed session should come back revoked")

			_, err = r.Consume(t.Context(), "digest-consume", time.Now())
			require.ErrorIs(t, err, apperrors.ErrSessionNotFoundOrRevoked, "a session is consumable exactly once")
		})
	})

	t.Run("consume expired session", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := &SessionRepo{db: tx}
			user := makeUser(t, tx, "conexpuser")
			require.NoError(t, r.Save(t.Context(), makeSession(user, "digest-expired", time.Now().Add(-time.Minute))))

			_, err := r.Consume(t.Context(), "digest-expired", time.Now())

			require.ErrorIs(t, err, apperrors.ErrSessionNotFoundOrRevoked)
		})
	})

	t.Run("consume unknown digest", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := &SessionRepo{db: tx}

			_, err := r.Consume(t.Context(), "never-stored", time.Now())

			require.ErrorIs(t, err, apperrors.ErrSessionNotFoundOrRevoked)
		})
	})

	t.Run("revoke keeps first revocation time", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := &SessionRepo{db: tx}
			user := makeUser(t, tx, "revuser")
			require.NoError(t, r.Save(t.Context(), makeSession(user, "digest-revoke", time.Now().Add(time.Hour))))

			first := time.Now().Truncate(time.Second)
			require.NoError(t, r.Revoke(t.Context(), "digest-revoke", first))
			require.NoError(t, r.Revoke(t.Context(), "digest-revoke", first.Add(time.Minute)))

			got, err := r.GetByTokenHash(t.Context(), "digest-revoke")
			require.NoError(t, err)
			require.NotNil(t, got.RevokedAt)
			assert.WithinDuration(t, first, *got.RevokedAt, time.Second, "later revoke should not move revoked_at")

			require.NoError(t, r.Revoke(t.Context(), "never-stored", time.Now()), "unknown digest should revoke quietly")
		})
	})

	t.Run("revoke all for user", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := &SessionRepo{db: tx}
			owner := makeUser(t, tx, "owneruser")
			other := makeUser(t, tx, "otheruser")

			require.NoError(t, r.Save(t.Context(), makeSession(owner, "digest-own-1", time.Now().Add(time.Hour))))
			require.NoError(t, r.Save(t.Context(), makeSession(owner, "digest-own-2", time.Now().Add(time.Hour))))
			require.NoError(t, r.Save(t.Context(), makeSession(other, "digest-other", time.Now().Add(time.Hour))))
			require.NoError(t, r.Revoke(t.Context(), "digest-own-2", time.Now()))

			revoked, err := r.RevokeAllForUser(t.Context(), owner.ID, time.Now())
			require.NoError(t, err)
			assert.Equal(t, int64(1), revoked, "only live sessions of the user should count")

			_, err = r.Consume(t.Context(), "digest-own-1", time.Now())
			assert.ErrorIs(t, err, apperrors.ErrSessionNotFoundOrRevoked)
			_, err = r.Consume(t.Context(), "digest-other", time.Now())
			assert.NoError(t, err, "other users sessions should stay alive")
		})
	})

	t.Run("delete expired before cutoff", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := &SessionRepo{db: tx}
			user := makeUser(t, tx, "sweepuser")

			require.NoError(t, r.Save(t.Context(), makeSession(user, "digest-old", time.Now().Add(-48*time.Hour))))
			require.NoError(t, r.Save(t.Context(), makeSession(user, "digest-live", time.Now().Add(time.Hour))))

			deleted, err := r.DeleteExpiredBefore(t.Context(), time.Now().Add(-24*time.Hour))
			require.NoError(t, err)
			assert.Equal(t, int64(1), deleted)

			_, err = r.GetByTokenHash(t.Context(), "digest-old")
			assert.ErrorIs(t, err, apperrors.ErrSessionNotFoundOrRevoked)
			_, err = r.GetByTokenHash(t.Context(), "digest-live")
			assert.NoError(t, err)
		})
	})
}
