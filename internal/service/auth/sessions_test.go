package auth

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
	"github.com/mkotelnikov/ephemera/internal/repository/postgres"
	"github.com/mkotelnikov/ephemera/internal/testutil"
)

func createTestUser(t *testing.T, storage repository.Storage, username string) models.User {
	t.Helper()

	user, err := storage.User().CreateUser(t.Context(), repository.CreateUserParams{
		Username:     username,
		PasswordHash: "hashed_password",
	})
	require.NoError(t, err)
	return user
}

func Test_SessionManager(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	codec := mustCodec(t, CodecConfig{
		SecretKey:  "test-secret-key",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
	})
	dev := models.Device{UserAgent: "test-agent", IP: "127.0.0.1"}

	t.Run("issue pair ok", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			storage := postgres.NewStorage(tx)
			m, err := NewSessionManager(codec, storage)
			require.NoError(t, err)
			user := createTestUser(t, storage, "issueuser")

			pair, err := m.Issue(t.Context(), user.ID, dev)

			require.NoError(t, err)
			assert.NotEmpty(t, pair.Access.Value)
			assert.NotEmpty(t, pair.Refresh.Value)

			session, err := storage.Session().GetByTokenHash(t.Context(), HashToken(pair.Refresh.Value))
			require.NoError(t, err, "session row should be stored under the token digest")
			assert.Equal(t, user.ID, session.UserID)
			require.NotNil(t, session.UserAgent)
			assert.Equal(t, "test-agent", *session.UserAgent)
			require.NotNil(t, session.IP)
			assert.Equal(t, "127.0.0.1", *session.IP)
			assert.Nil(t, session.RevokedAt)
			assert.WithinDuration(t, time.Now().Add(24*time.Hour), session.ExpiresAt, time.Second)
		})
	})

	t.Run("issue fails for unknown user", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			storage := postgres.NewStorage(tx)
			m, err := NewSessionManager(codec, storage)
			require.NoError(t, err)

			_, err = m.Issue(t.Context(), uuid.New(), dev)

			require.ErrorIs(t, err, apperrors.ErrUserNotFound)
		})
	})

	t.Run("issue then resolve", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			storage := postgres.NewStorage(tx)
			m, err := NewSessionManager(codec, storage)
			require.NoError(t, err)
			user := createTestUser(t, storage, "resolveuser")

			pair, err := m.Issue(t.Context(), user.ID, dev)
			require.NoError(t, err)

			identity, err := m.Resolve(t.Context(), pair.Access.Value)

			require.NoError(t, err)
			assert.Equal(t, user.ID, identity.UserID)
			assert.False(t, identity.Verified)
		})
	})

	t.Run("redeem rotates the session", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			storage := postgres.NewStorage(tx)
			m, err := NewSessionManager(codec, storage)
			require.NoError(t, err)
			user := createTestUser(t, storage, "redeemuser")

			pair, err := m.Issue(t.Context(), user.ID, dev)
			require.NoError(t, err)

			next, err := m.Redeem(t.Context(), pair.Refresh.Value, dev)

			require.NoError(t, err)
			assert.NotEqual(t, pair.Refresh.Value, next.Refresh.Value)

			// Redeemed token still verifies as a signature, only the
			// session row knows it is spent
			_, err = codec.VerifyRefresh(pair.Refresh.Value)
			require.NoError(t, err)

			_, err = m.Redeem(t.Context(), pair.Refresh.Value, dev)
			require.ErrorIs(t, err, apperrors.ErrSessionNotFoundOrRevoked, "second redeem of the same token should fail")

			_, err = m.Redeem(t.Context(), next.Refresh.Value, dev)
			require.NoError(t, err, "the replacement token should stay redeemable")
		})
	})

	t.Run("redeem expired token with session row", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			storage := postgres.NewStorage(tx)
			m, err := NewSessionManager(codec, storage)
			require.NoError(t, err)
			user := createTestUser(t, storage, "expireduser")

			refresh, err := codec.SignRefresh(user.ID, time.Now().Add(-25*time.Hour))
			require.NoError(t, err)
			err = storage.Session().Save(t.Context(), models.Session{
				ID:               uuid.New(),
				UserID:           user.ID,
				RefreshTokenHash: HashToken(refresh.Value),
				CreatedAt:        time.Now().Add(-25 * time.Hour),
				ExpiresAt:        refresh.ExpiresAt,
			})
			require.NoError(t, err)

			_, err = m.Redeem(t.Context(), refresh.Value, dev)

			require.ErrorIs(t, err, apperrors.ErrTokenExpired, "claims expiry should be reported before session state")
		})
	})

	t.Run("redeem token without session row", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			storage := postgres.NewStorage(tx)
			m, err := NewSessionManager(codec, storage)
			require.NoError(t, err)
			user := createTestUser(t, storage, "norowuser")

			refresh, err := codec.SignRefresh(user.ID, time.Now())
			require.NoError(t, err)

			_, err = m.Redeem(t.Context(), refresh.Value, dev)

			require.ErrorIs(t, err, apperrors.ErrSessionNotFoundOrRevoked)
		})
	})

	t.Run("redeem garbage", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			storage := postgres.NewStorage(tx)
			m, err := NewSessionManager(codec, storage)
			require.NoError(t, err)

			_, err = m.Redeem(t.Context(), "garbage", dev)

			require.ErrorIs(t, err, apperrors.ErrTokenMalformed)
		})
	})

	t.Run("revoke one idempotent", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			storage := postgres.NewStorage(tx)
			m, err := NewSessionManager(codec, storage)
			require.NoError(t, err)
			user := createTestUser(t, storage, "revokeuser")

			pair, err := m.Issue(t.Context(), user.ID, dev)
			require.NoError(t, err)

			require.NoError(t, m.RevokeOne(t.Context(), pair.Refresh.Value))
			require.NoError(t, m.RevokeOne(t.Context(), pair.Refresh.Value), "second revoke should not fail")
			require.NoError(t, m.RevokeOne(t.Context(), "never-issued"), "unknown token should not fail")

			_, err = m.Redeem(t.Context(), pair.Refresh.Value, dev)
			require.ErrorIs(t, err, apperrors.ErrSessionNotFoundOrRevoked)
		})
	})

	t.Run("revoke all kills every credential", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			storage := postgres.NewStorage(tx)
			m, err := NewSessionManager(codec, storage)
			require.NoError(t, err)
			user := createTestUser(t, storage, "revokealluser")

			laptop, err := m.Issue(t.Context(), user.ID, models.Device{UserAgent: "laptop"})
			require.NoError(t, err)
			phone, err := m.Issue(t.Context(), user.ID, models.Device{UserAgent: "phone"})
			require.NoError(t, err)

			err = m.RevokeAll(t.Context(), user.ID)
			require.NoError(t, err)

			_, err = m.Redeem(t.Context(), laptop.Refresh.Value, dev)
			assert.ErrorIs(t, err, apperrors.ErrSessionNotFoundOrRevoked)
			_, err = m.Redeem(t.Context(), phone.Refresh.Value, dev)
			assert.ErrorIs(t, err, apperrors.ErrSessionNotFoundOrRevoked)

			_, err = m.Resolve(t.Context(), laptop.Access.Value)
			assert.ErrorIs(t, err, apperrors.ErrUnauthenticated, "version bump should kill unexpired access tokens")
			_, err = m.Resolve(t.Context(), phone.Access.Value)
			assert.ErrorIs(t, err, apperrors.ErrUnauthenticated)
		})
	})

	t.Run("resolve failure kinds collapse", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			storage := postgres.NewStorage(tx)
			m, err := NewSessionManager(codec, storage)
			require.NoError(t, err)
			user := createTestUser(t, storage, "collapseuser")

			expired, err := codec.SignAccess(user, time.Now().Add(-16*time.Minute))
			require.NoError(t, err)
			unknownUser, err := codec.SignAccess(models.User{ID: uuid.New()}, time.Now())
			require.NoError(t, err)

			for name, bearer := range map[string]string{
				"empty":        "",
				"garbage":      "garbage",
				"expired":      expired.Value,
				"unknown user": unknownUser.Value,
			} {
				_, err := m.Resolve(t.Context(), bearer)
				assert.ErrorIs(t, err, apperrors.ErrUnauthenticated, "case %q", name)
			}
		})
	})
}
