package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mkotelnikov/ephemera/internal/apperrors"
	"github.com/mkotelnikov/ephemera/internal/models"
	"github.com/mkotelnikov/ephemera/internal/repository"
)

// SessionManager orchestrates issuance, rotation and revocation of
// token pairs backed by durable session rows.
type SessionManager struct {
	codec   *TokenCodec
	storage repository.Storage
}

func NewSessionManager(codec *TokenCodec, storage repository.Storage) (*SessionManager, error) {
	if codec == nil || storage == nil {
		return nil, errors.New("codec and storage must not be nil")
	}

	return &SessionManager{
		codec:   codec,
		storage: storage,
	}, nil
}

// Issue signs a fresh token pair for the user and persists a new
// session row holding the refresh token digest.
//
// The user row is re-read first: the access token must embed the
// current token version, a stale in-memory copy would let an
// invalidated generation leak back into circulation.
func (m *SessionManager) Issue(ctx context.Context, userID uuid.UUID, dev models.Device) (models.TokenPair, error) {
	user, err := m.storage.User().GetUserByID(ctx, userID)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("error while reading user. Err: %w", err)
	}

	now := time.Now()

	access, err := m.codec.SignAccess(user, now)
	if err != nil {
		return models.TokenPair{}, err
	}

	refresh, err := m.codec.SignRefresh(user.ID, now)
	if err != nil {
		return models.TokenPair{}, err
	}

	session := models.Session{
		ID:               uuid.New(),
		UserID:           user.ID,
		RefreshTokenHash: HashToken(refresh.Value),
		UserAgent:        nilIfEmpty(dev.UserAgent),
		IP:               nilIfEmpty(dev.IP),
		CreatedAt:        now.Truncate(time.Second),
		ExpiresAt:        refresh.ExpiresAt,
		RevokedAt:        nil,
	}

	err = m.storage.Session().Save(ctx, session)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("error while saving session. Err: %w", err)
	}

	return models.TokenPair{Access: access, Refresh: refresh}, nil
}

// Redeem rotates a refresh token: the presented token is consumed and a
// fresh pair is issued. A redeemed token is never redeemable again.
//
// Two concurrent calls with the same token cannot both succeed: the
// session row is consumed with a single conditional update before the
// replacement session becomes visible, so the losing caller fails with
// apperrors.ErrSessionNotFoundOrRevoked.
func (m *SessionManager) Redeem(ctx context.Context, refresh string, dev models.Device) (models.TokenPair, error) {
	claims, err := m.codec.VerifyRefresh(refresh)
	if err != nil {
		return models.TokenPair{}, err
	}

	_, err = m.storage.Session().Consume(ctx, HashToken(refresh), time.Now())
	if err != nil {
		return models.TokenPair{}, err
	}

	return m.Issue(ctx, claims.UserID, dev)
}

// RevokeOne revokes the session backing the refresh token.
// Idempotent: unknown, expired and already revoked tokens all succeed
func (m *SessionManager) RevokeOne(ctx context.Context, refresh string) error {
	return m.storage.Session().Revoke(ctx, HashToken(refresh), time.Now())
}

// RevokeAll invalidates every outstanding credential of the user at
// once: the token version bump kills all issued access tokens, the
// session sweep kills all refresh tokens. Both run in one transaction
// so the effects are durable together before the call returns.
func (m *SessionManager) RevokeAll(ctx context.Context, userID uuid.UUID) error {
	err := m.storage.InTx(ctx, func(s repository.Storage) error {
		_, err := s.User().BumpTokenVersion(ctx, userID)
		if err != nil {
			return err
		}

		_, err = s.Session().RevokeAllForUser(ctx, userID, time.Now())
		return err
	})
	if err != nil {
		return fmt.Errorf("error while revoking user sessions. Err: %w", err)
	}

	return nil
}

// Resolve turns a bearer access token into the caller's identity.
//
// Every failure kind (absent token, bad signature, expiry, unknown
// user, stale token version) collapses into
// apperrors.ErrUnauthenticated: downstream request handling must not be
// able to tell them apart. Storage infrastructure errors propagate as
// they are.
//
// One point read of the user row, no writes: safe to call on the hot
// path of every request and realtime connection.
func (m *SessionManager) Resolve(ctx context.Context, bearer string) (models.Identity, error) {
	identity, err := m.resolve(ctx, bearer)

	switch {
	case err == nil:
		return identity, nil
	case errors.Is(err, apperrors.ErrTokenExpired),
		errors.Is(err, apperrors.ErrTokenNotYetValid),
		errors.Is(err, apperrors.ErrTokenMalformed),
		errors.Is(err, apperrors.ErrTokenVersionMismatch),
		errors.Is(err, apperrors.ErrUserNotFound),
		errors.Is(err, apperrors.ErrUnauthenticated):
		return models.Identity{}, apperrors.ErrUnauthenticated
	default:
		return models.Identity{}, err
	}
}

// resolve keeps the specific failure kind; Resolve collapses it
func (m *SessionManager) resolve(ctx context.Context, bearer string) (models.Identity, error) {
	if bearer == "" {
		return models.Identity{}, apperrors.ErrUnauthenticated
	}

	claims, err := m.codec.VerifyAccess(bearer)
	if err != nil {
		return models.Identity{}, err
	}

	user, err := m.storage.User().GetUserByID(ctx, claims.UserID)
	if err != nil {
		return models.Identity{}, err
	}

	if claims.TokenVersion != user.TokenVersion {
		return models.Identity{}, apperrors.ErrTokenVersionMismatch
	}

	return models.Identity{UserID: user.ID, Verified: user.Verified}, nil
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
