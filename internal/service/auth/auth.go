package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mkotelnikov/ephemera/internal/apperrors"
	"github.com/mkotelnikov/ephemera/internal/models"
	"github.com/mkotelnikov/ephemera/internal/repository"
)

const (
	defaultAccessHeaderName  = "Authorization"
	defaultAccessAuthScheme  = "Bearer"
	defaultRefreshCookieName = "refresh_token"
)

type Config struct {
	// Secret key to sign token payloads
	SecretKey string

	// Hasher used for passwords on signup, login and password change
	Hasher PasswordHasher

	// Access and refresh token lifetimes
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// AuthService is the boundary the rest of the system talks to:
// credential checks, token pair lifecycle and identity resolution.
type AuthService struct {
	sessions *SessionManager
	hasher   PasswordHasher
	storage  repository.Storage

	accessHeaderName  string
	accessAuthScheme  string
	refreshCookieName string
}

func NewService(cfg Config, storage repository.Storage) (*AuthService, error) {
	if storage == nil {
		return nil, errors.New("storage must not be nil")
	}

	hasher := cfg.Hasher
	if hasher == nil {
		hasher = DefaultHasher
	}

	codec, err := NewCodec(CodecConfig{
		SecretKey:  cfg.SecretKey,
		AccessTTL:  cfg.AccessTokenTTL,
		RefreshTTL: cfg.RefreshTokenTTL,
	})
	if err != nil {
		return nil, err
	}

	sessions, err := NewSessionManager(codec, storage)
	if err != nil {
		return nil, err
	}

	return &AuthService{
		sessions: sessions,
		hasher:   hasher,
		storage:  storage,

		accessHeaderName:  defaultAccessHeaderName,
		accessAuthScheme:  defaultAccessAuthScheme,
		refreshCookieName: defaultRefreshCookieName,
	}, nil
}

// Signup creates a user and issues the initial token pair
// Has to return apperrors.ErrUserAlreadyExists if username is taken
func (s *AuthService) Signup(ctx context.Context, username string, password string, dev models.Device) (models.TokenPair, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("can't use this as password. Err: %w", err)
	}

	user, err := s.storage.User().CreateUser(ctx, repository.CreateUserParams{
		Username:     username,
		PasswordHash: hash,
	})
	if err != nil {
		return models.TokenPair{}, err
	}

	return s.sessions.Issue(ctx, user.ID, dev)
}

// Login verifies credentials and issues a token pair.
// Unknown username and wrong password are deliberately the same
// apperrors.ErrCredentialMismatch: no account existence leak
func (s *AuthService) Login(ctx context.Context, username string, password string, dev models.Device) (models.TokenPair, error) {
	user, err := s.storage.User().GetUserByUsername(ctx, username)

	switch {
	case err == nil:
	case errors.Is(err, apperrors.ErrUserNotFound):
		return models.TokenPair{}, apperrors.ErrCredentialMismatch
	default:
		return models.TokenPair{}, fmt.Errorf("error while reading user. Err: %w", err)
	}

	if s.hasher.Compare(user.HashedPassword, password) != nil {
		return models.TokenPair{}, apperrors.ErrCredentialMismatch
	}

	return s.sessions.Issue(ctx, user.ID, dev)
}

// Refresh redeems a refresh token for a fresh pair, rotating the
// backing session. Surfaces the specific failure kind: expired,
// malformed, revoked/not found, user not found
func (s *AuthService) Refresh(ctx context.Context, refresh string, dev models.Device) (models.TokenPair, error) {
	return s.sessions.Redeem(ctx, refresh, dev)
}

// Logout revokes the session behind the refresh token
// Always succeeds: revoking an unknown or revoked token is not an error
func (s *AuthService) Logout(ctx context.Context, refresh string) error {
	return s.sessions.RevokeOne(ctx, refresh)
}

// LogoutEverywhere invalidates every outstanding access and refresh
// token of the user at once
func (s *AuthService) LogoutEverywhere(ctx context.Context, userID uuid.UUID) error {
	return s.sessions.RevokeAll(ctx, userID)
}

// OnPasswordChanged is LogoutEverywhere under its lifecycle name:
// called whenever the stored password hash changes
func (s *AuthService) OnPasswordChanged(ctx context.Context, userID uuid.UUID) error {
	return s.sessions.RevokeAll(ctx, userID)
}

// ChangePassword verifies the current password, stores the new hash and
// revokes every outstanding credential
func (s *AuthService) ChangePassword(ctx context.Context, userID uuid.UUID, current string, next string) error {
	user, err := s.storage.User().GetUserByID(ctx, userID)
	if err != nil {
		return err
	}

	if s.hasher.Compare(user.HashedPassword, current) != nil {
		return apperrors.ErrCredentialMismatch
	}

	hash, err := s.hasher.Hash(next)
	if err != nil {
		return fmt.Errorf("can't use this as password. Err: %w", err)
	}

	err = s.storage.User().SetPassword(ctx, repository.SetPasswordParams{
		UserID:       userID,
		PasswordHash: hash,
	})
	if err != nil {
		return err
	}

	return s.OnPasswordChanged(ctx, userID)
}

// Resolve turns a bearer token into the caller's identity or
// apperrors.ErrUnauthenticated, nothing in between
func (s *AuthService) Resolve(ctx context.Context, bearer string) (models.Identity, error) {
	return s.sessions.Resolve(ctx, bearer)
}

// IdentityFromRequest resolves the identity of an HTTP request.
// An absent Authorization header resolves the same way any invalid
// token does
func (s *AuthService) IdentityFromRequest(ctx context.Context, r *http.Request) (models.Identity, error) {
	return s.Resolve(ctx, s.bearerFromRequest(r))
}

// SetTokenPair writes the pair to the response: access token in the
// Authorization header, refresh token in an http-only cookie
func (s *AuthService) SetTokenPair(w http.ResponseWriter, pair models.TokenPair) {
	w.Header().Set(s.accessHeaderName, s.accessAuthScheme+" "+pair.Access.Value)
	http.SetCookie(w, &http.Cookie{
		Name:     s.refreshCookieName,
		Value:    pair.Refresh.Value,
		Path:     "/",
		Expires:  pair.Refresh.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

// SetTokenPairToRequest mirrors SetTokenPair for outgoing requests,
// mostly useful in tests
func (s *AuthService) SetTokenPairToRequest(r *http.Request, pair models.TokenPair) {
	r.Header.Set(s.accessHeaderName, s.accessAuthScheme+" "+pair.Access.Value)
	r.AddCookie(&http.Cookie{
		Name:  s.refreshCookieName,
		Value: pair.Refresh.Value,
	})
}

// RefreshFromRequest reads the refresh token from the request cookie
func (s *AuthService) RefreshFromRequest(r *http.Request) (string, error) {
	cookie, err := r.Cookie(s.refreshCookieName)
	if err != nil {
		return "", apperrors.ErrUnauthenticated
	}
	return cookie.Value, nil
}

// DeviceFromRequest captures the client metadata stored on the session
func (s *AuthService) DeviceFromRequest(r *http.Request) models.Device {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ip = host
	}

	return models.Device{
		UserAgent: r.UserAgent(),
		IP:        ip,
	}
}

func (s *AuthService) bearerFromRequest(r *http.Request) string {
	value := r.Header.Get(s.accessHeaderName)
	if value == "" {
		return ""
	}

	scheme, token, found := strings.Cut(value, " ")
	if !found || !strings.EqualFold(scheme, s.accessAuthScheme) {
		return ""
	}

	return strings.TrimSpace(token)
}
