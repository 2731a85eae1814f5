package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/mkotelnikov/ephemera/internal/apperrors"
	"github.com/mkotelnikov/ephemera/internal/models"
)

const (
	defaultAccessTokenTTL  = 1 * time.Hour
	defaultRefreshTokenTTL = 7 * 24 * time.Hour
	defaultSigningMethod   = "HS256"

	// 'use' claim values keep the two token formats from being
	// presented interchangeably
	useAccess  = "access"
	useRefresh = "refresh"
)

type AccessClaims struct {
	jwt.RegisteredClaims
	Use          string    `json:"use"`
	UserID       uuid.UUID `json:"uid"`
	Verified     bool      `json:"vrf"`
	TokenVersion int64     `json:"ver"`
}

// Refresh claims deliberately omit the token version: mass invalidation
// of refresh tokens goes through session rows, not the version counter
type RefreshClaims struct {
	jwt.RegisteredClaims
	Use    string    `json:"use"`
	UserID uuid.UUID `json:"uid"`
}

type CodecConfig struct {
	// Secret key to sign token payloads
	// Required to be set
	SecretKey string

	// JWT MAC (Message Authentication Code) algorithm
	// If not set than default is used
	Alg string

	// Access and refresh token lifetimes
	// If not set than default is used
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// TokenCodec signs and verifies the two token formats.
// It is stateless and pure: every signature and expiry check happens
// here, never in callers.
type TokenCodec struct {
	key        string
	alg        jwt.SigningMethod
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewCodec(cfg CodecConfig) (*TokenCodec, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("secret key must not be empty")
	}

	if cfg.Alg == "" {
		cfg.Alg = defaultSigningMethod
	}

	setDefaultDuration := func(field *time.Duration, def time.Duration) {
		if *field == 0 {
			*field = def
		}
	}
	setDefaultDuration(&cfg.AccessTTL, defaultAccessTokenTTL)
	setDefaultDuration(&cfg.RefreshTTL, defaultRefreshTokenTTL)

	return &TokenCodec{
		key:        cfg.SecretKey,
		alg:        jwt.GetSigningMethod(cfg.Alg),
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
	}, nil
}

// SignAccess embeds the user's current token version and verified flag
func (c *TokenCodec) SignAccess(user models.User, now time.Time) (models.IssuedToken, error) {
	now = now.Truncate(time.Second)
	expiresAt := now.Add(c.accessTTL)

	token := jwt.NewWithClaims(
		c.alg,
		AccessClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				ID:        uuid.NewString(),
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(expiresAt),
			},
			Use:          useAccess,
			UserID:       user.ID,
			Verified:     user.Verified,
			TokenVersion: user.TokenVersion,
		},
	)

	signed, err := token.SignedString([]byte(c.key))
	if err != nil {
		return models.IssuedToken{}, fmt.Errorf("error while signing access token. Err: %w", err)
	}

	return models.IssuedToken{Value: signed, ExpiresAt: expiresAt}, nil
}

func (c *TokenCodec) SignRefresh(userID uuid.UUID, now time.Time) (models.IssuedToken, error) {
	now = now.Truncate(time.Second)
	expiresAt := now.Add(c.refreshTTL)

	token := jwt.NewWithClaims(
		c.alg,
		RefreshClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				ID:        uuid.NewString(),
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(expiresAt),
			},
			Use:    useRefresh,
			UserID: userID,
		},
	)

	signed, err := token.SignedString([]byte(c.key))
	if err != nil {
		return models.IssuedToken{}, fmt.Errorf("error while signing refresh token. Err: %w", err)
	}

	return models.IssuedToken{Value: signed, ExpiresAt: expiresAt}, nil
}

// VerifyAccess parses and validates an access token.
// Failure is always one of the codec errors from apperrors
func (c *TokenCodec) VerifyAccess(token string) (AccessClaims, error) {
	claims := AccessClaims{}

	err := c.parse(token, &claims)
	if err != nil {
		return AccessClaims{}, err
	}

	if claims.Use != useAccess {
		return AccessClaims{}, apperrors.ErrTokenMalformed
	}

	return claims, nil
}

func (c *TokenCodec) VerifyRefresh(token string) (RefreshClaims, error) {
	claims := RefreshClaims{}

	err := c.parse(token, &claims)
	if err != nil {
		return RefreshClaims{}, err
	}

	if claims.Use != useRefresh {
		return RefreshClaims{}, apperrors.ErrTokenMalformed
	}

	return claims, nil
}

func (c *TokenCodec) parse(token string, claims jwt.Claims) error {
	_, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (any, error) { return []byte(c.key), nil },
		jwt.WithValidMethods([]string{c.alg.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return apperrors.ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return apperrors.ErrTokenNotYetValid
	default:
		return apperrors.ErrTokenMalformed
	}
}

// HashToken returns the sha256 hex digest stored instead of the raw
// refresh token
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
