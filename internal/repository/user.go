package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/mkotelnikov/ephemera/internal/models"
)

type CreateUserParams struct {
	Username     string
	PasswordHash string
}

// Explicit command type: the set of mutated fields is part of the
// signature, nothing is patched by key presence
type SetPasswordParams struct {
	UserID       uuid.UUID
	PasswordHash string
}

type UserRepo interface {
	// Create user
	// Has to return apperrors.ErrUserAlreadyExists if username is taken
	CreateUser(ctx context.Context, arg CreateUserParams) (models.User, error)

	// Get user by id or username
	// Has to return apperrors.ErrUserNotFound if user not found
	GetUserByID(ctx context.Context, id uuid.UUID) (models.User, error)
	GetUserByUsername(ctx context.Context, username string) (models.User, error)

	// Overwrite the stored password hash
	SetPassword(ctx context.Context, arg SetPasswordParams) error

	// Increment token_version by one at the storage layer and return the
	// new value. Must be a single atomic update, never read-then-write,
	// so concurrent bumps are not lost
	BumpTokenVersion(ctx context.Context, userID uuid.UUID) (int64, error)
}
