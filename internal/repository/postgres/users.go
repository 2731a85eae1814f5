package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mkotelnikov/ephemera/internal/apperrors"
	"github.com/mkotelnikov/ephemera/internal/models"
	"github.com/mkotelnikov/ephemera/internal/repository"
)

type UserRepo struct {
	db DBTX
}

const createUser = `-- name: CreateUser
INSERT INTO users (username, password_hash)
VALUES ($1, $2)
RETURNING id, created_at, username, password_hash, token_version, verified
`

func (r *UserRepo) CreateUser(ctx context.Context, arg repository.CreateUserParams) (models.User, error) {
	rows, _ := r.db.Query(ctx, createUser, arg.Username, arg.PasswordHash)
	user, err := pgx.CollectOneRow(rows, rowToUser)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgerrcode.IsIntegrityConstraintViolation(pgErr.Code) {
			return user, apperrors.ErrUserAlreadyExists
		}
	}

	return user, err
}

const getUserByID = `-- name: getUserByID
SELECT id, created_at, username, password_hash, token_version, verified
FROM users
WHERE id = $1
`

func (r *UserRepo) GetUserByID(ctx context.Context, id uuid.UUID) (models.User, error) {
	rows, _ := r.db.Query(ctx, getUserByID, id)
	user, err := pgx.CollectOneRow(rows, rowToUser)

	if err != nil && errors.Is(err, pgx.ErrNoRows) {
		return user, apperrors.ErrUserNotFound
	}

	return user, err
}

const getUserByUsername = `-- name: getUserByUsername
SELECT id, created_at, username, password_hash, token_version, verified
FROM users
WHERE username = $1
`

func (r *UserRepo) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	rows, _ := r.db.Query(ctx, getUserByUsername, username)
	user, err := pgx.CollectOneRow(rows, rowToUser)

	if err != nil && errors.Is(err, pgx.ErrNoRows) {
		return user, apperrors.ErrUserNotFound
	}

	return user, err
}

const setPassword = `-- name: setPassword
UPDATE users
SET password_hash = $2
WHERE id = $1
RETURNING id
`

func (r *UserRepo) SetPassword(ctx context.Context, arg repository.SetPasswordParams) error {
	rows, _ := r.db.Query(ctx, setPassword, arg.UserID, arg.PasswordHash)
	_, err := pgx.CollectOneRow(rows, pgx.RowTo[uuid.UUID])

	if err != nil && errors.Is(err, pgx.ErrNoRows) {
		return apperrors.ErrUserNotFound
	}

	return err
}

const bumpTokenVersion = `-- name: bumpTokenVersion
UPDATE users
SET token_version = token_version + 1
WHERE id = $1
RETURNING token_version
`

// Atomic increment at the storage layer: concurrent bumps never lose
// updates the way a read-then-write in application code would
func (r *UserRepo) BumpTokenVersion(ctx context.Context, userID uuid.UUID) (int64, error) {
	rows, _ := r.db.Query(ctx, bumpTokenVersion, userID)
	version, err := pgx.CollectOneRow(rows, pgx.RowTo[int64])

	if err != nil && errors.Is(err, pgx.ErrNoRows) {
		return 0, apperrors.ErrUserNotFound
	}

	return version, err
}

func rowToUser(row pgx.CollectableRow) (models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.CreatedAt, &u.Username, &u.HashedPassword, &u.TokenVersion, &u.Verified)
	return u, err
}
