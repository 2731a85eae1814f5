package repository

import (
	"context"
)

// Storage aggregates every repository the service layer needs.
// InTx runs fn against repositories bound to a single database
// transaction: commit if fn returns nil, rollback otherwise.
type Storage interface {
	User() UserRepo
	Session() SessionRepo

	InTx(ctx context.Context, fn func(s Storage) error) error
}
