package repository

import (
	"context"
	"errors"

	"github.com/baharkarakas/cirqle-payments/internal/models"
)

// ErrNotFound is returned by Get when no record exists for the reference.
var ErrNotFound = errors.New("transaction not found")

// Mutator decides the next state of a transaction. cur is the stored record
// (zero value when exists is false). Returning write=false leaves the store
// untouched and Upsert returns cur as-is.
type Mutator func(cur models.Transaction, exists bool) (next models.Transaction, write bool, err error)

// Transactions is keyed by client reference. Upsert runs the mutator inside an
// atomic read-modify-write for that key; implementations may invoke it more
// than once when a concurrent writer wins, so it must be free of side effects.
type Transactions interface {
	Get(ctx context.Context, reference string) (models.Transaction, error)
	Upsert(ctx context.Context, reference string, fn Mutator) (models.Transaction, error)
}

type AuditLogs interface {
	Create(ctx context.Context, l models.AuditLog) error
}
