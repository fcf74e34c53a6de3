// Package memory is an in-process Transactions and AuditLogs backend for
// single-instance development and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/baharkarakas/cirqle-payments/internal/models"
	"github.com/baharkarakas/cirqle-payments/internal/repository"
)

type Transactions struct {
	mu   sync.Mutex
	rows map[string]models.Transaction
}

func NewTransactions() *Transactions {
	return &Transactions{rows: make(map[string]models.Transaction)}
}

func (s *Transactions) Get(_ context.Context, reference string) (models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.rows[reference]
	if !ok {
		return models.Transaction{}, repository.ErrNotFound
	}
	return clone(tx), nil
}

func (s *Transactions) Upsert(ctx context.Context, reference string, fn repository.Mutator) (models.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return models.Transaction{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, exists := s.rows[reference]
	next, write, err := fn(clone(cur), exists)
	if err != nil {
		return models.Transaction{}, err
	}
	if !write {
		return clone(cur), nil
	}
	next.ClientReference = reference
	s.rows[reference] = clone(next)
	return next, nil
}

// Len is the number of stored transactions.
func (s *Transactions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func clone(tx models.Transaction) models.Transaction {
	if tx.Payload != nil {
		p := make(map[string]any, len(tx.Payload))
		for k, v := range tx.Payload {
			p[k] = v
		}
		tx.Payload = p
	}
	return tx
}

type AuditLogs struct {
	mu   sync.Mutex
	logs []models.AuditLog
}

func NewAuditLogs() *AuditLogs { return &AuditLogs{} }

func (a *AuditLogs) Create(_ context.Context, l models.AuditLog) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}
	a.mu.Lock()
	a.logs = append(a.logs, l)
	a.mu.Unlock()
	return nil
}

// Entries returns the logs recorded for entityID, oldest first.
func (a *AuditLogs) Entries(entityID string) []models.AuditLog {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []models.AuditLog
	for _, l := range a.logs {
		if l.EntityID != nil && *l.EntityID == entityID {
			out = append(out, l)
		}
	}
	return out
}
