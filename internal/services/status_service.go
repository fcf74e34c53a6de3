package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/baharkarakas/cirqle-payments/internal/metrics"
	"github.com/baharkarakas/cirqle-payments/internal/models"
	repo "github.com/baharkarakas/cirqle-payments/internal/repository"
)

// Statuses reported to pollers.
const (
	StatusSuccess   = "SUCCESS"
	StatusFailed    = "FAILED"
	StatusCancelled = "CANCELLED"
	StatusQueued    = "QUEUED"
	StatusNotFound  = "NOT_FOUND"
)

type StatusResult struct {
	Found       bool
	Status      string
	Transaction models.Transaction
}

type StatusService struct {
	trx repo.Transactions
}

func NewStatusService(t repo.Transactions) *StatusService {
	return &StatusService{trx: t}
}

// NormalizeStatus folds stored statuses, including ones written by older
// deployments, into what the poller understands.
func NormalizeStatus(stored string) string {
	switch strings.ToUpper(strings.TrimSpace(stored)) {
	case "SUCCESS", "COMPLETED":
		return StatusSuccess
	case "CANCELLED", "USER_CANCELLED":
		return StatusCancelled
	case "FAILED", "TIMEOUT", "EXPIRED":
		return StatusFailed
	default:
		return StatusQueued
	}
}

// Query never writes. A missing row is not an error: it means the callback and
// the write-ahead have not landed yet, or the reference is wrong.
func (s *StatusService) Query(ctx context.Context, reference string) (StatusResult, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return StatusResult{}, fmt.Errorf("%w: reference", ErrMissingField)
	}
	tx, err := s.trx.Get(ctx, reference)
	if errors.Is(err, repo.ErrNotFound) {
		metrics.StatusQueries.WithLabelValues(StatusNotFound).Inc()
		return StatusResult{Status: StatusNotFound}, nil
	}
	if err != nil {
		return StatusResult{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	st := NormalizeStatus(string(tx.Status))
	metrics.StatusQueries.WithLabelValues(st).Inc()
	return StatusResult{Found: true, Status: st, Transaction: tx}, nil
}
