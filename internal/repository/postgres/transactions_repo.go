package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/baharkarakas/cirqle-payments/internal/models"
	"github.com/baharkarakas/cirqle-payments/internal/repository"
)

// concurrent inserts or serialization failures make us re-run the mutator
const maxUpsertAttempts = 5

var errUpsertContention = errors.New("upsert: too much contention")

type transactionsRepo struct{ pool *pgxpool.Pool }

func NewTransactions(pool *pgxpool.Pool) repository.Transactions {
	return &transactionsRepo{pool: pool}
}

const selectTxn = `
SELECT client_reference, status, COALESCE(gateway_correlation_id, ''), amount::text,
       COALESCE(phone, ''), payload, created_at, updated_at
  FROM transactions`

func (r *transactionsRepo) Get(ctx context.Context, reference string) (models.Transaction, error) {
	tx, err := scanTxn(r.pool.QueryRow(ctx, selectTxn+` WHERE client_reference=$1`, reference))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Transaction{}, repository.ErrNotFound
	}
	return tx, err
}

func (r *transactionsRepo) Upsert(ctx context.Context, reference string, fn repository.Mutator) (models.Transaction, error) {
	for attempt := 0; attempt < maxUpsertAttempts; attempt++ {
		out, retry, err := r.upsertOnce(ctx, reference, fn)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "40001" {
				continue
			}
			return models.Transaction{}, err
		}
		if !retry {
			return out, nil
		}
	}
	return models.Transaction{}, fmt.Errorf("%w: %s", errUpsertContention, reference)
}

func (r *transactionsRepo) upsertOnce(ctx context.Context, reference string, fn repository.Mutator) (out models.Transaction, retry bool, err error) {
	err = r.WithTx(ctx, func(tx pgx.Tx) error {
		cur, err := scanTxn(tx.QueryRow(ctx, selectTxn+` WHERE client_reference=$1 FOR UPDATE`, reference))
		exists := true
		if errors.Is(err, pgx.ErrNoRows) {
			exists = false
			cur = models.Transaction{}
		} else if err != nil {
			return err
		}

		next, write, err := fn(cur, exists)
		if err != nil {
			return err
		}
		if !write {
			out = cur
			return nil
		}
		next.ClientReference = reference
		payload := next.Payload
		if payload == nil {
			payload = map[string]any{}
		}

		if exists {
			out, err = scanTxn(tx.QueryRow(ctx, `
UPDATE transactions
   SET status=$2, gateway_correlation_id=NULLIF($3,''), amount=$4::numeric,
       phone=NULLIF($5,''), payload=$6, updated_at=$7
 WHERE client_reference=$1
RETURNING client_reference, status, COALESCE(gateway_correlation_id, ''), amount::text,
          COALESCE(phone, ''), payload, created_at, updated_at`,
				reference, next.Status, next.GatewayCorrelationID, next.Amount.String(),
				next.Phone, payload, next.UpdatedAt))
			return err
		}

		// the row is not locked yet; a concurrent insert makes this a no-op and we go again
		out, err = scanTxn(tx.QueryRow(ctx, `
INSERT INTO transactions (
  client_reference, status, gateway_correlation_id, amount, phone, payload, created_at, updated_at
) VALUES ($1,$2,NULLIF($3,''),$4::numeric,NULLIF($5,''),$6,$7,$8)
ON CONFLICT (client_reference) DO NOTHING
RETURNING client_reference, status, COALESCE(gateway_correlation_id, ''), amount::text,
          COALESCE(phone, ''), payload, created_at, updated_at`,
			reference, next.Status, next.GatewayCorrelationID, next.Amount.String(),
			next.Phone, payload, next.CreatedAt, next.UpdatedAt))
		if errors.Is(err, pgx.ErrNoRows) {
			retry = true
			return nil
		}
		return err
	})
	return out, retry, err
}

func (r *transactionsRepo) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func scanTxn(row pgx.Row) (models.Transaction, error) {
	var (
		tx     models.Transaction
		amount string
	)
	err := row.Scan(&tx.ClientReference, &tx.Status, &tx.GatewayCorrelationID, &amount,
		&tx.Phone, &tx.Payload, &tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		return models.Transaction{}, err
	}
	tx.Amount, err = decimal.NewFromString(amount)
	return tx, err
}
