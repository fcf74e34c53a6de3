// Package redisstore keeps transactions as JSON documents in Redis, using
// optimistic WATCH/MULTI transactions for the per-key read-modify-write.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/baharkarakas/cirqle-payments/internal/models"
	"github.com/baharkarakas/cirqle-payments/internal/repository"
)

const (
	keyPrefix   = "txn:"
	maxAttempts = 10
)

var errContention = errors.New("redisstore: too much contention")

type Transactions struct {
	rdb *redis.Client
}

func NewTransactions(rdb *redis.Client) *Transactions {
	return &Transactions{rdb: rdb}
}

// Connect dials addr and pings it with a bounded timeout.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return rdb, nil
}

func key(reference string) string { return keyPrefix + reference }

func (s *Transactions) Get(ctx context.Context, reference string) (models.Transaction, error) {
	return get(ctx, s.rdb, reference)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func get(ctx context.Context, c getter, reference string) (models.Transaction, error) {
	b, err := c.Get(ctx, key(reference)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.Transaction{}, repository.ErrNotFound
	}
	if err != nil {
		return models.Transaction{}, err
	}
	var tx models.Transaction
	if err := json.Unmarshal(b, &tx); err != nil {
		return models.Transaction{}, fmt.Errorf("decode %s: %w", reference, err)
	}
	return tx, nil
}

func (s *Transactions) Upsert(ctx context.Context, reference string, fn repository.Mutator) (models.Transaction, error) {
	k := key(reference)
	var out models.Transaction

	txf := func(tx *redis.Tx) error {
		cur, err := get(ctx, tx, reference)
		exists := true
		if errors.Is(err, repository.ErrNotFound) {
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
		b, err := json.Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, b, 0)
			return nil
		})
		if err == nil {
			out = next
		}
		return err
	}

	for i := 0; i < maxAttempts; i++ {
		err := s.rdb.Watch(ctx, txf, k)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return models.Transaction{}, err
		}
		return out, nil
	}
	return models.Transaction{}, fmt.Errorf("%w: %s", errContention, reference)
}
