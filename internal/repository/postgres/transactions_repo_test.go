package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/baharkarakas/cirqle-payments/internal/db"
	"github.com/baharkarakas/cirqle-payments/internal/models"
	"github.com/baharkarakas/cirqle-payments/internal/repository"
)

// testPool connects to TEST_DATABASE_URL and migrates it. Tests are skipped
// when it is unset.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := db.RunMigrations(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return pool
}

// uniqueRef keeps runs against a shared database apart.
func uniqueRef(t *testing.T) string {
	return fmt.Sprintf("TEST-%s-%d", t.Name(), time.Now().UnixNano())
}

func TestTransactions_GetMissing(t *testing.T) {
	repo := NewTransactions(testPool(t))
	if _, err := repo.Get(context.Background(), uniqueRef(t)); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestTransactions_UpsertRoundTrip(t *testing.T) {
	repo := NewTransactions(testPool(t))
	ctx := context.Background()
	ref := uniqueRef(t)
	now := time.Now().UTC().Truncate(time.Millisecond)

	_, err := repo.Upsert(ctx, ref, func(cur models.Transaction, exists bool) (models.Transaction, bool, error) {
		if exists {
			t.Fatal("row exists before first write")
		}
		return models.Transaction{
			Status:               models.TxnPending,
			GatewayCorrelationID: "ws_CO_1",
			Amount:               decimal.NewFromInt(100),
			Phone:                "254712345678",
			Payload:              map[string]any{"checkoutRequestID": "ws_CO_1"},
			CreatedAt:            now,
			UpdatedAt:            now,
		}, true, nil
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	saved, err := repo.Upsert(ctx, ref, func(cur models.Transaction, exists bool) (models.Transaction, bool, error) {
		if !exists || cur.Status != models.TxnPending {
			t.Fatalf("second mutator saw %+v exists=%v", cur, exists)
		}
		cur.Status = models.TxnSuccess
		cur.MergePayload(map[string]any{"mpesaReceiptNumber": "NLJ7RT61SV"})
		cur.UpdatedAt = now.Add(time.Second)
		return cur, true, nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := repo.Get(ctx, ref)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != models.TxnSuccess || !got.Amount.Equal(decimal.NewFromInt(100)) ||
		got.Phone != "254712345678" || got.GatewayCorrelationID != "ws_CO_1" {
		t.Fatalf("got %+v", got)
	}
	if got.Payload["mpesaReceiptNumber"] != "NLJ7RT61SV" || got.Payload["checkoutRequestID"] != "ws_CO_1" {
		t.Fatalf("payload %+v", got.Payload)
	}
	if saved.ClientReference != ref {
		t.Fatalf("returned row %+v", saved)
	}
}

func TestTransactions_UpsertSkipWrite(t *testing.T) {
	repo := NewTransactions(testPool(t))
	ctx := context.Background()
	ref := uniqueRef(t)
	_, err := repo.Upsert(ctx, ref, func(cur models.Transaction, _ bool) (models.Transaction, bool, error) {
		return cur, false, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := repo.Get(ctx, ref); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("skipped write created a row: %v", err)
	}
}

// Concurrent writers race both the first insert and the terminal transition.
// Exactly one of them must win; the rest see the terminal row and back off.
func TestTransactions_UpsertConcurrentSingleTransition(t *testing.T) {
	repo := NewTransactions(testPool(t))
	ctx := context.Background()
	ref := uniqueRef(t)

	const writers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			mine := fmt.Sprintf("ws_CO_%d", i)
			saved, err := repo.Upsert(ctx, ref, func(cur models.Transaction, exists bool) (models.Transaction, bool, error) {
				if exists && cur.Status.Terminal() {
					return cur, false, nil
				}
				now := time.Now()
				if !exists {
					cur.CreatedAt = now
				}
				cur.Status = models.TxnSuccess
				cur.GatewayCorrelationID = mine
				cur.UpdatedAt = now
				return cur, true, nil
			})
			if err != nil {
				t.Error(err)
				return
			}
			if saved.GatewayCorrelationID == mine {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("winning writers = %d, want 1", wins)
	}
	got, err := repo.Get(ctx, ref)
	if err != nil || got.Status != models.TxnSuccess {
		t.Fatalf("got %+v, %v", got, err)
	}
}

func TestAuditLogs_Create(t *testing.T) {
	repos := NewRepositories(testPool(t))
	ref := uniqueRef(t)
	err := repos.AuditLogs.Create(context.Background(), models.AuditLog{
		EntityType: "transaction",
		EntityID:   &ref,
		Action:     models.AuditCallbackApplied,
		Details:    map[string]any{"status": "SUCCESS"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
}
