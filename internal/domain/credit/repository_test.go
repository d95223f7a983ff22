package credit_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/storyquest/storyquest-api/internal/domain/credit"
	"github.com/storyquest/storyquest-api/internal/pkg/database/dbtest"
)

func TestPostgresConcurrentDebit(t *testing.T) {
	db := dbtest.Open(t)
	userID := dbtest.CreateUser(t, db, 5)
	repo := credit.NewRepository(db)

	const goroutines = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	success := 0

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := repo.Debit(context.Background(), userID, 1, credit.TransactionMeta{Reason: "operation:test"})
			if err == nil {
				mu.Lock()
				success++
				mu.Unlock()
				return
			}
			if !errors.Is(err, credit.ErrInsufficientFunds) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if success != 5 {
		t.Fatalf("expected 5 successes, got %d", success)
	}
	if got := dbtest.Balance(t, db, userID); got != 0 {
		t.Fatalf("expected balance 0, got %d", got)
	}

	var rows int
	requireNoError(t, db.Get(&rows, `SELECT COUNT(*) FROM credit_transactions WHERE user_id = $1`, userID))
	if rows != 5 {
		t.Fatalf("expected 5 ledger rows, got %d", rows)
	}
}

func TestPostgresInsufficientFunds(t *testing.T) {
	db := dbtest.Open(t)
	userID := dbtest.CreateUser(t, db, 50)
	repo := credit.NewRepository(db)

	_, err := repo.Debit(context.Background(), userID, 100, credit.TransactionMeta{Reason: "operation:image"})
	var insufficient *credit.InsufficientFundsError
	if !errors.As(err, &insufficient) || insufficient.Available != 50 {
		t.Fatalf("expected insufficient funds with available 50, got %v", err)
	}
	if got := dbtest.Balance(t, db, userID); got != 50 {
		t.Fatalf("expected balance 50, got %d", got)
	}
}

func TestPostgresUnknownUser(t *testing.T) {
	db := dbtest.Open(t)
	repo := credit.NewRepository(db)

	if _, err := repo.Debit(context.Background(), uuid.New(), 1, credit.TransactionMeta{}); !errors.Is(err, credit.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound on debit, got %v", err)
	}
	if _, err := repo.Credit(context.Background(), uuid.New(), 1, credit.TransactionMeta{}); !errors.Is(err, credit.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound on credit, got %v", err)
	}
}

func TestPostgresLedgerRows(t *testing.T) {
	db := dbtest.Open(t)
	userID := dbtest.CreateUser(t, db, 150)
	repo := credit.NewRepository(db)
	ctx := context.Background()
	opID := uuid.New()

	_, err := repo.Debit(ctx, userID, 100, credit.TransactionMeta{
		Reason:            "operation:image",
		RelatedEntityType: "credit_reservation",
		RelatedEntityID:   opID,
	})
	requireNoError(t, err)
	balance, err := repo.Credit(ctx, userID, 100, credit.TransactionMeta{Type: credit.TransactionTypeRefund, Reason: "refund:image"})
	requireNoError(t, err)
	if balance != 150 {
		t.Fatalf("expected balance 150, got %d", balance)
	}

	txs, err := repo.ListTransactions(ctx, userID, credit.Pagination{Limit: 10})
	requireNoError(t, err)
	if len(txs) != 2 {
		t.Fatalf("expected 2 ledger rows, got %d", len(txs))
	}
	if txs[0].Reason != "refund:image" || txs[0].BalanceAfter != 150 {
		t.Fatalf("unexpected newest row: %+v", txs[0])
	}
	if txs[1].RelatedEntityID == nil || *txs[1].RelatedEntityID != opID || txs[1].AmountDelta != -100 {
		t.Fatalf("unexpected debit row: %+v", txs[1])
	}
}
