package credit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const queryTimeout = 3 * time.Second

// Repository is the storage side of the ledger. Implementations must apply
// every balance change as a single conditional update.
type Repository interface {
	Debit(ctx context.Context, userID uuid.UUID, amount int, meta TransactionMeta) (int, error)
	Credit(ctx context.Context, userID uuid.UUID, amount int, meta TransactionMeta) (int, error)
	GetBalance(ctx context.Context, userID uuid.UUID) (int, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, pagination Pagination) ([]CreditTransaction, error)
}

// TxLedger applies ledger mutations inside a caller-owned transaction.
// Used when a balance change must commit atomically with another write
// (reservation rows, achievement unlocks, streak updates).
type TxLedger interface {
	DebitTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, amount int, meta TransactionMeta) (int, error)
	CreditTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, amount int, meta TransactionMeta) (int, error)
}

// CreditRepository provides credit ledger and balance operations.
type CreditRepository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *CreditRepository {
	return &CreditRepository{db: db}
}

func (r *CreditRepository) Debit(ctx context.Context, userID uuid.UUID, amount int, meta TransactionMeta) (int, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx2, &sql.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	balance, err := r.DebitTx(ctx2, tx, userID, amount, meta)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit tx", ErrInternal)
	}

	return balance, nil
}

// DebitTx decrements the balance only where it covers amount. It never reads
// the balance first, so concurrent debits cannot drive it below zero.
// This method does NOT commit or rollback the transaction; the caller owns it.
func (r *CreditRepository) DebitTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, amount int, meta TransactionMeta) (int, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	var balance int
	err := tx.QueryRowxContext(ctx, `
		UPDATE users
		SET credit_balance = credit_balance - $2, updated_at = NOW()
		WHERE id = $1 AND credit_balance >= $2
		RETURNING credit_balance
	`, userID, amount).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		var available int
		err = tx.GetContext(ctx, &available, `SELECT credit_balance FROM users WHERE id = $1`, userID)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		if err != nil {
			return 0, fmt.Errorf("%w: read balance", ErrInternal)
		}
		return 0, &InsufficientFundsError{Required: amount, Available: available}
	}
	if err != nil {
		return 0, fmt.Errorf("%w: update user balance", ErrInternal)
	}

	meta.Type = TransactionTypeDeduction
	if err := r.insertLedger(ctx, tx, userID, -amount, balance, meta); err != nil {
		return 0, err
	}

	return balance, nil
}

func (r *CreditRepository) Credit(ctx context.Context, userID uuid.UUID, amount int, meta TransactionMeta) (int, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx2, &sql.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	balance, err := r.CreditTx(ctx2, tx, userID, amount, meta)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit tx", ErrInternal)
	}

	return balance, nil
}

// CreditTx increments the balance within an external transaction.
func (r *CreditRepository) CreditTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, amount int, meta TransactionMeta) (int, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	var balance int
	err := tx.QueryRowxContext(ctx, `
		UPDATE users
		SET credit_balance = credit_balance + $2, updated_at = NOW()
		WHERE id = $1
		RETURNING credit_balance
	`, userID, amount).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("%w: update user balance", ErrInternal)
	}

	if meta.Type == "" || meta.Type == TransactionTypeDeduction {
		meta.Type = TransactionTypeAdminGrant
	}
	if err := r.insertLedger(ctx, tx, userID, amount, balance, meta); err != nil {
		return 0, err
	}

	return balance, nil
}

func (r *CreditRepository) GetBalance(ctx context.Context, userID uuid.UUID) (int, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var balance int
	err := r.db.GetContext(ctx2, &balance, `SELECT credit_balance FROM users WHERE id = $1`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("%w: get balance", ErrInternal)
	}

	return balance, nil
}

func (r *CreditRepository) ListTransactions(ctx context.Context, userID uuid.UUID, pagination Pagination) ([]CreditTransaction, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	limit := pagination.Limit
	if limit <= 0 {
		limit = 20
	}

	transactions := make([]CreditTransaction, 0)
	err := r.db.SelectContext(ctx2, &transactions, `
		SELECT id, user_id, amount_delta, tx_type, reason, related_entity_type, related_entity_id, balance_after, created_at
		FROM credit_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`, userID, limit, pagination.Offset)
	if err != nil {
		return nil, fmt.Errorf("%w: list transactions", ErrInternal)
	}

	return transactions, nil
}

func (r *CreditRepository) insertLedger(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, amountDelta, balanceAfter int, meta TransactionMeta) error {
	if !meta.Type.Valid() {
		return ErrInternal
	}

	if strings.TrimSpace(meta.Reason) == "" {
		meta.Reason = "credit balance adjustment"
	}

	var relatedType *string
	if meta.RelatedEntityType != "" {
		relatedType = &meta.RelatedEntityType
	}
	var relatedID *uuid.UUID
	if meta.RelatedEntityID != uuid.Nil {
		relatedID = &meta.RelatedEntityID
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO credit_transactions (
			id, user_id, amount_delta, tx_type, reason, related_entity_type, related_entity_id, balance_after
		)
		VALUES (
			gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7
		)
	`, userID, amountDelta, string(meta.Type), meta.Reason, relatedType, relatedID, balanceAfter)
	if err != nil {
		return fmt.Errorf("%w: insert transaction", ErrInternal)
	}

	return nil
}
