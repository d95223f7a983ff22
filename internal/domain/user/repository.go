package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Repository defines account data access interface
type Repository interface {
	Create(ctx context.Context, account *Account) error
	GetByID(ctx context.Context, id uuid.UUID) (*Account, error)
	UpdateSubscriptionStatus(ctx context.Context, id uuid.UUID, status SubscriptionStatus) error
}

// repository implements Repository
type repository struct {
	db *sqlx.DB
}

// NewRepository creates new account repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

// Create registers a new account. Level starts at 1, score and streak at 0.
func (r *repository) Create(ctx context.Context, account *Account) error {
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	if account.SubscriptionStatus == "" {
		account.SubscriptionStatus = SubscriptionFree
	}

	query := `
		INSERT INTO users (id, email, display_name, age_group, credit_balance, cumulative_score, level, streak, subscription_status)
		VALUES ($1, $2, $3, $4, $5, 0, 1, 0, $6)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRowxContext(ctx, query,
		account.ID,
		account.Email,
		account.DisplayName,
		account.AgeGroup,
		account.Credits,
		account.SubscriptionStatus,
	).Scan(&account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrEmailAlreadyExists
		}
		return fmt.Errorf("user repository create: %w", err)
	}

	account.Level = 1
	return nil
}

// GetByID returns account by ID
func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	query := `
		SELECT id, email, display_name, age_group, credit_balance, cumulative_score, level, streak,
		       subscription_status, created_at, updated_at
		FROM users WHERE id = $1
	`
	var account Account
	err := r.db.GetContext(ctx, &account, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("user repository get: %w", err)
	}

	return &account, nil
}

// UpdateSubscriptionStatus updates the plan state
func (r *repository) UpdateSubscriptionStatus(ctx context.Context, id uuid.UUID, status SubscriptionStatus) error {
	switch status {
	case SubscriptionFree, SubscriptionActive, SubscriptionCancelled, SubscriptionExpired:
	default:
		return ErrInvalidStatus
	}

	res, err := r.db.ExecContext(ctx, `UPDATE users SET subscription_status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("user repository update subscription: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}
