package scoring

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const queryTimeout = 5 * time.Second

// Repository persists the score aggregate.
type Repository interface {
	// Apply locks the owner's aggregate row and the submission row, passes
	// their current values to fn and writes fn's Change in the same transaction.
	Apply(ctx context.Context, userID, submissionID uuid.UUID, fn func(State) (Change, error)) (Aggregate, error)

	// Reconcile locks the owner's aggregate row, recomputes the cumulative
	// score from submissions scoring at least threshold and stores it.
	Reconcile(ctx context.Context, userID uuid.UUID, threshold int, level func(int) int) (Reconciliation, error)

	GetAggregate(ctx context.Context, userID uuid.UUID) (Aggregate, error)
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates the Postgres aggregate repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Apply(ctx context.Context, userID, submissionID uuid.UUID, fn func(State) (Change, error)) (Aggregate, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx2, &sql.TxOptions{})
	if err != nil {
		return Aggregate{}, fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	agg, err := lockAggregate(ctx2, tx, userID)
	if err != nil {
		return Aggregate{}, err
	}

	var score sql.NullInt64
	err = tx.GetContext(ctx2, &score, `
		SELECT score FROM writing_submissions
		WHERE id = $1 AND user_id = $2
		FOR UPDATE
	`, submissionID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return Aggregate{}, ErrSubmissionNotFound
	}
	if err != nil {
		return Aggregate{}, fmt.Errorf("%w: lock submission", ErrInternal)
	}

	state := State{CumulativeScore: agg.CumulativeScore, Level: agg.Level}
	if score.Valid {
		v := int(score.Int64)
		state.SubmissionScore = &v
	}

	change, err := fn(state)
	if err != nil {
		return Aggregate{}, err
	}

	if _, err := tx.ExecContext(ctx2, `
		UPDATE users SET cumulative_score = $2, level = $3, updated_at = NOW() WHERE id = $1
	`, userID, change.CumulativeScore, change.Level); err != nil {
		return Aggregate{}, fmt.Errorf("%w: update aggregate", ErrInternal)
	}

	if _, err := tx.ExecContext(ctx2, `
		UPDATE writing_submissions SET score = $2, updated_at = NOW() WHERE id = $1
	`, submissionID, change.SubmissionScore); err != nil {
		return Aggregate{}, fmt.Errorf("%w: update submission score", ErrInternal)
	}

	if err := tx.Commit(); err != nil {
		return Aggregate{}, fmt.Errorf("%w: commit tx", ErrInternal)
	}

	return Aggregate{UserID: userID, CumulativeScore: change.CumulativeScore, Level: change.Level}, nil
}

func (r *repository) Reconcile(ctx context.Context, userID uuid.UUID, threshold int, level func(int) int) (Reconciliation, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx2, &sql.TxOptions{})
	if err != nil {
		return Reconciliation{}, fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	before, err := lockAggregate(ctx2, tx, userID)
	if err != nil {
		return Reconciliation{}, err
	}

	var total int
	if err := tx.GetContext(ctx2, &total, `
		SELECT COALESCE(SUM(score), 0) FROM writing_submissions
		WHERE user_id = $1 AND score >= $2
	`, userID, threshold); err != nil {
		return Reconciliation{}, fmt.Errorf("%w: sum scores", ErrInternal)
	}

	after := Aggregate{UserID: userID, CumulativeScore: total, Level: level(total)}
	if _, err := tx.ExecContext(ctx2, `
		UPDATE users SET cumulative_score = $2, level = $3, updated_at = NOW() WHERE id = $1
	`, userID, after.CumulativeScore, after.Level); err != nil {
		return Reconciliation{}, fmt.Errorf("%w: update aggregate", ErrInternal)
	}

	if err := tx.Commit(); err != nil {
		return Reconciliation{}, fmt.Errorf("%w: commit tx", ErrInternal)
	}

	return Reconciliation{Before: before, After: after, Drift: after.CumulativeScore - before.CumulativeScore}, nil
}

func (r *repository) GetAggregate(ctx context.Context, userID uuid.UUID) (Aggregate, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var agg Aggregate
	err := r.db.GetContext(ctx2, &agg, `SELECT id, cumulative_score, level FROM users WHERE id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return Aggregate{}, ErrUserNotFound
	}
	if err != nil {
		return Aggregate{}, fmt.Errorf("%w: get aggregate", ErrInternal)
	}
	return agg, nil
}

func lockAggregate(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID) (Aggregate, error) {
	var agg Aggregate
	err := tx.GetContext(ctx, &agg, `SELECT id, cumulative_score, level FROM users WHERE id = $1 FOR UPDATE`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return Aggregate{}, ErrUserNotFound
	}
	if err != nil {
		return Aggregate{}, fmt.Errorf("%w: lock user row", ErrInternal)
	}
	return agg, nil
}
