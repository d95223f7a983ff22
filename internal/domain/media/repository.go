package media

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/storyquest/storyquest-api/internal/domain/credit"
)

const queryTimeout = 5 * time.Second

// Repository persists reservations and generated media. Each method is one
// transaction; Commit and Refund only act on a reservation still in the
// reserved state, so at most one of them ever takes effect.
type Repository interface {
	// Reserve debits r.Amount and stores r as reserved. Returns the balance after the debit.
	Reserve(ctx context.Context, r *Reservation) (int, error)

	// Commit marks the reservation committed and stores the artifact.
	Commit(ctx context.Context, reservationID uuid.UUID, a *Artifact) error

	// Refund marks the reservation refunded and credits the amount back.
	// Returns the balance after the refund.
	Refund(ctx context.Context, reservationID uuid.UUID, reason string) (int, error)

	GetReservation(ctx context.Context, id uuid.UUID) (*Reservation, error)
	ListArtifacts(ctx context.Context, userID uuid.UUID, submissionID *uuid.UUID) ([]Artifact, error)
}

type repository struct {
	db     *sqlx.DB
	ledger credit.TxLedger
}

// NewRepository creates the Postgres reservation repository
func NewRepository(db *sqlx.DB, ledger credit.TxLedger) Repository {
	return &repository{db: db, ledger: ledger}
}

func (r *repository) Reserve(ctx context.Context, res *Reservation) (int, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx2, &sql.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	balance, err := r.ledger.DebitTx(ctx2, tx, res.UserID, res.Amount, credit.TransactionMeta{
		Reason:            "operation:" + string(res.Kind),
		RelatedEntityType: "credit_reservation",
		RelatedEntityID:   res.ID,
	})
	if err != nil {
		return 0, err
	}

	res.State = StateReserved
	err = tx.QueryRowxContext(ctx2, `
		INSERT INTO credit_reservations (id, user_id, operation_kind, amount, state)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, res.ID, res.UserID, string(res.Kind), res.Amount, string(res.State)).Scan(&res.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("%w: insert reservation", ErrInternal)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit tx", ErrInternal)
	}
	return balance, nil
}

func (r *repository) Commit(ctx context.Context, reservationID uuid.UUID, a *Artifact) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx2, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	if err := resolve(ctx2, tx, reservationID, StateCommitted, nil); err != nil {
		return err
	}

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.ReservationID = reservationID
	err = tx.QueryRowxContext(ctx2, `
		INSERT INTO generated_media (
			id, reservation_id, submission_id, user_id, media_type, asset_url, thumbnail_url,
			file_name, prompt, style, credits_spent
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at
	`, a.ID, a.ReservationID, a.SubmissionID, a.UserID, string(a.MediaType), a.AssetURL, a.ThumbnailURL,
		a.FileName, a.Prompt, a.Style, a.CreditsSpent).Scan(&a.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: insert generated media", ErrInternal)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit tx", ErrInternal)
	}
	return nil
}

func (r *repository) Refund(ctx context.Context, reservationID uuid.UUID, reason string) (int, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx2, &sql.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	var res Reservation
	err = tx.GetContext(ctx2, &res, `
		UPDATE credit_reservations
		SET state = 'refunded', failure_reason = $2, resolved_at = NOW()
		WHERE id = $1 AND state = 'reserved'
		RETURNING id, user_id, operation_kind, amount, state, failure_reason, created_at, resolved_at
	`, reservationID, reason)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, notReserved(ctx2, tx, reservationID)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: mark refunded", ErrInternal)
	}

	balance, err := r.ledger.CreditTx(ctx2, tx, res.UserID, res.Amount, credit.TransactionMeta{
		Type:              credit.TransactionTypeRefund,
		Reason:            "refund:" + string(res.Kind),
		RelatedEntityType: "credit_reservation",
		RelatedEntityID:   res.ID,
	})
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit tx", ErrInternal)
	}
	return balance, nil
}

func (r *repository) GetReservation(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var res Reservation
	err := r.db.GetContext(ctx2, &res, `
		SELECT id, user_id, operation_kind, amount, state, failure_reason, created_at, resolved_at
		FROM credit_reservations WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReservationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get reservation", ErrInternal)
	}
	return &res, nil
}

func (r *repository) ListArtifacts(ctx context.Context, userID uuid.UUID, submissionID *uuid.UUID) ([]Artifact, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	artifacts := make([]Artifact, 0)
	err := r.db.SelectContext(ctx2, &artifacts, `
		SELECT id, reservation_id, submission_id, user_id, media_type, asset_url, thumbnail_url,
		       file_name, prompt, style, credits_spent, created_at
		FROM generated_media
		WHERE user_id = $1 AND ($2::uuid IS NULL OR submission_id = $2)
		ORDER BY created_at DESC, id
	`, userID, submissionID)
	if err != nil {
		return nil, fmt.Errorf("%w: list generated media", ErrInternal)
	}
	return artifacts, nil
}

func resolve(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, state ReservationState, reason *string) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE credit_reservations
		SET state = $2, failure_reason = $3, resolved_at = NOW()
		WHERE id = $1 AND state = 'reserved'
	`, id, string(state), reason)
	if err != nil {
		return fmt.Errorf("%w: resolve reservation", ErrInternal)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notReserved(ctx, tx, id)
	}
	return nil
}

func notReserved(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) error {
	var state string
	err := tx.GetContext(ctx, &state, `SELECT state FROM credit_reservations WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrReservationNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: read reservation", ErrInternal)
	}
	return fmt.Errorf("%w: state %s", ErrNotReserved, state)
}
