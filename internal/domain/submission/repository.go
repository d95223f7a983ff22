package submission

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const queryTimeout = 3 * time.Second

// Repository defines submission data access
type Repository interface {
	Create(ctx context.Context, s *Submission) error
	GetByID(ctx context.Context, id uuid.UUID) (*Submission, error)
	SetStatus(ctx context.Context, id uuid.UUID, status Status) error
	SaveFeedback(ctx context.Context, id uuid.UUID, feedback json.RawMessage, status Status) error
	CountQualifying(ctx context.Context, userID uuid.UUID, threshold int) (int, error)
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates submission repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

// row mirrors writing_submissions; feedback is NULL until the first analysis.
type row struct {
	Submission
	FeedbackRaw []byte `db:"feedback"`
}

func (r *repository) Create(ctx context.Context, s *Submission) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.Status == "" {
		s.Status = StatusPending
	}

	err := r.db.QueryRowxContext(ctx2, `
		INSERT INTO writing_submissions (id, user_id, prompt, content, age_group, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`, s.ID, s.UserID, s.Prompt, s.Content, s.AgeGroup, string(s.Status)).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%w: create submission", ErrInternal)
	}
	return nil
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*Submission, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var rw row
	err := r.db.GetContext(ctx2, &rw, `
		SELECT id, user_id, prompt, content, age_group, score, feedback, status, created_at, updated_at
		FROM writing_submissions
		WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get submission", ErrInternal)
	}

	s := rw.Submission
	if len(rw.FeedbackRaw) > 0 {
		s.Feedback = json.RawMessage(rw.FeedbackRaw)
	}
	return &s, nil
}

func (r *repository) SetStatus(ctx context.Context, id uuid.UUID, status Status) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx2, `
		UPDATE writing_submissions SET status = $2, updated_at = NOW() WHERE id = $1
	`, id, string(status))
	if err != nil {
		return fmt.Errorf("%w: set status", ErrInternal)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) SaveFeedback(ctx context.Context, id uuid.UUID, feedback json.RawMessage, status Status) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var doc *string
	if len(feedback) > 0 {
		v := string(feedback)
		doc = &v
	}

	res, err := r.db.ExecContext(ctx2, `
		UPDATE writing_submissions SET feedback = $2, status = $3, updated_at = NOW() WHERE id = $1
	`, id, doc, string(status))
	if err != nil {
		return fmt.Errorf("%w: save feedback", ErrInternal)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) CountQualifying(ctx context.Context, userID uuid.UUID, threshold int) (int, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var n int
	err := r.db.GetContext(ctx2, &n, `
		SELECT COUNT(*) FROM writing_submissions WHERE user_id = $1 AND score >= $2
	`, userID, threshold)
	if err != nil {
		return 0, fmt.Errorf("%w: count qualifying", ErrInternal)
	}
	return n, nil
}
