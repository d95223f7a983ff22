package submission

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/storyquest/storyquest-api/internal/domain/achievement"
	"github.com/storyquest/storyquest-api/internal/domain/scoring"
)

type Status string

const (
	StatusPending          Status = "pending"
	StatusAnalyzing        Status = "analyzing"
	StatusFeedbackComplete Status = "feedback_complete"
	StatusBlocked          Status = "blocked"
)

// Submission is a piece of student writing.
type Submission struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	UserID    uuid.UUID       `db:"user_id" json:"user_id"`
	Prompt    string          `db:"prompt" json:"prompt"`
	Content   string          `db:"content" json:"content"`
	AgeGroup  string          `db:"age_group" json:"age_group"`
	Score     *int            `db:"score" json:"score,omitempty"`
	Feedback  json.RawMessage `db:"-" json:"feedback,omitempty"`
	Status    Status          `db:"status" json:"status"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// IsScored reports whether the submission has been scored at least once
func (s *Submission) IsScored() bool {
	return s.Score != nil
}

// Outcome is everything a scoring pass changed.
type Outcome struct {
	Submission *Submission               `json:"submission"`
	Aggregate  scoring.Aggregate         `json:"aggregate"`
	Feedback   json.RawMessage           `json:"feedback"`
	Unlocked   []achievement.Record      `json:"unlocked"`
	Streak     *achievement.StreakResult `json:"streak,omitempty"`
}
