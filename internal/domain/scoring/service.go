package scoring

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/storyquest/storyquest-api/internal/pkg/metrics"
)

// Aggregator keeps the cumulative score and level in step with submission scores.
type Aggregator struct {
	repo Repository
	cfg  Config
}

// NewAggregator creates a score aggregator
func NewAggregator(repo Repository, cfg Config) *Aggregator {
	return &Aggregator{repo: repo, cfg: cfg.normalized()}
}

// Config returns the constants in effect.
func (a *Aggregator) Config() Config {
	return a.cfg
}

// Level derives the level from a cumulative score.
func (a *Aggregator) Level(cumulative int) int {
	return a.cfg.Level(cumulative)
}

// Qualifies reports whether score counts toward the cumulative score.
func (a *Aggregator) Qualifies(score int) bool {
	return a.cfg.Qualifies(score)
}

// RecordNewScore stores the first score of a submission and folds it into
// the aggregate. A submission that already has a score must go through
// ReviseScore instead.
func (a *Aggregator) RecordNewScore(ctx context.Context, userID, submissionID uuid.UUID, score int) (Aggregate, error) {
	if !validScore(score) {
		return Aggregate{}, ErrInvalidScore
	}

	agg, err := a.repo.Apply(ctx, userID, submissionID, func(st State) (Change, error) {
		if st.SubmissionScore != nil {
			return Change{}, ErrAlreadyScored
		}
		return a.change(userID, st, nil, score), nil
	})
	if err != nil {
		return Aggregate{}, err
	}

	metrics.ScoreUpdates.WithLabelValues("record").Inc()
	log.Info().
		Str("user_id", userID.String()).
		Str("submission_id", submissionID.String()).
		Int("score", score).
		Int("cumulative_score", agg.CumulativeScore).
		Int("level", agg.Level).
		Msg("score recorded")
	return agg, nil
}

// ReviseScore replaces a submission's score. oldScore must match the stored
// score; otherwise another revision got there first and ErrScoreConflict is returned.
func (a *Aggregator) ReviseScore(ctx context.Context, userID, submissionID uuid.UUID, oldScore, newScore int) (Aggregate, error) {
	if !validScore(oldScore) || !validScore(newScore) {
		return Aggregate{}, ErrInvalidScore
	}

	agg, err := a.repo.Apply(ctx, userID, submissionID, func(st State) (Change, error) {
		if st.SubmissionScore == nil {
			return Change{}, ErrNotScored
		}
		if *st.SubmissionScore != oldScore {
			return Change{}, ErrScoreConflict
		}
		old := oldScore
		return a.change(userID, st, &old, newScore), nil
	})
	if err != nil {
		return Aggregate{}, err
	}

	metrics.ScoreUpdates.WithLabelValues("revise").Inc()
	log.Info().
		Str("user_id", userID.String()).
		Str("submission_id", submissionID.String()).
		Int("old_score", oldScore).
		Int("new_score", newScore).
		Int("cumulative_score", agg.CumulativeScore).
		Int("level", agg.Level).
		Msg("score revised")
	return agg, nil
}

// Reconcile rebuilds the aggregate from the stored submission scores.
func (a *Aggregator) Reconcile(ctx context.Context, userID uuid.UUID) (Reconciliation, error) {
	rec, err := a.repo.Reconcile(ctx, userID, a.cfg.QualifyingThreshold, a.cfg.Level)
	if err != nil {
		return Reconciliation{}, err
	}

	metrics.ScoreUpdates.WithLabelValues("reconcile").Inc()
	ev := log.Info()
	if rec.Drift != 0 {
		ev = log.Warn()
	}
	ev.Str("user_id", userID.String()).
		Int("before", rec.Before.CumulativeScore).
		Int("after", rec.After.CumulativeScore).
		Int("drift", rec.Drift).
		Msg("score aggregate reconciled")
	return rec, nil
}

// Progress reports the owner's position within the current level.
func (a *Aggregator) Progress(ctx context.Context, userID uuid.UUID) (Progress, error) {
	agg, err := a.repo.GetAggregate(ctx, userID)
	if err != nil {
		return Progress{}, err
	}

	into := agg.CumulativeScore % a.cfg.LevelSize
	return Progress{
		CumulativeScore: agg.CumulativeScore,
		Level:           agg.Level,
		IntoLevel:       into,
		ToNextLevel:     a.cfg.LevelSize - into,
		LevelSize:       a.cfg.LevelSize,
	}, nil
}

func (a *Aggregator) change(userID uuid.UUID, st State, oldScore *int, newScore int) Change {
	cumulative := st.CumulativeScore + a.cfg.Delta(oldScore, newScore)
	if cumulative < 0 {
		log.Warn().
			Str("user_id", userID.String()).
			Int("cumulative_score", cumulative).
			Msg("cumulative score drifted below zero, clamping")
		cumulative = 0
	}
	return Change{
		CumulativeScore: cumulative,
		Level:           a.cfg.Level(cumulative),
		SubmissionScore: newScore,
	}
}

func validScore(score int) bool {
	return score >= MinScore && score <= MaxScore
}
