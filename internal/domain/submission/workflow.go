package submission

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/storyquest/storyquest-api/internal/domain/achievement"
	"github.com/storyquest/storyquest-api/internal/domain/scoring"
	"github.com/storyquest/storyquest-api/internal/pkg/aiagent"
)

// Analyzer scores writing. Implemented by *aiagent.Client.
type Analyzer interface {
	AnalyzeWriting(ctx context.Context, req aiagent.AnalyzeRequest) (*aiagent.Analysis, error)
}

// SafetyChecker screens writing before analysis. Implemented by *aiagent.Client.
type SafetyChecker interface {
	CheckContentSafety(ctx context.Context, req aiagent.SafetyRequest) (*aiagent.SafetyVerdict, error)
}

// Workflow runs a submission through analysis and applies the score and
// rewards that follow from it.
type Workflow struct {
	repo     Repository
	scorer   *scoring.Aggregator
	rewards  *achievement.Engine
	analyzer Analyzer
	safety   SafetyChecker
}

// NewWorkflow creates the scoring workflow. safety may be nil to skip screening.
func NewWorkflow(repo Repository, scorer *scoring.Aggregator, rewards *achievement.Engine, analyzer Analyzer, safety SafetyChecker) *Workflow {
	return &Workflow{
		repo:     repo,
		scorer:   scorer,
		rewards:  rewards,
		analyzer: analyzer,
		safety:   safety,
	}
}

// Create stores a pending submission.
func (w *Workflow) Create(ctx context.Context, userID uuid.UUID, in CreateInput) (*Submission, error) {
	s := &Submission{
		ID:       uuid.New(),
		UserID:   userID,
		Prompt:   strings.TrimSpace(in.Prompt),
		Content:  strings.TrimSpace(in.Content),
		AgeGroup: in.AgeGroup,
		Status:   StatusPending,
	}
	if err := w.repo.Create(ctx, s); err != nil {
		return nil, err
	}

	log.Info().Str("user_id", userID.String()).Str("submission_id", s.ID.String()).Msg("submission created")
	return s, nil
}

// Get returns a submission owned by userID.
func (w *Workflow) Get(ctx context.Context, userID, submissionID uuid.UUID) (*Submission, error) {
	s, err := w.repo.GetByID(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if s.UserID != userID {
		return nil, ErrNotOwner
	}
	return s, nil
}

// Analyze scores a submission for the first time.
func (w *Workflow) Analyze(ctx context.Context, userID, submissionID uuid.UUID) (*Outcome, error) {
	s, err := w.Get(ctx, userID, submissionID)
	if err != nil {
		return nil, err
	}
	if s.IsScored() {
		return nil, scoring.ErrAlreadyScored
	}
	return w.run(ctx, s, false)
}

// Reanalyze scores an already scored submission again and revises the aggregate.
func (w *Workflow) Reanalyze(ctx context.Context, userID, submissionID uuid.UUID) (*Outcome, error) {
	s, err := w.Get(ctx, userID, submissionID)
	if err != nil {
		return nil, err
	}
	if !s.IsScored() {
		return nil, scoring.ErrNotScored
	}
	return w.run(ctx, s, true)
}

func (w *Workflow) run(ctx context.Context, s *Submission, revise bool) (*Outcome, error) {
	logger := log.With().Str("user_id", s.UserID.String()).Str("submission_id", s.ID.String()).Logger()

	if s.Status == StatusBlocked {
		return nil, ErrContentBlocked
	}
	if err := w.screen(ctx, s); err != nil {
		return nil, err
	}

	prev := s.Status
	if err := w.repo.SetStatus(ctx, s.ID, StatusAnalyzing); err != nil {
		return nil, err
	}

	analysis, err := w.analyzer.AnalyzeWriting(ctx, aiagent.AnalyzeRequest{
		SubmissionID:   s.ID.String(),
		UserID:         s.UserID.String(),
		StudentWriting: s.Content,
		OriginalPrompt: s.Prompt,
		AgeGroup:       s.AgeGroup,
	})
	if err == nil && analysis.Blocked {
		w.setStatus(ctx, s, StatusBlocked)
		logger.Warn().Str("alert", analysis.AlertMessage).Msg("submission blocked by analysis")
		return nil, ErrContentBlocked
	}
	if err == nil && !analysis.Success {
		err = errors.New("analysis reported failure")
	}
	if err == nil && (analysis.Score < scoring.MinScore || analysis.Score > scoring.MaxScore) {
		err = fmt.Errorf("score %d out of range", analysis.Score)
	}
	if err != nil {
		w.restoreStatus(ctx, s, prev, err)
		logger.Error().Err(err).Msg("writing analysis failed")
		return nil, fmt.Errorf("%w: %v", ErrCollaboratorFailure, err)
	}

	newScore := analysis.Score
	out := &Outcome{Feedback: analysis.Feedback, Unlocked: make([]achievement.Record, 0)}

	if revise {
		oldScore := *s.Score
		out.Aggregate, err = w.scorer.ReviseScore(ctx, s.UserID, s.ID, oldScore, newScore)
		if err != nil {
			w.restoreStatus(ctx, s, prev, err)
			return nil, err
		}
		w.rewardRevision(ctx, s.UserID, oldScore, newScore, out)
	} else {
		out.Aggregate, err = w.scorer.RecordNewScore(ctx, s.UserID, s.ID, newScore)
		if err != nil {
			w.restoreStatus(ctx, s, prev, err)
			return nil, err
		}
		w.rewardFirstScore(ctx, s.UserID, newScore, out)
	}

	if err := w.repo.SaveFeedback(ctx, s.ID, analysis.Feedback, StatusFeedbackComplete); err != nil {
		logger.Error().Err(err).Msg("failed to persist feedback")
		return nil, err
	}

	s.Score = &newScore
	s.Feedback = analysis.Feedback
	s.Status = StatusFeedbackComplete
	out.Submission = s

	logger.Info().
		Int("score", newScore).
		Bool("revision", revise).
		Int("cumulative_score", out.Aggregate.CumulativeScore).
		Int("unlocked", len(out.Unlocked)).
		Msg("submission analyzed")
	return out, nil
}

// restoreStatus puts back the pre-analysis status after a failed analysis.
// A lost race leaves the status to the pass that stored the score.
func (w *Workflow) restoreStatus(ctx context.Context, s *Submission, prev Status, cause error) {
	raced := errors.Is(cause, scoring.ErrAlreadyScored) || errors.Is(cause, scoring.ErrScoreConflict)
	if !raced {
		stored, err := w.repo.GetByID(ctx, s.ID)
		raced = err == nil && !sameScore(stored.Score, s.Score)
	}
	if raced {
		log.Warn().Err(cause).Str("submission_id", s.ID.String()).Msg("concurrent analysis won; status left as stored")
		return
	}
	w.setStatus(ctx, s, prev)
}

func (w *Workflow) screen(ctx context.Context, s *Submission) error {
	if w.safety == nil {
		return nil
	}

	verdict, err := w.safety.CheckContentSafety(ctx, aiagent.SafetyRequest{
		Text:     s.Content,
		AgeGroup: s.AgeGroup,
		Context:  s.Prompt,
	})
	if err != nil {
		log.Error().Err(err).Str("submission_id", s.ID.String()).Msg("content safety check failed")
		return fmt.Errorf("%w: safety check: %v", ErrCollaboratorFailure, err)
	}
	if !verdict.IsSafe {
		w.setStatus(ctx, s, StatusBlocked)
		log.Warn().
			Str("submission_id", s.ID.String()).
			Str("risk_level", verdict.RiskLevel).
			Str("reason", verdict.Reason).
			Msg("submission blocked by safety check")
		return ErrContentBlocked
	}
	return nil
}

// Reward failures are logged, not returned: the score is already committed
// and every reward step is idempotent, so the next analysis retries them.
func (w *Workflow) rewardFirstScore(ctx context.Context, userID uuid.UUID, score int, out *Outcome) {
	if score == scoring.MaxScore {
		w.unlock(ctx, userID, achievement.PerfectScore, out)
	}

	if !w.scorer.Qualifies(score) {
		if err := w.rewards.ResetStreak(ctx, userID); err != nil {
			log.Error().Err(err).Str("user_id", userID.String()).Msg("failed to reset streak")
		}
		return
	}

	streak, err := w.rewards.BumpStreak(ctx, userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID.String()).Msg("failed to bump streak")
	} else {
		out.Streak = &streak
	}

	w.unlockMilestones(ctx, userID, out)
}

func (w *Workflow) rewardRevision(ctx context.Context, userID uuid.UUID, oldScore, newScore int, out *Outcome) {
	if newScore == scoring.MaxScore && oldScore != scoring.MaxScore {
		w.unlock(ctx, userID, achievement.PerfectScore, out)
	}
	if w.scorer.Qualifies(newScore) && !w.scorer.Qualifies(oldScore) {
		w.unlockMilestones(ctx, userID, out)
	}
}

func (w *Workflow) unlock(ctx context.Context, userID uuid.UUID, achievementID string, out *Outcome) {
	rec, err := w.rewards.Unlock(ctx, userID, achievementID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID.String()).Str("achievement_id", achievementID).Msg("failed to unlock achievement")
		return
	}
	if rec != nil {
		out.Unlocked = append(out.Unlocked, *rec)
	}
}

func (w *Workflow) unlockMilestones(ctx context.Context, userID uuid.UUID, out *Outcome) {
	count, err := w.repo.CountQualifying(ctx, userID, w.scorer.Config().QualifyingThreshold)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID.String()).Msg("failed to count qualifying submissions")
		return
	}

	recs, err := w.rewards.UnlockMilestones(ctx, userID, count)
	out.Unlocked = append(out.Unlocked, recs...)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID.String()).Int("qualifying", count).Msg("failed to unlock milestones")
	}
}

func (w *Workflow) setStatus(ctx context.Context, s *Submission, status Status) {
	if err := w.repo.SetStatus(ctx, s.ID, status); err != nil {
		log.Error().Err(err).Str("submission_id", s.ID.String()).Str("status", string(status)).Msg("failed to update submission status")
		return
	}
	s.Status = status
}

func sameScore(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
