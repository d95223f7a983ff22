package achievement

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/storyquest/storyquest-api/internal/pkg/metrics"
)

// Engine grants one-time achievements and streak bonuses.
type Engine struct {
	repo Repository
	cfg  Config
}

// NewEngine creates an achievement engine
func NewEngine(repo Repository, cfg Config) *Engine {
	return &Engine{repo: repo, cfg: cfg.normalized()}
}

// Descriptor looks up an achievement in the catalog.
func (e *Engine) Descriptor(achievementID string) (Descriptor, bool) {
	d, ok := e.cfg.Catalog[achievementID]
	return d, ok
}

// TryUnlock unlocks achievementID for the user and credits its reward once.
// A nil record with a nil error means the achievement was already unlocked.
func (e *Engine) TryUnlock(ctx context.Context, userID uuid.UUID, achievementID string, d Descriptor) (*Record, error) {
	d.ID = achievementID
	if d.Name == "" {
		d.Name = achievementID
	}
	if d.Rarity == "" {
		d.Rarity = RarityCommon
	}

	rec, err := e.repo.Unlock(ctx, userID, d)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID.String()).Str("achievement_id", achievementID).Msg("achievement unlock failed")
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}

	metrics.AchievementsUnlocked.WithLabelValues(achievementID).Inc()
	log.Info().
		Str("user_id", userID.String()).
		Str("achievement_id", achievementID).
		Int("reward", d.CreditsReward).
		Msg("achievement unlocked")
	return rec, nil
}

// Unlock is TryUnlock with the catalog descriptor.
func (e *Engine) Unlock(ctx context.Context, userID uuid.UUID, achievementID string) (*Record, error) {
	d, ok := e.Descriptor(achievementID)
	if !ok {
		return nil, ErrUnknownAchievement
	}
	return e.TryUnlock(ctx, userID, achievementID, d)
}

// UnlockMilestones unlocks every configured milestone at or below
// qualifyingCount and returns the ones unlocked by this call.
func (e *Engine) UnlockMilestones(ctx context.Context, userID uuid.UUID, qualifyingCount int) ([]Record, error) {
	unlocked := make([]Record, 0)
	for _, n := range e.cfg.reachedMilestones(qualifyingCount) {
		id := e.cfg.Milestones[n]
		d, ok := e.cfg.Catalog[id]
		if !ok {
			log.Warn().Str("achievement_id", id).Int("milestone", n).Msg("milestone references unknown achievement")
			continue
		}
		rec, err := e.TryUnlock(ctx, userID, id, d)
		if err != nil {
			return unlocked, err
		}
		if rec != nil {
			unlocked = append(unlocked, *rec)
		}
	}
	return unlocked, nil
}

// BumpStreak increments the streak and pays a bonus when it lands on a milestone.
func (e *Engine) BumpStreak(ctx context.Context, userID uuid.UUID) (StreakResult, error) {
	res, err := e.repo.IncrementStreak(ctx, userID, e.cfg.StreakBonuses)
	if err != nil {
		return StreakResult{}, err
	}

	if res.BonusAwarded {
		metrics.StreakBonuses.Inc()
		log.Info().Str("user_id", userID.String()).Int("streak", res.Streak).Int("bonus", res.Bonus).Msg("streak bonus awarded")
	}
	return res, nil
}

func (e *Engine) ResetStreak(ctx context.Context, userID uuid.UUID) error {
	return e.repo.ResetStreak(ctx, userID)
}

func (e *Engine) List(ctx context.Context, userID uuid.UUID) ([]Record, error) {
	return e.repo.List(ctx, userID)
}
