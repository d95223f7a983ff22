package achievement

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/storyquest/storyquest-api/internal/domain/credit"
)

const queryTimeout = 3 * time.Second

// Repository stores achievement rows and the streak counter. Every reward is
// credited in the same transaction as the row change that earned it.
type Repository interface {
	// Unlock marks the achievement unlocked and pays its reward. Returns a nil
	// record when it was already unlocked.
	Unlock(ctx context.Context, userID uuid.UUID, d Descriptor) (*Record, error)

	// IncrementStreak bumps the streak and pays bonuses[streak] when present.
	IncrementStreak(ctx context.Context, userID uuid.UUID, bonuses map[int]int) (StreakResult, error)

	ResetStreak(ctx context.Context, userID uuid.UUID) error
	List(ctx context.Context, userID uuid.UUID) ([]Record, error)
}

type repository struct {
	db     *sqlx.DB
	ledger credit.TxLedger
}

// NewRepository creates the Postgres achievement repository
func NewRepository(db *sqlx.DB, ledger credit.TxLedger) Repository {
	return &repository{db: db, ledger: ledger}
}

func (r *repository) Unlock(ctx context.Context, userID uuid.UUID, d Descriptor) (*Record, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx2, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	var rec Record
	err = tx.GetContext(ctx2, &rec, `
		INSERT INTO user_achievements (
			id, user_id, achievement_id, name, rarity, unlocked, unlocked_at, credits_reward
		)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, TRUE, NOW(), $5)
		ON CONFLICT (user_id, achievement_id) DO UPDATE
		SET unlocked = TRUE, unlocked_at = NOW(),
		    name = EXCLUDED.name, rarity = EXCLUDED.rarity, credits_reward = EXCLUDED.credits_reward
		WHERE user_achievements.unlocked = FALSE
		RETURNING id, user_id, achievement_id, name, rarity, unlocked, unlocked_at, credits_reward, created_at
	`, userID, d.ID, d.Name, string(d.Rarity), d.CreditsReward)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("%w: upsert achievement", ErrInternal)
	}

	if d.CreditsReward > 0 {
		_, err := r.ledger.CreditTx(ctx2, tx, userID, d.CreditsReward, credit.TransactionMeta{
			Type:              credit.TransactionTypeAchievementBonus,
			Reason:            "achievement:" + d.ID,
			RelatedEntityType: "achievement",
			RelatedEntityID:   rec.ID,
		})
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit tx", ErrInternal)
	}

	return &rec, nil
}

func (r *repository) IncrementStreak(ctx context.Context, userID uuid.UUID, bonuses map[int]int) (StreakResult, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx2, &sql.TxOptions{})
	if err != nil {
		return StreakResult{}, fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	var result StreakResult
	err = tx.QueryRowxContext(ctx2, `
		UPDATE users SET streak = streak + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING streak
	`, userID).Scan(&result.Streak)
	if errors.Is(err, sql.ErrNoRows) {
		return StreakResult{}, ErrUserNotFound
	}
	if err != nil {
		return StreakResult{}, fmt.Errorf("%w: increment streak", ErrInternal)
	}

	if bonus := bonuses[result.Streak]; bonus > 0 {
		balance, err := r.ledger.CreditTx(ctx2, tx, userID, bonus, credit.TransactionMeta{
			Type:   credit.TransactionTypeStreakBonus,
			Reason: "streak:" + strconv.Itoa(result.Streak),
		})
		if err != nil {
			return StreakResult{}, err
		}
		result.BonusAwarded = true
		result.Bonus = bonus
		result.Balance = balance
	}

	if err := tx.Commit(); err != nil {
		return StreakResult{}, fmt.Errorf("%w: commit tx", ErrInternal)
	}

	return result, nil
}

func (r *repository) ResetStreak(ctx context.Context, userID uuid.UUID) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx2, `UPDATE users SET streak = 0, updated_at = NOW() WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("%w: reset streak", ErrInternal)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *repository) List(ctx context.Context, userID uuid.UUID) ([]Record, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	records := make([]Record, 0)
	err := r.db.SelectContext(ctx2, &records, `
		SELECT id, user_id, achievement_id, name, rarity, unlocked, unlocked_at, credits_reward, created_at
		FROM user_achievements
		WHERE user_id = $1
		ORDER BY created_at, achievement_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: list achievements", ErrInternal)
	}
	return records, nil
}
