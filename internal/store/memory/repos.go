package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/storyquest/storyquest-api/internal/domain/achievement"
	"github.com/storyquest/storyquest-api/internal/domain/credit"
	"github.com/storyquest/storyquest-api/internal/domain/media"
	"github.com/storyquest/storyquest-api/internal/domain/scoring"
	"github.com/storyquest/storyquest-api/internal/domain/submission"
	"github.com/storyquest/storyquest-api/internal/domain/user"
)

var (
	_ user.Repository        = (*userRepo)(nil)
	_ credit.Repository      = (*creditRepo)(nil)
	_ scoring.Repository     = (*ScoreRepo)(nil)
	_ achievement.Repository = (*achievementRepo)(nil)
	_ submission.Repository  = (*submissionRepo)(nil)
	_ media.Repository       = (*mediaRepo)(nil)
)

// ─── users ──────────────────────────────────────────────────────────────────

type userRepo struct{ s *Store }

func (r *userRepo) Create(_ context.Context, account *user.Account) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(account.Email)
	if _, taken := s.emails[email]; taken {
		return user.ErrEmailAlreadyExists
	}
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	if account.SubscriptionStatus == "" {
		account.SubscriptionStatus = user.SubscriptionFree
	}
	now := time.Now()
	account.CumulativeScore = 0
	account.Level = 1
	account.Streak = 0
	account.CreatedAt = now
	account.UpdatedAt = now

	stored := *account
	s.users[account.ID] = &stored
	s.emails[email] = account.ID
	return nil
}

func (r *userRepo) GetByID(_ context.Context, id uuid.UUID) (*user.Account, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, user.ErrUserNotFound
	}
	out := *u
	return &out, nil
}

func (r *userRepo) UpdateSubscriptionStatus(_ context.Context, id uuid.UUID, status user.SubscriptionStatus) error {
	switch status {
	case user.SubscriptionFree, user.SubscriptionActive, user.SubscriptionCancelled, user.SubscriptionExpired:
	default:
		return user.ErrInvalidStatus
	}

	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return user.ErrUserNotFound
	}
	u.SubscriptionStatus = status
	u.UpdatedAt = time.Now()
	return nil
}

// ─── credits ────────────────────────────────────────────────────────────────

type creditRepo struct{ s *Store }

func (r *creditRepo) Debit(_ context.Context, userID uuid.UUID, amount int, meta credit.TransactionMeta) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.debitLocked(userID, amount, meta)
}

func (r *creditRepo) Credit(_ context.Context, userID uuid.UUID, amount int, meta credit.TransactionMeta) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.creditLocked(userID, amount, meta)
}

func (r *creditRepo) GetBalance(_ context.Context, userID uuid.UUID) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[userID]
	if !ok {
		return 0, credit.ErrUserNotFound
	}
	return u.Credits, nil
}

// ListTransactions returns newest first.
func (r *creditRepo) ListTransactions(_ context.Context, userID uuid.UUID, p credit.Pagination) ([]credit.CreditTransaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	limit := p.Limit
	if limit <= 0 {
		limit = 20
	}

	out := make([]credit.CreditTransaction, 0)
	skipped := 0
	for i := len(r.s.ledger) - 1; i >= 0 && len(out) < limit; i-- {
		tx := r.s.ledger[i]
		if tx.UserID != userID {
			continue
		}
		if skipped < p.Offset {
			skipped++
			continue
		}
		out = append(out, tx)
	}
	return out, nil
}

// ─── scores ─────────────────────────────────────────────────────────────────

type ScoreRepo struct{ s *Store }

func (r *ScoreRepo) Apply(_ context.Context, userID, submissionID uuid.UUID, fn func(scoring.State) (scoring.Change, error)) (scoring.Aggregate, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.faults[FaultApply]; err != nil {
		return scoring.Aggregate{}, err
	}

	u, ok := s.users[userID]
	if !ok {
		return scoring.Aggregate{}, scoring.ErrUserNotFound
	}
	sub, ok := s.submissions[submissionID]
	if !ok || sub.UserID != userID {
		return scoring.Aggregate{}, scoring.ErrSubmissionNotFound
	}

	st := scoring.State{CumulativeScore: u.CumulativeScore, Level: u.Level}
	if sub.Score != nil {
		v := *sub.Score
		st.SubmissionScore = &v
	}

	change, err := fn(st)
	if err != nil {
		return scoring.Aggregate{}, err
	}

	now := time.Now()
	u.CumulativeScore = change.CumulativeScore
	u.Level = change.Level
	u.UpdatedAt = now
	score := change.SubmissionScore
	sub.Score = &score
	sub.UpdatedAt = now

	return scoring.Aggregate{UserID: userID, CumulativeScore: u.CumulativeScore, Level: u.Level}, nil
}

func (r *ScoreRepo) Reconcile(_ context.Context, userID uuid.UUID, threshold int, level func(int) int) (scoring.Reconciliation, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return scoring.Reconciliation{}, scoring.ErrUserNotFound
	}

	before := scoring.Aggregate{UserID: userID, CumulativeScore: u.CumulativeScore, Level: u.Level}
	total := 0
	for _, sub := range s.submissions {
		if sub.UserID == userID && sub.Score != nil && *sub.Score >= threshold {
			total += *sub.Score
		}
	}

	u.CumulativeScore = total
	u.Level = level(total)
	u.UpdatedAt = time.Now()
	after := scoring.Aggregate{UserID: userID, CumulativeScore: u.CumulativeScore, Level: u.Level}
	return scoring.Reconciliation{Before: before, After: after, Drift: after.CumulativeScore - before.CumulativeScore}, nil
}

func (r *ScoreRepo) GetAggregate(_ context.Context, userID uuid.UUID) (scoring.Aggregate, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return scoring.Aggregate{}, scoring.ErrUserNotFound
	}
	return scoring.Aggregate{UserID: userID, CumulativeScore: u.CumulativeScore, Level: u.Level}, nil
}

// SetAggregate overwrites the stored aggregate, for simulating drift.
func (r *ScoreRepo) SetAggregate(userID uuid.UUID, cumulative, level int) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.users[userID]; ok {
		u.CumulativeScore = cumulative
		u.Level = level
	}
}

// ─── achievements ───────────────────────────────────────────────────────────

type achievementRepo struct{ s *Store }

func (r *achievementRepo) Unlock(_ context.Context, userID uuid.UUID, d achievement.Descriptor) (*achievement.Record, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.faults[FaultUnlock]; err != nil {
		return nil, err
	}
	if _, ok := s.users[userID]; !ok {
		return nil, achievement.ErrUserNotFound
	}

	byID := s.achievements[userID]
	if byID == nil {
		byID = make(map[string]*achievement.Record)
		s.achievements[userID] = byID
	}

	now := time.Now()
	rec, exists := byID[d.ID]
	if exists && rec.Unlocked {
		return nil, nil
	}
	if !exists {
		rec = &achievement.Record{ID: uuid.New(), UserID: userID, AchievementID: d.ID, CreatedAt: now}
		byID[d.ID] = rec
	}
	rec.Name = d.Name
	rec.Rarity = d.Rarity
	rec.CreditsReward = d.CreditsReward
	rec.Unlocked = true
	rec.UnlockedAt = &now

	if d.CreditsReward > 0 {
		if _, err := s.creditLocked(userID, d.CreditsReward, credit.TransactionMeta{
			Type:              credit.TransactionTypeAchievementBonus,
			Reason:            "achievement:" + d.ID,
			RelatedEntityType: "achievement",
			RelatedEntityID:   rec.ID,
		}); err != nil {
			return nil, err
		}
	}

	out := *rec
	return &out, nil
}

func (r *achievementRepo) IncrementStreak(_ context.Context, userID uuid.UUID, bonuses map[int]int) (achievement.StreakResult, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return achievement.StreakResult{}, achievement.ErrUserNotFound
	}
	u.Streak++
	u.UpdatedAt = time.Now()

	res := achievement.StreakResult{Streak: u.Streak}
	if bonus := bonuses[u.Streak]; bonus > 0 {
		balance, err := s.creditLocked(userID, bonus, credit.TransactionMeta{
			Type:   credit.TransactionTypeStreakBonus,
			Reason: "streak:" + strconv.Itoa(u.Streak),
		})
		if err != nil {
			u.Streak--
			return achievement.StreakResult{}, err
		}
		res.BonusAwarded = true
		res.Bonus = bonus
		res.Balance = balance
	}
	return res, nil
}

func (r *achievementRepo) ResetStreak(_ context.Context, userID uuid.UUID) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return achievement.ErrUserNotFound
	}
	u.Streak = 0
	u.UpdatedAt = time.Now()
	return nil
}

func (r *achievementRepo) List(_ context.Context, userID uuid.UUID) ([]achievement.Record, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]achievement.Record, 0, len(s.achievements[userID]))
	for _, rec := range s.achievements[userID] {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].AchievementID < out[j].AchievementID
	})
	return out, nil
}

// ─── submissions ────────────────────────────────────────────────────────────

type submissionRepo struct{ s *Store }

func (r *submissionRepo) Create(_ context.Context, sub *submission.Submission) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[sub.UserID]; !ok {
		return fmt.Errorf("%w: unknown user", submission.ErrInternal)
	}
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	if sub.Status == "" {
		sub.Status = submission.StatusPending
	}
	now := time.Now()
	sub.CreatedAt = now
	sub.UpdatedAt = now

	s.submissions[sub.ID] = copySubmission(sub)
	return nil
}

func (r *submissionRepo) GetByID(_ context.Context, id uuid.UUID) (*submission.Submission, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.submissions[id]
	if !ok {
		return nil, submission.ErrNotFound
	}
	return copySubmission(sub), nil
}

func (r *submissionRepo) SetStatus(_ context.Context, id uuid.UUID, status submission.Status) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.submissions[id]
	if !ok {
		return submission.ErrNotFound
	}
	sub.Status = status
	sub.UpdatedAt = time.Now()
	return nil
}

func (r *submissionRepo) SaveFeedback(_ context.Context, id uuid.UUID, feedback json.RawMessage, status submission.Status) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.submissions[id]
	if !ok {
		return submission.ErrNotFound
	}
	sub.Feedback = append(json.RawMessage(nil), feedback...)
	sub.Status = status
	sub.UpdatedAt = time.Now()
	return nil
}

func (r *submissionRepo) CountQualifying(_ context.Context, userID uuid.UUID, threshold int) (int, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, sub := range s.submissions {
		if sub.UserID == userID && sub.Score != nil && *sub.Score >= threshold {
			n++
		}
	}
	return n, nil
}

func copySubmission(sub *submission.Submission) *submission.Submission {
	out := *sub
	if sub.Score != nil {
		v := *sub.Score
		out.Score = &v
	}
	if sub.Feedback != nil {
		out.Feedback = append(json.RawMessage(nil), sub.Feedback...)
	}
	return &out
}

// ─── media ──────────────────────────────────────────────────────────────────

type mediaRepo struct{ s *Store }

func (r *mediaRepo) Reserve(_ context.Context, res *media.Reservation) (int, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.faults[FaultReserve]; err != nil {
		return 0, err
	}

	balance, err := s.debitLocked(res.UserID, res.Amount, credit.TransactionMeta{
		Reason:            "operation:" + string(res.Kind),
		RelatedEntityType: "credit_reservation",
		RelatedEntityID:   res.ID,
	})
	if err != nil {
		return 0, err
	}

	res.State = media.StateReserved
	res.CreatedAt = time.Now()
	stored := *res
	s.reservations[res.ID] = &stored
	return balance, nil
}

func (r *mediaRepo) Commit(_ context.Context, reservationID uuid.UUID, a *media.Artifact) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.faults[FaultCommit]; err != nil {
		return err
	}

	res, err := s.reservedLocked(reservationID)
	if err != nil {
		return err
	}

	now := time.Now()
	res.State = media.StateCommitted
	res.ResolvedAt = &now

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.ReservationID = reservationID
	a.CreatedAt = now
	s.artifacts = append(s.artifacts, *a)
	return nil
}

func (r *mediaRepo) Refund(_ context.Context, reservationID uuid.UUID, reason string) (int, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.faults[FaultRefund]; err != nil {
		return 0, err
	}

	res, err := s.reservedLocked(reservationID)
	if err != nil {
		return 0, err
	}

	balance, err := s.creditLocked(res.UserID, res.Amount, credit.TransactionMeta{
		Type:              credit.TransactionTypeRefund,
		Reason:            "refund:" + string(res.Kind),
		RelatedEntityType: "credit_reservation",
		RelatedEntityID:   res.ID,
	})
	if err != nil {
		return 0, err
	}

	now := time.Now()
	res.State = media.StateRefunded
	res.FailureReason = &reason
	res.ResolvedAt = &now
	return balance, nil
}

func (r *mediaRepo) GetReservation(_ context.Context, id uuid.UUID) (*media.Reservation, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	res, ok := s.reservations[id]
	if !ok {
		return nil, media.ErrReservationNotFound
	}
	out := *res
	return &out, nil
}

func (r *mediaRepo) ListArtifacts(_ context.Context, userID uuid.UUID, submissionID *uuid.UUID) ([]media.Artifact, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]media.Artifact, 0)
	for i := len(s.artifacts) - 1; i >= 0; i-- {
		a := s.artifacts[i]
		if a.UserID != userID {
			continue
		}
		if submissionID != nil && (a.SubmissionID == nil || *a.SubmissionID != *submissionID) {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// Reservations returns every reservation for userID, for assertions.
func (s *Store) Reservations(userID uuid.UUID) []media.Reservation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]media.Reservation, 0)
	for _, res := range s.reservations {
		if res.UserID == userID {
			out = append(out, *res)
		}
	}
	return out
}

func (s *Store) reservedLocked(id uuid.UUID) (*media.Reservation, error) {
	res, ok := s.reservations[id]
	if !ok {
		return nil, media.ErrReservationNotFound
	}
	if res.State != media.StateReserved {
		return nil, fmt.Errorf("%w: state %s", media.ErrNotReserved, res.State)
	}
	return res, nil
}
