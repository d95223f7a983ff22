// Package memory is an in-memory implementation of every repository, for
// tests and local development. A single mutex makes each call atomic, which
// gives the same all-or-nothing guarantees the Postgres repositories get
// from a transaction.
package memory

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/storyquest/storyquest-api/internal/domain/achievement"
	"github.com/storyquest/storyquest-api/internal/domain/credit"
	"github.com/storyquest/storyquest-api/internal/domain/media"
	"github.com/storyquest/storyquest-api/internal/domain/submission"
	"github.com/storyquest/storyquest-api/internal/domain/user"
)

// Fault points that tests can make fail with SetFault.
const (
	FaultReserve = "media.reserve"
	FaultCommit  = "media.commit"
	FaultRefund  = "media.refund"
	FaultApply   = "scoring.apply"
	FaultUnlock  = "achievement.unlock"
)

type Store struct {
	mu sync.Mutex

	users        map[uuid.UUID]*user.Account
	emails       map[string]uuid.UUID
	ledger       []credit.CreditTransaction
	submissions  map[uuid.UUID]*submission.Submission
	achievements map[uuid.UUID]map[string]*achievement.Record
	reservations map[uuid.UUID]*media.Reservation
	artifacts    []media.Artifact
	faults       map[string]error
}

func New() *Store {
	return &Store{
		users:        make(map[uuid.UUID]*user.Account),
		emails:       make(map[string]uuid.UUID),
		submissions:  make(map[uuid.UUID]*submission.Submission),
		achievements: make(map[uuid.UUID]map[string]*achievement.Record),
		reservations: make(map[uuid.UUID]*media.Reservation),
		faults:       make(map[string]error),
	}
}

// SetFault makes the named operation return err until cleared with a nil err.
func (s *Store) SetFault(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, op)
		return
	}
	s.faults[op] = err
}

func (s *Store) Users() user.Repository { return &userRepo{s} }
func (s *Store) Credits() credit.Repository { return &creditRepo{s} }
func (s *Store) Scores() *ScoreRepo { return &ScoreRepo{s} }
func (s *Store) Achievements() achievement.Repository { return &achievementRepo{s} }
func (s *Store) Submissions() submission.Repository { return &submissionRepo{s} }
func (s *Store) Media() media.Repository { return &mediaRepo{s} }

// ─── ledger primitives (callers hold s.mu) ──────────────────────────────────

func (s *Store) debitLocked(userID uuid.UUID, amount int, meta credit.TransactionMeta) (int, error) {
	if amount <= 0 {
		return 0, credit.ErrInvalidAmount
	}
	u, ok := s.users[userID]
	if !ok {
		return 0, credit.ErrUserNotFound
	}
	if u.Credits < amount {
		return 0, &credit.InsufficientFundsError{Required: amount, Available: u.Credits}
	}

	u.Credits -= amount
	u.UpdatedAt = time.Now()
	meta.Type = credit.TransactionTypeDeduction
	s.appendLedgerLocked(userID, -amount, u.Credits, meta)
	return u.Credits, nil
}

func (s *Store) creditLocked(userID uuid.UUID, amount int, meta credit.TransactionMeta) (int, error) {
	if amount <= 0 {
		return 0, credit.ErrInvalidAmount
	}
	u, ok := s.users[userID]
	if !ok {
		return 0, credit.ErrUserNotFound
	}

	u.Credits += amount
	u.UpdatedAt = time.Now()
	if meta.Type == "" || meta.Type == credit.TransactionTypeDeduction {
		meta.Type = credit.TransactionTypeAdminGrant
	}
	s.appendLedgerLocked(userID, amount, u.Credits, meta)
	return u.Credits, nil
}

func (s *Store) appendLedgerLocked(userID uuid.UUID, delta, balance int, meta credit.TransactionMeta) {
	reason := meta.Reason
	if reason == "" {
		reason = "credit balance adjustment"
	}
	tx := credit.CreditTransaction{
		ID:           uuid.New(),
		UserID:       userID,
		AmountDelta:  delta,
		TxType:       string(meta.Type),
		Reason:       reason,
		BalanceAfter: balance,
		CreatedAt:    time.Now(),
	}
	if meta.RelatedEntityType != "" {
		t := meta.RelatedEntityType
		tx.RelatedEntityType = &t
	}
	if meta.RelatedEntityID != uuid.Nil {
		id := meta.RelatedEntityID
		tx.RelatedEntityID = &id
	}
	s.ledger = append(s.ledger, tx)
}
