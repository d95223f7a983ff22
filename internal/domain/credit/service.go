package credit

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/storyquest/storyquest-api/internal/pkg/metrics"
)

// Service is the credit ledger used by the rest of the engine.
type Service interface {
	// Balance returns the current credit balance for a user
	Balance(ctx context.Context, userID uuid.UUID) (int, error)

	// Debit atomically deducts credits and returns the new balance.
	// Returns ErrInsufficientFunds if the balance does not cover amount.
	Debit(ctx context.Context, userID uuid.UUID, amount int, meta TransactionMeta) (int, error)

	// Credit atomically adds credits and returns the new balance.
	Credit(ctx context.Context, userID uuid.UUID, amount int, meta TransactionMeta) (int, error)

	// TryDebit is Debit for callers that branch instead of handling an error.
	// Only infrastructure failures are returned as errors.
	TryDebit(ctx context.Context, userID uuid.UUID, amount int, meta TransactionMeta) (DebitResult, error)

	// ListTransactions returns paginated transaction history for a user
	ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]CreditTransaction, error)
}

// service implements the Service interface
type service struct {
	repo Repository
}

// NewService creates a new credit service
func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func (s *service) Balance(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.repo.GetBalance(ctx, userID)
}

func (s *service) Debit(ctx context.Context, userID uuid.UUID, amount int, meta TransactionMeta) (int, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	balance, err := s.repo.Debit(ctx, userID, amount, meta)
	if err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			metrics.LedgerMutations.WithLabelValues(string(TransactionTypeDeduction), metrics.OutcomeRejected).Inc()
			log.Info().Str("user_id", userID.String()).Int("amount", amount).Str("reason", meta.Reason).Msg("credit debit rejected")
		} else {
			metrics.LedgerMutations.WithLabelValues(string(TransactionTypeDeduction), metrics.OutcomeError).Inc()
		}
		return 0, err
	}

	metrics.LedgerMutations.WithLabelValues(string(TransactionTypeDeduction), metrics.OutcomeOK).Inc()
	metrics.CreditsMoved.WithLabelValues(string(TransactionTypeDeduction)).Add(float64(amount))
	log.Info().Str("user_id", userID.String()).Int("amount", amount).Int("balance", balance).Str("reason", meta.Reason).Msg("credits debited")
	return balance, nil
}

func (s *service) Credit(ctx context.Context, userID uuid.UUID, amount int, meta TransactionMeta) (int, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	if meta.Type == "" {
		meta.Type = TransactionTypeAdminGrant
	}

	balance, err := s.repo.Credit(ctx, userID, amount, meta)
	if err != nil {
		metrics.LedgerMutations.WithLabelValues(string(meta.Type), metrics.OutcomeError).Inc()
		return 0, err
	}

	metrics.LedgerMutations.WithLabelValues(string(meta.Type), metrics.OutcomeOK).Inc()
	metrics.CreditsMoved.WithLabelValues(string(meta.Type)).Add(float64(amount))
	log.Info().Str("user_id", userID.String()).Int("amount", amount).Int("balance", balance).Str("tx_type", string(meta.Type)).Str("reason", meta.Reason).Msg("credits added")
	return balance, nil
}

func (s *service) TryDebit(ctx context.Context, userID uuid.UUID, amount int, meta TransactionMeta) (DebitResult, error) {
	balance, err := s.Debit(ctx, userID, amount, meta)
	if err == nil {
		return DebitResult{OK: true, NewBalance: balance}, nil
	}

	var insufficient *InsufficientFundsError
	if errors.As(err, &insufficient) {
		return DebitResult{OK: false, Required: insufficient.Required, Available: insufficient.Available}, nil
	}
	if errors.Is(err, ErrInsufficientFunds) {
		available, balErr := s.repo.GetBalance(ctx, userID)
		if balErr != nil {
			return DebitResult{}, balErr
		}
		return DebitResult{OK: false, Required: amount, Available: available}, nil
	}

	return DebitResult{}, err
}

func (s *service) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]CreditTransaction, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	return s.repo.ListTransactions(ctx, userID, Pagination{Limit: limit, Offset: offset})
}
