package media

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/storyquest/storyquest-api/internal/domain/credit"
	"github.com/storyquest/storyquest-api/internal/pkg/metrics"
)

// Orchestrator runs credited operations: it reserves credits, calls the
// collaborator, then either commits the reservation or refunds it.
type Orchestrator struct {
	repo Repository
	cfg  Config

	// mu guards closed; wg.Add only runs under mu while closed is false.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(repo Repository, cfg Config) *Orchestrator {
	if cfg.Costs == nil {
		cfg.Costs = DefaultConfig().Costs
	}
	if cfg.Timeouts == nil {
		cfg.Timeouts = DefaultConfig().Timeouts
	}
	return &Orchestrator{repo: repo, cfg: cfg}
}

// Cost returns the price of kind.
func (o *Orchestrator) Cost(kind OperationKind) (int, bool) {
	cost, ok := o.cfg.Costs[kind]
	return cost, ok && cost > 0
}

type outcome struct {
	result *Result
	err    error
}

// Perform charges userID for kind and runs call.
//
// Insufficient credits return credit.ErrInsufficientFunds without calling
// the collaborator. A collaborator that fails, times out or reports
// Success=false yields a *CollaboratorError after the credits are refunded.
// If ctx ends before the operation resolves, Perform returns ErrAbandoned and
// the resolution finishes in the background; use Wait to drain it.
func (o *Orchestrator) Perform(ctx context.Context, userID uuid.UUID, kind OperationKind, call Call) (*Result, error) {
	cost, ok := o.Cost(kind)
	if !ok {
		return nil, ErrUnknownOperation
	}

	if !o.track() {
		return nil, ErrShuttingDown
	}
	tracked := false
	defer func() {
		if !tracked {
			o.wg.Done()
		}
	}()

	res := Reservation{
		ID:     uuid.New(),
		UserID: userID,
		Kind:   kind,
		Amount: cost,
	}
	balance, err := o.repo.Reserve(ctx, &res)
	if err != nil {
		if errors.Is(err, credit.ErrInsufficientFunds) {
			metrics.LedgerMutations.WithLabelValues(string(credit.TransactionTypeDeduction), metrics.OutcomeRejected).Inc()
			log.Info().Str("user_id", userID.String()).Str("kind", string(kind)).Int("cost", cost).Msg("credited operation rejected")
		}
		return nil, err
	}

	metrics.LedgerMutations.WithLabelValues(string(credit.TransactionTypeDeduction), metrics.OutcomeOK).Inc()
	metrics.CreditsMoved.WithLabelValues(string(credit.TransactionTypeDeduction)).Add(float64(cost))
	log.Info().
		Str("user_id", userID.String()).
		Str("reservation_id", res.ID.String()).
		Str("kind", string(kind)).
		Int("cost", cost).
		Int("balance", balance).
		Msg("credits reserved")

	done := make(chan outcome, 1)
	tracked = true
	go func() {
		defer o.wg.Done()
		r, err := o.execute(context.WithoutCancel(ctx), res, balance, call)
		done <- outcome{result: r, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		log.Warn().Str("reservation_id", res.ID.String()).Err(ctx.Err()).Msg("caller abandoned credited operation; resolving in background")
		return nil, fmt.Errorf("%w: %w", ErrAbandoned, ctx.Err())
	}
}

func (o *Orchestrator) track() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	o.wg.Add(1)
	return true
}

// Wait stops accepting operations and blocks until every in-flight operation
// has committed or refunded, or ctx ends. Perform returns ErrShuttingDown
// once Wait has been called.
func (o *Orchestrator) Wait(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) execute(ctx context.Context, res Reservation, balance int, call Call) (*Result, error) {
	timeout := o.cfg.Timeouts[res.Kind]
	if timeout <= 0 {
		timeout = DefaultImageTimeout
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	start := time.Now()
	asset, err := invoke(callCtx, call)
	cerr := classify(callCtx, res.Kind, asset, err)
	cancel()

	collabOutcome := metrics.OutcomeOK
	if cerr != nil {
		collabOutcome = cerr.Kind
	}
	metrics.CollaboratorDuration.WithLabelValues(string(res.Kind), collabOutcome).Observe(time.Since(start).Seconds())

	if cerr == nil {
		artifact := &Artifact{
			UserID:       res.UserID,
			MediaType:    res.Kind,
			AssetURL:     asset.URL,
			FileName:     asset.FileName,
			Prompt:       asset.Prompt,
			Style:        string(asset.Style),
			CreditsSpent: res.Amount,
		}
		if asset.SubmissionID != uuid.Nil {
			sid := asset.SubmissionID
			artifact.SubmissionID = &sid
		}
		if asset.ThumbnailURL != "" {
			thumb := asset.ThumbnailURL
			artifact.ThumbnailURL = &thumb
		}

		err := o.repo.Commit(ctx, res.ID, artifact)
		if err == nil {
			res.State = StateCommitted
			metrics.ReservationsResolved.WithLabelValues(string(res.Kind), string(StateCommitted)).Inc()
			log.Info().
				Str("user_id", res.UserID.String()).
				Str("reservation_id", res.ID.String()).
				Str("asset_url", artifact.AssetURL).
				Msg("credited operation committed")
			return &Result{Reservation: res, Artifact: artifact, Charged: res.Amount, Balance: balance}, nil
		}

		log.Error().Err(err).Str("reservation_id", res.ID.String()).Msg("failed to commit credited operation")
		cerr = &CollaboratorError{Kind: FailureError, Operation: res.Kind, Reason: "persist result", Err: err}
	}

	return nil, o.refund(ctx, res, cerr)
}

func (o *Orchestrator) refund(ctx context.Context, res Reservation, cerr *CollaboratorError) error {
	balance, err := o.repo.Refund(ctx, res.ID, cerr.Kind+": "+cerr.Reason)
	if errors.Is(err, ErrNotReserved) {
		log.Warn().Str("reservation_id", res.ID.String()).Err(err).Msg("reservation already resolved; refund skipped")
		return cerr
	}
	if err != nil {
		metrics.RefundFailures.Inc()
		log.Error().
			Bool("critical", true).
			Err(err).
			Str("user_id", res.UserID.String()).
			Str("reservation_id", res.ID.String()).
			Int("amount", res.Amount).
			Msg("failed to refund credited operation")
		return errors.Join(fmt.Errorf("%w: %w", ErrRefundFailed, err), cerr)
	}

	metrics.ReservationsResolved.WithLabelValues(string(res.Kind), string(StateRefunded)).Inc()
	metrics.LedgerMutations.WithLabelValues(string(credit.TransactionTypeRefund), metrics.OutcomeOK).Inc()
	metrics.CreditsMoved.WithLabelValues(string(credit.TransactionTypeRefund)).Add(float64(res.Amount))
	log.Warn().
		Str("user_id", res.UserID.String()).
		Str("reservation_id", res.ID.String()).
		Str("failure", cerr.Kind).
		Str("reason", cerr.Reason).
		Int("balance", balance).
		Msg("credited operation refunded")
	return cerr
}

func invoke(ctx context.Context, call Call) (asset *Asset, err error) {
	defer func() {
		if r := recover(); r != nil {
			asset = nil
			err = fmt.Errorf("collaborator panic: %v", r)
		}
	}()
	return call(ctx)
}

func classify(ctx context.Context, kind OperationKind, asset *Asset, err error) *CollaboratorError {
	switch {
	case err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)):
		return &CollaboratorError{Kind: FailureTimeout, Operation: kind, Reason: "timed out", Err: err}
	case err != nil:
		return &CollaboratorError{Kind: FailureError, Operation: kind, Reason: err.Error(), Err: err}
	case asset == nil || !asset.Success:
		reason := "collaborator reported failure"
		if asset != nil && asset.Reason != "" {
			reason = asset.Reason
		}
		return &CollaboratorError{Kind: FailureFailed, Operation: kind, Reason: reason}
	case asset.URL == "":
		return &CollaboratorError{Kind: FailureFailed, Operation: kind, Reason: "no asset produced"}
	}
	return nil
}
