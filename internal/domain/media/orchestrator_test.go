package media_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/storyquest/storyquest-api/internal/domain/credit"
	"github.com/storyquest/storyquest-api/internal/domain/media"
	"github.com/storyquest/storyquest-api/internal/domain/user"
	"github.com/storyquest/storyquest-api/internal/store/memory"
)

type harness struct {
	store  *memory.Store
	orch   *media.Orchestrator
	userID uuid.UUID
}

func newHarness(t *testing.T, credits int, cfg media.Config) *harness {
	t.Helper()
	st := memory.New()
	acc := &user.Account{Email: fmt.Sprintf("artist_%s@test.com", uuid.NewString()[:8]), Credits: credits}
	if err := st.Users().Create(context.Background(), acc); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return &harness{store: st, orch: media.NewOrchestrator(st.Media(), cfg), userID: acc.ID}
}

func (h *harness) balance(t *testing.T) int {
	t.Helper()
	b, err := h.store.Credits().GetBalance(context.Background(), h.userID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return b
}

func (h *harness) onlyReservation(t *testing.T) media.Reservation {
	t.Helper()
	rs := h.store.Reservations(h.userID)
	if len(rs) != 1 {
		t.Fatalf("expected 1 reservation, got %d", len(rs))
	}
	return rs[0]
}

func succeed(url string) media.Call {
	return func(ctx context.Context) (*media.Asset, error) {
		return &media.Asset{Success: true, URL: url, FileName: "story.png", Style: media.StyleComic}, nil
	}
}

func TestPerformCommitsAndCharges(t *testing.T) {
	h := newHarness(t, 150, media.DefaultConfig())

	res, err := h.orch.Perform(context.Background(), h.userID, media.OperationImage, succeed("https://cdn.test/images/a.png"))
	if err != nil {
		t.Fatalf("perform: %v", err)
	}
	if res.Charged != 100 || res.Balance != 50 || res.Reservation.State != media.StateCommitted {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Artifact == nil || res.Artifact.AssetURL != "https://cdn.test/images/a.png" || res.Artifact.CreditsSpent != 100 {
		t.Fatalf("unexpected artifact %+v", res.Artifact)
	}
	if got := h.balance(t); got != 50 {
		t.Fatalf("expected balance 50, got %d", got)
	}
	if r := h.onlyReservation(t); r.State != media.StateCommitted || r.ResolvedAt == nil {
		t.Fatalf("unexpected reservation %+v", r)
	}

	artifacts, err := h.store.Media().ListArtifacts(context.Background(), h.userID, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(artifacts) != 1 || artifacts[0].ReservationID != res.Reservation.ID {
		t.Fatalf("unexpected artifacts %+v", artifacts)
	}
}

func TestPerformInsufficientSkipsCollaborator(t *testing.T) {
	cases := []struct {
		name    string
		credits int
		kind    media.OperationKind
	}{
		{name: "image", credits: 50, kind: media.OperationImage},
		{name: "video", credits: 150, kind: media.OperationVideo},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, tc.credits, media.DefaultConfig())

			var called atomic.Bool
			_, err := h.orch.Perform(context.Background(), h.userID, tc.kind, func(ctx context.Context) (*media.Asset, error) {
				called.Store(true)
				return &media.Asset{Success: true, URL: "x"}, nil
			})
			if !errors.Is(err, credit.ErrInsufficientFunds) {
				t.Fatalf("expected ErrInsufficientFunds, got %v", err)
			}
			if called.Load() {
				t.Fatal("collaborator must not be called without credits")
			}
			if got := h.balance(t); got != tc.credits {
				t.Fatalf("expected balance %d, got %d", tc.credits, got)
			}
			if rs := h.store.Reservations(h.userID); len(rs) != 0 {
				t.Fatalf("expected no reservations, got %+v", rs)
			}
		})
	}
}

func TestPerformUnknownOperation(t *testing.T) {
	h := newHarness(t, 1000, media.DefaultConfig())
	if _, err := h.orch.Perform(context.Background(), h.userID, "hologram", succeed("x")); !errors.Is(err, media.ErrUnknownOperation) {
		t.Fatalf("expected ErrUnknownOperation, got %v", err)
	}
}

func TestPerformRefundsFailures(t *testing.T) {
	cases := []struct {
		name     string
		call     media.Call
		wantKind string
	}{
		{
			name: "collaborator error",
			call: func(ctx context.Context) (*media.Asset, error) {
				return nil, errors.New("502 from agent")
			},
			wantKind: media.FailureError,
		},
		{
			name: "success false",
			call: func(ctx context.Context) (*media.Asset, error) {
				return &media.Asset{Success: false, Reason: "content policy"}, nil
			},
			wantKind: media.FailureFailed,
		},
		{
			name: "no asset url",
			call: func(ctx context.Context) (*media.Asset, error) {
				return &media.Asset{Success: true}, nil
			},
			wantKind: media.FailureFailed,
		},
		{
			name: "panic",
			call: func(ctx context.Context) (*media.Asset, error) {
				panic("nil map")
			},
			wantKind: media.FailureError,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, 150, media.DefaultConfig())

			_, err := h.orch.Perform(context.Background(), h.userID, media.OperationImage, tc.call)
			var cerr *media.CollaboratorError
			if !errors.As(err, &cerr) || cerr.Kind != tc.wantKind {
				t.Fatalf("expected %s collaborator error, got %v", tc.wantKind, err)
			}
			if !errors.Is(err, media.ErrCollaboratorFailure) {
				t.Fatalf("expected ErrCollaboratorFailure, got %v", err)
			}
			if got := h.balance(t); got != 150 {
				t.Fatalf("expected balance restored to 150, got %d", got)
			}
			if r := h.onlyReservation(t); r.State != media.StateRefunded || r.FailureReason == nil {
				t.Fatalf("unexpected reservation %+v", r)
			}
		})
	}
}

func TestPerformTimeoutRefunds(t *testing.T) {
	cfg := media.DefaultConfig()
	cfg.Timeouts[media.OperationImage] = 30 * time.Millisecond
	h := newHarness(t, 150, cfg)

	_, err := h.orch.Perform(context.Background(), h.userID, media.OperationImage, func(ctx context.Context) (*media.Asset, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	var cerr *media.CollaboratorError
	if !errors.As(err, &cerr) || cerr.Kind != media.FailureTimeout {
		t.Fatalf("expected timeout, got %v", err)
	}
	if got := h.balance(t); got != 150 {
		t.Fatalf("expected balance 150, got %d", got)
	}
}

func TestPerformCommitFailureRefunds(t *testing.T) {
	h := newHarness(t, 150, media.DefaultConfig())
	h.store.SetFault(memory.FaultCommit, errors.New("disk full"))

	_, err := h.orch.Perform(context.Background(), h.userID, media.OperationImage, succeed("https://cdn.test/a.png"))
	if !errors.Is(err, media.ErrCollaboratorFailure) {
		t.Fatalf("expected collaborator failure, got %v", err)
	}
	if got := h.balance(t); got != 150 {
		t.Fatalf("expected balance 150, got %d", got)
	}
	if r := h.onlyReservation(t); r.State != media.StateRefunded {
		t.Fatalf("expected refunded reservation, got %s", r.State)
	}
}

func TestPerformRefundFailureSurfaces(t *testing.T) {
	h := newHarness(t, 150, media.DefaultConfig())
	h.store.SetFault(memory.FaultRefund, errors.New("connection refused"))

	_, err := h.orch.Perform(context.Background(), h.userID, media.OperationImage, func(ctx context.Context) (*media.Asset, error) {
		return nil, errors.New("agent down")
	})
	if !errors.Is(err, media.ErrRefundFailed) {
		t.Fatalf("expected ErrRefundFailed, got %v", err)
	}
	if !errors.Is(err, media.ErrCollaboratorFailure) {
		t.Fatalf("expected the collaborator failure to be kept, got %v", err)
	}
	if got := h.balance(t); got != 50 {
		t.Fatalf("expected balance 50 while refund is pending, got %d", got)
	}
	if r := h.onlyReservation(t); r.State != media.StateReserved {
		t.Fatalf("expected reservation left reserved, got %s", r.State)
	}
}

func TestPerformAbandonedStillResolves(t *testing.T) {
	h := newHarness(t, 150, media.DefaultConfig())

	release := make(chan struct{})
	started := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := h.orch.Perform(ctx, h.userID, media.OperationImage, func(callCtx context.Context) (*media.Asset, error) {
			close(started)
			<-release
			if callCtx.Err() != nil {
				return nil, callCtx.Err()
			}
			return &media.Asset{Success: true, URL: "https://cdn.test/late.png"}, nil
		})
		errCh <- err
	}()

	<-started
	cancel()
	if err := <-errCh; !errors.Is(err, media.ErrAbandoned) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected ErrAbandoned, got %v", err)
	}

	close(release)
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	if err := h.orch.Wait(waitCtx); err != nil {
		t.Fatalf("wait: %v", err)
	}

	if r := h.onlyReservation(t); r.State != media.StateCommitted {
		t.Fatalf("expected committed reservation, got %s", r.State)
	}
	if got := h.balance(t); got != 50 {
		t.Fatalf("expected balance 50, got %d", got)
	}
}

func TestPerformAfterWaitIsRejected(t *testing.T) {
	h := newHarness(t, 150, media.DefaultConfig())
	if err := h.orch.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}

	called := false
	_, err := h.orch.Perform(context.Background(), h.userID, media.OperationImage, func(ctx context.Context) (*media.Asset, error) {
		called = true
		return &media.Asset{Success: true, URL: "https://cdn.test/late.png"}, nil
	})
	if !errors.Is(err, media.ErrShuttingDown) {
		t.Fatalf("expected ErrShuttingDown, got %v", err)
	}
	if called {
		t.Fatal("collaborator must not run after shutdown")
	}
	if got := h.balance(t); got != 150 {
		t.Fatalf("expected balance 150, got %d", got)
	}
	if rs := h.store.Reservations(h.userID); len(rs) != 0 {
		t.Fatalf("expected no reservations, got %d", len(rs))
	}
}

func TestConcurrentPerformNeverOverdraws(t *testing.T) {
	h := newHarness(t, 450, media.DefaultConfig())

	var wg sync.WaitGroup
	var mu sync.Mutex
	success := 0

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.orch.Perform(context.Background(), h.userID, media.OperationImage, succeed(fmt.Sprintf("https://cdn.test/%d.png", i)))
			if err == nil {
				mu.Lock()
				success++
				mu.Unlock()
				return
			}
			if !errors.Is(err, credit.ErrInsufficientFunds) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if success != 4 {
		t.Fatalf("expected 4 successes, got %d", success)
	}
	if got := h.balance(t); got != 50 {
		t.Fatalf("expected balance 50, got %d", got)
	}
}

func TestCost(t *testing.T) {
	orch := media.NewOrchestrator(memory.New().Media(), media.Config{})
	if c, ok := orch.Cost(media.OperationVideo); !ok || c != media.DefaultVideoCost {
		t.Fatalf("expected video cost %d, got %d %v", media.DefaultVideoCost, c, ok)
	}
	if _, ok := orch.Cost("hologram"); ok {
		t.Fatal("unknown kind must not have a cost")
	}
}
