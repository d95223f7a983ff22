// Package metrics holds the Prometheus collectors for the credit ledger and
// the reward engine. Collectors register with the default registry and are
// served by promhttp at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Ledger ─────────────────────────────────────────────────────────────────

var LedgerMutations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "storyquest",
	Subsystem: "ledger",
	Name:      "mutations_total",
	Help:      "Ledger mutations by transaction type and outcome.",
}, []string{"tx_type", "outcome"})

var CreditsMoved = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "storyquest",
	Subsystem: "ledger",
	Name:      "credits_total",
	Help:      "Credits moved by transaction type.",
}, []string{"tx_type"})

// ─── Credited operations ────────────────────────────────────────────────────

var ReservationsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "storyquest",
	Subsystem: "media",
	Name:      "reservations_resolved_total",
	Help:      "Credit reservations by operation kind and final state.",
}, []string{"kind", "state"})

var RefundFailures = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "storyquest",
	Subsystem: "media",
	Name:      "refund_failures_total",
	Help:      "Refunds that could not be applied. Any non-zero value needs attention.",
})

var CollaboratorDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "storyquest",
	Subsystem: "collaborator",
	Name:      "call_duration_seconds",
	Help:      "External collaborator call latency.",
	Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
}, []string{"collaborator", "outcome"})

// ─── Rewards ────────────────────────────────────────────────────────────────

var AchievementsUnlocked = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "storyquest",
	Subsystem: "rewards",
	Name:      "achievements_unlocked_total",
	Help:      "Achievement unlocks by achievement id.",
}, []string{"achievement_id"})

var StreakBonuses = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "storyquest",
	Subsystem: "rewards",
	Name:      "streak_bonuses_total",
	Help:      "Streak milestone bonuses paid.",
})

var ScoreUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "storyquest",
	Subsystem: "scoring",
	Name:      "updates_total",
	Help:      "Score aggregate updates by kind (record, revise, reconcile).",
}, []string{"kind"})

// Outcome label values.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)
