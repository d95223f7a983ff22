package user

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus represents the account's plan state (matches subscription_status column)
type SubscriptionStatus string

const (
	SubscriptionFree      SubscriptionStatus = "free"
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionExpired   SubscriptionStatus = "expired"
)

// Account represents a student account (matches users table).
// Credits are only mutated through the credit ledger; CumulativeScore and
// Level only through the score aggregator.
type Account struct {
	ID                 uuid.UUID          `db:"id" json:"id"`
	Email              string             `db:"email" json:"email"`
	DisplayName        string             `db:"display_name" json:"display_name"`
	AgeGroup           string             `db:"age_group" json:"age_group"`
	Credits            int                `db:"credit_balance" json:"credits"`
	CumulativeScore    int                `db:"cumulative_score" json:"cumulative_score"`
	Level              int                `db:"level" json:"level"`
	Streak             int                `db:"streak" json:"streak"`
	SubscriptionStatus SubscriptionStatus `db:"subscription_status" json:"subscription_status"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// HasActiveSubscription returns true if the account is on a paid plan
func (a *Account) HasActiveSubscription() bool {
	return a.SubscriptionStatus == SubscriptionActive
}
