package credit

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType represents the type of credit transaction
type TransactionType string

const (
	TransactionTypeDeduction        TransactionType = "deduction"
	TransactionTypeRefund           TransactionType = "refund"
	TransactionTypeAchievementBonus TransactionType = "achievement_bonus"
	TransactionTypeStreakBonus      TransactionType = "streak_bonus"
	TransactionTypePurchase         TransactionType = "purchase"
	TransactionTypeAdminGrant       TransactionType = "admin_grant"
)

// Valid reports whether t is a known transaction type
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeDeduction, TransactionTypeRefund, TransactionTypeAchievementBonus,
		TransactionTypeStreakBonus, TransactionTypePurchase, TransactionTypeAdminGrant:
		return true
	}
	return false
}

// TransactionMeta describes why a balance changed.
// Reason is free-form but conventionally "<source>:<detail>", e.g. "achievement:perfect_score".
type TransactionMeta struct {
	Type              TransactionType // ignored for debits; defaults to admin_grant for credits
	Reason            string
	RelatedEntityType string
	RelatedEntityID   uuid.UUID
}

// DebitResult is the non-failing outcome of TryDebit.
// Required and Available are set only when OK is false.
type DebitResult struct {
	OK         bool `json:"ok"`
	NewBalance int  `json:"new_balance,omitempty"`
	Required   int  `json:"required,omitempty"`
	Available  int  `json:"available,omitempty"`
}

// Pagination controls simple list pagination.
type Pagination struct {
	Limit  int
	Offset int
}

// CreditTransaction is a ledger row.
type CreditTransaction struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	UserID            uuid.UUID  `db:"user_id" json:"user_id"`
	AmountDelta       int        `db:"amount_delta" json:"amount_delta"`
	TxType            string     `db:"tx_type" json:"tx_type"`
	Reason            string     `db:"reason" json:"reason"`
	RelatedEntityType *string    `db:"related_entity_type" json:"related_entity_type,omitempty"`
	RelatedEntityID   *uuid.UUID `db:"related_entity_id" json:"related_entity_id,omitempty"`
	BalanceAfter      int        `db:"balance_after" json:"balance_after"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
}
