package models

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionTier represents a company's subscription level.
type SubscriptionTier string

const (
	TierStarter    SubscriptionTier = "starter"
	TierTeam       SubscriptionTier = "team"
	TierEnterprise SubscriptionTier = "enterprise"
)

// TierAllocation returns the baseline monthly credit allocation for a tier.
// The allocation lives on the account header and is never materialized as a
// ledger entry.
func TierAllocation(tier SubscriptionTier) int64 {
	switch tier {
	case TierEnterprise:
		return 50000
	case TierTeam:
		return 10000
	default:
		return 2000
	}
}

// CreditAccount is the company-scoped ledger header. At most one account
// exists per company.
type CreditAccount struct {
	ID           uuid.UUID        `json:"id" db:"id"`
	CompanyID    uuid.UUID        `json:"company_id" db:"company_id"`
	Tier         SubscriptionTier `json:"tier" db:"tier"`
	PeriodStart  time.Time        `json:"period_start" db:"period_start"`
	PeriodEnd    time.Time        `json:"period_end" db:"period_end"`
	TotalCredits int64            `json:"total_credits" db:"total_credits"`
	BonusCredits int64            `json:"bonus_credits" db:"bonus_credits"`
	CreatedAt    time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at" db:"updated_at"`
}

// EntryDirection is the side of the ledger an entry lands on.
type EntryDirection string

const (
	DirectionDebit  EntryDirection = "debit"
	DirectionCredit EntryDirection = "credit"
)

// TransactionType classifies ledger entries.
type TransactionType string

const (
	TxTypeAllocation     TransactionType = "allocation"
	TxTypeSpend          TransactionType = "spend"
	TxTypeRefund         TransactionType = "refund"
	TxTypeAdjustment     TransactionType = "adjustment"
	TxTypeHoldConversion TransactionType = "hold_conversion"
)

// LedgerEntry is an append-only, immutable ledger row. Amounts are positive;
// sign is carried by Direction. (account_id, idempotency_key) is unique.
type LedgerEntry struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	AccountID      uuid.UUID       `json:"account_id" db:"account_id"`
	Direction      EntryDirection  `json:"direction" db:"direction"`
	Amount         int64           `json:"amount" db:"amount"`
	Type           TransactionType `json:"type" db:"type"`
	ReferenceType  *string         `json:"reference_type,omitempty" db:"reference_type"`
	ReferenceID    *string         `json:"reference_id,omitempty" db:"reference_id"`
	Description    string          `json:"description" db:"description"`
	IdempotencyKey string          `json:"idempotency_key" db:"idempotency_key"`
	ActorID        uuid.UUID       `json:"actor_id" db:"actor_id"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// HoldStatus is the lifecycle state of a credit hold. Transitions are
// active→converted or active→released only.
type HoldStatus string

const (
	HoldActive    HoldStatus = "active"
	HoldConverted HoldStatus = "converted"
	HoldReleased  HoldStatus = "released"
)

// CreditHold reserves credit units against available balance. Keyed 1:1 to
// an approval request via RequestID.
type CreditHold struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	AccountID      uuid.UUID  `json:"account_id" db:"account_id"`
	RequestID      uuid.UUID  `json:"request_id" db:"request_id"`
	Amount         int64      `json:"amount" db:"amount"`
	Status         HoldStatus `json:"status" db:"status"`
	IdempotencyKey string     `json:"idempotency_key" db:"idempotency_key"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	ConvertedAt    *time.Time `json:"converted_at,omitempty" db:"converted_at"`
	ReleasedAt     *time.Time `json:"released_at,omitempty" db:"released_at"`
}

// Terminal reports whether the hold has reached a final status.
func (h *CreditHold) Terminal() bool {
	return h.Status != HoldActive
}

// BalanceSnapshot is a consistent view of an account's balance.
//
//	Available = TotalCredits + BonusCredits + CreditEntries − DebitEntries − ActiveHolds
type BalanceSnapshot struct {
	AccountID     uuid.UUID `json:"account_id"`
	TotalCredits  int64     `json:"total_credits"`
	BonusCredits  int64     `json:"bonus_credits"`
	CreditEntries int64     `json:"credit_entries"`
	DebitEntries  int64     `json:"debit_entries"`
	ActiveHolds   int64     `json:"active_holds"`
	Available     int64     `json:"available"`
	AsOf          time.Time `json:"as_of"`
}
