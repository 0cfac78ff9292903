package domain

import "time"

type TransactionKind string

const (
	TransactionKindPurchase   TransactionKind = "PURCHASE"
	TransactionKindUsage      TransactionKind = "USAGE"
	TransactionKindRefund     TransactionKind = "REFUND"
	TransactionKindBonus      TransactionKind = "BONUS"
	TransactionKindTrialGrant TransactionKind = "TRIAL_GRANT"
	TransactionKindAutoTopup  TransactionKind = "AUTO_TOPUP"
)

// CreditKinds are the kinds that increase the balance.
var CreditKinds = map[TransactionKind]bool{
	TransactionKindPurchase:   true,
	TransactionKindRefund:     true,
	TransactionKindBonus:      true,
	TransactionKindTrialGrant: true,
	TransactionKindAutoTopup:  true,
}

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "PENDING"
	TransactionStatusCompleted TransactionStatus = "COMPLETED"
	TransactionStatusFailed    TransactionStatus = "FAILED"
	TransactionStatusCancelled TransactionStatus = "CANCELLED"
	TransactionStatusRefunded  TransactionStatus = "REFUNDED"
)

// AccountBalance is the per-account balance projection. It is mutated only by
// the ledger repository; currentBalance == totalPurchased + totalRefunded - totalUsed
// holds in every committed state and the balance never goes negative.
type AccountBalance struct {
	AccountID      string     `json:"account_id"`
	CurrentBalance int64      `json:"current_balance"`
	TotalPurchased int64      `json:"total_purchased"`
	TotalUsed      int64      `json:"total_used"`
	TotalRefunded  int64      `json:"total_refunded"`
	LastPurchaseAt *time.Time `json:"last_purchase_at,omitempty"`
	LastUsageAt    *time.Time `json:"last_usage_at,omitempty"`
	Version        int64      `json:"version"`
	CreatedOn      time.Time  `json:"created_on"`
	UpdatedOn      time.Time  `json:"updated_on"`
}

// CreditTransaction is an append-only ledger entry. Rows are never edited after
// creation except for the bounded status transitions; corrections are new linked
// transactions.
type CreditTransaction struct {
	ID             string            `json:"id"`
	AccountID      string            `json:"account_id"`
	Kind           TransactionKind   `json:"kind"`
	Amount         int64             `json:"amount"` // always positive; Kind decides direction
	Status         TransactionStatus `json:"status"`
	BalanceAfter   int64             `json:"balance_after"`
	ReferenceID    string            `json:"reference_id,omitempty"`
	ReferenceType  string            `json:"reference_type,omitempty"`
	IdempotencyKey string            `json:"idempotency_key"`
	ReasonCode     string            `json:"reason_code,omitempty"`
	Description    string            `json:"description,omitempty"`
	CreatedOn      time.Time         `json:"created_on"`
	CompletedOn    *time.Time        `json:"completed_on,omitempty"`
}

// TransactionFilter narrows history queries.
type TransactionFilter struct {
	Kind   TransactionKind
	Status TransactionStatus
	From   *time.Time
	To     *time.Time
}

// TransactionResult is returned by every mutating ledger operation.
type TransactionResult struct {
	TransactionID string `json:"transaction_id"`
	NewBalance    int64  `json:"new_balance"`
	// Replayed is true when the idempotency key matched a prior application
	// and the original result was returned without a second balance change.
	Replayed bool `json:"replayed,omitempty"`
}

// BalanceSnapshot is the read surface for display. It may be served with
// bounded staleness; mutating paths never consult it.
type BalanceSnapshot struct {
	AccountID      string             `json:"account_id"`
	CurrentBalance int64              `json:"current_balance"`
	TotalPurchased int64              `json:"total_purchased"`
	TotalUsed      int64              `json:"total_used"`
	TotalRefunded  int64              `json:"total_refunded"`
	LastPurchaseAt *time.Time         `json:"last_purchase_at,omitempty"`
	LastUsageAt    *time.Time         `json:"last_usage_at,omitempty"`
	AutoTopup      *AutoTopupStatus   `json:"auto_topup,omitempty"`
	AsOf           time.Time          `json:"as_of"`
}

// AutoTopupStatus is the policy view embedded in balance reads so a suspended
// policy is discoverable without a separate query.
type AutoTopupStatus struct {
	Enabled        bool       `json:"enabled"`
	Suspended      bool       `json:"suspended"`
	TriggerBalance int64      `json:"trigger_balance"`
	TopupAmount    int64      `json:"topup_amount"`
	FailureCount   int32      `json:"failure_count"`
	LastTriggered  *time.Time `json:"last_triggered_at,omitempty"`
}
