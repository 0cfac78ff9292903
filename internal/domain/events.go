package domain

import "time"

type EventType string

const (
	EventTransactionCompleted EventType = "TRANSACTION_COMPLETED"
	EventLowBalance           EventType = "LOW_BALANCE"
	EventCriticalBalance      EventType = "CRITICAL_BALANCE"
	EventTopupSuspended       EventType = "TOPUP_SUSPENDED"
)

// Event is the fire-and-forget payload handed to the notification publisher.
// Delivery is best effort; the ledger never blocks on it.
type Event struct {
	Type          EventType       `json:"type"`
	AccountID     string          `json:"account_id"`
	TransactionID string          `json:"transaction_id,omitempty"`
	Kind          TransactionKind `json:"kind,omitempty"`
	Amount        int64           `json:"amount,omitempty"`
	Balance       int64           `json:"balance"`
	OccurredAt    time.Time       `json:"occurred_at"`
}
