package repository

import (
	"context"
	"time"

	"tradehub-backend/internal/domain"
)

// DebitParams describes an atomic balance decrement.
type DebitParams struct {
	AccountID      string
	Amount         int64
	IdempotencyKey string
	ReferenceID    string
	ReferenceType  string
	Description    string
}

// CreditParams describes an atomic balance increment.
type CreditParams struct {
	AccountID      string
	Amount         int64
	Kind           domain.TransactionKind
	IdempotencyKey string
	ReferenceID    string
	ReferenceType  string
	Description    string
}

// RefundParams describes a refund applied against an original usage debit.
type RefundParams struct {
	OriginalTransactionID string
	Amount                int64
	IdempotencyKey        string
	Description           string
}

// LedgerRepository owns the account balance row and the append-only
// transaction log. All balance mutations for one account are serialized
// through it; no other component writes these tables.
type LedgerRepository interface {
	CreateAccount(ctx context.Context, accountID string) error
	GetBalance(ctx context.Context, accountID string) (*domain.AccountBalance, error)

	// Debit atomically checks funds, decrements the balance, bumps total_used
	// and appends a completed transaction. A replayed idempotency key returns
	// the original transaction with replayed=true and no second application.
	Debit(ctx context.Context, p DebitParams) (*domain.CreditTransaction, bool, error)

	// Credit is the increment counterpart; the kind selects which accumulator
	// (total_purchased or total_refunded) moves with the balance.
	Credit(ctx context.Context, p CreditParams) (*domain.CreditTransaction, bool, error)

	// CreatePending appends a PENDING transaction with no balance change,
	// for multi-step purchase flows.
	CreatePending(ctx context.Context, p CreditParams) (*domain.CreditTransaction, error)
	// CompletePending transitions PENDING -> COMPLETED and applies the
	// balance change atomically.
	CompletePending(ctx context.Context, transactionID string) (*domain.CreditTransaction, error)
	// CancelPending transitions PENDING -> CANCELLED; no balance change.
	CancelPending(ctx context.Context, transactionID, reason string) (*domain.CreditTransaction, error)

	GetTransaction(ctx context.Context, transactionID string) (*domain.CreditTransaction, error)
	ListTransactions(ctx context.Context, accountID string, filter domain.TransactionFilter, page, pageSize int32) ([]domain.CreditTransaction, int32, error)

	// SumRefunds returns the total of completed refund transactions that
	// reference the given original transaction.
	SumRefunds(ctx context.Context, originalTransactionID string) (int64, error)
	// Refund credits a refund against the original debit. The original row is
	// locked and the running refund total re-checked inside the same
	// transaction, so concurrent refunds cannot overshoot the original
	// amount. A fully refunded original transitions COMPLETED -> REFUNDED.
	Refund(ctx context.Context, p RefundParams) (*domain.CreditTransaction, bool, error)

	CountUsageSince(ctx context.Context, accountID string, since time.Time) (int32, error)

	// ListAccountIDs pages through all ledger accounts, for audit jobs.
	ListAccountIDs(ctx context.Context, offset, limit int32) ([]string, error)
}

// TopupPolicyRepository owns the per-account auto-topup policy row, including
// the processing mutual-exclusion gate.
type TopupPolicyRepository interface {
	Upsert(ctx context.Context, policy *domain.AutoTopupPolicy) error
	Get(ctx context.Context, accountID string) (*domain.AutoTopupPolicy, error)
	SetEnabled(ctx context.Context, accountID string, enabled bool) error

	// AcquireProcessing flips processing false -> true for an active, enabled
	// policy in one statement. It returns false when the gate is already held
	// or the policy is ineligible.
	AcquireProcessing(ctx context.Context, accountID string, now time.Time) (bool, error)
	// MarkSuccess records a successful top-up: failure count to zero,
	// last_triggered_at set, gate released.
	MarkSuccess(ctx context.Context, accountID string, at time.Time) error
	// MarkFailure increments the failure count, suspends the policy at the
	// threshold, and releases the gate. It returns the updated failure count
	// and whether the policy is now suspended.
	MarkFailure(ctx context.Context, accountID string) (int32, bool, error)

	// ReapStale releases processing gates older than the cutoff, booking each
	// as a failure. Returns the affected account IDs.
	ReapStale(ctx context.Context, cutoff time.Time) ([]string, error)
}
