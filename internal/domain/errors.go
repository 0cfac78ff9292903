package domain

import (
	"errors"
	"fmt"
)

// LimitKind identifies which transaction cap was hit.
type LimitKind string

const (
	LimitKindDaily   LimitKind = "DAILY"
	LimitKindMonthly LimitKind = "MONTHLY"
)

// ErrNotFound marks unknown accounts, transactions, and policies. Wrap it with
// context via NotFoundError so callers can still match with errors.Is.
var ErrNotFound = errors.New("not found")

// NotFoundError reports an unknown entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ValidationError reports a malformed request rejected before the ledger is
// touched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InsufficientBalanceError is an expected, user-actionable outcome. Shortfall
// is the extra credit needed for the debit to succeed, so the caller can offer
// a purchase of exactly that size.
type InsufficientBalanceError struct {
	Requested int64
	Available int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: requested %d, available %d (shortfall %d)",
		e.Requested, e.Available, e.Shortfall())
}

func (e *InsufficientBalanceError) Shortfall() int64 { return e.Requested - e.Available }

// LimitExceededError reports a daily or monthly transaction cap violation.
type LimitExceededError struct {
	Kind  LimitKind
	Limit int32
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("%s transaction limit of %d exceeded", e.Kind, e.Limit)
}

// InvalidStateTransitionError reports an illegal transaction status change,
// e.g. refunding a pending transaction or cancelling a completed one.
type InvalidStateTransitionError struct {
	TransactionID string
	From          TransactionStatus
	To            TransactionStatus
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("transaction %s: illegal transition %s -> %s", e.TransactionID, e.From, e.To)
}

// ConcurrencyConflictError reports optimistic/serialization retry exhaustion.
// It indicates contention, not corruption.
type ConcurrencyConflictError struct {
	AccountID string
	Attempts  int
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("account %s: concurrent update conflict after %d attempts", e.AccountID, e.Attempts)
}

// ExternalChargeError reports a failed payment-gateway charge. During
// auto-topup it is recorded against the policy and never surfaced to the
// debit caller.
type ExternalChargeError struct {
	ReasonCode string
	Err        error
}

func (e *ExternalChargeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("charge failed (%s): %v", e.ReasonCode, e.Err)
	}
	return fmt.Sprintf("charge failed (%s)", e.ReasonCode)
}

func (e *ExternalChargeError) Unwrap() error { return e.Err }
