package service

import (
	"context"

	"tradehub-backend/internal/domain"
	"tradehub-backend/internal/pricing"
)

// DebitRequest is a credit-consuming operation against an account.
type DebitRequest struct {
	AccountID      string
	Role           string
	UsageType      pricing.UsageType
	ReferenceID    string
	ReferenceType  string
	IdempotencyKey string
	// ExpectedCost, when non-zero, is the cost the caller believes it will be
	// charged; a disagreement beyond the catalog tolerance is rejected.
	ExpectedCost int64
}

// CreditRequest is a balance-increasing operation against an account.
type CreditRequest struct {
	AccountID      string
	Amount         int64
	Kind           domain.TransactionKind
	ReferenceID    string
	ReferenceType  string
	IdempotencyKey string
	Description    string
}

type CreditService interface {
	CreateAccount(ctx context.Context, accountID string) error
	Debit(ctx context.Context, req DebitRequest) (*domain.TransactionResult, error)
	Credit(ctx context.Context, req CreditRequest) (*domain.TransactionResult, error)
	GetBalance(ctx context.Context, accountID string) (*domain.BalanceSnapshot, error)
	GetHistory(ctx context.Context, accountID string, filter domain.TransactionFilter, page, pageSize int32) ([]domain.CreditTransaction, int32, error)
	// Cancel and Refund act only on transactions owned by accountID; a
	// transaction belonging to another account reads as not found.
	Cancel(ctx context.Context, accountID, transactionID, reason string) (*domain.CreditTransaction, error)
	Refund(ctx context.Context, accountID, transactionID string, amount int64, reason string) (*domain.TransactionResult, error)

	// Purchase charges the payment gateway synchronously and credits the
	// package's bundle on success.
	Purchase(ctx context.Context, accountID string, pkg pricing.PackageType, idempotencyKey string) (*domain.TransactionResult, error)
	// InitiatePurchase opens a PENDING purchase for gateways that confirm
	// asynchronously; CompletePurchase settles it.
	InitiatePurchase(ctx context.Context, accountID string, pkg pricing.PackageType, idempotencyKey string) (*domain.CreditTransaction, error)
	CompletePurchase(ctx context.Context, transactionID string, success bool, reason string) (*domain.TransactionResult, error)
}

type TopupService interface {
	Configure(ctx context.Context, accountID string, triggerBalance, topupAmount int64, pkg pricing.PackageType) error
	Enable(ctx context.Context, accountID string) error
	Disable(ctx context.Context, accountID string) error
	GetPolicy(ctx context.Context, accountID string) (*domain.AutoTopupPolicy, error)

	// EvaluateAfterDebit runs the trigger against a just-committed balance.
	// It never returns an error to the debit path; charge failures are
	// recorded against the policy only.
	EvaluateAfterDebit(ctx context.Context, accountID string, newBalance int64)
}

// LimitPolicy is the external limits collaborator, checked before any ledger
// mutation.
type LimitPolicy interface {
	Allow(ctx context.Context, accountID, role string) error
}

// ChargeResult is a successful payment-gateway charge.
type ChargeResult struct {
	ExternalReference string
	AmountCents       int64
}

// PaymentGateway executes card charges for purchases and auto-topups. A
// failure is reported as *domain.ExternalChargeError.
type PaymentGateway interface {
	Charge(ctx context.Context, accountID string, pkg pricing.Package, idempotencyKey string) (*ChargeResult, error)
}

// NotificationPublisher receives fire-and-forget ledger events. Delivery is
// best effort; implementations must not block the transaction path.
type NotificationPublisher interface {
	Publish(ctx context.Context, event domain.Event)
}
