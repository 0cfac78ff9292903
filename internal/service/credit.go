package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tradehub-backend/internal/domain"
	"tradehub-backend/internal/logger"
	"tradehub-backend/internal/monitoring"
	"tradehub-backend/internal/pricing"
	"tradehub-backend/internal/repository"
)

// CreditEngineConfig carries the tunables of the transaction processor.
type CreditEngineConfig struct {
	RefundWindow             time.Duration
	LowBalanceThreshold      int64
	CriticalBalanceThreshold int64
	ConflictRetries          int
	BalanceCacheTTL          time.Duration
	TrialGrantCredits        int64
}

type creditService struct {
	ledger    repository.LedgerRepository
	topup     TopupService
	gateway   PaymentGateway
	limits    LimitPolicy
	catalog   *pricing.Catalog
	publisher NotificationPublisher
	cfg       CreditEngineConfig
	cache     *balanceCache
	now       func() time.Time
}

func NewCreditService(
	ledger repository.LedgerRepository,
	topup TopupService,
	gateway PaymentGateway,
	limitPolicy LimitPolicy,
	catalog *pricing.Catalog,
	publisher NotificationPublisher,
	cfg CreditEngineConfig,
) CreditService {
	if cfg.ConflictRetries <= 0 {
		cfg.ConflictRetries = 3
	}
	return &creditService{
		ledger:    ledger,
		topup:     topup,
		gateway:   gateway,
		limits:    limitPolicy,
		catalog:   catalog,
		publisher: publisher,
		cfg:       cfg,
		cache:     newBalanceCache(cfg.BalanceCacheTTL),
		now:       time.Now,
	}
}

func (s *creditService) CreateAccount(ctx context.Context, accountID string) error {
	if accountID == "" {
		return &domain.ValidationError{Field: "account_id", Reason: "must not be empty"}
	}
	if err := s.ledger.CreateAccount(ctx, accountID); err != nil {
		return err
	}
	if s.cfg.TrialGrantCredits > 0 {
		_, _, err := s.ledger.Credit(ctx, repository.CreditParams{
			AccountID:      accountID,
			Amount:         s.cfg.TrialGrantCredits,
			Kind:           domain.TransactionKindTrialGrant,
			IdempotencyKey: "trial:" + accountID,
			Description:    "Trial credit grant",
		})
		if err != nil {
			return fmt.Errorf("trial grant failed: %w", err)
		}
	}
	return nil
}

func (s *creditService) Debit(ctx context.Context, req DebitRequest) (*domain.TransactionResult, error) {
	cost, err := s.catalog.ResolveUsageCost(req.UsageType)
	if err != nil {
		return nil, err
	}
	if err := s.catalog.CheckExpectedCost(req.UsageType, req.ExpectedCost, cost); err != nil {
		return nil, err
	}
	if req.IdempotencyKey == "" {
		return nil, &domain.ValidationError{Field: "idempotency_key", Reason: "must not be empty"}
	}

	// Limits are checked before the ledger is touched so rejected requests
	// never reach the balance row.
	if err := s.limits.Allow(ctx, req.AccountID, req.Role); err != nil {
		var limitErr *domain.LimitExceededError
		if errors.As(err, &limitErr) {
			monitoring.LimitRejections.WithLabelValues(string(limitErr.Kind)).Inc()
		}
		return nil, err
	}

	var entry *domain.CreditTransaction
	var replayed bool
	err = s.withConflictRetry(ctx, req.AccountID, func() error {
		var derr error
		entry, replayed, derr = s.ledger.Debit(ctx, repository.DebitParams{
			AccountID:      req.AccountID,
			Amount:         cost,
			IdempotencyKey: req.IdempotencyKey,
			ReferenceID:    req.ReferenceID,
			ReferenceType:  req.ReferenceType,
			Description:    fmt.Sprintf("Usage: %s", req.UsageType),
		})
		return derr
	})
	if err != nil {
		var insufficient *domain.InsufficientBalanceError
		if errors.As(err, &insufficient) {
			monitoring.InsufficientBalanceRejections.Inc()
		}
		return nil, err
	}
	s.cache.invalidate(req.AccountID)

	result := &domain.TransactionResult{
		TransactionID: entry.ID,
		NewBalance:    entry.BalanceAfter,
		Replayed:      replayed,
	}
	if replayed {
		// The original application already ran its side effects.
		return result, nil
	}

	monitoring.TransactionsCompleted.WithLabelValues(string(domain.TransactionKindUsage)).Inc()
	s.publishDebitEvents(ctx, entry, cost)

	// The trigger reads the just-committed balance; the debit itself is
	// already durable at this point.
	s.topup.EvaluateAfterDebit(ctx, req.AccountID, entry.BalanceAfter)

	return result, nil
}

func (s *creditService) Credit(ctx context.Context, req CreditRequest) (*domain.TransactionResult, error) {
	if req.Amount <= 0 {
		return nil, &domain.ValidationError{Field: "amount", Reason: "must be a positive integer"}
	}
	if req.IdempotencyKey == "" {
		return nil, &domain.ValidationError{Field: "idempotency_key", Reason: "must not be empty"}
	}

	var entry *domain.CreditTransaction
	var replayed bool
	err := s.withConflictRetry(ctx, req.AccountID, func() error {
		var cerr error
		entry, replayed, cerr = s.ledger.Credit(ctx, repository.CreditParams{
			AccountID:      req.AccountID,
			Amount:         req.Amount,
			Kind:           req.Kind,
			IdempotencyKey: req.IdempotencyKey,
			ReferenceID:    req.ReferenceID,
			ReferenceType:  req.ReferenceType,
			Description:    req.Description,
		})
		return cerr
	})
	if err != nil {
		return nil, err
	}
	s.cache.invalidate(req.AccountID)
	if !replayed {
		monitoring.TransactionsCompleted.WithLabelValues(string(req.Kind)).Inc()
	}
	return &domain.TransactionResult{TransactionID: entry.ID, NewBalance: entry.BalanceAfter, Replayed: replayed}, nil
}

func (s *creditService) GetBalance(ctx context.Context, accountID string) (*domain.BalanceSnapshot, error) {
	if snap, ok := s.cache.get(accountID); ok {
		return snap, nil
	}

	b, err := s.ledger.GetBalance(ctx, accountID)
	if err != nil {
		return nil, err
	}
	snap := &domain.BalanceSnapshot{
		AccountID:      b.AccountID,
		CurrentBalance: b.CurrentBalance,
		TotalPurchased: b.TotalPurchased,
		TotalUsed:      b.TotalUsed,
		TotalRefunded:  b.TotalRefunded,
		LastPurchaseAt: b.LastPurchaseAt,
		LastUsageAt:    b.LastUsageAt,
		AsOf:           s.now().UTC(),
	}

	policy, err := s.topup.GetPolicy(ctx, accountID)
	if err == nil {
		snap.AutoTopup = policy.StatusView()
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	s.cache.put(accountID, snap)
	return snap, nil
}

func (s *creditService) GetHistory(ctx context.Context, accountID string, filter domain.TransactionFilter, page, pageSize int32) ([]domain.CreditTransaction, int32, error) {
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return s.ledger.ListTransactions(ctx, accountID, filter, page, pageSize)
}

// Cancel voids a transaction that has not committed a balance change yet.
func (s *creditService) Cancel(ctx context.Context, accountID, transactionID, reason string) (*domain.CreditTransaction, error) {
	current, err := s.ledger.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if current.AccountID != accountID {
		return nil, &domain.NotFoundError{Entity: "transaction", ID: transactionID}
	}
	entry, err := s.ledger.CancelPending(ctx, transactionID, reason)
	if err != nil {
		return nil, err
	}
	logger.Info("Transaction cancelled", "transaction_id", transactionID, "reason", reason)
	return entry, nil
}

// Refund reverses all or part of a completed usage debit by appending a new
// refund-kind credit linked to the original. History is never edited.
func (s *creditService) Refund(ctx context.Context, accountID, transactionID string, amount int64, reason string) (*domain.TransactionResult, error) {
	if amount <= 0 {
		return nil, &domain.ValidationError{Field: "amount", Reason: "refund amount must be positive"}
	}

	original, err := s.ledger.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if original.AccountID != accountID {
		return nil, &domain.NotFoundError{Entity: "transaction", ID: transactionID}
	}
	if original.Kind != domain.TransactionKindUsage {
		return nil, &domain.ValidationError{Field: "transaction_id", Reason: "only usage debits are refundable"}
	}
	if original.Status != domain.TransactionStatusCompleted {
		return nil, &domain.InvalidStateTransitionError{
			TransactionID: transactionID,
			From:          original.Status,
			To:            domain.TransactionStatusRefunded,
		}
	}
	if s.now().Sub(original.CreatedOn) > s.cfg.RefundWindow {
		return nil, &domain.ValidationError{Field: "transaction_id", Reason: "refund window has elapsed"}
	}

	// Fast path only. The authoritative bound check runs inside the
	// repository transaction with the original row locked.
	priorRefunds, err := s.ledger.SumRefunds(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	remaining := original.Amount - priorRefunds
	if amount > remaining {
		return nil, &domain.ValidationError{
			Field:  "amount",
			Reason: fmt.Sprintf("refund of %d exceeds remaining refundable %d", amount, remaining),
		}
	}

	var entry *domain.CreditTransaction
	var replayed bool
	err = s.withConflictRetry(ctx, original.AccountID, func() error {
		var cerr error
		entry, replayed, cerr = s.ledger.Refund(ctx, repository.RefundParams{
			OriginalTransactionID: transactionID,
			Amount:                amount,
			IdempotencyKey:        uuid.NewString(),
			Description:           reason,
		})
		return cerr
	})
	if err != nil {
		return nil, err
	}
	s.cache.invalidate(original.AccountID)
	if !replayed {
		monitoring.TransactionsCompleted.WithLabelValues(string(domain.TransactionKindRefund)).Inc()
	}

	return &domain.TransactionResult{TransactionID: entry.ID, NewBalance: entry.BalanceAfter}, nil
}

// Purchase charges the gateway synchronously and credits the bundle.
func (s *creditService) Purchase(ctx context.Context, accountID string, pkgType pricing.PackageType, idempotencyKey string) (*domain.TransactionResult, error) {
	pkg, err := s.catalog.ResolvePackage(pkgType)
	if err != nil {
		return nil, err
	}
	if idempotencyKey == "" {
		return nil, &domain.ValidationError{Field: "idempotency_key", Reason: "must not be empty"}
	}

	charge, err := s.gateway.Charge(ctx, accountID, pkg, idempotencyKey)
	if err != nil {
		return nil, err
	}

	return s.Credit(ctx, CreditRequest{
		AccountID:      accountID,
		Amount:         pkg.Credits,
		Kind:           domain.TransactionKindPurchase,
		ReferenceID:    charge.ExternalReference,
		ReferenceType:  "charge",
		IdempotencyKey: idempotencyKey,
		Description:    fmt.Sprintf("Purchase: %s package", pkgType),
	})
}

func (s *creditService) InitiatePurchase(ctx context.Context, accountID string, pkgType pricing.PackageType, idempotencyKey string) (*domain.CreditTransaction, error) {
	pkg, err := s.catalog.ResolvePackage(pkgType)
	if err != nil {
		return nil, err
	}
	if idempotencyKey == "" {
		return nil, &domain.ValidationError{Field: "idempotency_key", Reason: "must not be empty"}
	}
	return s.ledger.CreatePending(ctx, repository.CreditParams{
		AccountID:      accountID,
		Amount:         pkg.Credits,
		Kind:           domain.TransactionKindPurchase,
		ReferenceType:  "package",
		ReferenceID:    string(pkgType),
		IdempotencyKey: idempotencyKey,
		Description:    fmt.Sprintf("Purchase: %s package", pkgType),
	})
}

func (s *creditService) CompletePurchase(ctx context.Context, transactionID string, success bool, reason string) (*domain.TransactionResult, error) {
	if !success {
		entry, err := s.ledger.CancelPending(ctx, transactionID, reason)
		if err != nil {
			return nil, err
		}
		return &domain.TransactionResult{TransactionID: entry.ID, NewBalance: entry.BalanceAfter}, nil
	}

	var entry *domain.CreditTransaction
	err := s.withConflictRetry(ctx, transactionID, func() error {
		var cerr error
		entry, cerr = s.ledger.CompletePending(ctx, transactionID)
		return cerr
	})
	if err != nil {
		return nil, err
	}
	s.cache.invalidate(entry.AccountID)
	monitoring.TransactionsCompleted.WithLabelValues(string(entry.Kind)).Inc()
	return &domain.TransactionResult{TransactionID: entry.ID, NewBalance: entry.BalanceAfter}, nil
}

// publishDebitEvents emits the completion event plus low/critical threshold
// crossings. Crossing detection compares the balance before and after the
// debit so an alert fires once per crossing, not on every read below the line.
func (s *creditService) publishDebitEvents(ctx context.Context, entry *domain.CreditTransaction, amount int64) {
	if s.publisher == nil {
		return
	}
	now := s.now().UTC()
	prev := entry.BalanceAfter + amount

	s.publisher.Publish(ctx, domain.Event{
		Type:          domain.EventTransactionCompleted,
		AccountID:     entry.AccountID,
		TransactionID: entry.ID,
		Kind:          entry.Kind,
		Amount:        amount,
		Balance:       entry.BalanceAfter,
		OccurredAt:    now,
	})

	if crossed(prev, entry.BalanceAfter, s.cfg.CriticalBalanceThreshold) {
		s.publisher.Publish(ctx, domain.Event{
			Type:       domain.EventCriticalBalance,
			AccountID:  entry.AccountID,
			Balance:    entry.BalanceAfter,
			OccurredAt: now,
		})
	} else if crossed(prev, entry.BalanceAfter, s.cfg.LowBalanceThreshold) {
		s.publisher.Publish(ctx, domain.Event{
			Type:       domain.EventLowBalance,
			AccountID:  entry.AccountID,
			Balance:    entry.BalanceAfter,
			OccurredAt: now,
		})
	}
}

func crossed(prev, next, threshold int64) bool {
	return threshold > 0 && prev > threshold && next <= threshold
}

// withConflictRetry retries serialization conflicts a small bounded number of
// times with backoff before surfacing ConcurrencyConflict.
func (s *creditService) withConflictRetry(ctx context.Context, accountID string, fn func() error) error {
	var conflict *domain.ConcurrencyConflictError
	for attempt := 0; attempt < s.cfg.ConflictRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !errors.As(err, &conflict) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(10*(attempt+1)) * time.Millisecond):
		}
	}
	return &domain.ConcurrencyConflictError{AccountID: accountID, Attempts: s.cfg.ConflictRetries}
}
