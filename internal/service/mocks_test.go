package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"tradehub-backend/internal/domain"
	"tradehub-backend/internal/pricing"
	"tradehub-backend/internal/repository"
)

// MockLedgerRepo
type MockLedgerRepo struct {
	mock.Mock
}

func (m *MockLedgerRepo) CreateAccount(ctx context.Context, accountID string) error {
	args := m.Called(ctx, accountID)
	return args.Error(0)
}
func (m *MockLedgerRepo) GetBalance(ctx context.Context, accountID string) (*domain.AccountBalance, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AccountBalance), args.Error(1)
}
func (m *MockLedgerRepo) Debit(ctx context.Context, p repository.DebitParams) (*domain.CreditTransaction, bool, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*domain.CreditTransaction), args.Bool(1), args.Error(2)
}
func (m *MockLedgerRepo) Credit(ctx context.Context, p repository.CreditParams) (*domain.CreditTransaction, bool, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*domain.CreditTransaction), args.Bool(1), args.Error(2)
}
func (m *MockLedgerRepo) CreatePending(ctx context.Context, p repository.CreditParams) (*domain.CreditTransaction, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CreditTransaction), args.Error(1)
}
func (m *MockLedgerRepo) CompletePending(ctx context.Context, transactionID string) (*domain.CreditTransaction, error) {
	args := m.Called(ctx, transactionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CreditTransaction), args.Error(1)
}
func (m *MockLedgerRepo) CancelPending(ctx context.Context, transactionID, reason string) (*domain.CreditTransaction, error) {
	args := m.Called(ctx, transactionID, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CreditTransaction), args.Error(1)
}
func (m *MockLedgerRepo) GetTransaction(ctx context.Context, transactionID string) (*domain.CreditTransaction, error) {
	args := m.Called(ctx, transactionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CreditTransaction), args.Error(1)
}
func (m *MockLedgerRepo) ListTransactions(ctx context.Context, accountID string, filter domain.TransactionFilter, page, pageSize int32) ([]domain.CreditTransaction, int32, error) {
	args := m.Called(ctx, accountID, filter, page, pageSize)
	return args.Get(0).([]domain.CreditTransaction), args.Get(1).(int32), args.Error(2)
}
func (m *MockLedgerRepo) SumRefunds(ctx context.Context, originalTransactionID string) (int64, error) {
	args := m.Called(ctx, originalTransactionID)
	return args.Get(0).(int64), args.Error(1)
}
func (m *MockLedgerRepo) Refund(ctx context.Context, p repository.RefundParams) (*domain.CreditTransaction, bool, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*domain.CreditTransaction), args.Bool(1), args.Error(2)
}
func (m *MockLedgerRepo) CountUsageSince(ctx context.Context, accountID string, since time.Time) (int32, error) {
	args := m.Called(ctx, accountID, since)
	return args.Get(0).(int32), args.Error(1)
}
func (m *MockLedgerRepo) ListAccountIDs(ctx context.Context, offset, limit int32) ([]string, error) {
	args := m.Called(ctx, offset, limit)
	return args.Get(0).([]string), args.Error(1)
}

// MockTopupPolicyRepo
type MockTopupPolicyRepo struct {
	mock.Mock
}

func (m *MockTopupPolicyRepo) Upsert(ctx context.Context, policy *domain.AutoTopupPolicy) error {
	args := m.Called(ctx, policy)
	return args.Error(0)
}
func (m *MockTopupPolicyRepo) Get(ctx context.Context, accountID string) (*domain.AutoTopupPolicy, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AutoTopupPolicy), args.Error(1)
}
func (m *MockTopupPolicyRepo) SetEnabled(ctx context.Context, accountID string, enabled bool) error {
	args := m.Called(ctx, accountID, enabled)
	return args.Error(0)
}
func (m *MockTopupPolicyRepo) AcquireProcessing(ctx context.Context, accountID string, now time.Time) (bool, error) {
	args := m.Called(ctx, accountID, now)
	return args.Bool(0), args.Error(1)
}
func (m *MockTopupPolicyRepo) MarkSuccess(ctx context.Context, accountID string, at time.Time) error {
	args := m.Called(ctx, accountID, at)
	return args.Error(0)
}
func (m *MockTopupPolicyRepo) MarkFailure(ctx context.Context, accountID string) (int32, bool, error) {
	args := m.Called(ctx, accountID)
	return args.Get(0).(int32), args.Bool(1), args.Error(2)
}
func (m *MockTopupPolicyRepo) ReapStale(ctx context.Context, cutoff time.Time) ([]string, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).([]string), args.Error(1)
}

// MockGateway
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Charge(ctx context.Context, accountID string, pkg pricing.Package, idempotencyKey string) (*ChargeResult, error) {
	args := m.Called(ctx, accountID, pkg, idempotencyKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ChargeResult), args.Error(1)
}

// MockTopupService
type MockTopupService struct {
	mock.Mock
}

func (m *MockTopupService) Configure(ctx context.Context, accountID string, triggerBalance, topupAmount int64, pkg pricing.PackageType) error {
	args := m.Called(ctx, accountID, triggerBalance, topupAmount, pkg)
	return args.Error(0)
}
func (m *MockTopupService) Enable(ctx context.Context, accountID string) error {
	args := m.Called(ctx, accountID)
	return args.Error(0)
}
func (m *MockTopupService) Disable(ctx context.Context, accountID string) error {
	args := m.Called(ctx, accountID)
	return args.Error(0)
}
func (m *MockTopupService) GetPolicy(ctx context.Context, accountID string) (*domain.AutoTopupPolicy, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AutoTopupPolicy), args.Error(1)
}
func (m *MockTopupService) EvaluateAfterDebit(ctx context.Context, accountID string, newBalance int64) {
	m.Called(ctx, accountID, newBalance)
}

// allowAllLimits passes every request through.
type allowAllLimits struct{}

func (allowAllLimits) Allow(ctx context.Context, accountID, role string) error { return nil }

// denyLimits rejects every request with the configured error.
type denyLimits struct{ err error }

func (d denyLimits) Allow(ctx context.Context, accountID, role string) error { return d.err }

// recordingPublisher captures published events for assertions.
type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, event domain.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) byType(t domain.EventType) []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.Event
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// fakeLedger is an in-memory LedgerRepository with real mutual exclusion, used
// to exercise concurrent debit behavior without a database.
type fakeLedger struct {
	mu       sync.Mutex
	balances map[string]*domain.AccountBalance
	txs      []*domain.CreditTransaction
	byKey    map[string]*domain.CreditTransaction
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		balances: make(map[string]*domain.AccountBalance),
		byKey:    make(map[string]*domain.CreditTransaction),
	}
}

func (f *fakeLedger) CreateAccount(ctx context.Context, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.balances[accountID]; !ok {
		f.balances[accountID] = &domain.AccountBalance{AccountID: accountID, CreatedOn: time.Now(), UpdatedOn: time.Now()}
	}
	return nil
}

func (f *fakeLedger) GetBalance(ctx context.Context, accountID string) (*domain.AccountBalance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.balances[accountID]
	if !ok {
		return nil, &domain.NotFoundError{Entity: "account", ID: accountID}
	}
	cp := *b
	return &cp, nil
}

func (f *fakeLedger) Debit(ctx context.Context, p repository.DebitParams) (*domain.CreditTransaction, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.byKey[p.IdempotencyKey]; ok {
		return existing, true, nil
	}
	b, ok := f.balances[p.AccountID]
	if !ok {
		return nil, false, &domain.NotFoundError{Entity: "account", ID: p.AccountID}
	}
	if p.Amount > b.CurrentBalance {
		return nil, false, &domain.InsufficientBalanceError{Requested: p.Amount, Available: b.CurrentBalance}
	}
	b.CurrentBalance -= p.Amount
	b.TotalUsed += p.Amount
	b.Version++
	entry := &domain.CreditTransaction{
		ID:             uuid.NewString(),
		AccountID:      p.AccountID,
		Kind:           domain.TransactionKindUsage,
		Amount:         p.Amount,
		Status:         domain.TransactionStatusCompleted,
		BalanceAfter:   b.CurrentBalance,
		ReferenceID:    p.ReferenceID,
		ReferenceType:  p.ReferenceType,
		IdempotencyKey: p.IdempotencyKey,
		Description:    p.Description,
		CreatedOn:      time.Now(),
	}
	f.txs = append(f.txs, entry)
	f.byKey[p.IdempotencyKey] = entry
	return entry, false, nil
}

func (f *fakeLedger) Credit(ctx context.Context, p repository.CreditParams) (*domain.CreditTransaction, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.byKey[p.IdempotencyKey]; ok {
		return existing, true, nil
	}
	b, ok := f.balances[p.AccountID]
	if !ok {
		return nil, false, &domain.NotFoundError{Entity: "account", ID: p.AccountID}
	}
	b.CurrentBalance += p.Amount
	if p.Kind == domain.TransactionKindRefund {
		b.TotalRefunded += p.Amount
	} else {
		b.TotalPurchased += p.Amount
	}
	b.Version++
	entry := &domain.CreditTransaction{
		ID:             uuid.NewString(),
		AccountID:      p.AccountID,
		Kind:           p.Kind,
		Amount:         p.Amount,
		Status:         domain.TransactionStatusCompleted,
		BalanceAfter:   b.CurrentBalance,
		ReferenceID:    p.ReferenceID,
		ReferenceType:  p.ReferenceType,
		IdempotencyKey: p.IdempotencyKey,
		Description:    p.Description,
		CreatedOn:      time.Now(),
	}
	f.txs = append(f.txs, entry)
	f.byKey[p.IdempotencyKey] = entry
	return entry, false, nil
}

func (f *fakeLedger) CreatePending(ctx context.Context, p repository.CreditParams) (*domain.CreditTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.byKey[p.IdempotencyKey]; ok {
		return existing, nil
	}
	entry := &domain.CreditTransaction{
		ID:             uuid.NewString(),
		AccountID:      p.AccountID,
		Kind:           p.Kind,
		Amount:         p.Amount,
		Status:         domain.TransactionStatusPending,
		ReferenceID:    p.ReferenceID,
		ReferenceType:  p.ReferenceType,
		IdempotencyKey: p.IdempotencyKey,
		Description:    p.Description,
		CreatedOn:      time.Now(),
	}
	f.txs = append(f.txs, entry)
	f.byKey[p.IdempotencyKey] = entry
	return entry, nil
}

func (f *fakeLedger) CompletePending(ctx context.Context, transactionID string) (*domain.CreditTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry := f.findLocked(transactionID)
	if entry == nil {
		return nil, &domain.NotFoundError{Entity: "transaction", ID: transactionID}
	}
	if entry.Status != domain.TransactionStatusPending {
		return nil, &domain.InvalidStateTransitionError{TransactionID: transactionID, From: entry.Status, To: domain.TransactionStatusCompleted}
	}
	b := f.balances[entry.AccountID]
	b.CurrentBalance += entry.Amount
	b.TotalPurchased += entry.Amount
	b.Version++
	now := time.Now()
	entry.Status = domain.TransactionStatusCompleted
	entry.BalanceAfter = b.CurrentBalance
	entry.CompletedOn = &now
	return entry, nil
}

func (f *fakeLedger) CancelPending(ctx context.Context, transactionID, reason string) (*domain.CreditTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry := f.findLocked(transactionID)
	if entry == nil {
		return nil, &domain.NotFoundError{Entity: "transaction", ID: transactionID}
	}
	if entry.Status != domain.TransactionStatusPending {
		return nil, &domain.InvalidStateTransitionError{TransactionID: transactionID, From: entry.Status, To: domain.TransactionStatusCancelled}
	}
	entry.Status = domain.TransactionStatusCancelled
	entry.ReasonCode = reason
	return entry, nil
}

func (f *fakeLedger) GetTransaction(ctx context.Context, transactionID string) (*domain.CreditTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry := f.findLocked(transactionID)
	if entry == nil {
		return nil, &domain.NotFoundError{Entity: "transaction", ID: transactionID}
	}
	cp := *entry
	return &cp, nil
}

func (f *fakeLedger) ListTransactions(ctx context.Context, accountID string, filter domain.TransactionFilter, page, pageSize int32) ([]domain.CreditTransaction, int32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.CreditTransaction
	for i := len(f.txs) - 1; i >= 0; i-- {
		t := f.txs[i]
		if t.AccountID != accountID {
			continue
		}
		if filter.Kind != "" && t.Kind != filter.Kind {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		out = append(out, *t)
	}
	return out, int32(len(out)), nil
}

func (f *fakeLedger) SumRefunds(ctx context.Context, originalTransactionID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total int64
	for _, t := range f.txs {
		if t.Kind == domain.TransactionKindRefund && t.ReferenceID == originalTransactionID && t.Status == domain.TransactionStatusCompleted {
			total += t.Amount
		}
	}
	return total, nil
}

func (f *fakeLedger) Refund(ctx context.Context, p repository.RefundParams) (*domain.CreditTransaction, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.byKey[p.IdempotencyKey]; ok {
		return existing, true, nil
	}
	original := f.findLocked(p.OriginalTransactionID)
	if original == nil {
		return nil, false, &domain.NotFoundError{Entity: "transaction", ID: p.OriginalTransactionID}
	}
	if original.Kind != domain.TransactionKindUsage {
		return nil, false, &domain.ValidationError{Field: "transaction_id", Reason: "only usage debits are refundable"}
	}
	if original.Status != domain.TransactionStatusCompleted {
		return nil, false, &domain.InvalidStateTransitionError{
			TransactionID: p.OriginalTransactionID,
			From:          original.Status,
			To:            domain.TransactionStatusRefunded,
		}
	}
	var prior int64
	for _, t := range f.txs {
		if t.Kind == domain.TransactionKindRefund && t.ReferenceID == p.OriginalTransactionID && t.Status == domain.TransactionStatusCompleted {
			prior += t.Amount
		}
	}
	remaining := original.Amount - prior
	if p.Amount > remaining {
		return nil, false, &domain.ValidationError{
			Field:  "amount",
			Reason: fmt.Sprintf("refund of %d exceeds remaining refundable %d", p.Amount, remaining),
		}
	}
	b := f.balances[original.AccountID]
	b.CurrentBalance += p.Amount
	b.TotalRefunded += p.Amount
	b.Version++
	entry := &domain.CreditTransaction{
		ID:             uuid.NewString(),
		AccountID:      original.AccountID,
		Kind:           domain.TransactionKindRefund,
		Amount:         p.Amount,
		Status:         domain.TransactionStatusCompleted,
		BalanceAfter:   b.CurrentBalance,
		ReferenceID:    p.OriginalTransactionID,
		ReferenceType:  "transaction",
		IdempotencyKey: p.IdempotencyKey,
		Description:    p.Description,
		CreatedOn:      time.Now(),
	}
	f.txs = append(f.txs, entry)
	f.byKey[p.IdempotencyKey] = entry
	if prior+p.Amount == original.Amount {
		original.Status = domain.TransactionStatusRefunded
	}
	return entry, false, nil
}

func (f *fakeLedger) CountUsageSince(ctx context.Context, accountID string, since time.Time) (int32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int32
	for _, t := range f.txs {
		if t.AccountID == accountID && t.Kind == domain.TransactionKindUsage && !t.CreatedOn.Before(since) {
			n++
		}
	}
	return n, nil
}

func (f *fakeLedger) ListAccountIDs(ctx context.Context, offset, limit int32) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id := range f.balances {
		ids = append(ids, id)
	}
	if int(offset) >= len(ids) {
		return nil, nil
	}
	end := int(offset + limit)
	if end > len(ids) {
		end = len(ids)
	}
	return ids[offset:end], nil
}

func (f *fakeLedger) findLocked(transactionID string) *domain.CreditTransaction {
	for _, t := range f.txs {
		if t.ID == transactionID {
			return t
		}
	}
	return nil
}

// noopTopup satisfies TopupService where the trigger is irrelevant to the test.
type noopTopup struct{}

func (noopTopup) Configure(ctx context.Context, accountID string, triggerBalance, topupAmount int64, pkg pricing.PackageType) error {
	return nil
}
func (noopTopup) Enable(ctx context.Context, accountID string) error  { return nil }
func (noopTopup) Disable(ctx context.Context, accountID string) error { return nil }
func (noopTopup) GetPolicy(ctx context.Context, accountID string) (*domain.AutoTopupPolicy, error) {
	return nil, &domain.NotFoundError{Entity: "auto-topup policy", ID: accountID}
}
func (noopTopup) EvaluateAfterDebit(ctx context.Context, accountID string, newBalance int64) {}
