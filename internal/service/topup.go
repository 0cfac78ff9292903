package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"tradehub-backend/internal/domain"
	"tradehub-backend/internal/logger"
	"tradehub-backend/internal/monitoring"
	"tradehub-backend/internal/pricing"
	"tradehub-backend/internal/repository"
)

// TopupConfig carries the auto-topup tunables.
type TopupConfig struct {
	ChargeTimeout time.Duration
}

type topupService struct {
	policies  repository.TopupPolicyRepository
	ledger    repository.LedgerRepository
	gateway   PaymentGateway
	catalog   *pricing.Catalog
	publisher NotificationPublisher
	cfg       TopupConfig
	now       func() time.Time
}

func NewTopupService(
	policies repository.TopupPolicyRepository,
	ledger repository.LedgerRepository,
	gateway PaymentGateway,
	catalog *pricing.Catalog,
	publisher NotificationPublisher,
	cfg TopupConfig,
) TopupService {
	if cfg.ChargeTimeout <= 0 {
		cfg.ChargeTimeout = 30 * time.Second
	}
	return &topupService{
		policies:  policies,
		ledger:    ledger,
		gateway:   gateway,
		catalog:   catalog,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
	}
}

func (s *topupService) Configure(ctx context.Context, accountID string, triggerBalance, topupAmount int64, pkgType pricing.PackageType) error {
	if triggerBalance < 0 {
		return &domain.ValidationError{Field: "trigger_balance", Reason: "must not be negative"}
	}
	if topupAmount <= 0 {
		return &domain.ValidationError{Field: "topup_amount", Reason: "must be a positive integer"}
	}
	pkg, err := s.catalog.ResolvePackage(pkgType)
	if err != nil {
		return err
	}
	if pkg.Credits != topupAmount {
		return &domain.ValidationError{Field: "topup_amount", Reason: "must match the selected package's credits"}
	}
	return s.policies.Upsert(ctx, &domain.AutoTopupPolicy{
		AccountID:      accountID,
		Enabled:        true,
		Status:         domain.TopupPolicyStatusActive,
		TriggerBalance: triggerBalance,
		TopupAmount:    topupAmount,
		PackageType:    string(pkgType),
	})
}

func (s *topupService) Enable(ctx context.Context, accountID string) error {
	return s.policies.SetEnabled(ctx, accountID, true)
}

func (s *topupService) Disable(ctx context.Context, accountID string) error {
	return s.policies.SetEnabled(ctx, accountID, false)
}

func (s *topupService) GetPolicy(ctx context.Context, accountID string) (*domain.AutoTopupPolicy, error) {
	return s.policies.Get(ctx, accountID)
}

// EvaluateAfterDebit is the trigger. The processing gate is acquired in a
// single conditional update, the gateway charge runs outside any account
// lock with a timeout, and only the final credit re-enters the ledger. A
// charge failure never affects the debit that caused the trigger.
func (s *topupService) EvaluateAfterDebit(ctx context.Context, accountID string, newBalance int64) {
	policy, err := s.policies.Get(ctx, accountID)
	if err != nil {
		// No policy configured is the common case, not a problem.
		return
	}
	if !policy.Eligible(newBalance) || policy.Processing {
		return
	}

	acquired, err := s.policies.AcquireProcessing(ctx, accountID, s.now().UTC())
	if err != nil {
		logger.Error("Failed to acquire topup processing gate", "account_id", accountID, "error", err)
		return
	}
	if !acquired {
		// Another debit got here first; its top-up covers this one too.
		return
	}

	s.runTopup(ctx, accountID, policy)
}

func (s *topupService) runTopup(ctx context.Context, accountID string, policy *domain.AutoTopupPolicy) {
	pkg, err := s.catalog.ResolvePackage(pricing.PackageType(policy.PackageType))
	if err != nil {
		logger.Error("Topup policy references unknown package", "account_id", accountID, "package_type", policy.PackageType)
		s.recordFailure(ctx, accountID)
		return
	}

	// The key is fixed before the charge so a late duplicate success response
	// cannot credit twice: the eventual Credit call replays idempotently.
	chargeKey := "topup:" + accountID + ":" + uuid.NewString()

	chargeCtx, cancel := context.WithTimeout(ctx, s.cfg.ChargeTimeout)
	defer cancel()

	start := s.now()
	charge, err := s.gateway.Charge(chargeCtx, accountID, pkg, chargeKey)
	monitoring.ChargeDuration.Observe(s.now().Sub(start).Seconds())
	if err != nil {
		logger.Warn("Auto-topup charge failed", "account_id", accountID, "error", err)
		monitoring.TopupAttempts.WithLabelValues("failure").Inc()
		s.recordFailure(ctx, accountID)
		return
	}

	_, _, err = s.ledger.Credit(ctx, repository.CreditParams{
		AccountID:      accountID,
		Amount:         policy.TopupAmount,
		Kind:           domain.TransactionKindAutoTopup,
		IdempotencyKey: chargeKey,
		ReferenceID:    charge.ExternalReference,
		ReferenceType:  "charge",
		Description:    "Automatic top-up",
	})
	if err != nil {
		// The charge went through but the credit did not land; leave the
		// failure on the policy and let the idempotency key protect a retry.
		logger.Error("Auto-topup credit failed after successful charge",
			"account_id", accountID, "charge_ref", charge.ExternalReference, "error", err)
		monitoring.TopupAttempts.WithLabelValues("failure").Inc()
		s.recordFailure(ctx, accountID)
		return
	}

	if err := s.policies.MarkSuccess(ctx, accountID, s.now().UTC()); err != nil {
		logger.Error("Failed to record topup success", "account_id", accountID, "error", err)
	}
	monitoring.TopupAttempts.WithLabelValues("success").Inc()
	logger.Info("Auto-topup applied", "account_id", accountID, "amount", policy.TopupAmount)
}

func (s *topupService) recordFailure(ctx context.Context, accountID string) {
	count, suspended, err := s.policies.MarkFailure(ctx, accountID)
	if err != nil {
		logger.Error("Failed to record topup failure", "account_id", accountID, "error", err)
		return
	}
	if suspended {
		logger.Warn("Auto-topup policy suspended", "account_id", accountID, "failure_count", count)
		monitoring.TopupSuspensions.Inc()
		if s.publisher != nil {
			s.publisher.Publish(ctx, domain.Event{
				Type:       domain.EventTopupSuspended,
				AccountID:  accountID,
				OccurredAt: s.now().UTC(),
			})
		}
	}
}
