package jobs

import (
	"context"
	"time"

	"tradehub-backend/internal/domain"
	"tradehub-backend/internal/logger"
)

const auditPageSize = 200

// ReapStaleTopups releases auto-topup processing locks whose charge call
// never reported back. Each reaped lock counts as a failure, so a repeatedly
// hanging gateway eventually suspends the policy instead of wedging it.
func (jr *JobRunner) ReapStaleTopups() {
	jr.runWithRecovery("reap-stale-topups", func() {
		ctx := context.Background()
		cutoff := time.Now().UTC().Add(-jr.config.ProcessingTTL())

		accounts, err := jr.store.ReapStale(ctx, cutoff)
		if err != nil {
			logger.Error("Failed to reap stale topup locks", "error", err)
			return
		}
		for _, accountID := range accounts {
			logger.Warn("Cleared stale topup processing lock", "account_id", accountID, "cutoff", cutoff)
		}
	})
}

// AuditLedger replays each account's transaction log and verifies that the
// accumulator identity holds and that every completed entry's balance_after
// matches the recomputed running balance.
func (jr *JobRunner) AuditLedger() {
	jr.runWithRecovery("audit-ledger", func() {
		ctx := context.Background()
		var offset int32
		for {
			accounts, err := jr.store.ListAccountIDs(ctx, offset, auditPageSize)
			if err != nil {
				logger.Error("Failed to list accounts for audit", "error", err)
				return
			}
			if len(accounts) == 0 {
				return
			}
			for _, accountID := range accounts {
				jr.auditAccount(ctx, accountID)
			}
			offset += auditPageSize
		}
	})
}

func (jr *JobRunner) auditAccount(ctx context.Context, accountID string) {
	balance, err := jr.store.GetBalance(ctx, accountID)
	if err != nil {
		logger.Error("Audit: failed to read balance", "account_id", accountID, "error", err)
		return
	}

	if balance.CurrentBalance < 0 {
		logger.Error("Audit: negative balance", "account_id", accountID, "balance", balance.CurrentBalance)
	}
	if balance.CurrentBalance != balance.TotalPurchased+balance.TotalRefunded-balance.TotalUsed {
		logger.Error("Audit: accumulator identity violated",
			"account_id", accountID,
			"balance", balance.CurrentBalance,
			"purchased", balance.TotalPurchased,
			"refunded", balance.TotalRefunded,
			"used", balance.TotalUsed)
	}

	// Replay the log oldest-first and recompute the running balance.
	var replayed int64
	var page int32 = 1
	var entries []domain.CreditTransaction
	for {
		txs, total, err := jr.store.ListTransactions(ctx, accountID, domain.TransactionFilter{}, page, auditPageSize)
		if err != nil {
			logger.Error("Audit: failed to list transactions", "account_id", accountID, "error", err)
			return
		}
		entries = append(entries, txs...)
		if int32(len(entries)) >= total || len(txs) == 0 {
			break
		}
		page++
	}

	// ListTransactions returns newest-first; walk backwards.
	for i := len(entries) - 1; i >= 0; i-- {
		t := entries[i]
		switch t.Status {
		case domain.TransactionStatusCompleted, domain.TransactionStatusRefunded:
		default:
			continue
		}
		if t.Kind == domain.TransactionKindUsage {
			replayed -= t.Amount
		} else {
			replayed += t.Amount
		}
		if t.BalanceAfter != replayed {
			logger.Error("Audit: balance_after mismatch",
				"account_id", accountID, "transaction_id", t.ID,
				"balance_after", t.BalanceAfter, "replayed", replayed)
			// Resynchronize so one bad entry does not cascade.
			replayed = t.BalanceAfter
		}
	}

	if replayed != balance.CurrentBalance {
		logger.Error("Audit: replayed balance disagrees with projection",
			"account_id", accountID, "replayed", replayed, "balance", balance.CurrentBalance)
	}
}

// SendBalanceAlerts publishes a low-balance event for accounts sitting under
// the configured threshold, as a daily digest safety net behind the
// synchronous crossing alerts.
func (jr *JobRunner) SendBalanceAlerts() {
	jr.runWithRecovery("send-balance-alerts", func() {
		ctx := context.Background()
		threshold := jr.config.Credits.LowBalanceThreshold
		var offset int32
		for {
			accounts, err := jr.store.ListAccountIDs(ctx, offset, auditPageSize)
			if err != nil {
				logger.Error("Failed to list accounts for alerts", "error", err)
				return
			}
			if len(accounts) == 0 {
				return
			}
			for _, accountID := range accounts {
				balance, err := jr.store.GetBalance(ctx, accountID)
				if err != nil {
					continue
				}
				if balance.CurrentBalance <= threshold {
					jr.publisher.Publish(ctx, domain.Event{
						Type:       domain.EventLowBalance,
						AccountID:  accountID,
						Balance:    balance.CurrentBalance,
						OccurredAt: time.Now().UTC(),
					})
				}
			}
			offset += auditPageSize
		}
	})
}
