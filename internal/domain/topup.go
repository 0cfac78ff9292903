package domain

import "time"

type TopupPolicyStatus string

const (
	TopupPolicyStatusActive    TopupPolicyStatus = "ACTIVE"
	TopupPolicyStatusSuspended TopupPolicyStatus = "SUSPENDED"
)

// MaxTopupFailures is the consecutive-failure count that suspends a policy.
const MaxTopupFailures = 3

// AutoTopupPolicy is one replenishment policy per account. The Processing flag
// is a mutual-exclusion marker: at most one top-up charge is in flight per
// account. ProcessingStartedAt lets the reaper job clear locks abandoned by a
// hung charge call.
type AutoTopupPolicy struct {
	AccountID           string            `json:"account_id"`
	Enabled             bool              `json:"enabled"`
	Status              TopupPolicyStatus `json:"status"`
	TriggerBalance      int64             `json:"trigger_balance"`
	TopupAmount         int64             `json:"topup_amount"`
	PackageType         string            `json:"package_type"`
	FailureCount        int32             `json:"failure_count"`
	Processing          bool              `json:"processing"`
	ProcessingStartedAt *time.Time        `json:"processing_started_at,omitempty"`
	LastTriggeredAt     *time.Time        `json:"last_triggered_at,omitempty"`
	CreatedOn           time.Time         `json:"created_on"`
	UpdatedOn           time.Time         `json:"updated_on"`
}

// Eligible reports whether the policy should fire for the given balance.
// It does not consult Processing; acquiring that gate is the repository's job.
func (p *AutoTopupPolicy) Eligible(newBalance int64) bool {
	if p == nil || !p.Enabled || p.Status == TopupPolicyStatusSuspended {
		return false
	}
	return newBalance <= p.TriggerBalance
}

// StatusView converts the policy into its balance-snapshot representation.
func (p *AutoTopupPolicy) StatusView() *AutoTopupStatus {
	if p == nil {
		return nil
	}
	return &AutoTopupStatus{
		Enabled:        p.Enabled,
		Suspended:      p.Status == TopupPolicyStatusSuspended,
		TriggerBalance: p.TriggerBalance,
		TopupAmount:    p.TopupAmount,
		FailureCount:   p.FailureCount,
		LastTriggered:  p.LastTriggeredAt,
	}
}
