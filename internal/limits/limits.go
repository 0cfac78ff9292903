package limits

import (
	"context"
	"time"

	"tradehub-backend/internal/domain"
)

// RoleCaps holds the per-day and per-month usage transaction caps for a role.
// A zero cap means unlimited.
type RoleCaps struct {
	PerDay   int32 `yaml:"per_day"`
	PerMonth int32 `yaml:"per_month"`
}

// UsageCounter supplies recent usage counts from the authoritative store.
type UsageCounter interface {
	CountUsageSince(ctx context.Context, accountID string, since time.Time) (int32, error)
}

// Policy enforces role-scoped transaction caps ahead of any ledger mutation.
type Policy struct {
	counter UsageCounter
	caps    map[string]RoleCaps
	now     func() time.Time
}

func NewPolicy(counter UsageCounter, caps map[string]RoleCaps) *Policy {
	return &Policy{counter: counter, caps: caps, now: time.Now}
}

// Allow returns a LimitExceededError when the account's role has hit its
// daily or monthly usage cap. Roles without configured caps are unlimited.
func (p *Policy) Allow(ctx context.Context, accountID, role string) error {
	caps, ok := p.caps[role]
	if !ok {
		return nil
	}
	now := p.now().UTC()

	if caps.PerDay > 0 {
		dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		n, err := p.counter.CountUsageSince(ctx, accountID, dayStart)
		if err != nil {
			return err
		}
		if n >= caps.PerDay {
			return &domain.LimitExceededError{Kind: domain.LimitKindDaily, Limit: caps.PerDay}
		}
	}

	if caps.PerMonth > 0 {
		monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		n, err := p.counter.CountUsageSince(ctx, accountID, monthStart)
		if err != nil {
			return err
		}
		if n >= caps.PerMonth {
			return &domain.LimitExceededError{Kind: domain.LimitKindMonthly, Limit: caps.PerMonth}
		}
	}

	return nil
}
