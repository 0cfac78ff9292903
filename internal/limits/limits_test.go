package limits

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"tradehub-backend/internal/domain"
)

type stubCounter struct {
	counts map[time.Time]int32
	calls  []time.Time
}

func (s *stubCounter) CountUsageSince(ctx context.Context, accountID string, since time.Time) (int32, error) {
	s.calls = append(s.calls, since)
	return s.counts[since], nil
}

func fixedPolicy(counter UsageCounter, caps map[string]RoleCaps, now time.Time) *Policy {
	p := NewPolicy(counter, caps)
	p.now = func() time.Time { return now }
	return p
}

func TestPolicy_Allow(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 15, 14, 30, 0, 0, time.UTC)
	dayStart := time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	caps := map[string]RoleCaps{"tradesperson": {PerDay: 5, PerMonth: 50}}

	t.Run("UnderBothCaps", func(t *testing.T) {
		counter := &stubCounter{counts: map[time.Time]int32{dayStart: 4, monthStart: 40}}
		p := fixedPolicy(counter, caps, now)
		assert.NoError(t, p.Allow(ctx, "acct-1", "tradesperson"))
		assert.Equal(t, []time.Time{dayStart, monthStart}, counter.calls)
	})

	t.Run("DailyCapHit", func(t *testing.T) {
		counter := &stubCounter{counts: map[time.Time]int32{dayStart: 5, monthStart: 5}}
		p := fixedPolicy(counter, caps, now)
		err := p.Allow(ctx, "acct-1", "tradesperson")
		var lerr *domain.LimitExceededError
		assert.ErrorAs(t, err, &lerr)
		assert.Equal(t, domain.LimitKindDaily, lerr.Kind)
		assert.Equal(t, int32(5), lerr.Limit)
	})

	t.Run("MonthlyCapHit", func(t *testing.T) {
		counter := &stubCounter{counts: map[time.Time]int32{dayStart: 1, monthStart: 50}}
		p := fixedPolicy(counter, caps, now)
		err := p.Allow(ctx, "acct-1", "tradesperson")
		var lerr *domain.LimitExceededError
		assert.ErrorAs(t, err, &lerr)
		assert.Equal(t, domain.LimitKindMonthly, lerr.Kind)
	})

	t.Run("UnknownRoleUnlimited", func(t *testing.T) {
		counter := &stubCounter{}
		p := fixedPolicy(counter, caps, now)
		assert.NoError(t, p.Allow(ctx, "acct-1", "admin"))
		assert.Empty(t, counter.calls)
	})
}
