package service

import (
	"sync"
	"time"

	"tradehub-backend/internal/domain"
)

// balanceCache serves display reads with bounded staleness. Mutating paths
// never consult it; every committed mutation invalidates the entry.
type balanceCache struct {
	mu    sync.RWMutex
	items map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	snapshot  *domain.BalanceSnapshot
	expiresAt time.Time
}

func newBalanceCache(ttl time.Duration) *balanceCache {
	return &balanceCache{items: make(map[string]cacheEntry), ttl: ttl}
}

func (c *balanceCache) get(accountID string) (*domain.BalanceSnapshot, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.items[accountID]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.snapshot, true
}

func (c *balanceCache) put(accountID string, snap *domain.BalanceSnapshot) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[accountID] = cacheEntry{snapshot: snap, expiresAt: time.Now().Add(c.ttl)}
}

func (c *balanceCache) invalidate(accountID string) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, accountID)
}
