package cache

import (
	"context"
	"sync"
	"time"

	"github.com/openreply/pagegate/internal/store"
)

// TenantSource resolves a channel id to its tenant. In production this is
// the retry-wrapped store, so a cache miss is already bounded to a small
// fixed number of attempts.
type TenantSource interface {
	TenantByChannel(ctx context.Context, channelID string) (*store.Tenant, error)
}

type tenantEntry struct {
	tenant   *store.Tenant
	cachedAt time.Time
}

// TenantCache is the read-through cache in front of tenant resolution. A
// miss fetches synchronously: tenant identity is the one piece of state no
// further decision can be made without.
type TenantCache struct {
	mu      sync.RWMutex
	entries map[string]tenantEntry
	src     TenantSource
	ttl     time.Duration
	now     func() time.Time
}

// NewTenantCache returns a cache whose entries go stale after ttl.
func NewTenantCache(src TenantSource, ttl time.Duration) *TenantCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &TenantCache{
		entries: make(map[string]tenantEntry),
		src:     src,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the tenant owning channelID, fetching and filling on miss.
func (c *TenantCache) Get(ctx context.Context, channelID string) (*store.Tenant, error) {
	c.mu.RLock()
	e, ok := c.entries[channelID]
	c.mu.RUnlock()
	if ok && c.now().Sub(e.cachedAt) < c.ttl {
		return e.tenant, nil
	}

	tenant, err := c.src.TenantByChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[channelID] = tenantEntry{tenant: tenant, cachedAt: c.now()}
	c.mu.Unlock()
	return tenant, nil
}

// Invalidate drops the cached entry for channelID.
func (c *TenantCache) Invalidate(channelID string) {
	c.mu.Lock()
	delete(c.entries, channelID)
	c.mu.Unlock()
}

// Sweep removes stale entries and returns how many were evicted.
func (c *TenantCache) Sweep() int {
	c.mu.Lock()
	cutoff := c.now().Add(-c.ttl)
	var expired []string
	for id, e := range c.entries {
		if e.cachedAt.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(c.entries, id)
	}
	c.mu.Unlock()
	return len(expired)
}
