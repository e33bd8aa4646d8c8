package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openreply/pagegate/internal/async"
)

// FlagSource is the feature-flag backend consumed only by the refill path.
type FlagSource interface {
	AutoReplyEnabled(ctx context.Context, tenantID string) (bool, error)
	TenantIDs(ctx context.Context) ([]string, error)
}

type flagEntry struct {
	enabled   bool
	fetchedAt time.Time
}

// FlagCache maps a tenant id to its auto-response flag. Lookups never touch
// the network: a missing or stale entry reads as disabled (the safe
// default) and schedules exactly one background refill per miss burst.
//
// An unknown flag and a genuinely disabled flag are indistinguishable to
// callers. Keeping them merged preserves the never-block guarantee; the
// refill closes the gap within one miss window.
type FlagCache struct {
	mu        sync.Mutex
	entries   map[string]flagEntry
	refilling map[string]struct{}
	src       FlagSource
	ttl       time.Duration
	now       func() time.Time
}

// NewFlagCache returns a cache whose entries go stale after ttl.
func NewFlagCache(src FlagSource, ttl time.Duration) *FlagCache {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &FlagCache{
		entries:   make(map[string]flagEntry),
		refilling: make(map[string]struct{}),
		src:       src,
		ttl:       ttl,
		now:       time.Now,
	}
}

// Enabled reports whether auto-response is on for the tenant. Never blocks.
func (c *FlagCache) Enabled(tenantID string) bool {
	c.mu.Lock()
	e, ok := c.entries[tenantID]
	if ok && c.now().Sub(e.fetchedAt) < c.ttl {
		c.mu.Unlock()
		return e.enabled
	}
	scheduled := c.markRefillingLocked(tenantID)
	c.mu.Unlock()

	if scheduled {
		async.BestEffort("flags.refill", func() error { return c.refill(tenantID) })
	}
	return false
}

// Warm schedules a background refill when no fresh entry exists. Used by
// the webhook entry point to pre-heat the flag for every tenant it touches.
func (c *FlagCache) Warm(tenantID string) {
	c.mu.Lock()
	e, ok := c.entries[tenantID]
	if ok && c.now().Sub(e.fetchedAt) < c.ttl {
		c.mu.Unlock()
		return
	}
	scheduled := c.markRefillingLocked(tenantID)
	c.mu.Unlock()

	if scheduled {
		async.BestEffort("flags.warm", func() error { return c.refill(tenantID) })
	}
}

// markRefillingLocked claims the refill slot for tenantID. Caller holds mu.
func (c *FlagCache) markRefillingLocked(tenantID string) bool {
	if _, busy := c.refilling[tenantID]; busy {
		return false
	}
	c.refilling[tenantID] = struct{}{}
	return true
}

func (c *FlagCache) refill(tenantID string) error {
	defer func() {
		c.mu.Lock()
		delete(c.refilling, tenantID)
		c.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	enabled, err := c.src.AutoReplyEnabled(ctx, tenantID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.entries[tenantID] = flagEntry{enabled: enabled, fetchedAt: c.now()}
	c.mu.Unlock()
	return nil
}

// Set fills the entry directly, bypassing the source. Used by tests and by
// the targeted invalidation path when the new value is already known.
func (c *FlagCache) Set(tenantID string, enabled bool) {
	c.mu.Lock()
	c.entries[tenantID] = flagEntry{enabled: enabled, fetchedAt: c.now()}
	c.mu.Unlock()
}

// Invalidate drops the entry for tenantID; the next lookup reads the safe
// default and refills.
func (c *FlagCache) Invalidate(tenantID string) {
	c.mu.Lock()
	delete(c.entries, tenantID)
	c.mu.Unlock()
}

// Reset drops every entry. Used when configuration changes invalidate all
// cached decisions at once.
func (c *FlagCache) Reset() {
	c.mu.Lock()
	c.entries = make(map[string]flagEntry)
	c.mu.Unlock()
}

// Sweep drops entries past their TTL and reports how many were removed.
func (c *FlagCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for id, e := range c.entries {
		if now.Sub(e.fetchedAt) >= c.ttl {
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}

// Prewarm bulk-fills the cache for all tenants in small concurrent batches.
// Invoked once at process start; failures for individual tenants are
// returned but do not stop the rest of the batch.
func (c *FlagCache) Prewarm(ctx context.Context, batch int) error {
	if batch <= 0 {
		batch = 10
	}

	ids, err := c.src.TenantIDs(ctx)
	if err != nil {
		return err
	}

	// No derived context: one tenant failing must not cancel the fetches
	// still in flight for the others.
	var g errgroup.Group
	g.SetLimit(batch)
	for _, id := range ids {
		g.Go(func() error {
			enabled, err := c.src.AutoReplyEnabled(ctx, id)
			if err != nil {
				return err
			}
			c.Set(id, enabled)
			return nil
		})
	}
	return g.Wait()
}
