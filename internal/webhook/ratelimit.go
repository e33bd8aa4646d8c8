package webhook

import (
	"sync"
	"time"
)

// maxTrackedKeys caps the number of tracked rate-limit keys to prevent
// memory exhaustion from attackers rotating source keys.
const maxTrackedKeys = 4096

const rateLimitWindow = 60 * time.Second

type rateLimitEntry struct {
	windowStart time.Time
	count       int
}

// RateLimiter bounds webhook posts per source key over a sliding window.
// Safe for concurrent use.
type RateLimiter struct {
	mu      sync.Mutex
	maxHits int
	entries map[string]*rateLimitEntry
}

// NewRateLimiter creates a bounded limiter allowing maxHits per key per
// minute. maxHits <= 0 disables limiting.
func NewRateLimiter(maxHits int) *RateLimiter {
	return &RateLimiter{
		maxHits: maxHits,
		entries: make(map[string]*rateLimitEntry),
	}
}

// Allow returns true if the key is within limits. Stale entries are pruned
// when the tracked-key cap is approached, with hard eviction as a backstop.
func (r *RateLimiter) Allow(key string) bool {
	if r.maxHits <= 0 {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()

	if len(r.entries) >= maxTrackedKeys {
		for k, e := range r.entries {
			if now.Sub(e.windowStart) >= rateLimitWindow {
				delete(r.entries, k)
			}
		}
		for len(r.entries) >= maxTrackedKeys {
			for k := range r.entries {
				delete(r.entries, k)
				break
			}
		}
	}

	e, ok := r.entries[key]
	if !ok || now.Sub(e.windowStart) >= rateLimitWindow {
		r.entries[key] = &rateLimitEntry{windowStart: now, count: 1}
		return true
	}
	e.count++
	return e.count <= r.maxHits
}
