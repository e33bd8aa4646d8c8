package store

import (
	"log/slog"
	"sync"
	"time"
)

// Health tracks consecutive storage failures and derives a cooldown state.
// While in cooldown the webhook entry point sheds whole batches instead of
// queueing work against a degraded backend.
type Health struct {
	mu            sync.Mutex
	failures      int
	threshold     int
	cooldown      time.Duration
	cooldownUntil time.Time
	now           func() time.Time
}

// NewHealth returns a tracker that enters cooldown after threshold
// consecutive failures.
func NewHealth(threshold int, cooldown time.Duration) *Health {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Health{threshold: threshold, cooldown: cooldown, now: time.Now}
}

// RecordSuccess resets the failure streak.
func (h *Health) RecordSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures = 0
}

// RecordFailure counts one failure; crossing the threshold starts a
// cooldown window.
func (h *Health) RecordFailure() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures++
	if h.failures >= h.threshold && h.now().After(h.cooldownUntil) {
		h.cooldownUntil = h.now().Add(h.cooldown)
		slog.Warn("store.cooldown_started", "failures", h.failures, "until", h.cooldownUntil)
	}
}

// InCooldown reports whether the backend is currently considered degraded.
func (h *Health) InCooldown() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now().Before(h.cooldownUntil)
}
