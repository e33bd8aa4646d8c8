// Package cache holds the four process-wide caches in front of storage:
// tenant config, auto-reply flags, the dedup ledger, and agent-echo
// records. All share one policy shape: read-through, TTL staleness, safe
// default on miss, and no caller ever blocks on a network call when a
// valid hit exists.
package cache

import (
	"sync"
	"time"
)

// Ledger is the set of recently processed platform message ids. Its single
// atomic TestAndSet is what guarantees at-most-once handling of duplicate
// echoes: the insert happens inside the same critical section as the check.
type Ledger struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

// NewLedger returns a ledger whose entries expire after ttl.
func NewLedger(ttl time.Duration) *Ledger {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Ledger{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// TestAndSet records id and reports whether it was new. Concurrent callers
// for the same id agree on a single winner.
func (l *Ledger) TestAndSet(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if at, ok := l.seen[id]; ok && l.now().Sub(at) < l.ttl {
		return false
	}
	l.seen[id] = l.now()
	return true
}

// Sweep removes expired entries and returns how many were evicted. Keys are
// collected first so in-flight TestAndSet calls only contend on the map
// lock, never on iteration.
func (l *Ledger) Sweep() int {
	l.mu.Lock()
	cutoff := l.now().Add(-l.ttl)
	var expired []string
	for id, at := range l.seen {
		if at.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(l.seen, id)
	}
	l.mu.Unlock()
	return len(expired)
}

// Len reports the number of tracked ids.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}
