package cache

import (
	"sync"
	"time"
)

// AgentEchoRecord describes an automated reply whose platform echo has not
// arrived yet. Created when the dispatcher sends a reply; consumed exactly
// once when the matching echo comes back.
type AgentEchoRecord struct {
	OutboundMessageID string
	Intent            string
	Sentiment         string
	Confidence        float64
	CreatedAt         time.Time
}

// AgentEchoCache correlates outbound message ids with automation metadata.
type AgentEchoCache struct {
	mu      sync.Mutex
	entries map[string]AgentEchoRecord
	ttl     time.Duration
	now     func() time.Time
}

// NewAgentEchoCache returns a cache whose records expire after ttl.
func NewAgentEchoCache(ttl time.Duration) *AgentEchoCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &AgentEchoCache{
		entries: make(map[string]AgentEchoRecord),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Put registers a record under its outbound message id.
func (c *AgentEchoCache) Put(rec AgentEchoRecord) {
	if rec.OutboundMessageID == "" {
		return
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = c.now()
	}
	c.mu.Lock()
	c.entries[rec.OutboundMessageID] = rec
	c.mu.Unlock()
}

// Take consumes and returns the record for id. A record is returned at most
// once; expired records are dropped on access.
func (c *AgentEchoCache) Take(id string) (AgentEchoRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.entries[id]
	if !ok {
		return AgentEchoRecord{}, false
	}
	delete(c.entries, id)
	if c.now().Sub(rec.CreatedAt) >= c.ttl {
		return AgentEchoRecord{}, false
	}
	return rec, true
}

// Sweep removes expired records and returns how many were evicted.
func (c *AgentEchoCache) Sweep() int {
	c.mu.Lock()
	cutoff := c.now().Add(-c.ttl)
	var expired []string
	for id, rec := range c.entries {
		if rec.CreatedAt.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(c.entries, id)
	}
	c.mu.Unlock()
	return len(expired)
}
