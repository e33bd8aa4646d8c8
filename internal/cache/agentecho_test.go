package cache

import (
	"sync"
	"testing"
	"time"
)

func TestAgentEchoCache_TakeOnce(t *testing.T) {
	c := NewAgentEchoCache(time.Minute)
	c.Put(AgentEchoRecord{
		OutboundMessageID: "m1",
		Intent:            "price_inquiry",
		Sentiment:         "neutral",
		Confidence:        0.93,
	})

	rec, ok := c.Take("m1")
	if !ok {
		t.Fatal("first Take should return the record")
	}
	if rec.Intent != "price_inquiry" || rec.Confidence != 0.93 {
		t.Errorf("record = %+v", rec)
	}

	if _, ok := c.Take("m1"); ok {
		t.Error("second Take must miss")
	}
}

func TestAgentEchoCache_TakeConcurrent(t *testing.T) {
	c := NewAgentEchoCache(time.Minute)
	c.Put(AgentEchoRecord{OutboundMessageID: "m1"})

	const workers = 16
	hits := make(chan bool, workers)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := c.Take("m1")
			hits <- ok
		}()
	}
	wg.Wait()
	close(hits)

	got := 0
	for h := range hits {
		if h {
			got++
		}
	}
	if got != 1 {
		t.Errorf("record consumed %d times, want 1", got)
	}
}

func TestAgentEchoCache_Expiry(t *testing.T) {
	c := NewAgentEchoCache(time.Minute)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }

	c.Put(AgentEchoRecord{OutboundMessageID: "m1"})

	c.now = func() time.Time { return base.Add(61 * time.Second) }
	if _, ok := c.Take("m1"); ok {
		t.Error("expired record must not be returned")
	}
}

func TestAgentEchoCache_IgnoresEmptyID(t *testing.T) {
	c := NewAgentEchoCache(time.Minute)
	c.Put(AgentEchoRecord{Intent: "greeting"})
	if _, ok := c.Take(""); ok {
		t.Error("empty id must never store or match")
	}
}

func TestAgentEchoCache_Sweep(t *testing.T) {
	c := NewAgentEchoCache(time.Minute)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }

	c.Put(AgentEchoRecord{OutboundMessageID: "m1"})
	c.Put(AgentEchoRecord{OutboundMessageID: "m2"})

	c.now = func() time.Time { return base.Add(2 * time.Minute) }
	if got := c.Sweep(); got != 2 {
		t.Errorf("Sweep() = %d, want 2", got)
	}
}
