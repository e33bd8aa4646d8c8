package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeFlagSource struct {
	mu      sync.Mutex
	flags   map[string]bool
	tenants []string
	calls   atomic.Int32
	gate    chan struct{} // when non-nil, AutoReplyEnabled blocks until closed
	failFor string       // when non-empty, fetches for this tenant error
}

func (s *fakeFlagSource) AutoReplyEnabled(ctx context.Context, tenantID string) (bool, error) {
	s.calls.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFor == tenantID {
		return false, errors.New("flag source down")
	}
	return s.flags[tenantID], nil
}

func (s *fakeFlagSource) TenantIDs(ctx context.Context) ([]string, error) {
	return s.tenants, nil
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestFlagCache_MissReadsSafeDefault(t *testing.T) {
	src := &fakeFlagSource{flags: map[string]bool{"t1": true}}
	c := NewFlagCache(src, time.Minute)

	// The miss itself never blocks and never reports enabled, even though
	// the backend says true.
	if c.Enabled("t1") {
		t.Fatal("miss must read as disabled")
	}

	// The scheduled refill closes the gap.
	waitFor(t, func() bool { return c.Enabled("t1") })
}

func TestFlagCache_OneRefillPerMissBurst(t *testing.T) {
	src := &fakeFlagSource{
		flags: map[string]bool{"t1": true},
		gate:  make(chan struct{}),
	}
	c := NewFlagCache(src, time.Minute)

	// A burst of misses while the first refill is in flight schedules no
	// further fetches.
	for range 20 {
		if c.Enabled("t1") {
			t.Fatal("miss must read as disabled")
		}
	}
	close(src.gate)

	waitFor(t, func() bool { return c.Enabled("t1") })
	if got := src.calls.Load(); got != 1 {
		t.Errorf("backend fetches = %d, want 1", got)
	}
}

func TestFlagCache_Expiry(t *testing.T) {
	src := &fakeFlagSource{flags: map[string]bool{"t1": true}}
	c := NewFlagCache(src, 2*time.Minute)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }

	c.Set("t1", true)
	if !c.Enabled("t1") {
		t.Fatal("fresh entry should read its value")
	}

	// Past the TTL the entry reads as disabled again.
	c.now = func() time.Time { return base.Add(3 * time.Minute) }
	if c.Enabled("t1") {
		t.Fatal("stale entry must read as disabled")
	}
}

func TestFlagCache_Warm(t *testing.T) {
	src := &fakeFlagSource{flags: map[string]bool{"t1": true}}
	c := NewFlagCache(src, time.Minute)

	c.Warm("t1")
	waitFor(t, func() bool { return c.Enabled("t1") })

	// Warming a fresh entry does not re-fetch.
	before := src.calls.Load()
	c.Warm("t1")
	time.Sleep(20 * time.Millisecond)
	if got := src.calls.Load(); got != before {
		t.Errorf("warm on fresh entry fetched %d extra times", got-before)
	}
}

func TestFlagCache_InvalidateAndReset(t *testing.T) {
	src := &fakeFlagSource{flags: map[string]bool{}}
	c := NewFlagCache(src, time.Minute)

	c.Set("t1", true)
	c.Invalidate("t1")
	if c.Enabled("t1") {
		t.Error("invalidated entry must read as disabled")
	}

	c.Set("t2", true)
	c.Reset()
	if c.Enabled("t2") {
		t.Error("reset entry must read as disabled")
	}
}

func TestFlagCache_Prewarm(t *testing.T) {
	src := &fakeFlagSource{
		flags:   map[string]bool{"t1": true, "t2": false, "t3": true},
		tenants: []string{"t1", "t2", "t3"},
	}
	c := NewFlagCache(src, time.Minute)

	if err := c.Prewarm(context.Background(), 2); err != nil {
		t.Fatal(err)
	}
	if !c.Enabled("t1") || c.Enabled("t2") || !c.Enabled("t3") {
		t.Errorf("prewarmed values wrong: t1=%v t2=%v t3=%v",
			c.Enabled("t1"), c.Enabled("t2"), c.Enabled("t3"))
	}
	if got := src.calls.Load(); got != 3 {
		t.Errorf("backend fetches = %d, want 3", got)
	}
}

func TestFlagCache_PrewarmContinuesPastFailures(t *testing.T) {
	// Batch size 1 serializes the fetches with the failing tenant first;
	// the later tenants must still be fetched and cached.
	src := &fakeFlagSource{
		flags:   map[string]bool{"t2": true, "t3": true},
		tenants: []string{"t1", "t2", "t3"},
		failFor: "t1",
	}
	c := NewFlagCache(src, time.Minute)

	if err := c.Prewarm(context.Background(), 1); err == nil {
		t.Error("expected the tenant failure to be reported")
	}
	if !c.Enabled("t2") || !c.Enabled("t3") {
		t.Errorf("surviving tenants not warmed: t2=%v t3=%v",
			c.Enabled("t2"), c.Enabled("t3"))
	}
	if got := src.calls.Load(); got != 3 {
		t.Errorf("backend fetches = %d, want 3", got)
	}
}

func TestFlagCache_Sweep(t *testing.T) {
	src := &fakeFlagSource{flags: map[string]bool{}}
	c := NewFlagCache(src, 2*time.Minute)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }

	c.Set("t1", true)
	c.Set("t2", true)

	c.now = func() time.Time { return base.Add(time.Minute) }
	c.Set("t3", true)

	c.now = func() time.Time { return base.Add(2*time.Minute + time.Second) }
	if got := c.Sweep(); got != 2 {
		t.Errorf("Sweep() = %d, want 2", got)
	}
}
