package cache

import (
	"sync"
	"testing"
	"time"
)

func TestLedger_TestAndSet(t *testing.T) {
	l := NewLedger(time.Hour)

	if !l.TestAndSet("m1") {
		t.Fatal("first insert should win")
	}
	if l.TestAndSet("m1") {
		t.Fatal("second insert of the same id should lose")
	}
	if !l.TestAndSet("m2") {
		t.Fatal("distinct id should win")
	}
}

func TestLedger_TestAndSet_Concurrent(t *testing.T) {
	l := NewLedger(time.Hour)

	const workers = 32
	wins := make(chan bool, workers)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wins <- l.TestAndSet("same-mid")
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for w := range wins {
		if w {
			won++
		}
	}
	if won != 1 {
		t.Errorf("exactly one goroutine should win, got %d", won)
	}
}

func TestLedger_Sweep(t *testing.T) {
	l := NewLedger(time.Hour)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }

	l.TestAndSet("m1")

	// 59 minutes: still retained, duplicate still rejected.
	l.now = func() time.Time { return base.Add(59 * time.Minute) }
	if got := l.Sweep(); got != 0 {
		t.Fatalf("Sweep() at 59m evicted %d, want 0", got)
	}
	if l.TestAndSet("m1") {
		t.Fatal("duplicate within retention should still lose")
	}

	// 61 minutes: eligible for eviction, then re-insertable.
	l.now = func() time.Time { return base.Add(61 * time.Minute) }
	if got := l.Sweep(); got != 1 {
		t.Fatalf("Sweep() at 61m evicted %d, want 1", got)
	}
	if !l.TestAndSet("m1") {
		t.Fatal("swept id should be insertable again")
	}
	if l.Len() != 1 {
		t.Errorf("Len() = %d, want 1", l.Len())
	}
}
