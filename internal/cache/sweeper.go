package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
)

// Sweepable is anything with expired entries to evict.
type Sweepable interface {
	Sweep() int
}

// Sweeper periodically evicts expired entries from the registered caches.
// The schedule is a cron expression so eviction pressure can be tuned
// without a rebuild.
type Sweeper struct {
	expr    string
	targets []Sweepable
}

// NewSweeper validates expr and returns a sweeper over targets.
func NewSweeper(expr string, targets ...Sweepable) (*Sweeper, error) {
	if expr == "" {
		expr = "*/5 * * * *"
	}
	if !gronx.New().IsValid(expr) {
		return nil, fmt.Errorf("invalid sweep schedule %q", expr)
	}
	return &Sweeper{expr: expr, targets: targets}, nil
}

// Run sweeps on schedule until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	for {
		next, err := gronx.NextTick(s.expr, false)
		if err != nil {
			return fmt.Errorf("next sweep tick: %w", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Until(next)):
		}

		total := 0
		for _, t := range s.targets {
			total += t.Sweep()
		}
		if total > 0 {
			slog.Debug("cache.swept", "evicted", total)
		}
	}
}
