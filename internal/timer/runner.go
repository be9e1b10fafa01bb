package timer

import (
	"context"
	"log/slog"
	"time"
)

// Pinger processes at most one due job per call and reports whether it did.
type Pinger interface {
	RunNextDue(ctx context.Context) (bool, error)
}

// Runner pings the pool on every tick until nothing is due.
type Runner struct {
	pinger Pinger
	tick   time.Duration
}

// NewRunner creates a runner. A non-positive tick defaults to one second.
func NewRunner(p Pinger, tick time.Duration) *Runner {
	if tick <= 0 {
		tick = time.Second
	}
	return &Runner{pinger: p, tick: tick}
}

// Run blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()

	slog.Info("timer runner started", "tick", r.tick.String())
	for {
		select {
		case <-ctx.Done():
			slog.Info("timer runner stopped")
			return
		case <-ticker.C:
			r.Drain(ctx)
		}
	}
}

// Drain pings until no job is due, ctx is cancelled or a ping fails.
// It returns the number of jobs processed.
func (r *Runner) Drain(ctx context.Context) int {
	n := 0
	for ctx.Err() == nil {
		ran, err := r.pinger.RunNextDue(ctx)
		if err != nil {
			slog.Error("timer ping failed", "err", err)
			return n
		}
		if !ran {
			return n
		}
		n++
	}
	return n
}
