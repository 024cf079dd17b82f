package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/banshee-data/fusion.report/internal/fusion"
	"github.com/banshee-data/fusion.report/internal/timeutil"
)

// RunnerConfig controls when the Runner starts cycles.
type RunnerConfig struct {
	// Interval between periodic cycles. Zero disables the ticker, leaving
	// only ingest triggers.
	Interval time.Duration

	// OnIngest starts a cycle whenever new sensor data is registered.
	OnIngest bool

	// MaxCycleRate caps cycles per second across both sources. Excess
	// requests are dropped, not queued; the next tick or reading picks the
	// data up. Zero means no limit.
	MaxCycleRate float64

	Clock timeutil.Clock // defaults to timeutil.RealClock
}

// RunnerStats counts runner outcomes since start.
type RunnerStats struct {
	Cycles    uint64 // successful cycles
	Skipped   uint64 // recoverable failures (missing sensor, synchronisation)
	Failed    uint64 // any other failure
	Throttled uint64 // requests dropped by MaxCycleRate
}

// Runner drives Engine.PerformFusion until its context ends.
type Runner struct {
	engine  *Engine
	cfg     RunnerConfig
	clock   timeutil.Clock
	limiter *rate.Limiter

	cycles, skipped, failed, throttled atomic.Uint64
}

// NewRunner creates a Runner for e.
func NewRunner(e *Engine, cfg RunnerConfig) *Runner {
	r := &Runner{engine: e, cfg: cfg, clock: cfg.Clock}
	if r.clock == nil {
		r.clock = timeutil.RealClock{}
	}
	if cfg.MaxCycleRate > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(cfg.MaxCycleRate), 1)
	}
	return r
}

// Run blocks, running cycles on every tick and (when OnIngest is set) on
// every ingest trigger, until ctx is done. It returns nil on cancellation.
func (r *Runner) Run(ctx context.Context) error {
	if r.cfg.Interval <= 0 && !r.cfg.OnIngest {
		return errors.New("runner: neither interval nor ingest triggering configured")
	}

	var tick <-chan time.Time
	if r.cfg.Interval > 0 {
		ticker := r.clock.NewTicker(r.cfg.Interval)
		defer ticker.Stop()
		tick = ticker.C()
	}
	var ingest <-chan struct{}
	if r.cfg.OnIngest {
		ingest = r.engine.Triggered()
	}

	diagf("runner started (interval=%v ingest=%v max_rate=%.1f/s)", r.cfg.Interval, r.cfg.OnIngest, r.cfg.MaxCycleRate)
	defer diagf("runner stopped")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
		case <-ingest:
		}
		r.step()
	}
}

func (r *Runner) step() {
	if r.limiter != nil && !r.limiter.AllowN(r.clock.Now(), 1) {
		n := r.throttled.Add(1)
		if n%100 == 1 {
			diagf("throttled %d cycle requests (max %.1f/s)", n, r.cfg.MaxCycleRate)
		}
		return
	}

	_, err := r.engine.PerformFusion()
	switch {
	case err == nil:
		r.cycles.Add(1)
	case fusion.IsRecoverable(err):
		r.skipped.Add(1)
	default:
		r.failed.Add(1)
	}
}

// Stats returns a copy of the runner counters.
func (r *Runner) Stats() RunnerStats {
	return RunnerStats{
		Cycles:    r.cycles.Load(),
		Skipped:   r.skipped.Load(),
		Failed:    r.failed.Load(),
		Throttled: r.throttled.Load(),
	}
}
