package executor

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/stampede/internal/load"
	"github.com/wesleyorama2/stampede/internal/load/metrics"
)

// base holds the lifecycle state every executor shares.
type base struct {
	typ       Type
	config    *Config
	scheduler *load.VUScheduler
	registry  *metrics.Registry

	startTime   time.Time
	iterations  atomic.Int64
	dropped     atomic.Int64
	started     atomic.Bool
	running     atomic.Bool
	interrupted atomic.Bool

	mu     sync.RWMutex
	cancel context.CancelFunc
	done   chan struct{}
}

func (b *base) init(typ Type, config *Config) error {
	if config == nil {
		return &ValidationError{Field: "type", Message: "executor config is required"}
	}
	if config.Type != typ {
		return fmt.Errorf("invalid config type: expected %s, got %s", typ, config.Type)
	}
	if err := config.Validate(); err != nil {
		return err
	}
	b.typ = typ
	b.config = config
	b.done = make(chan struct{})
	return nil
}

// Type returns the executor type.
func (b *base) Type() Type {
	return b.typ
}

// begin marks the executor running and returns the context that Stop
// cancels. The returned func must be deferred by Run.
func (b *base) begin(ctx context.Context, scheduler *load.VUScheduler, registry *metrics.Registry) (context.Context, func(), error) {
	if b.config == nil {
		return nil, nil, fmt.Errorf("executor %s: Run called before Init", b.typ)
	}
	if !b.started.CompareAndSwap(false, true) {
		return nil, nil, fmt.Errorf("executor %s: Run called twice", b.typ)
	}
	b.running.Store(true)

	stopCtx, cancel := context.WithCancel(ctx)

	b.mu.Lock()
	b.scheduler = scheduler
	b.registry = registry
	b.startTime = time.Now()
	b.cancel = cancel
	b.mu.Unlock()

	return stopCtx, func() {
		cancel()
		b.running.Store(false)
		close(b.done)
	}, nil
}

// iterationContext returns the context in-flight iterations run on. It
// ignores cancellation of ctx; only the returned cancel interrupts it.
func iterationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithCancel(context.WithoutCancel(ctx))
}

// drain waits for in-flight iterations, interrupting them once the graceful
// stop window elapses, then closes the scheduler. Closed-loop VUs exit on
// their own once the run context is done.
func (b *base) drain(interrupt context.CancelFunc) {
	if b.scheduler.Drain(b.config.gracefulStop(), interrupt) {
		b.interrupted.Store(true)
	}
	b.scheduler.Close()
	for _, vu := range b.scheduler.GetActiveVUs() {
		b.scheduler.RemoveVU(vu.ID)
	}
}

func (b *base) countResult(load.IterationResult) {
	b.iterations.Add(1)
}

func (b *base) elapsed() time.Duration {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.startTime.IsZero() {
		return 0
	}
	return time.Since(b.startTime)
}

// timeProgress returns elapsed/total clamped to [0, 1].
func (b *base) timeProgress(total time.Duration) float64 {
	if !b.running.Load() {
		if b.elapsed() == 0 {
			return 0.0
		}
		return 1.0
	}
	if total <= 0 {
		return 1.0
	}
	progress := float64(b.elapsed()) / float64(total)
	if progress > 1.0 {
		progress = 1.0
	}
	return progress
}

// GetActiveVUs returns current active VU count.
func (b *base) GetActiveVUs() int {
	b.mu.RLock()
	s := b.scheduler
	b.mu.RUnlock()
	if s == nil {
		return 0
	}
	return s.GetActiveVUCount()
}

func (b *base) peakVUs() int {
	b.mu.RLock()
	s := b.scheduler
	b.mu.RUnlock()
	if s == nil {
		return 0
	}
	return s.PeakVUs()
}

// baseStats fills the fields every executor reports.
func (b *base) baseStats() *Stats {
	b.mu.RLock()
	start := b.startTime
	b.mu.RUnlock()

	return &Stats{
		StartTime:         start,
		CurrentTime:       time.Now(),
		Elapsed:           b.elapsed(),
		TotalDuration:     b.config.TotalDuration(),
		ActiveVUs:         b.GetActiveVUs(),
		PeakVUs:           b.peakVUs(),
		Iterations:        b.iterations.Load(),
		DroppedIterations: b.dropped.Load(),
		Interrupted:       b.interrupted.Load(),
	}
}

// Stop ends the run early and waits for Run to return.
func (b *base) Stop(ctx context.Context) error {
	b.mu.RLock()
	cancel := b.cancel
	b.mu.RUnlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pacer returns the wait applied between iterations, or nil without pacing.
// A VU asked to stop leaves the wait at once.
func pacer(p *PacingConfig) func(ctx context.Context, stop <-chan struct{}) {
	if p == nil || p.Type == PacingNone || p.Type == "" {
		return nil
	}
	return func(ctx context.Context, stop <-chan struct{}) {
		var wait time.Duration
		switch p.Type {
		case PacingConstant:
			wait = p.Duration
		case PacingRandom:
			diff := p.Max - p.Min
			if diff > 0 {
				wait = p.Min + time.Duration(rand.Int63n(int64(diff)))
			} else {
				wait = p.Min
			}
		}

		if wait > 0 {
			t := time.NewTimer(wait)
			defer t.Stop()
			select {
			case <-ctx.Done():
			case <-stop:
			case <-t.C:
			}
		}
	}
}

// spawnError reports a VU that could not be allocated.
func spawnError(name string, err error) error {
	return load.NewEngineError(load.PhaseRun, name, fmt.Errorf("%w: %v", load.ErrWorkerAllocation, err))
}
