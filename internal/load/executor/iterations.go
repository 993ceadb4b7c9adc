package executor

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wesleyorama2/stampede/internal/load"
	"github.com/wesleyorama2/stampede/internal/load/metrics"
)

// PerVUIterations runs a fixed number of iterations on each of VUs VUs.
//
// The scenario ends when every VU has run its share or MaxDuration
// (default 10m) elapses, whichever comes first.
type PerVUIterations struct {
	base
}

// NewPerVUIterations creates a new per-VU iterations executor.
func NewPerVUIterations() *PerVUIterations {
	return &PerVUIterations{}
}

// Init initializes the executor with configuration.
func (e *PerVUIterations) Init(ctx context.Context, config *Config) error {
	return e.init(TypePerVUIterations, config)
}

// Run starts the executor and blocks until completion.
func (e *PerVUIterations) Run(ctx context.Context, scheduler *load.VUScheduler, registry *metrics.Registry) error {
	return e.runBounded(ctx, scheduler, registry, func() func() bool {
		remaining := e.config.Iterations
		return func() bool {
			remaining--
			return remaining >= 0
		}
	})
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *PerVUIterations) GetProgress() float64 {
	return e.countProgress(int64(e.config.VUs) * e.config.Iterations)
}

// GetStats returns executor statistics.
func (e *PerVUIterations) GetStats() *Stats {
	stats := e.baseStats()
	stats.TargetVUs = e.config.VUs
	stats.TotalIterations = int64(e.config.VUs) * e.config.Iterations
	return stats
}

// SharedIterations runs Iterations iterations in total, taken by VUs VUs
// as fast as each of them can.
//
// The scenario ends when the shared budget is exhausted or MaxDuration
// (default 10m) elapses, whichever comes first.
type SharedIterations struct {
	base

	remaining atomic.Int64
}

// NewSharedIterations creates a new shared iterations executor.
func NewSharedIterations() *SharedIterations {
	return &SharedIterations{}
}

// Init initializes the executor with configuration.
func (e *SharedIterations) Init(ctx context.Context, config *Config) error {
	if err := e.init(TypeSharedIterations, config); err != nil {
		return err
	}
	e.remaining.Store(config.Iterations)
	return nil
}

// Run starts the executor and blocks until completion.
func (e *SharedIterations) Run(ctx context.Context, scheduler *load.VUScheduler, registry *metrics.Registry) error {
	next := func() bool {
		return e.remaining.Add(-1) >= 0
	}
	return e.runBounded(ctx, scheduler, registry, func() func() bool { return next })
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *SharedIterations) GetProgress() float64 {
	return e.countProgress(e.config.Iterations)
}

// GetStats returns executor statistics.
func (e *SharedIterations) GetStats() *Stats {
	stats := e.baseStats()
	stats.TargetVUs = e.config.VUs
	stats.TotalIterations = e.config.Iterations
	return stats
}

// runBounded runs VUs closed loops gated by the func newGate returns for
// each VU, until they all finish or maxDuration elapses.
func (b *base) runBounded(ctx context.Context, scheduler *load.VUScheduler, registry *metrics.Registry, newGate func() func() bool) error {
	stopCtx, finish, err := b.begin(ctx, scheduler, registry)
	if err != nil {
		return err
	}
	defer finish()

	runCtx, cancel := context.WithTimeout(stopCtx, b.config.maxDuration())
	defer cancel()
	iterCtx, interrupt := iterationContext(ctx)
	defer interrupt()

	pace := pacer(b.config.Pacing)
	for i := 0; i < b.config.VUs; i++ {
		vu, err := scheduler.SpawnVU()
		if err != nil {
			cancel()
			b.drain(interrupt)
			return spawnError(b.config.Name, err)
		}
		scheduler.RunVU(runCtx, iterCtx, vu, load.LoopOptions{
			Next:     newGate(),
			Pace:     pace,
			OnResult: b.countResult,
		})
	}

	finished := make(chan struct{})
	go func() {
		scheduler.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-runCtx.Done():
		scheduler.Logger().Info("maxDuration reached before all iterations completed",
			zap.String("scenario", b.config.Name),
			zap.Duration("maxDuration", b.config.maxDuration()),
			zap.Int64("iterations", b.iterations.Load()))
	}

	cancel()
	b.drain(interrupt)
	return nil
}

// countProgress returns completed/total clamped to [0, 1].
func (b *base) countProgress(total int64) float64 {
	if total <= 0 {
		return 1.0
	}
	progress := float64(b.iterations.Load()) / float64(total)
	if progress > 1.0 {
		progress = 1.0
	}
	return progress
}

// Ensure the iteration executors implement Executor
var (
	_ Executor = (*PerVUIterations)(nil)
	_ Executor = (*SharedIterations)(nil)
)
