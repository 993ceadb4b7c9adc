package executor

import (
	"context"

	"go.uber.org/zap"

	"github.com/wesleyorama2/stampede/internal/load"
	"github.com/wesleyorama2/stampede/internal/load/metrics"
)

// ConstantVUs runs a fixed number of VUs for a specified duration.
//
// This is the simplest executor: spawn N VUs and let them run iterations
// until the duration expires. Each VU runs as fast as it can (closed model),
// optionally with pacing between iterations.
//
// Use cases:
//   - Basic load testing
//   - Determining max throughput for N concurrent users
//   - Simple soak testing
type ConstantVUs struct {
	base
}

// NewConstantVUs creates a new constant VUs executor.
func NewConstantVUs() *ConstantVUs {
	return &ConstantVUs{}
}

// Init initializes the executor with configuration.
func (e *ConstantVUs) Init(ctx context.Context, config *Config) error {
	return e.init(TypeConstantVUs, config)
}

// Run starts the executor and blocks until completion.
func (e *ConstantVUs) Run(ctx context.Context, scheduler *load.VUScheduler, registry *metrics.Registry) error {
	stopCtx, finish, err := e.begin(ctx, scheduler, registry)
	if err != nil {
		return err
	}
	defer finish()

	runCtx, cancel := context.WithTimeout(stopCtx, e.config.Duration)
	defer cancel()
	iterCtx, interrupt := iterationContext(ctx)
	defer interrupt()

	opts := load.LoopOptions{
		Pace:     pacer(e.config.Pacing),
		OnResult: e.countResult,
	}

	for i := 0; i < e.config.VUs; i++ {
		vu, err := scheduler.SpawnVU()
		if err != nil {
			cancel()
			e.drain(interrupt)
			return spawnError(e.config.Name, err)
		}
		scheduler.RunVU(runCtx, iterCtx, vu, opts)
	}

	scheduler.Logger().Debug("constant-vus started",
		zap.String("scenario", e.config.Name),
		zap.Int("vus", e.config.VUs),
		zap.Duration("duration", e.config.Duration))

	<-runCtx.Done()
	e.drain(interrupt)
	return nil
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *ConstantVUs) GetProgress() float64 {
	return e.timeProgress(e.config.Duration)
}

// GetStats returns executor statistics.
func (e *ConstantVUs) GetStats() *Stats {
	stats := e.baseStats()
	stats.TargetVUs = e.config.VUs
	return stats
}

// Ensure ConstantVUs implements Executor
var _ Executor = (*ConstantVUs)(nil)
