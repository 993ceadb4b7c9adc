package executor

import (
	"context"

	"github.com/wesleyorama2/stampede/internal/load"
	"github.com/wesleyorama2/stampede/internal/load/metrics"
	"github.com/wesleyorama2/stampede/internal/load/rate"
)

// ConstantArrivalRate maintains a fixed iteration rate (open model).
//
// Unlike VU-based executors where throughput depends on response time,
// arrival-rate executors schedule iterations at a constant rate regardless
// of how long each iteration takes. This models real-world scenarios where
// users arrive at a constant rate.
//
// Rate iterations start every TimeUnit on a fixed grid; over Duration the
// executor attempts exactly the grid points that fall before the end. When
// all maxVUs are busy a start is dropped rather than delayed.
//
// Use cases:
//   - Testing system behavior under constant load
//   - SLA validation (e.g., "system must handle 100 RPS")
//   - Capacity testing with predictable arrival patterns
//
// Example:
//
//	config:
//	  type: constant-arrival-rate
//	  rate: 100              # 100 iterations per second
//	  duration: 5m           # Run for 5 minutes
//	  preAllocatedVUs: 10    # Start with 10 VUs
//	  maxVUs: 50             # Scale up to 50 VUs if needed
type ConstantArrivalRate struct {
	arrival
}

// NewConstantArrivalRate creates a new constant arrival rate executor.
func NewConstantArrivalRate() *ConstantArrivalRate {
	return &ConstantArrivalRate{}
}

// Init initializes the executor with configuration.
func (e *ConstantArrivalRate) Init(ctx context.Context, config *Config) error {
	if err := e.init(TypeConstantArrivalRate, config); err != nil {
		return err
	}
	e.initPool()
	return nil
}

// Run starts the executor and blocks until completion.
func (e *ConstantArrivalRate) Run(ctx context.Context, scheduler *load.VUScheduler, registry *metrics.Registry) error {
	if e.config == nil {
		return e.run(ctx, scheduler, registry, nil)
	}
	schedule := rate.NewConstantSchedule(e.config.Rate, e.config.timeUnit(), e.config.Duration)
	return e.run(ctx, scheduler, registry, schedule)
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *ConstantArrivalRate) GetProgress() float64 {
	return e.timeProgress(e.config.Duration)
}

// GetStats returns executor statistics.
func (e *ConstantArrivalRate) GetStats() *Stats {
	stats := e.arrivalStats()
	stats.TargetRate = e.config.Rate
	return stats
}

// Ensure ConstantArrivalRate implements Executor
var _ Executor = (*ConstantArrivalRate)(nil)
