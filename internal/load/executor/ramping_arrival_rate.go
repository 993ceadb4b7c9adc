package executor

import (
	"context"

	"github.com/wesleyorama2/stampede/internal/load"
	"github.com/wesleyorama2/stampede/internal/load/metrics"
	"github.com/wesleyorama2/stampede/internal/load/rate"
)

// RampingArrivalRate ramps iteration rate up and down according to stages.
//
// Like ConstantArrivalRate, this is an open-model executor where iterations
// are scheduled at a target rate regardless of response time. The difference
// is that the rate changes over time according to defined stages.
//
// The rate starts at StartRate and moves linearly to each stage's target
// over the stage's duration. Start times are derived from the integral of
// that rate, so a ramp never bursts.
//
// Use cases:
//   - Simulating realistic traffic patterns (gradual load increase)
//   - Finding the breaking point of a system
//   - Testing auto-scaling behavior
//   - Gradual load test warm-up
//
// Example:
//
//	config:
//	  type: ramping-arrival-rate
//	  startRate: 50
//	  stages:
//	    - duration: 3m
//	      target: 50           # Stay at 50 RPS for 3 minutes
//	    - duration: 1m
//	      target: 100          # Ramp from 50 to 100 RPS over 1 minute
//	    - duration: 1m
//	      target: 0            # Ramp down from 100 to 0 RPS
//	  preAllocatedVUs: 10
//	  maxVUs: 100
type RampingArrivalRate struct {
	arrival
}

// NewRampingArrivalRate creates a new ramping arrival rate executor.
func NewRampingArrivalRate() *RampingArrivalRate {
	return &RampingArrivalRate{}
}

// Init initializes the executor with configuration.
func (e *RampingArrivalRate) Init(ctx context.Context, config *Config) error {
	if err := e.init(TypeRampingArrivalRate, config); err != nil {
		return err
	}
	e.initPool()
	return nil
}

// Run starts the executor and blocks until completion.
func (e *RampingArrivalRate) Run(ctx context.Context, scheduler *load.VUScheduler, registry *metrics.Registry) error {
	if e.config == nil {
		return e.run(ctx, scheduler, registry, nil)
	}
	stages := make([]rate.Stage, len(e.config.Stages))
	for i, st := range e.config.Stages {
		stages[i] = rate.Stage{Duration: st.Duration, Target: float64(st.Target)}
	}
	schedule := rate.NewRampingSchedule(e.config.StartRate, e.config.timeUnit(), stages)
	return e.run(ctx, scheduler, registry, schedule)
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *RampingArrivalRate) GetProgress() float64 {
	return e.timeProgress(e.config.TotalDuration())
}

// GetStats returns executor statistics.
func (e *RampingArrivalRate) GetStats() *Stats {
	stats := e.arrivalStats()

	elapsed := stats.Elapsed
	var stageStart int64
	stageIdx := len(e.config.Stages) - 1
	for i, st := range e.config.Stages {
		if int64(elapsed) < stageStart+int64(st.Duration) {
			stageIdx = i
			break
		}
		stageStart += int64(st.Duration)
	}
	if stageIdx >= 0 {
		stats.CurrentStageName = e.config.Stages[stageIdx].Name
		stats.TargetRate = float64(e.config.Stages[stageIdx].Target)
	}
	stats.CurrentStage = stageIdx
	stats.TotalStages = len(e.config.Stages)
	return stats
}

// Ensure RampingArrivalRate implements Executor
var _ Executor = (*RampingArrivalRate)(nil)
