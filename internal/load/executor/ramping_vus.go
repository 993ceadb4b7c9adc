package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/stampede/internal/load"
	"github.com/wesleyorama2/stampede/internal/load/metrics"
)

// controllerInterval is how often RampingVUs recomputes its target.
const controllerInterval = 100 * time.Millisecond

// RampingVUs ramps VU count up and down according to stages.
//
// This executor smoothly interpolates VU counts between stages,
// avoiding step-wise VU changes that cause jarring throughput variations.
// VUs removed on the way down finish their current iteration first; until
// they do they still count against the target, so the number of live VUs
// never exceeds it.
//
// Use cases:
//   - Realistic traffic simulation (morning ramp-up, evening ramp-down)
//   - Finding the breaking point of a system
//   - Stress testing with gradual load increase
//
// Example stages:
//
//	stages:
//	  - duration: 30s
//	    target: 10     # Ramp from 0 to 10 VUs over 30s
//	  - duration: 2m
//	    target: 10     # Stay at 10 VUs for 2 minutes
//	  - duration: 30s
//	    target: 0      # Ramp down to 0 VUs over 30s
type RampingVUs struct {
	base

	targetVUs    atomic.Int32
	currentStage atomic.Int32

	// VUs that have not been asked to stop, oldest first
	vus   []*load.VirtualUser
	vusMu sync.Mutex
}

// NewRampingVUs creates a new ramping VUs executor.
func NewRampingVUs() *RampingVUs {
	return &RampingVUs{
		vus: make([]*load.VirtualUser, 0),
	}
}

// Init initializes the executor with configuration.
func (e *RampingVUs) Init(ctx context.Context, config *Config) error {
	return e.init(TypeRampingVUs, config)
}

// Run starts the executor and blocks until completion.
func (e *RampingVUs) Run(ctx context.Context, scheduler *load.VUScheduler, registry *metrics.Registry) error {
	stopCtx, finish, err := e.begin(ctx, scheduler, registry)
	if err != nil {
		return err
	}
	defer finish()

	runCtx, cancel := context.WithTimeout(stopCtx, e.config.TotalDuration())
	defer cancel()
	iterCtx, interrupt := iterationContext(ctx)
	defer interrupt()

	opts := load.LoopOptions{
		Pace:     pacer(e.config.Pacing),
		OnResult: e.countResult,
	}

	err = e.vuController(runCtx, iterCtx, opts)
	cancel()
	e.drain(interrupt)
	return err
}

// vuController adjusts VU count according to stages until ctx is done.
func (e *RampingVUs) vuController(ctx, iterCtx context.Context, opts load.LoopOptions) error {
	ticker := time.NewTicker(controllerInterval)
	defer ticker.Stop()

	for {
		target := e.calculateTargetVUs(e.elapsed())
		e.targetVUs.Store(int32(target))
		if err := e.adjustVUs(ctx, iterCtx, target, opts); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// calculateTargetVUs calculates the target VU count at elapsed.
func (e *RampingVUs) calculateTargetVUs(elapsed time.Duration) int {
	var stageStart time.Duration
	prevTarget := e.config.StartVUs

	for i, stage := range e.config.Stages {
		stageEnd := stageStart + stage.Duration

		if elapsed < stageEnd {
			e.currentStage.Store(int32(i))

			// Calculate progress within this stage (0.0 to 1.0)
			stageProgress := float64(elapsed-stageStart) / float64(stage.Duration)
			if stageProgress < 0 {
				stageProgress = 0
			}
			if stageProgress > 1 {
				stageProgress = 1
			}

			// Linear interpolation between previous and current target
			targetVUs := float64(prevTarget) + float64(stage.Target-prevTarget)*stageProgress
			return int(targetVUs + 0.5) // Round to nearest
		}

		prevTarget = stage.Target
		stageStart = stageEnd
	}

	// Past all stages - return last target
	if len(e.config.Stages) > 0 {
		return e.config.Stages[len(e.config.Stages)-1].Target
	}
	return 0
}

// adjustVUs moves the VU count towards target.
func (e *RampingVUs) adjustVUs(ctx, iterCtx context.Context, target int, opts load.LoopOptions) error {
	e.vusMu.Lock()
	defer e.vusMu.Unlock()

	// Forget VUs whose loop already exited.
	kept := e.vus[:0]
	for _, vu := range e.vus {
		if vu.GetState() != load.VUStateStopped {
			kept = append(kept, vu)
		}
	}
	e.vus = kept

	active := len(e.vus)
	switch {
	case target > active:
		// VUs still finishing after a stop request occupy a slot.
		live := e.scheduler.GetActiveVUCount()
		n := min(target-live, target-active)
		for i := 0; i < n; i++ {
			vu, err := e.scheduler.SpawnVU()
			if err != nil {
				return spawnError(e.config.Name, err)
			}
			e.vus = append(e.vus, vu)
			e.scheduler.RunVU(ctx, iterCtx, vu, opts)
		}
		if n > 0 {
			e.scheduler.Logger().Debug("scaled up",
				zap.String("scenario", e.config.Name),
				zap.Int("spawned", n),
				zap.Int("target", target))
		}

	case target < active:
		// Stop excess VUs (from the end)
		for i := active - 1; i >= target; i-- {
			e.vus[i].RequestStop()
		}
		e.vus = e.vus[:target]
	}
	return nil
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *RampingVUs) GetProgress() float64 {
	return e.timeProgress(e.config.TotalDuration())
}

// GetStats returns executor statistics.
func (e *RampingVUs) GetStats() *Stats {
	stats := e.baseStats()

	stageIdx := int(e.currentStage.Load())
	if stageIdx < len(e.config.Stages) {
		stats.CurrentStageName = e.config.Stages[stageIdx].Name
	}
	stats.TargetVUs = int(e.targetVUs.Load())
	stats.CurrentStage = stageIdx
	stats.TotalStages = len(e.config.Stages)
	return stats
}

// Ensure RampingVUs implements Executor
var _ Executor = (*RampingVUs)(nil)
