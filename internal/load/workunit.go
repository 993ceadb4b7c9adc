// Package load is the traffic-generation core: the unit of work an iteration
// runs, the virtual users that run it, and the scheduler executors use to
// manage them.
//
// A run is assembled by the engine package. Executors (package executor)
// decide when iterations start; each start goes through
// VirtualUser.RunIteration, which times the WorkUnit, classifies the outcome
// and records the engine's own metrics.
package load

import (
	"context"
	"time"
)

// WorkUnit is one iteration of user-defined work: issue requests, run checks.
//
// Run must be safe to call from many goroutines at once; per-iteration state
// belongs in the Iteration. A non-nil error marks the iteration failed, it
// never stops other iterations. Run should honour ctx, which is cancelled when
// the iteration exceeds its hard timeout or the graceful stop window ends.
type WorkUnit interface {
	Run(ctx context.Context, it *Iteration) error
}

// WorkUnitFunc adapts a function to the WorkUnit interface.
type WorkUnitFunc func(ctx context.Context, it *Iteration) error

// Run calls f(ctx, it).
func (f WorkUnitFunc) Run(ctx context.Context, it *Iteration) error {
	return f(ctx, it)
}

// IterationResult is the outcome of one WorkUnit invocation.
type IterationResult struct {
	VU          int
	Iteration   int64
	Start       time.Time
	End         time.Time
	Duration    time.Duration
	Succeeded   bool
	Err         error
	TimedOut    bool
	Interrupted bool
}
