package load

import (
	"errors"
	"fmt"
)

// Sentinel errors for engine-fatal conditions. They are always delivered
// wrapped in an *EngineError.
var (
	// ErrInvalidWorkload reports a workload definition that cannot run.
	ErrInvalidWorkload = errors.New("invalid workload")

	// ErrUnresolvedReference reports a threshold naming a metric or check
	// that is neither engine-emitted nor declared by the scenario.
	ErrUnresolvedReference = errors.New("unresolved reference")

	// ErrWorkerAllocation reports a failure to allocate the minimum worker pool.
	ErrWorkerAllocation = errors.New("worker allocation failed")

	// ErrSchedulerClosed is returned when spawning on a closed scheduler.
	ErrSchedulerClosed = errors.New("scheduler is closed")
)

// Errors that classify an iteration. They end up in IterationResult.Err and
// never abort a run.
var (
	// ErrIterationTimeout marks an iteration aborted by the per-iteration timeout.
	ErrIterationTimeout = errors.New("iteration timed out")

	// ErrIterationInterrupted marks an iteration cancelled once the graceful
	// stop window elapsed.
	ErrIterationInterrupted = errors.New("iteration interrupted")

	// ErrChecksFailed marks an iteration failed because one of its checks failed.
	ErrChecksFailed = errors.New("checks failed")

	// ErrVUStopped is returned by RunIteration on a VU asked to stop.
	ErrVUStopped = errors.New("virtual user is stopping")
)

// Phase names the stage of a run an engine error happened in.
type Phase string

const (
	PhaseValidate Phase = "validate"
	PhaseInit     Phase = "init"
	PhaseRun      Phase = "run"
)

// EngineError is a structural failure that aborts a run. It is reported to
// the caller separately from the pass/fail verdict.
type EngineError struct {
	Phase    Phase
	Scenario string
	Err      error
}

// NewEngineError wraps err as an engine failure.
func NewEngineError(phase Phase, scenario string, err error) *EngineError {
	return &EngineError{Phase: phase, Scenario: scenario, Err: err}
}

func (e *EngineError) Error() string {
	if e.Scenario != "" {
		return fmt.Sprintf("engine %s error in scenario %s: %v", e.Phase, e.Scenario, e.Err)
	}
	return fmt.Sprintf("engine %s error: %v", e.Phase, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// IsEngineError reports whether err is or wraps an *EngineError.
func IsEngineError(err error) bool {
	var ee *EngineError
	return errors.As(err, &ee)
}
