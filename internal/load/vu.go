package load

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/stampede/internal/load/metrics"
)

// VUState represents the lifecycle state of a Virtual User.
type VUState int32

const (
	// VUStateIdle indicates the VU is ready but not currently running.
	VUStateIdle VUState = iota
	// VUStateRunning indicates the VU is running an iteration.
	VUStateRunning
	// VUStateStopping indicates the VU has been asked to stop after its
	// current iteration.
	VUStateStopping
	// VUStateStopped indicates the VU has fully stopped.
	VUStateStopped
)

func (s VUState) String() string {
	switch s {
	case VUStateIdle:
		return "idle"
	case VUStateRunning:
		return "running"
	case VUStateStopping:
		return "stopping"
	case VUStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// VirtualUser is one simulated user. It runs iterations of the scenario's
// WorkUnit one at a time.
//
// Each VU has its own:
// - Variable scope (for extracted values and state)
// - Iteration counter
// - Lifecycle state
//
// VUs are created by the VUScheduler; executors decide when they iterate.
type VirtualUser struct {
	// Unique identifier for this VU within its scenario
	ID int

	cfg SchedulerConfig

	// Lifecycle state (atomic for lock-free reads)
	state atomic.Int32

	stopCh   chan struct{}
	stopOnce sync.Once

	iteration atomic.Int64

	// Per-VU variable scope
	data   map[string]string
	dataMu sync.RWMutex
}

// NewVirtualUser creates a Virtual User running cfg.Work.
func NewVirtualUser(id int, cfg SchedulerConfig) *VirtualUser {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &VirtualUser{
		ID:     id,
		cfg:    cfg,
		stopCh: make(chan struct{}),
		data:   make(map[string]string),
	}
}

// GetState returns the current VU state.
func (vu *VirtualUser) GetState() VUState {
	return VUState(vu.state.Load())
}

// GetIteration returns the number of iterations started by this VU.
func (vu *VirtualUser) GetIteration() int64 {
	return vu.iteration.Load()
}

// Stopping reports whether the VU was asked to stop or has stopped.
func (vu *VirtualUser) Stopping() bool {
	s := vu.GetState()
	return s == VUStateStopping || s == VUStateStopped
}

// RunIteration runs the WorkUnit once and records the engine metrics for it.
//
// The returned error is non-nil only when the VU refused to start
// (ErrVUStopped); the outcome of the work itself is in the result. ctx is the
// iteration context: cancelling it interrupts the work in flight. A panic in
// the WorkUnit is recovered and reported as a failed iteration.
func (vu *VirtualUser) RunIteration(ctx context.Context) (IterationResult, error) {
	if !vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateRunning)) {
		return IterationResult{VU: vu.ID}, fmt.Errorf("VU %d: %w", vu.ID, ErrVUStopped)
	}
	defer vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateIdle))

	n := vu.iteration.Add(1)

	iterCtx := ctx
	if vu.cfg.IterationTimeout > 0 {
		var cancel context.CancelFunc
		iterCtx, cancel = context.WithTimeout(ctx, vu.cfg.IterationTimeout)
		defer cancel()
	}

	it := &Iteration{
		VU:       vu.ID,
		Number:   n,
		Scenario: vu.cfg.Scenario,
		Env:      vu.cfg.Env,
		vu:       vu,
		metrics:  vu.cfg.Metrics,
		checks:   vu.cfg.Checks,
	}

	result := IterationResult{VU: vu.ID, Iteration: n, Start: time.Now()}
	err := vu.invoke(iterCtx, it)
	result.End = time.Now()
	result.Duration = result.End.Sub(result.Start)

	switch {
	case err != nil && ctx.Err() != nil:
		result.Interrupted = true
		err = fmt.Errorf("%w: %v", ErrIterationInterrupted, err)
	case vu.cfg.IterationTimeout > 0 && errors.Is(iterCtx.Err(), context.DeadlineExceeded):
		result.TimedOut = true
		err = fmt.Errorf("%w after %v", ErrIterationTimeout, vu.cfg.IterationTimeout)
	case err == nil && vu.cfg.FailOnCheck && it.failedChecks > 0:
		err = fmt.Errorf("%w: %d failed", ErrChecksFailed, it.failedChecks)
	}
	result.Err = err
	result.Succeeded = err == nil

	vu.record(result)
	return result, nil
}

func (vu *VirtualUser) invoke(ctx context.Context, it *Iteration) (err error) {
	defer func() {
		if r := recover(); r != nil {
			vu.cfg.Logger.Warn("iteration panicked",
				zap.String("scenario", vu.cfg.Scenario),
				zap.Int("vu", vu.ID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("iteration panicked: %v", r)
		}
	}()
	return vu.cfg.Work.Run(ctx, it)
}

func (vu *VirtualUser) record(result IterationResult) {
	m := vu.cfg.Metrics
	if m == nil {
		return
	}
	m.Add(metrics.Iterations, 1)
	m.ObserveDuration(metrics.IterationDuration, result.Duration)
	m.Mark(metrics.IterationFailed, !result.Succeeded)
	if result.TimedOut {
		m.Add(metrics.IterationTimeouts, 1)
	}
}

// RequestStop signals the VU to stop after completing the current iteration.
func (vu *VirtualUser) RequestStop() {
	for {
		cur := vu.state.Load()
		if VUState(cur) == VUStateStopping || VUState(cur) == VUStateStopped {
			break
		}
		if vu.state.CompareAndSwap(cur, int32(VUStateStopping)) {
			break
		}
	}
	vu.stopOnce.Do(func() { close(vu.stopCh) })
}

// StopRequested is closed once RequestStop has been called. Waits between
// iterations select on it so a VU being scaled down leaves them early.
func (vu *VirtualUser) StopRequested() <-chan struct{} {
	return vu.stopCh
}

// MarkStopped marks the VU as fully stopped.
// Should be called by the goroutine driving the VU when it exits.
func (vu *VirtualUser) MarkStopped() {
	vu.state.Store(int32(VUStateStopped))
}

// SetData stores a value in the VU's variable scope.
func (vu *VirtualUser) SetData(key, value string) {
	vu.dataMu.Lock()
	defer vu.dataMu.Unlock()
	vu.data[key] = value
}

// GetData retrieves a value from the VU's variable scope.
func (vu *VirtualUser) GetData(key string) (string, bool) {
	vu.dataMu.RLock()
	defer vu.dataMu.RUnlock()
	val, ok := vu.data[key]
	return val, ok
}
