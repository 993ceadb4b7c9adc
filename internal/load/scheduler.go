package load

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/stampede/internal/load/checks"
	"github.com/wesleyorama2/stampede/internal/load/metrics"
)

// SchedulerConfig describes what the VUs of one scenario run and where they
// record.
type SchedulerConfig struct {
	// Scenario name, copied into every Iteration
	Scenario string

	// Work is invoked once per iteration
	Work WorkUnit

	// Env is the run-scoped shared environment
	Env *Env

	Metrics *metrics.Registry
	Checks  *checks.Registry
	Logger  *zap.Logger

	// IterationTimeout is the hard per-iteration deadline (0 = none)
	IterationTimeout time.Duration

	// FailOnCheck marks an iteration failed when any of its checks fail
	FailOnCheck bool

	// MaxVUs caps the number of live VUs (0 = unlimited)
	MaxVUs int
}

// VUScheduler manages the lifecycle of Virtual Users for one scenario.
//
// It provides:
// - VU pool management (spawning/ stopping VUs)
// - Tracking of every goroutine driving a VU
// - Graceful drain coordination
//
// The scheduler is used by executors to control VU counts.
type VUScheduler struct {
	cfg SchedulerConfig

	vus   map[int]*VirtualUser
	vusMu sync.RWMutex

	nextVUID atomic.Int32
	peak     atomic.Int32
	closed   atomic.Bool

	wg sync.WaitGroup
}

// NewVUScheduler creates a scheduler for cfg.
func NewVUScheduler(cfg SchedulerConfig) (*VUScheduler, error) {
	if cfg.Work == nil {
		return nil, NewEngineError(PhaseInit, cfg.Scenario, fmt.Errorf("%w: no work unit", ErrInvalidWorkload))
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &VUScheduler{
		cfg: cfg,
		vus: make(map[int]*VirtualUser),
	}, nil
}

// Scenario returns the scenario name this scheduler serves.
func (s *VUScheduler) Scenario() string {
	return s.cfg.Scenario
}

// Logger returns the scheduler's logger.
func (s *VUScheduler) Logger() *zap.Logger {
	return s.cfg.Logger
}

// Metrics returns the registry iterations record into.
func (s *VUScheduler) Metrics() *metrics.Registry {
	return s.cfg.Metrics
}

// SpawnVU creates and registers a new Virtual User.
//
// The VU is not started; the caller drives it. Spawning fails with
// ErrSchedulerClosed after Close and with ErrWorkerAllocation when MaxVUs
// live VUs already exist.
func (s *VUScheduler) SpawnVU() (*VirtualUser, error) {
	if s.closed.Load() {
		return nil, ErrSchedulerClosed
	}

	s.vusMu.Lock()
	defer s.vusMu.Unlock()

	live := s.liveLocked()
	if s.cfg.MaxVUs > 0 && live >= s.cfg.MaxVUs {
		return nil, fmt.Errorf("%w: %d VUs already allocated", ErrWorkerAllocation, live)
	}

	id := int(s.nextVUID.Add(1))
	vu := NewVirtualUser(id, s.cfg)
	s.vus[id] = vu

	live++
	for {
		p := s.peak.Load()
		if int32(live) <= p || s.peak.CompareAndSwap(p, int32(live)) {
			break
		}
	}
	return vu, nil
}

func (s *VUScheduler) liveLocked() int {
	count := 0
	for _, vu := range s.vus {
		if vu.GetState() != VUStateStopped {
			count++
		}
	}
	return count
}

// GetActiveVUs returns all VUs that have not fully stopped.
func (s *VUScheduler) GetActiveVUs() []*VirtualUser {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()

	result := make([]*VirtualUser, 0, len(s.vus))
	for _, vu := range s.vus {
		if vu.GetState() != VUStateStopped {
			result = append(result, vu)
		}
	}
	return result
}

// GetActiveVUCount returns the count of non-stopped VUs, including VUs that
// were asked to stop but are still finishing an iteration.
func (s *VUScheduler) GetActiveVUCount() int {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()
	return s.liveLocked()
}

// PeakVUs returns the highest number of live VUs seen so far.
func (s *VUScheduler) PeakVUs() int {
	return int(s.peak.Load())
}

// StopVU requests a specific VU to stop.
func (s *VUScheduler) StopVU(id int) {
	s.vusMu.RLock()
	vu, exists := s.vus[id]
	s.vusMu.RUnlock()

	if exists {
		vu.RequestStop()
	}
}

// StopAllVUs requests all VUs to stop.
func (s *VUScheduler) StopAllVUs() {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()

	for _, vu := range s.vus {
		vu.RequestStop()
	}
}

// RemoveVU marks a VU stopped and forgets it.
func (s *VUScheduler) RemoveVU(id int) {
	s.vusMu.Lock()
	defer s.vusMu.Unlock()

	if vu, exists := s.vus[id]; exists {
		vu.MarkStopped()
		delete(s.vus, id)
	}
}

// Go runs fn on a goroutine tracked by Wait and Drain.
func (s *VUScheduler) Go(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// LoopOptions tune RunVU.
type LoopOptions struct {
	// Next gates every iteration; returning false ends the loop. Nil runs
	// until the VU is stopped or ctx is done.
	Next func() bool

	// Pace is called between iterations. It must return once ctx is done
	// or stop is closed.
	Pace func(ctx context.Context, stop <-chan struct{})

	// OnResult observes every completed iteration.
	OnResult func(IterationResult)
}

// RunVU starts a goroutine that runs vu in a closed loop.
//
// ctx is observed only between iterations: once it is done no new iteration
// starts. Iterations themselves run on iterCtx, so cancelling iterCtx
// interrupts the one in flight. The VU is removed when the loop exits.
func (s *VUScheduler) RunVU(ctx, iterCtx context.Context, vu *VirtualUser, opts LoopOptions) {
	s.Go(func() {
		defer s.RemoveVU(vu.ID)

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			if vu.Stopping() {
				return
			}
			if opts.Next != nil && !opts.Next() {
				return
			}

			result, err := vu.RunIteration(iterCtx)
			if err != nil {
				return
			}
			if opts.OnResult != nil {
				opts.OnResult(result)
			}
			if result.Interrupted || iterCtx.Err() != nil {
				return
			}

			if opts.Pace != nil {
				opts.Pace(ctx, vu.StopRequested())
			}
		}
	})
}

// Wait blocks until every goroutine started with Go or RunVU has returned.
func (s *VUScheduler) Wait() {
	s.wg.Wait()
}

// Drain waits up to grace for in-flight iterations, then calls interrupt and
// waits again until every goroutine has returned. It reports whether the grace
// period ran out.
func (s *VUScheduler) Drain(grace time.Duration, interrupt context.CancelFunc) bool {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-done:
		return false
	case <-timer.C:
	}

	s.cfg.Logger.Info("graceful stop elapsed, interrupting iterations",
		zap.String("scenario", s.cfg.Scenario),
		zap.Duration("gracefulStop", grace),
		zap.Int("activeVUs", s.GetActiveVUCount()))
	interrupt()
	<-done
	return true
}

// Close stops every VU and refuses further spawns. It does not wait; use
// Drain or Wait for that.
func (s *VUScheduler) Close() {
	s.closed.Store(true)
	s.StopAllVUs()
}
