package executor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/stampede/internal/load"
	"github.com/wesleyorama2/stampede/internal/load/metrics"
	"github.com/wesleyorama2/stampede/internal/load/rate"
)

// arrival is the open-model scheduler shared by the arrival-rate executors.
//
// Starts come from a rate.Schedule grid measured from the beginning of the
// run. Each start takes an idle VU from the pool, spawns one if fewer than
// maxVUs exist, or is dropped and counted in dropped_iterations. A start is
// never delayed waiting for a VU.
type arrival struct {
	base

	schedule   rate.Schedule
	currentVUs atomic.Int32
}

func (a *arrival) initPool() {
	if a.config.PreAllocatedVUs <= 0 {
		a.config.PreAllocatedVUs = 1
	}
	if a.config.MaxVUs < a.config.PreAllocatedVUs {
		a.config.MaxVUs = a.config.PreAllocatedVUs
	}
}

func (a *arrival) run(ctx context.Context, scheduler *load.VUScheduler, registry *metrics.Registry, schedule rate.Schedule) error {
	stopCtx, finish, err := a.begin(ctx, scheduler, registry)
	if err != nil {
		return err
	}
	defer finish()

	a.mu.Lock()
	a.schedule = schedule
	a.mu.Unlock()

	iterCtx, interrupt := iterationContext(ctx)
	defer interrupt()

	log := scheduler.Logger().With(zap.String("scenario", a.config.Name))

	pool := make(chan *load.VirtualUser, a.config.MaxVUs)
	for i := 0; i < a.config.PreAllocatedVUs; i++ {
		vu, err := scheduler.SpawnVU()
		if err != nil {
			a.drain(interrupt)
			return load.NewEngineError(load.PhaseRun, a.config.Name,
				fmt.Errorf("%w: preallocating VU %d of %d: %v", load.ErrWorkerAllocation, i+1, a.config.PreAllocatedVUs, err))
		}
		a.currentVUs.Add(1)
		pool <- vu
	}

	start := time.Now()
	a.mu.Lock()
	a.startTime = start
	a.mu.Unlock()

	runCtx, cancel := context.WithDeadline(stopCtx, start.Add(schedule.Duration()))
	defer cancel()

	log.Debug("arrival-rate started",
		zap.Int("preAllocatedVUs", a.config.PreAllocatedVUs),
		zap.Int("maxVUs", a.config.MaxVUs),
		zap.Duration("duration", schedule.Duration()))

	timer := time.NewTimer(0)
	<-timer.C
	defer timer.Stop()

schedule:
	for {
		offset, ok := schedule.Next()
		if !ok {
			break
		}

		if wait := time.Until(start.Add(offset)); wait > 0 {
			timer.Reset(wait)
			select {
			case <-stopCtx.Done():
				timer.Stop()
				break schedule
			case <-timer.C:
			}
		} else if stopCtx.Err() != nil {
			break schedule
		}

		vu := a.acquire(pool, log)
		if vu == nil {
			continue
		}
		scheduler.Go(func() {
			result, err := vu.RunIteration(iterCtx)
			if err == nil {
				a.countResult(result)
			}
			pool <- vu
		})
	}

	<-runCtx.Done()
	a.drain(interrupt)
	return nil
}

// acquire returns an idle VU, a fresh one while under maxVUs, or nil after
// recording a dropped iteration.
func (a *arrival) acquire(pool chan *load.VirtualUser, log *zap.Logger) *load.VirtualUser {
	select {
	case vu := <-pool:
		return vu
	default:
	}

	if int(a.currentVUs.Load()) < a.config.MaxVUs {
		vu, err := a.scheduler.SpawnVU()
		if err == nil {
			n := a.currentVUs.Add(1)
			log.Debug("pool grown", zap.Int32("vus", n), zap.Int("maxVUs", a.config.MaxVUs))
			return vu
		}
		log.Warn("failed to grow pool", zap.Error(err))
	}

	if a.dropped.Add(1) == 1 {
		log.Warn("insufficient VUs, dropping iterations",
			zap.Int("maxVUs", a.config.MaxVUs))
	}
	if a.registry != nil {
		a.registry.Add(metrics.DroppedIterations, 1)
	}
	return nil
}

func (a *arrival) currentRate() float64 {
	a.mu.RLock()
	s := a.schedule
	a.mu.RUnlock()
	if s == nil || !a.running.Load() {
		return 0
	}
	return s.RateAt(a.elapsed())
}

func (a *arrival) arrivalStats() *Stats {
	stats := a.baseStats()
	stats.TargetVUs = a.config.MaxVUs
	stats.CurrentRate = a.currentRate()
	return stats
}
