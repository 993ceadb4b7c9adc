package executor_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wesleyorama2/stampede/internal/load"
	"github.com/wesleyorama2/stampede/internal/load/checks"
	"github.com/wesleyorama2/stampede/internal/load/metrics"
)

// newTestScheduler creates a scheduler running work, recording into a fresh registry.
func newTestScheduler(t *testing.T, work load.WorkUnit, maxVUs int) (*load.VUScheduler, *metrics.Registry) {
	t.Helper()
	reg := metrics.NewRegistry()
	s, err := load.NewVUScheduler(load.SchedulerConfig{
		Scenario: "test",
		Work:     work,
		Metrics:  reg,
		Checks:   checks.NewRegistry(),
		MaxVUs:   maxVUs,
	})
	if err != nil {
		t.Fatalf("NewVUScheduler() error = %v", err)
	}
	return s, reg
}

// sleepWork returns a work unit that sleeps for d, honouring cancellation.
func sleepWork(d time.Duration) load.WorkUnit {
	return load.WorkUnitFunc(func(ctx context.Context, it *load.Iteration) error {
		return it.Sleep(ctx, d)
	})
}

// concurrencyProbe tracks how many iterations run at once.
type concurrencyProbe struct {
	current atomic.Int64
	peak    atomic.Int64
	total   atomic.Int64
	hold    time.Duration
}

func (p *concurrencyProbe) Run(ctx context.Context, it *load.Iteration) error {
	n := p.current.Add(1)
	defer p.current.Add(-1)
	p.total.Add(1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	return it.Sleep(ctx, p.hold)
}

func summary(t *testing.T, reg *metrics.Registry, name string) *metrics.Summary {
	t.Helper()
	s, ok := reg.Snapshot().Get(name)
	if !ok {
		t.Fatalf("metric %s not recorded", name)
	}
	return s
}

// runWithTimeout runs fn and fails the test if it does not return within d.
func runWithTimeout(t *testing.T, d time.Duration, fn func() error) error {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- fn() }()
	select {
	case err := <-errCh:
		return err
	case <-time.After(d):
		t.Fatalf("did not return within %v", d)
		return nil
	}
}
