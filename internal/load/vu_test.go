package load_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/wesleyorama2/stampede/internal/load"
	"github.com/wesleyorama2/stampede/internal/load/checks"
	"github.com/wesleyorama2/stampede/internal/load/metrics"
)

// Helper function to create a VU config around a work function
func testConfig(work load.WorkUnitFunc) (load.SchedulerConfig, *metrics.Registry, *checks.Registry) {
	reg := metrics.NewRegistry()
	chk := checks.NewRegistry()
	return load.SchedulerConfig{
		Scenario: "test-scenario",
		Work:     work,
		Env:      load.NewEnv(nil, "http://example.test", map[string]string{"token": "abc"}),
		Metrics:  reg,
		Checks:   chk,
	}, reg, chk
}

func noop(ctx context.Context, it *load.Iteration) error { return nil }

func TestNewVirtualUser(t *testing.T) {
	cfg, _, _ := testConfig(noop)
	vu := load.NewVirtualUser(1, cfg)

	if vu.ID != 1 {
		t.Errorf("VU ID = %d, want 1", vu.ID)
	}
	if vu.GetState() != load.VUStateIdle {
		t.Errorf("Initial VU state = %v, want %v", vu.GetState(), load.VUStateIdle)
	}
	if vu.GetIteration() != 0 {
		t.Errorf("Initial iteration = %d, want 0", vu.GetIteration())
	}
}

func TestVUState_String(t *testing.T) {
	tests := []struct {
		state load.VUState
		want  string
	}{
		{load.VUStateIdle, "idle"},
		{load.VUStateRunning, "running"},
		{load.VUStateStopping, "stopping"},
		{load.VUStateStopped, "stopped"},
		{load.VUState(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("VUState.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVirtualUser_RunIteration_Success(t *testing.T) {
	var seen *load.Iteration
	cfg, reg, _ := testConfig(func(ctx context.Context, it *load.Iteration) error {
		seen = it
		return nil
	})
	vu := load.NewVirtualUser(7, cfg)

	result, err := vu.RunIteration(context.Background())
	if err != nil {
		t.Fatalf("RunIteration() error = %v", err)
	}
	if !result.Succeeded || result.Err != nil {
		t.Errorf("result = %+v, want success", result)
	}
	if result.VU != 7 || result.Iteration != 1 {
		t.Errorf("result VU/Iteration = %d/%d, want 7/1", result.VU, result.Iteration)
	}
	if seen.Scenario != "test-scenario" || seen.Number != 1 {
		t.Errorf("iteration context = %+v", seen)
	}
	if vu.GetState() != load.VUStateIdle {
		t.Errorf("state after iteration = %v, want idle", vu.GetState())
	}

	snap := reg.Snapshot()
	if s, _ := snap.Get(metrics.Iterations); s == nil || s.Sum != 1 {
		t.Errorf("iterations = %+v, want 1", s)
	}
	if s, _ := snap.Get(metrics.IterationDuration); s == nil || s.Count != 1 {
		t.Errorf("iteration_duration count = %+v, want 1", s)
	}
	if s, _ := snap.Get(metrics.IterationFailed); s == nil || s.Rate != 0 {
		t.Errorf("iteration_failed = %+v, want rate 0", s)
	}
}

func TestVirtualUser_RunIteration_ErrorAndPanic(t *testing.T) {
	calls := 0
	cfg, reg, _ := testConfig(func(ctx context.Context, it *load.Iteration) error {
		calls++
		if calls == 1 {
			return errors.New("boom")
		}
		panic("kaboom")
	})
	vu := load.NewVirtualUser(1, cfg)

	r1, _ := vu.RunIteration(context.Background())
	if r1.Succeeded || r1.Err == nil {
		t.Errorf("first iteration should fail, got %+v", r1)
	}

	r2, err := vu.RunIteration(context.Background())
	if err != nil {
		t.Fatalf("panic leaked out of RunIteration: %v", err)
	}
	if r2.Succeeded || r2.Err == nil {
		t.Errorf("panicking iteration should fail, got %+v", r2)
	}

	s, _ := reg.Snapshot().Get(metrics.IterationFailed)
	if s.Passes != 2 || s.Rate != 1 {
		t.Errorf("iteration_failed = %+v, want 2/2", s)
	}
}

func TestVirtualUser_RunIteration_Timeout(t *testing.T) {
	cfg, reg, _ := testConfig(func(ctx context.Context, it *load.Iteration) error {
		<-ctx.Done()
		return ctx.Err()
	})
	cfg.IterationTimeout = 20 * time.Millisecond
	vu := load.NewVirtualUser(1, cfg)

	result, _ := vu.RunIteration(context.Background())
	if !result.TimedOut {
		t.Errorf("TimedOut = false, want true")
	}
	if !errors.Is(result.Err, load.ErrIterationTimeout) {
		t.Errorf("Err = %v, want ErrIterationTimeout", result.Err)
	}

	s, _ := reg.Snapshot().Get(metrics.IterationTimeouts)
	if s == nil || s.Sum != 1 {
		t.Errorf("iteration_timeouts = %+v, want 1", s)
	}
}

func TestVirtualUser_RunIteration_Interrupted(t *testing.T) {
	cfg, _, _ := testConfig(func(ctx context.Context, it *load.Iteration) error {
		<-ctx.Done()
		return ctx.Err()
	})
	vu := load.NewVirtualUser(1, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	result, _ := vu.RunIteration(ctx)
	if !result.Interrupted {
		t.Errorf("Interrupted = false, want true")
	}
	if !errors.Is(result.Err, load.ErrIterationInterrupted) {
		t.Errorf("Err = %v, want ErrIterationInterrupted", result.Err)
	}
}

func TestVirtualUser_Checks(t *testing.T) {
	work := func(ctx context.Context, it *load.Iteration) error {
		it.Check("always", true)
		it.Check("never", false)
		return nil
	}

	t.Run("checks do not fail iteration by default", func(t *testing.T) {
		cfg, reg, chk := testConfig(work)
		vu := load.NewVirtualUser(1, cfg)

		result, _ := vu.RunIteration(context.Background())
		if !result.Succeeded {
			t.Errorf("iteration failed: %v", result.Err)
		}
		if rate, _ := chk.Rate("never"); rate != 0 {
			t.Errorf("never rate = %v, want 0", rate)
		}
		if s, _ := reg.Snapshot().Get(metrics.Checks); s.Rate != 0.5 {
			t.Errorf("checks rate = %v, want 0.5", s.Rate)
		}
	})

	t.Run("fail on check", func(t *testing.T) {
		cfg, _, _ := testConfig(work)
		cfg.FailOnCheck = true
		vu := load.NewVirtualUser(1, cfg)

		result, _ := vu.RunIteration(context.Background())
		if !errors.Is(result.Err, load.ErrChecksFailed) {
			t.Errorf("Err = %v, want ErrChecksFailed", result.Err)
		}
	})
}

func TestVirtualUser_Variables(t *testing.T) {
	cfg, _, _ := testConfig(func(ctx context.Context, it *load.Iteration) error {
		if it.Number == 1 {
			if v, ok := it.Var("token"); !ok || v != "abc" {
				t.Errorf("Var(token) = %q, %v", v, ok)
			}
			it.SetVar("token", "from-response")
			return nil
		}
		if v, _ := it.Var("token"); v != "from-response" {
			t.Errorf("second iteration Var(token) = %q, want from-response", v)
		}
		return nil
	})
	vu := load.NewVirtualUser(1, cfg)

	vu.RunIteration(context.Background())
	vu.RunIteration(context.Background())

	if v, ok := vu.GetData("token"); !ok || v != "from-response" {
		t.Errorf("GetData(token) = %q, %v, want from-response", v, ok)
	}
}

func TestVirtualUser_RequestStop(t *testing.T) {
	cfg, _, _ := testConfig(noop)
	vu := load.NewVirtualUser(1, cfg)

	vu.RequestStop()
	vu.RequestStop()

	if vu.GetState() != load.VUStateStopping {
		t.Errorf("state = %v, want stopping", vu.GetState())
	}
	select {
	case <-vu.StopRequested():
	default:
		t.Error("StopRequested channel not closed")
	}

	if _, err := vu.RunIteration(context.Background()); !errors.Is(err, load.ErrVUStopped) {
		t.Errorf("RunIteration() on stopping VU error = %v, want ErrVUStopped", err)
	}

	vu.MarkStopped()
	if vu.GetState() != load.VUStateStopped {
		t.Errorf("state after MarkStopped = %v, want stopped", vu.GetState())
	}
}

func TestVirtualUser_StopDuringIteration(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	cfg, _, _ := testConfig(func(ctx context.Context, it *load.Iteration) error {
		close(started)
		<-release
		return nil
	})
	vu := load.NewVirtualUser(1, cfg)

	var wg sync.WaitGroup
	var result load.IterationResult
	wg.Add(1)
	go func() {
		defer wg.Done()
		result, _ = vu.RunIteration(context.Background())
	}()

	<-started
	vu.RequestStop()
	close(release)
	wg.Wait()

	if !result.Succeeded {
		t.Errorf("in-flight iteration should complete, got %v", result.Err)
	}
	if vu.GetState() != load.VUStateStopping {
		t.Errorf("state = %v, want stopping", vu.GetState())
	}
}
