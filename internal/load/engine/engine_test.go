package engine_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/stampede/internal/load"
	"github.com/wesleyorama2/stampede/internal/load/config"
	"github.com/wesleyorama2/stampede/internal/load/engine"
	"github.com/wesleyorama2/stampede/internal/load/executor"
	"github.com/wesleyorama2/stampede/internal/load/metrics"
	"github.com/wesleyorama2/stampede/internal/load/threshold"
)

// failFirst fails the first n iterations it runs and succeeds afterwards.
func failFirst(n int64) load.WorkUnit {
	var count atomic.Int64
	return load.WorkUnitFunc(func(ctx context.Context, it *load.Iteration) error {
		if count.Add(1) <= n {
			return errors.New("boom")
		}
		return nil
	})
}

func sharedPlan(work load.WorkUnit, iterations int64, thresholds map[string][]string) engine.Plan {
	return engine.Plan{
		Name: "test",
		Scenarios: []engine.ScenarioPlan{{
			Executor: &executor.Config{
				Name:       "shared",
				Type:       executor.TypeSharedIterations,
				VUs:        4,
				Iterations: iterations,
			},
			Work: work,
		}},
		Thresholds: thresholds,
	}
}

func runPlan(t *testing.T, plan engine.Plan) (*engine.RunSummary, error) {
	t.Helper()
	eng, err := engine.New(plan)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return eng.Run(ctx)
}

func TestEngine_FailureRateIsExact(t *testing.T) {
	summary, err := runPlan(t, sharedPlan(failFirst(7), 50, nil))
	require.NoError(t, err)

	failed, ok := summary.Metrics.Get(metrics.IterationFailed)
	require.True(t, ok)
	assert.Equal(t, int64(50), failed.Count)
	assert.Equal(t, int64(7), failed.Passes)
	assert.InDelta(t, 7.0/50.0, failed.Rate, 1e-9)

	iterations, ok := summary.Metrics.Get(metrics.Iterations)
	require.True(t, ok)
	assert.Equal(t, 50.0, iterations.Sum)

	assert.True(t, summary.Passed)
	assert.Equal(t, engine.ExitOK, summary.ExitCode())
	assert.Equal(t, int64(50), summary.Scenarios["shared"].Iterations)
}

func TestEngine_AlwaysSucceedingWorkPasses(t *testing.T) {
	summary, err := runPlan(t, sharedPlan(failFirst(0), 20, map[string][]string{
		metrics.IterationFailed: {"rate<0.01"},
		metrics.Iterations:      {"count==20"},
	}))
	require.NoError(t, err)

	require.Len(t, summary.Thresholds, 2)
	for _, r := range summary.Thresholds {
		assert.Equal(t, threshold.StatusPassed, r.Status, "%s %s: %s", r.Metric, r.Expression, r.Message)
	}
	assert.True(t, summary.Passed)
	assert.Equal(t, engine.ExitOK, summary.ExitCode())
}

func TestEngine_UnfiredCounterIsIndeterminate(t *testing.T) {
	summary, err := runPlan(t, sharedPlan(failFirst(0), 10, map[string][]string{
		metrics.DroppedIterations: {"count<1"},
	}))
	require.NoError(t, err)

	require.Len(t, summary.Thresholds, 1)
	assert.Equal(t, threshold.StatusIndeterminate, summary.Thresholds[0].Status)
	assert.False(t, summary.Passed)
	assert.Equal(t, engine.ExitThresholdsFailed, summary.ExitCode())
}

func TestEngine_FailedThresholdExits99(t *testing.T) {
	summary, err := runPlan(t, sharedPlan(failFirst(2), 100, map[string][]string{
		metrics.IterationFailed: {"rate<0.01"},
	}))
	require.NoError(t, err)

	assert.False(t, summary.Passed)
	assert.Equal(t, engine.ExitThresholdsFailed, summary.ExitCode())
	failed := summary.FailedThresholds()
	require.Len(t, failed, 1)
	assert.Equal(t, threshold.StatusFailed, failed[0].Status)
	assert.InDelta(t, 0.02, failed[0].Actual, 1e-9)
}

func TestEngine_EmptyTrendIsIndeterminate(t *testing.T) {
	summary, err := runPlan(t, sharedPlan(failFirst(0), 5, map[string][]string{
		metrics.HTTPReqDuration: {"p(95)<500"},
	}))
	require.NoError(t, err)

	require.Len(t, summary.Thresholds, 1)
	assert.Equal(t, threshold.StatusIndeterminate, summary.Thresholds[0].Status)
	assert.False(t, summary.Passed)
	assert.Equal(t, engine.ExitThresholdsFailed, summary.ExitCode())
}

func TestNew_UnknownMetricIsUnresolved(t *testing.T) {
	_, err := engine.New(sharedPlan(failFirst(0), 5, map[string][]string{
		"my_custom_latency": {"p(95)<500"},
	}))
	require.Error(t, err)

	var engErr *load.EngineError
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, load.PhaseValidate, engErr.Phase)
	assert.ErrorIs(t, err, load.ErrUnresolvedReference)
}

func TestNew_UnknownCheckIsUnresolved(t *testing.T) {
	_, err := engine.New(sharedPlan(failFirst(0), 5, map[string][]string{
		"checks{check:nope}": {"rate==1.0"},
	}))
	assert.ErrorIs(t, err, load.ErrUnresolvedReference)
}

func TestNew_InvalidPlans(t *testing.T) {
	tests := []struct {
		name string
		plan engine.Plan
	}{
		{"no scenarios", engine.Plan{}},
		{"nil work", sharedPlan(nil, 5, nil)},
		{"bad expression", sharedPlan(failFirst(0), 5, map[string][]string{metrics.Iterations: {"count=="}})},
		{"trend stat on rate", sharedPlan(failFirst(0), 5, map[string][]string{metrics.IterationFailed: {"p(95)<1"}})},
		{"reserved metric kind", func() engine.Plan {
			p := sharedPlan(failFirst(0), 5, nil)
			p.Metrics = map[string]metrics.Kind{metrics.HTTPReqs: metrics.KindTrend}
			return p
		}()},
		{"bad summary stat", func() engine.Plan {
			p := sharedPlan(failFirst(0), 5, nil)
			p.SummaryTrendStats = []string{"rate"}
			return p
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.New(tt.plan)
			require.Error(t, err)
			assert.True(t, load.IsEngineError(err))
			assert.True(t,
				errors.Is(err, load.ErrInvalidWorkload) || errors.Is(err, load.ErrUnresolvedReference),
				"error %v wraps neither sentinel", err)
		})
	}
}

func TestNew_CustomMetricResolves(t *testing.T) {
	plan := sharedPlan(load.WorkUnitFunc(func(ctx context.Context, it *load.Iteration) error {
		it.Observe("hotel_lookup", 12)
		return nil
	}), 10, map[string][]string{
		"hotel_lookup": {"max<100"},
	})
	plan.Metrics = map[string]metrics.Kind{"hotel_lookup": metrics.KindTrend}

	summary, err := runPlan(t, plan)
	require.NoError(t, err)
	assert.True(t, summary.Passed)
}

func TestEngine_StartTimeSkippedOnCancel(t *testing.T) {
	plan := sharedPlan(failFirst(0), 4, nil)
	plan.Scenarios = append(plan.Scenarios, engine.ScenarioPlan{
		Executor: &executor.Config{
			Name:       "late",
			Type:       executor.TypeSharedIterations,
			VUs:        1,
			Iterations: 1,
		},
		Work:      failFirst(0),
		StartTime: time.Hour,
	})

	eng, err := engine.New(plan)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	summary, err := eng.Run(ctx)
	require.NoError(t, err)

	assert.True(t, summary.Scenarios["late"].Skipped)
	assert.Zero(t, summary.Scenarios["late"].Iterations)
	assert.False(t, summary.Scenarios["shared"].Skipped)
}

func TestEngine_RunsOnce(t *testing.T) {
	eng, err := engine.New(sharedPlan(failFirst(0), 1, nil))
	require.NoError(t, err)

	_, err = eng.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, eng.IsRunning())

	_, err = eng.Run(context.Background())
	assert.Error(t, err)
}

func TestEngine_ArrivalRatePreallocatesPool(t *testing.T) {
	plan := engine.Plan{
		Name: "alloc",
		Scenarios: []engine.ScenarioPlan{{
			Executor: &executor.Config{
				Name:            "rate",
				Type:            executor.TypeConstantArrivalRate,
				Rate:            10,
				TimeUnit:        time.Second,
				Duration:        time.Second,
				PreAllocatedVUs: 5,
				MaxVUs:          5,
			},
			Work: failFirst(0),
		}},
	}
	summary, err := runPlan(t, plan)
	require.NoError(t, err)
	assert.Equal(t, 5, summary.Scenarios["rate"].PeakVUs)
}

func hotelServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/ready":
			_, _ = io.WriteString(w, "ok")
		case r.URL.Path == "/hotels" && r.Method == http.MethodPost:
			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, `{"id":"h2"}`)
		case r.URL.Path == "/hotels":
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"hotels":[{"id":"h1","city":"Tokyo"}]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

const soakConfig = `
name: soak
scenarios:
  soak:
    executor: per-vu-iterations
    vus: 3
    iterations: 4
    requests:
      - method: GET
        url: "{{baseUrl}}/ready"
        checks:
          - name: service is ready
            type: status
            value: "200"
  create:
    executor: shared-iterations
    vus: 2
    iterations: 6
    requests:
      - method: post
        url: "{{baseUrl}}/hotels"
        json:
          name: "Hotel {{$randHex}}"
          city: Tokyo
        checks:
          - name: hotel created
            type: status
            value: "201"
thresholds:
  http_req_failed: ["rate<0.01"]
  http_req_duration: ["p(95)<5000"]
  "checks{check:service is ready}": ["rate==1.0"]
  "checks{check:hotel created}": ["rate==1.0"]
  checks: ["rate>0.95"]
`

func TestFromConfig_EndToEnd(t *testing.T) {
	srv := hotelServer(t)

	cfg, err := config.ParseConfig([]byte(soakConfig), "soak.yaml")
	require.NoError(t, err)
	config.ApplyEnv(cfg, map[string]string{config.BaseURLEnv: srv.URL}, nil)
	config.ApplyDefaults(cfg)

	plan, err := engine.FromConfig(cfg)
	require.NoError(t, err)
	require.Len(t, plan.Scenarios, 2)
	assert.Equal(t, "create", plan.Scenarios[0].Name())
	assert.Equal(t, "soak", plan.Scenarios[1].Name())
	assert.Equal(t, srv.URL, plan.BaseURL)

	summary, err := runPlan(t, plan)
	require.NoError(t, err)

	reqs, ok := summary.Metrics.Get(metrics.HTTPReqs)
	require.True(t, ok)
	assert.Equal(t, 18.0, reqs.Sum)

	require.Len(t, summary.Checks, 2)
	for _, c := range summary.Checks {
		assert.Zero(t, c.Fails, c.Name)
	}
	for _, r := range summary.Thresholds {
		assert.True(t, r.Passed(), "%s %s: %s", r.Metric, r.Expression, r.Message)
	}
	assert.Equal(t, engine.ExitOK, summary.ExitCode())
}

func TestFromConfig_Invalid(t *testing.T) {
	cfg, err := config.ParseConfig([]byte(`
scenarios:
  bad:
    executor: constant-vus
    vus: 1
    duration: 1s
    startTime: soon
    requests:
      - url: http://localhost/
`), "bad.yaml")
	require.NoError(t, err)
	config.ApplyDefaults(cfg)

	_, err = engine.FromConfig(cfg)
	require.Error(t, err)
	assert.True(t, load.IsEngineError(err))
	assert.ErrorIs(t, err, load.ErrInvalidWorkload)
}
