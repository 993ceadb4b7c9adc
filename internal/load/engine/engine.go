// Package engine provides the orchestrator of a load test run.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wesleyorama2/stampede/internal/load"
	"github.com/wesleyorama2/stampede/internal/load/checks"
	"github.com/wesleyorama2/stampede/internal/load/executor"
	"github.com/wesleyorama2/stampede/internal/load/metrics"
	"github.com/wesleyorama2/stampede/internal/load/threshold"
)

// ScenarioPlan is one workload of a run: an executor configuration and the
// work each of its iterations performs.
type ScenarioPlan struct {
	Executor *executor.Config
	Work     load.WorkUnit

	// StartTime delays the scenario from the start of the run
	StartTime time.Duration

	// IterationTimeout is the hard per-iteration deadline (0 = none)
	IterationTimeout time.Duration

	// FailOnCheck marks an iteration failed when any of its checks fail
	FailOnCheck bool
}

// Name returns the scenario name.
func (s ScenarioPlan) Name() string {
	if s.Executor == nil {
		return ""
	}
	return s.Executor.Name
}

// Plan is everything a run needs.
type Plan struct {
	Name        string
	Description string

	Scenarios  []ScenarioPlan
	Thresholds map[string][]string

	// Metrics declares custom metrics by name
	Metrics map[string]metrics.Kind

	// Checks declares check names thresholds may select. Work units that
	// report their own check names (CheckNames() []string) add to it.
	Checks []string

	SummaryTrendStats []string

	HTTP    load.HTTPClientConfig
	BaseURL string
	Vars    map[string]string
}

// Engine is the main orchestrator of a load test run.
//
// It coordinates:
//   - Plan validation before any traffic is sent
//   - Scenario execution with their respective executors
//   - Metrics and check collection
//   - Threshold evaluation
//
// Example usage:
//
//	cfg, _ := config.LoadConfig("soak.yaml")
//	plan, _ := engine.FromConfig(cfg)
//	eng, _ := engine.New(plan)
//	summary, _ := eng.Run(context.Background())
//	fmt.Printf("Test passed: %v\n", summary.Passed)
type Engine struct {
	plan      Plan
	logger    *zap.Logger
	client    *http.Client
	evaluator *threshold.Evaluator

	mu        sync.RWMutex
	running   bool
	done      bool
	executors map[string]executor.Executor
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default is a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithHTTPClient replaces the shared HTTP client built from Plan.HTTP.
func WithHTTPClient(client *http.Client) Option {
	return func(e *Engine) {
		e.client = client
	}
}

// New validates plan and returns an engine ready to run it.
//
// Every problem found is reported at once in an *load.EngineError of phase
// validate wrapping load.ErrInvalidWorkload or load.ErrUnresolvedReference.
func New(plan Plan, opts ...Option) (*Engine, error) {
	e := &Engine{
		plan:      plan,
		logger:    zap.NewNop(),
		executors: make(map[string]executor.Executor),
	}
	for _, opt := range opts {
		opt(e)
	}

	var errs error
	invalid := func(format string, args ...interface{}) {
		errs = multierr.Append(errs, fmt.Errorf("%w: %s", load.ErrInvalidWorkload, fmt.Sprintf(format, args...)))
	}

	if len(plan.Scenarios) == 0 {
		invalid("at least one scenario is required")
	}
	seen := make(map[string]bool)
	for i, sp := range plan.Scenarios {
		if sp.Executor == nil {
			invalid("scenario %d has no executor config", i+1)
			continue
		}
		name := sp.Name()
		switch {
		case name == "":
			invalid("scenario %d has no name", i+1)
		case seen[name]:
			invalid("duplicate scenario %q", name)
		}
		seen[name] = true
		if err := sp.Executor.Validate(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("scenario %s: %w", name, err))
		}
		if sp.Work == nil {
			invalid("scenario %s has no work unit", name)
		}
		if sp.StartTime < 0 || sp.IterationTimeout < 0 {
			invalid("scenario %s: startTime and iterationTimeout must be >= 0", name)
		}
	}

	for name, kind := range plan.Metrics {
		if builtin, ok := metrics.BuiltinKind(name); ok && builtin != kind {
			invalid("metric %s is reserved as a %s", name, builtin)
		}
	}

	for _, s := range plan.SummaryTrendStats {
		stat, err := metrics.ParseStat(s)
		if err != nil || !stat.Supports(metrics.KindTrend) {
			invalid("summary trend stat %q is not a trend statistic", s)
		}
	}

	evaluator, err := threshold.NewEvaluator(plan.Thresholds)
	if err != nil {
		for _, perr := range multierr.Errors(err) {
			if errors.Is(perr, load.ErrInvalidWorkload) {
				errs = multierr.Append(errs, perr)
			} else {
				errs = multierr.Append(errs, fmt.Errorf("%w: %v", load.ErrInvalidWorkload, perr))
			}
		}
	} else {
		checkNames := e.checkNames()
		known := make(map[string]bool, len(checkNames))
		for _, n := range checkNames {
			known[n] = true
		}
		errs = multierr.Append(errs, evaluator.Resolve(e.kindOf, func(name string) bool { return known[name] }))
		e.evaluator = evaluator
	}

	if errs != nil {
		return nil, load.NewEngineError(load.PhaseValidate, "", errs)
	}
	return e, nil
}

func (e *Engine) kindOf(name string) (metrics.Kind, bool) {
	if kind, ok := metrics.BuiltinKind(name); ok {
		return kind, true
	}
	kind, ok := e.plan.Metrics[name]
	return kind, ok
}

// checkNames returns declared check names plus those reported by work units.
func (e *Engine) checkNames() []string {
	names := append([]string(nil), e.plan.Checks...)
	for _, sp := range e.plan.Scenarios {
		if named, ok := sp.Work.(interface{ CheckNames() []string }); ok {
			names = append(names, named.CheckNames()...)
		}
	}
	return names
}

type scenarioRun struct {
	plan      ScenarioPlan
	exec      executor.Executor
	scheduler *load.VUScheduler
	started   time.Time
	ended     time.Time
	ran       bool
	err       error
}

// Run executes every scenario concurrently and returns the run summary.
//
// Cancelling ctx stops scenarios early; in-flight iterations get each
// scenario's graceful stop to finish. Run returns only once every iteration
// has drained, so the summary reflects every sample recorded. An engine
// failure is returned as an *load.EngineError, together with the summary of
// whatever ran.
func (e *Engine) Run(ctx context.Context) (*RunSummary, error) {
	e.mu.Lock()
	if e.running || e.done {
		e.mu.Unlock()
		return nil, fmt.Errorf("engine has already run")
	}
	e.running = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.done = true
		e.mu.Unlock()
	}()

	client := e.client
	if client == nil {
		client = load.NewHTTPClient(e.plan.HTTP)
	}
	env := load.NewEnv(client, e.plan.BaseURL, e.plan.Vars)
	defer env.Close()

	registry := metrics.NewRegistry()
	for name, kind := range metrics.Builtins() {
		_ = registry.Declare(name, kind)
	}
	for name, kind := range e.plan.Metrics {
		if err := registry.Declare(name, kind); err != nil {
			return nil, load.NewEngineError(load.PhaseInit, "", fmt.Errorf("%w: %v", load.ErrInvalidWorkload, err))
		}
	}
	checkRegistry := checks.NewRegistry()

	runs, err := e.initScenarios(ctx, env, registry, checkRegistry)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	e.logger.Info("run started",
		zap.String("name", e.plan.Name),
		zap.Int("scenarios", len(runs)))

	var wg sync.WaitGroup
	for _, r := range runs {
		wg.Add(1)
		go func(r *scenarioRun) {
			defer wg.Done()
			e.runScenario(ctx, r)
		}(r)
	}
	wg.Wait()
	end := time.Now()

	var runErr error
	for _, r := range runs {
		runErr = multierr.Append(runErr, r.err)
	}

	snapshot := registry.Snapshot()
	checkResults := checkRegistry.Snapshot()
	verdict := threshold.Verdict{Passed: true}
	if e.evaluator != nil {
		verdict = e.evaluator.Evaluate(threshold.SnapshotSource{
			Metrics:  snapshot,
			Checks:   checkResults,
			Declared: e.checkNames(),
		})
	}

	summary := newRunSummary(e.plan, start, end, runs, snapshot, checkResults, verdict)
	e.logger.Info("run finished",
		zap.String("id", summary.ID),
		zap.Duration("duration", summary.Duration),
		zap.Bool("passed", summary.Passed))

	if runErr != nil {
		return summary, runErr
	}
	return summary, nil
}

func (e *Engine) initScenarios(ctx context.Context, env *load.Env, registry *metrics.Registry, checkRegistry *checks.Registry) ([]*scenarioRun, error) {
	runs := make([]*scenarioRun, 0, len(e.plan.Scenarios))
	for _, sp := range e.plan.Scenarios {
		name := sp.Name()

		// Executors adjust pool defaults in Init; keep the plan untouched.
		cfg := *sp.Executor
		exec, err := executor.CreateAndInitExecutor(ctx, &cfg)
		if err != nil {
			return nil, load.NewEngineError(load.PhaseInit, name, err)
		}

		scheduler, err := load.NewVUScheduler(load.SchedulerConfig{
			Scenario:         name,
			Work:             sp.Work,
			Env:              env,
			Metrics:          registry,
			Checks:           checkRegistry,
			Logger:           e.logger,
			IterationTimeout: sp.IterationTimeout,
			FailOnCheck:      sp.FailOnCheck,
			MaxVUs:           executor.CalculateMaxVUs(&cfg),
		})
		if err != nil {
			return nil, err
		}

		runs = append(runs, &scenarioRun{plan: sp, exec: exec, scheduler: scheduler})

		e.mu.Lock()
		e.executors[name] = exec
		e.mu.Unlock()
	}
	return runs, nil
}

func (e *Engine) runScenario(ctx context.Context, r *scenarioRun) {
	name := r.plan.Name()
	log := e.logger.With(zap.String("scenario", name), zap.String("executor", string(r.exec.Type())))

	if r.plan.StartTime > 0 {
		timer := time.NewTimer(r.plan.StartTime)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info("scenario skipped, run stopped before its startTime")
			return
		case <-timer.C:
		}
	}

	r.started = time.Now()
	r.ran = true
	log.Info("scenario started")

	err := r.exec.Run(ctx, r.scheduler, r.scheduler.Metrics())
	r.ended = time.Now()
	if err != nil {
		if !load.IsEngineError(err) {
			err = load.NewEngineError(load.PhaseRun, name, err)
		}
		r.err = err
		log.Error("scenario failed", zap.Error(err))
		return
	}

	stats := r.exec.GetStats()
	log.Info("scenario finished",
		zap.Duration("duration", r.ended.Sub(r.started)),
		zap.Int64("iterations", stats.Iterations),
		zap.Int64("droppedIterations", stats.DroppedIterations),
		zap.Bool("interrupted", stats.Interrupted))
}

// Stop ends every running scenario early and waits for them to drain.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.RLock()
	if !e.running {
		e.mu.RUnlock()
		return nil
	}
	execs := make([]executor.Executor, 0, len(e.executors))
	for _, exec := range e.executors {
		execs = append(execs, exec)
	}
	e.mu.RUnlock()

	var errs error
	for _, exec := range execs {
		errs = multierr.Append(errs, exec.Stop(ctx))
	}
	return errs
}

// IsRunning returns true if the engine is currently running.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// GetProgress returns the overall run progress (0.0 to 1.0).
func (e *Engine) GetProgress() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if len(e.executors) == 0 {
		return 0.0
	}
	var total float64
	for _, exec := range e.executors {
		total += exec.GetProgress()
	}
	return total / float64(len(e.executors))
}

// GetScenarioStats returns current stats for all scenarios.
func (e *Engine) GetScenarioStats() map[string]*executor.Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := make(map[string]*executor.Stats, len(e.executors))
	for name, exec := range e.executors {
		stats[name] = exec.GetStats()
	}
	return stats
}
