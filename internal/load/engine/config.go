package engine

import (
	"fmt"
	"sort"

	"github.com/wesleyorama2/stampede/internal/load"
	"github.com/wesleyorama2/stampede/internal/load/config"
	"github.com/wesleyorama2/stampede/internal/load/executor"
	"github.com/wesleyorama2/stampede/internal/load/httpwork"
	"github.com/wesleyorama2/stampede/internal/load/metrics"
)

// FromConfig builds a Plan from a test configuration whose defaults have
// been applied. Scenarios run HTTP programs built by httpwork and are
// ordered by name.
func FromConfig(cfg *config.TestConfig) (Plan, error) {
	if err := cfg.Validate(); err != nil {
		return Plan{}, load.NewEngineError(load.PhaseValidate, "", err)
	}

	httpConfig := load.DefaultHTTPClientConfig()
	httpConfig.Timeout = cfg.Settings.Timeout.GetDuration(httpConfig.Timeout)
	if cfg.Settings.MaxConnectionsPerHost > 0 {
		httpConfig.MaxConnsPerHost = cfg.Settings.MaxConnectionsPerHost
	}
	if cfg.Settings.MaxIdleConnsPerHost > 0 {
		httpConfig.MaxIdleConnsPerHost = cfg.Settings.MaxIdleConnsPerHost
	}
	httpConfig.InsecureSkipVerify = cfg.Settings.InsecureSkipVerify

	plan := Plan{
		Name:              cfg.Name,
		Description:       cfg.Description,
		Thresholds:        cfg.Thresholds,
		Metrics:           make(map[string]metrics.Kind, len(cfg.Metrics)),
		Checks:            cfg.CheckNames(),
		SummaryTrendStats: cfg.SummaryTrendStats,
		HTTP:              httpConfig,
		BaseURL:           cfg.Settings.BaseURL,
		Vars:              cfg.Variables,
	}

	for name, kind := range cfg.Metrics {
		k, err := metrics.ParseKind(kind)
		if err != nil {
			return Plan{}, load.NewEngineError(load.PhaseValidate, "", fmt.Errorf("%w: metrics.%s: %v", load.ErrInvalidWorkload, name, err))
		}
		plan.Metrics[name] = k
	}

	names := make([]string, 0, len(cfg.Scenarios))
	for name := range cfg.Scenarios {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		sc := cfg.Scenarios[name]
		sp, err := scenarioFromConfig(name, sc, cfg.Settings)
		if err != nil {
			return Plan{}, load.NewEngineError(load.PhaseValidate, name, fmt.Errorf("%w: %v", load.ErrInvalidWorkload, err))
		}
		plan.Scenarios = append(plan.Scenarios, sp)
	}
	return plan, nil
}

func scenarioFromConfig(name string, sc *config.ScenarioConfig, settings config.GlobalSettings) (ScenarioPlan, error) {
	execConfig, err := executor.FromScenarioConfig(name, sc)
	if err != nil {
		return ScenarioPlan{}, err
	}
	work, err := httpwork.Build(name, sc, settings)
	if err != nil {
		return ScenarioPlan{}, err
	}

	sp := ScenarioPlan{
		Executor:    execConfig,
		Work:        work,
		FailOnCheck: sc.FailIterationOnCheck,
	}
	if sp.StartTime, err = config.ParseDurationString(sc.StartTime); err != nil {
		return ScenarioPlan{}, fmt.Errorf("invalid startTime: %w", err)
	}
	if sp.IterationTimeout, err = config.ParseDurationString(sc.IterationTimeout); err != nil {
		return ScenarioPlan{}, fmt.Errorf("invalid iterationTimeout: %w", err)
	}
	return sp, nil
}
