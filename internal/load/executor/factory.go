package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/wesleyorama2/stampede/internal/load/config"
)

// ExecutorDescription documents an executor type for the executors command.
type ExecutorDescription struct {
	Type        Type
	Name        string
	Description string
	UseCases    []string
}

type registration struct {
	create func() Executor
	desc   ExecutorDescription
}

// registry lists every executor in the order the CLI shows them.
var registry = []registration{
	{
		create: func() Executor { return NewConstantVUs() },
		desc: ExecutorDescription{
			Type:        TypeConstantVUs,
			Name:        "Constant VUs",
			Description: "A fixed pool of VUs loops over the work unit for the whole duration (closed model).",
			UseCases:    []string{"Soak tests at a steady concurrency", "Throughput of N concurrent clients"},
		},
	},
	{
		create: func() Executor { return NewRampingVUs() },
		desc: ExecutorDescription{
			Type:        TypeRampingVUs,
			Name:        "Ramping VUs",
			Description: "The live VU count follows the stage targets, interpolated linearly inside each stage.",
			UseCases:    []string{"Stress tests ramping to a peak and back", "Finding the concurrency where latency degrades"},
		},
	},
	{
		create: func() Executor { return NewConstantArrivalRate() },
		desc: ExecutorDescription{
			Type:        TypeConstantArrivalRate,
			Name:        "Constant Arrival Rate",
			Description: "Starts rate iterations per timeUnit independent of response time (open model). A start with no idle VU at maxVUs is dropped, never delayed.",
			UseCases:    []string{"Synthetic background traffic", "Checking a service sustains a target request rate"},
		},
	},
	{
		create: func() Executor { return NewRampingArrivalRate() },
		desc: ExecutorDescription{
			Type:        TypeRampingArrivalRate,
			Name:        "Ramping Arrival Rate",
			Description: "Open model whose start rate follows the stage targets from startRate.",
			UseCases:    []string{"Gradual request-rate increase", "Exercising autoscaling"},
		},
	},
	{
		create: func() Executor { return NewPerVUIterations() },
		desc: ExecutorDescription{
			Type:        TypePerVUIterations,
			Name:        "Per-VU Iterations",
			Description: "Every VU runs exactly iterations iterations, bounded by maxDuration.",
			UseCases:    []string{"Smoke tests with a known request count"},
		},
	},
	{
		create: func() Executor { return NewSharedIterations() },
		desc: ExecutorDescription{
			Type:        TypeSharedIterations,
			Name:        "Shared Iterations",
			Description: "The VUs draw from one shared iteration budget until it is spent or maxDuration elapses.",
			UseCases:    []string{"A fixed amount of work done as fast as possible"},
		},
	},
}

func lookup(t Type) *registration {
	for i := range registry {
		if registry[i].desc.Type == t {
			return &registry[i]
		}
	}
	return nil
}

// NewExecutor returns an uninitialized executor of the given type. Call Init
// before Run.
func NewExecutor(executorType Type) (Executor, error) {
	reg := lookup(executorType)
	if reg == nil {
		return nil, &ValidationError{Field: "type", Message: "unknown executor type: " + string(executorType)}
	}
	return reg.create(), nil
}

// CreateAndInitExecutor creates an executor for cfg and initializes it.
func CreateAndInitExecutor(ctx context.Context, cfg *Config) (Executor, error) {
	exec, err := NewExecutor(cfg.Type)
	if err != nil {
		return nil, err
	}
	if err := exec.Init(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize executor: %w", err)
	}
	return exec, nil
}

// FromScenarioConfig converts a config.ScenarioConfig (from YAML/JSON) to an
// executor Config, parsing every duration.
func FromScenarioConfig(name string, sc *config.ScenarioConfig) (*Config, error) {
	cfg := &Config{
		Name:            name,
		Type:            Type(sc.Executor),
		VUs:             sc.VUs,
		Iterations:      sc.Iterations,
		StartVUs:        sc.StartVUs,
		Rate:            sc.Rate,
		StartRate:       sc.StartRate,
		PreAllocatedVUs: sc.PreAllocatedVUs,
		MaxVUs:          sc.MaxVUs,
	}

	durations := []struct {
		field string
		value string
		dst   *time.Duration
	}{
		{"duration", sc.Duration, &cfg.Duration},
		{"gracefulStop", sc.GracefulStop, &cfg.GracefulStop},
		{"timeUnit", sc.TimeUnit, &cfg.TimeUnit},
		{"maxDuration", sc.MaxDuration, &cfg.MaxDuration},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		dur, err := config.ParseDurationString(d.value)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.field, err)
		}
		*d.dst = dur
	}

	for i, stage := range sc.Stages {
		stageDur, err := config.ParseDurationString(stage.Duration)
		if err != nil {
			return nil, fmt.Errorf("invalid stages[%d].duration: %w", i, err)
		}
		cfg.Stages = append(cfg.Stages, Stage{
			Duration: stageDur,
			Target:   stage.Target,
			Name:     stage.Name,
		})
	}

	if sc.Pacing != nil {
		cfg.Pacing = &PacingConfig{
			Type: PacingType(sc.Pacing.Type),
		}
		pacing := []struct {
			field string
			value string
			dst   *time.Duration
		}{
			{"pacing.duration", sc.Pacing.Duration, &cfg.Pacing.Duration},
			{"pacing.min", sc.Pacing.Min, &cfg.Pacing.Min},
			{"pacing.max", sc.Pacing.Max, &cfg.Pacing.Max},
		}
		for _, p := range pacing {
			if p.value == "" {
				continue
			}
			dur, err := config.ParseDurationString(p.value)
			if err != nil {
				return nil, fmt.Errorf("invalid %s: %w", p.field, err)
			}
			*p.dst = dur
		}
	}

	return cfg, nil
}

// IsValidExecutorType reports whether executorType names a known executor.
func IsValidExecutorType(executorType string) bool {
	return lookup(Type(executorType)) != nil
}

// GetSupportedExecutors returns every executor type.
func GetSupportedExecutors() []Type {
	types := make([]Type, len(registry))
	for i, reg := range registry {
		types[i] = reg.desc.Type
	}
	return types
}

// GetExecutorDescription returns the description of executorType, or nil.
func GetExecutorDescription(executorType Type) *ExecutorDescription {
	reg := lookup(executorType)
	if reg == nil {
		return nil
	}
	desc := reg.desc
	return &desc
}

// CalculateMaxVUs returns the most VUs cfg can have live at once: the
// highest stage target for ramping-vus, the pool ceiling for arrival-rate
// executors, VUs otherwise.
func CalculateMaxVUs(cfg *Config) int {
	switch cfg.Type {
	case TypeRampingVUs:
		maxVUs := cfg.StartVUs
		for _, stage := range cfg.Stages {
			if stage.Target > maxVUs {
				maxVUs = stage.Target
			}
		}
		return maxVUs
	case TypeConstantArrivalRate, TypeRampingArrivalRate:
		if cfg.MaxVUs < cfg.PreAllocatedVUs {
			return cfg.PreAllocatedVUs
		}
		return cfg.MaxVUs
	default:
		return cfg.VUs
	}
}
