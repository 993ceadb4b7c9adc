// Package executor provides load generation strategies for performance testing.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/wesleyorama2/stampede/internal/load"
	"github.com/wesleyorama2/stampede/internal/load/metrics"
)

// Type identifies the type of executor.
type Type string

const (
	// TypeConstantVUs runs a fixed number of VUs for a duration.
	TypeConstantVUs Type = "constant-vus"

	// TypeRampingVUs ramps VU count up and down according to stages.
	TypeRampingVUs Type = "ramping-vus"

	// TypeConstantArrivalRate maintains a fixed iteration rate.
	TypeConstantArrivalRate Type = "constant-arrival-rate"

	// TypeRampingArrivalRate ramps iteration rate up and down.
	TypeRampingArrivalRate Type = "ramping-arrival-rate"

	// TypePerVUIterations runs a fixed number of iterations per VU.
	TypePerVUIterations Type = "per-vu-iterations"

	// TypeSharedIterations shares a total iteration count across VUs.
	TypeSharedIterations Type = "shared-iterations"
)

// DefaultGracefulStop is how long in-flight iterations may run past the end
// of a scenario before they are interrupted.
const DefaultGracefulStop = 30 * time.Second

// DefaultMaxDuration bounds the iteration-count executors.
const DefaultMaxDuration = 10 * time.Minute

// Executor defines the interface for load generation strategies.
//
// Executors control HOW load is generated - whether by managing a pool
// of virtual users or by controlling iteration rates. Each executor
// implements a different load generation strategy suitable for
// different testing scenarios.
//
// Run returns only after every iteration it started has finished or been
// interrupted, so the registry is quiescent once Run returns.
type Executor interface {
	// Type returns the executor type.
	Type() Type

	// Init initializes the executor with configuration.
	// Called once before Run().
	Init(ctx context.Context, config *Config) error

	// Run starts the executor and blocks until completion.
	// Cancelling ctx stops new iterations; in-flight ones get GracefulStop
	// to finish.
	Run(ctx context.Context, scheduler *load.VUScheduler, registry *metrics.Registry) error

	// GetProgress returns current progress (0.0 to 1.0).
	GetProgress() float64

	// GetActiveVUs returns current active VU count.
	GetActiveVUs() int

	// GetStats returns executor-specific statistics.
	GetStats() *Stats

	// Stop ends the run early and waits for Run to return.
	Stop(ctx context.Context) error
}

// Config contains configuration for an executor.
type Config struct {
	// Name is the name of this executor instance
	Name string `json:"name" yaml:"name"`

	// Type is the executor type
	Type Type `json:"type" yaml:"type"`

	// VU-based executors
	VUs        int           `json:"vus,omitempty" yaml:"vus,omitempty"`
	Duration   time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`
	Iterations int64         `json:"iterations,omitempty" yaml:"iterations,omitempty"`

	// MaxDuration bounds per-vu-iterations and shared-iterations
	MaxDuration time.Duration `json:"maxDuration,omitempty" yaml:"maxDuration,omitempty"`

	// StartVUs is the initial VU count of ramping-vus
	StartVUs int `json:"startVUs,omitempty" yaml:"startVUs,omitempty"`

	// Arrival-rate executors: Rate iterations per TimeUnit
	Rate            float64       `json:"rate,omitempty" yaml:"rate,omitempty"`
	TimeUnit        time.Duration `json:"timeUnit,omitempty" yaml:"timeUnit,omitempty"`
	StartRate       float64       `json:"startRate,omitempty" yaml:"startRate,omitempty"`
	PreAllocatedVUs int           `json:"preAllocatedVUs,omitempty" yaml:"preAllocatedVUs,omitempty"`
	MaxVUs          int           `json:"maxVUs,omitempty" yaml:"maxVUs,omitempty"`

	// Stages (for ramping executors)
	Stages []Stage `json:"stages,omitempty" yaml:"stages,omitempty"`

	// Graceful stop timeout
	GracefulStop time.Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// Pacing between iterations
	Pacing *PacingConfig `json:"pacing,omitempty" yaml:"pacing,omitempty"`
}

// Stage defines a stage in ramping executors.
type Stage struct {
	// Duration of this stage
	Duration time.Duration `json:"duration" yaml:"duration"`

	// Target VU count (for ramping-vus) or rate (for ramping-arrival-rate)
	Target int `json:"target" yaml:"target"`

	// Optional name for this stage (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// PacingConfig controls time between iterations.
type PacingConfig struct {
	// Type of pacing: "none", "constant", "random"
	Type PacingType `json:"type" yaml:"type"`

	// Duration for constant pacing
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Min duration for random pacing
	Min time.Duration `json:"min,omitempty" yaml:"min,omitempty"`

	// Max duration for random pacing
	Max time.Duration `json:"max,omitempty" yaml:"max,omitempty"`
}

// PacingType identifies the type of pacing.
type PacingType string

const (
	PacingNone     PacingType = "none"
	PacingConstant PacingType = "constant"
	PacingRandom   PacingType = "random"
)

// Stats contains real-time executor statistics.
type Stats struct {
	// Timing
	StartTime     time.Time     `json:"startTime"`
	CurrentTime   time.Time     `json:"currentTime"`
	Elapsed       time.Duration `json:"elapsed"`
	TotalDuration time.Duration `json:"totalDuration"`

	// VU stats
	ActiveVUs int `json:"activeVUs"`
	TargetVUs int `json:"targetVUs"`
	PeakVUs   int `json:"peakVUs"`

	// Iteration stats
	Iterations        int64 `json:"iterations"`
	TotalIterations   int64 `json:"totalIterations"` // For per-vu-iterations / shared-iterations
	DroppedIterations int64 `json:"droppedIterations"`

	// Interrupted is set when the graceful stop window elapsed with
	// iterations still in flight.
	Interrupted bool `json:"interrupted"`

	// Stage info (for ramping executors)
	CurrentStage     int    `json:"currentStage"`
	CurrentStageName string `json:"currentStageName"`
	TotalStages      int    `json:"totalStages"`

	// Rate info (for arrival-rate executors)
	CurrentRate float64 `json:"currentRate"`
	TargetRate  float64 `json:"targetRate"`
}

// Validate validates the executor configuration.
func (c *Config) Validate() error {
	if c.Type == "" {
		return &ValidationError{Field: "type", Message: "executor type is required"}
	}
	if c.GracefulStop < 0 {
		return &ValidationError{Field: "gracefulStop", Message: "gracefulStop must be >= 0"}
	}
	if c.TimeUnit < 0 {
		return &ValidationError{Field: "timeUnit", Message: "timeUnit must be >= 0"}
	}
	if err := c.Pacing.validate(); err != nil {
		return err
	}

	switch c.Type {
	case TypeConstantVUs:
		if c.VUs <= 0 {
			return &ValidationError{Field: "vus", Message: "vus must be > 0"}
		}
		if c.Duration <= 0 {
			return &ValidationError{Field: "duration", Message: "duration must be > 0"}
		}

	case TypeRampingVUs:
		if c.StartVUs < 0 {
			return &ValidationError{Field: "startVUs", Message: "startVUs must be >= 0"}
		}
		if err := c.validateStages(); err != nil {
			return err
		}

	case TypeConstantArrivalRate:
		if c.Rate <= 0 {
			return &ValidationError{Field: "rate", Message: "rate must be > 0"}
		}
		if c.Duration <= 0 {
			return &ValidationError{Field: "duration", Message: "duration must be > 0"}
		}
		if err := c.validatePool(); err != nil {
			return err
		}

	case TypeRampingArrivalRate:
		if c.StartRate < 0 {
			return &ValidationError{Field: "startRate", Message: "startRate must be >= 0"}
		}
		if err := c.validateStages(); err != nil {
			return err
		}
		if err := c.validatePool(); err != nil {
			return err
		}

	case TypePerVUIterations, TypeSharedIterations:
		if c.VUs <= 0 {
			return &ValidationError{Field: "vus", Message: "vus must be > 0"}
		}
		if c.Iterations <= 0 {
			return &ValidationError{Field: "iterations", Message: "iterations must be > 0"}
		}
		if c.MaxDuration < 0 {
			return &ValidationError{Field: "maxDuration", Message: "maxDuration must be >= 0"}
		}

	default:
		return &ValidationError{Field: "type", Message: "unknown executor type: " + string(c.Type)}
	}

	return nil
}

func (c *Config) validateStages() error {
	if len(c.Stages) == 0 {
		return &ValidationError{Field: "stages", Message: "at least one stage is required"}
	}
	var total time.Duration
	for i, stage := range c.Stages {
		if stage.Duration < 0 {
			return &ValidationError{Field: fmt.Sprintf("stages[%d].duration", i), Message: "duration must be >= 0"}
		}
		if stage.Target < 0 {
			return &ValidationError{Field: fmt.Sprintf("stages[%d].target", i), Message: "target must be >= 0"}
		}
		total += stage.Duration
	}
	if total <= 0 {
		return &ValidationError{Field: "stages", Message: "total stage duration must be > 0"}
	}
	return nil
}

func (c *Config) validatePool() error {
	if c.PreAllocatedVUs < 0 {
		return &ValidationError{Field: "preAllocatedVUs", Message: "preAllocatedVUs must be >= 0"}
	}
	if c.MaxVUs < 0 {
		return &ValidationError{Field: "maxVUs", Message: "maxVUs must be >= 0"}
	}
	if c.MaxVUs > 0 && c.MaxVUs < c.PreAllocatedVUs {
		return &ValidationError{Field: "maxVUs", Message: "maxVUs must be >= preAllocatedVUs"}
	}
	return nil
}

func (p *PacingConfig) validate() error {
	if p == nil {
		return nil
	}
	switch p.Type {
	case "", PacingNone:
	case PacingConstant:
		if p.Duration < 0 {
			return &ValidationError{Field: "pacing.duration", Message: "duration must be >= 0"}
		}
	case PacingRandom:
		if p.Min < 0 || p.Max < p.Min {
			return &ValidationError{Field: "pacing", Message: "random pacing needs 0 <= min <= max"}
		}
	default:
		return &ValidationError{Field: "pacing.type", Message: "unknown pacing type: " + string(p.Type)}
	}
	return nil
}

// TotalDuration calculates the total duration for this executor.
func (c *Config) TotalDuration() time.Duration {
	switch c.Type {
	case TypeConstantVUs, TypeConstantArrivalRate:
		return c.Duration

	case TypeRampingVUs, TypeRampingArrivalRate:
		var total time.Duration
		for _, stage := range c.Stages {
			total += stage.Duration
		}
		return total

	case TypePerVUIterations, TypeSharedIterations:
		// Runs until iterations complete, bounded by maxDuration
		return c.maxDuration()

	default:
		return 0
	}
}

func (c *Config) gracefulStop() time.Duration {
	if c.GracefulStop == 0 {
		return DefaultGracefulStop
	}
	return c.GracefulStop
}

func (c *Config) timeUnit() time.Duration {
	if c.TimeUnit <= 0 {
		return time.Second
	}
	return c.TimeUnit
}

func (c *Config) maxDuration() time.Duration {
	if c.MaxDuration <= 0 {
		return DefaultMaxDuration
	}
	return c.MaxDuration
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error on field '" + e.Field + "': " + e.Message
}

// Unwrap lets callers match configuration errors with load.ErrInvalidWorkload.
func (e *ValidationError) Unwrap() error {
	return load.ErrInvalidWorkload
}
