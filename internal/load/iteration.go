package load

import (
	"context"
	"time"

	"github.com/wesleyorama2/stampede/internal/load/checks"
	"github.com/wesleyorama2/stampede/internal/load/metrics"
)

// Iteration is the context of a single WorkUnit invocation. It is owned by
// one goroutine and must not be retained after Run returns.
type Iteration struct {
	// VU is the id of the virtual user running the iteration.
	VU int

	// Number is the 1-based iteration count of this VU.
	Number int64

	// Scenario is the name of the scenario being run.
	Scenario string

	// Env is the run-scoped shared environment.
	Env *Env

	vu           *VirtualUser
	metrics      *metrics.Registry
	checks       *checks.Registry
	failedChecks int
}

// Check records the outcome of a named assertion and returns ok.
//
// A failed check never aborts the iteration. It also feeds the engine's
// checks rate metric.
func (it *Iteration) Check(name string, ok bool) bool {
	if it.checks != nil {
		it.checks.Record(name, ok)
	}
	if it.metrics != nil {
		it.metrics.Mark(metrics.Checks, ok)
	}
	if !ok {
		it.failedChecks++
	}
	return ok
}

// Record records a custom metric sample.
func (it *Iteration) Record(name string, value float64, kind metrics.Kind) error {
	if it.metrics == nil {
		return nil
	}
	return it.metrics.Record(name, value, kind)
}

// Add adds value to a custom counter.
func (it *Iteration) Add(name string, value float64) {
	_ = it.Record(name, value, metrics.KindCounter)
}

// Observe records a custom trend observation.
func (it *Iteration) Observe(name string, value float64) {
	_ = it.Record(name, value, metrics.KindTrend)
}

// ObserveDuration records a duration in milliseconds on a custom trend.
func (it *Iteration) ObserveDuration(name string, d time.Duration) {
	it.Observe(name, float64(d)/float64(time.Millisecond))
}

// Mark records a boolean observation on a custom rate.
func (it *Iteration) Mark(name string, ok bool) {
	v := 0.0
	if ok {
		v = 1
	}
	_ = it.Record(name, v, metrics.KindRate)
}

// Var resolves a variable. Values set on the VU (for example extracted from
// an earlier response) take precedence over configuration variables.
func (it *Iteration) Var(key string) (string, bool) {
	if it.vu != nil {
		if v, ok := it.vu.GetData(key); ok {
			return v, true
		}
	}
	return it.Env.Var(key)
}

// SetVar stores a variable in the VU's scope. It stays visible to later
// iterations of the same VU.
func (it *Iteration) SetVar(key, value string) {
	if it.vu != nil {
		it.vu.SetData(key, value)
	}
}

// Sleep pauses the iteration for d. It returns ctx.Err() early if the
// iteration is cancelled.
func (it *Iteration) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
