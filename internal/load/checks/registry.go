// Package checks records the outcome of named boolean assertions made
// during iterations.
package checks

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrUndefinedCheck is returned when asking for a check that was never recorded.
var ErrUndefinedCheck = errors.New("undefined check")

// Registry keeps a (passes, fails) pair per check name.
//
// Registry is safe for concurrent use. Outcomes are counted with atomics;
// the name table lock is only taken for writing the first time a name is seen.
type Registry struct {
	mu     sync.RWMutex
	checks map[string]*counter
	order  []string
}

type counter struct {
	passes atomic.Int64
	fails  atomic.Int64
}

// Result is the aggregated outcome of one check.
type Result struct {
	Name   string  `json:"name"`
	Passes int64   `json:"passes"`
	Fails  int64   `json:"fails"`
	Rate   float64 `json:"rate"`
}

// Total returns the number of recorded outcomes.
func (r Result) Total() int64 {
	return r.Passes + r.Fails
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		checks: make(map[string]*counter),
	}
}

// Record records one outcome for the named check.
func (r *Registry) Record(name string, passed bool) {
	c := r.get(name)
	if passed {
		c.passes.Add(1)
	} else {
		c.fails.Add(1)
	}
}

func (r *Registry) get(name string) *counter {
	r.mu.RLock()
	c, ok := r.checks[name]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok = r.checks[name]; ok {
		return c
	}
	c = &counter{}
	r.checks[name] = c
	r.order = append(r.order, name)
	return c
}

// Rate returns passes/total for the named check.
func (r *Registry) Rate(name string) (float64, error) {
	res, err := r.Get(name)
	if err != nil {
		return 0, err
	}
	return res.Rate, nil
}

// Get returns the aggregated result of the named check.
func (r *Registry) Get(name string) (Result, error) {
	r.mu.RLock()
	c, ok := r.checks[name]
	r.mu.RUnlock()
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUndefinedCheck, name)
	}
	return c.result(name), nil
}

// Snapshot returns all checks in the order they were first recorded.
func (r *Registry) Snapshot() []Result {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Result, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.checks[name].result(name))
	}
	return out
}

func (c *counter) result(name string) Result {
	res := Result{
		Name:   name,
		Passes: c.passes.Load(),
		Fails:  c.fails.Load(),
	}
	if total := res.Total(); total > 0 {
		res.Rate = float64(res.Passes) / float64(total)
	}
	return res
}
