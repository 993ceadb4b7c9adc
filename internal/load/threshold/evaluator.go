package threshold

import (
	"fmt"
	"sort"

	"go.uber.org/multierr"

	"github.com/wesleyorama2/stampede/internal/load"
	"github.com/wesleyorama2/stampede/internal/load/checks"
	"github.com/wesleyorama2/stampede/internal/load/metrics"
)

// Status is the outcome of one threshold.
type Status string

const (
	// StatusPassed means the expression held.
	StatusPassed Status = "passed"
	// StatusFailed means the expression did not hold.
	StatusFailed Status = "failed"
	// StatusIndeterminate means the metric had no observations to judge.
	StatusIndeterminate Status = "indeterminate"
	// StatusError means the metric or check could not be resolved.
	StatusError Status = "error"
)

// Result represents the outcome of evaluating a threshold.
type Result struct {
	Metric     string  `json:"metric"`
	Expression string  `json:"expression"`
	Status     Status  `json:"status"`
	Actual     float64 `json:"actual"`
	Samples    int64   `json:"samples"`
	Message    string  `json:"message"`
}

// Passed reports whether the threshold passed.
func (r Result) Passed() bool {
	return r.Status == StatusPassed
}

// Verdict is the outcome of every threshold of a run. Passed is the logical
// AND of the results; indeterminate and error results are not passes.
type Verdict struct {
	Results []Result `json:"results"`
	Passed  bool     `json:"passed"`
}

// Source provides the aggregates thresholds are evaluated against.
type Source interface {
	// Metric returns the summary of a metric, or false if it is unknown.
	Metric(name string) (*metrics.Summary, bool)

	// Check returns the pass counts of a check, or false if it is unknown.
	Check(name string) (checks.Result, bool)
}

// Evaluator evaluates thresholds against collected metrics.
type Evaluator struct {
	thresholds []*Threshold
}

// NewEvaluator parses every expression of config. Keys are evaluated in
// sorted order, expressions in the order written. All parse errors are
// reported together.
func NewEvaluator(config map[string][]string) (*Evaluator, error) {
	keys := make([]string, 0, len(config))
	for key := range config {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	e := &Evaluator{}
	var errs error
	for _, key := range keys {
		for i, expr := range config[key] {
			t, err := Parse(key, expr)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("thresholds.%s[%d]: %w", key, i, err))
				continue
			}
			e.thresholds = append(e.thresholds, t)
		}
	}
	if errs != nil {
		return nil, errs
	}
	return e, nil
}

// Thresholds returns the parsed thresholds.
func (e *Evaluator) Thresholds() []*Threshold {
	return e.thresholds
}

// Resolve checks that every threshold refers to a known metric of a
// compatible kind, and every check selector to a known check. kindOf
// returns the kind of a reserved or declared metric; knownCheck reports a
// declared check. Unknown names wrap load.ErrUnresolvedReference.
func (e *Evaluator) Resolve(kindOf func(name string) (metrics.Kind, bool), knownCheck func(name string) bool) error {
	var errs error
	for _, t := range e.thresholds {
		kind, ok := kindOf(t.Metric)
		if !ok {
			errs = multierr.Append(errs, fmt.Errorf("%w: threshold on unknown metric %q", load.ErrUnresolvedReference, t.Metric))
			continue
		}
		if t.Check != "" && knownCheck != nil && !knownCheck(t.Check) {
			errs = multierr.Append(errs, fmt.Errorf("%w: threshold on unknown check %q", load.ErrUnresolvedReference, t.Check))
			continue
		}
		if err := t.CheckKind(kind); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%w: %v", load.ErrInvalidWorkload, err))
		}
	}
	return errs
}

// Evaluate checks all thresholds against src.
func (e *Evaluator) Evaluate(src Source) Verdict {
	v := Verdict{Passed: true, Results: make([]Result, 0, len(e.thresholds))}
	for _, t := range e.thresholds {
		r := evaluateOne(t, src)
		if !r.Passed() {
			v.Passed = false
		}
		v.Results = append(v.Results, r)
	}
	return v
}

func evaluateOne(t *Threshold, src Source) Result {
	r := Result{Metric: t.Key, Expression: t.Raw}

	summary, err := lookup(t, src)
	if err != nil {
		r.Status = StatusError
		r.Message = fmt.Sprintf("error: %v", err)
		return r
	}
	r.Samples = summary.Count

	// A metric that never fired cannot satisfy any bound, counters included.
	if summary.Empty() {
		r.Status = StatusIndeterminate
		r.Message = fmt.Sprintf("? %s: no observations", t)
		return r
	}

	actual, err := summary.Value(t.Stat)
	if err != nil {
		r.Status = StatusError
		r.Message = fmt.Sprintf("error: %v", err)
		return r
	}
	r.Actual = actual

	mark := "✓"
	r.Status = StatusPassed
	if !t.Compare(actual) {
		mark = "✗"
		r.Status = StatusFailed
	}
	r.Message = fmt.Sprintf("%s %s: %.4g %s %.4g", mark, t.Key, actual, t.Operator, t.Value)
	return r
}

func lookup(t *Threshold, src Source) (*metrics.Summary, error) {
	if t.Check != "" {
		res, ok := src.Check(t.Check)
		if !ok {
			return nil, fmt.Errorf("%w: unknown check %q", load.ErrUnresolvedReference, t.Check)
		}
		return &metrics.Summary{
			Name:   t.Key,
			Kind:   metrics.KindRate,
			Count:  res.Total(),
			Passes: res.Passes,
			Fails:  res.Fails,
			Rate:   res.Rate,
		}, nil
	}

	s, ok := src.Metric(t.Metric)
	if !ok {
		return nil, fmt.Errorf("%w: unknown metric %q", load.ErrUnresolvedReference, t.Metric)
	}
	return s, nil
}

// SnapshotSource adapts a metrics snapshot and check results to Source.
// Declared checks that never ran resolve to an empty result.
type SnapshotSource struct {
	Metrics  *metrics.Snapshot
	Checks   []checks.Result
	Declared []string
}

// Metric implements Source.
func (s SnapshotSource) Metric(name string) (*metrics.Summary, bool) {
	if s.Metrics == nil {
		return nil, false
	}
	return s.Metrics.Get(name)
}

// Check implements Source.
func (s SnapshotSource) Check(name string) (checks.Result, bool) {
	for _, r := range s.Checks {
		if r.Name == name {
			return r, true
		}
	}
	for _, d := range s.Declared {
		if d == name {
			return checks.Result{Name: name}, true
		}
	}
	return checks.Result{}, false
}
