// Package threshold parses pass/fail criteria written in the k6 threshold
// syntax and evaluates them against the aggregates of a finished run.
//
// A threshold is keyed by a metric name, optionally narrowed to one check:
//
//	http_req_duration: ["p(95)<500", "avg<200ms"]
//	http_req_failed:   ["rate<0.01"]
//	checks{check:service is ready}: ["rate==1.0"]
package threshold

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/wesleyorama2/stampede/internal/load/metrics"
)

// Operator is a threshold comparison.
type Operator string

const (
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpEqual        Operator = "=="
	OpStrictEqual  Operator = "==="
	OpNotEqual     Operator = "!="
)

// epsilon absorbs float noise in equality comparisons.
const epsilon = 1e-9

// Threshold represents a performance assertion that can pass or fail.
type Threshold struct {
	Key      string       // metric key as written, e.g. "checks{check:ok}"
	Metric   string       // e.g., "http_req_duration", "http_req_failed"
	Check    string       // check name for a checks{check:NAME} selector
	Stat     metrics.Stat // e.g., p(95), avg, rate
	Operator Operator
	Value    float64 // compared value; durations are converted to milliseconds
	Unit     string  // duration unit as written, if any
	Raw      string  // original expression for display
}

var (
	keyRe  = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)(?:\{\s*check\s*:\s*(.+?)\s*\})?$`)
	exprRe = regexp.MustCompile(`^(.+?)\s*(<=|>=|===|==|!=|<|>)\s*([-+]?(?:\d+\.?\d*|\.\d+)(?:[eE][-+]?\d+)?)\s*(ms|us|µs|s|m)?$`)
)

var unitScale = map[string]float64{
	"us": float64(time.Microsecond) / float64(time.Millisecond),
	"µs": float64(time.Microsecond) / float64(time.Millisecond),
	"ms": 1,
	"s":  float64(time.Second) / float64(time.Millisecond),
	"m":  float64(time.Minute) / float64(time.Millisecond),
}

// ParseKey splits a threshold key into its metric name and optional check
// selector.
func ParseKey(key string) (metric, check string, err error) {
	m := keyRe.FindStringSubmatch(strings.TrimSpace(key))
	if m == nil {
		return "", "", fmt.Errorf("invalid threshold key %q (expected metric or checks{check:NAME})", key)
	}
	if m[2] != "" && m[1] != metrics.Checks {
		return "", "", fmt.Errorf("invalid threshold key %q: only %s accepts a check selector", key, metrics.Checks)
	}
	return m[1], m[2], nil
}

// Parse parses one threshold expression for the metric key.
//
// Supported formats:
//   - "p(95)<500"   (trend percentile, milliseconds)
//   - "p95 < 500ms" (same, with explicit unit)
//   - "avg<200"     (average)
//   - "rate<0.01"   (rate metrics, or per-second rate of a counter)
//   - "count>1000"  (counter total or number of observations)
func Parse(key, expr string) (*Threshold, error) {
	metric, check, err := ParseKey(key)
	if err != nil {
		return nil, err
	}

	raw := strings.TrimSpace(expr)
	if raw == "" {
		return nil, fmt.Errorf("empty threshold expression for %s", key)
	}

	m := exprRe.FindStringSubmatch(raw)
	if m == nil {
		return nil, fmt.Errorf("invalid threshold format: %q (expected format: aggregate operator value, e.g., 'p(95)<500')", raw)
	}

	stat, err := metrics.ParseStat(m[1])
	if err != nil {
		return nil, fmt.Errorf("threshold %q: %w", raw, err)
	}

	value, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid threshold value %q: %v", m[3], err)
	}
	unit := m[4]
	if unit != "" {
		value *= unitScale[unit]
	}

	return &Threshold{
		Key:      strings.TrimSpace(key),
		Metric:   metric,
		Check:    check,
		Stat:     stat,
		Operator: Operator(m[2]),
		Value:    value,
		Unit:     unit,
		Raw:      raw,
	}, nil
}

// Kind returns the metric kind the threshold is evaluated against, given
// the kind of its metric. A check selector always yields a rate.
func (t *Threshold) Kind(metricKind metrics.Kind) metrics.Kind {
	if t.Check != "" {
		return metrics.KindRate
	}
	return metricKind
}

// CheckKind reports whether the threshold can be evaluated on a metric of
// the given kind.
func (t *Threshold) CheckKind(kind metrics.Kind) error {
	kind = t.Kind(kind)
	if !t.Stat.Supports(kind) {
		return fmt.Errorf("threshold %s %q: %s is not available on %s metrics", t.Key, t.Raw, t.Stat, kind)
	}
	if t.Unit != "" && kind != metrics.KindTrend {
		return fmt.Errorf("threshold %s %q: unit %q only applies to trend metrics", t.Key, t.Raw, t.Unit)
	}
	return nil
}

// Compare applies the operator to actual and the threshold value.
func (t *Threshold) Compare(actual float64) bool {
	return compareValues(actual, t.Operator, t.Value)
}

func (t *Threshold) String() string {
	return t.Key + ": " + t.Raw
}

func compareValues(actual float64, operator Operator, expected float64) bool {
	equal := math.Abs(actual-expected) < epsilon

	switch operator {
	case OpLess:
		return actual < expected && !equal
	case OpLessEqual:
		return actual <= expected || equal
	case OpGreater:
		return actual > expected && !equal
	case OpGreaterEqual:
		return actual >= expected || equal
	case OpEqual, OpStrictEqual:
		return equal
	case OpNotEqual:
		return !equal
	default:
		return false
	}
}
