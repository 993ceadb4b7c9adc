// Package metrics aggregates the samples recorded while a load test runs.
//
// Three kinds of metric are supported:
//   - counter: a monotonically increasing sum (requests, bytes, dropped iterations)
//   - trend: a distribution of values, summarized by count/min/max/avg and quantiles
//   - rate: the ratio of true observations to all observations (failures, checks)
//
// Individual samples are never retained. Trends keep exact count/sum/min/max
// alongside an HDR histogram, so memory stays bounded no matter how long a
// run lasts.
package metrics

import (
	"fmt"
	"strings"
)

// Kind identifies how samples for a metric are aggregated.
type Kind int

const (
	// KindCounter sums every recorded value.
	KindCounter Kind = iota + 1
	// KindTrend keeps a value distribution.
	KindTrend
	// KindRate keeps the ratio of non-zero (true) observations.
	KindRate
)

func (k Kind) String() string {
	switch k {
	case KindCounter:
		return "counter"
	case KindTrend:
		return "trend"
	case KindRate:
		return "rate"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseKind parses a metric kind name.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "counter":
		return KindCounter, nil
	case "trend":
		return KindTrend, nil
	case "rate":
		return KindRate, nil
	default:
		return 0, fmt.Errorf("unknown metric kind: %q (supported: counter, trend, rate)", s)
	}
}

// Names of the metrics the engine emits on its own.
const (
	Iterations        = "iterations"
	IterationDuration = "iteration_duration"
	IterationFailed   = "iteration_failed"
	IterationTimeouts = "iteration_timeouts"
	DroppedIterations = "dropped_iterations"
	Checks            = "checks"
	HTTPReqs          = "http_reqs"
	HTTPReqDuration   = "http_req_duration"
	HTTPReqFailed     = "http_req_failed"
	DataReceived      = "data_received"
	DataSent          = "data_sent"
)

var builtin = map[string]Kind{
	Iterations:        KindCounter,
	IterationDuration: KindTrend,
	IterationFailed:   KindRate,
	IterationTimeouts: KindCounter,
	DroppedIterations: KindCounter,
	Checks:            KindRate,
	HTTPReqs:          KindCounter,
	HTTPReqDuration:   KindTrend,
	HTTPReqFailed:     KindRate,
	DataReceived:      KindCounter,
	DataSent:          KindCounter,
}

// BuiltinKind reports the kind of a reserved, engine-emitted metric.
func BuiltinKind(name string) (Kind, bool) {
	k, ok := builtin[name]
	return k, ok
}

// Builtins returns a copy of the reserved metric names and their kinds.
func Builtins() map[string]Kind {
	out := make(map[string]Kind, len(builtin))
	for name, k := range builtin {
		out[name] = k
	}
	return out
}
