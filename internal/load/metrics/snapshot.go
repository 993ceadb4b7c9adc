package metrics

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// percentiles precomputed into Summary.Percentiles for serialization
var reportedPercentiles = []float64{50, 90, 95, 99}

// Snapshot is an immutable aggregate view of a registry.
type Snapshot struct {
	StartTime time.Time           `json:"startTime"`
	Elapsed   time.Duration       `json:"elapsed"`
	Metrics   map[string]*Summary `json:"metrics"`
}

// Get returns the summary for a metric.
func (s *Snapshot) Get(name string) (*Summary, bool) {
	if s == nil {
		return nil, false
	}
	m, ok := s.Metrics[name]
	return m, ok
}

// Names returns metric names in sorted order.
func (s *Snapshot) Names() []string {
	names := make([]string, 0, len(s.Metrics))
	for name := range s.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Summary contains the aggregates of a single metric.
//
// Field meaning depends on Kind:
//   - counter: Count is the number of Add calls, Sum the total, Rate the total per second
//   - trend: Count/Sum/Min/Max/Avg/Med in the unit recorded (milliseconds for durations)
//   - rate: Passes are true observations, Fails false ones, Rate = Passes/Count
type Summary struct {
	Name        string             `json:"name"`
	Kind        Kind               `json:"kind"`
	Count       int64              `json:"count"`
	Sum         float64            `json:"sum,omitempty"`
	Min         float64            `json:"min,omitempty"`
	Max         float64            `json:"max,omitempty"`
	Avg         float64            `json:"avg,omitempty"`
	Med         float64            `json:"med,omitempty"`
	Percentiles map[string]float64 `json:"percentiles,omitempty"`
	Passes      int64              `json:"passes,omitempty"`
	Fails       int64              `json:"fails,omitempty"`
	Rate        float64            `json:"rate"`

	hist *hdrhistogram.Histogram
}

// Empty reports whether the metric has no observations.
func (s *Summary) Empty() bool {
	return s.Count == 0
}

// Quantile returns the value at percentile p (0-100) of a trend. The result
// is clamped to the exact observed min/max.
func (s *Summary) Quantile(p float64) float64 {
	if s.Kind != KindTrend || s.hist == nil || s.Count == 0 {
		return 0
	}
	v := float64(s.hist.ValueAtQuantile(p)) / 1000
	if v < s.Min {
		v = s.Min
	}
	if v > s.Max {
		v = s.Max
	}
	return v
}

// Value resolves a statistic against this summary.
func (s *Summary) Value(stat Stat) (float64, error) {
	if !stat.Supports(s.Kind) {
		return 0, fmt.Errorf("%s is not available on %s metric %q", stat, s.Kind, s.Name)
	}

	switch stat.Name {
	case StatPercentile:
		return s.Quantile(stat.Percentile), nil
	case StatAvg:
		return s.Avg, nil
	case StatMin:
		return s.Min, nil
	case StatMax:
		return s.Max, nil
	case StatMed:
		return s.Med, nil
	case StatSum:
		return s.Sum, nil
	case StatRate:
		return s.Rate, nil
	case StatPasses:
		return float64(s.Passes), nil
	case StatFails:
		return float64(s.Fails), nil
	case StatCount:
		if s.Kind == KindCounter {
			return s.Sum, nil
		}
		return float64(s.Count), nil
	}
	return 0, fmt.Errorf("unknown statistic %q", stat.Name)
}

// Names of statistics that can be read from a Summary.
const (
	StatAvg        = "avg"
	StatMin        = "min"
	StatMax        = "max"
	StatMed        = "med"
	StatCount      = "count"
	StatSum        = "sum"
	StatRate       = "rate"
	StatPasses     = "passes"
	StatFails      = "fails"
	StatPercentile = "p"
)

// Stat names one statistic of a metric, e.g. avg or p(95).
type Stat struct {
	Name       string
	Percentile float64
}

var percentileRe = regexp.MustCompile(`^p\(\s*(\d+(?:\.\d+)?)\s*\)$|^p(\d+(?:\.\d+)?)$`)

// ParseStat parses a statistic name. Percentiles may be written p(95) or p95.
func ParseStat(s string) (Stat, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case StatAvg, "mean":
		return Stat{Name: StatAvg}, nil
	case StatMin, StatMax, StatMed, StatCount, StatSum, StatRate, StatPasses, StatFails:
		return Stat{Name: s}, nil
	}

	m := percentileRe.FindStringSubmatch(s)
	if m == nil {
		return Stat{}, fmt.Errorf("unknown statistic %q (supported: avg, min, max, med, count, sum, rate, p(N))", s)
	}
	raw := m[1]
	if raw == "" {
		raw = m[2]
	}
	p, err := strconv.ParseFloat(raw, 64)
	if err != nil || p < 0 || p > 100 {
		return Stat{}, fmt.Errorf("invalid percentile %q: must be between 0 and 100", s)
	}
	return Stat{Name: StatPercentile, Percentile: p}, nil
}

// Supports reports whether the statistic is defined for a metric kind.
func (s Stat) Supports(kind Kind) bool {
	switch kind {
	case KindTrend:
		switch s.Name {
		case StatAvg, StatMin, StatMax, StatMed, StatCount, StatSum, StatPercentile:
			return true
		}
	case KindRate:
		switch s.Name {
		case StatRate, StatCount, StatPasses, StatFails:
			return true
		}
	case KindCounter:
		switch s.Name {
		case StatCount, StatSum, StatRate:
			return true
		}
	}
	return false
}

func (s Stat) String() string {
	if s.Name == StatPercentile {
		return FormatPercentile(s.Percentile)
	}
	return s.Name
}

// FormatPercentile renders a percentile the way thresholds spell it: p(95), p(99.9).
func FormatPercentile(p float64) string {
	if p == math.Trunc(p) {
		return fmt.Sprintf("p(%d)", int(p))
	}
	return "p(" + strconv.FormatFloat(p, 'f', -1, 64) + ")"
}
