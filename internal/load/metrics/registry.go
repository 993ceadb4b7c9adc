package metrics

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

var (
	// ErrKindMismatch is returned when a sample is recorded under a kind
	// different from the one the metric was first bound to.
	ErrKindMismatch = errors.New("metric kind mismatch")

	// ErrSealed is returned when recording into a registry that has already
	// produced its snapshot.
	ErrSealed = errors.New("metrics registry is sealed")
)

// Config contains configuration for the registry.
type Config struct {
	// HistogramMin is the minimum recordable trend value in microseconds (default: 1)
	HistogramMin int64

	// HistogramMax is the maximum recordable trend value in microseconds (default: 3600000000 = 1 hour)
	HistogramMax int64

	// HistogramSigFigs is the number of significant figures (default: 3)
	HistogramSigFigs int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		HistogramMin:     1,
		HistogramMax:     3600000000,
		HistogramSigFigs: 3,
	}
}

// Registry is a thread-safe accumulator of counters, trends and rates keyed
// by metric name.
//
// # Thread Safety
//
// Registry is safe for concurrent use. The name table is guarded by an
// RWMutex that is only written when a metric is first seen; counters and
// rates are updated with atomics and trends take a short per-metric lock.
// No lock is ever held while the caller performs I/O.
//
// Snapshot must only be called once every recording goroutine has finished.
// It seals the registry: anything recorded afterwards is counted as
// discarded and otherwise ignored.
type Registry struct {
	config Config

	mu      sync.RWMutex
	metrics map[string]*metric

	startTime time.Time
	sealed    atomic.Bool
	discarded atomic.Int64
}

type metric struct {
	name string
	kind Kind

	// observations, for every kind
	count atomic.Int64

	// counter: running sum stored as float64 bits
	sumBits atomic.Uint64

	// rate: observations that were true
	trues atomic.Int64

	// trend
	mu   sync.Mutex
	hist *hdrhistogram.Histogram
	sum  float64
	min  float64
	max  float64
}

// NewRegistry creates a registry with default configuration.
func NewRegistry() *Registry {
	return NewRegistryWithConfig(DefaultConfig())
}

// NewRegistryWithConfig creates a registry with custom configuration.
func NewRegistryWithConfig(config Config) *Registry {
	def := DefaultConfig()
	if config.HistogramMin <= 0 {
		config.HistogramMin = def.HistogramMin
	}
	if config.HistogramMax <= config.HistogramMin {
		config.HistogramMax = def.HistogramMax
	}
	if config.HistogramSigFigs <= 0 {
		config.HistogramSigFigs = def.HistogramSigFigs
	}
	return &Registry{
		config:    config,
		metrics:   make(map[string]*metric),
		startTime: time.Now(),
	}
}

// Declare binds name to kind without recording a sample. Declared metrics
// appear in the snapshot with zero observations.
func (r *Registry) Declare(name string, kind Kind) error {
	_, err := r.lookup(name, kind)
	return err
}

// Kind returns the kind a metric is bound to.
func (r *Registry) Kind(name string) (Kind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.metrics[name]
	if !ok {
		return 0, false
	}
	return m.kind, true
}

// Record records one sample.
//
// For counters value is added to the sum, for trends it is one observation
// (durations are expressed in milliseconds), and for rates any non-zero
// value counts as true.
func (r *Registry) Record(name string, value float64, kind Kind) error {
	if r.sealed.Load() {
		r.discarded.Add(1)
		return ErrSealed
	}

	m, err := r.lookup(name, kind)
	if err != nil {
		return err
	}

	switch kind {
	case KindCounter:
		m.count.Add(1)
		addFloat(&m.sumBits, value)
	case KindRate:
		m.count.Add(1)
		if value != 0 {
			m.trues.Add(1)
		}
	case KindTrend:
		r.observe(m, value)
	}
	return nil
}

// Add adds value to a counter.
func (r *Registry) Add(name string, value float64) {
	_ = r.Record(name, value, KindCounter)
}

// Observe records a trend observation.
func (r *Registry) Observe(name string, value float64) {
	_ = r.Record(name, value, KindTrend)
}

// ObserveDuration records a duration as a trend observation in milliseconds.
func (r *Registry) ObserveDuration(name string, d time.Duration) {
	r.Observe(name, float64(d)/float64(time.Millisecond))
}

// Mark records a boolean observation on a rate.
func (r *Registry) Mark(name string, ok bool) {
	v := 0.0
	if ok {
		v = 1
	}
	_ = r.Record(name, v, KindRate)
}

// Discarded returns the number of samples recorded after the registry was sealed.
func (r *Registry) Discarded() int64 {
	return r.discarded.Load()
}

// lookup returns the metric for name, creating it on first use.
func (r *Registry) lookup(name string, kind Kind) (*metric, error) {
	if kind < KindCounter || kind > KindRate {
		return nil, fmt.Errorf("metric %q: invalid kind %d", name, kind)
	}

	r.mu.RLock()
	m, ok := r.metrics[name]
	r.mu.RUnlock()

	if !ok {
		r.mu.Lock()
		m, ok = r.metrics[name]
		if !ok {
			m = &metric{name: name, kind: kind}
			if kind == KindTrend {
				m.hist = hdrhistogram.New(r.config.HistogramMin, r.config.HistogramMax, r.config.HistogramSigFigs)
				m.min = math.Inf(1)
				m.max = math.Inf(-1)
			}
			r.metrics[name] = m
		}
		r.mu.Unlock()
	}

	if m.kind != kind {
		return nil, fmt.Errorf("%w: %q is a %s, got %s", ErrKindMismatch, name, m.kind, kind)
	}
	return m, nil
}

// observe records a trend value. The histogram holds microsecond units so
// sub-millisecond latencies keep their resolution.
func (r *Registry) observe(m *metric, value float64) {
	scaled := int64(math.Round(value * 1000))
	if scaled < r.config.HistogramMin {
		scaled = r.config.HistogramMin
	}
	if scaled > r.config.HistogramMax {
		scaled = r.config.HistogramMax
	}

	// NOTE: HDR histogram RecordValue is NOT thread-safe, so we must hold a lock.
	m.mu.Lock()
	_ = m.hist.RecordValue(scaled)
	m.sum += value
	if value < m.min {
		m.min = value
	}
	if value > m.max {
		m.max = value
	}
	m.count.Add(1)
	m.mu.Unlock()
}

func addFloat(bits *atomic.Uint64, delta float64) {
	for {
		old := bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if bits.CompareAndSwap(old, next) {
			return
		}
	}
}

// Snapshot seals the registry and returns an immutable aggregate view.
//
// Callers must ensure quiescence first: every goroutine that records into
// the registry has returned.
func (r *Registry) Snapshot() *Snapshot {
	r.sealed.Store(true)

	elapsed := time.Since(r.startTime)

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := &Snapshot{
		StartTime: r.startTime,
		Elapsed:   elapsed,
		Metrics:   make(map[string]*Summary, len(r.metrics)),
	}

	for name, m := range r.metrics {
		out.Metrics[name] = m.summarize(elapsed, r.config)
	}
	return out
}

func (m *metric) summarize(elapsed time.Duration, config Config) *Summary {
	s := &Summary{
		Name:  m.name,
		Kind:  m.kind,
		Count: m.count.Load(),
	}

	switch m.kind {
	case KindCounter:
		s.Sum = math.Float64frombits(m.sumBits.Load())
		if elapsed > 0 {
			s.Rate = s.Sum / elapsed.Seconds()
		}

	case KindRate:
		s.Passes = m.trues.Load()
		s.Fails = s.Count - s.Passes
		if s.Count > 0 {
			s.Rate = float64(s.Passes) / float64(s.Count)
		}

	case KindTrend:
		m.mu.Lock()
		hist := hdrhistogram.New(config.HistogramMin, config.HistogramMax, config.HistogramSigFigs)
		hist.Merge(m.hist)
		s.Count = m.count.Load()
		if s.Count > 0 {
			s.Sum = m.sum
			s.Min = m.min
			s.Max = m.max
			s.Avg = m.sum / float64(s.Count)
		}
		m.mu.Unlock()

		s.hist = hist
		s.Percentiles = make(map[string]float64, len(reportedPercentiles))
		for _, p := range reportedPercentiles {
			s.Percentiles[FormatPercentile(p)] = s.Quantile(p)
		}
		s.Med = s.Quantile(50)
	}

	return s
}
