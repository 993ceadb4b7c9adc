// Package rate computes iteration start times for open-model executors.
//
// Start times are laid on a fixed grid measured from the beginning of the
// run rather than from the previous start, so scheduler wake-up latency never
// accumulates into drift and starts stay strictly ordered.
//
// # Example
//
//	s := NewConstantSchedule(30, time.Second, 12*time.Hour)
//	start := time.Now()
//	for {
//	    offset, ok := s.Next()
//	    if !ok {
//	        break
//	    }
//	    time.Sleep(time.Until(start.Add(offset)))
//	    // start an iteration
//	}
package rate

import (
	"math"
	"time"
)

// Schedule yields iteration start offsets relative to the start of the run.
//
// Next is consumed by a single scheduler loop and is not safe for concurrent
// use. RateAt and Duration only read the configuration and may be called from
// any goroutine.
type Schedule interface {
	// Next returns the offset of the next start, or false once no start
	// remains before the end of the schedule.
	Next() (time.Duration, bool)

	// RateAt returns the target rate, in iterations per second, at offset.
	RateAt(offset time.Duration) float64

	// Duration returns the length of the schedule.
	Duration() time.Duration
}

// ConstantSchedule spaces starts every timeUnit/rate.
type ConstantSchedule struct {
	perSecond float64
	interval  float64 // nanoseconds between starts
	duration  time.Duration
	next      int64
}

// NewConstantSchedule creates a schedule of rate starts per timeUnit over duration.
//
// Exactly the grid points strictly before duration are produced, so a rate
// of R per second over D seconds yields R*D starts.
func NewConstantSchedule(rate float64, timeUnit, duration time.Duration) *ConstantSchedule {
	if timeUnit <= 0 {
		timeUnit = time.Second
	}
	s := &ConstantSchedule{duration: duration}
	if rate > 0 {
		s.interval = float64(timeUnit) / rate
		s.perSecond = rate * float64(time.Second) / float64(timeUnit)
	}
	return s
}

// Next implements Schedule.
func (s *ConstantSchedule) Next() (time.Duration, bool) {
	if s.interval <= 0 {
		return 0, false
	}
	offset := time.Duration(math.Round(float64(s.next) * s.interval))
	if offset >= s.duration {
		return 0, false
	}
	s.next++
	return offset, true
}

// RateAt implements Schedule.
func (s *ConstantSchedule) RateAt(offset time.Duration) float64 {
	if offset < 0 || offset >= s.duration {
		return 0
	}
	return s.perSecond
}

// Duration implements Schedule.
func (s *ConstantSchedule) Duration() time.Duration {
	return s.duration
}

// Stage is one segment of a ramping schedule: the rate moves linearly from
// the previous target to Target over Duration.
type Stage struct {
	Duration time.Duration
	Target   float64
}

// RampingSchedule starts iterations following a piecewise-linear rate.
//
// The i-th start (counting from zero) happens at the instant the integral
// of the rate reaches i.
type RampingSchedule struct {
	startRate float64
	stages    []Stage
	timeUnit  time.Duration
	total     time.Duration

	next       int64
	stage      int
	stageStart time.Duration
	stageFrom  float64 // rate at the start of the current stage, per nanosecond
	cumulative float64 // starts owed at the beginning of the current stage
}

// NewRampingSchedule creates a schedule that starts at startRate per timeUnit
// and walks through stages.
func NewRampingSchedule(startRate float64, timeUnit time.Duration, stages []Stage) *RampingSchedule {
	if timeUnit <= 0 {
		timeUnit = time.Second
	}
	s := &RampingSchedule{
		startRate: startRate,
		stages:    stages,
		timeUnit:  timeUnit,
	}
	for _, st := range stages {
		s.total += st.Duration
	}
	s.stageFrom = s.perNano(startRate)
	return s
}

func (s *RampingSchedule) perNano(r float64) float64 {
	return r / float64(s.timeUnit)
}

// Next implements Schedule.
func (s *RampingSchedule) Next() (time.Duration, bool) {
	target := float64(s.next)

	for s.stage < len(s.stages) {
		st := s.stages[s.stage]
		d := float64(st.Duration)
		r0 := s.stageFrom
		r1 := s.perNano(st.Target)

		owed := target - s.cumulative
		stageCount := (r0 + r1) / 2 * d

		if owed < stageCount {
			x, ok := solve(r0, r1, d, owed)
			if ok {
				offset := s.stageStart + time.Duration(math.Round(x))
				if offset < s.stageStart+st.Duration {
					s.next++
					return offset, true
				}
			}
		}

		s.cumulative += stageCount
		s.stageStart += st.Duration
		s.stageFrom = r1
		s.stage++
	}

	return 0, false
}

// solve finds the smallest x in [0, d] with r0*x + (r1-r0)/(2d)*x^2 = k.
func solve(r0, r1, d, k float64) (float64, bool) {
	if k <= 0 {
		return 0, true
	}
	if d <= 0 {
		return 0, false
	}
	a := (r1 - r0) / (2 * d)
	disc := r0*r0 + 4*a*k
	if disc < 0 {
		return 0, false
	}
	denom := r0 + math.Sqrt(disc)
	if denom <= 0 {
		return 0, false
	}
	x := 2 * k / denom
	if x > d {
		return 0, false
	}
	return x, true
}

// RateAt implements Schedule.
func (s *RampingSchedule) RateAt(offset time.Duration) float64 {
	if offset < 0 {
		return 0
	}
	from := s.startRate
	var stageStart time.Duration
	for _, st := range s.stages {
		if offset < stageStart+st.Duration {
			progress := float64(offset-stageStart) / float64(st.Duration)
			r := from + (st.Target-from)*progress
			return r * float64(time.Second) / float64(s.timeUnit)
		}
		from = st.Target
		stageStart += st.Duration
	}
	return 0
}

// Duration implements Schedule.
func (s *RampingSchedule) Duration() time.Duration {
	return s.total
}
