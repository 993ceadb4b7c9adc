package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/wesleyorama2/stampede/internal/load/checks"
	"github.com/wesleyorama2/stampede/internal/load/metrics"
	"github.com/wesleyorama2/stampede/internal/load/threshold"
)

// Process exit codes for a finished run.
const (
	ExitOK               = 0
	ExitEngineError      = 1
	ExitThresholdsFailed = 99
)

// RunSummary is the immutable outcome of a run.
type RunSummary struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	StartTime   time.Time     `json:"startTime"`
	EndTime     time.Time     `json:"endTime"`
	Duration    time.Duration `json:"duration"`

	Scenarios map[string]*ScenarioResult `json:"scenarios"`

	Metrics    *metrics.Snapshot  `json:"metrics"`
	Checks     []checks.Result    `json:"checks,omitempty"`
	Thresholds []threshold.Result `json:"thresholds,omitempty"`

	// SummaryTrendStats are the statistics reported for trend metrics
	SummaryTrendStats []string `json:"summaryTrendStats,omitempty"`

	// Passed is true when every threshold passed
	Passed bool `json:"passed"`
}

// ScenarioResult contains the results of a single scenario.
type ScenarioResult struct {
	Name              string        `json:"name"`
	Executor          string        `json:"executor"`
	StartTime         time.Time     `json:"startTime,omitempty"`
	Duration          time.Duration `json:"duration"`
	Iterations        int64         `json:"iterations"`
	DroppedIterations int64         `json:"droppedIterations"`
	PeakVUs           int           `json:"peakVUs"`
	Interrupted       bool          `json:"interrupted"`
	Skipped           bool          `json:"skipped,omitempty"`
	Error             string        `json:"error,omitempty"`
}

// ExitCode maps the verdict to a process exit code.
func (s *RunSummary) ExitCode() int {
	if s.Passed {
		return ExitOK
	}
	return ExitThresholdsFailed
}

// FailedThresholds returns every threshold that did not pass.
func (s *RunSummary) FailedThresholds() []threshold.Result {
	var failed []threshold.Result
	for _, r := range s.Thresholds {
		if !r.Passed() {
			failed = append(failed, r)
		}
	}
	return failed
}

func newRunSummary(plan Plan, start, end time.Time, runs []*scenarioRun, snapshot *metrics.Snapshot,
	checkResults []checks.Result, verdict threshold.Verdict) *RunSummary {
	summary := &RunSummary{
		ID:                uuid.NewString(),
		Name:              plan.Name,
		Description:       plan.Description,
		StartTime:         start,
		EndTime:           end,
		Duration:          end.Sub(start),
		Scenarios:         make(map[string]*ScenarioResult, len(runs)),
		Metrics:           snapshot,
		Checks:            checkResults,
		Thresholds:        verdict.Results,
		SummaryTrendStats: plan.SummaryTrendStats,
		Passed:            verdict.Passed,
	}

	for _, r := range runs {
		res := &ScenarioResult{
			Name:     r.plan.Name(),
			Executor: string(r.exec.Type()),
			Skipped:  !r.ran,
		}
		if r.ran {
			stats := r.exec.GetStats()
			res.StartTime = r.started
			res.Duration = r.ended.Sub(r.started)
			res.Iterations = stats.Iterations
			res.DroppedIterations = stats.DroppedIterations
			res.PeakVUs = stats.PeakVUs
			res.Interrupted = stats.Interrupted
		}
		if r.err != nil {
			res.Error = r.err.Error()
		}
		summary.Scenarios[res.Name] = res
	}
	return summary
}
