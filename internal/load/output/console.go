// Package output renders run summaries and live progress for the CLI.
package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/wesleyorama2/stampede/internal/load/config"
	"github.com/wesleyorama2/stampede/internal/load/engine"
	"github.com/wesleyorama2/stampede/internal/load/executor"
	"github.com/wesleyorama2/stampede/internal/load/metrics"
	"github.com/wesleyorama2/stampede/internal/load/threshold"
)

const (
	boxHorizontal  = "━"
	progressFilled = "█"
	progressEmpty  = "░"

	// metric names are dot-padded to this width
	nameWidth = 32
)

// palette holds the colors used by the console.
type palette struct {
	title   *color.Color
	rule    *color.Color
	pass    *color.Color
	fail    *color.Color
	unknown *color.Color
	value   *color.Color
	dim     *color.Color
}

func newPalette(enabled bool) *palette {
	p := &palette{
		title:   color.New(color.Bold),
		rule:    color.New(color.FgCyan),
		pass:    color.New(color.FgGreen),
		fail:    color.New(color.FgRed),
		unknown: color.New(color.FgYellow),
		value:   color.New(color.FgCyan),
		dim:     color.New(color.Faint),
	}
	for _, c := range []*color.Color{p.title, p.rule, p.pass, p.fail, p.unknown, p.value, p.dim} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// LiveStats is a point-in-time view of a running test.
type LiveStats struct {
	Elapsed    time.Duration
	Progress   float64
	ActiveVUs  int
	Iterations int64
	Dropped    int64
}

// StatsFromEngine collects LiveStats from the per-scenario executor stats.
func StatsFromEngine(elapsed time.Duration, progress float64, scenarios map[string]*executor.Stats) *LiveStats {
	stats := &LiveStats{Elapsed: elapsed, Progress: progress}
	for _, s := range scenarios {
		stats.ActiveVUs += s.ActiveVUs
		stats.Iterations += s.Iterations
		stats.Dropped += s.DroppedIterations
	}
	return stats
}

// Console writes the run header, live progress and final summary.
type Console struct {
	writer io.Writer
	isTTY  bool
	quiet  bool
	colors *palette

	mu       sync.Mutex
	progress bool // a progress line is pending a newline
}

// ConsoleConfig contains configuration for Console.
type ConsoleConfig struct {
	Writer      io.Writer
	Quiet       bool
	NoColor     bool
	ForceColors bool
	ForceTTY    bool
}

// NewConsole creates a console writer.
func NewConsole(cfg ConsoleConfig) *Console {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}
	isTTY := cfg.ForceTTY || isTerminal(cfg.Writer)
	useColors := !cfg.NoColor && (cfg.ForceColors || (isTTY && supportsColors()))

	return &Console{
		writer: cfg.Writer,
		isTTY:  isTTY,
		quiet:  cfg.Quiet,
		colors: newPalette(useColors),
	}
}

// IsTTY returns whether the output is a terminal.
func (c *Console) IsTTY() bool {
	return c.isTTY
}

// PrintHeader prints the test name and one line per scenario.
func (c *Console) PrintHeader(cfg *config.TestConfig) {
	if c.quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	rule := c.colors.rule.Sprint(strings.Repeat(boxHorizontal, 56))
	c.writeln(rule)
	c.writeln(c.colors.title.Sprintf("%s - Running", cfg.Name))
	c.writeln(rule)

	names := make([]string, 0, len(cfg.Scenarios))
	for name := range cfg.Scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c.writeln(fmt.Sprintf("  scenario %s: %s", c.colors.value.Sprint(name), describeScenario(cfg.Scenarios[name])))
	}
	c.writeln("")
}

func describeScenario(sc *config.ScenarioConfig) string {
	switch sc.Executor {
	case "constant-vus":
		return fmt.Sprintf("%d VUs for %s (constant-vus)", sc.VUs, sc.Duration)
	case "ramping-vus":
		return fmt.Sprintf("%d stages from %d VUs (ramping-vus)", len(sc.Stages), sc.StartVUs)
	case "constant-arrival-rate":
		unit := sc.TimeUnit
		if unit == "" {
			unit = "1s"
		}
		return fmt.Sprintf("%g iterations/%s for %s, %d-%d VUs (constant-arrival-rate)",
			sc.Rate, unit, sc.Duration, sc.PreAllocatedVUs, sc.MaxVUs)
	case "ramping-arrival-rate":
		return fmt.Sprintf("%d stages from %g iterations, %d-%d VUs (ramping-arrival-rate)",
			len(sc.Stages), sc.StartRate, sc.PreAllocatedVUs, sc.MaxVUs)
	case "per-vu-iterations":
		return fmt.Sprintf("%d iterations for each of %d VUs (per-vu-iterations)", sc.Iterations, sc.VUs)
	case "shared-iterations":
		return fmt.Sprintf("%d iterations shared among %d VUs (shared-iterations)", sc.Iterations, sc.VUs)
	}
	return sc.Executor
}

// Update shows live progress. On a terminal the line is rewritten in place;
// otherwise one line is printed per call.
func (c *Console) Update(stats *LiveStats) {
	if c.quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	line := fmt.Sprintf("%s %3.0f%% | %s | VUs: %d | iterations: %d | dropped: %d",
		renderProgressBar(stats.Progress, 30),
		stats.Progress*100,
		formatDuration(stats.Elapsed),
		stats.ActiveVUs,
		stats.Iterations,
		stats.Dropped)

	if c.isTTY {
		fmt.Fprint(c.writer, "\r\033[2K"+c.colors.pass.Sprint(line))
		c.progress = true
		return
	}
	c.writeln(line)
}

func renderProgressBar(progress float64, width int) string {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	filled := int(progress * float64(width))
	return "[" + strings.Repeat(progressFilled, filled) + strings.Repeat(progressEmpty, width-filled) + "]"
}

// PrintSummary prints the end-of-test summary: checks, metrics, thresholds
// and the verdict. In quiet mode only the verdict is printed.
func (c *Console) PrintSummary(summary *engine.RunSummary) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.progress {
		c.writeln("")
		c.progress = false
	}

	if c.quiet {
		c.writeln(c.verdict(summary))
		return
	}

	rule := c.colors.rule.Sprint(strings.Repeat(boxHorizontal, 56))
	c.writeln("")
	c.writeln(rule)
	c.writeln(c.colors.title.Sprintf("%s - %s", summary.Name, formatDuration(summary.Duration)))
	c.writeln(rule)
	c.writeln("")

	c.printScenarios(summary)
	if len(summary.Checks) > 0 {
		c.printChecks(summary)
	}
	c.printMetrics(summary)
	if len(summary.Thresholds) > 0 {
		c.printThresholds(summary)
	}
	c.writeln(c.verdict(summary))
}

func (c *Console) verdict(summary *engine.RunSummary) string {
	if summary.Passed {
		return c.colors.pass.Sprint("PASSED")
	}
	return c.colors.fail.Sprintf("FAILED (%d of %d thresholds did not pass)",
		len(summary.FailedThresholds()), len(summary.Thresholds))
}

func (c *Console) printScenarios(summary *engine.RunSummary) {
	names := make([]string, 0, len(summary.Scenarios))
	for name := range summary.Scenarios {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		s := summary.Scenarios[name]
		switch {
		case s.Skipped:
			c.writeln(fmt.Sprintf("     scenario %s: %s", name, c.colors.dim.Sprint("skipped")))
		default:
			line := fmt.Sprintf("     scenario %s: %d iterations in %s, peak %d VUs",
				name, s.Iterations, formatDuration(s.Duration), s.PeakVUs)
			if s.DroppedIterations > 0 {
				line += c.colors.unknown.Sprintf(", %d dropped", s.DroppedIterations)
			}
			if s.Interrupted {
				line += c.colors.unknown.Sprint(", interrupted")
			}
			c.writeln(line)
		}
		if s.Error != "" {
			c.writeln("       " + c.colors.fail.Sprint(s.Error))
		}
	}
	c.writeln("")
}

func (c *Console) printChecks(summary *engine.RunSummary) {
	for _, chk := range summary.Checks {
		if chk.Fails == 0 {
			c.writeln(fmt.Sprintf("     %s %s", c.colors.pass.Sprint("✓"), chk.Name))
			continue
		}
		c.writeln(fmt.Sprintf("     %s %s", c.colors.fail.Sprint("✗"), chk.Name))
		c.writeln(c.colors.fail.Sprintf("      ↳  %s  ✓ %d / ✗ %d", formatPercent(chk.Rate), chk.Passes, chk.Fails))
	}
	c.writeln("")
}

func (c *Console) printMetrics(summary *engine.RunSummary) {
	if summary.Metrics == nil {
		return
	}
	stats := summary.SummaryTrendStats
	if len(stats) == 0 {
		stats = config.DefaultSummaryTrendStats
	}

	for _, name := range summary.Metrics.Names() {
		m, _ := summary.Metrics.Get(name)
		if m.Empty() {
			continue
		}
		c.writeln(fmt.Sprintf("     %s: %s", padName(name), c.formatMetric(name, m, stats)))
	}
	c.writeln("")
}

func padName(name string) string {
	if len(name) >= nameWidth {
		return name
	}
	return name + strings.Repeat(".", nameWidth-len(name))
}

func (c *Console) formatMetric(name string, m *metrics.Summary, stats []string) string {
	switch m.Kind {
	case metrics.KindCounter:
		if isByteMetric(name) {
			return fmt.Sprintf("%s %s/s", c.colors.value.Sprint(formatBytes(m.Sum)), formatBytes(m.Rate))
		}
		return fmt.Sprintf("%s %s/s", c.colors.value.Sprint(formatFloat(m.Sum)), formatFloat(m.Rate))
	case metrics.KindRate:
		return fmt.Sprintf("%s ✓ %d ✗ %d", c.colors.value.Sprint(formatPercent(m.Rate)), m.Passes, m.Fails)
	case metrics.KindTrend:
		parts := make([]string, 0, len(stats))
		for _, s := range stats {
			stat, err := metrics.ParseStat(s)
			if err != nil {
				continue
			}
			v, err := m.Value(stat)
			if err != nil {
				continue
			}
			parts = append(parts, fmt.Sprintf("%s=%s", s, c.colors.value.Sprint(formatTrendValue(name, v))))
		}
		return strings.Join(parts, " ")
	}
	return ""
}

func (c *Console) printThresholds(summary *engine.RunSummary) {
	c.writeln(c.colors.title.Sprint("     thresholds:"))
	for _, r := range summary.Thresholds {
		var mark string
		switch r.Status {
		case threshold.StatusPassed:
			mark = c.colors.pass.Sprint("✓")
		case threshold.StatusFailed:
			mark = c.colors.fail.Sprint("✗")
		default:
			mark = c.colors.unknown.Sprint("?")
		}
		line := fmt.Sprintf("     %s %s %s", mark, r.Metric, r.Expression)
		switch r.Status {
		case threshold.StatusPassed, threshold.StatusFailed:
			line += c.colors.dim.Sprintf(" (actual: %s)", formatFloat(r.Actual))
		default:
			line += c.colors.unknown.Sprintf(" (%s: %s)", r.Status, r.Message)
		}
		c.writeln(line)
	}
	c.writeln("")
}

func (c *Console) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}
