package output

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wesleyorama2/stampede/internal/load/checks"
	"github.com/wesleyorama2/stampede/internal/load/config"
	"github.com/wesleyorama2/stampede/internal/load/engine"
	"github.com/wesleyorama2/stampede/internal/load/executor"
	"github.com/wesleyorama2/stampede/internal/load/metrics"
	"github.com/wesleyorama2/stampede/internal/load/threshold"
)

func sampleSummary(t *testing.T, passed bool) *engine.RunSummary {
	t.Helper()
	reg := metrics.NewRegistry()
	for name, kind := range metrics.Builtins() {
		if err := reg.Declare(name, kind); err != nil {
			t.Fatalf("Declare(%s) error = %v", name, err)
		}
	}
	for i := 1; i <= 10; i++ {
		reg.Observe(metrics.HTTPReqDuration, float64(i*10))
		reg.Add(metrics.HTTPReqs, 1)
		reg.Mark(metrics.HTTPReqFailed, i == 10)
		reg.Add(metrics.DataReceived, 2500)
	}

	chk := checks.NewRegistry()
	for i := 0; i < 10; i++ {
		chk.Record("service is ready", true)
		chk.Record("hotel created", i < 9)
	}

	results := []threshold.Result{
		{Metric: "http_req_duration", Expression: "p(95)<500", Status: threshold.StatusPassed, Actual: 100},
		{Metric: "iteration_duration", Expression: "avg<100", Status: threshold.StatusIndeterminate, Message: "no samples"},
	}
	if !passed {
		results = append(results, threshold.Result{
			Metric: "http_req_failed", Expression: "rate<0.01", Status: threshold.StatusFailed, Actual: 0.1,
		})
	}

	return &engine.RunSummary{
		Name:     "soak",
		Duration: 15 * time.Second,
		Scenarios: map[string]*engine.ScenarioResult{
			"soak":  {Name: "soak", Executor: "constant-vus", Iterations: 10, PeakVUs: 10, Duration: 15 * time.Second},
			"later": {Name: "later", Executor: "constant-vus", Skipped: true},
		},
		Metrics:           reg.Snapshot(),
		Checks:            chk.Snapshot(),
		Thresholds:        results,
		SummaryTrendStats: []string{"avg", "p(95)"},
		Passed:            passed,
	}
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(ConsoleConfig{Writer: &buf, NoColor: true})
	c.PrintSummary(sampleSummary(t, false))
	out := buf.String()

	for _, want := range []string{
		"✓ service is ready",
		"✗ hotel created",
		"90.00%  ✓ 9 / ✗ 1",
		"http_req_duration...............: avg=55.00ms p(95)=",
		"http_req_failed.................: 10.00% ✓ 1 ✗ 9",
		"http_reqs.......................: 10 ",
		"data_received...................: 25.0 kB",
		"✓ http_req_duration p(95)<500 (actual: 100)",
		"? iteration_duration avg<100 (indeterminate: no samples)",
		"✗ http_req_failed rate<0.01 (actual: 0.1)",
		"scenario later: skipped",
		"scenario soak: 10 iterations in 15.0s, peak 10 VUs",
		"FAILED (2 of 3 thresholds did not pass)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q\n%s", want, out)
		}
	}

	// empty metrics are not listed
	if strings.Contains(out, "dropped_iterations") {
		t.Errorf("summary lists an empty metric\n%s", out)
	}
	if strings.Contains(out, "\033[") {
		t.Error("summary contains ANSI codes with NoColor")
	}
}

func TestPrintSummary_Quiet(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(ConsoleConfig{Writer: &buf, Quiet: true, NoColor: true})
	c.PrintSummary(sampleSummary(t, true))

	if got := strings.TrimSpace(buf.String()); got != "PASSED" {
		t.Errorf("quiet summary = %q, want PASSED", got)
	}
}

func TestPrintSummary_ForceColors(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(ConsoleConfig{Writer: &buf, ForceColors: true})
	c.PrintSummary(sampleSummary(t, true))

	if !strings.Contains(buf.String(), "\033[") {
		t.Error("expected ANSI codes with ForceColors")
	}
}

func TestPrintHeader(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(ConsoleConfig{Writer: &buf, NoColor: true})
	c.PrintHeader(&config.TestConfig{
		Name: "synthetic traffic",
		Scenarios: map[string]*config.ScenarioConfig{
			"traffic": {Executor: "constant-arrival-rate", Rate: 30, Duration: "12h", PreAllocatedVUs: 20, MaxVUs: 100},
		},
	})

	out := buf.String()
	if !strings.Contains(out, "synthetic traffic - Running") {
		t.Errorf("header missing name\n%s", out)
	}
	if !strings.Contains(out, "scenario traffic: 30 iterations/1s for 12h, 20-100 VUs (constant-arrival-rate)") {
		t.Errorf("header missing scenario line\n%s", out)
	}
}

func TestUpdate(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(ConsoleConfig{Writer: &buf, NoColor: true})
	stats := StatsFromEngine(2*time.Second, 0.5, map[string]*executor.Stats{
		"a": {ActiveVUs: 3, Iterations: 40, DroppedIterations: 1},
		"b": {ActiveVUs: 2, Iterations: 10},
	})
	c.Update(stats)

	want := "[███████████████░░░░░░░░░░░░░░░]  50% | 2.0s | VUs: 5 | iterations: 50 | dropped: 1\n"
	if buf.String() != want {
		t.Errorf("Update() wrote %q, want %q", buf.String(), want)
	}

	buf.Reset()
	quiet := NewConsole(ConsoleConfig{Writer: &buf, Quiet: true})
	quiet.Update(stats)
	if buf.Len() != 0 {
		t.Errorf("quiet Update() wrote %q", buf.String())
	}
}

func TestWriteJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summary.json")
	if err := WriteJSONFile(path, sampleSummary(t, true)); err != nil {
		t.Fatalf("WriteJSONFile() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	type snapshot struct {
		Metrics map[string]json.RawMessage `json:"metrics"`
	}
	var decoded struct {
		Name       string             `json:"name"`
		Passed     bool               `json:"passed"`
		Thresholds []threshold.Result `json:"thresholds"`
		Metrics    snapshot           `json:"metrics"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded.Name != "soak" || !decoded.Passed || len(decoded.Thresholds) != 2 {
		t.Errorf("decoded = %+v", decoded)
	}
	if _, ok := decoded.Metrics.Metrics[metrics.HTTPReqDuration]; !ok {
		t.Error("JSON summary has no http_req_duration")
	}
}

func TestFormatters(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"duration ms", formatDuration(500 * time.Millisecond), "500ms"},
		{"duration min", formatDuration(90 * time.Second), "1m30s"},
		{"duration hour", formatDuration(time.Hour + 2*time.Minute + 3*time.Second), "1h02m03s"},
		{"millis us", formatMillis(0.5), "500.00µs"},
		{"millis ms", formatMillis(12.5), "12.50ms"},
		{"millis s", formatMillis(1500), "1.50s"},
		{"float int", formatFloat(42), "42"},
		{"float frac", formatFloat(0.125), "0.125"},
		{"float long", formatFloat(1.0 / 3.0), "0.3333"},
		{"bytes", formatBytes(999), "999 B"},
		{"kilobytes", formatBytes(12500), "12.5 kB"},
		{"megabytes", formatBytes(3_400_000), "3.4 MB"},
		{"percent", formatPercent(0.02), "2.00%"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}
