package cli

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/stampede/internal/load/config"
	"github.com/wesleyorama2/stampede/internal/load/engine"
	"github.com/wesleyorama2/stampede/internal/load/output"
)

type runOptions struct {
	configFile string
	baseURL    string
	env        []string
	trendStats []string
	out        string
	quiet      bool
	verbose    bool
	noColor    bool

	// overrides
	vus      int
	duration string

	// quick mode, without a config file
	url             string
	executor        string
	stages          string
	rate            float64
	maxVUs          int
	preAllocatedVUs int
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a load test",
		Long: `Run the scenarios of a configuration file and evaluate its thresholds.

Config file mode:
  stampede run -c scenarios/soak.yaml --base-url http://localhost:8080

Quick mode (single GET scenario):
  stampede run --url http://localhost:8080/ready --vus 10 --duration 30s

  stampede run --url http://localhost:8080/hotels \
    --executor ramping-vus --stages "5s:50,5s:100,5s:0"

  stampede run --url http://localhost:8080/hotels \
    --executor constant-arrival-rate --rate 30 --duration 1m --max-vus 100

--vus and --duration replace every scenario of the file with a
constant-vus scenario running that many VUs for that long.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoadTest(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configFile, "config", "c", "", "Configuration file (YAML or JSON)")
	f.StringVar(&opts.baseURL, "base-url", "", "Base URL of the service under test (overrides BASE_URL and settings.baseUrl)")
	f.StringArrayVarP(&opts.env, "env", "e", nil, "Variable as KEY=VALUE, repeatable")
	f.IntVar(&opts.vus, "vus", 0, "Number of virtual users")
	f.StringVar(&opts.duration, "duration", "", "Test duration (e.g., 5m, 30s)")
	f.StringSliceVar(&opts.trendStats, "summary-trend-stats", nil, "Trend statistics shown in the summary, e.g. avg,p(95)")
	f.StringVarP(&opts.out, "out", "o", "", "Write the JSON summary to this file")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "Disable live progress output, show only the verdict")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")
	f.BoolVar(&opts.noColor, "no-color", false, "Disable colored output")

	f.StringVar(&opts.url, "url", "", "URL to test (alternative to --config)")
	f.StringVar(&opts.executor, "executor", "", "Executor type of the quick-mode scenario")
	f.StringVar(&opts.stages, "stages", "", "Stages as 'duration:target,...' for ramping executors")
	f.Float64Var(&opts.rate, "rate", 0, "Iterations per second for arrival-rate executors")
	f.IntVar(&opts.maxVUs, "max-vus", 0, "Maximum VUs for arrival-rate executors")
	f.IntVar(&opts.preAllocatedVUs, "pre-allocated-vus", 0, "Pre-allocated VUs for arrival-rate executors")

	cmd.MarkFlagsMutuallyExclusive("config", "url")
	return cmd
}

// loadTestConfig builds the final configuration: file or quick mode, then
// variables, overrides and defaults.
func loadTestConfig(opts *runOptions) (*config.TestConfig, error) {
	var cfg *config.TestConfig
	var err error

	switch {
	case opts.configFile != "":
		cfg, err = config.LoadConfig(opts.configFile)
	case opts.url != "":
		cfg, err = buildConfigFromFlags(opts)
	default:
		err = fmt.Errorf("either --config or --url is required")
	}
	if err != nil {
		return nil, err
	}

	vars, err := config.ParseEnvPairs(opts.env)
	if err != nil {
		return nil, err
	}
	config.ApplyEnv(cfg, vars, os.LookupEnv)
	if opts.baseURL != "" {
		cfg.Settings.BaseURL = opts.baseURL
	}
	if opts.configFile != "" && (opts.vus > 0 || opts.duration != "") {
		applyVUsOverride(cfg, opts.vus, opts.duration)
	}
	if len(opts.trendStats) > 0 {
		cfg.SummaryTrendStats = opts.trendStats
	}

	config.ApplyDefaults(cfg)
	return cfg, nil
}

// applyVUsOverride turns every scenario into constant-vus.
func applyVUsOverride(cfg *config.TestConfig, vus int, duration string) {
	for _, sc := range cfg.Scenarios {
		if sc == nil {
			continue
		}
		if vus > 0 {
			sc.VUs = vus
		}
		if duration != "" {
			sc.Duration = duration
		}
		sc.Executor = "constant-vus"
		sc.Stages = nil
		sc.Iterations = 0
		sc.Rate = 0
		sc.StartRate = 0
		sc.PreAllocatedVUs = 0
		sc.MaxVUs = 0
	}
}

// buildConfigFromFlags builds a single-scenario TestConfig from flags.
func buildConfigFromFlags(opts *runOptions) (*config.TestConfig, error) {
	executorType := opts.executor
	if executorType == "" {
		executorType = "constant-vus"
	}
	vus := opts.vus
	if vus == 0 && executorType == "constant-vus" {
		vus = 10
	}
	duration := opts.duration
	if duration == "" && opts.stages == "" {
		duration = "30s"
	}

	scenario := &config.ScenarioConfig{
		Executor:        executorType,
		VUs:             vus,
		Duration:        duration,
		Rate:            opts.rate,
		MaxVUs:          opts.maxVUs,
		PreAllocatedVUs: opts.preAllocatedVUs,
		Requests: []config.RequestConfig{{
			Name:   "cli-request",
			Method: "GET",
			URL:    opts.url,
			Checks: []config.CheckConfig{{Name: "status is below 400", Type: "status", Condition: "lt", Value: "400"}},
		}},
	}
	if opts.stages != "" {
		stages, err := parseStages(opts.stages)
		if err != nil {
			return nil, fmt.Errorf("invalid stages format: %w", err)
		}
		scenario.Stages = stages
	}

	return &config.TestConfig{
		Name:        "CLI Test",
		Description: fmt.Sprintf("Test generated from CLI flags for %s", opts.url),
		Scenarios:   map[string]*config.ScenarioConfig{"cli-test": scenario},
	}, nil
}

// parseStages parses stages from CLI format "30s:10,2m:10,30s:0".
func parseStages(s string) ([]config.StageConfig, error) {
	var stages []config.StageConfig

	for i, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		idx := strings.LastIndex(part, ":")
		if idx == -1 {
			return nil, fmt.Errorf("stage %d: expected 'duration:target' format, got '%s'", i+1, part)
		}
		durationStr, targetStr := part[:idx], part[idx+1:]

		if _, err := config.ParseDurationString(durationStr); err != nil {
			return nil, fmt.Errorf("stage %d: invalid duration '%s': %w", i+1, durationStr, err)
		}
		target, err := strconv.Atoi(targetStr)
		if err != nil {
			return nil, fmt.Errorf("stage %d: invalid target '%s': %w", i+1, targetStr, err)
		}

		stages = append(stages, config.StageConfig{
			Duration: durationStr,
			Target:   target,
			Name:     fmt.Sprintf("stage-%d", i+1),
		})
	}

	if len(stages) == 0 {
		return nil, fmt.Errorf("at least one stage is required")
	}
	return stages, nil
}

func runLoadTest(cmd *cobra.Command, opts *runOptions) error {
	cfg, err := loadTestConfig(opts)
	if err != nil {
		return &ExitError{Code: engine.ExitEngineError, Err: err}
	}

	plan, err := engine.FromConfig(cfg)
	if err != nil {
		return &ExitError{Code: engine.ExitEngineError, Err: err}
	}

	logger, err := newLogger(opts.verbose, opts.quiet)
	if err != nil {
		return &ExitError{Code: engine.ExitEngineError, Err: fmt.Errorf("failed to create logger: %w", err)}
	}
	defer func() { _ = logger.Sync() }()

	eng, err := engine.New(plan, engine.WithLogger(logger))
	if err != nil {
		return &ExitError{Code: engine.ExitEngineError, Err: err}
	}

	console := output.NewConsole(output.ConsoleConfig{
		Writer:  cmd.OutOrStdout(),
		Quiet:   opts.quiet,
		NoColor: opts.noColor,
	})
	console.PrintHeader(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		reportProgress(eng, console, done)
	}()

	summary, runErr := eng.Run(ctx)
	close(done)
	<-stopped

	if summary != nil {
		console.PrintSummary(summary)
		if opts.out != "" {
			if err := output.WriteJSONFile(opts.out, summary); err != nil {
				return &ExitError{Code: engine.ExitEngineError, Err: err}
			}
			if !opts.quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "Summary written to: %s\n", opts.out)
			}
		}
	}

	if runErr != nil {
		return &ExitError{Code: engine.ExitEngineError, Err: runErr}
	}
	if code := summary.ExitCode(); code != engine.ExitOK {
		return &ExitError{Code: code}
	}
	return nil
}

// reportProgress updates the console until done is closed.
func reportProgress(eng *engine.Engine, console *output.Console, done <-chan struct{}) {
	interval := time.Second
	if !console.IsTTY() {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	start := time.Now()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if eng.IsRunning() {
				console.Update(output.StatsFromEngine(time.Since(start), eng.GetProgress(), eng.GetScenarioStats()))
			}
		}
	}
}
