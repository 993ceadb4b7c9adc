// Package config provides configuration parsing and validation for load tests.
package config

import (
	"time"
)

// TestConfig is the root configuration for a load test.
//
// Example YAML:
//
//	name: "Hotels soak"
//	settings:
//	  baseUrl: "http://localhost:8080"
//	  timeout: 30s
//	scenarios:
//	  soak:
//	    executor: constant-vus
//	    vus: 10
//	    duration: 15s
//	    requests:
//	      - method: GET
//	        url: "{{baseUrl}}/ready"
//	        checks:
//	          - name: "service is ready"
//	            type: status
//	            value: "200"
//	thresholds:
//	  http_req_duration: ["p(95)<500"]
type TestConfig struct {
	// Name of the test (for reporting)
	Name string `json:"name" yaml:"name"`

	// Description of the test (optional)
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Settings contains global settings for all scenarios
	Settings GlobalSettings `json:"settings,omitempty" yaml:"settings,omitempty"`

	// Variables are global variables available to all scenarios
	Variables map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`

	// Scenarios defines the load profiles to run
	// Each scenario runs independently with its own executor
	Scenarios map[string]*ScenarioConfig `json:"scenarios" yaml:"scenarios"`

	// Thresholds define pass/fail criteria, keyed by metric name or
	// checks{check:NAME}
	Thresholds map[string][]string `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`

	// Metrics declares custom metrics thresholds may refer to, name -> kind
	// (counter, trend, rate)
	Metrics map[string]string `json:"metrics,omitempty" yaml:"metrics,omitempty"`

	// SummaryTrendStats lists the aggregates shown for trend metrics
	SummaryTrendStats []string `json:"summaryTrendStats,omitempty" yaml:"summaryTrendStats,omitempty"`
}

// GlobalSettings contains global HTTP and execution settings.
type GlobalSettings struct {
	// BaseURL is the default base URL for all requests
	BaseURL string `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`

	// Timeout is the default HTTP request timeout
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// MaxConnectionsPerHost limits connections per host
	MaxConnectionsPerHost int `json:"maxConnectionsPerHost,omitempty" yaml:"maxConnectionsPerHost,omitempty"`

	// MaxIdleConnsPerHost limits idle connections per host
	MaxIdleConnsPerHost int `json:"maxIdleConnsPerHost,omitempty" yaml:"maxIdleConnsPerHost,omitempty"`

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`

	// UserAgent is the default User-Agent header
	UserAgent string `json:"userAgent,omitempty" yaml:"userAgent,omitempty"`

	// Headers are default headers applied to all requests
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// ScenarioConfig defines a single load testing scenario.
type ScenarioConfig struct {
	// Executor specifies the load generation strategy
	// Options: "constant-vus", "ramping-vus", "constant-arrival-rate",
	// "ramping-arrival-rate", "per-vu-iterations", "shared-iterations"
	Executor string `json:"executor" yaml:"executor"`

	// VUs is the number of virtual users (for VU-based executors)
	VUs int `json:"vus,omitempty" yaml:"vus,omitempty"`

	// Duration is how long to run (e.g., "30s", "2m", "1h")
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Iterations is the iteration count of per-vu-iterations (per VU) and
	// shared-iterations (in total)
	Iterations int64 `json:"iterations,omitempty" yaml:"iterations,omitempty"`

	// MaxDuration bounds the iteration-count executors
	MaxDuration string `json:"maxDuration,omitempty" yaml:"maxDuration,omitempty"`

	// StartVUs is the initial VU count of ramping-vus
	StartVUs int `json:"startVUs,omitempty" yaml:"startVUs,omitempty"`

	// Rate is iterations per TimeUnit (for arrival-rate executors)
	Rate float64 `json:"rate,omitempty" yaml:"rate,omitempty"`

	// TimeUnit is the period Rate is expressed in (default "1s")
	TimeUnit string `json:"timeUnit,omitempty" yaml:"timeUnit,omitempty"`

	// StartRate is the initial rate of ramping-arrival-rate
	StartRate float64 `json:"startRate,omitempty" yaml:"startRate,omitempty"`

	// PreAllocatedVUs is the number of VUs to pre-allocate (for arrival-rate executors)
	PreAllocatedVUs int `json:"preAllocatedVUs,omitempty" yaml:"preAllocatedVUs,omitempty"`

	// MaxVUs is the maximum number of VUs to scale up to (for arrival-rate executors)
	MaxVUs int `json:"maxVUs,omitempty" yaml:"maxVUs,omitempty"`

	// Stages defines ramping stages (for ramping executors)
	Stages []StageConfig `json:"stages,omitempty" yaml:"stages,omitempty"`

	// GracefulStop is how long to wait for iterations to finish
	GracefulStop string `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// StartTime specifies when this scenario should start (relative to test start)
	StartTime string `json:"startTime,omitempty" yaml:"startTime,omitempty"`

	// Pacing controls time between iterations
	Pacing *PacingConfig `json:"pacing,omitempty" yaml:"pacing,omitempty"`

	// IterationTimeout aborts an iteration running longer than this
	IterationTimeout string `json:"iterationTimeout,omitempty" yaml:"iterationTimeout,omitempty"`

	// FailIterationOnCheck marks an iteration failed when one of its checks fails
	FailIterationOnCheck bool `json:"failIterationOnCheck,omitempty" yaml:"failIterationOnCheck,omitempty"`

	// Requests defines the HTTP requests of every iteration.
	// Mutually exclusive with Mix.
	Requests []RequestConfig `json:"requests,omitempty" yaml:"requests,omitempty"`

	// Mix defines weighted variants; each iteration runs one of them
	Mix []VariantConfig `json:"mix,omitempty" yaml:"mix,omitempty"`

	// Tags are custom tags for this scenario
	Tags map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// StageConfig defines a single stage in a ramping executor.
type StageConfig struct {
	// Duration of this stage (e.g., "30s", "2m")
	Duration string `json:"duration" yaml:"duration"`

	// Target VU count (for ramping-vus) or rate (for ramping-arrival-rate)
	Target int `json:"target" yaml:"target"`

	// Name is an optional name for this stage (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// VariantConfig is one weighted branch of a scenario mix.
type VariantConfig struct {
	// Name identifies the variant in logs
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Weight is the relative probability of picking this variant
	Weight float64 `json:"weight" yaml:"weight"`

	// Requests run in order when the variant is picked
	Requests []RequestConfig `json:"requests" yaml:"requests"`
}

// RequestConfig defines a single HTTP request.
type RequestConfig struct {
	// Name for this request (used in logs)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Method is the HTTP method (GET, POST, PUT, DELETE, etc.)
	Method string `json:"method" yaml:"method"`

	// URL is the request URL (supports variable substitution)
	URL string `json:"url" yaml:"url"`

	// Headers are request-specific headers
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Body is the request body (supports variable substitution)
	Body string `json:"body,omitempty" yaml:"body,omitempty"`

	// JSON is encoded as the request body with a JSON content type.
	// String values support variable substitution.
	JSON interface{} `json:"json,omitempty" yaml:"json,omitempty"`

	// Timeout is request-specific timeout (overrides global)
	Timeout string `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// ThinkTime is wait time after this request
	ThinkTime string `json:"thinkTime,omitempty" yaml:"thinkTime,omitempty"`

	// ThinkTimeMax makes the think time random in [ThinkTime, ThinkTimeMax]
	ThinkTimeMax string `json:"thinkTimeMax,omitempty" yaml:"thinkTimeMax,omitempty"`

	// Extract defines variable extraction from response
	Extract []ExtractConfig `json:"extract,omitempty" yaml:"extract,omitempty"`

	// Checks validate the response
	Checks []CheckConfig `json:"checks,omitempty" yaml:"checks,omitempty"`
}

// PacingConfig controls pacing between iterations.
type PacingConfig struct {
	// Type is the pacing strategy: "none", "constant", "random"
	Type string `json:"type" yaml:"type"`

	// Duration is the wait time for constant pacing
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Min is the minimum wait time for random pacing
	Min string `json:"min,omitempty" yaml:"min,omitempty"`

	// Max is the maximum wait time for random pacing
	Max string `json:"max,omitempty" yaml:"max,omitempty"`
}

// ExtractConfig defines how to extract variables from a response.
type ExtractConfig struct {
	// Name of the variable to store
	Name string `json:"name" yaml:"name"`

	// Source is where to extract from: "body", "header", "status"
	Source string `json:"source" yaml:"source"`

	// Path is the header name, or a gjson path for body
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// Regex is an optional regex pattern for extraction
	Regex string `json:"regex,omitempty" yaml:"regex,omitempty"`
}

// CheckConfig defines a named response check.
//
// Checks never abort an iteration; their pass rate is reported per name and
// can be gated by a checks{check:NAME} threshold.
type CheckConfig struct {
	// Name identifies the check in the summary and in thresholds
	Name string `json:"name" yaml:"name"`

	// Type is the check type: "status", "body", "header", "duration",
	// "jsonpath", "schema"
	Type string `json:"type" yaml:"type"`

	// Condition is the comparison: "eq", "ne", "gt", "lt", "gte", "lte",
	// "in", "contains", "matches", "exists"
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`

	// Value is the expected value
	Value string `json:"value,omitempty" yaml:"value,omitempty"`

	// Path is the header name for header checks, or a gjson path for jsonpath checks
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// Schema is the JSON schema the body must satisfy for schema checks
	Schema map[string]interface{} `json:"schema,omitempty" yaml:"schema,omitempty"`
}

// Duration is a time.Duration that can be unmarshaled from JSON/YAML strings.
type Duration time.Duration

// GetDuration returns the duration or a default if empty.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}

	if s == "" || s == "null" {
		*d = 0
		return nil
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}
