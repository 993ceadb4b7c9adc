package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// BaseURLEnv is the environment variable that overrides settings.baseUrl.
const BaseURLEnv = "BASE_URL"

// DefaultSummaryTrendStats are shown for trend metrics when the
// configuration does not list any.
var DefaultSummaryTrendStats = []string{"avg", "min", "med", "max", "p(90)", "p(95)"}

// LoadConfig loads a test configuration from a file.
//
// The file format is determined by extension:
//   - .yaml, .yml -> YAML
//   - .json -> JSON
//
// Returns the parsed TestConfig or an error if parsing fails.
func LoadConfig(path string) (*TestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseConfig(data, path)
}

// ParseConfig parses configuration data.
//
// The format is determined by the file extension in path, or defaults to YAML
// if the path is empty or has an unknown extension.
func ParseConfig(data []byte, path string) (*TestConfig, error) {
	var config TestConfig

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config (unknown format %s): %w", ext, err)
		}
	}

	return &config, nil
}

// ParseDurationString parses a duration string with support for common formats.
//
// Supported formats:
//   - Standard Go duration: "30s", "2m", "1h30m", "500ms"
//   - Seconds as integer: "30" (treated as 30 seconds)
//
// Returns the parsed duration or an error.
func ParseDurationString(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(s)
	if err == nil {
		return d, nil
	}

	var seconds int
	var rest string
	if n, _ := fmt.Sscanf(s, "%d%s", &seconds, &rest); n == 1 {
		return time.Duration(seconds) * time.Second, nil
	}

	return 0, fmt.Errorf("invalid duration format: %s", s)
}

// MergeVariables merges multiple variable maps in order.
// Later maps override earlier ones.
func MergeVariables(maps ...map[string]string) map[string]string {
	result := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			result[k] = v
		}
	}
	return result
}

// ParseEnvPairs parses KEY=VALUE pairs as given on the command line.
func ParseEnvPairs(pairs []string) (map[string]string, error) {
	vars := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid env pair %q (expected KEY=VALUE)", pair)
		}
		vars[key] = value
	}
	return vars, nil
}

// ApplyEnv applies environment overrides to config.
//
// vars become configuration variables, overriding ones of the same name.
// BASE_URL, taken from vars first and then from lookup, replaces
// settings.baseUrl. lookup is usually os.LookupEnv and may be nil.
func ApplyEnv(config *TestConfig, vars map[string]string, lookup func(string) (string, bool)) {
	if len(vars) > 0 {
		config.Variables = MergeVariables(config.Variables, vars)
	}

	if v, ok := vars[BaseURLEnv]; ok && v != "" {
		config.Settings.BaseURL = v
		return
	}
	if lookup != nil {
		if v, ok := lookup(BaseURLEnv); ok && v != "" {
			config.Settings.BaseURL = v
		}
	}
}

// ApplyDefaults applies default values to a TestConfig.
func ApplyDefaults(config *TestConfig) {
	if config.Settings.Timeout == 0 {
		config.Settings.Timeout = Duration(30 * time.Second)
	}
	if config.Settings.MaxConnectionsPerHost == 0 {
		config.Settings.MaxConnectionsPerHost = 100
	}
	if config.Settings.MaxIdleConnsPerHost == 0 {
		config.Settings.MaxIdleConnsPerHost = 100
	}
	if config.Settings.UserAgent == "" {
		config.Settings.UserAgent = "stampede/1.0"
	}
	if len(config.SummaryTrendStats) == 0 {
		config.SummaryTrendStats = append([]string(nil), DefaultSummaryTrendStats...)
	}

	for name, sc := range config.Scenarios {
		if sc != nil {
			applyScenarioDefaults(name, sc)
		}
	}
}

// applyScenarioDefaults applies default values to a scenario.
func applyScenarioDefaults(name string, sc *ScenarioConfig) {
	if sc.Executor == "" {
		sc.Executor = "constant-vus"
	}

	switch sc.Executor {
	case "constant-vus", "per-vu-iterations", "shared-iterations":
		if sc.VUs == 0 {
			sc.VUs = 1
		}
	case "constant-arrival-rate":
		if sc.PreAllocatedVUs == 0 {
			sc.PreAllocatedVUs = 1
		}
		if sc.MaxVUs == 0 {
			sc.MaxVUs = sc.PreAllocatedVUs * 10
		}
	case "ramping-arrival-rate":
		if sc.PreAllocatedVUs == 0 {
			sc.PreAllocatedVUs = 1
		}
		if sc.MaxVUs == 0 {
			sc.MaxVUs = 100
		}
	}
	if sc.Executor == "shared-iterations" && sc.Iterations == 0 {
		sc.Iterations = int64(sc.VUs)
	}
	if sc.Executor == "per-vu-iterations" && sc.Iterations == 0 {
		sc.Iterations = 1
	}

	applyRequestDefaults(name, sc.Requests)
	for i := range sc.Mix {
		v := &sc.Mix[i]
		if v.Name == "" {
			v.Name = fmt.Sprintf("variant_%d", i+1)
		}
		applyRequestDefaults(name+"_"+v.Name, v.Requests)
	}
}

func applyRequestDefaults(prefix string, requests []RequestConfig) {
	for i := range requests {
		req := &requests[i]
		if req.Name == "" {
			req.Name = fmt.Sprintf("%s_request_%d", prefix, i+1)
		}
		if req.Method == "" {
			req.Method = "GET"
		}
		req.Method = strings.ToUpper(req.Method)
		for j := range req.Checks {
			c := &req.Checks[j]
			if c.Condition == "" {
				c.Condition = defaultCondition(c.Type)
			}
			if c.Name == "" {
				c.Name = strings.TrimSpace(fmt.Sprintf("%s %s %s %s", c.Type, c.Path, c.Condition, c.Value))
				c.Name = strings.Join(strings.Fields(c.Name), " ")
			}
		}
	}
}

func defaultCondition(checkType string) string {
	switch checkType {
	case "body":
		return "contains"
	case "jsonpath":
		return "exists"
	case "duration":
		return "lt"
	case "schema":
		return ""
	default:
		return "eq"
	}
}

// CheckNames returns the names of every check declared by config, sorted.
func (c *TestConfig) CheckNames() []string {
	seen := make(map[string]bool)
	add := func(requests []RequestConfig) {
		for _, req := range requests {
			for _, chk := range req.Checks {
				seen[chk.Name] = true
			}
		}
	}
	for _, sc := range c.Scenarios {
		if sc == nil {
			continue
		}
		add(sc.Requests)
		for _, v := range sc.Mix {
			add(v.Requests)
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
