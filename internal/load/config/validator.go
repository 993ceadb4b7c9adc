package config

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/wesleyorama2/stampede/internal/load"
	"github.com/wesleyorama2/stampede/internal/load/metrics"
	"github.com/wesleyorama2/stampede/internal/load/threshold"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Unwrap lets callers match configuration errors with load.ErrInvalidWorkload.
func (e *ValidationErrors) Unwrap() error {
	return load.ErrInvalidWorkload
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

var validExecutors = map[string]bool{
	"constant-vus":          true,
	"ramping-vus":           true,
	"constant-arrival-rate": true,
	"ramping-arrival-rate":  true,
	"per-vu-iterations":     true,
	"shared-iterations":     true,
}

// Validate validates the entire test configuration.
//
// Scenarios are visited in name order so messages are stable. Returns nil if
// valid, or a *ValidationErrors containing all validation errors.
func (c *TestConfig) Validate() error {
	errs := &ValidationErrors{}

	if len(c.Scenarios) == 0 {
		errs.Add("scenarios", "at least one scenario is required")
	}

	names := make([]string, 0, len(c.Scenarios))
	for name := range c.Scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		sc := c.Scenarios[name]
		if sc == nil {
			errs.Add("scenarios."+name, "scenario is empty")
			continue
		}
		validateScenario(name, sc, errs)
	}

	validateMetrics(c.Metrics, errs)
	validateThresholds(c.Thresholds, errs)
	validateTrendStats(c.SummaryTrendStats, errs)
	validateSettings(&c.Settings, errs)

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// validateScenario validates a single scenario configuration.
func validateScenario(name string, sc *ScenarioConfig, errs *ValidationErrors) {
	prefix := fmt.Sprintf("scenarios.%s", name)

	if sc.Executor == "" {
		errs.Add(prefix+".executor", "executor type is required")
	} else if !validExecutors[sc.Executor] {
		errs.Add(prefix+".executor", fmt.Sprintf("unknown executor type: %s", sc.Executor))
	}

	switch sc.Executor {
	case "constant-vus":
		validateConstantVUs(prefix, sc, errs)
	case "ramping-vus":
		validateRampingVUs(prefix, sc, errs)
	case "constant-arrival-rate":
		validateConstantArrivalRate(prefix, sc, errs)
	case "ramping-arrival-rate":
		validateRampingArrivalRate(prefix, sc, errs)
	case "per-vu-iterations", "shared-iterations":
		validateIterationBased(prefix, sc, errs)
	}

	validateOptionalDuration(prefix+".gracefulStop", sc.GracefulStop, errs)
	validateOptionalDuration(prefix+".startTime", sc.StartTime, errs)
	validateOptionalDuration(prefix+".iterationTimeout", sc.IterationTimeout, errs)

	switch {
	case len(sc.Requests) == 0 && len(sc.Mix) == 0:
		errs.Add(prefix+".requests", "at least one request is required")
	case len(sc.Requests) > 0 && len(sc.Mix) > 0:
		errs.Add(prefix+".mix", "requests and mix are mutually exclusive")
	}

	for i := range sc.Requests {
		validateRequest(fmt.Sprintf("%s.requests[%d]", prefix, i), &sc.Requests[i], errs)
	}
	for i := range sc.Mix {
		validateVariant(fmt.Sprintf("%s.mix[%d]", prefix, i), &sc.Mix[i], errs)
	}

	if sc.Pacing != nil {
		validatePacing(prefix+".pacing", sc.Pacing, errs)
	}

	for i, stage := range sc.Stages {
		validateStage(fmt.Sprintf("%s.stages[%d]", prefix, i), &stage, errs)
	}
}

// validateConstantVUs validates constant-vus executor config.
func validateConstantVUs(prefix string, sc *ScenarioConfig, errs *ValidationErrors) {
	if sc.VUs <= 0 {
		errs.Add(prefix+".vus", "vus must be greater than 0")
	}
	validateRequiredDuration(prefix+".duration", sc.Duration, "constant-vus", errs)
}

// validateRampingVUs validates ramping-vus executor config.
func validateRampingVUs(prefix string, sc *ScenarioConfig, errs *ValidationErrors) {
	if len(sc.Stages) == 0 {
		errs.Add(prefix+".stages", "at least one stage is required for ramping-vus executor")
	}
	if sc.StartVUs < 0 {
		errs.Add(prefix+".startVUs", "startVUs cannot be negative")
	}
}

// validateConstantArrivalRate validates constant-arrival-rate executor config.
func validateConstantArrivalRate(prefix string, sc *ScenarioConfig, errs *ValidationErrors) {
	if sc.Rate <= 0 {
		errs.Add(prefix+".rate", "rate must be greater than 0")
	}
	validateRequiredDuration(prefix+".duration", sc.Duration, "constant-arrival-rate", errs)
	validateOptionalDuration(prefix+".timeUnit", sc.TimeUnit, errs)
	validatePool(prefix, sc, errs)
}

// validateRampingArrivalRate validates ramping-arrival-rate executor config.
func validateRampingArrivalRate(prefix string, sc *ScenarioConfig, errs *ValidationErrors) {
	if len(sc.Stages) == 0 {
		errs.Add(prefix+".stages", "at least one stage is required for ramping-arrival-rate executor")
	}
	if sc.StartRate < 0 {
		errs.Add(prefix+".startRate", "startRate cannot be negative")
	}
	validateOptionalDuration(prefix+".timeUnit", sc.TimeUnit, errs)
	validatePool(prefix, sc, errs)
}

func validatePool(prefix string, sc *ScenarioConfig, errs *ValidationErrors) {
	if sc.PreAllocatedVUs < 0 {
		errs.Add(prefix+".preAllocatedVUs", "preAllocatedVUs cannot be negative")
	}
	if sc.MaxVUs > 0 && sc.PreAllocatedVUs > sc.MaxVUs {
		errs.Add(prefix+".preAllocatedVUs", "preAllocatedVUs cannot be greater than maxVUs")
	}
}

// validateIterationBased validates per-vu-iterations and shared-iterations executor config.
func validateIterationBased(prefix string, sc *ScenarioConfig, errs *ValidationErrors) {
	if sc.VUs <= 0 {
		errs.Add(prefix+".vus", "vus must be greater than 0")
	}
	if sc.Iterations <= 0 {
		errs.Add(prefix+".iterations", "iterations must be greater than 0")
	}
	if sc.Executor == "shared-iterations" && sc.Iterations > 0 && sc.Iterations < int64(sc.VUs) {
		errs.Add(prefix+".iterations", "iterations must be at least vus for shared-iterations")
	}
	validateOptionalDuration(prefix+".maxDuration", sc.MaxDuration, errs)
}

func validateRequiredDuration(field, value, executor string, errs *ValidationErrors) {
	if value == "" {
		errs.Add(field, fmt.Sprintf("duration is required for %s executor", executor))
		return
	}
	d, err := ParseDurationString(value)
	if err != nil {
		errs.Add(field, fmt.Sprintf("invalid duration: %v", err))
	} else if d <= 0 {
		errs.Add(field, "duration must be greater than 0")
	}
}

func validateOptionalDuration(field, value string, errs *ValidationErrors) {
	if value == "" {
		return
	}
	d, err := ParseDurationString(value)
	if err != nil {
		errs.Add(field, fmt.Sprintf("invalid duration: %v", err))
	} else if d < 0 {
		errs.Add(field, "duration cannot be negative")
	}
}

// validateVariant validates one weighted mix entry.
func validateVariant(prefix string, v *VariantConfig, errs *ValidationErrors) {
	if v.Weight <= 0 {
		errs.Add(prefix+".weight", "weight must be greater than 0")
	}
	if len(v.Requests) == 0 {
		errs.Add(prefix+".requests", "at least one request is required")
	}
	for i := range v.Requests {
		validateRequest(fmt.Sprintf("%s.requests[%d]", prefix, i), &v.Requests[i], errs)
	}
}

var placeholderRe = regexp.MustCompile(`\{\{[^}]*\}\}`)

// validateRequest validates a single request configuration.
func validateRequest(prefix string, req *RequestConfig, errs *ValidationErrors) {
	validMethods := map[string]bool{
		"GET": true, "POST": true, "PUT": true, "DELETE": true,
		"PATCH": true, "HEAD": true, "OPTIONS": true,
	}

	method := strings.ToUpper(req.Method)
	if method == "" {
		errs.Add(prefix+".method", "method is required")
	} else if !validMethods[method] {
		errs.Add(prefix+".method", fmt.Sprintf("invalid HTTP method: %s", req.Method))
	}

	if req.URL == "" {
		errs.Add(prefix+".url", "url is required")
	} else {
		// Placeholders are resolved per iteration.
		urlToCheck := strings.NewReplacer("{{baseUrl}}", "http://example.com", "{{baseURL}}", "http://example.com").Replace(req.URL)
		urlToCheck = placeholderRe.ReplaceAllString(urlToCheck, "placeholder")
		if _, err := url.Parse(urlToCheck); err != nil {
			errs.Add(prefix+".url", fmt.Sprintf("invalid URL: %v", err))
		}
	}

	if req.Body != "" && req.JSON != nil {
		errs.Add(prefix+".json", "body and json are mutually exclusive")
	}

	validateOptionalDuration(prefix+".timeout", req.Timeout, errs)
	validateOptionalDuration(prefix+".thinkTime", req.ThinkTime, errs)
	validateOptionalDuration(prefix+".thinkTimeMax", req.ThinkTimeMax, errs)
	if req.ThinkTimeMax != "" {
		lo, err1 := ParseDurationString(req.ThinkTime)
		hi, err2 := ParseDurationString(req.ThinkTimeMax)
		if err1 == nil && err2 == nil && hi < lo {
			errs.Add(prefix+".thinkTimeMax", "thinkTimeMax must be greater than or equal to thinkTime")
		}
	}

	for i, extract := range req.Extract {
		validateExtract(fmt.Sprintf("%s.extract[%d]", prefix, i), &extract, errs)
	}

	for i, check := range req.Checks {
		validateCheck(fmt.Sprintf("%s.checks[%d]", prefix, i), &check, errs)
	}
}

// validatePacing validates pacing configuration.
func validatePacing(prefix string, pacing *PacingConfig, errs *ValidationErrors) {
	validTypes := map[string]bool{
		"none": true, "constant": true, "random": true,
	}

	if !validTypes[pacing.Type] {
		errs.Add(prefix+".type", fmt.Sprintf("invalid pacing type: %s", pacing.Type))
	}

	switch pacing.Type {
	case "constant":
		if pacing.Duration == "" {
			errs.Add(prefix+".duration", "duration is required for constant pacing")
		} else if _, err := ParseDurationString(pacing.Duration); err != nil {
			errs.Add(prefix+".duration", fmt.Sprintf("invalid duration: %v", err))
		}

	case "random":
		if pacing.Min == "" {
			errs.Add(prefix+".min", "min is required for random pacing")
		} else if _, err := ParseDurationString(pacing.Min); err != nil {
			errs.Add(prefix+".min", fmt.Sprintf("invalid min: %v", err))
		}

		if pacing.Max == "" {
			errs.Add(prefix+".max", "max is required for random pacing")
		} else if _, err := ParseDurationString(pacing.Max); err != nil {
			errs.Add(prefix+".max", fmt.Sprintf("invalid max: %v", err))
		}

		if pacing.Min != "" && pacing.Max != "" {
			minDur, _ := ParseDurationString(pacing.Min)
			maxDur, _ := ParseDurationString(pacing.Max)
			if minDur > maxDur {
				errs.Add(prefix, "min must be less than or equal to max")
			}
		}
	}
}

// validateStage validates a single stage configuration.
func validateStage(prefix string, stage *StageConfig, errs *ValidationErrors) {
	if stage.Duration == "" {
		errs.Add(prefix+".duration", "duration is required")
	} else if d, err := ParseDurationString(stage.Duration); err != nil {
		errs.Add(prefix+".duration", fmt.Sprintf("invalid duration: %v", err))
	} else if d <= 0 {
		errs.Add(prefix+".duration", "duration must be greater than 0")
	}

	if stage.Target < 0 {
		errs.Add(prefix+".target", "target cannot be negative")
	}
}

// validateExtract validates an extract configuration.
func validateExtract(prefix string, extract *ExtractConfig, errs *ValidationErrors) {
	if extract.Name == "" {
		errs.Add(prefix+".name", "name is required")
	}

	validSources := map[string]bool{
		"body": true, "header": true, "status": true,
	}

	if extract.Source == "" {
		errs.Add(prefix+".source", "source is required")
	} else if !validSources[extract.Source] {
		errs.Add(prefix+".source", fmt.Sprintf("invalid source: %s", extract.Source))
	}

	if extract.Source == "header" && extract.Path == "" {
		errs.Add(prefix+".path", "path is required for header extraction")
	}

	if extract.Regex != "" {
		if _, err := regexp.Compile(extract.Regex); err != nil {
			errs.Add(prefix+".regex", fmt.Sprintf("invalid regex: %v", err))
		}
	}
}

// conditionsByType lists the comparisons each check type accepts.
var conditionsByType = map[string]map[string]bool{
	"status":   {"eq": true, "ne": true, "gt": true, "lt": true, "gte": true, "lte": true, "in": true},
	"duration": {"lt": true, "lte": true, "gt": true, "gte": true},
	"body":     {"contains": true, "matches": true, "eq": true, "ne": true},
	"header":   {"eq": true, "ne": true, "contains": true, "matches": true, "exists": true},
	"jsonpath": {"exists": true, "eq": true, "ne": true, "contains": true, "matches": true, "gt": true, "lt": true, "gte": true, "lte": true},
	"schema":   {"": true},
}

// validateCheck validates a response check.
func validateCheck(prefix string, check *CheckConfig, errs *ValidationErrors) {
	if check.Name == "" {
		errs.Add(prefix+".name", "name is required")
	}

	conds, ok := conditionsByType[check.Type]
	if check.Type == "" {
		errs.Add(prefix+".type", "type is required")
		return
	} else if !ok {
		errs.Add(prefix+".type", fmt.Sprintf("invalid check type: %s", check.Type))
		return
	}

	if !conds[check.Condition] {
		errs.Add(prefix+".condition", fmt.Sprintf("invalid condition %q for %s check", check.Condition, check.Type))
	}

	switch check.Type {
	case "status":
		values := []string{check.Value}
		if check.Condition == "in" {
			values = strings.Split(check.Value, ",")
		}
		for _, v := range values {
			if _, err := strconv.Atoi(strings.TrimSpace(v)); err != nil {
				errs.Add(prefix+".value", fmt.Sprintf("invalid status code: %q", v))
			}
		}
	case "duration":
		if _, err := ParseDurationString(check.Value); err != nil || check.Value == "" {
			errs.Add(prefix+".value", fmt.Sprintf("invalid duration: %q", check.Value))
		}
	case "header", "jsonpath":
		if check.Path == "" {
			errs.Add(prefix+".path", fmt.Sprintf("path is required for %s checks", check.Type))
		}
	case "schema":
		if len(check.Schema) == 0 {
			errs.Add(prefix+".schema", "schema is required for schema checks")
		}
	}

	if check.Condition == "matches" {
		if _, err := regexp.Compile(check.Value); err != nil {
			errs.Add(prefix+".value", fmt.Sprintf("invalid regex: %v", err))
		}
	}
}

// validateMetrics validates custom metric declarations.
func validateMetrics(declared map[string]string, errs *ValidationErrors) {
	for name, kindName := range declared {
		kind, err := metrics.ParseKind(kindName)
		if err != nil {
			errs.Add("metrics."+name, err.Error())
			continue
		}
		if builtin, ok := metrics.BuiltinKind(name); ok && builtin != kind {
			errs.Add("metrics."+name, fmt.Sprintf("%s is a builtin %s metric", name, builtin))
		}
	}
}

// validateThresholds validates threshold expressions.
//
// Whether the metric of a threshold exists is decided when the run is
// planned, once every declared metric and check is known.
func validateThresholds(thresholds map[string][]string, errs *ValidationErrors) {
	keys := make([]string, 0, len(thresholds))
	for key := range thresholds {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		exprs := thresholds[key]
		if len(exprs) == 0 {
			errs.Add("thresholds."+key, "at least one expression is required")
		}
		for i, expr := range exprs {
			if _, err := threshold.Parse(key, expr); err != nil {
				errs.Add(fmt.Sprintf("thresholds.%s[%d]", key, i), err.Error())
			}
		}
	}
}

func validateTrendStats(stats []string, errs *ValidationErrors) {
	for i, s := range stats {
		stat, err := metrics.ParseStat(s)
		if err != nil {
			errs.Add(fmt.Sprintf("summaryTrendStats[%d]", i), err.Error())
			continue
		}
		if !stat.Supports(metrics.KindTrend) {
			errs.Add(fmt.Sprintf("summaryTrendStats[%d]", i), fmt.Sprintf("%s is not a trend aggregate", s))
		}
	}
}

// validateSettings validates global settings.
func validateSettings(s *GlobalSettings, errs *ValidationErrors) {
	if s.BaseURL != "" {
		u, err := url.Parse(s.BaseURL)
		if err != nil {
			errs.Add("settings.baseUrl", fmt.Sprintf("invalid URL: %v", err))
		} else if u.Scheme != "http" && u.Scheme != "https" {
			errs.Add("settings.baseUrl", fmt.Sprintf("unsupported scheme %q", u.Scheme))
		}
	}

	if s.MaxConnectionsPerHost < 0 {
		errs.Add("settings.maxConnectionsPerHost", "cannot be negative")
	}
	if s.MaxIdleConnsPerHost < 0 {
		errs.Add("settings.maxIdleConnsPerHost", "cannot be negative")
	}
}
