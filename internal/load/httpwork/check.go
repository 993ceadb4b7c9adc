package httpwork

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/wesleyorama2/stampede/internal/load"
	"github.com/wesleyorama2/stampede/internal/load/config"
	"github.com/wesleyorama2/stampede/pkg/jsonpath"
	"github.com/wesleyorama2/stampede/pkg/jsonschema"
)

// Check is a compiled, named response assertion.
type Check struct {
	Name      string
	Type      string
	Condition string
	Value     string
	Path      string

	statuses []int
	duration time.Duration
	re       *regexp.Regexp
	schema   *jsonschema.Schema
}

// NewCheck compiles cfg. Regexes and schemas are compiled here, once.
func NewCheck(cfg config.CheckConfig) (*Check, error) {
	c := &Check{
		Name:      cfg.Name,
		Type:      cfg.Type,
		Condition: cfg.Condition,
		Value:     cfg.Value,
		Path:      cfg.Path,
	}
	if c.Name == "" {
		return nil, fmt.Errorf("check of type %q has no name", cfg.Type)
	}

	switch c.Type {
	case "status":
		values := []string{c.Value}
		if c.Condition == "in" {
			values = strings.Split(c.Value, ",")
		}
		for _, v := range values {
			code, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("check %q: invalid status code %q", c.Name, v)
			}
			c.statuses = append(c.statuses, code)
		}
	case "duration":
		d, err := config.ParseDurationString(c.Value)
		if err != nil {
			return nil, fmt.Errorf("check %q: %w", c.Name, err)
		}
		c.duration = d
	case "schema":
		schema, err := jsonschema.Compile(cfg.Schema)
		if err != nil {
			return nil, fmt.Errorf("check %q: %w", c.Name, err)
		}
		c.schema = schema
	case "body", "header", "jsonpath":
	default:
		return nil, fmt.Errorf("check %q: unknown type %q", c.Name, c.Type)
	}

	if c.Condition == "matches" {
		re, err := regexp.Compile(c.Value)
		if err != nil {
			return nil, fmt.Errorf("check %q: invalid regex: %w", c.Name, err)
		}
		c.re = re
	}
	return c, nil
}

// Evaluate reports whether resp satisfies the check.
func (c *Check) Evaluate(resp *load.Response) bool {
	switch c.Type {
	case "status":
		return c.evalStatus(resp.StatusCode)
	case "duration":
		return compareFloat(c.Condition, float64(resp.Duration), float64(c.duration))
	case "body":
		return c.evalString(string(resp.Body))
	case "header":
		values := resp.Header.Values(c.Path)
		if c.Condition == "exists" {
			return len(values) > 0
		}
		if len(values) == 0 {
			return c.Condition == "ne"
		}
		return c.evalString(values[0])
	case "jsonpath":
		return c.evalJSON(resp.Body)
	case "schema":
		return c.schema.Validate(resp.Body) == nil
	}
	return false
}

func (c *Check) evalStatus(code int) bool {
	if c.Condition == "in" {
		for _, s := range c.statuses {
			if s == code {
				return true
			}
		}
		return false
	}
	return compareFloat(c.Condition, float64(code), float64(c.statuses[0]))
}

func (c *Check) evalString(s string) bool {
	switch c.Condition {
	case "eq":
		return s == c.Value
	case "ne":
		return s != c.Value
	case "contains":
		return strings.Contains(s, c.Value)
	case "matches":
		return c.re.MatchString(s)
	}
	return false
}

func (c *Check) evalJSON(body []byte) bool {
	result, ok := jsonpath.Lookup(body, c.Path)
	if c.Condition == "exists" {
		return ok
	}
	if !ok {
		return c.Condition == "ne"
	}

	switch c.Condition {
	case "gt", "lt", "gte", "lte":
		want, err := strconv.ParseFloat(c.Value, 64)
		if err != nil || (result.Type != gjson.Number && result.Type != gjson.String) {
			return false
		}
		got, err := strconv.ParseFloat(result.String(), 64)
		if err != nil {
			return false
		}
		return compareFloat(c.Condition, got, want)
	case "eq", "ne":
		equal := result.String() == c.Value
		if result.Type == gjson.Number {
			if want, err := strconv.ParseFloat(c.Value, 64); err == nil {
				equal = result.Float() == want
			}
		}
		if c.Condition == "eq" {
			return equal
		}
		return !equal
	case "contains":
		if result.IsArray() {
			for _, el := range result.Array() {
				if el.String() == c.Value {
					return true
				}
			}
			return false
		}
		return strings.Contains(result.String(), c.Value)
	}
	return c.evalString(result.String())
}

func compareFloat(op string, got, want float64) bool {
	switch op {
	case "eq":
		return got == want
	case "ne":
		return got != want
	case "gt":
		return got > want
	case "lt":
		return got < want
	case "gte":
		return got >= want
	case "lte":
		return got <= want
	}
	return false
}
