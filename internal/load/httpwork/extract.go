package httpwork

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/wesleyorama2/stampede/internal/load"
	"github.com/wesleyorama2/stampede/internal/load/config"
	"github.com/wesleyorama2/stampede/pkg/jsonpath"
)

// Extractor captures a value from a response into a VU variable.
type Extractor struct {
	Name   string
	Source string
	Path   string

	re *regexp.Regexp
}

// NewExtractor compiles cfg.
func NewExtractor(cfg config.ExtractConfig) (*Extractor, error) {
	e := &Extractor{Name: cfg.Name, Source: cfg.Source, Path: cfg.Path}
	switch e.Source {
	case "body", "header", "status":
	default:
		return nil, fmt.Errorf("extract %q: invalid source %q", cfg.Name, cfg.Source)
	}
	if cfg.Regex != "" {
		re, err := regexp.Compile(cfg.Regex)
		if err != nil {
			return nil, fmt.Errorf("extract %q: invalid regex: %w", cfg.Name, err)
		}
		e.re = re
	}
	return e, nil
}

// Extract returns the captured value. With a regex, the first submatch (or
// the whole match without groups) is the value.
func (e *Extractor) Extract(resp *load.Response) (string, bool) {
	var value string
	switch e.Source {
	case "header":
		value = resp.Header.Get(e.Path)
	case "status":
		value = strconv.Itoa(resp.StatusCode)
	case "body":
		if e.Path == "" {
			value = string(resp.Body)
		} else {
			v, err := jsonpath.Extract(resp.Body, e.Path)
			if err != nil {
				return "", false
			}
			value = v
		}
	}

	if e.re != nil {
		m := e.re.FindStringSubmatch(value)
		switch {
		case m == nil:
			return "", false
		case len(m) > 1:
			value = m[1]
		default:
			value = m[0]
		}
	}
	return value, value != ""
}
