// Package httpwork builds HTTP work units from test configuration.
//
// A Program is a weighted mix of variants. Every iteration samples one
// variant and runs its request steps in order, applying checks, extracting
// variables and pausing for think time between steps.
package httpwork

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/wesleyorama2/stampede/internal/load"
	"github.com/wesleyorama2/stampede/internal/load/config"
)

// Program is the WorkUnit of one scenario.
type Program struct {
	Name     string
	Variants []*Variant

	cumulative []float64
	total      float64
	headers    map[string]string
}

// Variant is one weighted branch of a Program.
type Variant struct {
	Name   string
	Weight float64
	Steps  []*Step
}

// Step is one HTTP request of a variant.
type Step struct {
	Name    string
	Method  string
	URL     string
	Headers map[string]string
	Body    string
	JSON    bool
	Timeout time.Duration

	// ThinkTime is paused after the request. With ThinkTimeMax set the pause
	// is uniform in [ThinkTime, ThinkTimeMax).
	ThinkTime    time.Duration
	ThinkTimeMax time.Duration

	Extracts []*Extractor
	Checks   []*Check
}

// Build compiles a scenario's requests or mix into a Program. Settings
// headers and the user agent are sent with every request.
func Build(name string, sc *config.ScenarioConfig, settings config.GlobalSettings) (*Program, error) {
	p := &Program{Name: name, headers: make(map[string]string)}
	for k, v := range settings.Headers {
		p.headers[k] = v
	}
	if settings.UserAgent != "" {
		p.headers["User-Agent"] = settings.UserAgent
	}

	if len(sc.Mix) > 0 && len(sc.Requests) > 0 {
		return nil, fmt.Errorf("scenario %s: requests and mix are mutually exclusive", name)
	}

	variants := sc.Mix
	if len(variants) == 0 {
		variants = []config.VariantConfig{{Name: name, Weight: 1, Requests: sc.Requests}}
	}

	for i, vc := range variants {
		if vc.Weight <= 0 {
			return nil, fmt.Errorf("scenario %s: variant %d has weight %v", name, i+1, vc.Weight)
		}
		if len(vc.Requests) == 0 {
			return nil, fmt.Errorf("scenario %s: variant %q has no requests", name, vc.Name)
		}
		v := &Variant{Name: vc.Name, Weight: vc.Weight}
		if v.Name == "" {
			v.Name = fmt.Sprintf("variant_%d", i+1)
		}
		for j, rc := range vc.Requests {
			step, err := newStep(rc)
			if err != nil {
				return nil, fmt.Errorf("scenario %s: %s request %d: %w", name, v.Name, j+1, err)
			}
			v.Steps = append(v.Steps, step)
		}
		p.total += v.Weight
		p.cumulative = append(p.cumulative, p.total)
		p.Variants = append(p.Variants, v)
	}
	return p, nil
}

func newStep(rc config.RequestConfig) (*Step, error) {
	s := &Step{
		Name:    rc.Name,
		Method:  strings.ToUpper(rc.Method),
		URL:     rc.URL,
		Headers: rc.Headers,
		Body:    rc.Body,
	}
	if s.Method == "" {
		s.Method = http.MethodGet
	}
	if rc.JSON != nil {
		raw, err := json.Marshal(rc.JSON)
		if err != nil {
			return nil, fmt.Errorf("invalid json body: %w", err)
		}
		s.Body = string(raw)
		s.JSON = true
	}

	durations := []struct {
		value string
		dst   *time.Duration
	}{
		{rc.Timeout, &s.Timeout},
		{rc.ThinkTime, &s.ThinkTime},
		{rc.ThinkTimeMax, &s.ThinkTimeMax},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		dur, err := config.ParseDurationString(d.value)
		if err != nil {
			return nil, err
		}
		*d.dst = dur
	}

	for _, ec := range rc.Extract {
		e, err := NewExtractor(ec)
		if err != nil {
			return nil, err
		}
		s.Extracts = append(s.Extracts, e)
	}
	for _, cc := range rc.Checks {
		c, err := NewCheck(cc)
		if err != nil {
			return nil, err
		}
		s.Checks = append(s.Checks, c)
	}
	return s, nil
}

// Pick returns the variant selected by r in [0, 1).
func (p *Program) Pick(r float64) *Variant {
	target := r * p.total
	i := sort.Search(len(p.cumulative), func(i int) bool { return p.cumulative[i] > target })
	if i >= len(p.Variants) {
		i = len(p.Variants) - 1
	}
	return p.Variants[i]
}

// CheckNames returns the names of every check the program can record.
func (p *Program) CheckNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, v := range p.Variants {
		for _, s := range v.Steps {
			for _, c := range s.Checks {
				if !seen[c.Name] {
					seen[c.Name] = true
					names = append(names, c.Name)
				}
			}
		}
	}
	sort.Strings(names)
	return names
}

// Run implements load.WorkUnit.
func (p *Program) Run(ctx context.Context, it *load.Iteration) error {
	v := p.Pick(rand.Float64())
	for _, step := range v.Steps {
		if err := p.runStep(ctx, it, step); err != nil {
			return err
		}
	}
	return nil
}

func (p *Program) runStep(ctx context.Context, it *load.Iteration, s *Step) error {
	reqCtx := ctx
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	req, err := p.buildRequest(reqCtx, it, s)
	if err != nil {
		return fmt.Errorf("request %s: %w", s.Name, err)
	}

	resp, err := it.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", s.Name, err)
	}

	for _, c := range s.Checks {
		it.Check(c.Name, c.Evaluate(resp))
	}
	for _, e := range s.Extracts {
		if value, ok := e.Extract(resp); ok {
			it.SetVar(e.Name, value)
		}
	}

	return it.Sleep(ctx, s.thinkTime())
}

func (p *Program) buildRequest(ctx context.Context, it *load.Iteration, s *Step) (*http.Request, error) {
	var body io.Reader
	switch {
	case s.JSON:
		body = strings.NewReader(RenderJSON(s.Body, it))
	case s.Body != "":
		body = strings.NewReader(Render(s.Body, it))
	}

	req, err := http.NewRequestWithContext(ctx, s.Method, Render(s.URL, it), body)
	if err != nil {
		return nil, err
	}

	for k, v := range p.headers {
		req.Header.Set(k, v)
	}
	if s.JSON {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range s.Headers {
		req.Header.Set(k, Render(v, it))
	}
	return req, nil
}

func (s *Step) thinkTime() time.Duration {
	if s.ThinkTimeMax > s.ThinkTime {
		return s.ThinkTime + time.Duration(rand.Int63n(int64(s.ThinkTimeMax-s.ThinkTime)))
	}
	return s.ThinkTime
}
