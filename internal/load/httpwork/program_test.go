package httpwork_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/stampede/internal/load"
	"github.com/wesleyorama2/stampede/internal/load/checks"
	"github.com/wesleyorama2/stampede/internal/load/config"
	"github.com/wesleyorama2/stampede/internal/load/httpwork"
	"github.com/wesleyorama2/stampede/internal/load/metrics"
)

// hotelService mimics the target service: /ready, GET /hotels and POST /hotels.
type hotelService struct {
	mu      sync.Mutex
	created []map[string]interface{}
	agents  []string
	types   []string
}

func (h *hotelService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	h.agents = append(h.agents, r.UserAgent())
	h.mu.Unlock()

	switch {
	case r.URL.Path == "/ready":
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok")
	case r.URL.Path == "/hotels" && r.Method == http.MethodGet:
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"hotels":[{"id":"h1","name":"Tokyo Inn","city":"`+r.URL.Query().Get("city")+`"}]}`)
	case r.URL.Path == "/hotels" && r.Method == http.MethodPost:
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		h.mu.Lock()
		h.created = append(h.created, body)
		h.types = append(h.types, r.Header.Get("Content-Type"))
		h.mu.Unlock()
		w.Header().Set("Location", "/hotels/h2")
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":"h2"}`)
	case strings.HasPrefix(r.URL.Path, "/hotels/"):
		_, _ = io.WriteString(w, `{"id":"`+strings.TrimPrefix(r.URL.Path, "/hotels/")+`"}`)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newVU(t *testing.T, work load.WorkUnit, baseURL string) (*load.VirtualUser, *metrics.Registry, *checks.Registry) {
	t.Helper()
	reg := metrics.NewRegistry()
	chk := checks.NewRegistry()
	env := load.NewEnv(nil, baseURL, map[string]string{"city": "Tokyo"})
	t.Cleanup(env.Close)
	return load.NewVirtualUser(1, load.SchedulerConfig{
		Scenario: "test",
		Work:     work,
		Env:      env,
		Metrics:  reg,
		Checks:   chk,
	}), reg, chk
}

func TestProgram_GetWithChecks(t *testing.T) {
	srv := httptest.NewServer(&hotelService{})
	defer srv.Close()

	sc := &config.ScenarioConfig{Requests: []config.RequestConfig{{
		Method: "GET",
		URL:    "{{baseUrl}}/hotels?city={{city}}",
		Checks: []config.CheckConfig{
			{Type: "status", Value: "200"},
			{Name: "lists tokyo", Type: "jsonpath", Path: "$.hotels[0].city", Condition: "eq", Value: "Tokyo"},
		},
	}}}
	cfg := &config.TestConfig{Scenarios: map[string]*config.ScenarioConfig{"get": sc}}
	config.ApplyDefaults(cfg)

	program, err := httpwork.Build("get", sc, cfg.Settings)
	require.NoError(t, err)
	assert.Equal(t, []string{"lists tokyo", "status eq 200"}, program.CheckNames())

	vu, reg, chk := newVU(t, program, srv.URL)
	for i := 0; i < 3; i++ {
		result, err := vu.RunIteration(context.Background())
		require.NoError(t, err)
		assert.True(t, result.Succeeded, "iteration error: %v", result.Err)
	}

	snap := reg.Snapshot()
	reqs, ok := snap.Get(metrics.HTTPReqs)
	require.True(t, ok)
	assert.Equal(t, 3.0, reqs.Sum)
	failed, _ := snap.Get(metrics.HTTPReqFailed)
	assert.Equal(t, 0.0, failed.Rate)
	received, _ := snap.Get(metrics.DataReceived)
	assert.Greater(t, received.Sum, 0.0)

	for _, name := range program.CheckNames() {
		res, err := chk.Get(name)
		require.NoError(t, err)
		assert.Equal(t, int64(3), res.Passes, name)
	}
}

func TestProgram_PostJSONBodyIsRenderedPerIteration(t *testing.T) {
	svc := &hotelService{}
	srv := httptest.NewServer(svc)
	defer srv.Close()

	sc := &config.ScenarioConfig{Requests: []config.RequestConfig{
		{
			Method: "post",
			URL:    "{{baseUrl}}/hotels",
			JSON: map[string]interface{}{
				"name":            "Hotel {{$randHex}}",
				"city":            "Tokyo",
				"stars":           4,
				"price_per_night": 100.0,
				"amenities":       []interface{}{"wifi", "tv"},
			},
			Extract: []config.ExtractConfig{{Name: "hotelId", Source: "body", Path: "$.id"}},
			Checks:  []config.CheckConfig{{Name: "hotel created", Type: "status", Value: "201"}},
		},
		{
			URL:    "{{baseUrl}}/hotels/{{hotelId}}",
			Checks: []config.CheckConfig{{Name: "fetched created hotel", Type: "jsonpath", Path: "$.id", Condition: "eq", Value: "h2"}},
		},
	}}
	cfg := &config.TestConfig{Scenarios: map[string]*config.ScenarioConfig{"post": sc}}
	config.ApplyDefaults(cfg)

	program, err := httpwork.Build("post", sc, cfg.Settings)
	require.NoError(t, err)

	vu, _, chk := newVU(t, program, srv.URL)
	for i := 0; i < 2; i++ {
		result, err := vu.RunIteration(context.Background())
		require.NoError(t, err)
		require.True(t, result.Succeeded, "iteration error: %v", result.Err)
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	require.Len(t, svc.created, 2)
	assert.NotEqual(t, svc.created[0]["name"], svc.created[1]["name"], "names must be unique per iteration")
	assert.Regexp(t, `^Hotel [0-9a-f]{6}$`, svc.created[0]["name"])
	assert.Equal(t, 4.0, svc.created[0]["stars"])
	assert.Equal(t, "application/json", svc.types[0])
	assert.Equal(t, "stampede/1.0", svc.agents[0])

	res, err := chk.Get("fetched created hotel")
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Passes)
}

func TestProgram_JSONBodyEscapesSubstitutedValues(t *testing.T) {
	svc := &hotelService{}
	srv := httptest.NewServer(svc)
	defer srv.Close()

	sc := &config.ScenarioConfig{Requests: []config.RequestConfig{{
		Method: "POST",
		URL:    "{{baseUrl}}/hotels",
		JSON:   map[string]interface{}{"name": "{{name}}", "city": "{{city}}"},
		Checks: []config.CheckConfig{{Name: "hotel created", Type: "status", Value: "201"}},
	}}}
	program, err := httpwork.Build("post", sc, config.GlobalSettings{})
	require.NoError(t, err)

	name := `The "Grand" \ Hotel` + "\n"
	env := load.NewEnv(nil, srv.URL, map[string]string{"name": name, "city": "Tokyo"})
	t.Cleanup(env.Close)
	chk := checks.NewRegistry()
	vu := load.NewVirtualUser(1, load.SchedulerConfig{
		Scenario: "post",
		Work:     program,
		Env:      env,
		Metrics:  metrics.NewRegistry(),
		Checks:   chk,
	})

	result, err := vu.RunIteration(context.Background())
	require.NoError(t, err)
	require.True(t, result.Succeeded, "iteration error: %v", result.Err)

	res, err := chk.Get("hotel created")
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Passes, "body must stay valid JSON")

	svc.mu.Lock()
	defer svc.mu.Unlock()
	require.Len(t, svc.created, 1)
	assert.Equal(t, name, svc.created[0]["name"])
	assert.Equal(t, "Tokyo", svc.created[0]["city"])
}

func TestProgram_TransportErrorFailsIteration(t *testing.T) {
	srv := httptest.NewServer(&hotelService{})
	url := srv.URL
	srv.Close()

	sc := &config.ScenarioConfig{Requests: []config.RequestConfig{{Name: "ready", Method: "GET", URL: url + "/ready"}}}
	program, err := httpwork.Build("down", sc, config.GlobalSettings{})
	require.NoError(t, err)

	vu, reg, _ := newVU(t, program, url)
	result, err := vu.RunIteration(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Succeeded)
	assert.Contains(t, result.Err.Error(), "request ready")

	failed, _ := reg.Snapshot().Get(metrics.HTTPReqFailed)
	assert.Equal(t, 1.0, failed.Rate)
}

func TestProgram_NotFoundIsAResponse(t *testing.T) {
	srv := httptest.NewServer(&hotelService{})
	defer srv.Close()

	sc := &config.ScenarioConfig{Requests: []config.RequestConfig{{
		Name: "missing", Method: "GET", URL: "{{baseUrl}}/nope",
		Checks: []config.CheckConfig{{Name: "is 200", Type: "status", Condition: "eq", Value: "200"}},
	}}}
	program, err := httpwork.Build("nf", sc, config.GlobalSettings{})
	require.NoError(t, err)

	vu, reg, chk := newVU(t, program, srv.URL)
	result, err := vu.RunIteration(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Succeeded, "a failed check or 404 alone must not fail the iteration")

	failed, _ := reg.Snapshot().Get(metrics.HTTPReqFailed)
	assert.Equal(t, 1.0, failed.Rate)
	res, _ := chk.Get("is 200")
	assert.Equal(t, int64(1), res.Fails)
}

func TestProgram_RequestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	sc := &config.ScenarioConfig{Requests: []config.RequestConfig{{Name: "slow", Method: "GET", URL: srv.URL, Timeout: "50ms"}}}
	program, err := httpwork.Build("slow", sc, config.GlobalSettings{})
	require.NoError(t, err)

	vu, _, _ := newVU(t, program, srv.URL)
	start := time.Now()
	result, err := vu.RunIteration(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Succeeded)
	assert.False(t, result.Interrupted)
	assert.Less(t, time.Since(start), time.Second)
}

func TestProgram_ThinkTime(t *testing.T) {
	srv := httptest.NewServer(&hotelService{})
	defer srv.Close()

	sc := &config.ScenarioConfig{Requests: []config.RequestConfig{{
		Name: "ready", Method: "GET", URL: "{{baseUrl}}/ready", ThinkTime: "40ms", ThinkTimeMax: "60ms",
	}}}
	program, err := httpwork.Build("think", sc, config.GlobalSettings{})
	require.NoError(t, err)
	step := program.Variants[0].Steps[0]
	assert.Equal(t, 40*time.Millisecond, step.ThinkTime)
	assert.Equal(t, 60*time.Millisecond, step.ThinkTimeMax)

	vu, _, _ := newVU(t, program, srv.URL)
	result, err := vu.RunIteration(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Succeeded)
	assert.GreaterOrEqual(t, result.Duration, 40*time.Millisecond)
}

func TestProgram_WeightedMix(t *testing.T) {
	sc := &config.ScenarioConfig{Mix: []config.VariantConfig{
		{Name: "GET_HOTELS", Weight: 70, Requests: []config.RequestConfig{{Name: "a", URL: "http://x/hotels"}}},
		{Name: "POST_HOTELS", Weight: 25, Requests: []config.RequestConfig{{Name: "b", Method: "POST", URL: "http://x/hotels"}}},
		{Name: "READY", Weight: 5, Requests: []config.RequestConfig{{Name: "c", URL: "http://x/ready"}}},
	}}
	program, err := httpwork.Build("synthetic", sc, config.GlobalSettings{})
	require.NoError(t, err)

	tests := []struct {
		r    float64
		want string
	}{
		{0, "GET_HOTELS"},
		{0.69, "GET_HOTELS"},
		{0.71, "POST_HOTELS"},
		{0.94, "POST_HOTELS"},
		{0.96, "READY"},
		{0.9999, "READY"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, program.Pick(tt.r).Name, "Pick(%v)", tt.r)
	}
}

func TestBuild_Errors(t *testing.T) {
	tests := []struct {
		name string
		sc   *config.ScenarioConfig
	}{
		{name: "no requests", sc: &config.ScenarioConfig{}},
		{
			name: "requests and mix",
			sc: &config.ScenarioConfig{
				Requests: []config.RequestConfig{{Name: "a", URL: "http://x"}},
				Mix:      []config.VariantConfig{{Weight: 1, Requests: []config.RequestConfig{{Name: "b", URL: "http://x"}}}},
			},
		},
		{name: "zero weight", sc: &config.ScenarioConfig{Mix: []config.VariantConfig{{Requests: []config.RequestConfig{{Name: "a", URL: "http://x"}}}}}},
		{name: "bad think time", sc: &config.ScenarioConfig{Requests: []config.RequestConfig{{Name: "a", URL: "http://x", ThinkTime: "later"}}}},
		{name: "bad check", sc: &config.ScenarioConfig{Requests: []config.RequestConfig{{Name: "a", URL: "http://x", Checks: []config.CheckConfig{{Name: "c", Type: "nope"}}}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := httpwork.Build("s", tt.sc, config.GlobalSettings{})
			assert.Error(t, err)
		})
	}
}
