package load

import (
	"crypto/tls"
	"net/http"
	"time"
)

// HTTPClientConfig contains HTTP client configuration.
type HTTPClientConfig struct {
	// Timeout for HTTP requests
	Timeout time.Duration

	// MaxIdleConns controls the maximum number of idle connections
	MaxIdleConns int

	// MaxIdleConnsPerHost controls the maximum idle connections per host
	MaxIdleConnsPerHost int

	// MaxConnsPerHost limits the total connections per host
	MaxConnsPerHost int

	// IdleConnTimeout is how long idle connections are kept alive
	IdleConnTimeout time.Duration

	// DisableKeepAlives disables HTTP keep-alives
	DisableKeepAlives bool

	// DisableCompression disables automatic decompression
	DisableCompression bool

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool
}

// DefaultHTTPClientConfig returns sensible defaults for load testing.
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		Timeout:             30 * time.Second,
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     0, // Unlimited
		IdleConnTimeout:     90 * time.Second,
	}
}

// NewHTTPClient creates an HTTP client with the configured settings.
func NewHTTPClient(cfg HTTPClientConfig) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		DisableKeepAlives:   cfg.DisableKeepAlives,
		DisableCompression:  cfg.DisableCompression,
	}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for test targets
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}
}

// Env is the run-scoped state shared by every iteration: the HTTP client,
// the target base URL and configuration variables.
//
// An Env is built once per run before any traffic starts, is read-only while
// iterations execute, and is closed after every iteration has drained.
type Env struct {
	Client  *http.Client
	BaseURL string
	Vars    map[string]string
}

// NewEnv creates the shared environment for a run.
func NewEnv(client *http.Client, baseURL string, vars map[string]string) *Env {
	if client == nil {
		client = NewHTTPClient(DefaultHTTPClientConfig())
	}
	copied := make(map[string]string, len(vars))
	for k, v := range vars {
		copied[k] = v
	}
	return &Env{
		Client:  client,
		BaseURL: baseURL,
		Vars:    copied,
	}
}

// Var returns a configuration variable.
func (e *Env) Var(key string) (string, bool) {
	if e == nil {
		return "", false
	}
	v, ok := e.Vars[key]
	return v, ok
}

// Close releases idle connections held by the shared client.
func (e *Env) Close() {
	if e != nil && e.Client != nil {
		e.Client.CloseIdleConnections()
	}
}
