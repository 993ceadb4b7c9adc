package load

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/wesleyorama2/stampede/internal/load/metrics"
)

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
}

// Do sends req with the shared client and records http_reqs,
// http_req_duration, http_req_failed, data_sent and data_received.
//
// A status of 400 or above counts as a failed request but is returned as a
// normal response. Only transport and body read errors are returned as errors.
func (it *Iteration) Do(req *http.Request) (*Response, error) {
	client := http.DefaultClient
	if it.Env != nil && it.Env.Client != nil {
		client = it.Env.Client
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		it.recordRequest(req, time.Since(start), 0, true)
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	elapsed := time.Since(start)
	if err != nil {
		it.recordRequest(req, elapsed, int64(len(body)), true)
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	it.recordRequest(req, elapsed, int64(len(body)), resp.StatusCode >= 400)

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		Duration:   elapsed,
	}, nil
}

func (it *Iteration) recordRequest(req *http.Request, d time.Duration, received int64, failed bool) {
	m := it.metrics
	if m == nil {
		return
	}
	m.Add(metrics.HTTPReqs, 1)
	m.ObserveDuration(metrics.HTTPReqDuration, d)
	m.Mark(metrics.HTTPReqFailed, failed)
	if req.ContentLength > 0 {
		m.Add(metrics.DataSent, float64(req.ContentLength))
	}
	if received > 0 {
		m.Add(metrics.DataReceived, float64(received))
	}
}
