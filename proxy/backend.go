/*
backend.go - Backend bookkeeping and two-strikes health probing

PURPOSE:
  Tracks one API instance's URL, health state, and request/error counters.
  Health transitions require two consecutive successes to mark healthy and
  two consecutive failures to mark unhealthy (§4.7); initial state is
  unknown and treated as unhealthy until proven.

  Grounded on original_source/reverse_proxy.py's LoadBalancer server_stats
  map, generalized from a raw dict to a typed, mutex-guarded struct and
  extended with the specification's two-strikes health machine (the
  original Python proxy never health-checks at all).
*/
package proxy

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// Backend is one API instance the proxy can forward to.
type Backend struct {
	URL string

	mu               sync.Mutex
	healthy          bool
	consecutiveOK    int
	consecutiveFail  int
	requests         int64
	errors           int64
	lastCheck        time.Time
}

// NewBackend constructs a Backend in the initial unknown/unhealthy state.
func NewBackend(url string) *Backend {
	return &Backend{URL: url}
}

// Healthy reports the backend's current health flag.
func (b *Backend) Healthy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.healthy
}

// RecordResult applies the two-strikes state machine to one health probe
// outcome. Forwarded requests do not call it; a failed forward uses
// MarkUnhealthyImmediately instead.
func (b *Backend) RecordResult(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastCheck = time.Now()
	if ok {
		b.consecutiveOK++
		b.consecutiveFail = 0
		if b.consecutiveOK >= 2 {
			b.healthy = true
		}
	} else {
		b.consecutiveFail++
		b.consecutiveOK = 0
		if b.consecutiveFail >= 2 {
			b.healthy = false
		}
	}
}

// MarkUnhealthyImmediately forces the backend unhealthy, used on a
// failover after a failed forward attempt so the next request skips it
// without waiting for two probe failures.
func (b *Backend) MarkUnhealthyImmediately() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.healthy = false
	b.consecutiveOK = 0
	b.consecutiveFail = 2
}

// RecordRequest increments the request/error counters for the stats
// endpoint.
func (b *Backend) RecordRequest(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests++
	if !success {
		b.errors++
	}
}

// Stats is a point-in-time snapshot for GET /proxy/stats.
type Stats struct {
	URL      string    `json:"url"`
	Healthy  bool      `json:"healthy"`
	Requests int64     `json:"requests"`
	Errors   int64     `json:"errors"`
	LastCheck time.Time `json:"last_check"`
}

// Snapshot returns the current Stats.
func (b *Backend) Snapshot() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		URL:       b.URL,
		Healthy:   b.healthy,
		Requests:  b.requests,
		Errors:    b.errors,
		LastCheck: b.lastCheck,
	}
}

// Probe issues GET {URL}/health with the given timeout and records the
// two-strikes outcome.
func (b *Backend) Probe(ctx context.Context, client *http.Client, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.URL+"/health", nil)
	if err != nil {
		b.RecordResult(false)
		return
	}

	resp, err := client.Do(req)
	if err != nil {
		b.RecordResult(false)
		return
	}
	defer resp.Body.Close()

	b.RecordResult(resp.StatusCode == http.StatusOK)
}
