/*
health.go - Periodic health probing

PURPOSE:
  Every health_interval seconds, GETs /health on each backend with
  health_timeout, per §4.7. Ticker/stop/WaitGroup shape grounded on the
  teacher's api/scheduler.go ReconciliationScheduler, already reused by
  sla/monitor.go and worker/batcher.go.
*/
package proxy

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// HealthChecker drives periodic probing of a LoadBalancer's backends.
type HealthChecker struct {
	lb       *LoadBalancer
	client   *http.Client
	interval time.Duration
	timeout  time.Duration

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewHealthChecker constructs a checker for lb.
func NewHealthChecker(lb *LoadBalancer, interval, timeout time.Duration) *HealthChecker {
	return &HealthChecker{
		lb:       lb,
		client:   &http.Client{Timeout: timeout},
		interval: interval,
		timeout:  timeout,
		stop:     make(chan struct{}),
	}
}

// Start begins the probe loop in its own goroutine, probing immediately
// before the first tick so the proxy doesn't wait a full interval before
// any backend is marked healthy.
func (hc *HealthChecker) Start(ctx context.Context) {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	hc.probeAll(ctx)

	hc.ticker = time.NewTicker(hc.interval)
	hc.wg.Add(1)
	go hc.run(ctx)
}

// Stop halts the probe loop and waits for the in-flight probe round to
// finish.
func (hc *HealthChecker) Stop() {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	if hc.ticker != nil {
		hc.ticker.Stop()
		close(hc.stop)
		hc.wg.Wait()
	}
}

func (hc *HealthChecker) run(ctx context.Context) {
	defer hc.wg.Done()
	for {
		select {
		case <-hc.ticker.C:
			hc.probeAll(ctx)
		case <-hc.stop:
			return
		}
	}
}

func (hc *HealthChecker) probeAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, b := range hc.lb.Backends() {
		wg.Add(1)
		go func(b *Backend) {
			defer wg.Done()
			b.Probe(ctx, hc.client, hc.timeout)
		}(b)
	}
	wg.Wait()
}
