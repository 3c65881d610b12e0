/*
proxy.go - Request forwarding with one-retry failover

PURPOSE:
  Implements the forwarding algorithm from §4.7: copy method/path/query/
  headers/body (hop-by-hop headers stripped both ways), forward to the
  chosen backend, and return its status/headers/body verbatim. On a
  connection-level failure, mark the backend unhealthy immediately and
  retry once against a different healthy backend; if none is healthy,
  return 503.

  Grounded on original_source/reverse_proxy.py's ProxyHandler.
  proxy_request, rewritten from the manual socket-level copy to
  net/http's client/ResponseWriter and extended with the specification's
  failover + hop-by-hop filtering (absent from the original, which copies
  every header except Host/Content-Length).
*/
package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// hopByHopHeaders per §4.7; stripped from both the forwarded request and
// the returned response.
var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"TE", "Trailers", "Transfer-Encoding", "Upgrade",
}

// Handler is the proxy's http.Handler, forwarding every request to a
// round-robin-selected healthy backend.
type Handler struct {
	lb     *LoadBalancer
	client *http.Client
}

// NewHandler constructs a proxy Handler over lb.
func NewHandler(lb *LoadBalancer) *Handler {
	return &Handler{
		lb:     lb,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeProxyError(w, http.StatusBadRequest, "failed to read request body", err)
		return
	}

	backend := h.lb.Next(nil)
	if backend == nil {
		writeProxyError(w, http.StatusServiceUnavailable, "no healthy backend available", nil)
		return
	}

	if h.forward(w, r, body, backend) {
		return
	}

	// Failover: at most one retry against a different healthy backend.
	backend.MarkUnhealthyImmediately()
	retryBackend := h.lb.Next(backend)
	if retryBackend == nil {
		writeProxyError(w, http.StatusServiceUnavailable, "no healthy backend available after failover", nil)
		return
	}
	h.forward(w, r, body, retryBackend)
}

// forward attempts one proxied request to backend. Returns true if the
// request was forwarded (regardless of the backend's own status code);
// false only on a connection-level failure that should trigger failover.
func (h *Handler) forward(w http.ResponseWriter, r *http.Request, body []byte, backend *Backend) bool {
	start := time.Now()

	targetURL := backend.URL + r.URL.Path
	if r.URL.RawQuery != "" {
		targetURL += "?" + r.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, targetURL, strings.NewReader(string(body)))
	if err != nil {
		backend.RecordRequest(false)
		writeProxyError(w, http.StatusBadGateway, "failed to build backend request", err)
		return true
	}
	copyHeaders(req.Header, r.Header)
	req.Header.Set("X-Forwarded-For", r.RemoteAddr)
	req.Header.Set("X-Forwarded-Proto", "http")
	if req.Header.Get("X-Correlation-ID") == "" {
		req.Header.Set("X-Correlation-ID", uuid.NewString())
	}

	resp, err := h.client.Do(req)
	if err != nil {
		backend.RecordRequest(false)
		log.Printf("[proxy] %s %s -> %s failed: %v", r.Method, r.URL.Path, backend.URL, err)
		return false
	}
	defer resp.Body.Close()

	respTime := time.Since(start)

	copyHeaders(w.Header(), resp.Header)
	w.Header().Set("X-Proxy-Response-Time", fmt.Sprintf("%.3fs", respTime.Seconds()))
	w.Header().Set("X-Served-By", backend.URL)
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)

	backend.RecordRequest(resp.StatusCode < http.StatusInternalServerError)
	log.Printf("[proxy] %s %s -> %s (%d) %.3fs", r.Method, r.URL.Path, backend.URL, resp.StatusCode, respTime.Seconds())
	return true
}

func copyHeaders(dst, src http.Header) {
	for name, values := range src {
		if isHopByHop(name) {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

func isHopByHop(name string) bool {
	for _, h := range hopByHopHeaders {
		if strings.EqualFold(h, name) {
			return true
		}
	}
	return false
}

func writeProxyError(w http.ResponseWriter, status int, message string, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]string{"error": message}
	if err != nil {
		body["detail"] = err.Error()
	}
	json.NewEncoder(w).Encode(body)
}

// StatsHandler serves GET /proxy/stats with per-backend request/error
// counts - the supplemented feature grounded on
// original_source/reverse_proxy.py's LoadBalancer.get_stats.
func StatsHandler(lb *LoadBalancer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshots := make([]Stats, 0, len(lb.Backends()))
		for _, b := range lb.Backends() {
			snapshots = append(snapshots, b.Snapshot())
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(snapshots)
	}
}

// RunStatsLogger periodically logs per-backend stats, mirroring
// original_source/reverse_proxy.py's report_stats background thread.
func RunStatsLogger(ctx context.Context, lb *LoadBalancer, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for _, b := range lb.Backends() {
				s := b.Snapshot()
				errRate := float64(0)
				if s.Requests > 0 {
					errRate = float64(s.Errors) / float64(s.Requests) * 100
				}
				log.Printf("[proxy] %s: %d requests, %d errors (%.1f%%)", s.URL, s.Requests, s.Errors, errRate)
			}
		case <-ctx.Done():
			return
		}
	}
}
