package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

type httpMetrics struct {
	mu       sync.Mutex
	requests *counterVec
	errors   *counterVec
	latency  *histogramVec
}

var httpCollector = &httpMetrics{
	requests: newCounterVec("policygate_http_requests_total",
		"Total number of HTTP requests processed."),
	errors: newCounterVec("policygate_http_request_errors_total",
		"Total number of HTTP requests that resulted in a server error."),
	latency: newHistogramVec("policygate_http_request_duration_seconds",
		"HTTP request duration in seconds.",
		[]float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}),
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	c := httpCollector
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests.inc(labels("handler", handler, "method", method, "code", strconv.Itoa(status)))
	if status >= 500 {
		c.errors.inc(labels("handler", handler, "method", method))
	}
	c.latency.observe(labels("handler", handler, "method", method), duration.Seconds())
}

func (c *httpMetrics) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var b strings.Builder
	b.Grow(1024)
	c.requests.write(&b)
	c.errors.write(&b)
	c.latency.write(&b)
	return b.String()
}

// Handler exposes the metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, httpCollector.render())
		_, _ = fmt.Fprint(w, pipelineCollector.render())
	})
}

// StartServer launches a standalone HTTP server exposing the /metrics endpoint.
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
