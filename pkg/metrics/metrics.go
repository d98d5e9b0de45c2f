// Package metrics exposes the Prometheus registry of the harvester.
// All metrics are defined in their respective packages (graphql, cache,
// ratelimit, queue) to maintain modularity and avoid circular dependencies.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Registry is the default Prometheus registry used by the harvester.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler returns the /metrics handler for the default gatherer.
func Handler() http.Handler {
	return promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done. It returns the bound
// address once the listener is up; shutdown errors are logged.
func Serve(ctx context.Context, addr string, logger zerolog.Logger) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Metrics server shutdown")
		}
	}()

	logger.Info().Str("addr", ln.Addr().String()).Msg("Serving metrics")
	return ln.Addr().String(), nil
}

// Metrics Documentation
//
// Transport Metrics (pkg/graphql):
//   - harvester_graphql_requests_total{status} (Counter): Requests by HTTP status, "cached" or "rate_limited"
//   - harvester_graphql_request_duration_seconds (Histogram): Query duration
//   - harvester_graphql_errors_total{class} (Counter): Errors by class (client, server, rate_limit, secondary_rate_limit, network)
//   - harvester_graphql_retries_total{error_class} (Counter): Network retry attempts
//   - harvester_graphql_retry_backoff_seconds{error_class} (Histogram): Backoff duration
//   - harvester_graphql_retry_exhausted_total{error_class} (Counter): Queries that exhausted their retries
//
// Rate Limit Metrics (pkg/ratelimit):
//   - harvester_rate_limit_remaining (Gauge): Remaining primary quota
//   - harvester_rate_limit_blocks_total (Counter): Requests refused below the stop threshold
//   - harvester_rate_limit_throttles_total (Counter): Requests throttled in the warning zone
//
// Cache Metrics (pkg/cache):
//   - harvester_cache_lookups_total{result} (Counter): Lookups by result (hit, miss, expired, invalid)
//   - harvester_cache_bytes_total{direction} (Counter): Bytes read and written
//   - harvester_cache_errors_total{operation} (Counter): Redis errors by operation
//
// Queue Metrics (pkg/queue):
//   - harvester_tasks_total{outcome} (Counter): Task executions by outcome
//   - harvester_task_duration_seconds (Histogram): Task execution duration
//   - harvester_queue_unresolved (Gauge): Unresolved tasks
//   - harvester_queue_in_flight (Gauge): Executing tasks
//
// Example Prometheus Queries:
//
//   # Narrowing rate
//   rate(harvester_tasks_total{outcome="archived"}[5m])
//
//   # Quota headroom
//   harvester_rate_limit_remaining < 500
//
//   # P95 Query Latency
//   histogram_quantile(0.95, rate(harvester_graphql_request_duration_seconds_bucket[5m]))
