// Package telemetry provides application-level observability for the gateway.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// automatically available on the side-channel HTTP server started by main.go:
//
//	GET http://<host>:<GWY_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint returns data in the Prometheus text
// exposition format and is intended to be scraped by a Prometheus server. It
// is NOT served by the Gin router, so it is never reachable through the
// forwarding surface.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Forwarded upstream request counters and latency histograms (labelled by service)
//   - Login and forward authorization outcome counters
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template) rather than the raw request
// URL. Forwarding metrics use the registered api_name, never the arbitrary
// remainder path, so clients cannot inflate label cardinality by probing.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/apigateway/apigateway/internal/safego"
)

// HTTP metrics — labelled by method, route template, and status code.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Forwarding metrics — recorded by the default-route forwarder for each
// request that reaches an upstream service.
//
// ForwardedRequestsTotal carries the upstream's response status, or the
// literal "502" when the upstream could not be reached at all. The service
// label is "<api_name>/<version>" of the resolved service record.
//
// Example PromQL queries:
//   - Upstream error rate by service:  sum by (service) (rate(forwarded_requests_total{status=~"5.."}[5m]))
//   - p95 upstream latency:            histogram_quantile(0.95, sum by (service, le) (rate(forward_upstream_duration_seconds_bucket[5m])))
var (
	ForwardedRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forwarded_requests_total",
			Help: "Total number of requests forwarded to upstream services, by service and upstream status.",
		},
		[]string{"service", "status"},
	)

	ForwardUpstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "forward_upstream_duration_seconds",
			Help:    "Histogram of upstream round-trip latencies, by service.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"service"},
	)
)

// Authorization outcome metrics.
//
// LoginAttemptsTotal has an outcome label of "success" or "failure". Failed
// logins are a single bucket: username and password failures are not
// distinguished here for the same reason they are not distinguished in the
// login response.
//
// ForwardAuthorizationsTotal counts forwarder-side authorization decisions
// with outcome "allowed", "denied", or "unauthenticated".
//
// Example PromQL queries:
//   - Brute-force signal:   rate(login_attempts_total{outcome="failure"}[5m])
//   - Denial rate:          rate(forward_authorizations_total{outcome="denied"}[5m])
var (
	LoginAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "login_attempts_total",
			Help: "Total number of login attempts, by outcome.",
		},
		[]string{"outcome"},
	)

	ForwardAuthorizationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forward_authorizations_total",
			Help: "Total number of forwarder authorization decisions, by outcome.",
		},
		[]string{"outcome"},
	)
)

// DBOpenConnections is a Gauge that tracks the number of open connections
// currently held by the sql.DB connection pool. It is sampled every 30
// seconds by StartDBStatsCollector rather than per-request to avoid the
// overhead of sql.DB.Stats().
//
// Example PromQL queries:
//   - Pool utilisation (%): db_open_connections / <GWY_DATABASE_MAX_CONNECTIONS> * 100
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB
// connection pool statistics every 30 seconds and updates the
// DBOpenConnections gauge. The goroutine exits cleanly when the database
// becomes unreachable (db.Ping fails), which happens automatically when the
// application shuts down and defers db.Close().
//
// Call this once, immediately after db.Connect() succeeds in main.go.
func StartDBStatsCollector(db *sql.DB) {
	safego.Go(func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	})
}
