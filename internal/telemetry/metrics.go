// Package telemetry provides application-level observability for the Keepsake backend.
//
// All metrics are registered against the default Prometheus registry and are
// served on a side-channel HTTP server started by cmd/server (default port
// 9090, configure with KP_TELEMETRY_PROMETHEUS_PORT). The endpoint is never
// part of the Gin router so the scrape path stays off the public ingress.
//
// HTTP metrics use c.FullPath() (the Gin route template, e.g. /t/:token)
// rather than the raw URL. For this service that is not only a cardinality
// concern: raw exchange URLs contain the bearer token itself, which must never
// appear in a metrics label.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route template, and status code.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds by method and route template.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Token lifecycle metrics. The result label is deliberately coarse: "ok" or
// "rejected". Per-cause counts (not found vs expired vs inactive) would give a
// scrape-capable attacker the oracle the API itself refuses to provide.
var (
	TokenExchangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keepsake_token_exchanges_total",
			Help: "Total one-time link exchange attempts by result (ok, rejected).",
		},
		[]string{"result"},
	)

	ProjectsCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "keepsake_projects_created_total",
			Help: "Total projects created through onboarding.",
		},
	)
)

// AI provider metrics, labelled by operation (transcribe, chat) and result.
var (
	AIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keepsake_ai_requests_total",
			Help: "Total calls to the AI provider by operation and result.",
		},
		[]string{"operation", "result"},
	)

	AIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "keepsake_ai_request_duration_seconds",
			Help:    "AI provider call latency in seconds by operation.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"operation"},
	)
)

// Export and retention metrics.
var (
	PDFExportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keepsake_pdf_exports_total",
			Help: "Total memoir PDF exports by result.",
		},
		[]string{"result"},
	)

	RetentionSweepsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "keepsake_retention_sweeps_total",
			Help: "Total retention sweeper runs.",
		},
	)

	RetentionProjectsPurgedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "keepsake_retention_projects_purged_total",
			Help: "Total projects purged by the retention sweeper.",
		},
	)
)

// DBConnectionsOpen tracks the database connection pool, polled every 30 s.
var DBConnectionsOpen = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "db_connections",
		Help: "Database connection pool state (open, in_use, idle).",
	},
	[]string{"state"},
)

// StartDBStatsCollector polls db.Stats() every 30 seconds and exports the pool
// gauges. The goroutine runs for the process lifetime; it holds no resources
// beyond the ticker.
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			stats := db.Stats()
			DBConnectionsOpen.WithLabelValues("open").Set(float64(stats.OpenConnections))
			DBConnectionsOpen.WithLabelValues("in_use").Set(float64(stats.InUse))
			DBConnectionsOpen.WithLabelValues("idle").Set(float64(stats.Idle))
		}
	}()
	slog.Debug("db stats collector started")
}
