// Package metrics provides Prometheus instrumentation for the scanner.
package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "approvalguard",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "approvalguard",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ScansTotal counts wallet scans by final status.
	ScansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "approvalguard",
			Name:      "scans_total",
			Help:      "Total wallet scans by status (completed, cached, failed).",
		},
		[]string{"status"},
	)

	// ScanDuration observes end-to-end scan latency.
	ScanDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "approvalguard",
		Name:      "scan_duration_seconds",
		Help:      "End-to-end wallet scan duration in seconds.",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	// ApprovalEventsTotal counts normalized vs skipped log records.
	ApprovalEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "approvalguard",
			Name:      "approval_events_total",
			Help:      "Approval log records processed, by result (normalized, skipped).",
		},
		[]string{"result"},
	)

	// RPCRequestsTotal counts outbound chain RPC calls by method and result.
	RPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "approvalguard",
			Name:      "rpc_requests_total",
			Help:      "Outbound chain RPC calls by method and result.",
		},
		[]string{"method", "result"},
	)

	// EnrichmentLookupsTotal counts metadata lookups by result.
	EnrichmentLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "approvalguard",
			Name:      "enrichment_lookups_total",
			Help:      "Token/spender metadata lookups by result (hit, miss, fallback).",
		},
		[]string{"result"},
	)

	// ActiveScans tracks scans currently in flight.
	ActiveScans = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "approvalguard",
		Name:      "active_scans",
		Help:      "Number of wallet scans currently in flight.",
	})

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "approvalguard", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "approvalguard", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "approvalguard", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "approvalguard", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ScansTotal,
		ScanDuration,
		ApprovalEventsTotal,
		RPCRequestsTotal,
		EnrichmentLookupsTotal,
		ActiveScans,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// statusBucket collapses status codes into class buckets (2xx, 4xx, ...).
func statusBucket(code int) string {
	return fmt.Sprintf("%dxx", code/100)
}

// Handler returns the Prometheus scrape endpoint handler.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
