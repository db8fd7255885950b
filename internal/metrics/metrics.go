// Package metrics provides Prometheus instrumentation for the Atlas platform.
package metrics

import (
	"context"
	"database/sql"
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
			Namespace: "atlas",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "atlas",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// AssessmentsTotal counts completed risk assessments by level and action.
	AssessmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atlas",
			Name:      "assessments_total",
			Help:      "Total risk assessments by risk level and recommended action.",
		},
		[]string{"level", "action"},
	)

	// AssessmentDuration observes end-to-end scoring latency. Buckets are
	// tuned for a sub-100ms pipeline.
	AssessmentDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "atlas",
		Name:      "assessment_duration_seconds",
		Help:      "End-to-end assessment latency in seconds.",
		Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// StageDuration observes per-stage latency within the scoring pipeline.
	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "atlas",
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage latency in seconds.",
			Buckets:   []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1},
		},
		[]string{"stage"},
	)

	// DegradedAssessmentsTotal counts assessments produced without a live profile.
	DegradedAssessmentsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "atlas",
		Name:      "degraded_assessments_total",
		Help:      "Total assessments scored against default profiles.",
	})

	// TruncatedAssessmentsTotal counts assessments whose explanation tiers were
	// cut short by the latency budget.
	TruncatedAssessmentsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "atlas",
		Name:      "truncated_assessments_total",
		Help:      "Total assessments with explanation generation truncated.",
	})

	// AuditWritesTotal counts audit record writes by result.
	AuditWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atlas",
			Name:      "audit_writes_total",
			Help:      "Total audit record writes by result.",
		},
		[]string{"result"},
	)

	// AuditDroppedTotal counts audit records dropped because the writer queue was full.
	AuditDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "atlas",
		Name:      "audit_dropped_total",
		Help:      "Total audit records dropped due to a full writer queue.",
	})

	// AlertsTotal counts alerts raised by severity.
	AlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atlas",
			Name:      "alerts_total",
			Help:      "Total alerts raised by severity.",
		},
		[]string{"severity"},
	)

	// PatternsDetectedTotal counts cross-transaction patterns detected by type.
	PatternsDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atlas",
			Name:      "patterns_detected_total",
			Help:      "Total fraud patterns detected by type.",
		},
		[]string{"type"},
	)

	// AutomationVerdictsTotal counts automated response verdicts by rule.
	AutomationVerdictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atlas",
			Name:      "automation_verdicts_total",
			Help:      "Total automated response verdicts by matched rule.",
		},
		[]string{"rule"},
	)

	// StreamEventsTotal counts stream-consumed events by result.
	StreamEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atlas",
			Name:      "stream_events_total",
			Help:      "Total events consumed from the stream by result.",
		},
		[]string{"result"},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "atlas", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "atlas", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "atlas", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// DBWaitCount tracks the total number of connections waited for.
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "atlas", Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	// DBWaitDuration tracks total time waited for connections.
	DBWaitDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "atlas", Name: "db_wait_duration_seconds_total",
		Help: "Total time waited for connections in seconds.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "atlas", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		AssessmentsTotal,
		AssessmentDuration,
		StageDuration,
		DegradedAssessmentsTotal,
		TruncatedAssessmentsTotal,
		AuditWritesTotal,
		AuditDroppedTotal,
		AlertsTotal,
		PatternsDetectedTotal,
		AutomationVerdictsTotal,
		StreamEventsTotal,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		DBWaitCount,
		DBWaitDuration,
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
			DBWaitCount.Set(float64(stats.WaitCount))
			DBWaitDuration.Set(stats.WaitDuration.Seconds())
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
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

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
