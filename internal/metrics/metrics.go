// Package metrics provides Prometheus instrumentation for Kestrel.
//
// All collectors live on a private registry. Every recording method is safe
// on a nil *Metrics.
package metrics

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kestrel"

// Metrics holds the Kestrel collectors.
type Metrics struct {
	registry *prometheus.Registry

	findings         *prometheus.CounterVec
	alerts           *prometheus.CounterVec
	runs             *prometheus.CounterVec
	runDuration      prometheus.Histogram
	detectorDuration *prometheus.HistogramVec
	detectorFailures *prometheus.CounterVec

	admissions     *prometheus.CounterVec
	rejections     *prometheus.CounterVec
	admissionScore prometheus.Histogram

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with a fresh registry,
// along with the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		findings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "findings_total",
			Help:      "Pattern findings by pattern type.",
		}, []string{"pattern"}),

		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "alerts_total",
			Help:      "Alert emission outcomes: created, duplicate, failed, below_threshold.",
		}, []string{"outcome"}),

		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "runs_total",
			Help:      "Analysis runs by result.",
		}, []string{"result"}),

		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "run_duration_seconds",
			Help:      "Duration of completed analysis runs in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),

		detectorDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "detector_duration_seconds",
			Help:      "Detector execution time in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"detector"}),

		detectorFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "detector_failures_total",
			Help:      "Detector errors and recovered panics.",
		}, []string{"detector"}),

		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "admission",
			Name:      "decisions_total",
			Help:      "Admitted transfers by resulting status.",
		}, []string{"status"}),

		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "admission",
			Name:      "rejections_total",
			Help:      "Rejected transfers by rejection code.",
		}, []string{"code"}),

		admissionScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "admission",
			Name:      "score",
			Help:      "Distribution of admission fraud scores.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),

		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, route pattern, and status code.",
		}, []string{"method", "route", "status"}),

		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.findings,
		m.alerts,
		m.runs,
		m.runDuration,
		m.detectorDuration,
		m.detectorFailures,
		m.admissions,
		m.rejections,
		m.admissionScore,
		m.httpRequests,
		m.httpDuration,
	)

	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RegisterDB exports connection pool statistics for db.
func (m *Metrics) RegisterDB(db *sql.DB, name string) error {
	if m == nil || db == nil {
		return nil
	}
	return m.registry.Register(collectors.NewDBStatsCollector(db, name))
}

// RecordFindings counts n findings for a pattern.
func (m *Metrics) RecordFindings(pattern string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.findings.WithLabelValues(pattern).Add(float64(n))
}

// RecordAlerts counts alert emission outcomes of one run.
func (m *Metrics) RecordAlerts(created, duplicates, failed, belowThreshold int) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues("created").Add(float64(created))
	m.alerts.WithLabelValues("duplicate").Add(float64(duplicates))
	m.alerts.WithLabelValues("failed").Add(float64(failed))
	m.alerts.WithLabelValues("below_threshold").Add(float64(belowThreshold))
}

// RecordRun counts a run by result and observes its duration when it completed.
func (m *Metrics) RecordRun(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(result).Inc()
	if result == "completed" {
		m.runDuration.Observe(d.Seconds())
	}
}

// ObserveDetector records one detector execution.
func (m *Metrics) ObserveDetector(detector string, d time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.detectorDuration.WithLabelValues(detector).Observe(d.Seconds())
	if failed {
		m.detectorFailures.WithLabelValues(detector).Inc()
	}
}

// RecordAdmission records an admitted transfer.
func (m *Metrics) RecordAdmission(status string, score float64) {
	if m == nil {
		return
	}
	m.admissions.WithLabelValues(status).Inc()
	m.admissionScore.Observe(score)
}

// RecordRejection records a rejected transfer.
func (m *Metrics) RecordRejection(code string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(code).Inc()
}

// ObserveHTTP records one HTTP request.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
