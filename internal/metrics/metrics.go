// Package metrics provides Prometheus metrics for RationGuard.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Verification outcomes recorded by RecordVerification.
const (
	OutcomeSuccess      = "success"
	OutcomeFlagged      = "flagged"
	OutcomeFaceMismatch = "face_mismatch"
	OutcomeNotFound     = "card_not_found"
	OutcomeInactive     = "inactive"
	OutcomeError        = "error"
)

// Metrics contains the service's Prometheus collectors.
// All recording methods are safe on a nil receiver so callers may run without metrics.
type Metrics struct {
	registry *prometheus.Registry

	// Verification pipeline
	verificationsTotal   *prometheus.CounterVec
	verificationDuration prometheus.Histogram
	faceConfidence       prometheus.Histogram
	evaluatorFailures    *prometheus.CounterVec
	alertPersistFailures *prometheus.CounterVec

	// Event consumer
	transactionsRecorded *prometheus.CounterVec
	alertsRaised         *prometheus.CounterVec

	// HTTP
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	// collectors is a slice of all collectors for easier iteration
	collectors []prometheus.Collector
}

// New creates and registers metrics on registry.
func New(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Registry returns the registry the metrics were registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) initMetrics() {
	m.verificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rationguard_verifications_total",
			Help: "Total number of verification attempts by outcome",
		},
		[]string{"outcome"},
	)

	m.verificationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rationguard_verification_duration_seconds",
			Help:    "Time taken to verify a beneficiary, including extraction and evaluation",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
	)

	m.faceConfidence = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rationguard_face_confidence_percent",
			Help:    "Distribution of face comparison confidence",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		},
	)

	m.evaluatorFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rationguard_evaluator_failures_total",
			Help: "Total number of fraud evaluator runs that failed and were skipped",
		},
		[]string{"rule"},
	)

	m.alertPersistFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rationguard_alert_persist_failures_total",
			Help: "Total number of alert candidates that could not be stored for a flagged transaction",
		},
		[]string{"alert_type"},
	)

	m.transactionsRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rationguard_transactions_recorded_total",
			Help: "Total number of transactions written by status",
		},
		[]string{"status"},
	)

	m.alertsRaised = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rationguard_alerts_raised_total",
			Help: "Total number of persisted alerts by type and severity",
		},
		[]string{"alert_type", "severity"},
	)

	m.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rationguard_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	m.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rationguard_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	m.collectors = []prometheus.Collector{
		m.verificationsTotal,
		m.verificationDuration,
		m.faceConfidence,
		m.evaluatorFailures,
		m.alertPersistFailures,
		m.transactionsRecorded,
		m.alertsRaised,
		m.httpRequests,
		m.httpDuration,
	}
}

// Describe implements the Collector interface
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// RecordVerification records the outcome and latency of a verification.
func (m *Metrics) RecordVerification(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.verificationsTotal.WithLabelValues(outcome).Inc()
	m.verificationDuration.Observe(duration.Seconds())
}

// ObserveConfidence records a face comparison confidence in percent.
func (m *Metrics) ObserveConfidence(confidence float64) {
	if m == nil {
		return
	}
	m.faceConfidence.Observe(confidence)
}

// RecordEvaluatorFailure counts an evaluator that could not read history.
func (m *Metrics) RecordEvaluatorFailure(rule string) {
	if m == nil {
		return
	}
	m.evaluatorFailures.WithLabelValues(rule).Inc()
}

// RecordAlertPersistFailure counts an alert candidate lost to a store error.
func (m *Metrics) RecordAlertPersistFailure(alertType string) {
	if m == nil {
		return
	}
	m.alertPersistFailures.WithLabelValues(alertType).Inc()
}

// RecordTransaction counts a written transaction.
func (m *Metrics) RecordTransaction(status string) {
	if m == nil {
		return
	}
	m.transactionsRecorded.WithLabelValues(status).Inc()
}

// RecordAlert counts a persisted alert.
func (m *Metrics) RecordAlert(alertType, severity string) {
	if m == nil {
		return
	}
	m.alertsRaised.WithLabelValues(alertType, severity).Inc()
}

// RecordHTTPRequest records a served request.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
