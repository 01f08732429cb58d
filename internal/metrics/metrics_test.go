package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordVerification(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := New(registry)
	require.NoError(t, err)

	m.RecordVerification(OutcomeSuccess, 20*time.Millisecond)
	m.RecordVerification(OutcomeSuccess, 30*time.Millisecond)
	m.RecordVerification(OutcomeFaceMismatch, 10*time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.verificationsTotal.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.verificationsTotal.WithLabelValues(OutcomeFaceMismatch)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.verificationDuration))
}

func TestRecordAlertAndTransaction(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := New(registry)
	require.NoError(t, err)

	m.RecordAlert("different_person", "critical")
	m.RecordAlert("suspicious_timing", "medium")
	m.RecordAlert("different_person", "critical")
	m.RecordTransaction("flagged")
	m.RecordEvaluatorFailure("duplicate_location")
	m.RecordAlertPersistFailure("multiple_attempts")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.alertsRaised.WithLabelValues("different_person", "critical")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.transactionsRecorded.WithLabelValues("flagged")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.evaluatorFailures.WithLabelValues("duplicate_location")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.alertPersistFailures.WithLabelValues("multiple_attempts")))
}

func TestDuplicateRegistration(t *testing.T) {
	registry := prometheus.NewRegistry()
	_, err := New(registry)
	require.NoError(t, err)

	_, err = New(registry)
	assert.Error(t, err, "registering twice on one registry must fail")
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordVerification(OutcomeError, time.Second)
		m.ObserveConfidence(50)
		m.RecordEvaluatorFailure("x")
		m.RecordTransaction("success")
		m.RecordAlert("a", "b")
		m.RecordAlertPersistFailure("a")
		m.RecordHTTPRequest("GET", "/health", 200, time.Millisecond)
	})
	assert.Nil(t, m.Registry())
}
