package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kstyle2198/saml-sso/internal/core/ports"
)

// PrometheusMetricsRecorder records metrics using Prometheus.
type PrometheusMetricsRecorder struct {
	authAttemptsTotal       *prometheus.CounterVec
	sessionsCreatedTotal    prometheus.Counter
	sessionValidationsTotal *prometheus.CounterVec
	logoutsTotal            prometheus.Counter
}

// NewPrometheusMetricsRecorder creates a new Prometheus metrics recorder
// using the default Prometheus registry.
func NewPrometheusMetricsRecorder() *PrometheusMetricsRecorder {
	return NewPrometheusMetricsRecorderWithRegistry(prometheus.DefaultRegisterer)
}

// NewPrometheusMetricsRecorderWithRegistry creates a new Prometheus metrics recorder
// with a custom registry. Use this for testing.
func NewPrometheusMetricsRecorderWithRegistry(reg prometheus.Registerer) *PrometheusMetricsRecorder {
	authAttemptsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "saml_sp_auth_attempts_total",
		Help: "Total SAML authentication attempts by outcome code",
	}, []string{"code"})

	sessionsCreatedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "saml_sp_sessions_created_total",
		Help: "Total sessions created",
	})

	sessionValidationsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "saml_sp_session_validations_total",
		Help: "Total session validation attempts",
	}, []string{"result"})

	logoutsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "saml_sp_logouts_total",
		Help: "Total logouts",
	})

	reg.MustRegister(
		authAttemptsTotal,
		sessionsCreatedTotal,
		sessionValidationsTotal,
		logoutsTotal,
	)

	return &PrometheusMetricsRecorder{
		authAttemptsTotal:       authAttemptsTotal,
		sessionsCreatedTotal:    sessionsCreatedTotal,
		sessionValidationsTotal: sessionValidationsTotal,
		logoutsTotal:            logoutsTotal,
	}
}

// RecordAuthAttempt records a SAML authentication attempt.
func (p *PrometheusMetricsRecorder) RecordAuthAttempt(code string) {
	p.authAttemptsTotal.WithLabelValues(code).Inc()
}

// RecordSessionCreated records a new session creation.
func (p *PrometheusMetricsRecorder) RecordSessionCreated() {
	p.sessionsCreatedTotal.Inc()
}

// RecordSessionValidation records a session validation result.
func (p *PrometheusMetricsRecorder) RecordSessionValidation(valid bool) {
	result := "invalid"
	if valid {
		result = "valid"
	}
	p.sessionValidationsTotal.WithLabelValues(result).Inc()
}

// RecordLogout records a logout.
func (p *PrometheusMetricsRecorder) RecordLogout() {
	p.logoutsTotal.Inc()
}

// Ensure PrometheusMetricsRecorder implements ports.MetricsRecorder
var _ ports.MetricsRecorder = (*PrometheusMetricsRecorder)(nil)
