package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	io_prometheus_client "github.com/prometheus/client_model/go"

	"github.com/kstyle2198/saml-sso/internal/core/ports"
)

// TestNoopMetricsRecorder_AllMethods verifies all methods don't panic.
func TestNoopMetricsRecorder_AllMethods(t *testing.T) {
	var _ ports.MetricsRecorder = (*NoopMetricsRecorder)(nil)

	recorder := NewNoopMetricsRecorder()

	// None of these should panic
	recorder.RecordAuthAttempt("success")
	recorder.RecordAuthAttempt("signature_invalid")
	recorder.RecordSessionCreated()
	recorder.RecordSessionValidation(true)
	recorder.RecordSessionValidation(false)
	recorder.RecordLogout()
}

func gatherFamily(t *testing.T, registry *prometheus.Registry, name string) *io_prometheus_client.MetricFamily {
	t.Helper()

	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("%s metric not found", name)
	return nil
}

// TestPrometheusMetricsRecorder_RecordAuthAttempt verifies auth attempt recording.
func TestPrometheusMetricsRecorder_RecordAuthAttempt(t *testing.T) {
	registry := prometheus.NewRegistry()
	recorder := NewPrometheusMetricsRecorderWithRegistry(registry)

	recorder.RecordAuthAttempt("success")
	recorder.RecordAuthAttempt("success")
	recorder.RecordAuthAttempt("signature_invalid")

	authMetric := gatherFamily(t, registry, "saml_sp_auth_attempts_total")

	// Two distinct codes
	if len(authMetric.GetMetric()) != 2 {
		t.Errorf("expected 2 metric entries, got %d", len(authMetric.GetMetric()))
	}

	for _, m := range authMetric.GetMetric() {
		var code string
		for _, label := range m.GetLabel() {
			if label.GetName() == "code" {
				code = label.GetValue()
			}
		}

		value := m.GetCounter().GetValue()
		if code == "success" && value != 2 {
			t.Errorf("success count = %v, want 2", value)
		}
		if code == "signature_invalid" && value != 1 {
			t.Errorf("signature_invalid count = %v, want 1", value)
		}
	}
}

// TestPrometheusMetricsRecorder_RecordSessionCreated verifies session creation recording.
func TestPrometheusMetricsRecorder_RecordSessionCreated(t *testing.T) {
	registry := prometheus.NewRegistry()
	recorder := NewPrometheusMetricsRecorderWithRegistry(registry)

	recorder.RecordSessionCreated()
	recorder.RecordSessionCreated()
	recorder.RecordSessionCreated()

	sessionMetric := gatherFamily(t, registry, "saml_sp_sessions_created_total")

	if len(sessionMetric.GetMetric()) != 1 {
		t.Fatalf("expected 1 metric entry, got %d", len(sessionMetric.GetMetric()))
	}

	value := sessionMetric.GetMetric()[0].GetCounter().GetValue()
	if value != 3 {
		t.Errorf("sessions created count = %v, want 3", value)
	}
}

// TestPrometheusMetricsRecorder_RecordSessionValidation verifies session validation recording.
func TestPrometheusMetricsRecorder_RecordSessionValidation(t *testing.T) {
	registry := prometheus.NewRegistry()
	recorder := NewPrometheusMetricsRecorderWithRegistry(registry)

	recorder.RecordSessionValidation(true)
	recorder.RecordSessionValidation(true)
	recorder.RecordSessionValidation(false)

	validationMetric := gatherFamily(t, registry, "saml_sp_session_validations_total")

	if len(validationMetric.GetMetric()) != 2 {
		t.Errorf("expected 2 metric entries, got %d", len(validationMetric.GetMetric()))
	}

	for _, m := range validationMetric.GetMetric() {
		var result string
		for _, label := range m.GetLabel() {
			if label.GetName() == "result" {
				result = label.GetValue()
			}
		}

		value := m.GetCounter().GetValue()
		if result == "valid" && value != 2 {
			t.Errorf("valid count = %v, want 2", value)
		}
		if result == "invalid" && value != 1 {
			t.Errorf("invalid count = %v, want 1", value)
		}
	}
}

// TestPrometheusMetricsRecorder_RecordLogout verifies logout recording.
func TestPrometheusMetricsRecorder_RecordLogout(t *testing.T) {
	registry := prometheus.NewRegistry()
	recorder := NewPrometheusMetricsRecorderWithRegistry(registry)

	recorder.RecordLogout()
	recorder.RecordLogout()

	logoutMetric := gatherFamily(t, registry, "saml_sp_logouts_total")

	if len(logoutMetric.GetMetric()) != 1 {
		t.Fatalf("expected 1 metric entry, got %d", len(logoutMetric.GetMetric()))
	}

	value := logoutMetric.GetMetric()[0].GetCounter().GetValue()
	if value != 2 {
		t.Errorf("logouts count = %v, want 2", value)
	}
}
