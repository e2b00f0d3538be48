package ports

// MetricsRecorder is the port interface for recording metrics.
// Implementations are adapters (PrometheusMetricsRecorder for production,
// NoopMetricsRecorder for disabled/testing).
type MetricsRecorder interface {
	// RecordAuthAttempt records a SAML authentication attempt. The code
	// is the rejection error code, or "success".
	RecordAuthAttempt(code string)

	// RecordSessionCreated records a new session creation.
	RecordSessionCreated()

	// RecordSessionValidation records a session validation result.
	RecordSessionValidation(valid bool)

	// RecordLogout records a logout.
	RecordLogout()
}
