package metrics

import (
	"github.com/kstyle2198/saml-sso/internal/core/ports"
)

// NoopMetricsRecorder is a no-op implementation for when metrics are disabled.
// All methods are safe to call and do nothing.
type NoopMetricsRecorder struct{}

// NewNoopMetricsRecorder creates a new no-op metrics recorder.
func NewNoopMetricsRecorder() *NoopMetricsRecorder {
	return &NoopMetricsRecorder{}
}

// RecordAuthAttempt is a no-op.
func (n *NoopMetricsRecorder) RecordAuthAttempt(code string) {}

// RecordSessionCreated is a no-op.
func (n *NoopMetricsRecorder) RecordSessionCreated() {}

// RecordSessionValidation is a no-op.
func (n *NoopMetricsRecorder) RecordSessionValidation(valid bool) {}

// RecordLogout is a no-op.
func (n *NoopMetricsRecorder) RecordLogout() {}

// Ensure NoopMetricsRecorder implements ports.MetricsRecorder
var _ ports.MetricsRecorder = (*NoopMetricsRecorder)(nil)
