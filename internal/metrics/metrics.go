package metrics

import (
	"net/http"
	"time"
)

// Metrics interface for dependency injection
type Metrics interface {
	RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration)
	RecordQuotaDecision(plan, reason string)
	RecordQuotaCheck(operation string, duration time.Duration)
	RecordUsageLogFailure(endpoint string)
	RecordLedgerOp(backend, operation, status string)
	RecordPrunedEvents(count int64)
	SetDBConnectionsActive(count float64)
	Handler() http.Handler
}

// NoOpMetrics provides a no-op implementation
type NoOpMetrics struct{}

func (m *NoOpMetrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
}
func (m *NoOpMetrics) RecordQuotaDecision(plan, reason string)                   {}
func (m *NoOpMetrics) RecordQuotaCheck(operation string, duration time.Duration) {}
func (m *NoOpMetrics) RecordUsageLogFailure(endpoint string)                     {}
func (m *NoOpMetrics) RecordLedgerOp(backend, operation, status string)          {}
func (m *NoOpMetrics) RecordPrunedEvents(count int64)                            {}
func (m *NoOpMetrics) SetDBConnectionsActive(count float64)                      {}
func (m *NoOpMetrics) Handler() http.Handler                                     { return http.NotFoundHandler() }

// Global metrics instance
var globalMetrics Metrics = &NoOpMetrics{}

// Init installs the Prometheus implementation as the global metrics sink
func Init() {
	globalMetrics = NewPrometheus()
}

// Set replaces the global metrics sink; nil restores the no-op sink
func Set(m Metrics) {
	if m == nil {
		m = &NoOpMetrics{}
	}
	globalMetrics = m
}

// Handler returns the metrics handler
func Handler() http.Handler {
	return globalMetrics.Handler()
}

// RecordHTTPRequest records HTTP request metrics
func RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	globalMetrics.RecordHTTPRequest(method, endpoint, statusCode, duration)
}

// RecordQuotaDecision counts a limiter decision by plan and reason ("none" when allowed)
func RecordQuotaDecision(plan, reason string) {
	globalMetrics.RecordQuotaDecision(plan, reason)
}

// RecordQuotaCheck records how long a limiter operation took
func RecordQuotaCheck(operation string, duration time.Duration) {
	globalMetrics.RecordQuotaCheck(operation, duration)
}

// RecordUsageLogFailure counts usage events that could not be written
func RecordUsageLogFailure(endpoint string) {
	globalMetrics.RecordUsageLogFailure(endpoint)
}

// RecordLedgerOp records a usage ledger operation
func RecordLedgerOp(backend, operation, status string) {
	globalMetrics.RecordLedgerOp(backend, operation, status)
}

// RecordPrunedEvents counts usage events removed by retention
func RecordPrunedEvents(count int64) {
	globalMetrics.RecordPrunedEvents(count)
}

// SetDBConnectionsActive sets the number of active database connections
func SetDBConnectionsActive(count float64) {
	globalMetrics.SetDBConnectionsActive(count)
}
