package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus implements Metrics on a private registry.
type Prometheus struct {
	registry *prometheus.Registry

	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	quotaDecisions *prometheus.CounterVec
	quotaDuration  *prometheus.HistogramVec
	logFailures    *prometheus.CounterVec
	ledgerOps      *prometheus.CounterVec
	prunedEvents   prometheus.Counter
	dbConnections  prometheus.Gauge
}

// NewPrometheus registers the StoreForge collectors on a fresh registry.
func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Prometheus{
		registry: reg,
		httpRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storeforge_http_requests_total",
				Help: "HTTP requests by method, route and status code",
			},
			[]string{"method", "endpoint", "status"},
		),
		httpDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "storeforge_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		quotaDecisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storeforge_quota_decisions_total",
				Help: "Quota decisions by plan and denial reason",
			},
			[]string{"plan", "reason"},
		),
		quotaDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "storeforge_quota_check_duration_seconds",
				Help:    "Latency of quota limiter operations",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
			[]string{"operation"},
		),
		logFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storeforge_usage_log_failures_total",
				Help: "Usage events that could not be persisted",
			},
			[]string{"endpoint"},
		),
		ledgerOps: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storeforge_ledger_operations_total",
				Help: "Usage ledger operations by backend, operation and status",
			},
			[]string{"backend", "operation", "status"},
		),
		prunedEvents: f.NewCounter(prometheus.CounterOpts{
			Name: "storeforge_usage_events_pruned_total",
			Help: "Usage events removed by retention",
		}),
		dbConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "storeforge_db_connections_active",
			Help: "Acquired PostgreSQL connections",
		}),
	}
}

func (p *Prometheus) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	p.httpRequests.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	p.httpDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

func (p *Prometheus) RecordQuotaDecision(plan, reason string) {
	p.quotaDecisions.WithLabelValues(plan, reason).Inc()
}

func (p *Prometheus) RecordQuotaCheck(operation string, duration time.Duration) {
	p.quotaDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (p *Prometheus) RecordUsageLogFailure(endpoint string) {
	p.logFailures.WithLabelValues(endpoint).Inc()
}

func (p *Prometheus) RecordLedgerOp(backend, operation, status string) {
	p.ledgerOps.WithLabelValues(backend, operation, status).Inc()
}

func (p *Prometheus) RecordPrunedEvents(count int64) {
	if count > 0 {
		p.prunedEvents.Add(float64(count))
	}
}

func (p *Prometheus) SetDBConnectionsActive(count float64) {
	p.dbConnections.Set(count)
}

// Handler serves the registry in the Prometheus text format
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}
