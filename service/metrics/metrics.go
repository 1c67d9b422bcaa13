package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
//
// All Record* helpers are safe to call on a nil *Metrics, which lets
// tests and CLI tools construct components without a registry.
type Metrics struct {
	// Orchestration metrics
	transitionsTotal     *prometheus.CounterVec
	submissionsTotal     *prometheus.CounterVec
	advanceDuration      *prometheus.HistogramVec
	dispatchQueueDepth   prometheus.Gauge
	dispatchDroppedTotal prometheus.Counter

	// Limit metrics
	reservationsTotal *prometheus.CounterVec
	releasesTotal     *prometheus.CounterVec

	// Provider metrics
	providerCallsTotal   *prometheus.CounterVec
	providerCallDuration *prometheus.HistogramVec
	providerRetries      *prometheus.CounterVec
	breakerState         *prometheus.GaugeVec

	// Reconciliation metrics
	reconcileOutcomesTotal *prometheus.CounterVec
	reconcileAlertsTotal   prometheus.Counter
	sweepDuration          prometheus.Histogram

	// Temporal metrics
	activityDuration *prometheus.HistogramVec

	// Database metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

	// NATS metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		transitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "remit_transitions_total",
				Help: "Total number of transaction status transitions",
			},
			[]string{"from", "to"},
		),
		submissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "remit_submissions_total",
				Help: "Total number of submit calls by outcome",
			},
			[]string{"outcome"},
		),
		advanceDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "remit_advance_duration_seconds",
				Help:    "Duration of a single orchestration pass in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"final_status"},
		),
		dispatchQueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "remit_dispatch_queue_depth",
				Help: "Number of transactions waiting in the in-process dispatch queue",
			},
		),
		dispatchDroppedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "remit_dispatch_dropped_total",
				Help: "Transactions that could not be enqueued because the queue was full",
			},
		),

		reservationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "remit_limit_reservations_total",
				Help: "Total number of daily-limit reservation attempts by outcome",
			},
			[]string{"outcome"},
		),
		releasesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "remit_limit_releases_total",
				Help: "Total number of daily-limit releases by reason",
			},
			[]string{"reason"},
		),

		providerCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "remit_provider_calls_total",
				Help: "Total number of provider calls by provider, operation and result",
			},
			[]string{"provider", "operation", "result"},
		),
		providerCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "remit_provider_call_duration_seconds",
				Help:    "Duration of provider calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"provider", "operation"},
		),
		providerRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "remit_provider_retries_total",
				Help: "Total number of provider retry attempts",
			},
			[]string{"provider", "operation"},
		),
		breakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "remit_provider_breaker_state",
				Help: "Circuit breaker state per provider (0=closed, 1=half-open, 2=open)",
			},
			[]string{"provider"},
		),

		reconcileOutcomesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "remit_reconcile_outcomes_total",
				Help: "Total number of reconciliation attempts by outcome",
			},
			[]string{"outcome"},
		),
		reconcileAlertsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "remit_reconcile_unresolved_alerts_total",
				Help: "Transactions escalated because reconciliation exceeded its maximum window",
			},
		),
		sweepDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "remit_reconcile_sweep_duration_seconds",
				Help:    "Duration of a full reconciliation sweep in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
			},
		),

		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),

		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of messages published to NATS",
			},
			[]string{"subject", "status"},
		),
		activityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "temporal_activity_duration_seconds",
				Help:    "Duration of Temporal activity executions in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"activity", "outcome"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Orchestration metric helpers

// RecordTransition records a transaction status transition.
func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordSubmission records the outcome of a submit call.
func (m *Metrics) RecordSubmission(outcome string) {
	if m == nil {
		return
	}
	m.submissionsTotal.WithLabelValues(outcome).Inc()
}

// RecordAdvance records the duration of one orchestration pass.
func (m *Metrics) RecordAdvance(finalStatus string, duration float64) {
	if m == nil {
		return
	}
	m.advanceDuration.WithLabelValues(finalStatus).Observe(duration)
}

// SetDispatchQueueDepth reports the current in-process queue length.
func (m *Metrics) SetDispatchQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.dispatchQueueDepth.Set(float64(depth))
}

// RecordDispatchDropped records a transaction that could not be enqueued.
func (m *Metrics) RecordDispatchDropped() {
	if m == nil {
		return
	}
	m.dispatchDroppedTotal.Inc()
}

// Limit metric helpers

// RecordReservation records a daily-limit reservation attempt.
// Outcome is one of "reserved", "exceeded", "too_small", "too_large", "error".
func (m *Metrics) RecordReservation(outcome string) {
	if m == nil {
		return
	}
	m.reservationsTotal.WithLabelValues(outcome).Inc()
}

// RecordRelease records a reservation released back to the daily limit.
func (m *Metrics) RecordRelease(reason string) {
	if m == nil {
		return
	}
	m.releasesTotal.WithLabelValues(reason).Inc()
}

// Provider metric helpers

// RecordProviderCall records a call to a provider adapter.
func (m *Metrics) RecordProviderCall(provider, operation, result string, duration float64) {
	if m == nil {
		return
	}
	m.providerCallsTotal.WithLabelValues(provider, operation, result).Inc()
	m.providerCallDuration.WithLabelValues(provider, operation).Observe(duration)
}

// RecordProviderRetry records a retry attempt against a provider.
func (m *Metrics) RecordProviderRetry(provider, operation string) {
	if m == nil {
		return
	}
	m.providerRetries.WithLabelValues(provider, operation).Inc()
}

// SetBreakerState reports the circuit breaker state for a provider.
func (m *Metrics) SetBreakerState(provider string, state int) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(provider).Set(float64(state))
}

// Reconciliation metric helpers

// RecordReconcileOutcome records the result of a reconciliation attempt.
func (m *Metrics) RecordReconcileOutcome(outcome string) {
	if m == nil {
		return
	}
	m.reconcileOutcomesTotal.WithLabelValues(outcome).Inc()
}

// RecordReconcileAlert records an unresolved reconciliation escalation.
func (m *Metrics) RecordReconcileAlert() {
	if m == nil {
		return
	}
	m.reconcileAlertsTotal.Inc()
}

// RecordSweep records the duration of a reconciliation sweep.
func (m *Metrics) RecordSweep(duration float64) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(duration)
}

// Temporal metric helpers

// RecordActivityDuration records how long an activity ran and how it ended.
func (m *Metrics) RecordActivityDuration(activity, outcome string, duration float64) {
	if m == nil {
		return
	}
	m.activityDuration.WithLabelValues(activity, outcome).Observe(duration)
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	if m == nil {
		return
	}
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	if m == nil {
		return
	}
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

func statusCodeToString(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return strconv.Itoa(code)
	}
}
