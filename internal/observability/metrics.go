package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics centralizes the Prometheus instrumentation for the transport
// spine. Counter labels are drawn from tenant, platform, stage, outcome,
// reason and error kind (the HTTP counter uses method/route/status) —
// never message content or user identifiers — so no PII appears in
// label values.
type Metrics struct {
	// MessagesTotal counts processed messages by tenant, platform, stage,
	// and outcome. The outcomes recorded are "accepted" and "dropped"
	// (ingress) and "delivered" (egress); denials, failures and DLQ
	// writes are not counted here but in GuardRailDenials,
	// RateLimitDenials and DLQWrites, whose label sets differ.
	MessagesTotal *prometheus.CounterVec

	// GuardRailDenials counts webhook and admin requests rejected by the
	// shared bearer or HMAC guard rail; per-platform signature rejections
	// are not counted here.
	GuardRailDenials *prometheus.CounterVec

	// IdempotencyHits counts envelopes seen before and dropped.
	IdempotencyHits *prometheus.CounterVec

	// RateLimitDenials counts requests denied by the rate limiter.
	RateLimitDenials *prometheus.CounterVec

	// DLQWrites counts entries written to the dead-letter queue.
	DLQWrites *prometheus.CounterVec

	// RunnerRequestDuration measures the egress worker's call to the
	// external flow runner.
	RunnerRequestDuration *prometheus.HistogramVec

	// HTTPRequestDuration measures gateway/webchat HTTP request latency.
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestsTotal counts HTTP requests by method/route/status.
	HTTPRequestsTotal *prometheus.CounterVec

	// ActiveConversations gauges open WebChat conversations.
	ActiveConversations *prometheus.GaugeVec

	// BusPublishDuration measures time to publish onto the bus client.
	BusPublishDuration *prometheus.HistogramVec
}

// NewMetrics registers every metric with the default Prometheus registry.
// Call once per process at startup.
func NewMetrics() *Metrics {
	return &Metrics{
		MessagesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gsm_messages_total",
				Help: "Messages processed by tenant, platform, stage, and outcome",
			},
			[]string{"tenant", "platform", "stage", "outcome"},
		),
		GuardRailDenials: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gsm_guardrail_denials_total",
				Help: "Webhook requests rejected by a guard rail",
			},
			[]string{"tenant", "platform", "reason"},
		),
		IdempotencyHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gsm_idempotency_hits_total",
				Help: "Envelopes dropped as duplicates",
			},
			[]string{"tenant", "platform", "stage"},
		),
		RateLimitDenials: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gsm_rate_limit_denials_total",
				Help: "Requests denied by the rate limiter",
			},
			[]string{"tenant", "platform"},
		),
		DLQWrites: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gsm_dlq_writes_total",
				Help: "Entries written to the dead-letter queue",
			},
			[]string{"tenant", "stage", "error_kind"},
		),
		RunnerRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gsm_runner_request_duration_seconds",
				Help:    "Duration of calls to the external flow runner",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"tenant", "platform", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gsm_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "route", "status_code"},
		),
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gsm_http_requests_total",
				Help: "Total HTTP requests",
			},
			[]string{"method", "route", "status_code"},
		),
		ActiveConversations: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gsm_webchat_active_conversations",
				Help: "Currently open WebChat conversations",
			},
			[]string{"tenant"},
		),
		BusPublishDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gsm_bus_publish_duration_seconds",
				Help:    "Duration of bus client publish calls",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"subject_prefix"},
		),
	}
}

// RecordMessage increments MessagesTotal for a stage outcome.
func (m *Metrics) RecordMessage(tenant, platform, stage, outcome string) {
	m.MessagesTotal.WithLabelValues(tenant, platform, stage, outcome).Inc()
}

// RecordGuardRailDenial increments GuardRailDenials for a given reason
// ("bearer" or "hmac").
func (m *Metrics) RecordGuardRailDenial(tenant, platform, reason string) {
	m.GuardRailDenials.WithLabelValues(tenant, platform, reason).Inc()
}

// RecordIdempotencyHit increments IdempotencyHits.
func (m *Metrics) RecordIdempotencyHit(tenant, platform, stage string) {
	m.IdempotencyHits.WithLabelValues(tenant, platform, stage).Inc()
}

// RecordRateLimitDenial increments RateLimitDenials.
func (m *Metrics) RecordRateLimitDenial(tenant, platform string) {
	m.RateLimitDenials.WithLabelValues(tenant, platform).Inc()
}

// RecordDLQWrite increments DLQWrites.
func (m *Metrics) RecordDLQWrite(tenant, stage, errorKind string) {
	m.DLQWrites.WithLabelValues(tenant, stage, errorKind).Inc()
}

// RecordRunnerRequest observes RunnerRequestDuration.
func (m *Metrics) RecordRunnerRequest(tenant, platform, status string, seconds float64) {
	m.RunnerRequestDuration.WithLabelValues(tenant, platform, status).Observe(seconds)
}

// RecordHTTPRequest records both the counter and histogram for an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, route, statusCode string, seconds float64) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route, statusCode).Observe(seconds)
}

// ConversationOpened increments ActiveConversations.
func (m *Metrics) ConversationOpened(tenant string) {
	m.ActiveConversations.WithLabelValues(tenant).Inc()
}

// ConversationClosed decrements ActiveConversations.
func (m *Metrics) ConversationClosed(tenant string) {
	m.ActiveConversations.WithLabelValues(tenant).Dec()
}

// RecordBusPublish observes BusPublishDuration.
func (m *Metrics) RecordBusPublish(subjectPrefix string, seconds float64) {
	m.BusPublishDuration.WithLabelValues(subjectPrefix).Observe(seconds)
}
