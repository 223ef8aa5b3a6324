package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions        prometheus.Gauge
	SessionEvents         *prometheus.CounterVec
	SessionTransitions    *prometheus.CounterVec
	WSMessages            *prometheus.CounterVec
	OutboundMessages      *prometheus.CounterVec
	ProviderErrors        *prometheus.CounterVec
	QueueDepth            prometheus.Gauge
	QueueWait             prometheus.Histogram
	QueueInconsistencies  prometheus.Counter
	AIReplyLatency        prometheus.Histogram
	PersistenceFailures   *prometheus.CounterVec
	TicketStatusProposals *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of non-terminal chat sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		SessionTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Applied session state transitions.",
		}, []string{"from", "to"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		OutboundMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_messages_total",
			Help:      "Outbound fan-out results by message type.",
		}, []string{"type", "result"}),
		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "AI responder errors by provider and code.",
		}, []string{"provider", "code"}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "handoff_queue_depth",
			Help:      "Sessions waiting for a human agent.",
		}),
		QueueWait: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handoff_queue_wait_seconds",
			Help:      "Time between transfer request and agent join.",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		QueueInconsistencies: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_inconsistencies_total",
			Help:      "Hand-off queue invariant violations. Any increase needs an operator.",
		}),
		AIReplyLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ai_reply_latency_ms",
			Help:      "AI responder latency in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 4000, 8000, 16000, 30000},
		}),
		PersistenceFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_failures_total",
			Help:      "Store writes that aborted an event.",
		}, []string{"store"}),
		TicketStatusProposals: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticket_status_proposals_total",
			Help:      "Ticket status changes proposed by the orchestrator, by outcome.",
		}, []string{"status", "outcome"}),
	}
}

func (m *Metrics) ObserveAIReplyLatency(d time.Duration) {
	m.AIReplyLatency.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) ObserveOutboundMessage(msgType, result string) {
	m.OutboundMessages.WithLabelValues(msgType, result).Inc()
}

func (m *Metrics) ObserveTransition(from, to string) {
	m.SessionTransitions.WithLabelValues(from, to).Inc()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
