package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

// Metrics exposes prometheus collectors for the event bus, the payment
// gateway and webhook ingestion. All label values are low-cardinality.
type Metrics struct {
	eventsPublished *prometheus.CounterVec
	eventsConsumed  *prometheus.CounterVec
	eventsDead      *prometheus.CounterVec
	gatewayCalls    *prometheus.CounterVec
	gatewayRetries  prometheus.Counter
	webhookResults  *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sahayak_events_published_total",
			Help: "Domain events published to the bus, by event type.",
		}, []string{"type"}),
		eventsConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sahayak_events_consumed_total",
			Help: "Domain events consumed, by queue and outcome.",
		}, []string{"queue", "outcome"}),
		eventsDead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sahayak_events_dead_lettered_total",
			Help: "Events parked on a dead-letter queue after exhausting retries.",
		}, []string{"queue"}),
		gatewayCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sahayak_gateway_calls_total",
			Help: "Payment gateway calls, by operation and outcome.",
		}, []string{"op", "outcome"}),
		gatewayRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sahayak_gateway_retries_total",
			Help: "Payment gateway call retries after a retryable failure.",
		}),
		webhookResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sahayak_webhook_results_total",
			Help: "Webhook ingestion outcomes.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(
		m.eventsPublished,
		m.eventsConsumed,
		m.eventsDead,
		m.gatewayCalls,
		m.gatewayRetries,
		m.webhookResults,
	)
	return m
}

func (m *Metrics) IncEventPublished(eventType string) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(eventType).Inc()
}

func (m *Metrics) IncEventConsumed(queue, outcome string) {
	if m == nil {
		return
	}
	m.eventsConsumed.WithLabelValues(queue, outcome).Inc()
}

func (m *Metrics) IncEventDeadLettered(queue string) {
	if m == nil {
		return
	}
	m.eventsDead.WithLabelValues(queue).Inc()
}

func (m *Metrics) IncGatewayCall(op, outcome string) {
	if m == nil {
		return
	}
	m.gatewayCalls.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) IncGatewayRetry() {
	if m == nil {
		return
	}
	m.gatewayRetries.Inc()
}

func (m *Metrics) IncWebhookResult(outcome string) {
	if m == nil {
		return
	}
	m.webhookResults.WithLabelValues(outcome).Inc()
}

func ProvideRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

func ProvideMetrics(reg *prometheus.Registry) *Metrics {
	return New(reg)
}

var Module = fx.Module("observability.metrics",
	fx.Provide(ProvideRegistry),
	fx.Provide(ProvideMetrics),
)
