package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		webhookDeliveriesTotal,
		webhookHandleDuration,
	)
}

var (
	// outcome: applied|noop|mismatch|unknown_event|error|untrusted|malformed
	webhookDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_deliveries_total",
			Help: "Inbound provider webhook deliveries by event and outcome.",
		},
		[]string{"event", "outcome"},
	)

	webhookHandleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webhook_handle_duration_seconds",
			Help:    "Duration of webhook handling in seconds.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"event"},
	)
)

func IncWebhookDelivery(event, outcome string) {
	webhookDeliveriesTotal.WithLabelValues(norm(event), norm(outcome)).Inc()
}

func ObserveWebhookDuration(event string, seconds float64) {
	webhookHandleDuration.WithLabelValues(norm(event)).Observe(seconds)
}
