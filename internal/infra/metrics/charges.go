package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		recurringChargesTotal,
		subscriptionsPastDue,
	)
}

var (
	// result: created|synced|skipped_no_instrument|skipped_locked|failed
	recurringChargesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recurring_charges_total",
			Help: "Recurring charge attempts by result.",
		},
		[]string{"result"},
	)

	subscriptionsPastDue = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "subscriptions_past_due_total",
			Help: "Subscriptions moved to past_due after repeated charge failures.",
		},
	)
)

func IncRecurringCharge(result string) {
	recurringChargesTotal.WithLabelValues(norm(result)).Inc()
}

func IncSubscriptionPastDue() {
	subscriptionsPastDue.Inc()
}
