package checkout

import "github.com/prometheus/client_golang/prometheus"

var (
	confirmationAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_confirmation_attempts_total",
			Help: "Payment confirmation attempts against the commerce gateway",
		},
		[]string{"method", "outcome"},
	)

	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_state_transitions_total",
			Help: "Checkout state machine transitions",
		},
		[]string{"from", "to"},
	)

	paymentSessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_payment_sessions_total",
			Help: "Payment sessions created, by method and flow",
		},
		[]string{"method", "flow"},
	)
)

func init() {
	prometheus.MustRegister(confirmationAttempts)
	prometheus.MustRegister(stateTransitions)
	prometheus.MustRegister(paymentSessions)
}
