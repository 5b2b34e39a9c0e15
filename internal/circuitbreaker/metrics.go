package circuitbreaker

import "github.com/prometheus/client_golang/prometheus"

var (
	transitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streamguard",
		Subsystem: "circuitbreaker",
		Name:      "state_transitions_total",
		Help:      "Circuit breaker state transitions by key, from-state, and to-state.",
	}, []string{"key", "from_state", "to_state"})

	rejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streamguard",
		Subsystem: "circuitbreaker",
		Name:      "rejected_total",
		Help:      "Calls rejected because the circuit was open.",
	}, []string{"key"})

	stateGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "streamguard",
		Subsystem: "circuitbreaker",
		Name:      "state",
		Help:      "Current circuit state per key (0 closed, 1 open, 2 half-open).",
	}, []string{"key"})
)

func init() {
	prometheus.MustRegister(transitionsTotal, rejectedTotal, stateGauge)
}
