package retry

import "github.com/prometheus/client_golang/prometheus"

var retryAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "streamguard",
	Subsystem: "retry",
	Name:      "attempts_total",
	Help:      "Lookup attempts by operation and outcome (found, empty, failed).",
}, []string{"operation", "outcome"})

func init() {
	prometheus.MustRegister(retryAttempts)
}
