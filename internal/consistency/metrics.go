package consistency

import "github.com/prometheus/client_golang/prometheus"

var (
	discrepanciesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streamguard",
		Subsystem: "consistency",
		Name:      "discrepancies_total",
		Help:      "Discrepancies between external judgments and the policy engine, by kind.",
	}, []string{"kind"})

	checksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streamguard",
		Subsystem: "consistency",
		Name:      "checks_total",
		Help:      "Consistency checks run, by result (consistent, divergent).",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(discrepanciesTotal, checksTotal)
}
