package policy

import "github.com/prometheus/client_golang/prometheus"

var (
	predicateErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streamguard",
		Subsystem: "policy",
		Name:      "predicate_errors_total",
		Help:      "Rule predicates that failed to evaluate and were treated as non-matching.",
	}, []string{"priority"})

	rulesLoaded = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "streamguard",
		Subsystem: "policy",
		Name:      "rules",
		Help:      "Number of rules loaded in the most recently changed engine.",
	})
)

func init() {
	prometheus.MustRegister(predicateErrors, rulesLoaded)
}
