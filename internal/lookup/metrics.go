package lookup

import "github.com/prometheus/client_golang/prometheus"

var (
	toolCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streamguard",
		Subsystem: "lookup",
		Name:      "tool_calls_total",
		Help:      "Fact lookups by tool and result (found, not_found, error).",
	}, []string{"tool", "result"})

	toolDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "streamguard",
		Subsystem: "lookup",
		Name:      "tool_duration_seconds",
		Help:      "Fact lookup latency including retries.",
		Buckets:   []float64{.005, .01, .05, .1, .5, 1, 2, 5, 10, 20},
	}, []string{"tool"})

	cacheRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streamguard",
		Subsystem: "lookup",
		Name:      "cache_requests_total",
		Help:      "Fact cache reads by result (hit, miss, error).",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(toolCallsTotal, toolDuration, cacheRequestsTotal)
}
