package resilience

import "github.com/prometheus/client_golang/prometheus"

var (
	BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "passes",
		Name:      "breaker_state",
		Help:      "Circuit position per outbound target: 0=closed, 1=open, 2=half-open.",
	}, []string{"target"})
	BreakerTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "passes",
		Name:      "breaker_transitions_total",
		Help:      "Circuit state changes per outbound target.",
	}, []string{"target", "from", "to"})
	UpstreamAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "passes",
		Name:      "upstream_attempts_total",
		Help:      "Outbound HTTP attempts by target and outcome.",
	}, []string{"target", "outcome"})
)

func init() {
	prometheus.MustRegister(BreakerState, BreakerTransitions, UpstreamAttempts)
}
