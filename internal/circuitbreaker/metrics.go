package circuitbreaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orchestrator_circuit_breaker_state",
			Help: "Current state of a provider circuit breaker (0=closed, 1=half-open, 2=open)",
		},
		[]string{"provider"},
	)

	breakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_circuit_breaker_state_changes_total",
			Help: "Total state transitions per provider circuit breaker",
		},
		[]string{"provider", "from_state", "to_state"},
	)

	breakerOpenSince = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orchestrator_circuit_breaker_open_since_seconds",
			Help: "Unix time when the breaker entered open state (0 if not open)",
		},
		[]string{"provider"},
	)
)

// InstrumentedConfig wraps a config so every state transition is
// reflected in Prometheus. Any existing OnStateChange callback still
// fires first.
func InstrumentedConfig(config Config) Config {
	inner := config.OnStateChange
	config.OnStateChange = func(provider string, from, to State) {
		if inner != nil {
			inner(provider, from, to)
		}
		breakerStateChanges.WithLabelValues(provider, from.String(), to.String()).Inc()
		breakerState.WithLabelValues(provider).Set(float64(to))
		if to == StateOpen {
			breakerOpenSince.WithLabelValues(provider).SetToCurrentTime()
		} else if from == StateOpen {
			breakerOpenSince.WithLabelValues(provider).Set(0)
		}
	}
	return config
}
