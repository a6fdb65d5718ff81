package keys

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks key resolution outcomes.
type Metrics struct {
	FallbacksCreated prometheus.Counter
	ResolutionMisses prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		FallbacksCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "keys_fallbacks_created_total",
			Help: "Number of fallback key components generated on resolution miss.",
		}),
		ResolutionMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "keys_resolution_misses_total",
			Help: "Number of key resolutions that found no usable key.",
		}),
	}
}
