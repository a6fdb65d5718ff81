package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks pipeline outcomes and dispatch latency.
type Metrics struct {
	Delivered       prometheus.Counter
	Failed          prometheus.Counter
	Retried         prometheus.Counter
	DispatchSeconds prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Delivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_documents_delivered_total",
			Help: "Documents that reached DELIVERED.",
		}),
		Failed: factory.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_documents_failed_total",
			Help: "Documents that reached FAILED.",
		}),
		Retried: factory.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_retries_scheduled_total",
			Help: "Retries handed to the backoff scheduler.",
		}),
		DispatchSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pipeline_dispatch_duration_seconds",
			Help:    "Latency of SUNAT web service calls.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
