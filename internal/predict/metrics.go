package predict

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the prometheus collectors for the prediction layer.
type Metrics struct {
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	CacheEvictions   prometheus.Counter
	CacheExpirations prometheus.Counter

	Dispatches     prometheus.Counter
	DispatchDrops  prometheus.Counter
	DispatchErrors prometheus.Counter
}

// NewMetrics registers the prediction metrics against the provided
// registerer, defaulting to the global prometheus registry when nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prediction_cache_hits_total",
			Help: "Prediction cache lookups served from a live entry.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prediction_cache_misses_total",
			Help: "Prediction cache lookups that found no live entry.",
		}),
		CacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prediction_cache_evictions_total",
			Help: "Entries evicted because the cache was at capacity.",
		}),
		CacheExpirations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prediction_cache_expirations_total",
			Help: "Entries dropped because they outlived the TTL.",
		}),
		Dispatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prediction_dispatches_total",
			Help: "Prediction requests dispatched to the external API.",
		}),
		DispatchDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prediction_dispatch_drops_total",
			Help: "Prediction triggers dropped by the per-subject throttle.",
		}),
		DispatchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prediction_dispatch_errors_total",
			Help: "External prediction calls that failed.",
		}),
	}
	reg.MustRegister(
		m.CacheHits, m.CacheMisses, m.CacheEvictions, m.CacheExpirations,
		m.Dispatches, m.DispatchDrops, m.DispatchErrors,
	)
	return m
}
