package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors. Construct once per
// process with the default registerer, or with a private registry in
// tests.
type Metrics struct {
	RebuildTotal    *prometheus.CounterVec
	RebuildDuration prometheus.Histogram
	CacheRequests   *prometheus.CounterVec
	QueryDuration   *prometheus.HistogramVec
	GenerationSeq   prometheus.Gauge
	GenerationAge   prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RebuildTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lattice_rebuild_total",
			Help: "Index rebuild attempts by outcome.",
		}, []string{"status"}),
		RebuildDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "lattice_rebuild_duration_seconds",
			Help:    "Wall time of full index rebuilds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		CacheRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lattice_result_cache_requests_total",
			Help: "Recommendation result cache lookups by result.",
		}, []string{"result"}),
		QueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lattice_query_duration_seconds",
			Help:    "Latency of ranking operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		GenerationSeq: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lattice_generation_sequence",
			Help: "Sequence number of the currently published generation.",
		}),
		GenerationAge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lattice_generation_age_seconds",
			Help: "Age of the currently published generation.",
		}),
	}
}
