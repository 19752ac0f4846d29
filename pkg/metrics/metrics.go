package metrics

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics for the admission and finalization paths
var (
	AdmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seckill_admissions_total",
			Help: "Total admission attempts by outcome code",
		},
		[]string{"code"},
	)

	TokensIssuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "seckill_tokens_issued_total",
			Help: "Total admission tokens issued",
		},
	)

	FinalizationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seckill_finalizations_total",
			Help: "Total finalization deliveries by outcome",
		},
		[]string{"outcome"},
	)

	DeadLetteredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "seckill_dead_lettered_total",
			Help: "Total finalization messages routed to the dead-letter topic",
		},
	)

	AdmissionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "seckill_admission_duration_seconds",
			Help:    "Duration of the synchronous admission pipeline",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Register registers all Prometheus metrics
func Register() {
	prometheus.MustRegister(AdmissionsTotal)
	prometheus.MustRegister(TokensIssuedTotal)
	prometheus.MustRegister(FinalizationsTotal)
	prometheus.MustRegister(DeadLetteredTotal)
	prometheus.MustRegister(AdmissionDuration)
}
