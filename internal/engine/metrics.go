package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ngnshed_engine_request_duration_seconds",
			Help:    "Time a backend spent on one engine request.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"engine_type", "status"},
	)

	engineRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ngnshed_engine_runs_total",
			Help: "Total number of engine runners that exited, by exit reason.",
		},
		[]string{"engine_type", "reason"},
	)

	enginesRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ngnshed_engines_running",
			Help: "Number of engine runners currently running.",
		},
	)
)

func init() {
	prometheus.MustRegister(requestDuration)
	prometheus.MustRegister(engineRuns)
	prometheus.MustRegister(enginesRunning)
}
