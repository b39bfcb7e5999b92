package remote

import "github.com/prometheus/client_golang/prometheus"

// Label values for dial attempts.
const (
	dialOK     = "ok"
	dialRetry  = "retry"
	dialFailed = "failed"
)

var (
	dialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ngnshed_remote_dials_total",
			Help: "Worker dial attempts by network and result.",
		},
		[]string{"network", "result"},
	)

	roundTripDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ngnshed_remote_round_trip_seconds",
			Help:    "Time from sending a request to a worker to its final result, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)
)

func init() {
	prometheus.MustRegister(dialsTotal)
	prometheus.MustRegister(roundTripDuration)

	for _, network := range []string{NetworkTCP, NetworkUnix, NetworkVsock} {
		dialsTotal.WithLabelValues(network, dialOK)
		dialsTotal.WithLabelValues(network, dialRetry)
		dialsTotal.WithLabelValues(network, dialFailed)
	}
}
