package shed

import "github.com/prometheus/client_golang/prometheus"

// Metric label values for push and pull outcomes.
const (
	outcomeQueued        = "queued"
	outcomeCreated       = "created"
	outcomeNotAcceptable = "not_acceptable"
	outcomeShutdown      = "shutdown"
	outcomeOverCapacity  = "over_capacity"
	outcomeNoRoute       = "no_route"
	outcomeInitFailed    = "init_failed"

	outcomePulled     = "pulled"
	outcomeRetry      = "retry"
	outcomeEndOfQueue = "end_of_queue"
	outcomeAborted    = "aborted"
)

var (
	pushTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ngnshed_push_total",
			Help: "Total number of requests pushed toward an engine type, by outcome.",
		},
		[]string{"engine_type", "outcome"},
	)

	pullTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ngnshed_pull_total",
			Help: "Total number of engine pull calls, by outcome.",
		},
		[]string{"outcome"},
	)

	forcedFinishTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ngnshed_forced_finish_total",
			Help: "Total number of queued requests force-finished because their engine exited.",
		},
	)

	enginesRegistered = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ngnshed_engines_registered",
			Help: "Number of engines currently registered across all sheds.",
		},
	)

	queuedEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ngnshed_queued_entries",
			Help: "Number of requests waiting in engine queues across all sheds.",
		},
	)
)

func init() {
	prometheus.MustRegister(pushTotal)
	prometheus.MustRegister(pullTotal)
	prometheus.MustRegister(forcedFinishTotal)
	prometheus.MustRegister(enginesRegistered)
	prometheus.MustRegister(queuedEntries)

	for _, o := range []string{outcomePulled, outcomeRetry, outcomeEndOfQueue, outcomeAborted} {
		pullTotal.WithLabelValues(o)
	}
}
