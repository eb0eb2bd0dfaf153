package subprocess

import "github.com/prometheus/client_golang/prometheus"

// Metric label values for child outcomes.
const (
	outcomeSucceeded   = "succeeded"
	outcomeFailed      = "failed"
	outcomeStartFailed = "start_failed"
)

var (
	activeChildren = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "procjoin_subprocess_active_children",
			Help: "Number of child processes started and not yet waited for.",
		},
	)

	childrenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "procjoin_subprocess_children_total",
			Help: "Total number of child processes by outcome.",
		},
		[]string{"outcome"},
	)

	childWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "procjoin_subprocess_child_lifetime_seconds",
			Help:    "Time from child start until it was reaped, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	unreapedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "procjoin_subprocess_unreaped_total",
			Help: "Children whose PID was still present after Wait returned.",
		},
	)
)

func init() {
	prometheus.MustRegister(activeChildren)
	prometheus.MustRegister(childrenTotal)
	prometheus.MustRegister(childWaitDuration)
	prometheus.MustRegister(unreapedTotal)

	for _, o := range []string{outcomeSucceeded, outcomeFailed, outcomeStartFailed} {
		childrenTotal.WithLabelValues(o)
	}
}
