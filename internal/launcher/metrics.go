package launcher

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/procjoin/internal/model"
)

var (
	handlesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "procjoin_handles_total",
			Help: "Total number of terminated handles by backend and outcome.",
		},
		[]string{"backend", "outcome"},
	)

	activeHandles = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "procjoin_active_handles",
			Help: "Number of started handles not yet terminated.",
		},
		[]string{"backend"},
	)

	runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "procjoin_run_duration_seconds",
			Help:    "Wall-clock time from first spawn to last join, in seconds.",
			Buckets: []float64{.01, .025, .05, .1, .15, .2, .3, .5, 1, 2.5, 5, 10},
		},
		[]string{"backend", "status"},
	)
)

func init() {
	prometheus.MustRegister(handlesTotal)
	prometheus.MustRegister(activeHandles)
	prometheus.MustRegister(runDuration)

	for _, b := range []string{model.BackendInproc, model.BackendSubprocess} {
		activeHandles.WithLabelValues(b)
		for _, o := range []string{model.OutcomeSucceeded, model.OutcomeFailed, model.OutcomeCanceled} {
			handlesTotal.WithLabelValues(b, o)
		}
	}
}
