package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "floatbase_ticks_total",
		Help: "Total number of estimation cycles processed",
	})

	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "floatbase_tick_duration_seconds",
		Help:    "Wall time spent in one estimation cycle",
		Buckets: []float64{0.00005, 0.0001, 0.0005, 0.001, 0.002, 0.005, 0.01},
	})

	FusionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "floatbase_fusion_state",
		Help: "1 for the current fusion state, 0 otherwise",
	}, []string{"state"})

	FaultsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "floatbase_faults_total",
		Help: "Number of times the primary estimator was declared faulty",
	})

	ActiveContacts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "floatbase_active_contacts",
		Help: "Number of contacts currently set in the estimator",
	})

	ContactEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "floatbase_contact_events_total",
		Help: "Contact lifecycle transitions",
	}, []string{"kind"})

	WarningsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "floatbase_warnings_total",
		Help: "User-visible warnings emitted",
	})

	CycleOverrunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "floatbase_cycle_overruns_total",
		Help: "Paced cycles that took longer than the cycle period",
	})

	SinkErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "floatbase_sink_errors_total",
		Help: "Outputs that could not be recorded",
	})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "floatbase_http_requests_total",
		Help: "Operator API requests by status class",
	}, []string{"class"})
)

// SetFusionState flips the state gauge so exactly one label reads 1.
func SetFusionState(current string, all ...string) {
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		FusionState.WithLabelValues(s).Set(v)
	}
}
