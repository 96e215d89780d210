package allocation

import "github.com/prometheus/client_golang/prometheus"

var (
	drainDuration  prometheus.Histogram
	outcomesTotal  *prometheus.CounterVec
	routerFailures *prometheus.CounterVec
	queueDepth     *prometheus.GaugeVec
)

func newCollectors() (prometheus.Histogram, *prometheus.CounterVec, *prometheus.CounterVec, *prometheus.GaugeVec) {
	dur := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "allocation_drain_duration_seconds",
		Help:    "Duration of a queue drain cycle",
		Buckets: prometheus.DefBuckets,
	})
	out := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "allocation_outcomes_total",
		Help: "Allocation outcomes by fulfilment source and queue",
	}, []string{"source", "queue"})
	fail := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "allocation_router_failures_total",
		Help: "Contributor transfers that could not be routed or recorded",
	}, []string{"reason"})
	depth := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "allocation_queue_depth",
		Help: "Requests waiting in each priority queue",
	}, []string{"queue"})
	return dur, out, fail, depth
}

func init() {
	drainDuration, outcomesTotal, routerFailures, queueDepth = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers allocation metrics on reg, or on the default
// registerer when reg is nil.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(drainDuration, outcomesTotal, routerFailures, queueDepth)
}

// ResetMetrics recreates the collectors, registering them on reg when not nil.
func ResetMetrics(reg prometheus.Registerer) {
	drainDuration, outcomesTotal, routerFailures, queueDepth = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
