package worker

import "github.com/prometheus/client_golang/prometheus"

var (
	workerStartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "workerd",
			Subsystem: "engine",
			Name:      "worker_starts_total",
			Help:      "Total worker process starts",
		},
		[]string{"model", "result"},
	)

	workerFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "workerd",
			Subsystem: "engine",
			Name:      "worker_failures_total",
			Help:      "Workers discarded after a transport failure",
		},
		[]string{"model", "reason"},
	)

	predictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "workerd",
			Subsystem: "engine",
			Name:      "predicts_total",
			Help:      "Total predict calls dispatched to workers",
		},
		[]string{"model", "result"},
	)

	predictDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "workerd",
			Subsystem: "engine",
			Name:      "predict_duration_seconds",
			Help:      "Duration of predict calls in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"model"},
	)

	poolQueued = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "workerd",
			Subsystem: "engine",
			Name:      "pool_queued_units",
			Help:      "Units currently idle in the pool queue",
		},
		[]string{"model"},
	)

	unitsInflight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "workerd",
			Subsystem: "engine",
			Name:      "units_inflight",
			Help:      "Units currently bound to an active predictor",
		},
		[]string{"model"},
	)
)

func init() {
	prometheus.MustRegister(
		workerStartsTotal,
		workerFailuresTotal,
		predictsTotal,
		predictDuration,
		poolQueued,
		unitsInflight,
	)
}

// failureReason maps a transport error onto a metrics label.
func failureReason(err error) string {
	switch {
	case IsOutOfMemory(err):
		return "oom"
	case IsPredictTimeout(err):
		return "timeout"
	case IsCrashed(err):
		return "crash"
	case IsStartup(err):
		return "startup"
	default:
		return "other"
	}
}
