package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "marketsync"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	batchTargets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_targets_total",
			Help:      "Targets processed by the batch executor, by task and outcome.",
		},
		[]string{"task", "outcome"},
	)

	batchRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_records_total",
			Help:      "Records upserted by the batch executor.",
		},
		[]string{"task"},
	)

	taskRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_runs_total",
			Help:      "Scheduled task executions by final status.",
		},
		[]string{"task", "status"},
	)

	taskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Wall-clock duration of task executions.",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
		},
		[]string{"task"},
	)

	rateLimitWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rate_limit_wait_seconds",
			Help:      "Time callers spent blocked in the upstream rate limiter.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		},
	)

	healthStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "health_check_status",
			Help:      "Last health check status per metric (0 healthy, 1 warning, 2 critical).",
		},
		[]string{"metric"},
	)

	stubbornTargets = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stubborn_targets",
			Help:      "Targets excluded from auto-repair in the last health run.",
		},
	)

	repairDispatched = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repair_targets_dispatched_total",
			Help:      "Targets handed to auto-repair by the health doctor.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			batchTargets,
			batchRecords,
			taskRuns,
			taskDuration,
			rateLimitWait,
			healthStatus,
			stubbornTargets,
			repairDispatched,
		)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

// ObserveBatch records the outcome of one executor batch.
func ObserveBatch(task string, success, failed, records int) {
	batchTargets.WithLabelValues(task, "success").Add(float64(success))
	batchTargets.WithLabelValues(task, "failed").Add(float64(failed))
	batchRecords.WithLabelValues(task).Add(float64(records))
}

// ObserveTask records one finished task execution.
func ObserveTask(task, status string, took time.Duration) {
	taskRuns.WithLabelValues(task, status).Inc()
	taskDuration.WithLabelValues(task).Observe(took.Seconds())
}

// ObserveRateLimitWait records how long an acquire call was blocked.
func ObserveRateLimitWait(d time.Duration) {
	rateLimitWait.Observe(d.Seconds())
}

// SetHealth publishes the status of one health metric.
func SetHealth(metric, status string) {
	var v float64
	switch status {
	case "warning":
		v = 1
	case "critical":
		v = 2
	}
	healthStatus.WithLabelValues(metric).Set(v)
}

// SetStubborn publishes the stubborn-set size of the last health run.
func SetStubborn(n int) {
	stubbornTargets.Set(float64(n))
}

// AddRepairDispatched counts targets sent to auto-repair.
func AddRepairDispatched(n int) {
	repairDispatched.Add(float64(n))
}
