package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Execution metrics
	ExecutionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "behemoth_executions_total",
			Help: "Total number of executions by status",
		},
		[]string{"status"},
	)

	ExecutionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "behemoth_execution_transitions_total",
			Help: "Total number of execution status transitions by target status",
		},
		[]string{"status"},
	)

	PlansTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "behemoth_plans_total",
			Help: "Total number of plans by category",
		},
		[]string{"category"},
	)

	// Worker metrics
	WorkersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "behemoth_workers_total",
			Help: "Total number of registered workers",
		},
	)

	WorkerSelections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "behemoth_worker_selections_total",
			Help: "Total number of worker selections by outcome",
		},
		[]string{"outcome"},
	)

	// Callback metrics
	CommandCallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "behemoth_command_callbacks_total",
			Help: "Total number of command callbacks by reported status",
		},
		[]string{"status"},
	)

	CallbackDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "behemoth_callback_duration_seconds",
			Help:    "Command callback handling duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "behemoth_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "behemoth_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(ExecutionsTotal)
	prometheus.MustRegister(ExecutionTransitions)
	prometheus.MustRegister(PlansTotal)
	prometheus.MustRegister(WorkersTotal)
	prometheus.MustRegister(WorkerSelections)
	prometheus.MustRegister(CommandCallbacks)
	prometheus.MustRegister(CallbackDuration)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures a duration for histogram observation
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time into a histogram
func (t *Timer) ObserveDuration(h prometheus.Observer) {
	h.Observe(t.Duration().Seconds())
}
