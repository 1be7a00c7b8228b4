package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Node registry metrics
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "piccolo_nodes_total",
			Help: "Total number of registered nodes by role and status",
		},
		[]string{"role", "status"},
	)

	RegistrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "piccolo_registrations_total",
			Help: "Total number of register() calls by outcome",
		},
		[]string{"outcome"},
	)

	HeartbeatsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "piccolo_heartbeats_total",
			Help: "Total number of heartbeat() calls accepted",
		},
	)

	LivenessScansTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "piccolo_liveness_scans_total",
			Help: "Total number of liveness scanner ticks completed",
		},
	)

	// Derived-state metrics
	ContainersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "piccolo_containers_total",
			Help: "Total number of containers by derived state",
		},
		[]string{"state"},
	)

	ModelsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "piccolo_models_total",
			Help: "Total number of models by derived state",
		},
		[]string{"state"},
	)

	PackagesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "piccolo_packages_total",
			Help: "Total number of packages by derived state",
		},
		[]string{"state"},
	)

	CascadeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "piccolo_cascade_duration_seconds",
			Help:    "Time taken for one ingest_container_list cascade to quiesce",
			Buckets: prometheus.DefBuckets,
		},
	)

	CascadeKeysRecomputed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "piccolo_cascade_keys_recomputed_total",
			Help: "Total number of model/package keys recomputed during cascades",
		},
		[]string{"kind"},
	)

	ReconcileDispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "piccolo_reconcile_dispatch_total",
			Help: "Total number of reconcile() dispatches to the Action Controller by outcome",
		},
		[]string{"outcome"},
	)

	// gRPC/REST boundary metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "piccolo_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "piccolo_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// KV store metrics
	StoreOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "piccolo_store_op_duration_seconds",
			Help:    "Duration of KV store operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	WatchSubscribersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "piccolo_watch_subscribers_total",
			Help: "Total number of active watch() subscribers",
		},
	)

	// Agent-side metrics
	AgentReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "piccolo_agent_reconnects_total",
			Help: "Total number of times the agent fell back to the registration loop",
		},
	)
)

func init() {
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(RegistrationsTotal)
	prometheus.MustRegister(HeartbeatsTotal)
	prometheus.MustRegister(LivenessScansTotal)
	prometheus.MustRegister(ContainersTotal)
	prometheus.MustRegister(ModelsTotal)
	prometheus.MustRegister(PackagesTotal)
	prometheus.MustRegister(CascadeDuration)
	prometheus.MustRegister(CascadeKeysRecomputed)
	prometheus.MustRegister(ReconcileDispatchTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(StoreOpDuration)
	prometheus.MustRegister(WatchSubscribersTotal)
	prometheus.MustRegister(AgentReconnectsTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
