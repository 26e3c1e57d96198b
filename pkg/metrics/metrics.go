package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Sandbox metrics
	SandboxesLive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bay_sandboxes_live",
			Help: "Number of live sandboxes",
		},
	)

	SandboxesCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bay_sandboxes_created_total",
			Help: "Total number of sandboxes created",
		},
	)

	SandboxesDeleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bay_sandboxes_deleted_total",
			Help: "Total number of sandboxes deleted",
		},
	)

	// Session metrics
	SessionStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bay_session_starts_total",
			Help: "Total number of session converge attempts by outcome",
		},
		[]string{"outcome"},
	)

	SessionReadyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bay_session_ready_duration_seconds",
			Help:    "Time from session creation to readiness in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	// Capability metrics
	CapabilityCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bay_capability_calls_total",
			Help: "Total number of capability invocations by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	CapabilityDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bay_capability_duration_seconds",
			Help:    "Capability invocation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bay_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bay_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// GC metrics
	GCRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bay_gc_runs_total",
			Help: "Total number of GC task runs by task",
		},
		[]string{"task"},
	)

	GCReclaimed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bay_gc_reclaimed_total",
			Help: "Total number of resources reclaimed by GC task",
		},
		[]string{"task"},
	)

	// Adapter pool metrics
	AdapterPoolSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bay_adapter_pool_size",
			Help: "Number of cached runtime adapters",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(SandboxesLive)
	prometheus.MustRegister(SandboxesCreated)
	prometheus.MustRegister(SandboxesDeleted)
	prometheus.MustRegister(SessionStarts)
	prometheus.MustRegister(SessionReadyDuration)
	prometheus.MustRegister(CapabilityCalls)
	prometheus.MustRegister(CapabilityDuration)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(GCRuns)
	prometheus.MustRegister(GCReclaimed)
	prometheus.MustRegister(AdapterPoolSize)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures a duration and observes it on stop.
type Timer struct {
	start    time.Time
	observer prometheus.Observer
}

// NewTimer starts a timer against an observer.
func NewTimer(observer prometheus.Observer) *Timer {
	return &Timer{start: time.Now(), observer: observer}
}

// Stop observes the elapsed time.
func (t *Timer) Stop() {
	t.observer.Observe(time.Since(t.start).Seconds())
}
