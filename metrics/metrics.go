package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Ingestion metrics
	EventsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funneltrace_events_ingested_total",
			Help: "Total number of events accepted by type",
		},
		[]string{"event_type"},
	)

	EventsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funneltrace_events_rejected_total",
			Help: "Total number of events skipped during ingestion by reason",
		},
		[]string{"reason"},
	)

	SessionUpserts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funneltrace_session_upserts_total",
			Help: "Total number of session upserts by outcome",
		},
		[]string{"outcome"},
	)

	BatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "funneltrace_ingest_batch_size",
			Help:    "Number of events per ingestion batch",
			Buckets: []float64{1, 5, 10, 20, 50, 100, 250},
		},
	)

	// Funnel metrics
	FunnelComputeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "funneltrace_funnel_compute_duration_seconds",
			Help:    "Time taken to compute funnel statistics by mode",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funneltrace_api_requests_total",
			Help: "Total number of API requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "funneltrace_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

func init() {
	prometheus.MustRegister(EventsIngested)
	prometheus.MustRegister(EventsRejected)
	prometheus.MustRegister(SessionUpserts)
	prometheus.MustRegister(BatchSize)
	prometheus.MustRegister(FunnelComputeDuration)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures one operation for a histogram.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

func (t *Timer) ObserveDurationVec(h *prometheus.HistogramVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(t.Duration().Seconds())
}
