package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sdrgw"

// Metrics holds every collector exported by the gateway.
//
// All recording methods are safe to call on a nil *Metrics, so components
// can be constructed without metrics in tests.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	CodecRatio *prometheus.HistogramVec

	DispatchQueueDepth prometheus.Gauge
	DispatchSubmitted  prometheus.Counter
	DispatchProcessed  *prometheus.CounterVec
	DispatchDropped    prometheus.Counter
	DispatchDuration   *prometheus.HistogramVec

	BatchPending       prometheus.Gauge
	BatchFlushes       *prometheus.CounterVec
	BatchFlushRecords  prometheus.Counter
	BatchDropped       prometheus.Counter
	BatchFlushDuration prometheus.Histogram

	IngressMessages *prometheus.CounterVec
	EgressPublishes *prometheus.CounterVec

	DBQueryDuration *prometheus.HistogramVec
}

// New creates a registry with Go runtime collectors and all gateway metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),

		CodecRatio: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "codec_compression_ratio",
			Help:      "Compressed size divided by raw size",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 12),
		}, []string{"encoding"}),

		DispatchQueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatch_queue_depth",
			Help:      "Jobs waiting for a codec worker",
		}),
		DispatchSubmitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_submitted_total",
			Help:      "Jobs accepted by the dispatch pool",
		}),
		DispatchProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_processed_total",
			Help:      "Jobs completed by the dispatch pool",
		}, []string{"direction", "outcome"}),
		DispatchDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_dropped_total",
			Help:      "Jobs rejected because the queue was full",
		}),
		DispatchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_job_duration_seconds",
			Help:      "Codec job processing time",
			Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"direction"}),

		BatchPending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batch_pending_readings",
			Help:      "Readings waiting to be flushed",
		}),
		BatchFlushes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_flushes_total",
			Help:      "Batch flush attempts by outcome",
		}, []string{"outcome"}),
		BatchFlushRecords: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_flushed_readings_total",
			Help:      "Readings written to the sink",
		}),
		BatchDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_dropped_readings_total",
			Help:      "Readings discarded after the pending cap was reached or shutdown failed",
		}),
		BatchFlushDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_flush_duration_seconds",
			Help:      "Sink write time per flush, including retries",
			Buckets:   prometheus.DefBuckets,
		}),

		IngressMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingress_messages_total",
			Help:      "Ingress messages by kind and outcome",
		}, []string{"kind", "outcome"}),
		EgressPublishes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "egress_publishes_total",
			Help:      "Egress publishes by kind and delivery status",
		}, []string{"kind", "status"}),

		DBQueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the exposition handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveHTTP records one completed HTTP request.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, http.StatusText(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// ObserveCompression records the compression ratio for one envelope.
func (m *Metrics) ObserveCompression(encoding string, rawSize, encodedSize int) {
	if m == nil || rawSize == 0 {
		return
	}
	m.CodecRatio.WithLabelValues(encoding).Observe(float64(encodedSize) / float64(rawSize))
}

// ObserveDB records the duration of one store operation since start.
func (m *Metrics) ObserveDB(operation string, start time.Time) {
	if m == nil {
		return
	}
	m.DBQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// IngressMessage counts one ingress message.
func (m *Metrics) IngressMessage(kind, outcome string) {
	if m == nil {
		return
	}
	m.IngressMessages.WithLabelValues(kind, outcome).Inc()
}

// EgressPublish counts one egress publish attempt.
func (m *Metrics) EgressPublish(kind, status string) {
	if m == nil {
		return
	}
	m.EgressPublishes.WithLabelValues(kind, status).Inc()
}
