// Package metrics exposes Prometheus instrumentation for the media store.
//
// Components take a Recorder; passing nil (or building one without a
// registry) yields a no-op implementation.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mediastore"

// Recorder is the instrumentation surface used by handlers and services.
type Recorder interface {
	RecordRequest(method, route string, status int, duration time.Duration)
	RecordUpload(kind string, bytes int64)
	RecordServed(status int, bytes int64)
	RecordProbe(result string, duration time.Duration)
	RecordMigration(result string, moved int)
	SetEnrichQueueDepth(depth int)
}

// NewRegistry returns a registry carrying the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves reg in the Prometheus text format.
func Handler(reg *prometheus.Registry) http.Handler {
	if reg == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

type promRecorder struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	uploadBytes     *prometheus.CounterVec
	uploadsTotal    *prometheus.CounterVec
	servedBytes     *prometheus.CounterVec
	probesTotal     *prometheus.CounterVec
	probeDuration   prometheus.Histogram
	migrationsTotal *prometheus.CounterVec
	filesMigrated   prometheus.Counter
	enrichQueue     prometheus.Gauge
}

// New builds a Prometheus Recorder on reg, or a no-op one when reg is nil.
func New(reg *prometheus.Registry) Recorder {
	if reg == nil {
		return Noop()
	}
	f := promauto.With(reg)
	return &promRecorder{
		requestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		uploadBytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_bytes_total",
			Help:      "Bytes accepted by uploads.",
		}, []string{"kind"}),
		uploadsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Completed uploads by media kind.",
		}, []string{"kind"}),
		servedBytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "served_bytes_total",
			Help:      "Bytes streamed to clients by response status.",
		}, []string{"status"}),
		probesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_total",
			Help:      "Metadata probes by result.",
		}, []string{"result"}),
		probeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_duration_seconds",
			Help:      "Time spent in the external prober.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		migrationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "migrations_total",
			Help:      "Identity migrations by result.",
		}, []string{"result"}),
		filesMigrated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "migrated_files_total",
			Help:      "Files moved by identity migration.",
		}),
		enrichQueue: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "enrich_queue_depth",
			Help:      "Files waiting for metadata enrichment.",
		}),
	}
}

func (m *promRecorder) RecordRequest(method, route string, status int, duration time.Duration) {
	m.requestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func (m *promRecorder) RecordUpload(kind string, bytes int64) {
	m.uploadsTotal.WithLabelValues(kind).Inc()
	m.uploadBytes.WithLabelValues(kind).Add(float64(bytes))
}

func (m *promRecorder) RecordServed(status int, bytes int64) {
	m.servedBytes.WithLabelValues(strconv.Itoa(status)).Add(float64(bytes))
}

func (m *promRecorder) RecordProbe(result string, duration time.Duration) {
	m.probesTotal.WithLabelValues(result).Inc()
	m.probeDuration.Observe(duration.Seconds())
}

func (m *promRecorder) RecordMigration(result string, moved int) {
	m.migrationsTotal.WithLabelValues(result).Inc()
	m.filesMigrated.Add(float64(moved))
}

func (m *promRecorder) SetEnrichQueueDepth(depth int) {
	m.enrichQueue.Set(float64(depth))
}

type noop struct{}

// Noop returns a Recorder that discards everything.
func Noop() Recorder { return noop{} }

func (noop) RecordRequest(string, string, int, time.Duration) {}
func (noop) RecordUpload(string, int64)                       {}
func (noop) RecordServed(int, int64)                          {}
func (noop) RecordProbe(string, time.Duration)                {}
func (noop) RecordMigration(string, int)                      {}
func (noop) SetEnrichQueueDepth(int)                          {}

// OrNoop returns r, or the no-op Recorder when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return Noop()
	}
	return r
}
