package metrics

import (
	"net/http"
	"strconv"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rookery"

// Metrics owns a private registry with every collector the server exports.
// It implements broadcast.Observer, ingest.Recorder and
// pebblestore.MetricsHook.
type Metrics struct {
	registry *prometheus.Registry

	ingestAccepted  *prometheus.CounterVec
	ingestRejected  *prometheus.CounterVec
	ingestDuration  prometheus.Histogram
	broadcastEvents prometheus.Counter
	deliveries      prometheus.Counter
	queueDrops      prometheus.Counter
	removals        *prometheus.CounterVec
	subscribers     prometheus.Gauge
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	storageWrite    prometheus.Histogram
	storageRead     prometheus.Histogram
	storageBatch    prometheus.Histogram
	storageBytes    prometheus.Counter
	grpcServer      *grpc_prometheus.ServerMetrics
}

// New registers all collectors plus the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ingestAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "accepted_total",
			Help: "Measurements persisted, by transport.",
		}, []string{"source"}),
		ingestRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "rejected_total",
			Help: "Measurements refused, by transport and reason.",
		}, []string{"source", "reason"}),
		ingestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "duration_seconds",
			Help:    "Time from receipt to broadcast of accepted measurements.",
			Buckets: prometheus.DefBuckets,
		}),
		broadcastEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "broadcast", Name: "events_total",
			Help: "Events published to the hub.",
		}),
		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "broadcast", Name: "enqueued_total",
			Help: "Event copies appended to subscriber queues.",
		}),
		queueDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "broadcast", Name: "dropped_total",
			Help: "Events evicted from full subscriber queues.",
		}),
		removals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "broadcast", Name: "subscribers_removed_total",
			Help: "Subscribers removed from the hub, by reason.",
		}, []string{"reason"}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "broadcast", Name: "subscribers",
			Help: "Currently registered subscribers.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		storageWrite: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "storage", Name: "write_seconds",
			Help:    "Single-key write latency.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		storageRead: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "storage", Name: "read_seconds",
			Help:    "Point read latency.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		storageBatch: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "storage", Name: "batch_commit_seconds",
			Help:    "Batch commit latency.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		storageBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "storage", Name: "written_bytes_total",
			Help: "Bytes written to the storage engine.",
		}),
		grpcServer: grpc_prometheus.NewServerMetrics(),
	}
	m.grpcServer.EnableHandlingTimeHistogram()
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ingestAccepted, m.ingestRejected, m.ingestDuration,
		m.broadcastEvents, m.deliveries, m.queueDrops, m.removals, m.subscribers,
		m.httpRequests, m.httpDuration,
		m.storageWrite, m.storageRead, m.storageBatch, m.storageBytes,
		m.grpcServer,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// GRPC returns the grpc_server_* collectors; the gRPC server installs its
// interceptors and initializes them once services are registered.
func (m *Metrics) GRPC() *grpc_prometheus.ServerMetrics { return m.grpcServer }

// Handler serves the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) IngestAccepted(source string, elapsed time.Duration) {
	m.ingestAccepted.WithLabelValues(source).Inc()
	m.ingestDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) IngestRejected(source, reason string) {
	m.ingestRejected.WithLabelValues(source, reason).Inc()
}

func (m *Metrics) SubscriberAdded(active int) { m.subscribers.Set(float64(active)) }

func (m *Metrics) SubscriberRemoved(active int, reason string) {
	m.subscribers.Set(float64(active))
	m.removals.WithLabelValues(reason).Inc()
}

func (m *Metrics) Published(subscribers int) {
	m.broadcastEvents.Inc()
	m.deliveries.Add(float64(subscribers))
}

func (m *Metrics) Dropped() { m.queueDrops.Inc() }

func (m *Metrics) ObserveWrite(elapsed time.Duration, bytes int) {
	m.storageWrite.Observe(elapsed.Seconds())
	m.storageBytes.Add(float64(bytes))
}

func (m *Metrics) ObserveRead(elapsed time.Duration, _ int) {
	m.storageRead.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveBatchCommit(elapsed time.Duration, _ int, bytes int) {
	m.storageBatch.Observe(elapsed.Seconds())
	m.storageBytes.Add(float64(bytes))
}

// Middleware records the request count and latency under the ServeMux
// pattern that matched. Streaming routes are counted when the stream ends.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rw, r)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		m.httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(rw.code)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	code        int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.code = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController and the websocket upgrader reach the
// underlying connection.
func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
