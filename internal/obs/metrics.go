package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Общие HTTP-метрики
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	serviceReady = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the last readiness probe succeeded.",
	})
)

// Метрики жизненного цикла заявок, проектов и платежей.
var (
	lifecycleOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifecycle_operations_total",
			Help: "Lifecycle engine operations by outcome.",
		},
		[]string{"op", "outcome"},
	)

	streamSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stream_subscribers",
		Help: "Active change-notification subscriptions.",
	})

	streamDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_dropped_total",
			Help: "Change notifications dropped for slow subscribers.",
		},
		[]string{"collection"},
	)

	viewResyncs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "view_resyncs_total",
			Help: "View re-reads triggered by change notifications.",
		},
		[]string{"role", "collection", "outcome"},
	)
)

var initOnce sync.Once

// Регистрация метрик в default-регистре.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration, serviceReady,
			lifecycleOps, streamSubscribers, streamDropped, viewResyncs,
		)
	})
}

// Хэндлер Prometheus.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady records the outcome of the last readiness check.
func SetReady(ok bool) {
	if ok {
		serviceReady.Set(1)
		return
	}
	serviceReady.Set(0)
}

// RecordOperation counts a lifecycle engine call.
func RecordOperation(op, outcome string) {
	lifecycleOps.WithLabelValues(op, outcome).Inc()
}

// StreamSubscribed adjusts the live subscription gauge by delta.
func StreamSubscribed(delta int) {
	streamSubscribers.Add(float64(delta))
}

// StreamDropped counts a notification that a subscriber could not accept.
func StreamDropped(collection string) {
	streamDropped.WithLabelValues(collection).Inc()
}

// RecordResync counts a view re-read.
func RecordResync(role, collection, outcome string) {
	viewResyncs.WithLabelValues(role, collection, outcome).Inc()
}

// Обёртка для измерения RPS/latency/в полёте.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// коллекции, за которыми следует идентификатор
var idCollections = map[string]bool{
	"requests": true,
	"projects": true,
	"payments": true,
	"clients":  true,
}

// фиксированные сегменты, которые не являются идентификаторами
var literalSegments = map[string]bool{
	"totals": true,
}

// CanonicalPath collapses entity identifiers so metric label cardinality stays bounded.
func CanonicalPath(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if p == "" || p == "/" {
		return "/"
	}
	parts := strings.Split(strings.TrimPrefix(p, "/"), "/")
	for i := 1; i < len(parts); i++ {
		if idCollections[parts[i-1]] && parts[i] != "" && !literalSegments[parts[i]] {
			parts[i] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}

// statusWriter: локальная копия, чтобы знать код ответа.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
