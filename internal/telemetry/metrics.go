// Package telemetry registers the Prometheus metrics for the
// experimentation service and provides the HTTP middleware that feeds the
// request counters and latency histograms.
package telemetry

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	httpDur = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	// RealtimeSessions tracks currently connected WebSocket sessions.
	RealtimeSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_sessions",
		Help: "Number of currently connected realtime sessions",
	})

	// DistributionsCreated counts new variant assignments materialized by
	// the Distribution Store's get-or-create path.
	DistributionsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "distributions_created_total",
		Help: "Total distributions created",
	})

	// RecalcChangedRows counts distribution rows rewritten by recalculation
	// sweeps after a variant configuration change.
	RecalcChangedRows = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "recalculation_changed_rows_total",
		Help: "Total distribution rows updated by recalculation sweeps",
	})

	// CacheHits and CacheMisses track the assignment read-through cache.
	CacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "assignment_cache_hits_total",
		Help: "Assignment cache hits",
	})
	CacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "assignment_cache_misses_total",
		Help: "Assignment cache misses",
	})
)

func Init() {
	prometheus.MustRegister(httpReqs, httpDur, RealtimeSessions, DistributionsCreated, RecalcChangedRows, CacheHits, CacheMisses)
}

func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// get route pattern if available
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}

		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(ww, r)

		httpReqs.WithLabelValues(route, r.Method, strconv.Itoa(ww.status)).Inc()
		httpDur.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets the WebSocket upgrade take over the underlying connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := w.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}
