package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the report store collectors. A nil *Metrics disables
// collection.
type Metrics struct {
	requests *prometheus.CounterVec   // by method, route and code
	latency  *prometheus.HistogramVec // by route
	creates  *prometheus.CounterVec   // by result
	deletes  prometheus.Counter
}

// NewMetrics creates the server collectors and registers them with reg. A nil
// reg returns nil metrics.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "miyah",
			Subsystem: "server",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code",
		}, []string{"method", "route", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "miyah",
			Subsystem: "server",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		creates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "miyah",
			Subsystem: "server",
			Name:      "report_creates_total",
			Help:      "Report create requests by result (created, duplicate)",
		}, []string{"result"}),
		deletes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "miyah",
			Subsystem: "server",
			Name:      "report_deletes_total",
			Help:      "Reports deleted",
		}),
	}
	for _, c := range []prometheus.Collector{m.requests, m.latency, m.creates, m.deletes} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) recordCreate(created bool) {
	if m == nil {
		return
	}
	result := "duplicate"
	if created {
		result = "created"
	}
	m.creates.WithLabelValues(result).Inc()
}

func (m *Metrics) recordDelete() {
	if m == nil {
		return
	}
	m.deletes.Inc()
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE streaming working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// instrument wraps a route handler with request counting. The route label is
// the mux pattern, not the raw path, to keep cardinality bounded.
func (m *Metrics) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	if m == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		m.latency.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}
