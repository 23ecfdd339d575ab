// Package metrics exposes the Prometheus collectors for the marker service.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mapads",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mapads",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mapads",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	markerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mapads",
			Subsystem: "workflow",
			Name:      "transitions_total",
			Help:      "Total number of marker lifecycle transitions attempted.",
		},
		[]string{"transition", "outcome"},
	)

	reconcileDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mapads",
			Subsystem: "reconcile",
			Name:      "decisions_total",
			Help:      "Total number of approval decisions applied by the reconciler.",
		},
		[]string{"decision", "source"},
	)

	reconcilePollDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mapads",
			Subsystem: "reconcile",
			Name:      "poll_duration_seconds",
			Help:      "Duration of reaction poll cycles.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~10s
		},
	)

	sweepExpirations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mapads",
			Subsystem: "sweep",
			Name:      "expirations_total",
			Help:      "Total number of featured placements expired by the sweep.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		markerTransitions,
		reconcileDecisions,
		reconcilePollDuration,
		sweepExpirations,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordTransition records an attempted lifecycle transition.
func RecordTransition(transition string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	markerTransitions.WithLabelValues(transition, outcome).Inc()
}

// RecordDecision records an approval decision applied by the reconciler.
func RecordDecision(decision, source string) {
	reconcileDecisions.WithLabelValues(decision, source).Inc()
}

// RecordPoll records the duration of one reaction poll cycle.
func RecordPoll(duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	reconcilePollDuration.Observe(duration.Seconds())
}

// RecordExpiration records one expired featured placement.
func RecordExpiration() {
	sweepExpirations.Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] != "markers" {
		return "/" + parts[0]
	}
	if len(parts) == 1 {
		return "/markers"
	}
	if len(parts) == 2 && parts[1] == "approved" {
		return "/markers/approved"
	}
	if len(parts) == 3 {
		return "/markers/:key/" + parts[2]
	}
	return "/markers/:key"
}
