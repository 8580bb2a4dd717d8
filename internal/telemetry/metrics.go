package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "benor",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"op", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "benor",
			Name:      "request_duration_seconds",
			Help:      "Latency of HTTP requests.",
			// /start holds the request open for the whole round loop, so go up to ~16s.
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		},
		[]string{"op"},
	)

	InFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "benor",
			Name:      "in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
		[]string{"op"},
	)

	// ---- Consensus ----
	RoundsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "benor",
			Name:      "rounds_total",
			Help:      "Completed consensus rounds.",
		},
		[]string{"node"},
	)

	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "benor",
			Name:      "decisions_total",
			Help:      "Phase-2 outcomes by resulting value; value=\"random\" counts coin flips.",
		},
		[]string{"node", "value"},
	)

	VotesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "benor",
			Name:      "votes_total",
			Help:      "Inbound votes by phase and outcome (accepted, stale, duplicate, rejected).",
		},
		[]string{"node", "phase", "outcome"},
	)

	BroadcastFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "benor",
			Name:      "broadcast_failures_total",
			Help:      "Peer sends that failed or were refused.",
		},
		[]string{"node"},
	)

	CurrentRound = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "benor",
			Name:      "current_round",
			Help:      "Round counter of the node.",
		},
		[]string{"node"},
	)

	// ---- Process / build info ----
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "benor",
			Name:      "build_info",
			Help:      "Build info (constant 1, labeled by version and git_sha).",
		},
		[]string{"version", "git_sha"},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "benor",
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(
		RequestsTotal, RequestDuration, InFlight,
		RoundsTotal, DecisionsTotal, VotesTotal, BroadcastFailures, CurrentRound,
		buildInfo, uptime,
	)
}

// MetricsHandler exposes /metrics. Mount it with r.Handle("/metrics", telemetry.MetricsHandler()).
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetBuildInfo should be called once at startup, e.g. with ldflags-provided values.
func SetBuildInfo(version, gitSHA string) {
	buildInfo.WithLabelValues(version, gitSHA).Set(1)
}

// NodeLabel formats an ordinal for the "node" label.
func NodeLabel(id int) string {
	return strconv.Itoa(id)
}

// ---- Middleware instrumentation ----

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Instrument wraps an http.Handler to record metrics under the provided "op" label.
// Example:
//
//	r.Handle("/status", telemetry.Instrument("status", http.HandlerFunc(n.Status)))
func Instrument(op string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: 200}
		start := time.Now()

		InFlight.WithLabelValues(op).Inc()
		defer InFlight.WithLabelValues(op).Dec()

		next.ServeHTTP(sw, r)

		class := strconv.Itoa(sw.status/100) + "xx"
		RequestsTotal.WithLabelValues(op, class).Inc()
		RequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	})
}
