package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tip_settlement"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	tipsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tips",
			Name:      "created_total",
			Help:      "Tip creation results.",
		},
		[]string{"result"},
	)

	tipTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tips",
			Name:      "status_transitions_total",
			Help:      "Tip status transitions applied.",
		},
		[]string{"from", "to"},
	)

	webhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhooks",
			Name:      "events_total",
			Help:      "Processor webhook events by type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	suspensions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fraud",
			Name:      "suspensions_total",
			Help:      "Users suspended by the dispute heuristic.",
		},
	)

	processorCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "processor",
			Name:      "calls_total",
			Help:      "Payment processor API calls.",
		},
		[]string{"op", "outcome"},
	)

	processorDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "processor",
			Name:      "call_duration_seconds",
			Help:      "Duration of payment processor API calls.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		},
		[]string{"op"},
	)

	sweeps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "tips_total",
			Help:      "Pending tips examined by the sweeper, by outcome.",
		},
		[]string{"outcome"},
	)

	orphanedTips = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "orphaned_tips",
			Help:      "Stale pending tips without a payment intent at the last sweep.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		tipsCreated,
		tipTransitions,
		webhookEvents,
		suspensions,
		processorCalls,
		processorDuration,
		sweeps,
		orphanedTips,
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

// RecordTipCreated counts a tip creation result (CONFIRMED, DUPLICATE, PENDING).
func RecordTipCreated(result string) {
	tipsCreated.WithLabelValues(result).Inc()
}

// RecordStatusTransition counts an applied tip status change.
func RecordStatusTransition(from, to string) {
	tipTransitions.WithLabelValues(from, to).Inc()
}

// RecordWebhookEvent counts a webhook event and how it was handled.
func RecordWebhookEvent(eventType, outcome string) {
	if eventType == "" {
		eventType = "unknown"
	}
	webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

// RecordSuspension counts a fraud suspension.
func RecordSuspension() {
	suspensions.Inc()
}

// RecordProcessorCall records a processor API call.
func RecordProcessorCall(op, outcome string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	processorCalls.WithLabelValues(op, outcome).Inc()
	processorDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordSweep counts one swept tip.
func RecordSweep(outcome string) {
	sweeps.WithLabelValues(outcome).Inc()
}

// SetOrphanedTips records the orphan count seen by the latest sweep.
func SetOrphanedTips(n int) {
	orphanedTips.Set(float64(n))
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

// Hijack lets websocket upgrades pass through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// canonicalPath collapses ids so label cardinality stays bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "tips", "devices", "webhooks", "notifications", "processor":
		if len(parts) >= 2 {
			return "/" + parts[0] + "/" + parts[1]
		}
		return "/" + parts[0]
	case "healthz":
		return "/healthz"
	}
	return "/other"
}
