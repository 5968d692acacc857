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

	authzDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_decisions_total",
			Help: "Permission checks by outcome.",
		},
		[]string{"decision"},
	)

	rateLimitDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_decisions_total",
			Help: "Rate limiter decisions by profile and outcome.",
		},
		[]string{"profile", "decision"},
	)

	workflowHandoffs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_handoffs_total",
			Help: "Workflow start and resume calls by workflow and outcome.",
		},
		[]string{"workflow", "outcome"},
	)

	initOnce sync.Once
)

// Init registers the service metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			authzDecisions, rateLimitDecisions, workflowHandoffs,
		)
	})
}

// Handler exposes the Prometheus registry.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveAuthz counts a permission check outcome.
func ObserveAuthz(decision string) {
	authzDecisions.WithLabelValues(decision).Inc()
}

// ObserveRateLimit counts a rate limiter decision.
func ObserveRateLimit(profile string, allowed bool) {
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	rateLimitDecisions.WithLabelValues(profile, decision).Inc()
}

// ObserveWorkflow counts a workflow engine call.
func ObserveWorkflow(workflow, outcome string) {
	workflowHandoffs.WithLabelValues(workflow, outcome).Inc()
}

// knownPaths keeps the path label bounded.
var knownPaths = map[string]struct{}{
	"/":                                 {},
	"/healthz":                          {},
	"/readyz":                           {},
	"/metrics":                          {},
	"/v1/info":                          {},
	"/v1/me/permissions":                {},
	"/v1/rate-limits":                   {},
	"/v1/workflows/approve-application": {},
	"/v1/workflows/dual-approval":       {},
	"/v1/workflows/process-donation":    {},
	"/v1/workflows/send-bulk-message":   {},
	"/v1/workflows/hooks/resume":        {},
	"/v1/workflows/slack/message":       {},
}

// CanonicalPath maps a request path onto a low-cardinality metric label.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	if _, ok := knownPaths[path]; ok {
		return path
	}
	if strings.HasPrefix(path, "/v1/workflows/") {
		return "/v1/workflows/:unknown"
	}
	return "other"
}

// Instrument records request rate, latency and in-flight gauges.
func Instrument(next http.Handler) http.Handler {
	Init()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
