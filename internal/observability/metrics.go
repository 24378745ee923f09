package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets    = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	backendDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
)

// Metrics holds all Prometheus metric instruments for the BFF.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Session metrics
	SessionsStartedTotal *prometheus.CounterVec
	SessionsExpiredTotal prometheus.Counter
	SessionsActive       prometheus.Gauge
	SessionUpdatesTotal  *prometheus.CounterVec
	ValidationRunsTotal  *prometheus.CounterVec
	SubmissionsTotal     *prometheus.CounterVec
	SubmissionDuration   *prometheus.HistogramVec

	// Backend invocation metrics
	BackendRequestsTotal       *prometheus.CounterVec
	BackendRequestDuration     *prometheus.HistogramVec
	BackendCircuitBreakerState *prometheus.GaugeVec
	BackendRetriesTotal        *prometheus.CounterVec

	// Catalog cache metrics
	CatalogCacheHitsTotal   *prometheus.CounterVec
	CatalogCacheMissesTotal *prometheus.CounterVec

	// System metrics
	DefinitionsLoaded        prometheus.Gauge
	OpenAPIOperationsIndexed *prometheus.GaugeVec
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tukang_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tukang_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),

		// Sessions
		SessionsStartedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tukang_sessions_started_total",
			Help: "Total number of form sessions started.",
		}, []string{"screen_id"}),
		SessionsExpiredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tukang_sessions_expired_total",
			Help: "Total number of form sessions reclaimed by the TTL sweep.",
		}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tukang_sessions_active",
			Help: "Number of live form sessions.",
		}),
		SessionUpdatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tukang_session_updates_total",
			Help: "Total number of session state updates.",
		}, []string{"screen_id", "kind"}),
		ValidationRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tukang_validation_runs_total",
			Help: "Total number of validation runs.",
		}, []string{"screen_id", "result"}),
		SubmissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tukang_submissions_total",
			Help: "Total number of form submissions.",
		}, []string{"screen_id", "status"}),
		SubmissionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tukang_submission_duration_seconds",
			Help:    "Submission duration in seconds, backend call included.",
			Buckets: backendDurationBuckets,
		}, []string{"screen_id"}),

		// Backend
		BackendRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tukang_backend_requests_total",
			Help: "Total number of backend service requests.",
		}, []string{"service_id", "status"}),
		BackendRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tukang_backend_request_duration_seconds",
			Help:    "Backend request duration in seconds.",
			Buckets: backendDurationBuckets,
		}, []string{"service_id"}),
		BackendCircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tukang_backend_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		}, []string{"service_id"}),
		BackendRetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tukang_backend_retries_total",
			Help: "Total number of backend request retries.",
		}, []string{"service_id"}),

		// Catalog cache
		CatalogCacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tukang_catalog_cache_hits_total",
			Help: "Total catalog cache hits.",
		}, []string{"endpoint_id"}),
		CatalogCacheMissesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tukang_catalog_cache_misses_total",
			Help: "Total catalog cache misses.",
		}, []string{"endpoint_id"}),

		// System
		DefinitionsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tukang_definitions_loaded",
			Help: "Number of loaded definition files.",
		}),
		OpenAPIOperationsIndexed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tukang_openapi_operations_indexed",
			Help: "Number of indexed OpenAPI operations.",
		}, []string{"service_id"}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		// Sessions
		m.SessionsStartedTotal,
		m.SessionsExpiredTotal,
		m.SessionsActive,
		m.SessionUpdatesTotal,
		m.ValidationRunsTotal,
		m.SubmissionsTotal,
		m.SubmissionDuration,
		// Backend
		m.BackendRequestsTotal,
		m.BackendRequestDuration,
		m.BackendCircuitBreakerState,
		m.BackendRetriesTotal,
		// Catalog cache
		m.CatalogCacheHitsTotal,
		m.CatalogCacheMissesTotal,
		// System
		m.DefinitionsLoaded,
		m.OpenAPIOperationsIndexed,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
}

// RecordSessionStart records a new form session.
func (m *Metrics) RecordSessionStart(screenID string) {
	m.SessionsStartedTotal.WithLabelValues(screenID).Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records the end of a form session, expired or not.
func (m *Metrics) RecordSessionEnd(expired bool) {
	m.SessionsActive.Dec()
	if expired {
		m.SessionsExpiredTotal.Inc()
	}
}

// RecordSessionUpdate records one session state update. kind is the update
// category: field, selection, row_add, row_remove.
func (m *Metrics) RecordSessionUpdate(screenID, kind string) {
	m.SessionUpdatesTotal.WithLabelValues(screenID, kind).Inc()
}

// RecordValidation records one validation run.
func (m *Metrics) RecordValidation(screenID string, valid bool) {
	result := "invalid"
	if valid {
		result = "valid"
	}
	m.ValidationRunsTotal.WithLabelValues(screenID, result).Inc()
}

// RecordSubmission records one submission attempt.
func (m *Metrics) RecordSubmission(screenID, status string, duration time.Duration) {
	m.SubmissionsTotal.WithLabelValues(screenID, status).Inc()
	m.SubmissionDuration.WithLabelValues(screenID).Observe(duration.Seconds())
}

// RecordBackendRequest records a backend service request.
func (m *Metrics) RecordBackendRequest(serviceID string, status int, duration time.Duration) {
	m.BackendRequestsTotal.WithLabelValues(serviceID, strconv.Itoa(status)).Inc()
	m.BackendRequestDuration.WithLabelValues(serviceID).Observe(duration.Seconds())
}

// SetBreakerState sets the circuit breaker state for a service.
// State: 0=closed, 1=half-open, 2=open.
func (m *Metrics) SetBreakerState(serviceID string, state int) {
	m.BackendCircuitBreakerState.WithLabelValues(serviceID).Set(float64(state))
}

// RecordBackendRetry records a backend request retry.
func (m *Metrics) RecordBackendRetry(serviceID string) {
	m.BackendRetriesTotal.WithLabelValues(serviceID).Inc()
}

// RecordCatalogCacheHit records a catalog cache hit.
func (m *Metrics) RecordCatalogCacheHit(endpointID string) {
	m.CatalogCacheHitsTotal.WithLabelValues(endpointID).Inc()
}

// RecordCatalogCacheMiss records a catalog cache miss.
func (m *Metrics) RecordCatalogCacheMiss(endpointID string) {
	m.CatalogCacheMissesTotal.WithLabelValues(endpointID).Inc()
}

// SetDefinitionsLoaded sets the number of loaded definition files.
func (m *Metrics) SetDefinitionsLoaded(count float64) {
	m.DefinitionsLoaded.Set(count)
}

// SetOpenAPIOperationsIndexed sets the number of indexed OpenAPI operations.
func (m *Metrics) SetOpenAPIOperationsIndexed(serviceID string, count float64) {
	m.OpenAPIOperationsIndexed.WithLabelValues(serviceID).Set(count)
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		m.RecordHTTPRequest(r.Method, routePattern(r), sw.status, time.Since(start))
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture the status code.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	return w.ResponseWriter.Write(b)
}
