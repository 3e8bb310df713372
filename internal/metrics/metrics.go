// Package metrics provides Prometheus metrics for the Thermatix server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thermatix_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "thermatix_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Bridge metrics
	bridgeOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thermatix_bridge_operations_total",
			Help: "Total bridge operations invoked by the embedded engine",
		},
		[]string{"operation", "outcome"},
	)

	modalsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "thermatix_modals_open",
			Help: "Number of modals currently awaiting user input",
		},
	)

	pendingIntentsResumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thermatix_pending_intents_resumed_total",
			Help: "Pending intents consumed after an authentication round-trip",
		},
		[]string{"kind"},
	)

	// Storage metrics
	s3OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "thermatix_s3_operation_duration_seconds",
			Help:    "S3 operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	s3OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thermatix_s3_operations_total",
			Help: "Total S3 operations",
		},
		[]string{"operation", "status"},
	)

	deleteBatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thermatix_delete_batches_total",
			Help: "Batched delete calls issued during recursive folder deletion",
		},
		[]string{"status"},
	)

	contentBytesUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "thermatix_content_bytes_uploaded_total",
			Help: "Total bytes uploaded to the blob store",
		},
	)

	// Row store metrics
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "thermatix_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	// Auth metrics
	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thermatix_auth_attempts_total",
			Help: "Total authentication attempts",
		},
		[]string{"result"},
	)

	authRedirectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "thermatix_auth_redirects_total",
			Help: "Bridge operations deferred to the sign-in flow",
		},
	)

	// SSE metrics
	sseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "thermatix_sse_connections_active",
			Help: "Number of active SSE notification subscribers",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordBridgeOperation records one bridge call with its outcome
// ("ok", "cancelled", "redirect", "error").
func RecordBridgeOperation(operation, outcome string) {
	bridgeOperationsTotal.WithLabelValues(operation, outcome).Inc()
}

// SetModalsOpen sets the number of currently open modals.
func SetModalsOpen(count int) {
	modalsOpen.Set(float64(count))
}

// RecordIntentResumed records a pending intent consumed on resume.
func RecordIntentResumed(kind string) {
	pendingIntentsResumed.WithLabelValues(kind).Inc()
}

// RecordS3Operation records an S3 operation.
func RecordS3Operation(operation string, duration time.Duration, success bool) {
	s3OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	status := "success"
	if !success {
		status = "error"
	}
	s3OperationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordDeleteBatch records one batched delete call.
func RecordDeleteBatch(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	deleteBatchesTotal.WithLabelValues(status).Inc()
}

// RecordContentUpload records bytes uploaded to the blob store.
func RecordContentUpload(bytes int64) {
	contentBytesUploaded.Add(float64(bytes))
}

// RecordDBQuery records a database query duration.
func RecordDBQuery(query string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(query).Observe(duration.Seconds())
}

// RecordAuthAttempt records an authentication attempt.
func RecordAuthAttempt(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	authAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordAuthRedirect records a bridge call deferred to sign-in.
func RecordAuthRedirect() {
	authRedirectsTotal.Inc()
}

// SetSSEConnectionsActive sets the number of active SSE subscribers.
func SetSSEConnectionsActive(count int64) {
	sseConnectionsActive.Set(float64(count))
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher so SSE streams work through the middleware.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}
