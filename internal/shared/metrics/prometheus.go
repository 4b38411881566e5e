package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Business metrics
	documentsIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "documents_issued_total",
			Help: "Total number of hashed documents issued",
		},
		[]string{"type"},
	)

	verifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "document_verifications_total",
			Help: "Total number of document verifications",
		},
		[]string{"type", "result"},
	)

	lifecycleOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certificate_operations_total",
			Help: "Total number of certificate lifecycle operations",
		},
		[]string{"operation", "outcome"},
	)

	certificatesLocked = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "certificates_locked_total",
			Help: "Total number of certificates locked by customer acceptance",
		},
	)

	sealsIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "certificate_seals_total",
			Help: "Total number of timestamp seals issued",
		},
	)

	mailDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mail_dispatched_total",
			Help: "Total number of document emails handed to the mail sender",
		},
		[]string{"provider", "status"},
	)

	// Store metrics
	storeOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_operation_duration_seconds",
			Help:    "Flow store operation duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"backend", "operation"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware creates HTTP metrics middleware
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// normalizePath replaces id segments so certificate and device paths
// share a label.
func normalizePath(path string) string {
	if len(path) > 200 {
		return "/api/..."
	}
	segments := strings.Split(path, "/")
	for i, s := range segments {
		if _, err := uuid.Parse(s); err == nil {
			segments[i] = ":id"
		}
	}
	return strings.Join(segments, "/")
}

// --- Business metric helpers ---

// RecordDocumentIssued records a newly hashed document
func RecordDocumentIssued(docType string) {
	documentsIssued.WithLabelValues(docType).Inc()
}

// RecordVerification records a verification outcome
func RecordVerification(docType string, verified bool) {
	result := "invalid"
	if verified {
		result = "verified"
	}
	verifications.WithLabelValues(docType, result).Inc()
}

// RecordLifecycleOperation records a certificate operation. outcome is
// "ok" or the violation kind.
func RecordLifecycleOperation(operation, outcome string) {
	lifecycleOperations.WithLabelValues(operation, outcome).Inc()
}

// RecordCertificateLocked records a customer acceptance
func RecordCertificateLocked() {
	certificatesLocked.Inc()
}

// RecordSeal records an issued timestamp seal
func RecordSeal() {
	sealsIssued.Inc()
}

// RecordMail records a mail dispatch attempt
func RecordMail(provider string, ok bool) {
	status := "failed"
	if ok {
		status = "sent"
	}
	mailDispatched.WithLabelValues(provider, status).Inc()
}

// RecordStoreOperation records a flow store operation duration
func RecordStoreOperation(backend, operation string, duration time.Duration) {
	storeOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}
