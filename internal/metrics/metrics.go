// Package metrics provides Prometheus metrics for the filedock server.
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
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filedock_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filedock_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	contentBytesDownloaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filedock_content_bytes_downloaded_total",
			Help: "Total bytes served from the download endpoint",
		},
	)

	contentBytesUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filedock_content_bytes_uploaded_total",
			Help: "Total bytes accepted by the upload endpoint",
		},
	)

	contentDownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filedock_content_downloads_total",
			Help: "Total number of content downloads",
		},
		[]string{"status"},
	)

	uploadFilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filedock_upload_files_total",
			Help: "Total files processed by the upload endpoint",
		},
		[]string{"status"},
	)

	searchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filedock_search_duration_seconds",
			Help:    "Search traversal duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"scope"},
	)

	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filedock_auth_attempts_total",
			Help: "Total authentication attempts",
		},
		[]string{"result"},
	)

	sseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "filedock_sse_connections_active",
			Help: "Number of active change-feed subscribers",
		},
	)

	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filedock_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)
)

// RecordContentDownload records a completed (or failed) byte transfer.
func RecordContentDownload(bytes int64, ok bool) {
	if bytes > 0 {
		contentBytesDownloaded.Add(float64(bytes))
	}
	contentDownloadsTotal.WithLabelValues(boolStatus(ok)).Inc()
}

// RecordUploadFile records a single file result within an upload batch.
func RecordUploadFile(bytes int64, ok bool) {
	if bytes > 0 {
		contentBytesUploaded.Add(float64(bytes))
	}
	uploadFilesTotal.WithLabelValues(boolStatus(ok)).Inc()
}

// RecordSearch records a search traversal duration.
// Scope is "tenant" or "all".
func RecordSearch(scope string, d time.Duration) {
	searchDuration.WithLabelValues(scope).Observe(d.Seconds())
}

// RecordAuthAttempt records a login or token validation outcome.
func RecordAuthAttempt(ok bool) {
	authAttemptsTotal.WithLabelValues(boolStatus(ok)).Inc()
}

// SetSSEConnectionsActive sets the active subscriber gauge.
func SetSSEConnectionsActive(n int64) {
	sseConnectionsActive.Set(float64(n))
}

// RecordDBQuery records a database query duration.
func RecordDBQuery(query string, d time.Duration) {
	dbQueryDuration.WithLabelValues(query).Observe(d.Seconds())
}

func boolStatus(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// statusRecorder captures the response status for the request counter.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware records request counts and durations.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sr, r)
		httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(sr.status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}
