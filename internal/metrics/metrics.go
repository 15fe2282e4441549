// Package metrics exposes Prometheus instruments for the storage engine.
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
			Name: "storage_engine_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storage_engine_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	operationItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_engine_operation_items_total",
			Help: "Batch items by operation kind and terminal status",
		},
		[]string{"kind", "status"},
	)

	operationErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_engine_operation_errors_total",
			Help: "Failed batch items by error kind",
		},
		[]string{"kind"},
	)

	batchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storage_engine_batch_duration_seconds",
			Help:    "Batch wall-clock duration",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 60, 300, 1800},
		},
		[]string{"kind"},
	)

	bytesTransferred = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_engine_bytes_transferred_total",
			Help: "Bytes streamed by the transfer engine",
		},
		[]string{"source", "destination"},
	)

	transferDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "storage_engine_transfer_duration_seconds",
			Help:    "Single-file transfer duration",
			Buckets: []float64{.005, .01, .05, .1, .5, 1, 5, 30, 120, 600},
		},
	)

	poolInUse = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "storage_engine_pool_sessions_in_use",
			Help: "Leased sessions per resource",
		},
		[]string{"resource"},
	)

	poolEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_engine_pool_evictions_total",
			Help: "Sessions evicted after a failed keepalive or I/O",
		},
		[]string{"resource"},
	)

	poolThrottled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_engine_pool_throttled_total",
			Help: "Acquisitions rejected by the token bucket",
		},
		[]string{"resource"},
	)

	cacheBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "storage_engine_cache_bytes",
			Help: "Bytes held in the staging cache",
		},
	)

	cacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "storage_engine_cache_evictions_total",
			Help: "Staging entries evicted under LRU pressure",
		},
	)

	cacheDownloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_engine_cache_downloads_total",
			Help: "Staging downloads by outcome",
		},
		[]string{"status"},
	)

	trashRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_engine_trash_events_total",
			Help: "Trash ledger events",
		},
		[]string{"event"},
	)
)

func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordHTTPRequest(method string, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func RecordItem(kind string, status string, errorKind string) {
	operationItemsTotal.WithLabelValues(kind, status).Inc()
	if errorKind != "" {
		operationErrorsTotal.WithLabelValues(errorKind).Inc()
	}
}

func RecordBatch(kind string, duration time.Duration) {
	batchDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func RecordTransfer(source string, destination string, bytes int64, duration time.Duration) {
	bytesTransferred.WithLabelValues(source, destination).Add(float64(bytes))
	transferDuration.Observe(duration.Seconds())
}

func SetPoolInUse(resource string, n int) {
	poolInUse.WithLabelValues(resource).Set(float64(n))
}

func RecordPoolEviction(resource string) {
	poolEvictions.WithLabelValues(resource).Inc()
}

func RecordPoolThrottled(resource string) {
	poolThrottled.WithLabelValues(resource).Inc()
}

func SetCacheBytes(n int64) {
	cacheBytes.Set(float64(n))
}

func RecordCacheEviction() {
	cacheEvictions.Inc()
}

func RecordCacheDownload(success bool) {
	if success {
		cacheDownloads.WithLabelValues("success").Inc()
		return
	}
	cacheDownloads.WithLabelValues("failure").Inc()
}

func RecordTrashEvent(event string) {
	trashRecords.WithLabelValues(event).Inc()
}
