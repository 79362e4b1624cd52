package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Intake metrics
	notificationsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geyserpg_notifications_received_total",
			Help: "Total number of host notifications received",
		},
		[]string{"kind"},
	)

	notificationsFiltered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geyserpg_notifications_filtered_total",
			Help: "Total number of notifications dropped by the configured selectors",
		},
		[]string{"kind"},
	)

	backpressureTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geyserpg_backpressure_timeouts_total",
			Help: "Total number of batch dispatches that timed out waiting for queue space",
		},
	)

	// Batch metrics
	batchesDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geyserpg_batches_dispatched_total",
			Help: "Total number of batches handed to the worker pool",
		},
		[]string{"kind"},
	)

	batchesCommitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geyserpg_batches_committed_total",
			Help: "Total number of batches successfully written to the store",
		},
		[]string{"kind"},
	)

	batchesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geyserpg_batches_dropped_total",
			Help: "Total number of batches dropped under the log-and-continue failure policy",
		},
		[]string{"kind"},
	)

	rowsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geyserpg_rows_written_total",
			Help: "Total number of rows written to the store",
		},
		[]string{"kind"},
	)

	batchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "geyserpg_batch_size_records",
			Help:    "Number of records per dispatched batch",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"kind"},
	)

	writeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "geyserpg_write_duration_seconds",
			Help:    "Duration of bulk batch writes",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// Pipeline state
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "geyserpg_queue_depth_batches",
			Help: "Number of batches currently waiting in the work queue",
		},
	)

	SlotWatermark = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "geyserpg_slot_watermark",
			Help: "Highest slot known fully committed across all entity kinds",
		},
	)

	storeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geyserpg_store_errors_total",
			Help: "Total number of store errors by error type",
		},
		[]string{"error_type"},
	)
)

func NotificationReceivedInc(kind string) {
	notificationsReceived.WithLabelValues(kind).Inc()
}

func NotificationFilteredInc(kind string) {
	notificationsFiltered.WithLabelValues(kind).Inc()
}

func BackpressureTimeoutInc() {
	backpressureTimeouts.Inc()
}

func BatchDispatched(kind string, size int) {
	batchesDispatched.WithLabelValues(kind).Inc()
	batchSize.WithLabelValues(kind).Observe(float64(size))
}

func BatchCommitted(kind string, rows int) {
	batchesCommitted.WithLabelValues(kind).Inc()
	rowsWritten.WithLabelValues(kind).Add(float64(rows))
}

func BatchDroppedInc(kind string) {
	batchesDropped.WithLabelValues(kind).Inc()
}

func WriteDurationLog(kind string, duration time.Duration) {
	writeDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func StoreErrorInc(errorType string) {
	storeErrors.WithLabelValues(errorType).Inc()
}
