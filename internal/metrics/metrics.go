// Package metrics provides Prometheus metrics for the coursekit client.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Store mutation metrics
	mutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coursekit_store_mutations_total",
			Help: "Total store mutations by operation",
		},
		[]string{"op"},
	)

	treeSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coursekit_tree_size",
			Help: "Number of nodes in the material tree",
		},
	)

	treeRebuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coursekit_tree_rebuild_duration_seconds",
			Help:    "Time to rebuild the nested tree view from the node map",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Notifier metrics
	notifyFlushesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coursekit_notify_flushes_total",
			Help: "Total throttled notification flushes delivered",
		},
	)

	subscribersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coursekit_subscribers_active",
			Help: "Number of active store subscribers",
		},
	)

	// Snapshot persistence metrics
	snapshotSavesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coursekit_snapshot_saves_total",
			Help: "Total snapshot save attempts by tier and result",
		},
		[]string{"tier", "result"},
	)

	snapshotBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coursekit_snapshot_bytes",
			Help: "Size of the last persisted snapshot in bytes",
		},
	)

	snapshotQuotaRecoveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coursekit_snapshot_quota_recoveries_total",
			Help: "Total quota-exceeded recoveries (inactive course purges)",
		},
	)

	// Ingestion metrics
	eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coursekit_events_total",
			Help: "Total ingested events by type",
		},
		[]string{"type"},
	)

	eventsMalformedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coursekit_events_malformed_total",
			Help: "Total events dropped as malformed",
		},
	)

	eventsUnresolvedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coursekit_events_unresolved_total",
			Help: "Total events whose target resolved to neither path nor material id",
		},
	)

	// Loader metrics
	reconcilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coursekit_reconciles_total",
			Help: "Total materials-list reconciliation passes by result",
		},
		[]string{"result"},
	)

	// SSE metrics
	sseReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coursekit_sse_reconnects_total",
			Help: "Total SSE reconnect attempts",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordMutation records a store mutation.
func RecordMutation(op string) {
	mutationsTotal.WithLabelValues(op).Inc()
}

// SetTreeSize sets the current node count.
func SetTreeSize(size int) {
	treeSize.Set(float64(size))
}

// RecordTreeRebuild records a tree rebuild duration.
func RecordTreeRebuild(duration time.Duration) {
	treeRebuildDuration.Observe(duration.Seconds())
}

// RecordNotifyFlush records a delivered notification flush.
func RecordNotifyFlush() {
	notifyFlushesTotal.Inc()
}

// SetSubscribersActive sets the active subscriber count.
func SetSubscribersActive(count int) {
	subscribersActive.Set(float64(count))
}

// RecordSnapshotSave records a snapshot save attempt.
func RecordSnapshotSave(tier string, bytes int, success bool) {
	result := "success"
	if !success {
		result = "error"
	}
	snapshotSavesTotal.WithLabelValues(tier, result).Inc()
	if success {
		snapshotBytes.Set(float64(bytes))
	}
}

// RecordSnapshotQuotaRecovery records an inactive-course purge.
func RecordSnapshotQuotaRecovery() {
	snapshotQuotaRecoveries.Inc()
}

// RecordEvent records an ingested event.
func RecordEvent(eventType string) {
	eventsTotal.WithLabelValues(eventType).Inc()
}

// RecordMalformedEvent records a dropped malformed event.
func RecordMalformedEvent() {
	eventsMalformedTotal.Inc()
}

// RecordUnresolvedEvent records an event whose target could not be resolved.
func RecordUnresolvedEvent() {
	eventsUnresolvedTotal.Inc()
}

// RecordReconcile records a reconciliation pass result.
func RecordReconcile(result string) {
	reconcilesTotal.WithLabelValues(result).Inc()
}

// RecordSSEReconnect records an SSE reconnect attempt.
func RecordSSEReconnect() {
	sseReconnectsTotal.Inc()
}
