// Package metrics declares the Prometheus instruments exported at
// /metrics: package-level promauto vars, one metric per observable
// component boundary.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wis2watch_messages_processed_total",
		Help: "Total MQTT messages accepted by a node client",
	}, []string{"node_id"})

	MessageErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wis2watch_message_errors_total",
		Help: "Total MQTT messages dropped for decode or resolution failures",
	}, []string{"node_id", "reason"})

	MessagesPerMinute = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wis2watch_messages_per_minute",
		Help: "Rolling one-minute message rate per node",
	}, []string{"node_id"})

	NodeState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wis2watch_node_state",
		Help: "Node client connection state (1=current state, 0=otherwise)",
	}, []string{"node_id", "state"})

	NodeHealthy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wis2watch_node_healthy",
		Help: "1 if a node client currently satisfies the health predicate",
	}, []string{"node_id"})

	ActiveNodes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wis2watch_active_nodes_total",
		Help: "Number of nodes with a running client in this process",
	})

	BatchFlushDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wis2watch_batch_flush_duration_seconds",
		Help:    "Time taken to process one flushed batch",
		Buckets: prometheus.DefBuckets,
	}, []string{"node_id"})

	BatchFlushErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wis2watch_batch_flush_errors_total",
		Help: "Total batch flush failures",
	}, []string{"node_id"})

	ObservationsInserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wis2watch_observations_inserted_total",
		Help: "Total observation rows actually inserted (excludes idempotent conflicts)",
	}, []string{"node_id"})

	LockAcquireTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wis2watch_lock_acquire_total",
		Help: "Total successful ownership lock acquisitions",
	}, []string{"node_id"})

	LockRefreshErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wis2watch_lock_refresh_errors_total",
		Help: "Total ownership lock refresh failures",
	}, []string{"node_id"})

	SyncRunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wis2watch_sync_run_duration_seconds",
		Help:    "Time taken for a catalogue synchroniser run",
		Buckets: prometheus.DefBuckets,
	}, []string{"node_id", "kind"})

	SyncRunErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wis2watch_sync_run_errors_total",
		Help: "Total catalogue synchroniser run failures",
	}, []string{"node_id", "kind"})
)
