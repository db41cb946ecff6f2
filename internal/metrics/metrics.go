// Package metrics exposes the coordinator's Prometheus gauges and
// counters: queue depth, worker counts, claim latency, and EventBus drops.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueueDepth is the number of FileRecords per status.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "avfarm",
		Name:      "queue_depth",
		Help:      "Number of files currently in each status.",
	}, []string{"status"})

	// WorkersByStatus is the number of registered workers per status.
	WorkersByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "avfarm",
		Name:      "workers",
		Help:      "Number of registered workers per status.",
	}, []string{"status"})

	// ClaimLatency measures time spent inside Scheduler.NextFor.
	ClaimLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "avfarm",
		Name:      "claim_latency_seconds",
		Help:      "Latency of Scheduler.NextFor, including any retried claims.",
		Buckets:   prometheus.DefBuckets,
	})

	// EventBusDrops counts subscribers disconnected for falling behind.
	EventBusDrops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "avfarm",
		Name:      "eventbus_drops_total",
		Help:      "Total subscribers dropped from the EventBus for exceeding their backlog.",
	})

	// TranscodeDuration measures wall-clock time per completed transcode.
	TranscodeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "avfarm",
		Name:      "transcode_duration_seconds",
		Help:      "Wall-clock duration of completed transcodes.",
		Buckets:   prometheus.ExponentialBuckets(10, 2, 12),
	})

	// SavingsBytesTotal accumulates bytes reclaimed by completed transcodes.
	SavingsBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "avfarm",
		Name:      "savings_bytes_total",
		Help:      "Total bytes reclaimed across all completed transcodes.",
	})
)
