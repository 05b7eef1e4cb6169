package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransfersStarted tracks transfers started, by role.
	TransfersStarted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transfers",
			Name:      "started_total",
			Help:      "Total number of transfers started",
		},
		[]string{"role"}, // sender, receiver
	)

	// TransfersActive tracks currently in-flight transfers.
	TransfersActive = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transfers",
			Name:      "active",
			Help:      "Number of transfers currently in flight",
		},
	)

	// TransfersCompleted tracks transfers that reached a terminal state.
	TransfersCompleted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transfers",
			Name:      "completed_total",
			Help:      "Total number of transfers that reached a terminal state",
		},
		[]string{"role", "status"}, // status: success, signature_failed, hash_mismatch, interrupted, error
	)

	// TransferDuration tracks end-to-end transfer duration.
	TransferDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "transfers",
			Name:      "duration_seconds",
			Help:      "Transfer duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16), // 10ms to ~327s
		},
		[]string{"role"},
	)

	// BytesTransferred tracks cumulative plaintext bytes moved.
	BytesTransferred = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transfers",
			Name:      "bytes_total",
			Help:      "Total plaintext bytes transferred",
		},
		[]string{"role"},
	)

	// ChunkSize tracks the size distribution of wire chunks.
	ChunkSize = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "transfers",
			Name:      "chunk_size_bytes",
			Help:      "Size of encrypted chunks placed on the wire",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 12), // 64B to ~256MB
		},
		[]string{"direction"}, // outbound, inbound
	)
)
