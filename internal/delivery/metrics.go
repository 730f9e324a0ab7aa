package delivery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueueEnqueued counts items added to the queue.
	QueueEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "behaviord",
			Subsystem: "delivery",
			Name:      "enqueued_total",
			Help:      "Total number of notifications enqueued for delivery",
		},
	)

	// Deliveries counts delivery attempts.
	// Labels: result (sent, retry, dead, mark_error)
	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "behaviord",
			Subsystem: "delivery",
			Name:      "attempts_total",
			Help:      "Total number of delivery attempts by outcome",
		},
		[]string{"result"},
	)

	// BatchDuration tracks how long one scheduler tick takes.
	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "behaviord",
			Subsystem: "delivery",
			Name:      "batch_duration_seconds",
			Help:      "Duration of scheduler batches in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// BatchSize tracks how many items each tick claimed.
	BatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "behaviord",
			Subsystem: "delivery",
			Name:      "batch_size",
			Help:      "Number of items claimed per scheduler batch",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250},
		},
	)
)
