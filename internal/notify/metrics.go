package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GateDecisions counts final gate outcomes.
	// Labels: state (scheduled, suppressed), stage (basic_filter, rules, ai, none)
	GateDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "behaviord",
			Subsystem: "notify",
			Name:      "gate_decisions_total",
			Help:      "Total number of notification gate decisions",
		},
		[]string{"state", "stage"},
	)

	// OracleFallbacks counts notifications delivered immediately because the
	// oracle failed.
	OracleFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "behaviord",
			Subsystem: "notify",
			Name:      "oracle_fallbacks_total",
			Help:      "Total number of notifications that fell back to immediate delivery after an oracle failure",
		},
	)

	// GateDuration tracks how long Process takes.
	GateDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "behaviord",
			Subsystem: "notify",
			Name:      "gate_duration_seconds",
			Help:      "Duration of notification gate processing in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)
)
