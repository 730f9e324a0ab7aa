package automation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RulesSynthesized counts synthesis outcomes.
	// Labels: result (created, existing, below_threshold, error)
	RulesSynthesized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "behaviord",
			Subsystem: "automation",
			Name:      "rules_synthesized_total",
			Help:      "Total number of patterns considered for rule synthesis by outcome",
		},
		[]string{"result"},
	)

	// RuleExecutions counts rule invocations.
	// Labels: result (success, failure)
	RuleExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "behaviord",
			Subsystem: "automation",
			Name:      "rule_executions_total",
			Help:      "Total number of automation rule executions",
		},
		[]string{"result"},
	)

	// RuleCacheLookups counts rule cache hits and misses.
	// Labels: result (hit, miss)
	RuleCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "behaviord",
			Subsystem: "automation",
			Name:      "rule_cache_lookups_total",
			Help:      "Total number of rule cache lookups",
		},
		[]string{"result"},
	)

	// TasksRouted counts routing decisions.
	// Labels: result (routed, unrouted)
	TasksRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "behaviord",
			Subsystem: "automation",
			Name:      "tasks_routed_total",
			Help:      "Total number of task routing decisions",
		},
		[]string{"result"},
	)
)

func recordExecution(success bool) {
	if success {
		RuleExecutions.WithLabelValues("success").Inc()
	} else {
		RuleExecutions.WithLabelValues("failure").Inc()
	}
}
