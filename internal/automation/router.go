package automation

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// TaskInput describes a new task to route.
type TaskInput struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority,omitempty"`
	ProjectID   string `json:"project_id,omitempty"`
}

// RouteResult is a routing suggestion. Routed is false when no rule matched.
type RouteResult struct {
	Routed         bool     `json:"routed"`
	RuleID         string   `json:"rule_id,omitempty"`
	Assignee       string   `json:"assignee,omitempty"`
	Priority       string   `json:"priority,omitempty"`
	Labels         []string `json:"labels,omitempty"`
	EstimatedHours float64  `json:"estimated_hours,omitempty"`
	Confidence     float64  `json:"confidence,omitempty"`
	Reason         string   `json:"reason,omitempty"`
}

// Router picks the most confident matching routing rule for a task.
type Router struct {
	store  RuleStore
	logger *zap.Logger
}

// NewRouter creates a router.
func NewRouter(store RuleStore, logger *zap.Logger) (*Router, error) {
	if store == nil {
		return nil, fmt.Errorf("rule store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{store: store, logger: logger}, nil
}

// Route suggests an assignee for task. Ties on confidence go to the rule used
// most often.
func (r *Router) Route(ctx context.Context, userID string, task TaskInput) (RouteResult, error) {
	rules, err := r.store.ListRoutingRules(ctx, userID, StatusActive)
	if err != nil {
		return RouteResult{}, fmt.Errorf("listing routing rules: %w", err)
	}

	var best *RoutingRule
	for i := range rules {
		rule := &rules[i]
		if !rule.Matches(task) {
			continue
		}
		if best == nil ||
			rule.Confidence > best.Confidence ||
			(rule.Confidence == best.Confidence && rule.UsageCount > best.UsageCount) {
			best = rule
		}
	}

	if best == nil {
		TasksRouted.WithLabelValues("unrouted").Inc()
		return RouteResult{Routed: false, Reason: "no routing rule matched"}, nil
	}

	if err := r.store.IncrementRoutingUsage(ctx, best.ID); err != nil {
		r.logger.Warn("incrementing routing usage failed",
			zap.String("user_id", userID),
			zap.String("rule_id", best.ID),
			zap.Error(err))
	}
	TasksRouted.WithLabelValues("routed").Inc()

	priority := best.Routing.Priority
	if priority == "" {
		priority = task.Priority
	}
	return RouteResult{
		Routed:         true,
		RuleID:         best.ID,
		Assignee:       best.Routing.Assignee,
		Priority:       priority,
		Labels:         append([]string(nil), best.Routing.Labels...),
		EstimatedHours: best.Routing.EstimatedHours,
		Confidence:     best.Confidence,
	}, nil
}

// Matches reports whether every non-empty condition holds for task. Priority
// compares case-insensitively; every keyword must appear in the title or
// description.
func (rr *RoutingRule) Matches(task TaskInput) bool {
	c := rr.Conditions
	if c.Priority != "" && !strings.EqualFold(c.Priority, task.Priority) {
		return false
	}
	if c.ProjectID != "" && c.ProjectID != task.ProjectID {
		return false
	}
	if len(c.Keywords) > 0 {
		text := strings.ToLower(task.Title + " " + task.Description)
		for _, kw := range c.Keywords {
			if !strings.Contains(text, strings.ToLower(kw)) {
				return false
			}
		}
	}
	return true
}
