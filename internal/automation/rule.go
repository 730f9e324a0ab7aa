// Package automation turns workflow patterns into automation rules and runs
// them against live events.
//
// Rules are keyed by a signature of their pattern type and trigger conditions,
// so re-synthesizing the same pattern updates the existing rule instead of
// creating a duplicate. Execution statistics are updated under a per-user lock.
package automation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/favouriweala/Task-Manager-App-sub000/internal/behavior"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/patterns"
)

// Common errors for rules.
var (
	// ErrRuleNotFound is returned when a rule does not exist.
	ErrRuleNotFound = errors.New("rule not found")

	// ErrRuleExecution marks a rule whose actions could not be executed.
	ErrRuleExecution = errors.New("rule execution failed")

	// ErrInvalidStatus is returned for unknown rule statuses.
	ErrInvalidStatus = errors.New("invalid rule status")
)

// RuleStatus is the user-controlled state of a rule.
type RuleStatus string

const (
	StatusActive   RuleStatus = "active"
	StatusInactive RuleStatus = "inactive"
)

// ParseStatus validates a status name.
func ParseStatus(s string) (RuleStatus, error) {
	switch st := RuleStatus(s); st {
	case StatusActive, StatusInactive:
		return st, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
}

// Rule is a persisted condition to action mapping synthesized from a pattern.
type Rule struct {
	ID                string            `json:"id"`
	UserID            string            `json:"user_id"`
	Name              string            `json:"name"`
	Signature         string            `json:"signature"`
	PatternID         string            `json:"pattern_id"`
	PatternType       patterns.Type     `json:"pattern_type"`
	TriggerConditions behavior.Metadata `json:"trigger_conditions"`
	Actions           behavior.Metadata `json:"actions"`
	Confidence        float64           `json:"confidence"`
	Status            RuleStatus        `json:"status"`
	TriggerCount      int               `json:"trigger_count"`
	SuccessRate       float64           `json:"success_rate"`
	LastTriggered     *time.Time        `json:"last_triggered,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// Signature returns the dedup key of a pattern.
func Signature(p *patterns.WorkflowPattern) string {
	return patterns.Signature(p.Type, p.Conditions)
}

// NextSuccessRate folds one outcome into an incremental average over n
// invocations, where n already counts this one.
func NextSuccessRate(rate float64, n int, success bool) float64 {
	if n <= 0 {
		return rate
	}
	s := 0.0
	if success {
		s = 1
	}
	return patterns.Clamp01((rate*float64(n-1) + s) / float64(n))
}

// RoutingConditions select the tasks a routing rule applies to. Empty fields
// match anything.
type RoutingConditions struct {
	Priority  string   `json:"priority,omitempty"`
	Keywords  []string `json:"keywords,omitempty"`
	ProjectID string   `json:"project_id,omitempty"`
}

// Routing is what a routing rule suggests for a matched task.
type Routing struct {
	Assignee       string   `json:"assignee"`
	Priority       string   `json:"priority,omitempty"`
	Labels         []string `json:"labels,omitempty"`
	EstimatedHours float64  `json:"estimated_hours,omitempty"`
}

// RoutingRule suggests an assignee for new tasks.
type RoutingRule struct {
	ID         string            `json:"id"`
	UserID     string            `json:"user_id"`
	Signature  string            `json:"signature"`
	Conditions RoutingConditions `json:"conditions"`
	Routing    Routing           `json:"routing"`
	Confidence float64           `json:"confidence"`
	Status     RuleStatus        `json:"status"`
	UsageCount int               `json:"usage_count"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// RoutingSignature is the dedup key of a routing rule.
func RoutingSignature(c RoutingConditions, assignee string) string {
	kw := make([]string, len(c.Keywords))
	for i, k := range c.Keywords {
		kw[i] = strings.ToLower(k)
	}
	sort.Strings(kw)
	raw := "routing|priority=" + strings.ToLower(c.Priority) +
		"|project=" + c.ProjectID +
		"|keywords=" + strings.Join(kw, ",") +
		"|assignee=" + assignee
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// RuleStore persists patterns, rules and routing rules. List methods return
// every status when status is empty.
type RuleStore interface {
	// SavePattern stores a pattern and supersedes older patterns of the same
	// user and signature.
	SavePattern(ctx context.Context, p *patterns.WorkflowPattern) error

	// ListPatterns returns a user's patterns, newest first.
	ListPatterns(ctx context.Context, userID string, status patterns.Status) ([]patterns.WorkflowPattern, error)

	// SavePatternAndRule stores a pattern together with its rule. When the user
	// already has a rule with the same signature only its confidence and
	// pattern reference are updated and created is false.
	SavePatternAndRule(ctx context.Context, p *patterns.WorkflowPattern, r *Rule) (stored *Rule, created bool, err error)

	// GetRule returns a rule by ID or an error wrapping ErrRuleNotFound.
	GetRule(ctx context.Context, ruleID string) (*Rule, error)

	// ListRules returns a user's rules.
	ListRules(ctx context.Context, userID string, status RuleStatus) ([]Rule, error)

	// UpdateRuleStats writes execution statistics.
	UpdateRuleStats(ctx context.Context, ruleID string, triggerCount int, successRate float64, lastTriggered time.Time) error

	// SetRuleStatus changes a rule's status and returns the updated rule.
	SetRuleStatus(ctx context.Context, ruleID string, status RuleStatus) (*Rule, error)

	// UpsertRoutingRule stores a routing rule keyed by user and signature. An
	// existing rule keeps its ID and usage count.
	UpsertRoutingRule(ctx context.Context, r *RoutingRule) (stored *RoutingRule, created bool, err error)

	// ListRoutingRules returns a user's routing rules.
	ListRoutingRules(ctx context.Context, userID string, status RuleStatus) ([]RoutingRule, error)

	// IncrementRoutingUsage bumps a routing rule's usage count.
	IncrementRoutingUsage(ctx context.Context, ruleID string) error
}
