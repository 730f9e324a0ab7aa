// Package oracle is the optional AI augmentation gateway.
//
// The oracle proposes extra workflow patterns from raw behavior events and
// assesses notification contexts. Callers treat every answer as best effort:
// errors and timeouts trigger local-only fallbacks and never abort a pipeline.
package oracle

import (
	"context"
	"errors"

	"github.com/favouriweala/Task-Manager-App-sub000/internal/behavior"
)

// Common errors returned by gateways.
var (
	// ErrTimeout is returned when the oracle did not answer within its deadline.
	ErrTimeout = errors.New("oracle timeout")

	// ErrUnavailable is returned when the oracle could not be reached.
	ErrUnavailable = errors.New("oracle unavailable")

	// ErrMalformed is returned when the oracle answered with an unparseable payload.
	ErrMalformed = errors.New("oracle response malformed")
)

// PatternCandidate is one pattern proposed by the oracle.
type PatternCandidate struct {
	Type                string            `json:"type"`
	Description         string            `json:"pattern"`
	Frequency           float64           `json:"frequency"`
	Confidence          float64           `json:"confidence"`
	AutomationPotential float64           `json:"automation_potential"`
	SuggestedRule       string            `json:"suggested_rule"`
	Conditions          behavior.Metadata `json:"conditions,omitempty"`
	Actions             behavior.Metadata `json:"actions,omitempty"`
}

// RuntimeSnapshot summarizes what the user is doing right now.
type RuntimeSnapshot struct {
	CurrentActivity     string   `json:"current_activity,omitempty"`
	InWorkingHours      bool     `json:"in_working_hours"`
	RecentNotifications int      `json:"recent_notifications"`
	Frequency           string   `json:"frequency"`
	PriorityThreshold   string   `json:"priority_threshold"`
	EnabledChannels     []string `json:"enabled_channels"`
}

// NotificationInput is the context handed to AnalyzeNotificationContext.
type NotificationInput struct {
	UserID   string            `json:"user_id"`
	Type     string            `json:"type"`
	Priority string            `json:"priority"`
	Title    string            `json:"title,omitempty"`
	Content  string            `json:"content"`
	Metadata behavior.Metadata `json:"metadata,omitempty"`
	Runtime  RuntimeSnapshot   `json:"runtime"`
}

// NotificationAssessment is the oracle's recommendation for one notification.
type NotificationAssessment struct {
	ShouldDeliver       bool     `json:"should_deliver"`
	RecommendedChannels []string `json:"recommended_channels,omitempty"`
	EnhancedContent     string   `json:"enhanced_content,omitempty"`
	Priority            string   `json:"priority,omitempty"`
	Reasoning           string   `json:"reasoning"`
	Confidence          float64  `json:"confidence"`
}

// Gateway is the oracle contract. Implementations must honor ctx deadlines.
type Gateway interface {
	// AnalyzeWorkflowPatterns proposes patterns for the given events.
	AnalyzeWorkflowPatterns(ctx context.Context, userID string, events []behavior.Event) ([]PatternCandidate, error)

	// AnalyzeNotificationContext recommends whether and how to deliver.
	AnalyzeNotificationContext(ctx context.Context, in NotificationInput) (*NotificationAssessment, error)
}

// NoopGateway stands in when no oracle is configured. It proposes nothing and
// returns ErrUnavailable for notification assessments. Callers check Enabled
// and skip their oracle stage rather than treat this as a failure.
type NoopGateway struct{}

// AnalyzeWorkflowPatterns returns no candidates.
func (NoopGateway) AnalyzeWorkflowPatterns(ctx context.Context, userID string, events []behavior.Event) ([]PatternCandidate, error) {
	return nil, nil
}

// AnalyzeNotificationContext returns ErrUnavailable.
func (NoopGateway) AnalyzeNotificationContext(ctx context.Context, in NotificationInput) (*NotificationAssessment, error) {
	return nil, ErrUnavailable
}

// Enabled reports whether g is a real oracle. Nil and NoopGateway are not.
func Enabled(g Gateway) bool {
	switch g.(type) {
	case nil, NoopGateway, *NoopGateway:
		return false
	}
	return true
}

// Classify maps a gateway error onto ErrTimeout, ErrUnavailable or ErrMalformed.
// Context deadline errors become ErrTimeout.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrUnavailable), errors.Is(err, ErrMalformed):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	default:
		return ErrUnavailable
	}
}
