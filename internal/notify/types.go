// Package notify decides whether, when and how a notification is delivered.
//
// A notification context moves through a fixed sequence of states:
// Received, BasicFiltered, RuleEvaluated, AIEvaluated and finally Scheduled or
// Suppressed. Each stage may only suppress; nothing un-suppresses. When the
// outcome is uncertain the gate delivers immediately.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/favouriweala/Task-Manager-App-sub000/internal/behavior"
)

// Common errors for notifications.
var (
	// ErrNoPreferences is returned by a PreferenceStore for unknown users.
	ErrNoPreferences = errors.New("no preferences stored")

	// ErrInvalidPriority is returned for unknown priority names.
	ErrInvalidPriority = errors.New("invalid priority")

	// ErrInvalidClock is returned for malformed "HH:MM" values.
	ErrInvalidClock = errors.New("invalid time of day")
)

// Priority of a notification.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Rank orders priorities from 1 (low) to 4 (urgent). Unknown priorities rank 0.
func (p Priority) Rank() int {
	switch Priority(strings.ToLower(string(p))) {
	case PriorityLow:
		return 1
	case PriorityMedium:
		return 2
	case PriorityHigh:
		return 3
	case PriorityUrgent:
		return 4
	default:
		return 0
	}
}

// ParsePriority validates a priority name.
func ParsePriority(s string) (Priority, error) {
	p := Priority(strings.ToLower(s))
	if p.Rank() == 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidPriority, s)
	}
	return p, nil
}

// Category is the notification type, which maps to a preference filter.
type Category string

const (
	CategoryTaskAssigned  Category = "task_assigned"
	CategoryTaskDue       Category = "task_due"
	CategoryTaskOverdue   Category = "task_overdue"
	CategoryMention       Category = "mention"
	CategoryComment       Category = "comment"
	CategoryProjectUpdate Category = "project_update"
	CategorySystem        Category = "system"
)

// Categories lists every known category.
var Categories = []Category{
	CategoryTaskAssigned,
	CategoryTaskDue,
	CategoryTaskOverdue,
	CategoryMention,
	CategoryComment,
	CategoryProjectUpdate,
	CategorySystem,
}

// Frequency is the user's delivery cadence.
type Frequency string

const (
	FrequencyImmediate Frequency = "immediate"
	FrequencyHourly    Frequency = "hourly"
	FrequencyDaily     Frequency = "daily"
	FrequencyWeekly    Frequency = "weekly"
)

// Delivery channels.
const (
	ChannelInApp = "in_app"
	ChannelEmail = "email"
	ChannelPush  = "push"
)

// Context is one notification to decide on. It is built per event and never
// stored.
type Context struct {
	UserID    string            `json:"user_id"`
	Type      Category          `json:"type"`
	Priority  Priority          `json:"priority"`
	Title     string            `json:"title,omitempty"`
	Content   string            `json:"content"`
	Metadata  behavior.Metadata `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// QuietHours is a daily "HH:MM" window in Timezone. An empty Start or End
// disables it.
type QuietHours struct {
	Start    string `json:"start"`
	End      string `json:"end"`
	Timezone string `json:"timezone,omitempty"`
}

// WorkingHours is a daily "HH:MM" window.
type WorkingHours struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Preferences holds one user's notification settings.
type Preferences struct {
	UserID            string            `json:"user_id"`
	EnabledChannels   []string          `json:"enabled_channels"`
	QuietHours        QuietHours        `json:"quiet_hours"`
	PriorityThreshold Priority          `json:"priority_threshold"`
	CategoryFilters   map[Category]bool `json:"category_filters"`
	Frequency         Frequency         `json:"frequency"`
	WorkingDays       []time.Weekday    `json:"working_days"`
	WorkingHours      WorkingHours      `json:"working_hours"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// DefaultPreferences are used for users without stored preferences.
func DefaultPreferences(userID string) *Preferences {
	filters := make(map[Category]bool, len(Categories))
	for _, c := range Categories {
		filters[c] = true
	}
	return &Preferences{
		UserID:            userID,
		EnabledChannels:   []string{ChannelInApp},
		PriorityThreshold: PriorityLow,
		CategoryFilters:   filters,
		Frequency:         FrequencyImmediate,
		WorkingDays:       []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		WorkingHours:      WorkingHours{Start: "09:00", End: "17:00"},
	}
}

// Validate checks clock values, the timezone and the threshold.
func (p *Preferences) Validate() error {
	if p.UserID == "" {
		return errors.New("user ID cannot be empty")
	}
	if p.PriorityThreshold != "" {
		if _, err := ParsePriority(string(p.PriorityThreshold)); err != nil {
			return err
		}
	}
	for _, v := range []string{p.QuietHours.Start, p.QuietHours.End, p.WorkingHours.Start, p.WorkingHours.End} {
		if v == "" {
			continue
		}
		if _, err := ParseClock(v); err != nil {
			return err
		}
	}
	if p.QuietHours.Timezone != "" {
		if _, err := time.LoadLocation(p.QuietHours.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", p.QuietHours.Timezone, err)
		}
	}
	switch p.Frequency {
	case "", FrequencyImmediate, FrequencyHourly, FrequencyDaily, FrequencyWeekly:
	default:
		return fmt.Errorf("invalid frequency %q", p.Frequency)
	}
	return nil
}

// Location returns the user's timezone, falling back to UTC.
func (p *Preferences) Location() *time.Location {
	return loadLocation(p.QuietHours.Timezone)
}

// CategoryEnabled reports whether notifications of category c are wanted.
// Categories missing from the filter map are enabled.
func (p *Preferences) CategoryEnabled(c Category) bool {
	enabled, ok := p.CategoryFilters[c]
	return !ok || enabled
}

// RuleConditions select notifications. Empty sets match anything.
type RuleConditions struct {
	ProjectIDs []string   `json:"project_ids,omitempty"`
	TaskTypes  []string   `json:"task_types,omitempty"`
	Priorities []Priority `json:"priorities,omitempty"`
	Keywords   []string   `json:"keywords,omitempty"`
}

// RuleActions are applied when a rule matches.
type RuleActions struct {
	Channels []string `json:"channels,omitempty"`
	Suppress bool     `json:"suppress,omitempty"`
	Priority Priority `json:"priority,omitempty"`
}

// Rule is a user-defined notification rule.
type Rule struct {
	ID         string         `json:"id"`
	UserID     string         `json:"user_id"`
	Name       string         `json:"name"`
	Conditions RuleConditions `json:"conditions"`
	Actions    RuleActions    `json:"actions"`
	Active     bool           `json:"active"`
}

// State is a stage of the gate.
type State string

const (
	StateReceived      State = "received"
	StateBasicFiltered State = "basic_filtered"
	StateRuleEvaluated State = "rule_evaluated"
	StateAIEvaluated   State = "ai_evaluated"
	StateScheduled     State = "scheduled"
	StateSuppressed    State = "suppressed"
)

// Processed is the gate's decision for one notification.
type Processed struct {
	ID           string    `json:"id"`
	Original     Context   `json:"original"`
	ShouldSend   bool      `json:"should_send"`
	Channels     []string  `json:"channels"`
	Content      string    `json:"content"`
	Priority     Priority  `json:"priority"`
	ScheduledFor time.Time `json:"scheduled_for"`
	Reasoning    string    `json:"reasoning"`
	AIEnhanced   bool      `json:"ai_enhanced"`
	State        State     `json:"state"`
}

// PreferenceStore persists preferences and notification rules.
type PreferenceStore interface {
	// GetPreferences returns stored preferences or an error wrapping ErrNoPreferences.
	GetPreferences(ctx context.Context, userID string) (*Preferences, error)

	// SavePreferences upserts a user's preferences.
	SavePreferences(ctx context.Context, prefs *Preferences) error

	// ListNotificationRules returns a user's rules, active or not.
	ListNotificationRules(ctx context.Context, userID string) ([]Rule, error)

	// SaveNotificationRule upserts a rule by ID.
	SaveNotificationRule(ctx context.Context, rule *Rule) error
}

// Sink receives notifications that should be sent.
type Sink interface {
	Enqueue(ctx context.Context, p *Processed) error
}
