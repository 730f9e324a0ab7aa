// Package behavior defines user behavior events and their ingestion.
//
// Events are append-only records of a single user action. The Tracker appends
// events to an EventStore and schedules pattern analysis once a user has
// produced enough recent activity.
package behavior

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Common errors for behavior events.
var (
	ErrEmptyUserID    = errors.New("user ID cannot be empty")
	ErrEmptyEventType = errors.New("event type cannot be empty")
)

// EventType names the kind of user action.
type EventType string

const (
	EventTaskCreated         EventType = "task_created"
	EventTaskUpdated         EventType = "task_updated"
	EventTaskCompleted       EventType = "task_completed"
	EventTaskAssigned        EventType = "task_assigned"
	EventTaskViewed          EventType = "task_viewed"
	EventProjectCreated      EventType = "project_created"
	EventProjectViewed       EventType = "project_viewed"
	EventCommentAdded        EventType = "comment_added"
	EventSearchPerformed     EventType = "search_performed"
	EventFilterApplied       EventType = "filter_applied"
	EventNotificationClicked EventType = "notification_clicked"
	EventLogin               EventType = "login"
	EventLogout              EventType = "logout"
)

// Event is one recorded user action. Events are immutable once stored.
type Event struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Type       EventType `json:"event_type"`
	EntityID   string    `json:"entity_id,omitempty"`
	EntityType string    `json:"entity_type,omitempty"`
	Metadata   Metadata  `json:"metadata,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	SessionID  string    `json:"session_id,omitempty"`
}

// NewEvent creates an event with a generated ID.
func NewEvent(userID string, eventType EventType, metadata Metadata, at time.Time) (*Event, error) {
	e := &Event{
		ID:        uuid.New().String(),
		UserID:    userID,
		Type:      eventType,
		Metadata:  metadata.Clone(),
		Timestamp: at,
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// Validate checks required fields.
func (e *Event) Validate() error {
	if e.UserID == "" {
		return ErrEmptyUserID
	}
	if e.Type == "" {
		return ErrEmptyEventType
	}
	return nil
}

// EventStore is the append-only event log consumed by the tracker and the
// pattern analysis pipeline.
type EventStore interface {
	// AppendEvent stores a new event.
	AppendEvent(ctx context.Context, event *Event) error

	// EventsBetween returns the user's events with from <= timestamp < to,
	// ordered by timestamp ascending.
	EventsBetween(ctx context.Context, userID string, from, to time.Time) ([]Event, error)

	// CountEventsSince returns the number of user events at or after since.
	CountEventsSince(ctx context.Context, userID string, since time.Time) (int, error)
}
