package http

import (
	"time"

	"github.com/favouriweala/Task-Manager-App-sub000/internal/automation"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/behavior"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/notify"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/telemetry"
)

// EventRequest is the request body for POST /api/v1/events.
type EventRequest struct {
	ID         string             `json:"id,omitempty"`
	UserID     string             `json:"user_id"`
	Type       behavior.EventType `json:"event_type"`
	EntityID   string             `json:"entity_id,omitempty"`
	EntityType string             `json:"entity_type,omitempty"`
	Metadata   behavior.Metadata  `json:"metadata,omitempty"`
	Timestamp  time.Time          `json:"timestamp,omitempty"`
	SessionID  string             `json:"session_id,omitempty"`
}

// NotificationRequest is the request body for POST /api/v1/notifications.
type NotificationRequest struct {
	UserID   string            `json:"user_id"`
	Type     notify.Category   `json:"type"`
	Priority notify.Priority   `json:"priority,omitempty"`
	Title    string            `json:"title,omitempty"`
	Content  string            `json:"content"`
	Metadata behavior.Metadata `json:"metadata,omitempty"`
}

// RuleStatusRequest is the request body for PATCH /api/v1/rules/:id.
type RuleStatusRequest struct {
	Status automation.RuleStatus `json:"status"`
}

// RoutingHistoryRequest is the request body for
// POST /api/v1/users/:id/routing-history.
type RoutingHistoryRequest struct {
	Tasks []automation.TaskRecord `json:"tasks"`
}

// RulesResponse is the response body for GET /api/v1/users/:id/rules.
type RulesResponse struct {
	Rules          []automation.Rule `json:"rules"`
	PruneCandidate []string          `json:"prune_candidates,omitempty"`
}

// RoutingRulesResponse is the response body for
// POST /api/v1/users/:id/routing-history.
type RoutingRulesResponse struct {
	Rules []automation.RoutingRule `json:"rules"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status    string                  `json:"status"`
	Scheduler bool                    `json:"scheduler_running"`
	Telemetry *telemetry.HealthStatus `json:"telemetry,omitempty"`
}
