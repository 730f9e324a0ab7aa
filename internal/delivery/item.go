// Package delivery drains scheduled notifications and hands them to channels.
//
// Notifications accepted by the gate are stored as Items in a Queue. The
// Scheduler claims due items in batches under a lease, delivers them and
// records the outcome. Failed items are retried with exponential backoff until
// they run out of attempts.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"

	"github.com/favouriweala/Task-Manager-App-sub000/internal/notify"
)

// ErrItemNotFound is returned when a queue item does not exist.
var ErrItemNotFound = errors.New("queue item not found")

// Status of a queue item.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusDead    Status = "dead"
)

// Item is one scheduled notification.
type Item struct {
	ID           string           `json:"id"`
	UserID       string           `json:"user_id"`
	Notification notify.Processed `json:"notification"`
	ScheduledFor time.Time        `json:"scheduled_for"`
	Status       Status           `json:"status"`
	Attempts     int              `json:"attempts"`
	LastError    string           `json:"last_error,omitempty"`
	ClaimedUntil *time.Time       `json:"claimed_until,omitempty"`
	SentAt       *time.Time       `json:"sent_at,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

// Sent reports whether the item was delivered.
func (i *Item) Sent() bool { return i.Status == StatusSent }

// Queue stores scheduled notifications.
type Queue interface {
	// Enqueue stores a new pending item.
	Enqueue(ctx context.Context, item *Item) error

	// ClaimDue leases up to limit pending items with ScheduledFor <= now whose
	// previous lease has expired, oldest first. Claimed items are invisible to
	// other claimers until now+lease.
	ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]Item, error)

	// MarkSent records a successful delivery and releases the lease.
	MarkSent(ctx context.Context, id string, at time.Time) error

	// MarkFailed records a failed attempt, increments Attempts and releases the
	// lease. The item becomes due again at retryAt, or is marked dead.
	MarkFailed(ctx context.Context, id string, reason string, retryAt time.Time, dead bool) error

	// GetItem returns an item or an error wrapping ErrItemNotFound.
	GetItem(ctx context.Context, id string) (*Item, error)
}

// Sink adapts a Queue to notify.Sink.
type Sink struct {
	queue Queue
	clock clock.Clock
}

// NewSink creates a sink. c may be nil.
func NewSink(q Queue, c clock.Clock) *Sink {
	if c == nil {
		c = clock.New()
	}
	return &Sink{queue: q, clock: c}
}

// Enqueue stores p as a pending item due at p.ScheduledFor.
func (s *Sink) Enqueue(ctx context.Context, p *notify.Processed) error {
	if p == nil {
		return fmt.Errorf("notification cannot be nil")
	}
	now := s.clock.Now()
	due := p.ScheduledFor
	if due.IsZero() {
		due = now
	}
	item := &Item{
		ID:           uuid.New().String(),
		UserID:       p.Original.UserID,
		Notification: *p,
		ScheduledFor: due,
		Status:       StatusPending,
		CreatedAt:    now,
	}
	if err := s.queue.Enqueue(ctx, item); err != nil {
		return err
	}
	QueueEnqueued.Inc()
	return nil
}
