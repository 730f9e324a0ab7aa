package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/favouriweala/Task-Manager-App-sub000/internal/notify"
)

// Channel hands an item to an outbound transport.
type Channel interface {
	Deliver(ctx context.Context, item *Item) error
}

// SubjectPrefix is the root of every notification subject.
const SubjectPrefix = "notifications"

// Subject returns the NATS subject for one channel and user.
func Subject(channel, userID string) string {
	return SubjectPrefix + "." + sanitizeToken(channel) + "." + sanitizeToken(userID)
}

// sanitizeToken replaces characters that would split or wildcard a subject.
func sanitizeToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}

// Message is the payload published for every delivery.
type Message struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	Channel      string          `json:"channel"`
	Type         notify.Category `json:"type"`
	Priority     notify.Priority `json:"priority"`
	Title        string          `json:"title,omitempty"`
	Content      string          `json:"content"`
	ScheduledFor time.Time       `json:"scheduled_for"`
	Attempt      int             `json:"attempt"`
}

// NATSChannel publishes one message per target channel to
// notifications.<channel>.<user_id>. Renderers for email, push and in-app
// subscribe downstream.
type NATSChannel struct {
	conn   *nats.Conn
	logger *zap.Logger
}

// NewNATSChannel creates a channel on an open connection.
func NewNATSChannel(conn *nats.Conn, logger *zap.Logger) (*NATSChannel, error) {
	if conn == nil {
		return nil, fmt.Errorf("nats connection cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSChannel{conn: conn, logger: logger}, nil
}

// Deliver publishes the item to every channel it targets and flushes. A failure
// on any channel fails the whole delivery so it is retried.
func (c *NATSChannel) Deliver(ctx context.Context, item *Item) error {
	channels := item.Notification.Channels
	if len(channels) == 0 {
		channels = []string{notify.ChannelInApp}
	}

	var errs []error
	for _, ch := range channels {
		data, err := json.Marshal(messageFor(item, ch))
		if err != nil {
			return fmt.Errorf("encoding message: %w", err)
		}
		subject := Subject(ch, item.UserID)
		if err := c.conn.Publish(subject, data); err != nil {
			errs = append(errs, fmt.Errorf("publishing to %s: %w", subject, err))
			continue
		}
		c.logger.Debug("notification published",
			zap.String("subject", subject),
			zap.String("item_id", item.ID))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	if err := c.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flushing nats connection: %w", err)
	}
	return nil
}

func messageFor(item *Item, channel string) Message {
	n := item.Notification
	return Message{
		ID:           item.ID,
		UserID:       item.UserID,
		Channel:      channel,
		Type:         n.Original.Type,
		Priority:     n.Priority,
		Title:        n.Original.Title,
		Content:      n.Content,
		ScheduledFor: item.ScheduledFor,
		Attempt:      item.Attempts + 1,
	}
}

// LogChannel writes deliveries to the log. Used when no broker is configured.
type LogChannel struct {
	logger *zap.Logger
}

// NewLogChannel creates a log channel.
func NewLogChannel(logger *zap.Logger) *LogChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogChannel{logger: logger}
}

// Deliver logs the item.
func (c *LogChannel) Deliver(ctx context.Context, item *Item) error {
	c.logger.Info("notification delivered",
		zap.String("item_id", item.ID),
		zap.String("user_id", item.UserID),
		zap.Strings("channels", item.Notification.Channels),
		zap.String("priority", string(item.Notification.Priority)),
		zap.String("content", item.Notification.Content))
	return nil
}
