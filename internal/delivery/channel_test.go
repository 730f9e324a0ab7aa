package delivery_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/favouriweala/Task-Manager-App-sub000/internal/delivery"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/notify"
)

// startTestNATSServer starts an embedded NATS server for testing.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	opts := &natsserver.Options{
		Host:           "127.0.0.1",
		Port:           -1, // Random port
		NoLog:          true,
		NoSigs:         true,
		MaxControlLine: 2048,
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	return server
}

func connect(t *testing.T, server *natsserver.Server) *nats.Conn {
	t.Helper()
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	return nc
}

// TestSubject tests subject construction and sanitizing.
func TestSubject(t *testing.T) {
	assert.Equal(t, "notifications.email.u1", delivery.Subject("email", "u1"))
	assert.Equal(t, "notifications.in_app.user_example_com", delivery.Subject("in_app", "user.example*com"))
	assert.Equal(t, "notifications._._", delivery.Subject("", ""))
}

// TestNewNATSChannel_NilConn tests constructor validation.
func TestNewNATSChannel_NilConn(t *testing.T) {
	_, err := delivery.NewNATSChannel(nil, nil)
	assert.Error(t, err)
}

// TestNATSChannel_Deliver tests that one message is published per channel.
func TestNATSChannel_Deliver(t *testing.T) {
	server := startTestNATSServer(t)
	pub := connect(t, server)
	sub := connect(t, server)

	msgs := make(chan *nats.Msg, 4)
	subscription, err := sub.ChanSubscribe("notifications.*.u1", msgs)
	require.NoError(t, err)
	t.Cleanup(func() { _ = subscription.Unsubscribe() })
	require.NoError(t, sub.Flush())

	ch, err := delivery.NewNATSChannel(pub, zaptest.NewLogger(t))
	require.NoError(t, err)

	item := &delivery.Item{
		ID:     "item-1",
		UserID: "u1",
		Notification: notify.Processed{
			Original: notify.Context{UserID: "u1", Type: notify.CategoryMention, Title: "Mentioned"},
			Channels: []string{notify.ChannelInApp, notify.ChannelEmail},
			Content:  "You were mentioned",
			Priority: notify.PriorityHigh,
		},
		ScheduledFor: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		Attempts:     1,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ch.Deliver(ctx, item))

	got := map[string]delivery.Message{}
	for i := 0; i < 2; i++ {
		select {
		case m := <-msgs:
			var msg delivery.Message
			require.NoError(t, json.Unmarshal(m.Data, &msg))
			got[m.Subject] = msg
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for message")
		}
	}

	require.Contains(t, got, "notifications.in_app.u1")
	require.Contains(t, got, "notifications.email.u1")
	email := got["notifications.email.u1"]
	assert.Equal(t, "item-1", email.ID)
	assert.Equal(t, notify.ChannelEmail, email.Channel)
	assert.Equal(t, notify.CategoryMention, email.Type)
	assert.Equal(t, notify.PriorityHigh, email.Priority)
	assert.Equal(t, "You were mentioned", email.Content)
	assert.Equal(t, 2, email.Attempt)
}

// TestNATSChannel_DeliverClosedConn tests that a closed connection fails the delivery.
func TestNATSChannel_DeliverClosedConn(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	nc.Close()

	ch, err := delivery.NewNATSChannel(nc, nil)
	require.NoError(t, err)
	err = ch.Deliver(context.Background(), &delivery.Item{ID: "x", UserID: "u1"})
	assert.Error(t, err)
}

// TestLogChannel tests the log-only channel.
func TestLogChannel(t *testing.T) {
	ch := delivery.NewLogChannel(zaptest.NewLogger(t))
	assert.NoError(t, ch.Deliver(context.Background(), &delivery.Item{ID: "x", UserID: "u1"}))
}
