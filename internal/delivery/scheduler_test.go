package delivery_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/favouriweala/Task-Manager-App-sub000/internal/delivery"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/notify"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/store"
)

var start = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func mockClock(at time.Time) *clock.Mock {
	c := clock.NewMock()
	c.Add(at.Sub(c.Now()))
	return c
}

// fakeChannel fails the first failures deliveries of each item.
type fakeChannel struct {
	mu        sync.Mutex
	failures  int
	attempts  map[string]int
	delivered []string
}

func newFakeChannel(failures int) *fakeChannel {
	return &fakeChannel{failures: failures, attempts: make(map[string]int)}
}

func (f *fakeChannel) Deliver(ctx context.Context, item *delivery.Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[item.ID]++
	if f.failures < 0 || f.attempts[item.ID] <= f.failures {
		return errors.New("transport down")
	}
	f.delivered = append(f.delivered, item.ID)
	return nil
}

func enqueue(t *testing.T, q delivery.Queue, c clock.Clock, scheduledFor time.Time) string {
	t.Helper()
	id := uuid.New().String()
	item := &delivery.Item{
		ID:     id,
		UserID: "u1",
		Notification: notify.Processed{
			ID:           "n-" + id,
			Original:     notify.Context{UserID: "u1", Type: notify.CategoryTaskDue},
			ShouldSend:   true,
			Channels:     []string{notify.ChannelInApp},
			Content:      "Task due soon",
			Priority:     notify.PriorityMedium,
			ScheduledFor: scheduledFor,
			State:        notify.StateScheduled,
		},
		ScheduledFor: scheduledFor,
		Status:       delivery.StatusPending,
		CreatedAt:    c.Now(),
	}
	require.NoError(t, q.Enqueue(context.Background(), item))
	return id
}

// TestBackoff tests exponential growth and the cap.
func TestBackoff(t *testing.T) {
	base, max := time.Minute, time.Hour
	assert.Equal(t, time.Minute, delivery.Backoff(0, base, max))
	assert.Equal(t, time.Minute, delivery.Backoff(1, base, max))
	assert.Equal(t, 2*time.Minute, delivery.Backoff(2, base, max))
	assert.Equal(t, 16*time.Minute, delivery.Backoff(5, base, max))
	assert.Equal(t, time.Hour, delivery.Backoff(7, base, max))
	assert.Equal(t, time.Hour, delivery.Backoff(100, base, max))
}

// TestNewScheduler_Validation tests constructor validation.
func TestNewScheduler_Validation(t *testing.T) {
	_, err := delivery.NewScheduler(nil, newFakeChannel(0), nil)
	assert.Error(t, err)
	_, err = delivery.NewScheduler(store.NewMemoryStore(), nil, nil)
	assert.Error(t, err)
}

// TestSink_DefaultsToNow tests that unscheduled notifications are due at once.
func TestSink_DefaultsToNow(t *testing.T) {
	q := store.NewMemoryStore()
	c := mockClock(start)
	sink := delivery.NewSink(q, c)
	require.NoError(t, sink.Enqueue(context.Background(), &notify.Processed{ID: "n", Original: notify.Context{UserID: "u1"}}))

	items, err := q.ClaimDue(context.Background(), start, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, start, items[0].ScheduledFor)
	assert.Equal(t, "u1", items[0].UserID)

	assert.Error(t, sink.Enqueue(context.Background(), nil))
}

// TestRunOnce_DeliversDueItems tests that only due items are delivered.
func TestRunOnce_DeliversDueItems(t *testing.T) {
	ctx := context.Background()
	q := store.NewMemoryStore()
	c := mockClock(start)
	dueID := enqueue(t, q, c, start.Add(-time.Minute))
	enqueue(t, q, c, start.Add(time.Hour))

	ch := newFakeChannel(0)
	s, err := delivery.NewScheduler(q, ch, nil, delivery.WithClock(c))
	require.NoError(t, err)

	res, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, delivery.BatchResult{Claimed: 1, Sent: 1}, res)
	assert.Equal(t, []string{dueID}, ch.delivered)

	item, err := q.GetItem(ctx, dueID)
	require.NoError(t, err)
	assert.True(t, item.Sent())
	require.NotNil(t, item.SentAt)
	assert.Equal(t, start, *item.SentAt)

	// Sent items are not delivered twice.
	res, err = s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Claimed)
}

// TestRunOnce_RetriesWithBackoff tests that a failed item comes back after
// its backoff and succeeds.
func TestRunOnce_RetriesWithBackoff(t *testing.T) {
	ctx := context.Background()
	q := store.NewMemoryStore()
	c := mockClock(start)
	id := enqueue(t, q, c, start)

	ch := newFakeChannel(1)
	s, err := delivery.NewScheduler(q, ch, nil, delivery.WithClock(c))
	require.NoError(t, err)

	res, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Retried)

	item, err := q.GetItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, item.Attempts)
	assert.Equal(t, "transport down", item.LastError)
	assert.Equal(t, start.Add(time.Minute), item.ScheduledFor)

	// Not due yet.
	c.Add(30 * time.Second)
	res, err = s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Claimed)

	c.Add(30 * time.Second)
	res, err = s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
}

// TestRunOnce_DeadAfterMaxAttempts tests that persistent failures are abandoned.
func TestRunOnce_DeadAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	q := store.NewMemoryStore()
	c := mockClock(start)
	id := enqueue(t, q, c, start)

	cfg := delivery.DefaultConfig()
	cfg.MaxAttempts = 3
	s, err := delivery.NewScheduler(q, newFakeChannel(-1), nil, delivery.WithClock(c), delivery.WithConfig(cfg))
	require.NoError(t, err)

	var dead int
	for i := 0; i < 3; i++ {
		res, err := s.RunOnce(ctx)
		require.NoError(t, err)
		dead += res.Dead
		c.Add(time.Hour)
	}
	assert.Equal(t, 1, dead)

	item, err := q.GetItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, delivery.StatusDead, item.Status)
	assert.Equal(t, 3, item.Attempts)

	res, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Claimed)
}

// TestRunOnce_BatchSize tests that one batch claims at most BatchSize items.
func TestRunOnce_BatchSize(t *testing.T) {
	ctx := context.Background()
	q := store.NewMemoryStore()
	c := mockClock(start)
	for i := 0; i < 5; i++ {
		enqueue(t, q, c, start.Add(-time.Duration(i+1)*time.Second))
	}

	cfg := delivery.DefaultConfig()
	cfg.BatchSize = 2
	s, err := delivery.NewScheduler(q, newFakeChannel(0), nil, delivery.WithClock(c), delivery.WithConfig(cfg))
	require.NoError(t, err)

	res, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sent)
}

// TestScheduler_StartStop tests the background loop lifecycle.
func TestScheduler_StartStop(t *testing.T) {
	s, err := delivery.NewScheduler(store.NewMemoryStore(), newFakeChannel(0), nil)
	require.NoError(t, err)

	require.NoError(t, s.Start())
	assert.True(t, s.Running())
	assert.Error(t, s.Start(), "starting twice is an error")

	s.Stop()
	assert.False(t, s.Running())
	s.Stop()

	require.NoError(t, s.Start())
	s.Stop()
}

// blockingChannel holds every delivery until release is closed.
type blockingChannel struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingChannel() *blockingChannel {
	return &blockingChannel{entered: make(chan struct{}), release: make(chan struct{})}
}

func (b *blockingChannel) Deliver(ctx context.Context, item *delivery.Item) error {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return nil
}

func closed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// TestScheduler_TickDrainsDueItems tests that the loop delivers on each interval.
func TestScheduler_TickDrainsDueItems(t *testing.T) {
	ctx := context.Background()
	q := store.NewMemoryStore()
	c := mockClock(start)
	due := enqueue(t, q, c, start.Add(-time.Second))
	later := enqueue(t, q, c, start.Add(24*time.Hour))

	ch := newFakeChannel(0)
	cfg := delivery.DefaultConfig()
	s, err := delivery.NewScheduler(q, ch, nil, delivery.WithClock(c), delivery.WithConfig(cfg))
	require.NoError(t, err)
	require.NoError(t, s.Start())
	defer s.Stop()

	// The loop registers its ticker asynchronously; keep ticking until it fires.
	require.Eventually(t, func() bool {
		c.Add(cfg.Interval)
		item, err := q.GetItem(ctx, due)
		return err == nil && item.Sent()
	}, 2*time.Second, 10*time.Millisecond)

	item, err := q.GetItem(ctx, later)
	require.NoError(t, err)
	assert.False(t, item.Sent())
	ch.mu.Lock()
	assert.Equal(t, []string{due}, ch.delivered)
	ch.mu.Unlock()
}

// TestScheduler_StopWaitsForBatch tests that Stop returns only after the
// in-flight batch has finished.
func TestScheduler_StopWaitsForBatch(t *testing.T) {
	ctx := context.Background()
	q := store.NewMemoryStore()
	c := mockClock(start)
	id := enqueue(t, q, c, start.Add(-time.Second))

	ch := newBlockingChannel()
	cfg := delivery.DefaultConfig()
	s, err := delivery.NewScheduler(q, ch, nil, delivery.WithClock(c), delivery.WithConfig(cfg))
	require.NoError(t, err)
	require.NoError(t, s.Start())

	require.Eventually(t, func() bool {
		c.Add(cfg.Interval)
		return closed(ch.entered)
	}, 2*time.Second, 10*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	assert.Never(t, func() bool { return closed(stopped) }, 100*time.Millisecond, 10*time.Millisecond,
		"Stop returned while a delivery was in flight")

	close(ch.release)
	require.Eventually(t, func() bool { return closed(stopped) }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, s.Running())

	item, err := q.GetItem(ctx, id)
	require.NoError(t, err)
	assert.True(t, item.Sent())
}
