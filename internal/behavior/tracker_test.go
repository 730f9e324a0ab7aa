package behavior_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/favouriweala/Task-Manager-App-sub000/internal/behavior"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/store"
)

func newMockClock(at time.Time) *clock.Mock {
	m := clock.NewMock()
	m.Add(at.Sub(m.Now()))
	return m
}

type analyzeRecorder struct {
	mu    sync.Mutex
	users []string
}

func (r *analyzeRecorder) analyze(ctx context.Context, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = append(r.users, userID)
}

func (r *analyzeRecorder) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.users...)
}

func newTracker(t *testing.T, clk clock.Clock, rec *analyzeRecorder) *behavior.Tracker {
	t.Helper()
	tracker, err := behavior.NewTracker(store.NewMemoryStore(), rec.analyze, zap.NewNop(),
		behavior.WithClock(clk),
		behavior.WithAnalysisThreshold(3),
		behavior.WithAnalysisDelay(time.Minute),
	)
	require.NoError(t, err)
	t.Cleanup(tracker.Stop)
	return tracker
}

func track(t *testing.T, tracker *behavior.Tracker, userID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := tracker.Track(context.Background(), &behavior.Event{
			ID:     userID + "-" + time.Duration(i).String(),
			UserID: userID,
			Type:   behavior.EventTaskCreated,
		})
		require.NoError(t, err)
	}
}

func TestNewTracker_NilStore(t *testing.T) {
	_, err := behavior.NewTracker(nil, nil, nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "event store cannot be nil")
}

func TestTracker_Track_Validation(t *testing.T) {
	rec := &analyzeRecorder{}
	tracker := newTracker(t, newMockClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)), rec)

	err := tracker.Track(context.Background(), &behavior.Event{Type: behavior.EventLogin})
	assert.ErrorIs(t, err, behavior.ErrEmptyUserID)

	err = tracker.Track(context.Background(), &behavior.Event{UserID: "u1"})
	assert.ErrorIs(t, err, behavior.ErrEmptyEventType)

	err = tracker.Track(context.Background(), nil)
	assert.Error(t, err)
}

func TestTracker_SchedulesAnalysisAtThreshold(t *testing.T) {
	clk := newMockClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	rec := &analyzeRecorder{}
	tracker := newTracker(t, clk, rec)

	track(t, tracker, "u1", 2)
	assert.False(t, tracker.Pending("u1"))

	track(t, tracker, "u1", 1)
	assert.True(t, tracker.Pending("u1"))

	clk.Add(30 * time.Second)
	assert.Empty(t, rec.calls())

	clk.Add(30 * time.Second)
	assert.Equal(t, []string{"u1"}, rec.calls())
	assert.False(t, tracker.Pending("u1"))
}

func TestTracker_OneAnalysisPerUserWhilePending(t *testing.T) {
	clk := newMockClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	rec := &analyzeRecorder{}
	tracker := newTracker(t, clk, rec)

	track(t, tracker, "u1", 8)
	track(t, tracker, "u2", 3)

	clk.Add(time.Minute)
	assert.ElementsMatch(t, []string{"u1", "u2"}, rec.calls())
}

func TestTracker_OldEventsDoNotCount(t *testing.T) {
	clk := newMockClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	rec := &analyzeRecorder{}
	tracker := newTracker(t, clk, rec)

	track(t, tracker, "u1", 2)
	clk.Add(25 * time.Hour)
	track(t, tracker, "u1", 1)

	assert.False(t, tracker.Pending("u1"))
}

func TestTracker_StopCancelsPending(t *testing.T) {
	clk := newMockClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	rec := &analyzeRecorder{}
	tracker := newTracker(t, clk, rec)

	track(t, tracker, "u1", 3)
	require.True(t, tracker.Pending("u1"))

	tracker.Stop()
	clk.Add(time.Minute)

	assert.Empty(t, rec.calls())
	assert.False(t, tracker.Pending("u1"))

	// Events are still recorded after stop, without scheduling.
	track(t, tracker, "u1", 3)
	assert.False(t, tracker.Pending("u1"))
}
