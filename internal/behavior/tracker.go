package behavior

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"go.uber.org/zap"
)

// AnalyzeFunc runs pattern analysis for one user.
type AnalyzeFunc func(ctx context.Context, userID string)

// Tracker records behavior events and schedules delayed pattern analysis once a
// user has produced AnalysisThreshold events within ActivityWindow.
//
// At most one analysis is pending per user; further events while an analysis is
// pending do not schedule another.
type Tracker struct {
	store   EventStore
	analyze AnalyzeFunc
	clock   clock.Clock
	logger  *zap.Logger

	threshold       int
	window          time.Duration
	delay           time.Duration
	analysisTimeout time.Duration

	mu      sync.Mutex
	pending map[string]*clock.Timer
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	stopped bool
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithAnalysisThreshold sets how many events in the activity window trigger analysis.
func WithAnalysisThreshold(n int) TrackerOption {
	return func(t *Tracker) { t.threshold = n }
}

// WithActivityWindow sets the window used to count recent events.
func WithActivityWindow(d time.Duration) TrackerOption {
	return func(t *Tracker) { t.window = d }
}

// WithAnalysisDelay sets the delay between crossing the threshold and running analysis.
func WithAnalysisDelay(d time.Duration) TrackerOption {
	return func(t *Tracker) { t.delay = d }
}

// WithAnalysisTimeout bounds a single analysis run.
func WithAnalysisTimeout(d time.Duration) TrackerOption {
	return func(t *Tracker) { t.analysisTimeout = d }
}

// WithClock sets the clock used for timestamps and timers.
func WithClock(c clock.Clock) TrackerOption {
	return func(t *Tracker) { t.clock = c }
}

// NewTracker creates a tracker. analyze may be nil, in which case events are
// recorded but analysis is never scheduled.
func NewTracker(store EventStore, analyze AnalyzeFunc, logger *zap.Logger, opts ...TrackerOption) (*Tracker, error) {
	if store == nil {
		return nil, fmt.Errorf("event store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &Tracker{
		store:           store,
		analyze:         analyze,
		clock:           clock.New(),
		logger:          logger,
		threshold:       20,
		window:          24 * time.Hour,
		delay:           time.Minute,
		analysisTimeout: 2 * time.Minute,
		pending:         make(map[string]*clock.Timer),
		ctx:             ctx,
		cancel:          cancel,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Track validates and appends an event, then schedules analysis when the user's
// recent activity crosses the threshold. The event timestamp defaults to now.
func (t *Tracker) Track(ctx context.Context, event *Event) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	if err := event.Validate(); err != nil {
		return err
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = t.clock.Now()
	}

	if err := t.store.AppendEvent(ctx, event); err != nil {
		return fmt.Errorf("appending event: %w", err)
	}

	t.logger.Debug("behavior event tracked",
		zap.String("user_id", event.UserID),
		zap.String("event_type", string(event.Type)),
		zap.String("event_id", event.ID))

	if t.analyze == nil || t.threshold <= 0 {
		return nil
	}

	count, err := t.store.CountEventsSince(ctx, event.UserID, t.clock.Now().Add(-t.window))
	if err != nil {
		// Counting failure only delays analysis; the event is already stored.
		t.logger.Warn("counting recent events failed",
			zap.String("user_id", event.UserID),
			zap.Error(err))
		return nil
	}
	if count >= t.threshold {
		t.schedule(event.UserID)
	}
	return nil
}

// Pending reports whether an analysis is scheduled for the user.
func (t *Tracker) Pending(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[userID]
	return ok
}

func (t *Tracker) schedule(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return
	}
	if _, ok := t.pending[userID]; ok {
		return
	}

	t.pending[userID] = t.clock.AfterFunc(t.delay, func() {
		t.mu.Lock()
		if t.stopped {
			t.mu.Unlock()
			return
		}
		delete(t.pending, userID)
		t.wg.Add(1)
		t.mu.Unlock()

		defer t.wg.Done()
		t.run(userID)
	})

	t.logger.Info("pattern analysis scheduled",
		zap.String("user_id", userID),
		zap.Duration("delay", t.delay))
}

func (t *Tracker) run(userID string) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("pattern analysis panicked",
				zap.String("user_id", userID),
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()

	ctx, cancel := context.WithTimeout(t.ctx, t.analysisTimeout)
	defer cancel()
	t.analyze(ctx, userID)
}

// Stop cancels pending analyses and waits for running ones to return.
// A stopped tracker still records events but never schedules analysis.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	t.cancel()
	for userID, timer := range t.pending {
		timer.Stop()
		delete(t.pending, userID)
	}
	t.mu.Unlock()

	t.wg.Wait()
}
