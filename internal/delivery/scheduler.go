package delivery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/favouriweala/Task-Manager-App-sub000/internal/delivery"

// Config tunes the scheduler.
type Config struct {
	Interval     time.Duration
	BatchSize    int
	Lease        time.Duration
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	MaxAttempts  int
	BatchTimeout time.Duration
}

// DefaultConfig returns the standard scheduler settings.
func DefaultConfig() Config {
	return Config{
		Interval:     5 * time.Minute,
		BatchSize:    50,
		Lease:        2 * time.Minute,
		BaseBackoff:  time.Minute,
		MaxBackoff:   time.Hour,
		MaxAttempts:  5,
		BatchTimeout: 4 * time.Minute,
	}
}

// Backoff returns the delay before retry number attempts (1-based):
// base * 2^(attempts-1), capped at max.
func Backoff(attempts int, base, max time.Duration) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= max || d <= 0 {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// BatchResult summarizes one drain.
type BatchResult struct {
	Claimed int
	Sent    int
	Retried int
	Dead    int
}

// Scheduler periodically drains due items from a Queue into a Channel.
//
// Start launches the loop; Stop signals it and waits for the in-flight batch.
// RunOnce drains a single batch synchronously.
type Scheduler struct {
	queue   Queue
	channel Channel
	cfg     Config
	clock   clock.Clock
	logger  *zap.Logger
	tracer  trace.Tracer

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithConfig replaces the scheduler settings.
func WithConfig(cfg Config) SchedulerOption {
	return func(s *Scheduler) { s.cfg = cfg }
}

// WithClock sets the clock.
func WithClock(c clock.Clock) SchedulerOption {
	return func(s *Scheduler) { s.clock = c }
}

// NewScheduler creates a scheduler. It does not start automatically.
func NewScheduler(queue Queue, channel Channel, logger *zap.Logger, opts ...SchedulerOption) (*Scheduler, error) {
	if queue == nil {
		return nil, fmt.Errorf("queue cannot be nil")
	}
	if channel == nil {
		return nil, fmt.Errorf("channel cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		queue:   queue,
		channel: channel,
		cfg:     DefaultConfig(),
		clock:   clock.New(),
		logger:  logger,
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.BatchSize <= 0 {
		s.cfg.BatchSize = DefaultConfig().BatchSize
	}
	if s.cfg.Interval <= 0 {
		s.cfg.Interval = DefaultConfig().Interval
	}
	return s, nil
}

// Start launches the background loop. Starting a running scheduler is an error.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.running = true

	s.logger.Info("delivery scheduler started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Int("batch_size", s.cfg.BatchSize))

	go s.run(s.stopCh, s.doneCh)
	return nil
}

// Stop signals the loop and waits for the in-flight batch to finish. Stopping
// a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	done := s.doneCh
	s.mu.Unlock()

	<-done
	s.logger.Info("delivery scheduler stopped")
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) run(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("delivery scheduler panicked",
				zap.Any("panic", r),
				zap.Stack("stack"))
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}
	}()

	ticker := s.clock.Ticker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.safeRunOnce()
		case <-stopCh:
			return
		}
	}
}

func (s *Scheduler) safeRunOnce() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("delivery batch panicked, continuing",
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.BatchTimeout)
	defer cancel()
	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.Error("delivery batch failed", zap.Error(err))
	}
}

// RunOnce claims and delivers one batch of due items. Per-item failures are
// recorded on the item and never abort the batch; only a failed claim
// returns an error.
func (s *Scheduler) RunOnce(ctx context.Context) (BatchResult, error) {
	start := time.Now()
	defer func() { BatchDuration.Observe(time.Since(start).Seconds()) }()

	ctx, span := s.tracer.Start(ctx, "delivery.RunOnce")
	defer span.End()

	var res BatchResult
	now := s.clock.Now()
	items, err := s.queue.ClaimDue(ctx, now, s.cfg.BatchSize, s.cfg.Lease)
	if err != nil {
		span.RecordError(err)
		return res, fmt.Errorf("claiming due items: %w", err)
	}
	res.Claimed = len(items)
	BatchSize.Observe(float64(len(items)))

	for i := range items {
		s.deliver(ctx, &items[i], &res)
	}

	span.SetAttributes(
		attribute.Int("claimed", res.Claimed),
		attribute.Int("sent", res.Sent),
		attribute.Int("retried", res.Retried),
		attribute.Int("dead", res.Dead),
	)
	if res.Claimed > 0 {
		s.logger.Info("delivery batch complete",
			zap.Int("claimed", res.Claimed),
			zap.Int("sent", res.Sent),
			zap.Int("retried", res.Retried),
			zap.Int("dead", res.Dead))
	}
	return res, nil
}

func (s *Scheduler) deliver(ctx context.Context, item *Item, res *BatchResult) {
	err := s.channel.Deliver(ctx, item)
	now := s.clock.Now()

	if err == nil {
		if markErr := s.queue.MarkSent(ctx, item.ID, now); markErr != nil {
			Deliveries.WithLabelValues("mark_error").Inc()
			s.logger.Error("marking item sent failed",
				zap.String("item_id", item.ID),
				zap.Error(markErr))
			return
		}
		res.Sent++
		Deliveries.WithLabelValues("sent").Inc()
		return
	}

	attempts := item.Attempts + 1
	dead := s.cfg.MaxAttempts > 0 && attempts >= s.cfg.MaxAttempts
	retryAt := now.Add(Backoff(attempts, s.cfg.BaseBackoff, s.cfg.MaxBackoff))

	if markErr := s.queue.MarkFailed(ctx, item.ID, err.Error(), retryAt, dead); markErr != nil {
		Deliveries.WithLabelValues("mark_error").Inc()
		s.logger.Error("marking item failed failed",
			zap.String("item_id", item.ID),
			zap.Error(markErr))
		return
	}

	if dead {
		res.Dead++
		Deliveries.WithLabelValues("dead").Inc()
		s.logger.Error("notification delivery abandoned",
			zap.String("item_id", item.ID),
			zap.String("user_id", item.UserID),
			zap.Int("attempts", attempts),
			zap.Error(err))
		return
	}
	res.Retried++
	Deliveries.WithLabelValues("retry").Inc()
	s.logger.Warn("notification delivery failed, will retry",
		zap.String("item_id", item.ID),
		zap.String("user_id", item.UserID),
		zap.Int("attempts", attempts),
		zap.Time("retry_at", retryAt),
		zap.Error(err))
}
