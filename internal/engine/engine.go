// Package engine wires the behavior pipeline into one process-wide root.
//
// An Engine owns every component built from the configuration: the event
// tracker, the pattern detector, rule synthesis and execution, the
// notification gate and the delivery scheduler. Components are published
// through a services.Registry that Reconfigure swaps atomically, so callers
// in flight keep the registry they started with.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/favouriweala/Task-Manager-App-sub000/internal/automation"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/behavior"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/config"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/delivery"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/notify"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/oracle"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/patterns"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/services"
)

// activityWindow bounds how old an event may be to describe current activity.
const activityWindow = 15 * time.Minute

// ErrStopped is returned by operations after Stop.
var ErrStopped = errors.New("engine stopped")

// Deps holds the external collaborators of an Engine.
type Deps struct {
	Events  behavior.EventStore
	Rules   automation.RuleStore
	Prefs   notify.PreferenceStore
	Queue   delivery.Queue
	Channel delivery.Channel

	// Gateway defaults to oracle.NoopGateway.
	Gateway oracle.Gateway

	// Clock defaults to the wall clock.
	Clock clock.Clock

	// Tracer for pattern analysis spans. Defaults to the global provider.
	Tracer trace.Tracer

	Logger *zap.Logger
}

func (d *Deps) validate() error {
	switch {
	case d.Events == nil:
		return fmt.Errorf("event store cannot be nil")
	case d.Rules == nil:
		return fmt.Errorf("rule store cannot be nil")
	case d.Prefs == nil:
		return fmt.Errorf("preference store cannot be nil")
	case d.Queue == nil:
		return fmt.Errorf("delivery queue cannot be nil")
	case d.Channel == nil:
		return fmt.Errorf("delivery channel cannot be nil")
	}
	return nil
}

// Report is the outcome of one analysis run.
type Report struct {
	Analysis  *patterns.Analysis          `json:"analysis"`
	Synthesis *automation.SynthesisResult `json:"synthesis,omitempty"`
}

// TrackResult is the outcome of tracking one event.
type TrackResult struct {
	Event      *behavior.Event        `json:"event"`
	Executions []automation.Execution `json:"executions"`
}

// Engine is the dependency root of the service.
type Engine struct {
	deps    Deps
	clock   clock.Clock
	logger  *zap.Logger
	counter *notify.RecentCounter

	reg     atomic.Value // services.Registry
	mu      sync.Mutex   // serializes Reconfigure, Start and Stop
	cfg     *config.Config
	started bool
	stopped atomic.Bool
}

// New builds every component from cfg. Nothing runs until Start.
func New(cfg *config.Config, deps Deps) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if deps.Gateway == nil {
		deps.Gateway = oracle.NoopGateway{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	counter := notify.NewRecentCounter(cfg.Notification.CounterWindow.Duration(), cfg.Notification.CounterMaxUsers)
	e := &Engine{
		deps:    deps,
		clock:   deps.Clock,
		logger:  deps.Logger,
		counter: counter,
		cfg:     cfg,
	}

	cache, err := automation.NewRuleCache(deps.Rules, cfg.Automation.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating rule cache: %w", err)
	}
	synth, err := e.newSynthesizer(cfg, cache)
	if err != nil {
		return nil, err
	}
	executor, err := automation.NewExecutor(deps.Rules, cache, deps.Logger,
		automation.WithExecutorClock(deps.Clock))
	if err != nil {
		return nil, fmt.Errorf("creating executor: %w", err)
	}
	router, err := automation.NewRouter(deps.Rules, deps.Logger)
	if err != nil {
		return nil, fmt.Errorf("creating router: %w", err)
	}
	gate, err := e.newGate(cfg)
	if err != nil {
		return nil, err
	}
	tracker, err := behavior.NewTracker(deps.Events, e.analyzeInBackground, deps.Logger,
		behavior.WithAnalysisThreshold(cfg.Tracking.AnalysisThreshold),
		behavior.WithActivityWindow(cfg.Tracking.ActivityWindow.Duration()),
		behavior.WithAnalysisDelay(cfg.Tracking.AnalysisDelay.Duration()),
		behavior.WithAnalysisTimeout(cfg.Tracking.AnalysisTimeout.Duration()),
		behavior.WithClock(deps.Clock))
	if err != nil {
		return nil, fmt.Errorf("creating tracker: %w", err)
	}
	scheduler, err := delivery.NewScheduler(deps.Queue, deps.Channel, deps.Logger,
		delivery.WithConfig(schedulerConfig(cfg.Delivery)),
		delivery.WithClock(deps.Clock))
	if err != nil {
		return nil, fmt.Errorf("creating scheduler: %w", err)
	}

	e.reg.Store(services.NewRegistry(services.Options{
		Tracker:     tracker,
		Detector:    e.newDetector(cfg),
		Synthesizer: synth,
		Executor:    executor,
		Router:      router,
		RuleCache:   cache,
		Gate:        gate,
		Scheduler:   scheduler,
		Events:      deps.Events,
		Rules:       deps.Rules,
		Preferences: deps.Prefs,
	}))
	return e, nil
}

func (e *Engine) newDetector(cfg *config.Config) *patterns.Detector {
	d := cfg.Detection
	scorer := patterns.DefaultScorer()
	scorer.ComplexityWeight = d.ComplexityWeight
	opts := []patterns.DetectorOption{
		patterns.WithConfig(patterns.Config{
			MinEvents:          d.MinEvents,
			Lookback:           d.Lookback.Duration(),
			TemporalThreshold:  d.TemporalThreshold,
			SequenceThreshold:  d.SequenceThreshold,
			ContextThreshold:   d.ContextThreshold,
			SequenceGap:        d.SequenceGap.Duration(),
			OracleMinPotential: d.OracleMinPotential,
			OracleTimeout:      d.OracleTimeout.Duration(),
		}),
		patterns.WithScorer(scorer),
		patterns.WithGateway(e.deps.Gateway),
		patterns.WithClock(e.clock),
	}
	if e.deps.Tracer != nil {
		opts = append(opts, patterns.WithTracer(e.deps.Tracer))
	}
	return patterns.NewDetector(e.logger, opts...)
}

func (e *Engine) newSynthesizer(cfg *config.Config, cache *automation.RuleCache) (*automation.Synthesizer, error) {
	s, err := automation.NewSynthesizer(e.deps.Rules, cache, e.logger,
		automation.WithThresholds(cfg.Automation.MinPotential, cfg.Automation.MinConfidence),
		automation.WithMinRoutingGroup(cfg.Automation.MinRoutingGroup),
		automation.WithSynthesizerClock(e.clock))
	if err != nil {
		return nil, fmt.Errorf("creating synthesizer: %w", err)
	}
	return s, nil
}

func (e *Engine) newGate(cfg *config.Config) (*notify.Gate, error) {
	g, err := notify.NewGate(e.deps.Prefs, e.logger,
		notify.WithGateway(e.deps.Gateway),
		notify.WithSink(delivery.NewSink(e.deps.Queue, e.clock)),
		notify.WithCounter(e.counter),
		notify.WithActivity(e.currentActivity),
		notify.WithOracleTimeout(cfg.Notification.OracleTimeout.Duration()),
		notify.WithClock(e.clock))
	if err != nil {
		return nil, fmt.Errorf("creating notification gate: %w", err)
	}
	return g, nil
}

func schedulerConfig(d config.DeliveryConfig) delivery.Config {
	return delivery.Config{
		Interval:     d.Interval.Duration(),
		BatchSize:    d.BatchSize,
		Lease:        d.Lease.Duration(),
		BaseBackoff:  d.BaseBackoff.Duration(),
		MaxBackoff:   d.MaxBackoff.Duration(),
		MaxAttempts:  d.MaxAttempts,
		BatchTimeout: d.BatchTimeout.Duration(),
	}
}

// Services returns the current component registry.
func (e *Engine) Services() services.Registry {
	return e.reg.Load().(services.Registry)
}

// Config returns the configuration the engine was last built from.
func (e *Engine) Config() *config.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Reconfigure applies new detection, automation and notification tuning.
// The tracker, executor, caches and scheduler are kept; delivery and
// tracking settings take effect on restart.
func (e *Engine) Reconfigure(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	cur := e.Services()
	synth, err := e.newSynthesizer(cfg, cur.RuleCache())
	if err != nil {
		return err
	}
	gate, err := e.newGate(cfg)
	if err != nil {
		return err
	}
	e.reg.Store(services.With(cur, services.Options{
		Detector:    e.newDetector(cfg),
		Synthesizer: synth,
		Gate:        gate,
	}))
	e.cfg = cfg
	e.logger.Info("engine reconfigured",
		zap.Int("min_events", cfg.Detection.MinEvents),
		zap.Float64("min_potential", cfg.Automation.MinPotential),
		zap.Float64("min_confidence", cfg.Automation.MinConfidence))
	return nil
}

// Start launches the delivery scheduler.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped.Load() {
		return ErrStopped
	}
	if e.started {
		return nil
	}
	if err := e.Services().Scheduler().Start(); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	e.started = true
	e.logger.Info("engine started")
	return nil
}

// Stop cancels pending analyses and waits for the in-flight delivery batch.
// It is safe to call more than once.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped.Swap(true) {
		return
	}
	reg := e.Services()
	reg.Tracker().Stop()
	reg.Scheduler().Stop()
	e.logger.Info("engine stopped")
}

// TrackEvent stores an event, schedules analysis when the user is active
// enough and applies the user's automation rules to it. Temporal rules match
// on when the event happened, not when it arrived. Rule failures are logged
// and never fail the event.
func (e *Engine) TrackEvent(ctx context.Context, ev *behavior.Event) (*TrackResult, error) {
	if e.stopped.Load() {
		return nil, ErrStopped
	}
	reg := e.Services()
	if err := reg.Tracker().Track(ctx, ev); err != nil {
		return nil, err
	}

	res := &TrackResult{Event: ev, Executions: []automation.Execution{}}
	execs, err := reg.Executor().ApplyEvent(ctx, ev)
	if err != nil {
		e.logger.Warn("applying automation rules failed",
			zap.String("user_id", ev.UserID),
			zap.String("event_id", ev.ID),
			zap.Error(err))
		return res, nil
	}
	res.Executions = execs
	return res, nil
}

// AnalyzeUser loads the user's events inside the detection lookback window,
// detects patterns and promotes qualifying ones to rules.
func (e *Engine) AnalyzeUser(ctx context.Context, userID string) (*Report, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	reg := e.Services()
	now := e.clock.Now()
	events, err := reg.Events().EventsBetween(ctx, userID, now.Add(-reg.Detector().Config().Lookback), now)
	if err != nil {
		return nil, fmt.Errorf("loading events: %w", err)
	}
	return e.analyze(ctx, reg, userID, events)
}

// AnalyzeEvents runs detection and synthesis over a caller-supplied event set.
func (e *Engine) AnalyzeEvents(ctx context.Context, userID string, events []behavior.Event) (*Report, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	return e.analyze(ctx, e.Services(), userID, events)
}

func (e *Engine) analyze(ctx context.Context, reg services.Registry, userID string, events []behavior.Event) (*Report, error) {
	analysis, err := reg.Detector().Analyze(ctx, userID, events)
	if err != nil {
		return nil, fmt.Errorf("analyzing patterns: %w", err)
	}
	report := &Report{Analysis: analysis}
	if analysis.Insufficient {
		return report, nil
	}

	synth, err := reg.Synthesizer().Synthesize(ctx, userID, analysis.Patterns)
	if err != nil {
		return report, fmt.Errorf("synthesizing rules: %w", err)
	}
	report.Synthesis = synth
	e.logger.Info("user analysis completed",
		zap.String("user_id", userID),
		zap.Int("events", analysis.EventCount),
		zap.Int("patterns", len(analysis.Patterns)),
		zap.Int("rules_created", len(synth.Created)))
	return report, nil
}

// analyzeInBackground is the tracker's delayed analysis callback.
func (e *Engine) analyzeInBackground(ctx context.Context, userID string) {
	if e.stopped.Load() {
		return
	}
	if _, err := e.AnalyzeUser(ctx, userID); err != nil {
		e.logger.Error("scheduled analysis failed",
			zap.String("user_id", userID),
			zap.Error(err))
	}
}

// currentActivity returns the type of the user's latest event within the
// activity window, or "" when the user has been idle.
func (e *Engine) currentActivity(ctx context.Context, userID string) string {
	now := e.clock.Now()
	events, err := e.deps.Events.EventsBetween(ctx, userID, now.Add(-activityWindow), now)
	if err != nil || len(events) == 0 {
		return ""
	}
	latest := events[0]
	for _, ev := range events[1:] {
		if ev.Timestamp.After(latest.Timestamp) {
			latest = ev
		}
	}
	return string(latest.Type)
}

// ApplyRules runs the user's automation rules against arbitrary event data.
func (e *Engine) ApplyRules(ctx context.Context, userID string, eventType behavior.EventType, data behavior.Metadata) ([]automation.Execution, error) {
	return e.Services().Executor().Apply(ctx, userID, eventType, data)
}

// ListRules returns the user's rules. An empty status lists every rule.
func (e *Engine) ListRules(ctx context.Context, userID string, status automation.RuleStatus) ([]automation.Rule, error) {
	return e.Services().Rules().ListRules(ctx, userID, status)
}

// SetRuleStatus activates or deactivates a rule.
func (e *Engine) SetRuleStatus(ctx context.Context, ruleID string, status automation.RuleStatus) (*automation.Rule, error) {
	return e.Services().Executor().SetRuleStatus(ctx, ruleID, status)
}

// PruneCandidates lists active rules that keep failing.
func (e *Engine) PruneCandidates(ctx context.Context, userID string, minSuccess float64, minTriggers int) ([]automation.Rule, error) {
	return e.Services().Executor().PruneCandidates(ctx, userID, minSuccess, minTriggers)
}

// SynthesizeRouting learns routing rules from the user's assignment history.
func (e *Engine) SynthesizeRouting(ctx context.Context, userID string, tasks []automation.TaskRecord) ([]automation.RoutingRule, error) {
	return e.Services().Synthesizer().SynthesizeRoutingRules(ctx, userID, tasks)
}

// RouteTask suggests an assignee for a new task.
func (e *Engine) RouteTask(ctx context.Context, userID string, task automation.TaskInput) (automation.RouteResult, error) {
	return e.Services().Router().Route(ctx, userID, task)
}

// ProcessNotification runs a notification through the gate. Accepted
// notifications are queued for the scheduler.
func (e *Engine) ProcessNotification(ctx context.Context, nc notify.Context) (*notify.Processed, error) {
	if e.stopped.Load() {
		return nil, ErrStopped
	}
	return e.Services().Gate().Process(ctx, nc)
}

// Preferences returns the user's stored preferences or the defaults.
func (e *Engine) Preferences(ctx context.Context, userID string) (*notify.Preferences, error) {
	p, err := e.deps.Prefs.GetPreferences(ctx, userID)
	if errors.Is(err, notify.ErrNoPreferences) {
		return notify.DefaultPreferences(userID), nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// SavePreferences validates and stores the user's preferences.
func (e *Engine) SavePreferences(ctx context.Context, p *notify.Preferences) error {
	if p == nil {
		return fmt.Errorf("preferences cannot be nil")
	}
	if err := p.Validate(); err != nil {
		return err
	}
	p.UpdatedAt = e.clock.Now()
	return e.deps.Prefs.SavePreferences(ctx, p)
}

// SaveNotificationRule stores a user-defined notification rule.
func (e *Engine) SaveNotificationRule(ctx context.Context, r *notify.Rule) error {
	if r == nil {
		return fmt.Errorf("notification rule cannot be nil")
	}
	if r.UserID == "" {
		return fmt.Errorf("notification rule user id is required")
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return e.deps.Prefs.SaveNotificationRule(ctx, r)
}

// DeliverDue drains one scheduler batch immediately.
func (e *Engine) DeliverDue(ctx context.Context) (delivery.BatchResult, error) {
	return e.Services().Scheduler().RunOnce(ctx)
}
