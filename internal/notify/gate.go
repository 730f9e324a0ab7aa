package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/favouriweala/Task-Manager-App-sub000/internal/behavior"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/oracle"
)

const tracerName = "github.com/favouriweala/Task-Manager-App-sub000/internal/notify"

// ActivityFunc reports what the user is currently doing, or "" when unknown.
type ActivityFunc func(ctx context.Context, userID string) string

// Gate runs notification contexts through filtering, rules, the oracle and
// delivery-time calculation.
type Gate struct {
	prefs         PreferenceStore
	gateway       oracle.Gateway
	sink          Sink
	counter       *RecentCounter
	activity      ActivityFunc
	oracleTimeout time.Duration
	clock         clock.Clock
	logger        *zap.Logger
	tracer        trace.Tracer
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithGateway enables the oracle stage. Without one, or with the no-op
// gateway, the stage is skipped and frequency scheduling decides delivery.
func WithGateway(g oracle.Gateway) GateOption {
	return func(gt *Gate) {
		if !oracle.Enabled(g) {
			g = nil
		}
		gt.gateway = g
	}
}

// WithSink sets where scheduled notifications are enqueued.
func WithSink(s Sink) GateOption {
	return func(g *Gate) { g.sink = s }
}

// WithCounter sets the recent-notification counter.
func WithCounter(c *RecentCounter) GateOption {
	return func(g *Gate) { g.counter = c }
}

// WithActivity sets the current-activity lookup used in the oracle snapshot.
func WithActivity(f ActivityFunc) GateOption {
	return func(g *Gate) { g.activity = f }
}

// WithOracleTimeout sets the hard deadline of the oracle call.
func WithOracleTimeout(d time.Duration) GateOption {
	return func(g *Gate) { g.oracleTimeout = d }
}

// WithClock sets the clock.
func WithClock(c clock.Clock) GateOption {
	return func(g *Gate) { g.clock = c }
}

// NewGate creates a gate.
func NewGate(prefs PreferenceStore, logger *zap.Logger, opts ...GateOption) (*Gate, error) {
	if prefs == nil {
		return nil, fmt.Errorf("preference store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gate{
		prefs:         prefs,
		counter:       NewRecentCounter(time.Hour, 0),
		oracleTimeout: 5 * time.Second,
		clock:         clock.New(),
		logger:        logger,
		tracer:        otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// decision accumulates state while a notification moves through the gate.
type decision struct {
	p       *Processed
	prefs   *Preferences
	reasons []string
	stage   string
}

func (d *decision) note(format string, args ...any) {
	d.reasons = append(d.reasons, fmt.Sprintf(format, args...))
}

func (d *decision) suppress(stage, format string, args ...any) {
	d.p.ShouldSend = false
	d.p.State = StateSuppressed
	d.stage = stage
	d.note(format, args...)
}

// Process decides on one notification. A scheduled notification is handed to
// the sink; the returned error is non-nil only when that hand-off fails, and
// the decision is still returned.
func (g *Gate) Process(ctx context.Context, nc Context) (*Processed, error) {
	start := time.Now()
	defer func() { GateDuration.Observe(time.Since(start).Seconds()) }()

	ctx, span := g.tracer.Start(ctx, "notify.Process",
		trace.WithAttributes(
			attribute.String("user_id", nc.UserID),
			attribute.String("type", string(nc.Type)),
			attribute.String("priority", string(nc.Priority)),
		))
	defer span.End()

	now := g.clock.Now()
	if nc.Timestamp.IsZero() {
		nc.Timestamp = now
	}
	if nc.Priority == "" {
		nc.Priority = PriorityMedium
	}

	d := &decision{
		p: &Processed{
			ID:         uuid.New().String(),
			Original:   nc,
			ShouldSend: true,
			Content:    nc.Content,
			Priority:   nc.Priority,
			State:      StateReceived,
		},
		prefs: g.loadPreferences(ctx, nc.UserID),
		stage: "none",
	}
	d.p.Channels = defaultChannels(d.prefs)

	g.basicFilter(d)
	if d.p.ShouldSend {
		g.evaluateRules(ctx, d)
	}
	if d.p.ShouldSend {
		g.evaluateOracle(ctx, d, now)
	}
	if d.p.ShouldSend {
		if d.p.ScheduledFor.IsZero() {
			d.p.ScheduledFor = OptimalDeliveryTime(now, d.p.Priority, d.prefs)
		}
		d.p.State = StateScheduled
		d.note("scheduled for %s", d.p.ScheduledFor.UTC().Format(time.RFC3339))
	}

	d.p.Reasoning = strings.Join(d.reasons, "; ")
	GateDecisions.WithLabelValues(string(d.p.State), d.stage).Inc()
	span.SetAttributes(
		attribute.String("state", string(d.p.State)),
		attribute.Bool("ai_enhanced", d.p.AIEnhanced),
	)

	if !d.p.ShouldSend {
		g.logger.Debug("notification suppressed",
			zap.String("user_id", nc.UserID),
			zap.String("notification_id", d.p.ID),
			zap.String("stage", d.stage),
			zap.String("reasoning", d.p.Reasoning))
		return d.p, nil
	}

	g.counter.Record(nc.UserID, now)
	g.logger.Debug("notification scheduled",
		zap.String("user_id", nc.UserID),
		zap.String("notification_id", d.p.ID),
		zap.Time("scheduled_for", d.p.ScheduledFor),
		zap.Strings("channels", d.p.Channels),
		zap.Bool("ai_enhanced", d.p.AIEnhanced))

	if g.sink != nil {
		if err := g.sink.Enqueue(ctx, d.p); err != nil {
			span.RecordError(err)
			return d.p, fmt.Errorf("enqueueing notification %s: %w", d.p.ID, err)
		}
	}
	return d.p, nil
}

func (g *Gate) loadPreferences(ctx context.Context, userID string) *Preferences {
	prefs, err := g.prefs.GetPreferences(ctx, userID)
	if err == nil && prefs != nil {
		return prefs
	}
	if err != nil && !errors.Is(err, ErrNoPreferences) {
		g.logger.Warn("loading preferences failed, using defaults",
			zap.String("user_id", userID),
			zap.Error(err))
	}
	return DefaultPreferences(userID)
}

func defaultChannels(prefs *Preferences) []string {
	if len(prefs.EnabledChannels) == 0 {
		return []string{ChannelInApp}
	}
	return append([]string(nil), prefs.EnabledChannels...)
}

func (g *Gate) basicFilter(d *decision) {
	nc := d.p.Original
	threshold := d.prefs.PriorityThreshold
	if threshold == "" {
		threshold = PriorityLow
	}

	switch {
	case nc.Priority.Rank() < threshold.Rank():
		d.suppress("basic_filter", "priority %s below threshold %s", nc.Priority, threshold)
	case !d.prefs.CategoryEnabled(nc.Type):
		d.suppress("basic_filter", "category %s disabled", nc.Type)
	case IsInQuietHours(nc.Timestamp, d.prefs.QuietHours):
		d.suppress("basic_filter", "quiet hours %s-%s", d.prefs.QuietHours.Start, d.prefs.QuietHours.End)
	default:
		d.p.State = StateBasicFiltered
	}
}

func (g *Gate) evaluateRules(ctx context.Context, d *decision) {
	rules, err := g.prefs.ListNotificationRules(ctx, d.p.Original.UserID)
	if err != nil {
		g.logger.Warn("loading notification rules failed",
			zap.String("user_id", d.p.Original.UserID),
			zap.Error(err))
		d.p.State = StateRuleEvaluated
		return
	}

	for _, r := range rules {
		if !r.Active || !r.Matches(d.p.Original) {
			continue
		}
		if r.Actions.Suppress {
			d.suppress("rules", "suppressed by rule %q", r.Name)
			return
		}
		for _, ch := range r.Actions.Channels {
			d.p.Channels = appendUnique(d.p.Channels, ch)
		}
		if r.Actions.Priority.Rank() > d.p.Priority.Rank() {
			d.p.Priority = r.Actions.Priority
		}
		d.note("matched rule %q", r.Name)
	}
	d.p.State = StateRuleEvaluated
}

// Matches reports whether every non-empty condition set holds for nc. Project
// and task type come from the project_id and task_type metadata fields; at
// least one keyword must appear in the title or content.
func (r *Rule) Matches(nc Context) bool {
	c := r.Conditions
	if len(c.ProjectIDs) > 0 && !containsString(c.ProjectIDs, metadataString(nc.Metadata, "project_id")) {
		return false
	}
	if len(c.TaskTypes) > 0 && !containsString(c.TaskTypes, metadataString(nc.Metadata, "task_type")) {
		return false
	}
	if len(c.Priorities) > 0 {
		found := false
		for _, p := range c.Priorities {
			if strings.EqualFold(string(p), string(nc.Priority)) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(c.Keywords) > 0 {
		text := strings.ToLower(nc.Title + " " + nc.Content)
		found := false
		for _, kw := range c.Keywords {
			if kw != "" && strings.Contains(text, strings.ToLower(kw)) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (g *Gate) evaluateOracle(ctx context.Context, d *decision, now time.Time) {
	if g.gateway == nil {
		return
	}
	nc := d.p.Original

	in := oracle.NotificationInput{
		UserID:   nc.UserID,
		Type:     string(nc.Type),
		Priority: string(d.p.Priority),
		Title:    nc.Title,
		Content:  nc.Content,
		Metadata: nc.Metadata,
		Runtime: oracle.RuntimeSnapshot{
			InWorkingHours:      IsWorkingTime(now, d.prefs),
			RecentNotifications: g.counter.Count(nc.UserID, now),
			Frequency:           string(d.prefs.Frequency),
			PriorityThreshold:   string(d.prefs.PriorityThreshold),
			EnabledChannels:     d.prefs.EnabledChannels,
		},
	}
	if g.activity != nil {
		in.Runtime.CurrentActivity = g.activity(ctx, nc.UserID)
	}

	octx, cancel := context.WithTimeout(ctx, g.oracleTimeout)
	defer cancel()
	assessment, err := g.gateway.AnalyzeNotificationContext(octx, in)
	if err == nil && assessment == nil {
		err = oracle.ErrMalformed
	}
	if err != nil {
		cause := oracle.Classify(err)
		OracleFallbacks.Inc()
		g.logger.Warn("oracle notification assessment failed, delivering now",
			zap.String("user_id", nc.UserID),
			zap.Error(err))
		d.p.AIEnhanced = false
		d.p.Channels = defaultChannels(d.prefs)[:1]
		d.p.ScheduledFor = now
		d.p.State = StateAIEvaluated
		d.note("fallback: %v, delivering now via %s", cause, d.p.Channels[0])
		return
	}

	d.p.AIEnhanced = true
	d.p.State = StateAIEvaluated
	if assessment.Reasoning != "" {
		d.note("oracle: %s", assessment.Reasoning)
	}
	if !assessment.ShouldDeliver {
		d.suppress("ai", "oracle advised against delivery (confidence %.2f)", assessment.Confidence)
		return
	}
	if chans := enabledOnly(assessment.RecommendedChannels, d.prefs); len(chans) > 0 {
		d.p.Channels = chans
	}
	if assessment.EnhancedContent != "" {
		d.p.Content = assessment.EnhancedContent
	}
	if p, err := ParsePriority(assessment.Priority); err == nil && p.Rank() > d.p.Priority.Rank() {
		d.p.Priority = p
	}
}

// enabledOnly keeps the recommended channels the user has enabled.
func enabledOnly(recommended []string, prefs *Preferences) []string {
	allowed := defaultChannels(prefs)
	var out []string
	for _, ch := range recommended {
		if containsString(allowed, ch) {
			out = appendUnique(out, ch)
		}
	}
	return out
}

func metadataString(md behavior.Metadata, key string) string {
	v, ok := md[key]
	if !ok {
		return ""
	}
	return v.String()
}

func containsString(set []string, s string) bool {
	if s == "" {
		return false
	}
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
