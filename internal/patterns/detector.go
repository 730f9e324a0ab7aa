package patterns

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/favouriweala/Task-Manager-App-sub000/internal/behavior"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/oracle"
)

const tracerName = "github.com/favouriweala/Task-Manager-App-sub000/internal/patterns"

// Config tunes detection.
type Config struct {
	// MinEvents is the smallest event count worth analyzing.
	MinEvents int

	// Lookback is how far back callers should load events.
	Lookback time.Duration

	// Emission thresholds for the three sub-detectors (strict lower bounds).
	TemporalThreshold float64
	SequenceThreshold float64
	ContextThreshold  float64

	// SequenceGap is the largest gap between two events counted as a transition.
	SequenceGap time.Duration

	// OracleMinPotential filters oracle candidates (strict lower bound).
	OracleMinPotential float64

	// OracleTimeout is the hard deadline for the oracle call.
	OracleTimeout time.Duration
}

// DefaultConfig returns the standard detection settings.
func DefaultConfig() Config {
	return Config{
		MinEvents:          10,
		Lookback:           30 * 24 * time.Hour,
		TemporalThreshold:  0.3,
		SequenceThreshold:  0.2,
		ContextThreshold:   0.4,
		SequenceGap:        10 * time.Minute,
		OracleMinPotential: 0.5,
		OracleTimeout:      15 * time.Second,
	}
}

// Analysis is the result of analyzing one user.
type Analysis struct {
	UserID     string            `json:"user_id"`
	EventCount int               `json:"event_count"`
	Patterns   []WorkflowPattern `json:"patterns"`

	// Insufficient is set when fewer than MinEvents events were supplied.
	Insufficient bool   `json:"insufficient"`
	Reason       string `json:"reason,omitempty"`

	// OracleError records a failed oracle call. The local result still stands.
	// OracleErrorMessage carries it to API and CLI callers.
	OracleError        error     `json:"-"`
	OracleErrorMessage string    `json:"oracle_error,omitempty"`
	AnalyzedAt         time.Time `json:"analyzed_at"`
}

// Detector runs the local sub-detectors and merges oracle proposals.
type Detector struct {
	cfg     Config
	scorer  Scorer
	gateway oracle.Gateway
	clock   clock.Clock
	logger  *zap.Logger
	tracer  trace.Tracer
}

// DetectorOption configures a Detector.
type DetectorOption func(*Detector)

// WithConfig replaces the detection settings.
func WithConfig(cfg Config) DetectorOption {
	return func(d *Detector) { d.cfg = cfg }
}

// WithScorer replaces the scorer.
func WithScorer(s Scorer) DetectorOption {
	return func(d *Detector) { d.scorer = s }
}

// WithGateway enables oracle augmentation. The no-op gateway disables it.
func WithGateway(g oracle.Gateway) DetectorOption {
	return func(d *Detector) {
		if !oracle.Enabled(g) {
			g = nil
		}
		d.gateway = g
	}
}

// WithClock sets the clock used for timestamps.
func WithClock(c clock.Clock) DetectorOption {
	return func(d *Detector) { d.clock = c }
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) DetectorOption {
	return func(d *Detector) { d.tracer = t }
}

// NewDetector creates a detector. Without a gateway only local detection runs.
func NewDetector(logger *zap.Logger, opts ...DetectorOption) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Detector{
		cfg:     DefaultConfig(),
		scorer:  DefaultScorer(),
		clock:   clock.New(),
		logger:  logger,
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Config returns the detection settings.
func (d *Detector) Config() Config { return d.cfg }

// Analyze detects patterns in one user's events. Too few events yields an empty
// result with a Reason. Oracle failures are recorded in OracleError. Only a
// cancelled ctx produces an error.
func (d *Detector) Analyze(ctx context.Context, userID string, events []behavior.Event) (*Analysis, error) {
	ctx, span := d.tracer.Start(ctx, "patterns.Analyze",
		trace.WithAttributes(
			attribute.String("user_id", userID),
			attribute.Int("events", len(events)),
		))
	defer span.End()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := d.clock.Now()
	result := &Analysis{
		UserID:     userID,
		EventCount: len(events),
		Patterns:   []WorkflowPattern{},
		AnalyzedAt: now,
	}

	if len(events) < d.cfg.MinEvents {
		result.Insufficient = true
		result.Reason = fmt.Sprintf("%s: %d events, need %d", ErrInsufficientData, len(events), d.cfg.MinEvents)
		d.logger.Debug("skipping pattern analysis",
			zap.String("user_id", userID),
			zap.Int("events", len(events)),
			zap.Int("min_events", d.cfg.MinEvents))
		return result, nil
	}

	sorted := make([]behavior.Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	var candidates []Candidate
	candidates = append(candidates, DetectTemporal(sorted, d.cfg.TemporalThreshold)...)
	candidates = append(candidates, DetectSequences(sorted, d.cfg.SequenceThreshold, d.cfg.SequenceGap)...)
	candidates = append(candidates, DetectContext(sorted, d.cfg.ContextThreshold)...)

	merged := newMergeSet()
	for _, c := range candidates {
		if !d.scorer.Keep(c.Frequency, c.Confidence) {
			continue
		}
		merged.add(d.newPattern(userID, c, SourceLocal, d.scorer.AutomationPotential(c.Frequency, c.Confidence), now))
	}
	localCount := merged.len()

	oracleCount, err := d.mergeOracle(ctx, userID, sorted, merged, now)
	if err != nil {
		result.OracleError = err
		result.OracleErrorMessage = err.Error()
		span.RecordError(err)
		d.logger.Warn("oracle pattern analysis failed, using local patterns only",
			zap.String("user_id", userID),
			zap.Error(err))
	}

	result.Patterns = merged.sorted()
	span.SetAttributes(
		attribute.Int("patterns.local", localCount),
		attribute.Int("patterns.oracle", oracleCount),
		attribute.Int("patterns.total", len(result.Patterns)),
	)
	span.SetStatus(codes.Ok, "")

	d.logger.Info("pattern analysis complete",
		zap.String("user_id", userID),
		zap.Int("events", len(sorted)),
		zap.Int("local_patterns", localCount),
		zap.Int("oracle_patterns", oracleCount),
		zap.Int("patterns", len(result.Patterns)))
	return result, nil
}

func (d *Detector) mergeOracle(ctx context.Context, userID string, events []behavior.Event, merged *mergeSet, now time.Time) (int, error) {
	if d.gateway == nil {
		return 0, nil
	}

	octx, cancel := context.WithTimeout(ctx, d.cfg.OracleTimeout)
	defer cancel()

	proposals, err := d.gateway.AnalyzeWorkflowPatterns(octx, userID, events)
	if err != nil {
		return 0, oracleError(err)
	}

	count := 0
	for _, p := range proposals {
		if p.AutomationPotential <= d.cfg.OracleMinPotential {
			continue
		}
		t, err := ParseType(p.Type)
		if err != nil {
			d.logger.Debug("dropping oracle pattern",
				zap.String("user_id", userID),
				zap.String("type", p.Type),
				zap.Error(err))
			continue
		}
		if len(p.Conditions) == 0 {
			// A rule without trigger conditions never fires.
			d.logger.Debug("dropping oracle pattern without conditions",
				zap.String("user_id", userID),
				zap.String("type", p.Type),
				zap.String("pattern", p.Description))
			continue
		}
		c := Candidate{
			Type:          t,
			Description:   p.Description,
			Frequency:     Clamp01(p.Frequency),
			Confidence:    Clamp01(p.Confidence),
			SuggestedRule: p.SuggestedRule,
			Conditions:    p.Conditions.Clone(),
			Actions:       p.Actions.Clone(),
		}
		if merged.add(d.newPattern(userID, c, SourceOracle, Clamp01(p.AutomationPotential), now)) {
			count++
		}
	}
	return count, nil
}

func oracleError(err error) error {
	return fmt.Errorf("oracle: %w", oracle.Classify(err))
}

func (d *Detector) newPattern(userID string, c Candidate, src Source, potential float64, now time.Time) WorkflowPattern {
	conditions := c.Conditions
	if conditions == nil {
		conditions = behavior.Metadata{}
	}
	actions := c.Actions
	if actions == nil {
		actions = behavior.Metadata{}
	}
	return WorkflowPattern{
		ID:                  uuid.New().String(),
		UserID:              userID,
		Type:                c.Type,
		Description:         c.Description,
		Frequency:           Clamp01(c.Frequency),
		Confidence:          Clamp01(c.Confidence),
		AutomationPotential: Clamp01(potential),
		SuggestedRule:       c.SuggestedRule,
		Conditions:          conditions,
		Actions:             actions,
		Status:              StatusActive,
		Source:              src,
		CreatedAt:           now,
	}
}

// mergeSet keeps one pattern per signature, preferring higher confidence.
type mergeSet struct {
	bySig map[string]int
	items []WorkflowPattern
}

func newMergeSet() *mergeSet {
	return &mergeSet{bySig: make(map[string]int)}
}

// add inserts p or replaces a weaker pattern with the same signature. It
// reports whether p is now in the set.
func (m *mergeSet) add(p WorkflowPattern) bool {
	sig := p.Signature()
	if i, ok := m.bySig[sig]; ok {
		if p.Confidence > m.items[i].Confidence {
			m.items[i] = p
			return true
		}
		return false
	}
	m.bySig[sig] = len(m.items)
	m.items = append(m.items, p)
	return true
}

func (m *mergeSet) len() int { return len(m.items) }

func (m *mergeSet) sorted() []WorkflowPattern {
	out := make([]WorkflowPattern, len(m.items))
	copy(out, m.items)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].AutomationPotential != out[j].AutomationPotential {
			return out[i].AutomationPotential > out[j].AutomationPotential
		}
		return out[i].Confidence > out[j].Confidence
	})
	return out
}
