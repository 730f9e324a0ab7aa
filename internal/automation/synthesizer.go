package automation

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/favouriweala/Task-Manager-App-sub000/internal/patterns"
)

const tracerName = "github.com/favouriweala/Task-Manager-App-sub000/internal/automation"

// Synthesis defaults.
const (
	DefaultMinPotential     = 0.7
	DefaultMinConfidence    = 0.6
	DefaultMinRoutingGroup  = 3
	routingConfidenceFactor = 5.0
)

// SynthesisResult summarizes one Synthesize call.
type SynthesisResult struct {
	// Created holds rules that did not exist before.
	Created []Rule `json:"created"`

	// Existing holds rules whose signature was already known; only their
	// confidence was refreshed.
	Existing []Rule `json:"existing"`

	// BelowThreshold counts patterns that did not qualify.
	BelowThreshold int `json:"below_threshold"`

	// Failed counts patterns whose persistence failed.
	Failed int `json:"failed"`
}

// Skipped returns how many qualifying patterns produced no new rule.
func (r *SynthesisResult) Skipped() int {
	return len(r.Existing)
}

// Synthesizer promotes qualifying patterns to rules.
type Synthesizer struct {
	store           RuleStore
	cache           *RuleCache
	minPotential    float64
	minConfidence   float64
	minRoutingGroup int
	clock           clock.Clock
	logger          *zap.Logger
	tracer          trace.Tracer
}

// SynthesizerOption configures a Synthesizer.
type SynthesizerOption func(*Synthesizer)

// WithThresholds sets the strict lower bounds a pattern must clear.
func WithThresholds(minPotential, minConfidence float64) SynthesizerOption {
	return func(s *Synthesizer) {
		s.minPotential = minPotential
		s.minConfidence = minConfidence
	}
}

// WithMinRoutingGroup sets how many tasks a (priority, assignee) group needs.
func WithMinRoutingGroup(n int) SynthesizerOption {
	return func(s *Synthesizer) { s.minRoutingGroup = n }
}

// WithSynthesizerClock sets the clock.
func WithSynthesizerClock(c clock.Clock) SynthesizerOption {
	return func(s *Synthesizer) { s.clock = c }
}

// NewSynthesizer creates a synthesizer. cache may be nil.
func NewSynthesizer(store RuleStore, cache *RuleCache, logger *zap.Logger, opts ...SynthesizerOption) (*Synthesizer, error) {
	if store == nil {
		return nil, fmt.Errorf("rule store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Synthesizer{
		store:           store,
		cache:           cache,
		minPotential:    DefaultMinPotential,
		minConfidence:   DefaultMinConfidence,
		minRoutingGroup: DefaultMinRoutingGroup,
		clock:           clock.New(),
		logger:          logger,
		tracer:          otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Qualifies reports whether a pattern is strong enough to become a rule.
func (s *Synthesizer) Qualifies(p *patterns.WorkflowPattern) bool {
	return p.AutomationPotential > s.minPotential && p.Confidence > s.minConfidence
}

// Synthesize stores every pattern and promotes the qualifying ones to rules.
// A failure on one pattern is logged and counted; the rest are still processed.
// Only a cancelled ctx returns an error.
func (s *Synthesizer) Synthesize(ctx context.Context, userID string, pats []patterns.WorkflowPattern) (*SynthesisResult, error) {
	ctx, span := s.tracer.Start(ctx, "automation.Synthesize",
		trace.WithAttributes(
			attribute.String("user_id", userID),
			attribute.Int("patterns", len(pats)),
		))
	defer span.End()

	result := &SynthesisResult{Created: []Rule{}, Existing: []Rule{}}
	touched := false

	for i := range pats {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		p := pats[i]
		if p.UserID == "" {
			p.UserID = userID
		}

		if !s.Qualifies(&p) {
			result.BelowThreshold++
			RulesSynthesized.WithLabelValues("below_threshold").Inc()
			if err := s.store.SavePattern(ctx, &p); err != nil {
				s.logger.Warn("saving pattern failed",
					zap.String("user_id", userID),
					zap.String("pattern_id", p.ID),
					zap.Error(err))
			}
			continue
		}

		p.Status = patterns.StatusApplied
		stored, created, err := s.store.SavePatternAndRule(ctx, &p, s.ruleFor(&p))
		if err != nil {
			result.Failed++
			RulesSynthesized.WithLabelValues("error").Inc()
			span.RecordError(err)
			s.logger.Error("persisting rule failed",
				zap.String("user_id", userID),
				zap.String("pattern_id", p.ID),
				zap.String("pattern_type", string(p.Type)),
				zap.Error(err))
			continue
		}
		touched = true

		if created {
			result.Created = append(result.Created, *stored)
			RulesSynthesized.WithLabelValues("created").Inc()
			s.logger.Info("automation rule created",
				zap.String("user_id", userID),
				zap.String("rule_id", stored.ID),
				zap.String("rule_name", stored.Name),
				zap.Float64("confidence", stored.Confidence))
		} else {
			result.Existing = append(result.Existing, *stored)
			RulesSynthesized.WithLabelValues("existing").Inc()
		}
	}

	if touched && s.cache != nil {
		s.cache.Invalidate(userID)
	}

	span.SetAttributes(
		attribute.Int("rules.created", len(result.Created)),
		attribute.Int("rules.existing", len(result.Existing)),
	)
	return result, nil
}

func (s *Synthesizer) ruleFor(p *patterns.WorkflowPattern) *Rule {
	now := s.clock.Now()
	name := p.SuggestedRule
	if name == "" {
		name = p.Description
	}
	return &Rule{
		ID:                uuid.New().String(),
		UserID:            p.UserID,
		Name:              name,
		Signature:         Signature(p),
		PatternID:         p.ID,
		PatternType:       p.Type,
		TriggerConditions: p.Conditions.Clone(),
		Actions:           p.Actions.Clone(),
		Confidence:        patterns.Clamp01(p.Confidence),
		Status:            StatusActive,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// TaskRecord is one completed or assigned task from assignment history.
type TaskRecord struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Priority       string    `json:"priority"`
	Assignee       string    `json:"assignee"`
	ProjectID      string    `json:"project_id,omitempty"`
	Labels         []string  `json:"labels,omitempty"`
	EstimatedHours float64   `json:"estimated_hours,omitempty"`
	CompletedAt    time.Time `json:"completed_at,omitempty"`
}

// SynthesizeRoutingRules groups tasks by (priority, assignee) and upserts a
// routing rule for every group with at least the minimum number of tasks.
// Confidence is min(count/total*5, 1). Tasks without an assignee count toward
// the total but never form a group.
func (s *Synthesizer) SynthesizeRoutingRules(ctx context.Context, userID string, tasks []TaskRecord) ([]RoutingRule, error) {
	total := len(tasks)
	if total == 0 {
		return []RoutingRule{}, nil
	}

	type groupKey struct{ priority, assignee string }
	groups := make(map[groupKey][]TaskRecord)
	for _, t := range tasks {
		if t.Assignee == "" {
			continue
		}
		k := groupKey{priority: strings.ToLower(t.Priority), assignee: t.Assignee}
		groups[k] = append(groups[k], t)
	}

	keys := make([]groupKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].priority != keys[j].priority {
			return keys[i].priority < keys[j].priority
		}
		return keys[i].assignee < keys[j].assignee
	})

	now := s.clock.Now()
	out := []RoutingRule{}
	for _, k := range keys {
		members := groups[k]
		if len(members) < s.minRoutingGroup {
			continue
		}
		cond := RoutingConditions{Priority: k.priority}
		rule := &RoutingRule{
			ID:         uuid.New().String(),
			UserID:     userID,
			Signature:  RoutingSignature(cond, k.assignee),
			Conditions: cond,
			Routing: Routing{
				Assignee:       k.assignee,
				Priority:       k.priority,
				Labels:         commonLabels(members),
				EstimatedHours: averageEstimate(members),
			},
			Confidence: math.Min(float64(len(members))/float64(total)*routingConfidenceFactor, 1),
			Status:     StatusActive,
			CreatedAt:  now,
			UpdatedAt:  now,
		}

		stored, created, err := s.store.UpsertRoutingRule(ctx, rule)
		if err != nil {
			s.logger.Error("persisting routing rule failed",
				zap.String("user_id", userID),
				zap.String("assignee", k.assignee),
				zap.String("priority", k.priority),
				zap.Error(err))
			continue
		}
		if created {
			s.logger.Info("routing rule created",
				zap.String("user_id", userID),
				zap.String("rule_id", stored.ID),
				zap.String("assignee", k.assignee),
				zap.Float64("confidence", stored.Confidence))
		}
		out = append(out, *stored)
	}
	return out, nil
}

// commonLabels returns labels carried by more than half of the tasks.
func commonLabels(tasks []TaskRecord) []string {
	counts := make(map[string]int)
	for _, t := range tasks {
		seen := make(map[string]bool)
		for _, l := range t.Labels {
			if !seen[l] {
				seen[l] = true
				counts[l]++
			}
		}
	}
	var out []string
	for l, n := range counts {
		if n*2 > len(tasks) {
			out = append(out, l)
		}
	}
	sort.Strings(out)
	return out
}

// averageEstimate averages the positive estimates, rounded to a quarter hour.
func averageEstimate(tasks []TaskRecord) float64 {
	sum, n := 0.0, 0
	for _, t := range tasks {
		if t.EstimatedHours > 0 {
			sum += t.EstimatedHours
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return math.Round(sum/float64(n)*4) / 4
}
