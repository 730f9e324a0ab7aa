package automation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"go.uber.org/zap"

	"github.com/favouriweala/Task-Manager-App-sub000/internal/behavior"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/patterns"
)

// Action types understood by the executor. Any other type passes through.
const (
	ActionSuggestNext = "suggestNext"
	ActionAutoSet     = "autoSet"
)

// Suggestion is the output of a suggestNext action.
type Suggestion struct {
	NextEventType string `json:"next_event_type,omitempty"`
	Schedule      string `json:"schedule,omitempty"`
	Message       string `json:"message"`
}

// FieldAssignment is the output of an autoSet action.
type FieldAssignment struct {
	Field string         `json:"field"`
	Value behavior.Value `json:"value"`
}

// Execution reports one rule invocation.
type Execution struct {
	RuleID      string            `json:"rule_id"`
	RuleName    string            `json:"rule_name"`
	Success     bool              `json:"success"`
	Error       string            `json:"error,omitempty"`
	Suggestion  *Suggestion       `json:"suggestion,omitempty"`
	Assignment  *FieldAssignment  `json:"assignment,omitempty"`
	PassThrough behavior.Metadata `json:"pass_through,omitempty"`
}

// Executor matches events against a user's active rules and runs their actions.
type Executor struct {
	store  RuleStore
	cache  *RuleCache
	clock  clock.Clock
	logger *zap.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithExecutorClock sets the clock.
func WithExecutorClock(c clock.Clock) ExecutorOption {
	return func(e *Executor) { e.clock = c }
}

// NewExecutor creates an executor.
func NewExecutor(store RuleStore, cache *RuleCache, logger *zap.Logger, opts ...ExecutorOption) (*Executor, error) {
	if store == nil {
		return nil, fmt.Errorf("rule store cannot be nil")
	}
	if cache == nil {
		return nil, fmt.Errorf("rule cache cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Executor{
		store:  store,
		cache:  cache,
		clock:  clock.New(),
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Apply runs every active rule of the user whose trigger conditions are all
// present in data with equal values. data is enriched with event_type and,
// when absent, the current day_of_week and time_block.
//
// Each matched rule's statistics are updated even when its action fails. An
// error on one rule never stops the others; only loading the rules can fail.
func (e *Executor) Apply(ctx context.Context, userID string, eventType behavior.EventType, data behavior.Metadata) ([]Execution, error) {
	return e.apply(ctx, userID, eventType, data, time.Time{})
}

// ApplyEvent is Apply for a tracked event. Temporal facts come from the
// event's timestamp in its own location, the same way DetectTemporal buckets
// events, and entity_type is added when set.
func (e *Executor) ApplyEvent(ctx context.Context, ev *behavior.Event) ([]Execution, error) {
	if ev == nil {
		return nil, fmt.Errorf("event cannot be nil")
	}
	data := ev.Metadata.Clone()
	if data == nil {
		data = behavior.Metadata{}
	}
	if ev.EntityType != "" {
		data["entity_type"] = behavior.String(ev.EntityType)
	}
	return e.apply(ctx, ev.UserID, ev.Type, data, ev.Timestamp)
}

func (e *Executor) apply(ctx context.Context, userID string, eventType behavior.EventType, data behavior.Metadata, at time.Time) ([]Execution, error) {
	rules, err := e.cache.Active(ctx, userID)
	if err != nil {
		return nil, err
	}

	facts := e.enrich(eventType, data, at)
	out := []Execution{}
	for i := range rules {
		r := &rules[i]
		if len(r.TriggerConditions) == 0 || !r.TriggerConditions.Subset(facts) {
			continue
		}

		exec := execute(r)
		recordExecution(exec.Success)
		if !exec.Success {
			e.logger.Warn("automation rule action failed",
				zap.String("user_id", userID),
				zap.String("rule_id", r.ID),
				zap.String("error", exec.Error))
		}

		if err := e.recordOutcome(ctx, r, exec.Success); err != nil {
			e.logger.Error("updating rule statistics failed",
				zap.String("user_id", userID),
				zap.String("rule_id", r.ID),
				zap.Error(err))
		}
		out = append(out, exec)
	}

	if len(out) > 0 {
		e.logger.Debug("automation rules applied",
			zap.String("user_id", userID),
			zap.String("event_type", string(eventType)),
			zap.Int("matched", len(out)))
	}
	return out, nil
}

// enrich derives the facts rules are matched against. at is the moment the
// event happened; the zero time means now.
func (e *Executor) enrich(eventType behavior.EventType, data behavior.Metadata, at time.Time) behavior.Metadata {
	facts := data.Clone()
	if facts == nil {
		facts = behavior.Metadata{}
	}
	if eventType != "" {
		facts["event_type"] = behavior.String(string(eventType))
	}
	if at.IsZero() {
		at = e.clock.Now()
	}
	if _, ok := facts["day_of_week"]; !ok {
		facts["day_of_week"] = behavior.String(strings.ToLower(at.Weekday().String()))
	}
	if _, ok := facts["time_block"]; !ok {
		facts["time_block"] = behavior.String(patterns.TimeBlockLabel(patterns.TimeBlock(at)))
	}
	return facts
}

func execute(r *Rule) Execution {
	exec := Execution{RuleID: r.ID, RuleName: r.Name}

	actionType, _ := r.Actions["type"].Str()
	switch actionType {
	case ActionSuggestNext:
		next, _ := r.Actions["next_event_type"].Str()
		schedule, _ := r.Actions["schedule"].Str()
		if next == "" && schedule == "" {
			return failed(exec, "suggestNext needs next_event_type or schedule")
		}
		msg := "Next: " + next
		if next == "" {
			msg = "Usual time: " + schedule
		}
		exec.Suggestion = &Suggestion{NextEventType: next, Schedule: schedule, Message: msg}

	case ActionAutoSet:
		field, _ := r.Actions["field"].Str()
		value, ok := r.Actions["value"]
		if field == "" || !ok || value.IsNull() {
			return failed(exec, "autoSet needs field and value")
		}
		exec.Assignment = &FieldAssignment{Field: field, Value: value}

	default:
		exec.PassThrough = r.Actions.Clone()
	}

	exec.Success = true
	return exec
}

func failed(exec Execution, msg string) Execution {
	exec.Success = false
	exec.Error = fmt.Errorf("%w: %s", ErrRuleExecution, msg).Error()
	return exec
}

// recordOutcome reloads the rule and folds in one outcome under the user's lock.
func (e *Executor) recordOutcome(ctx context.Context, r *Rule, success bool) error {
	lock := e.userLock(r.UserID)
	lock.Lock()
	defer lock.Unlock()

	current, err := e.store.GetRule(ctx, r.ID)
	if err != nil {
		return err
	}

	now := e.clock.Now()
	current.TriggerCount++
	current.SuccessRate = NextSuccessRate(current.SuccessRate, current.TriggerCount, success)
	current.LastTriggered = &now
	current.UpdatedAt = now

	if err := e.store.UpdateRuleStats(ctx, current.ID, current.TriggerCount, current.SuccessRate, now); err != nil {
		return err
	}
	e.cache.Update(*current)
	return nil
}

func (e *Executor) userLock(userID string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	l, ok := e.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[userID] = l
	}
	return l
}

// SetRuleStatus toggles a rule and refreshes the owner's cache entry.
func (e *Executor) SetRuleStatus(ctx context.Context, ruleID string, status RuleStatus) (*Rule, error) {
	if _, err := ParseStatus(string(status)); err != nil {
		return nil, err
	}
	r, err := e.store.SetRuleStatus(ctx, ruleID, status)
	if err != nil {
		return nil, err
	}
	e.cache.Invalidate(r.UserID)
	e.logger.Info("automation rule status changed",
		zap.String("user_id", r.UserID),
		zap.String("rule_id", r.ID),
		zap.String("status", string(status)))
	return r, nil
}

// PruneCandidates lists the user's active rules that ran at least minTriggers
// times with a success rate below minSuccess. Disabling them is left to the
// operator.
func (e *Executor) PruneCandidates(ctx context.Context, userID string, minSuccess float64, minTriggers int) ([]Rule, error) {
	rules, err := e.store.ListRules(ctx, userID, StatusActive)
	if err != nil {
		return nil, fmt.Errorf("listing rules: %w", err)
	}
	out := []Rule{}
	for _, r := range rules {
		if r.TriggerCount >= minTriggers && r.SuccessRate < minSuccess {
			out = append(out, r)
		}
	}
	return out, nil
}
