// Package store persists events, patterns, rules, preferences and the
// delivery queue.
//
// MemoryStore keeps everything in process and is used for tests and single
// node runs. PostgresStore is the durable implementation. Both satisfy
// behavior.EventStore, automation.RuleStore, notify.PreferenceStore and
// delivery.Queue.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/facebookgo/clock"

	"github.com/favouriweala/Task-Manager-App-sub000/internal/automation"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/behavior"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/delivery"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/notify"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/patterns"
)

// Common errors for stores.
var (
	// ErrNotFound is wrapped by every not-found error a store returns.
	ErrNotFound = errors.New("not found")

	// ErrPersistence is wrapped by every storage failure.
	ErrPersistence = errors.New("persistence error")
)

var (
	_ behavior.EventStore    = (*MemoryStore)(nil)
	_ automation.RuleStore   = (*MemoryStore)(nil)
	_ notify.PreferenceStore = (*MemoryStore)(nil)
	_ delivery.Queue         = (*MemoryStore)(nil)
)

// MemoryStore is an in-process store guarded by a single RWMutex.
type MemoryStore struct {
	mu    sync.RWMutex
	clock clock.Clock

	events   map[string][]behavior.Event
	patterns map[string][]patterns.WorkflowPattern

	rules        map[string]*automation.Rule
	ruleBySig    map[string]string
	routing      map[string]*automation.RoutingRule
	routingBySig map[string]string

	prefs  map[string]*notify.Preferences
	nrules map[string][]notify.Rule

	items map[string]*delivery.Item
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock sets the clock used for update timestamps.
func WithClock(c clock.Clock) MemoryOption {
	return func(s *MemoryStore) { s.clock = c }
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		clock:        clock.New(),
		events:       make(map[string][]behavior.Event),
		patterns:     make(map[string][]patterns.WorkflowPattern),
		rules:        make(map[string]*automation.Rule),
		ruleBySig:    make(map[string]string),
		routing:      make(map[string]*automation.RoutingRule),
		routingBySig: make(map[string]string),
		prefs:        make(map[string]*notify.Preferences),
		nrules:       make(map[string][]notify.Rule),
		items:        make(map[string]*delivery.Item),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func sigKey(userID, sig string) string { return userID + "|" + sig }

// --- events ---

// AppendEvent stores an event. Events with a duplicate ID are ignored.
func (s *MemoryStore) AppendEvent(ctx context.Context, e *behavior.Event) error {
	if e == nil {
		return fmt.Errorf("event cannot be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.events[e.UserID]
	if e.ID != "" {
		for _, existing := range list {
			if existing.ID == e.ID {
				return nil
			}
		}
	}
	cp := *e
	cp.Metadata = e.Metadata.Clone()
	s.events[e.UserID] = append(list, cp)
	return nil
}

// EventsBetween returns events with from <= timestamp < to, oldest first.
func (s *MemoryStore) EventsBetween(ctx context.Context, userID string, from, to time.Time) ([]behavior.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []behavior.Event{}
	for _, e := range s.events[userID] {
		if !e.Timestamp.Before(from) && e.Timestamp.Before(to) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// CountEventsSince counts events at or after since.
func (s *MemoryStore) CountEventsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, e := range s.events[userID] {
		if !e.Timestamp.Before(since) {
			n++
		}
	}
	return n, nil
}

// --- patterns and rules ---

// SavePattern stores p and marks older patterns with the same signature inactive.
func (s *MemoryStore) SavePattern(ctx context.Context, p *patterns.WorkflowPattern) error {
	if p == nil {
		return fmt.Errorf("pattern cannot be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.savePatternLocked(p)
	return nil
}

func (s *MemoryStore) savePatternLocked(p *patterns.WorkflowPattern) {
	sig := p.Signature()
	list := s.patterns[p.UserID]
	for i := range list {
		if list[i].ID != p.ID && list[i].Signature() == sig && list[i].Status != patterns.StatusInactive {
			list[i].Status = patterns.StatusInactive
		}
	}
	cp := *p
	cp.Conditions = p.Conditions.Clone()
	cp.Actions = p.Actions.Clone()
	s.patterns[p.UserID] = append(list, cp)
}

// ListPatterns returns the user's patterns, newest first.
func (s *MemoryStore) ListPatterns(ctx context.Context, userID string, status patterns.Status) ([]patterns.WorkflowPattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []patterns.WorkflowPattern{}
	list := s.patterns[userID]
	for i := len(list) - 1; i >= 0; i-- {
		if status == "" || list[i].Status == status {
			out = append(out, list[i])
		}
	}
	return out, nil
}

// SavePatternAndRule stores the pattern and creates r, or refreshes the
// confidence of the user's rule with the same signature.
func (s *MemoryStore) SavePatternAndRule(ctx context.Context, p *patterns.WorkflowPattern, r *automation.Rule) (*automation.Rule, bool, error) {
	if p == nil || r == nil {
		return nil, false, fmt.Errorf("pattern and rule are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.savePatternLocked(p)

	key := sigKey(r.UserID, r.Signature)
	if id, ok := s.ruleBySig[key]; ok {
		existing := s.rules[id]
		existing.Confidence = r.Confidence
		existing.PatternID = r.PatternID
		existing.UpdatedAt = r.UpdatedAt
		cp := cloneRule(existing)
		return &cp, false, nil
	}

	cp := cloneRule(r)
	s.rules[r.ID] = &cp
	s.ruleBySig[key] = r.ID
	out := cloneRule(&cp)
	return &out, true, nil
}

func cloneRule(r *automation.Rule) automation.Rule {
	cp := *r
	cp.TriggerConditions = r.TriggerConditions.Clone()
	cp.Actions = r.Actions.Clone()
	if r.LastTriggered != nil {
		t := *r.LastTriggered
		cp.LastTriggered = &t
	}
	return cp
}

func ruleNotFound(id string) error {
	return fmt.Errorf("rule %s: %w: %w", id, ErrNotFound, automation.ErrRuleNotFound)
}

// GetRule returns a rule by ID.
func (s *MemoryStore) GetRule(ctx context.Context, ruleID string) (*automation.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[ruleID]
	if !ok {
		return nil, ruleNotFound(ruleID)
	}
	cp := cloneRule(r)
	return &cp, nil
}

// ListRules returns the user's rules ordered by creation time.
func (s *MemoryStore) ListRules(ctx context.Context, userID string, status automation.RuleStatus) ([]automation.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []automation.Rule{}
	for _, r := range s.rules {
		if r.UserID == userID && (status == "" || r.Status == status) {
			out = append(out, cloneRule(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// UpdateRuleStats writes execution statistics.
func (s *MemoryStore) UpdateRuleStats(ctx context.Context, ruleID string, triggerCount int, successRate float64, lastTriggered time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[ruleID]
	if !ok {
		return ruleNotFound(ruleID)
	}
	t := lastTriggered
	r.TriggerCount = triggerCount
	r.SuccessRate = successRate
	r.LastTriggered = &t
	r.UpdatedAt = lastTriggered
	return nil
}

// SetRuleStatus changes a rule's status.
func (s *MemoryStore) SetRuleStatus(ctx context.Context, ruleID string, status automation.RuleStatus) (*automation.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[ruleID]
	if !ok {
		return nil, ruleNotFound(ruleID)
	}
	r.Status = status
	r.UpdatedAt = s.clock.Now()
	cp := cloneRule(r)
	return &cp, nil
}

// UpsertRoutingRule creates or refreshes a routing rule by signature.
func (s *MemoryStore) UpsertRoutingRule(ctx context.Context, r *automation.RoutingRule) (*automation.RoutingRule, bool, error) {
	if r == nil {
		return nil, false, fmt.Errorf("routing rule cannot be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sigKey(r.UserID, r.Signature)
	if id, ok := s.routingBySig[key]; ok {
		existing := s.routing[id]
		existing.Confidence = r.Confidence
		existing.Routing = r.Routing
		existing.UpdatedAt = r.UpdatedAt
		cp := cloneRouting(existing)
		return &cp, false, nil
	}
	cp := cloneRouting(r)
	s.routing[r.ID] = &cp
	s.routingBySig[key] = r.ID
	out := cloneRouting(&cp)
	return &out, true, nil
}

func cloneRouting(r *automation.RoutingRule) automation.RoutingRule {
	cp := *r
	cp.Conditions.Keywords = append([]string(nil), r.Conditions.Keywords...)
	cp.Routing.Labels = append([]string(nil), r.Routing.Labels...)
	return cp
}

// ListRoutingRules returns the user's routing rules, most confident first.
func (s *MemoryStore) ListRoutingRules(ctx context.Context, userID string, status automation.RuleStatus) ([]automation.RoutingRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []automation.RoutingRule{}
	for _, r := range s.routing {
		if r.UserID == userID && (status == "" || r.Status == status) {
			out = append(out, cloneRouting(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// IncrementRoutingUsage bumps a routing rule's usage count.
func (s *MemoryStore) IncrementRoutingUsage(ctx context.Context, ruleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.routing[ruleID]
	if !ok {
		return ruleNotFound(ruleID)
	}
	r.UsageCount++
	return nil
}

// --- preferences ---

// GetPreferences returns the user's stored preferences.
func (s *MemoryStore) GetPreferences(ctx context.Context, userID string) (*notify.Preferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prefs[userID]
	if !ok {
		return nil, fmt.Errorf("preferences for %s: %w: %w", userID, ErrNotFound, notify.ErrNoPreferences)
	}
	cp := clonePrefs(p)
	return &cp, nil
}

// SavePreferences upserts preferences.
func (s *MemoryStore) SavePreferences(ctx context.Context, p *notify.Preferences) error {
	if p == nil {
		return fmt.Errorf("preferences cannot be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := clonePrefs(p)
	cp.UpdatedAt = s.clock.Now()
	s.prefs[p.UserID] = &cp
	return nil
}

func clonePrefs(p *notify.Preferences) notify.Preferences {
	cp := *p
	cp.EnabledChannels = append([]string(nil), p.EnabledChannels...)
	cp.WorkingDays = append([]time.Weekday(nil), p.WorkingDays...)
	if p.CategoryFilters != nil {
		cp.CategoryFilters = make(map[notify.Category]bool, len(p.CategoryFilters))
		for k, v := range p.CategoryFilters {
			cp.CategoryFilters[k] = v
		}
	}
	return cp
}

// ListNotificationRules returns the user's notification rules.
func (s *MemoryStore) ListNotificationRules(ctx context.Context, userID string) ([]notify.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]notify.Rule{}, s.nrules[userID]...), nil
}

// SaveNotificationRule upserts a notification rule by ID.
func (s *MemoryStore) SaveNotificationRule(ctx context.Context, r *notify.Rule) error {
	if r == nil {
		return fmt.Errorf("notification rule cannot be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.nrules[r.UserID]
	for i := range list {
		if list[i].ID == r.ID {
			list[i] = *r
			return nil
		}
	}
	s.nrules[r.UserID] = append(list, *r)
	return nil
}

// --- delivery queue ---

func itemNotFound(id string) error {
	return fmt.Errorf("item %s: %w: %w", id, ErrNotFound, delivery.ErrItemNotFound)
}

// Enqueue stores a pending item.
func (s *MemoryStore) Enqueue(ctx context.Context, item *delivery.Item) error {
	if item == nil {
		return fmt.Errorf("item cannot be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *item
	if cp.Status == "" {
		cp.Status = delivery.StatusPending
	}
	s.items[item.ID] = &cp
	return nil
}

// ClaimDue leases due pending items, oldest first.
func (s *MemoryStore) ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]delivery.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*delivery.Item
	for _, it := range s.items {
		if it.Status != delivery.StatusPending || it.ScheduledFor.After(now) {
			continue
		}
		if it.ClaimedUntil != nil && it.ClaimedUntil.After(now) {
			continue
		}
		due = append(due, it)
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].ScheduledFor.Equal(due[j].ScheduledFor) {
			return due[i].ScheduledFor.Before(due[j].ScheduledFor)
		}
		return due[i].ID < due[j].ID
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	until := now.Add(lease)
	out := make([]delivery.Item, 0, len(due))
	for _, it := range due {
		u := until
		it.ClaimedUntil = &u
		out = append(out, *it)
	}
	return out, nil
}

// MarkSent records a delivery.
func (s *MemoryStore) MarkSent(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return itemNotFound(id)
	}
	t := at
	it.Status = delivery.StatusSent
	it.SentAt = &t
	it.ClaimedUntil = nil
	return nil
}

// MarkFailed records a failed attempt.
func (s *MemoryStore) MarkFailed(ctx context.Context, id string, reason string, retryAt time.Time, dead bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return itemNotFound(id)
	}
	it.Attempts++
	it.LastError = reason
	it.ClaimedUntil = nil
	if dead {
		it.Status = delivery.StatusDead
		return nil
	}
	it.ScheduledFor = retryAt
	return nil
}

// GetItem returns a queue item.
func (s *MemoryStore) GetItem(ctx context.Context, id string) (*delivery.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[id]
	if !ok {
		return nil, itemNotFound(id)
	}
	cp := *it
	return &cp, nil
}
