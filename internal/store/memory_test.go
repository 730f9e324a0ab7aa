package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/favouriweala/Task-Manager-App-sub000/internal/automation"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/behavior"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/delivery"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/notify"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/patterns"
)

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func testPattern(id string, conf float64) *patterns.WorkflowPattern {
	return &patterns.WorkflowPattern{
		ID:         id,
		UserID:     "u1",
		Type:       patterns.TypeSequence,
		Frequency:  0.5,
		Confidence: conf,
		Conditions: behavior.Metadata{"event_type": behavior.String("task_created")},
		Actions:    behavior.Metadata{"type": behavior.String("suggestNext")},
		Status:     patterns.StatusActive,
		CreatedAt:  base,
	}
}

// TestMemoryStore_Events tests range queries and counting.
func TestMemoryStore_Events(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for i := 0; i < 5; i++ {
		e, err := behavior.NewEvent("u1", behavior.EventTaskCreated, nil, base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)
		require.NoError(t, s.AppendEvent(ctx, e))
		if i == 0 {
			// Duplicate IDs are ignored.
			require.NoError(t, s.AppendEvent(ctx, e))
		}
	}

	events, err := s.EventsBetween(ctx, "u1", base.Add(time.Hour), base.Add(4*time.Hour))
	require.NoError(t, err)
	assert.Len(t, events, 3)
	assert.True(t, events[0].Timestamp.Before(events[2].Timestamp))

	n, err := s.CountEventsSince(ctx, "u1", base)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = s.CountEventsSince(ctx, "other", base)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// TestMemoryStore_SavePatternSupersedes tests that a newer pattern with the
// same signature deactivates the older one.
func TestMemoryStore_SavePatternSupersedes(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.SavePattern(ctx, testPattern("p1", 0.6)))
	require.NoError(t, s.SavePattern(ctx, testPattern("p2", 0.7)))

	all, err := s.ListPatterns(ctx, "u1", "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "p2", all[0].ID)
	assert.Equal(t, patterns.StatusActive, all[0].Status)
	assert.Equal(t, patterns.StatusInactive, all[1].Status)

	active, err := s.ListPatterns(ctx, "u1", patterns.StatusActive)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

// TestMemoryStore_SavePatternAndRule tests rule upsert by signature.
func TestMemoryStore_SavePatternAndRule(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	p1 := testPattern("p1", 0.65)
	r1 := &automation.Rule{
		ID:                "r1",
		UserID:            "u1",
		Name:              "first",
		Signature:         p1.Signature(),
		PatternID:         p1.ID,
		TriggerConditions: p1.Conditions,
		Actions:           p1.Actions,
		Confidence:        0.65,
		Status:            automation.StatusActive,
		CreatedAt:         base,
		UpdatedAt:         base,
	}
	saved, created, err := s.SavePatternAndRule(ctx, p1, r1)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "r1", saved.ID)

	p2 := testPattern("p2", 0.8)
	r2 := *r1
	r2.ID = "r2"
	r2.PatternID = "p2"
	r2.Confidence = 0.8
	saved, created, err = s.SavePatternAndRule(ctx, p2, &r2)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "r1", saved.ID)
	assert.InDelta(t, 0.8, saved.Confidence, 1e-9)
	assert.Equal(t, "p2", saved.PatternID)

	rules, err := s.ListRules(ctx, "u1", "")
	require.NoError(t, err)
	assert.Len(t, rules, 1)
}

// TestMemoryStore_RuleErrors tests not-found wrapping.
func TestMemoryStore_RuleErrors(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.GetRule(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(err, automation.ErrRuleNotFound))

	err = s.UpdateRuleStats(ctx, "missing", 1, 1, base)
	assert.ErrorIs(t, err, automation.ErrRuleNotFound)

	_, err = s.SetRuleStatus(ctx, "missing", automation.StatusInactive)
	assert.ErrorIs(t, err, automation.ErrRuleNotFound)

	err = s.IncrementRoutingUsage(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

// TestMemoryStore_RoutingRules tests routing upsert and ordering.
func TestMemoryStore_RoutingRules(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	low := &automation.RoutingRule{ID: "a", UserID: "u1", Signature: "s1", Confidence: 0.4, Status: automation.StatusActive}
	high := &automation.RoutingRule{ID: "b", UserID: "u1", Signature: "s2", Confidence: 0.9, Status: automation.StatusActive}
	_, created, err := s.UpsertRoutingRule(ctx, low)
	require.NoError(t, err)
	assert.True(t, created)
	_, _, err = s.UpsertRoutingRule(ctx, high)
	require.NoError(t, err)

	again := *low
	again.ID = "c"
	again.Confidence = 0.5
	saved, created, err := s.UpsertRoutingRule(ctx, &again)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "a", saved.ID)

	require.NoError(t, s.IncrementRoutingUsage(ctx, "a"))

	rules, err := s.ListRoutingRules(ctx, "u1", automation.StatusActive)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "b", rules[0].ID)
	assert.Equal(t, 1, rules[1].UsageCount)
}

// TestMemoryStore_Preferences tests preference round trips.
func TestMemoryStore_Preferences(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.GetPreferences(ctx, "u1")
	assert.ErrorIs(t, err, notify.ErrNoPreferences)
	assert.ErrorIs(t, err, ErrNotFound)

	prefs := notify.DefaultPreferences("u1")
	prefs.EnabledChannels = []string{notify.ChannelEmail}
	require.NoError(t, s.SavePreferences(ctx, prefs))

	got, err := s.GetPreferences(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{notify.ChannelEmail}, got.EnabledChannels)

	// Returned copies are independent.
	got.EnabledChannels[0] = "mutated"
	again, err := s.GetPreferences(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, notify.ChannelEmail, again.EnabledChannels[0])

	rule := &notify.Rule{ID: "n1", UserID: "u1", Name: "mute", Active: true}
	require.NoError(t, s.SaveNotificationRule(ctx, rule))
	rule.Name = "mute all"
	require.NoError(t, s.SaveNotificationRule(ctx, rule))
	rules, err := s.ListNotificationRules(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "mute all", rules[0].Name)
}

// TestMemoryStore_Queue tests claim leases and failure bookkeeping.
func TestMemoryStore_Queue(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for i, id := range []string{"late", "early", "future"} {
		due := base.Add(time.Duration(-i) * time.Minute)
		if id == "future" {
			due = base.Add(time.Hour)
		}
		require.NoError(t, s.Enqueue(ctx, &delivery.Item{ID: id, UserID: "u1", ScheduledFor: due, CreatedAt: base}))
	}

	claimed, err := s.ClaimDue(ctx, base, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, "early", claimed[0].ID)
	assert.Equal(t, "late", claimed[1].ID)

	again, err := s.ClaimDue(ctx, base.Add(30*time.Second), 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, again, "leased items are not claimable")

	require.NoError(t, s.MarkSent(ctx, "early", base))
	require.NoError(t, s.MarkFailed(ctx, "late", "boom", base.Add(5*time.Minute), false))

	late, err := s.GetItem(ctx, "late")
	require.NoError(t, err)
	assert.Equal(t, 1, late.Attempts)
	assert.Equal(t, delivery.StatusPending, late.Status)
	assert.Nil(t, late.ClaimedUntil)
	assert.Equal(t, base.Add(5*time.Minute), late.ScheduledFor)

	require.NoError(t, s.MarkFailed(ctx, "late", "boom", base, true))
	late, err = s.GetItem(ctx, "late")
	require.NoError(t, err)
	assert.Equal(t, delivery.StatusDead, late.Status)

	early, err := s.GetItem(ctx, "early")
	require.NoError(t, err)
	assert.True(t, early.Sent())

	_, err = s.GetItem(ctx, "missing")
	assert.ErrorIs(t, err, delivery.ErrItemNotFound)
}
