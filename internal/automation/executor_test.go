package automation_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/favouriweala/Task-Manager-App-sub000/internal/automation"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/behavior"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/patterns"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/store"
)

type executorFixture struct {
	store    *store.MemoryStore
	cache    *automation.RuleCache
	executor *automation.Executor
	synth    *automation.Synthesizer
}

func newExecutorFixture(t *testing.T) *executorFixture {
	t.Helper()
	s := store.NewMemoryStore()
	c := newClock(monday)
	cache, err := automation.NewRuleCache(s, 16)
	require.NoError(t, err)
	ex, err := automation.NewExecutor(s, cache, nil, automation.WithExecutorClock(c))
	require.NoError(t, err)
	syn, err := automation.NewSynthesizer(s, cache, nil, automation.WithSynthesizerClock(c))
	require.NoError(t, err)
	return &executorFixture{store: s, cache: cache, executor: ex, synth: syn}
}

func (f *executorFixture) synthesize(t *testing.T, pats ...patterns.WorkflowPattern) []automation.Rule {
	t.Helper()
	res, err := f.synth.Synthesize(context.Background(), "u1", pats)
	require.NoError(t, err)
	return res.Created
}

// TestNewExecutor_Validation tests constructor validation.
func TestNewExecutor_Validation(t *testing.T) {
	_, err := automation.NewExecutor(nil, nil, nil)
	assert.Error(t, err)

	s := store.NewMemoryStore()
	_, err = automation.NewExecutor(s, nil, nil)
	assert.Error(t, err)
}

// TestApply_SuggestNext tests matching and statistics for a sequence rule.
func TestApply_SuggestNext(t *testing.T) {
	ctx := context.Background()
	f := newExecutorFixture(t)
	created := f.synthesize(t, sequencePattern("p1", 0.75, 0.65))
	require.Len(t, created, 1)

	execs, err := f.executor.Apply(ctx, "u1", behavior.EventTaskCreated, behavior.Metadata{"priority": behavior.String("high")})
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.True(t, execs[0].Success)
	require.NotNil(t, execs[0].Suggestion)
	assert.Equal(t, "task_assigned", execs[0].Suggestion.NextEventType)

	rule, err := f.store.GetRule(ctx, created[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, rule.TriggerCount)
	assert.InDelta(t, 1.0, rule.SuccessRate, 1e-9)
	require.NotNil(t, rule.LastTriggered)
	assert.True(t, rule.LastTriggered.Equal(monday))

	// Different event type does not match.
	execs, err = f.executor.Apply(ctx, "u1", behavior.EventTaskViewed, nil)
	require.NoError(t, err)
	assert.Empty(t, execs)
}

// TestApply_FailedActionCountsAgainstRate tests that a broken action lowers
// the success rate.
func TestApply_FailedActionCountsAgainstRate(t *testing.T) {
	ctx := context.Background()
	f := newExecutorFixture(t)

	good := sequencePattern("p1", 0.75, 0.65)
	broken := sequencePattern("p2", 0.75, 0.7)
	broken.Conditions = behavior.Metadata{"event_type": behavior.String("task_created"), "priority": behavior.String("high")}
	broken.Actions = behavior.Metadata{"type": behavior.String(automation.ActionAutoSet)}
	created := f.synthesize(t, good, broken)
	require.Len(t, created, 2)

	for i := 0; i < 2; i++ {
		execs, err := f.executor.Apply(ctx, "u1", behavior.EventTaskCreated, behavior.Metadata{"priority": behavior.String("high")})
		require.NoError(t, err)
		require.Len(t, execs, 2)
	}

	rules, err := f.store.ListRules(ctx, "u1", "")
	require.NoError(t, err)
	for _, r := range rules {
		assert.Equal(t, 2, r.TriggerCount)
		if r.PatternID == "p2" {
			assert.Zero(t, r.SuccessRate)
		} else {
			assert.InDelta(t, 1.0, r.SuccessRate, 1e-9)
		}
	}
}

// TestApply_TemporalRuleUsesClock tests day_of_week and time_block enrichment.
func TestApply_TemporalRuleUsesClock(t *testing.T) {
	ctx := context.Background()
	f := newExecutorFixture(t)

	p := sequencePattern("p1", 0.8, 0.9)
	p.Type = patterns.TypeTemporal
	p.Conditions = behavior.Metadata{
		"day_of_week": behavior.String("monday"),
		"time_block":  behavior.String(patterns.TimeBlockLabel(patterns.TimeBlock(monday))),
	}
	p.Actions = behavior.Metadata{
		"type":     behavior.String(automation.ActionSuggestNext),
		"schedule": behavior.String("Monday 08:00-12:00"),
	}
	f.synthesize(t, p)

	execs, err := f.executor.Apply(ctx, "u1", behavior.EventTaskViewed, nil)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, "Usual time: Monday 08:00-12:00", execs[0].Suggestion.Message)
}

// TestApplyEvent_TemporalRuleUsesEventTime tests that a tracked event is
// bucketed by its own timestamp and location, not by the clock.
func TestApplyEvent_TemporalRuleUsesEventTime(t *testing.T) {
	ctx := context.Background()
	f := newExecutorFixture(t)

	p := sequencePattern("p1", 0.8, 0.9)
	p.Type = patterns.TypeTemporal
	p.Conditions = behavior.Metadata{
		"day_of_week": behavior.String("wednesday"),
		"time_block":  behavior.String("08:00-12:00"),
	}
	p.Actions = behavior.Metadata{
		"type":     behavior.String(automation.ActionSuggestNext),
		"schedule": behavior.String("Wednesday 08:00-12:00"),
	}
	f.synthesize(t, p)

	sydney := time.FixedZone("AEDT", 11*60*60)
	tests := []struct {
		name    string
		at      time.Time
		matches bool
	}{
		{name: "late event from wednesday morning", at: time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC), matches: true},
		{name: "wednesday morning in the event's zone", at: time.Date(2026, 3, 11, 9, 0, 0, 0, sydney), matches: true},
		{name: "wednesday afternoon", at: time.Date(2026, 3, 4, 14, 0, 0, 0, time.UTC), matches: false},
		{name: "zero timestamp falls back to the monday clock", matches: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := &behavior.Event{ID: "e1", UserID: "u1", Type: behavior.EventTaskViewed, Timestamp: tt.at}
			execs, err := f.executor.ApplyEvent(ctx, ev)
			require.NoError(t, err)
			if tt.matches {
				require.Len(t, execs, 1)
				assert.Equal(t, "Usual time: Wednesday 08:00-12:00", execs[0].Suggestion.Message)
			} else {
				assert.Empty(t, execs)
			}
		})
	}

	_, err := f.executor.ApplyEvent(ctx, nil)
	assert.Error(t, err)
}

// TestApplyEvent_EntityType tests that entity_type is matchable.
func TestApplyEvent_EntityType(t *testing.T) {
	ctx := context.Background()
	f := newExecutorFixture(t)

	p := sequencePattern("p1", 0.8, 0.9)
	p.Type = patterns.TypeContext
	p.Conditions = behavior.Metadata{"entity_type": behavior.String("project")}
	f.synthesize(t, p)

	ev := &behavior.Event{ID: "e1", UserID: "u1", Type: behavior.EventTaskViewed, EntityType: "project", Timestamp: monday}
	execs, err := f.executor.ApplyEvent(ctx, ev)
	require.NoError(t, err)
	assert.Len(t, execs, 1)
}

// TestApply_ConcurrentStatistics tests that parallel executions of one rule
// never lose a trigger count.
func TestApply_ConcurrentStatistics(t *testing.T) {
	ctx := context.Background()
	f := newExecutorFixture(t)
	created := f.synthesize(t, sequencePattern("p1", 0.75, 0.65))
	require.Len(t, created, 1)

	const workers = 200
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			execs, err := f.executor.Apply(ctx, "u1", behavior.EventTaskCreated, nil)
			assert.NoError(t, err)
			assert.Len(t, execs, 1)
		}()
	}
	wg.Wait()

	rule, err := f.store.GetRule(ctx, created[0].ID)
	require.NoError(t, err)
	assert.Equal(t, workers, rule.TriggerCount)
	assert.InDelta(t, 1.0, rule.SuccessRate, 1e-9)
}

// TestApply_AutoSetAndPassThrough tests the remaining action kinds.
func TestApply_AutoSetAndPassThrough(t *testing.T) {
	ctx := context.Background()
	f := newExecutorFixture(t)

	auto := sequencePattern("p1", 0.8, 0.9)
	auto.Type = patterns.TypeContext
	auto.Conditions = behavior.Metadata{"project_id": behavior.String("proj-1")}
	auto.Actions = behavior.Metadata{
		"type":  behavior.String(automation.ActionAutoSet),
		"field": behavior.String("priority"),
		"value": behavior.String("high"),
	}
	custom := sequencePattern("p2", 0.8, 0.7)
	custom.Conditions = behavior.Metadata{"project_id": behavior.String("proj-1"), "event_type": behavior.String("task_updated")}
	custom.Actions = behavior.Metadata{"type": behavior.String("webhook"), "url": behavior.String("https://example.test")}
	f.synthesize(t, auto, custom)

	execs, err := f.executor.Apply(ctx, "u1", behavior.EventTaskUpdated, behavior.Metadata{"project_id": behavior.String("proj-1")})
	require.NoError(t, err)
	require.Len(t, execs, 2)

	// Most confident rule runs first.
	require.NotNil(t, execs[0].Assignment)
	assert.Equal(t, "priority", execs[0].Assignment.Field)
	assert.True(t, execs[0].Assignment.Value.Equal(behavior.String("high")))
	assert.Equal(t, "webhook", execs[1].PassThrough["type"].String())
}

// TestSetRuleStatus tests toggling a rule off and back on.
func TestSetRuleStatus(t *testing.T) {
	ctx := context.Background()
	f := newExecutorFixture(t)
	created := f.synthesize(t, sequencePattern("p1", 0.75, 0.65))
	id := created[0].ID

	_, err := f.executor.SetRuleStatus(ctx, id, automation.StatusInactive)
	require.NoError(t, err)
	execs, err := f.executor.Apply(ctx, "u1", behavior.EventTaskCreated, nil)
	require.NoError(t, err)
	assert.Empty(t, execs)

	_, err = f.executor.SetRuleStatus(ctx, id, automation.StatusActive)
	require.NoError(t, err)
	execs, err = f.executor.Apply(ctx, "u1", behavior.EventTaskCreated, nil)
	require.NoError(t, err)
	assert.Len(t, execs, 1)

	_, err = f.executor.SetRuleStatus(ctx, id, "paused")
	assert.ErrorIs(t, err, automation.ErrInvalidStatus)

	_, err = f.executor.SetRuleStatus(ctx, "missing", automation.StatusActive)
	assert.ErrorIs(t, err, automation.ErrRuleNotFound)
}

// TestPruneCandidates tests selection of underperforming rules.
func TestPruneCandidates(t *testing.T) {
	ctx := context.Background()
	f := newExecutorFixture(t)
	created := f.synthesize(t, sequencePattern("p1", 0.75, 0.65))
	require.NoError(t, f.store.UpdateRuleStats(ctx, created[0].ID, 10, 0.2, monday.Add(time.Hour)))

	rules, err := f.executor.PruneCandidates(ctx, "u1", 0.5, 5)
	require.NoError(t, err)
	assert.Len(t, rules, 1)

	rules, err = f.executor.PruneCandidates(ctx, "u1", 0.5, 20)
	require.NoError(t, err)
	assert.Empty(t, rules)
}

// TestNextSuccessRate tests the incremental average.
func TestNextSuccessRate(t *testing.T) {
	assert.InDelta(t, 1.0, automation.NextSuccessRate(0, 1, true), 1e-9)
	assert.InDelta(t, 0.5, automation.NextSuccessRate(1, 2, false), 1e-9)
	assert.InDelta(t, 2.0/3.0, automation.NextSuccessRate(0.5, 3, true), 1e-9)
	assert.InDelta(t, 0.4, automation.NextSuccessRate(0.4, 0, true), 1e-9)
}

// TestRuleCache_Update tests in-place updates of cached entries.
func TestRuleCache_Update(t *testing.T) {
	ctx := context.Background()
	f := newExecutorFixture(t)
	created := f.synthesize(t, sequencePattern("p1", 0.75, 0.65))

	rules, err := f.cache.Active(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, rules, 1)

	updated := created[0]
	updated.Status = automation.StatusInactive
	f.cache.Update(updated)

	rules, err = f.cache.Active(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, rules)

	// Mutating a returned slice does not touch the cache.
	f.cache.Invalidate("u1")
	rules, err = f.cache.Active(ctx, "u1")
	require.NoError(t, err)
	rules[0].Name = "mutated"
	again, err := f.cache.Active(ctx, "u1")
	require.NoError(t, err)
	assert.NotEqual(t, "mutated", again[0].Name)
}
