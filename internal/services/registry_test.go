package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/favouriweala/Task-Manager-App-sub000/internal/automation"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/patterns"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/store"
)

func TestNewRegistry(t *testing.T) {
	var _ Registry = (*registry)(nil)
}

func TestRegistryAccessors(t *testing.T) {
	reg := NewRegistry(Options{})

	assert.Nil(t, reg.Tracker())
	assert.Nil(t, reg.Detector())
	assert.Nil(t, reg.Synthesizer())
	assert.Nil(t, reg.Executor())
	assert.Nil(t, reg.Router())
	assert.Nil(t, reg.RuleCache())
	assert.Nil(t, reg.Gate())
	assert.Nil(t, reg.Scheduler())
	assert.Nil(t, reg.Events())
	assert.Nil(t, reg.Rules())
	assert.Nil(t, reg.Preferences())
}

func TestRegistryWithServices(t *testing.T) {
	st := store.NewMemoryStore()
	cache, err := automation.NewRuleCache(st, 16)
	require.NoError(t, err)
	synth, err := automation.NewSynthesizer(st, cache, nil)
	require.NoError(t, err)
	detector := patterns.NewDetector(nil)

	reg := NewRegistry(Options{
		Detector:    detector,
		Synthesizer: synth,
		RuleCache:   cache,
		Events:      st,
		Rules:       st,
		Preferences: st,
	})

	assert.Same(t, detector, reg.Detector())
	assert.Same(t, synth, reg.Synthesizer())
	assert.Same(t, cache, reg.RuleCache())
	assert.Equal(t, st, reg.Rules())
}

func TestWith(t *testing.T) {
	st := store.NewMemoryStore()
	cache, err := automation.NewRuleCache(st, 16)
	require.NoError(t, err)
	oldDetector := patterns.NewDetector(nil)
	newDetector := patterns.NewDetector(nil, patterns.WithScorer(patterns.Scorer{
		KeepFrequency:    0.3,
		KeepConfidence:   0.5,
		ComplexityWeight: 0.5,
	}))

	base := NewRegistry(Options{Detector: oldDetector, RuleCache: cache, Rules: st})
	next := With(base, Options{Detector: newDetector})

	assert.Same(t, newDetector, next.Detector())
	assert.Same(t, cache, next.RuleCache(), "unchanged components are shared")
	assert.Equal(t, st, next.Rules())
	assert.Same(t, oldDetector, base.Detector(), "base registry is not modified")
}
