package services

import (
	"github.com/favouriweala/Task-Manager-App-sub000/internal/automation"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/behavior"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/delivery"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/notify"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/patterns"
)

// Registry provides access to the engine's components.
// Use accessor methods to retrieve individual services.
type Registry interface {
	Tracker() *behavior.Tracker
	Detector() *patterns.Detector
	Synthesizer() *automation.Synthesizer
	Executor() *automation.Executor
	Router() *automation.Router
	RuleCache() *automation.RuleCache
	Gate() *notify.Gate
	Scheduler() *delivery.Scheduler
	Events() behavior.EventStore
	Rules() automation.RuleStore
	Preferences() notify.PreferenceStore
}

// Options configures the registry with service instances.
type Options struct {
	Tracker     *behavior.Tracker
	Detector    *patterns.Detector
	Synthesizer *automation.Synthesizer
	Executor    *automation.Executor
	Router      *automation.Router
	RuleCache   *automation.RuleCache
	Gate        *notify.Gate
	Scheduler   *delivery.Scheduler
	Events      behavior.EventStore
	Rules       automation.RuleStore
	Preferences notify.PreferenceStore
}

// registry is the concrete implementation of Registry.
type registry struct {
	opts Options
}

// NewRegistry creates a new service registry.
func NewRegistry(opts Options) Registry {
	return &registry{opts: opts}
}

// With returns a registry that shares every component of r except those
// set in override.
func With(r Registry, override Options) Registry {
	base := Options{
		Tracker:     r.Tracker(),
		Detector:    r.Detector(),
		Synthesizer: r.Synthesizer(),
		Executor:    r.Executor(),
		Router:      r.Router(),
		RuleCache:   r.RuleCache(),
		Gate:        r.Gate(),
		Scheduler:   r.Scheduler(),
		Events:      r.Events(),
		Rules:       r.Rules(),
		Preferences: r.Preferences(),
	}
	if override.Tracker != nil {
		base.Tracker = override.Tracker
	}
	if override.Detector != nil {
		base.Detector = override.Detector
	}
	if override.Synthesizer != nil {
		base.Synthesizer = override.Synthesizer
	}
	if override.Executor != nil {
		base.Executor = override.Executor
	}
	if override.Router != nil {
		base.Router = override.Router
	}
	if override.RuleCache != nil {
		base.RuleCache = override.RuleCache
	}
	if override.Gate != nil {
		base.Gate = override.Gate
	}
	if override.Scheduler != nil {
		base.Scheduler = override.Scheduler
	}
	if override.Events != nil {
		base.Events = override.Events
	}
	if override.Rules != nil {
		base.Rules = override.Rules
	}
	if override.Preferences != nil {
		base.Preferences = override.Preferences
	}
	return NewRegistry(base)
}

func (r *registry) Tracker() *behavior.Tracker           { return r.opts.Tracker }
func (r *registry) Detector() *patterns.Detector         { return r.opts.Detector }
func (r *registry) Synthesizer() *automation.Synthesizer { return r.opts.Synthesizer }
func (r *registry) Executor() *automation.Executor       { return r.opts.Executor }
func (r *registry) Router() *automation.Router           { return r.opts.Router }
func (r *registry) RuleCache() *automation.RuleCache     { return r.opts.RuleCache }
func (r *registry) Gate() *notify.Gate                   { return r.opts.Gate }
func (r *registry) Scheduler() *delivery.Scheduler       { return r.opts.Scheduler }
func (r *registry) Events() behavior.EventStore          { return r.opts.Events }
func (r *registry) Rules() automation.RuleStore          { return r.opts.Rules }
func (r *registry) Preferences() notify.PreferenceStore  { return r.opts.Preferences }
