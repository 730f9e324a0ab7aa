// Package services provides the component registry of the behavior engine.
//
// The engine constructs every component once and exposes them through a
// Registry. On a config reload the engine swaps in a registry built with
// With(), replacing only the retuned components (detector, synthesizer)
// while stateful ones (tracker, scheduler, caches) are shared.
package services
