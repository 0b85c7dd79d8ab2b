package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// EngineID identifies a transcription engine implementation.
type EngineID string

// Known engine identifiers. The native engine is the primary path; compact
// is the smaller fallback used where the native engine is unsupported.
const (
	EngineNative  EngineID = "native"
	EngineCompact EngineID = "compact"
)

// ErrEngineNotRegistered is returned when the selected engine has no
// registered implementation.
var ErrEngineNotRegistered = errors.New("engine not registered")

// DeviceContext describes the capabilities of the host the worker runs on.
// It is captured once at startup and handed to the selector per item.
type DeviceContext struct {
	// SupportsNative reports whether the full-size engine can run here.
	SupportsNative bool

	// SupportsCompact reports whether the fallback engine can run here.
	SupportsCompact bool
}

// Selector picks which transcription engine to use for a given host.
type Selector interface {
	// SelectEngine returns the engine to use, or a precondition error when
	// no engine is viable.
	SelectEngine(ctx context.Context, device DeviceContext) (EngineID, error)
}

// CapabilitySelector prefers the native engine and falls back to the compact
// one. With neither available it fails the precondition.
type CapabilitySelector struct{}

// NewCapabilitySelector creates a CapabilitySelector.
func NewCapabilitySelector() *CapabilitySelector {
	return &CapabilitySelector{}
}

// SelectEngine returns the engine to use, or ErrNoEngine when the host
// supports none.
func (s *CapabilitySelector) SelectEngine(ctx context.Context, device DeviceContext) (EngineID, error) {
	switch {
	case device.SupportsNative:
		return EngineNative, nil
	case device.SupportsCompact:
		return EngineCompact, nil
	default:
		return "", ErrNoEngine
	}
}

// Engine converts captured audio into text.
type Engine interface {
	// ID returns the engine identifier used for selection.
	ID() EngineID

	// Transcribe produces a transcript for the audio file at audioPath.
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// Registry holds the engines installed on this host, keyed by ID.
type Registry struct {
	engines map[EngineID]Engine
}

// NewRegistry creates a Registry over the given engines.
func NewRegistry(engines ...Engine) *Registry {
	r := &Registry{engines: make(map[EngineID]Engine, len(engines))}
	for _, e := range engines {
		r.engines[e.ID()] = e
	}
	return r
}

// Engine returns the implementation for the given ID.
func (r *Registry) Engine(id EngineID) (Engine, error) {
	e, ok := r.engines[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEngineNotRegistered, id)
	}
	return e, nil
}

// DeviceContext derives host capabilities from the registered engines.
func (r *Registry) DeviceContext() DeviceContext {
	_, native := r.engines[EngineNative]
	_, compact := r.engines[EngineCompact]
	return DeviceContext{SupportsNative: native, SupportsCompact: compact}
}

// Ensure CapabilitySelector implements Selector
var _ Selector = (*CapabilitySelector)(nil)
