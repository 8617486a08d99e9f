// Package plugin implements the plugin lifecycle contract, a reusable base
// implementation and the coordinator that fans lifecycle calls out to a
// registered set of plugins.
package plugin

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// Value is an opaque configuration or model entry. A nil Value is absent and
// is skipped by every implementation in this package.
type Value = any

// Plugin defines the lifecycle hooks that each plugin implementation must
// satisfy. The boolean result is the success signal; a returned error (or a
// panic) is an unexpected failure.
type Plugin interface {
	// State reports the current lifecycle position.
	State() State
	// Init prepares the plugin. It does not change State.
	Init(ctx context.Context, configs ...Value) (bool, error)
	// Activate moves the plugin to StateEnabled from any state.
	Activate(ctx context.Context) (bool, error)
	// Deactivate moves the plugin to StateDisabled from any state.
	Deactivate(ctx context.Context) (bool, error)
	// Execute performs the unit of work, only when enabled.
	Execute(ctx context.Context, models ...Value) (bool, error)
}

// Describer is implemented by plugins that expose descriptive metadata.
type Describer interface {
	Info() Info
}

// Coordinator is the capability set of a plugin that manages other plugins.
type Coordinator interface {
	Plugin
	Name() string
	ActivatePlugin(ctx context.Context, id string) Outcome
	DeactivatePlugin(ctx context.Context, id string) Outcome
	ExecutePlugin(ctx context.Context, id string, models ...Value) Outcome
	Statuses() []Status
}

// Observer receives coordinator events. Implementations must not block for
// long: they run on the goroutine driving the lifecycle call.
type Observer interface {
	Observe(ctx context.Context, event Event)
}

// ObserverFunc adapts a function into an Observer.
type ObserverFunc func(ctx context.Context, event Event)

// Observe implements Observer.
func (f ObserverFunc) Observe(ctx context.Context, event Event) { f(ctx, event) }

// Setting is a single key=value configuration entry.
type Setting struct {
	Key   string
	Value string
}

// String renders the setting in its key=value form.
func (s Setting) String() string { return s.Key + "=" + s.Value }

// ParseSetting splits a key=value string. Entries without '=' or with an
// empty key are rejected.
func ParseSetting(raw string) (Setting, bool) {
	key, value, ok := strings.Cut(raw, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return Setting{}, false
	}
	return Setting{Key: key, Value: strings.TrimSpace(value)}, true
}

// Absent reports whether v carries no value: a nil interface or a typed nil
// pointer, map, slice, channel or func.
func Absent(v Value) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// Settings collects the key=value entries among configs. Absent entries and
// values that are neither Setting nor key=value strings are ignored; later
// entries win.
func Settings(configs ...Value) map[string]string {
	out := make(map[string]string)
	for _, cfg := range configs {
		if Absent(cfg) {
			continue
		}
		switch v := cfg.(type) {
		case Setting:
			out[v.Key] = v.Value
		case *Setting:
			out[v.Key] = v.Value
		case string:
			if s, ok := ParseSetting(v); ok {
				out[s.Key] = s.Value
			}
		case fmt.Stringer:
			if s, ok := ParseSetting(v.String()); ok {
				out[s.Key] = s.Value
			}
		}
	}
	return out
}

// Factory builds an in-process plugin for the given registration id.
type Factory func(id string) (Plugin, error)

// Option modifies the behaviour of a plugin manager instance.
type Option func(*Manager)

// WithLoader overrides the default shared-object loader implementation.
func WithLoader(loader Loader) Option {
	return func(m *Manager) {
		if loader != nil {
			m.loader = loader
		}
	}
}

// WithFactory registers a plugin factory addressable by kind from the
// manager configuration.
func WithFactory(kind string, factory Factory) Option {
	return func(m *Manager) {
		if kind == "" || factory == nil {
			return
		}
		m.factories[kind] = factory
	}
}

// WithPlugin registers an already constructed plugin. Plugins are registered
// in option order, which is also the fan-out order.
func WithPlugin(id string, p Plugin, configs ...Value) Option {
	return func(m *Manager) {
		m.pending = append(m.pending, registration{id: id, plugin: p, configs: configs})
	}
}

// WithObserver adds an event observer.
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		if o != nil {
			m.observers = append(m.observers, o)
		}
	}
}

// WithTracer overrides the tracer used for lifecycle spans.
func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) {
		if t != nil {
			m.tracer = t
		}
	}
}
