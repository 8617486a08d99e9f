package plugin

import (
	"context"
	"reflect"
)

// ActivateByType activates the first registered plugin, in registration
// order, whose dynamic type satisfies T.
func ActivateByType[T Plugin](ctx context.Context, m *Manager) Outcome {
	return m.apply(ctx, EventActivate, typeLabel[T](), m.first(matches[T]), activateCall)
}

// DeactivateByType deactivates the first registered plugin, in registration
// order, whose dynamic type satisfies T.
func DeactivateByType[T Plugin](ctx context.Context, m *Manager) Outcome {
	return m.apply(ctx, EventDeactivate, typeLabel[T](), m.first(matches[T]), deactivateCall)
}

// FindByType returns the first registered plugin whose dynamic type
// satisfies T.
func FindByType[T Plugin](m *Manager) (T, bool) {
	var zero T
	e := m.first(matches[T])
	if e == nil {
		return zero, false
	}
	return e.plugin.(T), true
}

func matches[T Plugin](p Plugin) bool {
	_, ok := p.(T)
	return ok
}

func typeLabel[T any]() string {
	return reflect.TypeFor[T]().String()
}
