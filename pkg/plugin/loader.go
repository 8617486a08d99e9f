package plugin

import (
	"errors"
	"fmt"
	goplugin "plugin"
)

// Loader resolves plugin binaries into Plugin implementations.
type Loader interface {
	Load(path string) (Plugin, error)
}

// LoaderFunc adapts a function into a Loader.
type LoaderFunc func(path string) (Plugin, error)

// Load implements Loader.
func (f LoaderFunc) Load(path string) (Plugin, error) { return f(path) }

// GoPluginLoader uses the Go standard library plugin mechanism to dynamically load modules.
type GoPluginLoader struct{}

// Load opens the shared object and searches for a `Plugin` symbol implementing the Plugin interface.
func (GoPluginLoader) Load(path string) (Plugin, error) {
	if path == "" {
		return nil, errors.New("plugin path cannot be empty")
	}
	so, err := goplugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	symbol, err := so.Lookup("Plugin")
	if err != nil {
		return nil, fmt.Errorf("lookup Plugin symbol: %w", err)
	}
	return resolveSymbol(symbol)
}

// resolveSymbol accepts the shapes a shared object may export under the
// Plugin symbol.
func resolveSymbol(symbol any) (Plugin, error) {
	switch p := symbol.(type) {
	case *Plugin:
		if p == nil || *p == nil {
			return nil, errors.New("plugin symbol is nil")
		}
		return *p, nil
	case func() Plugin:
		out := p()
		if out == nil {
			return nil, errors.New("plugin constructor returned nil")
		}
		return out, nil
	case Plugin:
		return p, nil
	default:
		return nil, fmt.Errorf("plugin symbol %T must implement plugin.Plugin", symbol)
	}
}
