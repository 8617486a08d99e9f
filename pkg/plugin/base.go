package plugin

import (
	"context"
	"log/slog"
	"sync"

	"PluginHub/pkg/logger"
)

// WorkFunc is the unit of work run by Base.Run once the enabled gate passes.
type WorkFunc func(ctx context.Context, models []Value) error

// Base provides the default, observable lifecycle transitions. Concrete
// plugins embed *Base and override Init and Execute as needed.
type Base struct {
	name string

	mu          sync.RWMutex
	state       State
	initialized bool
}

var _ Plugin = (*Base)(nil)

// NewBase constructs a Base and immediately deactivates it, so a plugin does
// nothing until it is deliberately activated.
func NewBase(name string) *Base {
	b := &Base{name: name}
	_, _ = b.Deactivate(context.Background())
	return b
}

// Name returns the name used in diagnostics.
func (b *Base) Name() string {
	if b.name == "" {
		return "plugin"
	}
	return b.name
}

// State implements Plugin.
func (b *Base) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Enabled reports whether Execute would perform work.
func (b *Base) Enabled() bool {
	return b.State() == StateEnabled
}

// Initialized reports whether Init has completed at least once.
func (b *Base) Initialized() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.initialized
}

// Init logs every configuration value that is present and records that
// initialisation ran. It never fails.
func (b *Base) Init(_ context.Context, configs ...Value) (bool, error) {
	log := b.log()
	log.Info("initializing plugin", slog.Int("configs", len(configs)))
	for _, cfg := range configs {
		if Absent(cfg) {
			continue
		}
		log.Info("applying configuration object", slog.Any("config", cfg))
	}
	b.mu.Lock()
	b.initialized = true
	b.mu.Unlock()
	return true, nil
}

// Activate implements Plugin.
func (b *Base) Activate(context.Context) (bool, error) {
	return b.transition("activating plugin", StateEnabled), nil
}

// Deactivate implements Plugin.
func (b *Base) Deactivate(context.Context) (bool, error) {
	return b.transition("deactivating plugin", StateDisabled), nil
}

// Execute implements Plugin. The default unit of work is a log line.
func (b *Base) Execute(ctx context.Context, models ...Value) (bool, error) {
	return b.Run(ctx, models, nil)
}

// Run is the execution gate: when the plugin is enabled it runs work (if
// any) and returns true, otherwise it skips and returns false.
func (b *Base) Run(ctx context.Context, models []Value, work WorkFunc) (bool, error) {
	state := b.State()
	log := b.log()
	if state != StateEnabled {
		log.Info("skipping execution", slog.String("state", state.String()))
		return false, nil
	}
	log.Info("executing plugin", slog.String("state", state.String()), slog.Int("models", len(models)))
	if work == nil {
		return true, nil
	}
	if err := work(ctx, models); err != nil {
		return false, err
	}
	return true, nil
}

func (b *Base) transition(msg string, to State) bool {
	log := b.log()
	log.Info(msg)
	b.mu.Lock()
	b.state = to
	b.mu.Unlock()
	log.Info("plugin state set", slog.String("state", to.String()))
	return true
}

func (b *Base) log() *slog.Logger {
	return logger.Named("plugin").With(slog.String("plugin", b.Name()))
}
