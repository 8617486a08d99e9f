package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	xerrors "PluginHub/internal/errors"
	"PluginHub/pkg/logger"
)

const instrumentationName = "PluginHub/pkg/plugin"

// Manager keeps track of registered plugins and orchestrates their
// lifecycle. It embeds *Base, so the manager is itself a Plugin; it never
// registers itself into its own registry.
//
// Registered plugins are referenced, not owned: the caller constructs them
// and the manager holds them for its own lifetime.
type Manager struct {
	*Base

	mu       sync.RWMutex
	registry map[string]*entry
	order    []string

	defaults     []Value
	autoActivate []string
	loader       Loader
	factories    map[string]Factory
	observers    []Observer
	tracer       trace.Tracer
	pending      []registration
	log          *slog.Logger
}

var _ Coordinator = (*Manager)(nil)

type registration struct {
	id      string
	plugin  Plugin
	configs []Value
}

type entry struct {
	id          string
	plugin      Plugin
	configs     []Value
	initialized bool
}

// registryWalker is satisfied by *Manager and anything embedding it; it is
// used to refuse registrations that would make a coordinator reachable from
// itself.
type registryWalker interface {
	reaches(target *Manager) bool
}

// NewManager constructs a manager using the supplied configuration and
// options. Plugins passed through WithPlugin are registered first, followed
// by the enabled entries of cfg.Plugins.
func NewManager(cfg ManagerConfig, opts ...Option) (*Manager, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		Base:      NewBase(cfg.Name),
		registry:  make(map[string]*entry),
		defaults:  settingValues(cfg.Defaults),
		loader:    GoPluginLoader{},
		factories: map[string]Factory{KindBase: baseFactory},
		tracer:    otel.Tracer(instrumentationName),
		log:       logger.Named("plugin_manager").With(slog.String("coordinator", cfg.Name)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	pending := m.pending
	m.pending = nil
	for _, reg := range pending {
		if err := m.Register(reg.id, reg.plugin, reg.configs...); err != nil {
			return nil, err
		}
	}
	if err := m.loadConfigured(cfg); err != nil {
		return nil, err
	}
	return m, nil
}

// Register adds a plugin under id. Registration order is the fan-out order.
func (m *Manager) Register(id string, p Plugin, configs ...Value) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "plugin id cannot be empty")
	}
	if p == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("plugin %s implementation cannot be nil", id))
	}
	if other, ok := p.(*Manager); ok && other == m {
		return xerrors.New(xerrors.CodeRegistrationCycle, "plugin manager cannot register itself",
			xerrors.WithMetadata("plugin", id))
	}
	if w, ok := p.(registryWalker); ok && w.reaches(m) {
		return xerrors.New(xerrors.CodeRegistrationCycle,
			fmt.Sprintf("plugin %s already manages coordinator %s", id, m.Name()),
			xerrors.WithMetadata("plugin", id))
	}
	if id == m.Name() {
		return xerrors.New(xerrors.CodeConflict, fmt.Sprintf("plugin id %s is the coordinator name", id),
			xerrors.WithMetadata("plugin", id))
	}
	if info, ok := infoOf(p); ok && info.ID != "" && info.ID != id {
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("plugin id mismatch: %s != %s", info.ID, id))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.registry[id]; exists {
		return xerrors.New(xerrors.CodeConflict, fmt.Sprintf("plugin %s already registered", id),
			xerrors.WithMetadata("plugin", id))
	}
	m.registry[id] = &entry{id: id, plugin: p, configs: append([]Value(nil), configs...)}
	m.order = append(m.order, id)
	m.log.Info("plugin registered", slog.String("plugin", id), slog.String("type", fmt.Sprintf("%T", p)))
	return nil
}

// Init initialises every registered plugin with the coordinator default
// configuration, then initialises the manager itself with configs.
//
// The first plugin that returns an error or panics aborts the remaining
// batch and Init returns false. Plugins initialised before the failure stay
// initialised. A plugin returning false without an error is logged and the
// batch continues. Init never returns a non-nil error.
func (m *Manager) Init(ctx context.Context, configs ...Value) (bool, error) {
	runID := uuid.NewString()
	ctx, span := m.tracer.Start(ctx, "plugin.Manager.Init",
		trace.WithAttributes(attribute.String("plugin.run_id", runID)))
	defer span.End()

	started := time.Now()
	entries := m.snapshot()
	span.SetAttributes(attribute.Int("plugin.count", len(entries)))

	for _, e := range entries {
		m.log.Info("initializing plugin", slog.String("plugin", e.id), slog.String("run_id", runID))
		stepStarted := time.Now()
		ok, err := invoke(e.id, EventInit, func() (bool, error) {
			return e.plugin.Init(ctx, m.pluginConfigs(e)...)
		})
		ev := Event{RunID: runID, Plugin: e.id, Kind: EventInit, State: stateOf(e.plugin), Duration: time.Since(stepStarted)}
		if err != nil {
			m.logFailure("error initializing plugins", e.id, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "plugin init aborted")
			ev.Outcome, ev.Error = OutcomeFailed, err.Error()
			m.emit(ctx, ev)
			m.emit(ctx, Event{RunID: runID, Plugin: m.Name(), Kind: EventInitAll, Outcome: OutcomeFailed,
				State: m.State(), Error: err.Error(), Duration: time.Since(started)})
			logger.Audit().Warn("plugin fan-out aborted",
				slog.String("coordinator", m.Name()),
				slog.String("run_id", runID),
				slog.String("plugin", e.id),
				slog.String("error", err.Error()),
			)
			return false, nil
		}
		if ok {
			m.markInitialized(e)
			ev.Outcome = OutcomeSucceeded
		} else {
			m.log.Warn("plugin reported unsuccessful init", slog.String("plugin", e.id), slog.String("run_id", runID))
			ev.Outcome = OutcomeFailed
		}
		m.emit(ctx, ev)
	}

	ok, err := invoke(m.Name(), EventInit, func() (bool, error) {
		return m.Base.Init(ctx, configs...)
	})
	done := Event{RunID: runID, Plugin: m.Name(), Kind: EventInitAll, Outcome: OutcomeSucceeded,
		State: m.State(), Duration: time.Since(started)}
	if err != nil || !ok {
		if err != nil {
			m.logFailure("error initializing plugin manager", m.Name(), err)
			done.Error = err.Error()
		}
		done.Outcome = OutcomeFailed
		m.emit(ctx, done)
		return false, nil
	}
	m.emit(ctx, done)
	logger.Audit().Info("plugin fan-out completed",
		slog.String("coordinator", m.Name()),
		slog.String("run_id", runID),
		slog.Int("plugins", len(entries)),
	)
	return true, nil
}

// ActivatePlugin activates the plugin registered under id.
func (m *Manager) ActivatePlugin(ctx context.Context, id string) Outcome {
	return m.apply(ctx, EventActivate, id, m.lookup(id), activateCall)
}

// DeactivatePlugin deactivates the plugin registered under id.
func (m *Manager) DeactivatePlugin(ctx context.Context, id string) Outcome {
	return m.apply(ctx, EventDeactivate, id, m.lookup(id), deactivateCall)
}

// ExecutePlugin runs the unit of work of the plugin registered under id. A
// disabled plugin skips the work and the outcome is OutcomeFailed.
func (m *Manager) ExecutePlugin(ctx context.Context, id string, models ...Value) Outcome {
	return m.apply(ctx, EventExecute, id, m.lookup(id), func(ctx context.Context, p Plugin) (bool, error) {
		return p.Execute(ctx, models...)
	})
}

// ActivateConfigured activates every plugin whose configuration entry asked
// for activation, in configuration order. It reports whether all succeeded.
func (m *Manager) ActivateConfigured(ctx context.Context) bool {
	allOK := true
	for _, id := range m.autoActivate {
		if !m.ActivatePlugin(ctx, id).OK() {
			allOK = false
		}
	}
	return allOK
}

// DeactivateAll deactivates every registered plugin in reverse registration
// order and then the manager itself. Failures are logged and skipped.
func (m *Manager) DeactivateAll(ctx context.Context) bool {
	entries := m.snapshot()
	allOK := true
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if !m.apply(ctx, EventDeactivate, e.id, e, deactivateCall).OK() {
			allOK = false
		}
	}
	if ok, _ := m.Base.Deactivate(ctx); !ok {
		allOK = false
	}
	return allOK
}

// Plugin returns the plugin registered under id.
func (m *Manager) Plugin(id string) (Plugin, bool) {
	e := m.lookup(id)
	if e == nil {
		return nil, false
	}
	return e.plugin, true
}

// Len returns the number of registered plugins.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order)
}

// Statuses returns a view of every registered plugin in registration order.
// Plugin code runs after the registry lock is released.
func (m *Manager) Statuses() []Status {
	type row struct {
		e           *entry
		initialized bool
	}
	m.mu.RLock()
	rows := make([]row, 0, len(m.order))
	for _, id := range m.order {
		e := m.registry[id]
		rows = append(rows, row{e: e, initialized: e.initialized})
	}
	m.mu.RUnlock()

	out := make([]Status, 0, len(rows))
	for _, r := range rows {
		out = append(out, describe(r.e.id, r.e.plugin, r.initialized))
	}
	return out
}

// describe builds a Status from plugin code; a panic falls back to the
// registration id and an uninitialized state.
func describe(id string, p Plugin, initialized bool) Status {
	st := Status{ID: id, Name: id, State: stateOf(p), Initialized: initialized}
	if name := nameOf(p); name != "" {
		st.Name = name
	}
	if info, ok := infoOf(p); ok {
		st.Info = &info
		if info.Name != "" {
			st.Name = info.Name
		}
	}
	return st
}

func nameOf(p Plugin) (name string) {
	n, ok := p.(interface{ Name() string })
	if !ok {
		return ""
	}
	defer func() {
		if recover() != nil {
			name = ""
		}
	}()
	return n.Name()
}

func infoOf(p Plugin) (info Info, ok bool) {
	d, isDescriber := p.(Describer)
	if !isDescriber {
		return Info{}, false
	}
	defer func() {
		if recover() != nil {
			info, ok = Info{}, false
		}
	}()
	return d.Info(), true
}

// apply runs one targeted lifecycle call and converts every result,
// including panics, into an Outcome.
func (m *Manager) apply(ctx context.Context, kind EventKind, target string, e *entry, call func(context.Context, Plugin) (bool, error)) Outcome {
	ctx, span := m.tracer.Start(ctx, "plugin.Manager."+string(kind),
		trace.WithAttributes(attribute.String("plugin.target", target)))
	defer span.End()

	started := time.Now()
	m.log.Info("attempting plugin operation", slog.String("operation", string(kind)), slog.String("target", target))
	if e == nil {
		m.log.Info("no registered plugin matches target", slog.String("operation", string(kind)), slog.String("target", target))
		span.SetAttributes(attribute.String("plugin.outcome", string(OutcomeNotFound)))
		m.emit(ctx, Event{Plugin: target, Kind: kind, Outcome: OutcomeNotFound, Duration: time.Since(started)})
		return OutcomeNotFound
	}

	ok, err := invoke(e.id, kind, func() (bool, error) { return call(ctx, e.plugin) })
	ev := Event{Plugin: e.id, Kind: kind, Outcome: OutcomeSucceeded, State: stateOf(e.plugin), Duration: time.Since(started)}
	switch {
	case err != nil:
		m.logFailure("plugin operation failed", e.id, err, slog.String("operation", string(kind)))
		span.RecordError(err)
		span.SetStatus(codes.Error, "plugin operation failed")
		ev.Outcome, ev.Error = OutcomeFailed, err.Error()
	case !ok:
		m.log.Warn("plugin operation unsuccessful", slog.String("operation", string(kind)), slog.String("plugin", e.id),
			slog.String("state", ev.State.String()))
		ev.Outcome = OutcomeFailed
	default:
		m.log.Info("plugin operation applied", slog.String("operation", string(kind)), slog.String("plugin", e.id),
			slog.String("state", ev.State.String()))
	}
	span.SetAttributes(attribute.String("plugin.outcome", string(ev.Outcome)))
	m.emit(ctx, ev)
	if kind != EventExecute {
		logger.Audit().Info("plugin lifecycle operation",
			slog.String("coordinator", m.Name()),
			slog.String("operation", string(kind)),
			slog.String("plugin", e.id),
			slog.String("outcome", string(ev.Outcome)),
		)
	}
	return ev.Outcome
}

// first returns the first entry, in registration order, accepted by match.
func (m *Manager) first(match func(Plugin) bool) *entry {
	for _, e := range m.snapshot() {
		if match(e.plugin) {
			return e
		}
	}
	return nil
}

func (m *Manager) reaches(target *Manager) bool {
	if m == target {
		return true
	}
	for _, e := range m.snapshot() {
		if w, ok := e.plugin.(registryWalker); ok && w.reaches(target) {
			return true
		}
	}
	return false
}

func (m *Manager) lookup(id string) *entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.registry[id]
}

func (m *Manager) snapshot() []*entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*entry, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.registry[id])
	}
	return out
}

func (m *Manager) markInitialized(e *entry) {
	m.mu.Lock()
	e.initialized = true
	m.mu.Unlock()
}

func (m *Manager) pluginConfigs(e *entry) []Value {
	out := make([]Value, 0, len(m.defaults)+len(e.configs))
	out = append(out, m.defaults...)
	return append(out, e.configs...)
}

func (m *Manager) emit(ctx context.Context, ev Event) {
	if len(m.observers) == 0 {
		return
	}
	ev.ID = uuid.NewString()
	ev.Coordinator = m.Name()
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}
	for _, o := range m.observers {
		m.notify(ctx, o, ev)
	}
}

func (m *Manager) notify(ctx context.Context, o Observer, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("observer panicked", slog.Any("panic", r), slog.String("event", ev.ID))
		}
	}()
	o.Observe(ctx, ev)
}

func (m *Manager) logFailure(msg, id string, err error, attrs ...any) {
	args := []any{
		slog.String("plugin", id),
		slog.String("error", err.Error()),
		slog.Any("cause", xerrors.CauseOf(err)),
		slog.String("code", string(xerrors.CodeOf(err))),
		slog.String("severity", string(xerrors.SeverityOf(err))),
	}
	m.log.Error(msg, append(args, attrs...)...)
}

func (m *Manager) loadConfigured(cfg ManagerConfig) error {
	for _, pc := range cfg.Plugins {
		if !pc.Enabled {
			continue
		}
		p, err := m.build(cfg.PluginDir, pc)
		if err != nil {
			return err
		}
		if err := m.Register(pc.ID, p, settingValues(pc.Config)...); err != nil {
			return err
		}
		if pc.Activate {
			m.autoActivate = append(m.autoActivate, pc.ID)
		}
	}
	return nil
}

func (m *Manager) build(dir string, pc PluginConfig) (Plugin, error) {
	if pc.Path != "" {
		path := pc.Path
		if !filepath.IsAbs(path) && dir != "" {
			path = filepath.Join(dir, path)
		}
		p, err := m.loader.Load(path)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeLoadFailure, err, fmt.Sprintf("load plugin %s from %s", pc.ID, path))
		}
		return p, nil
	}
	factory, ok := m.factories[pc.Kind]
	if !ok {
		return nil, xerrors.New(xerrors.CodeConfigInvalid, fmt.Sprintf("plugin %s uses unknown kind %q", pc.ID, pc.Kind))
	}
	p, err := factory(pc.ID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeLoadFailure, err, fmt.Sprintf("build plugin %s", pc.ID))
	}
	if p == nil {
		return nil, xerrors.New(xerrors.CodeLoadFailure, fmt.Sprintf("factory %q returned no plugin for %s", pc.Kind, pc.ID))
	}
	return p, nil
}

// invoke calls into plugin code, turning a panic into a PLUGIN_PANIC error
// and any returned error into a PLUGIN_FAILURE error.
func invoke(id string, kind EventKind, call func() (bool, error)) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = xerrors.New(xerrors.CodePluginPanic,
				fmt.Sprintf("plugin %s panicked during %s: %v", id, kind, r),
				xerrors.WithMetadata("plugin", id))
		}
	}()
	ok, err = call()
	if err != nil {
		if _, coded := xerrors.From(err); !coded {
			err = xerrors.Wrap(xerrors.CodePluginFailure, err, fmt.Sprintf("plugin %s %s", id, kind),
				xerrors.WithMetadata("plugin", id))
		}
		return false, err
	}
	return ok, nil
}

func stateOf(p Plugin) (s State) {
	defer func() {
		if recover() != nil {
			s = StateUninitialized
		}
	}()
	return p.State()
}

func activateCall(ctx context.Context, p Plugin) (bool, error)   { return p.Activate(ctx) }
func deactivateCall(ctx context.Context, p Plugin) (bool, error) { return p.Deactivate(ctx) }

func settingValues(raw []string) []Value {
	out := make([]Value, 0, len(raw))
	for _, s := range raw {
		out = append(out, s)
	}
	return out
}
