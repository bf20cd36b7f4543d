package plugin

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/dshills/plughost/internal/metrics"
	"github.com/dshills/plughost/internal/plugin/lua"
	"github.com/dshills/plughost/internal/plugin/module"
	"github.com/dshills/plughost/internal/plugin/registry"
	"github.com/dshills/plughost/internal/plugin/store"
	"github.com/dshills/plughost/internal/plugin/wasm"
)

// StorageDirName is the directory under the plugin root that holds
// per-plugin storage.
const StorageDirName = ".storage"

// Manager owns the plugin records and drives their lifecycle.
//
// Operations that change lifecycle state are serialized by opMu. The
// record table is guarded by mu so readers can query while a transition
// runs. Plugin code never receives the Manager, only a module.Context.
type Manager struct {
	opMu sync.Mutex
	mu   sync.RWMutex

	// Records by id, and ids in insertion order
	records map[string]*Record
	order   []string

	// Active plugin state
	contexts        map[string]*module.Context
	exports         map[string]*module.Exports
	activationOrder []string

	// Persisted enable/disable choices
	enabled map[string]bool

	initialized bool

	eventHandlers map[uint64]EventHandler
	nextHandler   uint64

	config   ManagerConfig
	fs       afero.Fs
	loader   *Loader
	modules  module.Loader
	registry *registry.Registry
	store    store.Store
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// ManagerConfig configures the plugin manager.
type ManagerConfig struct {
	// Root is the directory scanned for plugins.
	Root string

	// HostVersion is compared against manifests' engines.host.
	HostVersion string

	// ActivationTimeout bounds each activate/deactivate export. Zero
	// waits indefinitely.
	ActivationTimeout time.Duration

	// StorageRoot holds per-plugin storage directories. Defaults to
	// <Root>/.storage.
	StorageRoot string
}

// DefaultManagerConfig returns the values NewManager substitutes for zero
// fields. StorageRoot stays empty so it follows Root.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Root:        DefaultPluginRoot(),
		HostVersion: "0.0.0",
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithFS sets the filesystem. Defaults to the OS filesystem.
func WithFS(fsys afero.Fs) Option {
	return func(m *Manager) { m.fs = fsys }
}

// WithModuleLoader sets the loader for plugin entry points. Defaults to a
// mux serving .lua and .wasm files.
func WithModuleLoader(l module.Loader) Option {
	return func(m *Manager) { m.modules = l }
}

// WithRegistry sets the contribution registry.
func WithRegistry(r *registry.Registry) Option {
	return func(m *Manager) { m.registry = r }
}

// WithStore sets the enabled-state store. Defaults to a JSON file in the
// plugin root.
func WithStore(s store.Store) Option {
	return func(m *Manager) { m.store = s }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// NewManager creates a plugin manager. Nothing touches the filesystem
// until Initialize.
func NewManager(config ManagerConfig, opts ...Option) *Manager {
	m := &Manager{
		records:       make(map[string]*Record),
		contexts:      make(map[string]*module.Context),
		exports:       make(map[string]*module.Exports),
		enabled:       make(map[string]bool),
		eventHandlers: make(map[uint64]EventHandler),
		config:        config,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}

	defaults := DefaultManagerConfig()
	if m.config.Root == "" {
		m.config.Root = defaults.Root
	}
	if m.config.HostVersion == "" {
		m.config.HostVersion = defaults.HostVersion
	}
	if m.config.StorageRoot == "" {
		m.config.StorageRoot = filepath.Join(m.config.Root, StorageDirName)
	}
	if m.fs == nil {
		m.fs = afero.NewOsFs()
	}
	base := m.logger
	m.logger = base.Named("manager")
	m.loader = NewLoader(m.fs, WithLoaderLogger(base))
	if m.registry == nil {
		m.registry = registry.New(registry.WithLogger(base), registry.WithMetrics(m.metrics))
	}
	if m.modules == nil {
		mux := module.NewMux()
		mux.Handle(".lua", lua.NewLoader(m.fs, lua.WithLoaderLogger(base)))
		mux.Handle(".wasm", wasm.NewLoader(m.fs, wasm.WithLogger(base)))
		m.modules = mux
	}
	if m.store == nil {
		m.store = store.NewJSONFile(m.fs, filepath.Join(m.config.Root, store.JSONFileName))
	}
	return m
}

// Config returns the effective configuration.
func (m *Manager) Config() ManagerConfig {
	return m.config
}

// Registry returns the contribution registry.
func (m *Manager) Registry() *registry.Registry {
	return m.registry
}

// Initialize loads persisted choices, discovers plugins and activates the
// enabled ones that start with the host. A second call is a no-op.
func (m *Manager) Initialize(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if m.isInitialized() {
		m.logger.Warn("plugin manager already initialized")
		return nil
	}

	if err := m.fs.MkdirAll(m.config.Root, 0o755); err != nil {
		return fmt.Errorf("failed to create plugin root %s: %w", m.config.Root, err)
	}

	state, err := m.store.Load(ctx)
	switch {
	case errors.Is(err, store.ErrCorrupt):
		m.logger.Warn("ignoring corrupt enabled state", zap.Error(err))
	case err != nil:
		return fmt.Errorf("failed to load enabled state: %w", err)
	}

	records, err := m.loader.LoadAll(m.config.Root)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.enabled = state
	if m.enabled == nil {
		m.enabled = make(map[string]bool)
	}
	for _, rec := range records {
		rec.Enabled = m.isEnabledLocked(rec)
		m.insertLocked(rec)
	}
	m.initialized = true
	m.mu.Unlock()

	m.logger.Info("discovered plugins", zap.Int("count", len(records)), zap.String("root", m.config.Root))
	for _, rec := range records {
		m.emit(Event{Type: EventPluginLoaded, PluginID: rec.ID(), State: rec.State})
	}

	for _, rec := range records {
		if !rec.Enabled || rec.invalid || !rec.Manifest.ActivatesOnStartup() {
			continue
		}
		if err := m.activateLocked(ctx, rec); err != nil {
			m.logger.Error("startup activation failed", zap.String("plugin", rec.ID()), zap.Error(err))
		}
	}
	m.updateMetrics()
	return nil
}

func (m *Manager) isInitialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initialized
}

// insertLocked adds rec to the table. Caller holds m.mu.
func (m *Manager) insertLocked(rec *Record) {
	id := rec.ID()
	if _, exists := m.records[id]; !exists {
		m.order = append(m.order, id)
	}
	m.records[id] = rec
}

// removeLocked drops id from the table. Caller holds m.mu.
func (m *Manager) removeLocked(id string) {
	delete(m.records, id)
	m.order = slices.DeleteFunc(m.order, func(s string) bool { return s == id })
}

// isEnabledLocked resolves the effective enabled flag. Caller holds m.mu.
func (m *Manager) isEnabledLocked(rec *Record) bool {
	if v, ok := m.enabled[rec.ID()]; ok {
		return v
	}
	if rec.Manifest == nil {
		return true
	}
	return rec.Manifest.IsEnabledByDefault()
}

// record returns the live record for id.
func (m *Manager) record(id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPluginNotFound, id)
	}
	return rec, nil
}

// IsEnabled reports whether id is enabled: the persisted choice wins,
// otherwise the manifest default applies. Unknown ids are not enabled.
func (m *Manager) IsEnabled(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return false
	}
	return m.isEnabledLocked(rec)
}

// List returns snapshots of every record in discovery order.
func (m *Manager) List() []*Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Record, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.records[id].Clone())
	}
	return out
}

// ListByState returns snapshots of the records in state s.
func (m *Manager) ListByState(s State) []*Record {
	out := make([]*Record, 0)
	for _, rec := range m.List() {
		if rec.State == s {
			out = append(out, rec)
		}
	}
	return out
}

// Get returns a snapshot of the record for id.
func (m *Manager) Get(id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPluginNotFound, id)
	}
	return rec.Clone(), nil
}

// PluginIDForPath returns the id of the plugin whose directory contains
// path.
func (m *Manager) PluginIDForPath(path string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range m.order {
		if isWithin(m.records[id].Path, path) {
			return id, true
		}
	}
	return "", false
}

// StateCounts returns the number of records per state.
func (m *Manager) StateCounts() map[State]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[State]int, len(AllStates))
	for _, rec := range m.records {
		counts[rec.State]++
	}
	return counts
}

func (m *Manager) updateMetrics() {
	if m.metrics == nil {
		return
	}
	counts := make(map[string]int, len(AllStates))
	for _, s := range AllStates {
		counts[s.String()] = 0
	}
	for s, n := range m.StateCounts() {
		counts[s.String()] = n
	}
	m.metrics.SetStateCounts(counts)
}

// Shutdown deactivates every active plugin in reverse activation order
// and clears all in-memory state. Failures are logged, not returned.
// The enabled-state store is closed.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.RLock()
	active := slices.Clone(m.activationOrder)
	m.mu.RUnlock()

	for i := len(active) - 1; i >= 0; i-- {
		rec, err := m.record(active[i])
		if err != nil {
			continue
		}
		if err := m.deactivateLocked(ctx, rec); err != nil {
			m.logger.Error("shutdown deactivation failed", zap.String("plugin", rec.ID()), zap.Error(err))
		}
	}

	m.mu.Lock()
	for _, rec := range m.records {
		if ep := entryPoint(rec); ep != "" {
			m.modules.Invalidate(ep)
		}
	}
	m.records = make(map[string]*Record)
	m.order = nil
	m.contexts = make(map[string]*module.Context)
	m.exports = make(map[string]*module.Exports)
	m.activationOrder = nil
	m.enabled = make(map[string]bool)
	m.initialized = false
	m.mu.Unlock()

	m.registry.Clear()
	m.updateMetrics()

	if err := m.store.Close(); err != nil {
		m.logger.Warn("failed to close enabled-state store", zap.Error(err))
	}
	return nil
}

// entryPoint returns the absolute main entry point, or "".
func entryPoint(rec *Record) string {
	if rec.Manifest == nil || rec.Manifest.Main == "" {
		return ""
	}
	return filepath.Join(rec.Path, filepath.FromSlash(rec.Manifest.Main))
}

// isWithin reports whether path is dir or lies below it.
func isWithin(dir, path string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !filepath.IsAbs(rel) && !startsWithParent(rel))
}

func startsWithParent(rel string) bool {
	return len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator)
}

func zapPanic(p any) zap.Field {
	return zap.Any("panic", p)
}
