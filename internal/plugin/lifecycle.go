package plugin

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dshills/plughost/internal/plugin/manifest"
	"github.com/dshills/plughost/internal/plugin/module"
)

// ErrTimeout is returned when an activate or deactivate export overruns
// ManagerConfig.ActivationTimeout.
var ErrTimeout = errors.New("plugin lifecycle call timed out")

// Activate activates the plugin. Activating an active plugin is a no-op.
func (m *Manager) Activate(ctx context.Context, id string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	rec, err := m.requireInitialized(id)
	if err != nil {
		return err
	}
	return m.activateLocked(ctx, rec)
}

// Deactivate deactivates the plugin. Deactivating an inactive plugin is a
// no-op.
func (m *Manager) Deactivate(ctx context.Context, id string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	rec, err := m.requireInitialized(id)
	if err != nil {
		return err
	}
	return m.deactivateLocked(ctx, rec)
}

// Enable persists the enabled choice and activates the plugin if needed.
func (m *Manager) Enable(ctx context.Context, id string) error {
	return m.setEnabled(ctx, id, true)
}

// Disable persists the disabled choice and deactivates the plugin if needed.
func (m *Manager) Disable(ctx context.Context, id string) error {
	return m.setEnabled(ctx, id, false)
}

func (m *Manager) setEnabled(ctx context.Context, id string, enabled bool) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	rec, err := m.requireInitialized(id)
	if err != nil {
		return err
	}

	if err := m.store.Set(ctx, id, enabled); err != nil {
		return fmt.Errorf("failed to persist enabled state for %s: %w", id, err)
	}

	m.mu.Lock()
	m.enabled[id] = enabled
	rec.Enabled = enabled
	m.mu.Unlock()

	if enabled {
		return m.activateLocked(ctx, rec)
	}
	return m.deactivateLocked(ctx, rec)
}

// setState moves rec to s under the table lock.
func (m *Manager) setState(rec *Record, s State, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(rec, s, errMsg)
}

// transitionLocked moves rec to s if the lifecycle allows it. Caller
// holds m.mu.
func (m *Manager) transitionLocked(rec *Record, s State, errMsg string) error {
	if !CanTransition(rec.State, s) {
		m.logger.Error("illegal plugin state transition",
			zap.String("plugin", rec.ID()),
			zap.Stringer("from", rec.State),
			zap.Stringer("to", s))
		return fmt.Errorf("%w: %s: %s -> %s", ErrIllegalTransition, rec.ID(), rec.State, s)
	}
	rec.State = s
	rec.Error = errMsg
	return nil
}

// requireInitialized returns the record for id once the manager is ready.
func (m *Manager) requireInitialized(id string) (*Record, error) {
	if !m.isInitialized() {
		return nil, ErrNotInitialized
	}
	return m.record(id)
}

// activateLocked runs the activation sequence. Caller holds opMu.
func (m *Manager) activateLocked(ctx context.Context, rec *Record) error {
	id := rec.ID()

	m.mu.RLock()
	state := rec.State
	m.mu.RUnlock()
	if !state.CanActivate() {
		return nil
	}
	if rec.invalid {
		return fmt.Errorf("%w: %s: %s", ErrManifestInvalid, id, rec.Error)
	}

	if !manifest.CheckEngineCompatibility(rec.Manifest, m.config.HostVersion) {
		err := &EngineIncompatibleError{
			PluginID:    id,
			Required:    rec.Manifest.Engines.Host,
			HostVersion: m.config.HostVersion,
		}
		m.mu.Lock()
		rec.Error = err.Error()
		m.mu.Unlock()
		m.logger.Warn("plugin requires a newer host",
			zap.String("plugin", id),
			zap.String("required", err.Required),
			zap.String("host", err.HostVersion))
		return err
	}

	if err := m.setState(rec, StateActivating, ""); err != nil {
		return err
	}
	start := time.Now()

	pctx := module.NewContext(module.ContextConfig{
		PluginID:     id,
		PluginPath:   rec.Path,
		ActivationID: uuid.NewString(),
		HostVersion:  m.config.HostVersion,
		StoragePath:  filepath.Join(m.config.StorageRoot, id),
		Permissions:  rec.Manifest.Permissions,
		Logger:       m.logger.Named(id),
		Registry:     m.registry,
	})

	m.registry.RegisterContributions(id, rec.Manifest.Contributes)

	exports, err := m.runActivation(ctx, rec, pctx)
	if err != nil {
		if derr := pctx.Dispose(); derr != nil {
			m.logger.Warn("cleanup after failed activation", zap.String("plugin", id), zap.Error(derr))
		}
		m.registry.UnregisterAll(id)
		_ = m.setState(rec, StateError, err.Error())
		m.metrics.ObserveActivation("error", time.Since(start))
		m.logger.Error("plugin activation failed", zap.String("plugin", id), zap.Error(err))
		m.updateMetrics()
		m.emit(Event{Type: EventPluginError, PluginID: id, State: StateError, Err: err})
		return &ActivationError{PluginID: id, Err: err}
	}

	m.mu.Lock()
	_ = m.transitionLocked(rec, StateActive, "")
	rec.ActivatedAt = time.Now()
	m.contexts[id] = pctx
	m.exports[id] = exports
	m.activationOrder = append(m.activationOrder, id)
	m.mu.Unlock()

	m.metrics.ObserveActivation("success", time.Since(start))
	m.logger.Info("plugin activated", zap.String("plugin", id), zap.Duration("took", time.Since(start)))
	m.updateMetrics()
	m.emit(Event{Type: EventPluginActivated, PluginID: id, State: StateActive})
	return nil
}

// runActivation loads the entry point and calls its activate export.
// A plugin without main has nothing to run.
func (m *Manager) runActivation(ctx context.Context, rec *Record, pctx *module.Context) (*module.Exports, error) {
	ep := entryPoint(rec)
	if ep == "" {
		return nil, nil
	}

	exports, err := m.modules.Load(ctx, ep)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", rec.Manifest.Main, err)
	}
	if exports == nil || exports.Activate == nil {
		return exports, nil
	}

	err = m.guard(ctx, func(ctx context.Context) error {
		return exports.Activate(ctx, pctx)
	})
	return exports, err
}

// deactivateLocked runs the deactivation sequence. Caller holds opMu.
func (m *Manager) deactivateLocked(ctx context.Context, rec *Record) error {
	id := rec.ID()

	m.mu.Lock()
	if rec.State != StateActive {
		m.mu.Unlock()
		return nil
	}
	_ = m.transitionLocked(rec, StateDeactivating, "")
	pctx := m.contexts[id]
	exports := m.exports[id]
	m.mu.Unlock()

	var exportErr error
	if exports != nil && exports.Deactivate != nil {
		exportErr = m.guard(ctx, exports.Deactivate)
		if exportErr != nil {
			m.logger.Error("plugin deactivate failed", zap.String("plugin", id), zap.Error(exportErr))
		}
	}

	if pctx != nil {
		// Dispose logs each failing disposer itself.
		_ = pctx.Dispose()
	}
	m.registry.UnregisterAll(id)

	m.mu.Lock()
	delete(m.contexts, id)
	delete(m.exports, id)
	m.activationOrder = slices.DeleteFunc(m.activationOrder, func(s string) bool { return s == id })
	rec.ActivatedAt = time.Time{}
	if exportErr != nil {
		_ = m.transitionLocked(rec, StateError, exportErr.Error())
	} else {
		_ = m.transitionLocked(rec, StateInactive, "")
	}
	m.mu.Unlock()
	m.updateMetrics()

	if exportErr != nil {
		m.metrics.IncDeactivation("error")
		m.emit(Event{Type: EventPluginError, PluginID: id, State: StateError, Err: exportErr})
		return &DeactivationError{PluginID: id, Err: exportErr}
	}
	m.metrics.IncDeactivation("success")
	m.logger.Info("plugin deactivated", zap.String("plugin", id))
	m.emit(Event{Type: EventPluginDeactivated, PluginID: id, State: StateInactive})
	return nil
}

// guard calls fn, converting a panic into an error and applying the
// configured timeout.
func (m *Manager) guard(ctx context.Context, fn func(context.Context) error) error {
	if m.config.ActivationTimeout <= 0 {
		return callRecover(ctx, fn)
	}

	ctx, cancel := context.WithTimeout(ctx, m.config.ActivationTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- callRecover(ctx, fn)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s", ErrTimeout, m.config.ActivationTimeout)
		}
		return ctx.Err()
	}
}

func callRecover(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("plugin panicked: %v", p)
		}
	}()
	return fn(ctx)
}

// Reload deactivates the plugin if active, drops its cached module,
// re-reads the manifest from the same directory and reactivates it when
// enabled.
func (m *Manager) Reload(ctx context.Context, id string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	rec, err := m.requireInitialized(id)
	if err != nil {
		return err
	}

	if err := m.deactivateLocked(ctx, rec); err != nil {
		m.logger.Warn("deactivate before reload failed", zap.String("plugin", id), zap.Error(err))
	}
	if ep := entryPoint(rec); ep != "" {
		m.modules.Invalidate(ep)
	}

	fresh, err := m.loader.Load(rec.Path)
	if err != nil {
		_ = m.setState(rec, StateError, err.Error())
		m.updateMetrics()
		m.emit(Event{Type: EventPluginError, PluginID: id, State: StateError, Err: err})
		return fmt.Errorf("failed to reload %s: %w", id, err)
	}

	if fresh.ID() != id {
		err := fmt.Errorf("plugin id changed from %q to %q", id, fresh.ID())
		_ = m.setState(rec, StateError, err.Error())
		m.updateMetrics()
		m.emit(Event{Type: EventPluginError, PluginID: id, State: StateError, Err: err})
		return err
	}

	m.mu.Lock()
	if !rec.InstalledAt.IsZero() {
		fresh.InstalledAt = rec.InstalledAt
	}
	fresh.Enabled = m.isEnabledLocked(fresh)
	m.records[id] = fresh
	m.mu.Unlock()

	m.logger.Info("plugin reloaded", zap.String("plugin", id))
	m.updateMetrics()
	m.emit(Event{Type: EventPluginLoaded, PluginID: id, State: fresh.State})

	if !fresh.Enabled || fresh.invalid {
		return nil
	}
	return m.activateLocked(ctx, fresh)
}
