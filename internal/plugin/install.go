package plugin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Install adds the plugin found at source. A source outside the plugin
// root is copied to <root>/<id> first. The new plugin is enabled and
// activated; an activation failure is returned but the plugin stays
// installed.
func (m *Manager) Install(ctx context.Context, source string) (*Record, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if !m.isInitialized() {
		return nil, ErrNotInitialized
	}
	if abs, err := filepath.Abs(source); err == nil {
		source = abs
	}

	man, err := m.loader.ReadManifest(source)
	if err != nil {
		return nil, err
	}
	if res := m.loader.Validate(man, source); !res.Valid {
		return nil, fmt.Errorf("%w: %s", ErrManifestInvalid, res.Err())
	}

	id := man.ID
	if _, err := m.record(id); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrDuplicatePlugin, id)
	}

	dest := source
	root, _ := filepath.Abs(m.config.Root)
	if !isWithin(root, source) {
		dest = filepath.Join(root, id)
		if exists, _ := afero.DirExists(m.fs, dest); exists {
			return nil, fmt.Errorf("%w: %s already exists", ErrDuplicatePlugin, dest)
		}
		if err := copyDir(m.fs, source, dest); err != nil {
			_ = m.fs.RemoveAll(dest)
			return nil, fmt.Errorf("failed to copy plugin %s: %w", id, err)
		}
	}

	rec, err := m.loader.Load(dest)
	if err != nil {
		return nil, err
	}
	rec.InstalledAt = time.Now()
	rec.Enabled = true

	if err := m.store.Set(ctx, id, true); err != nil {
		return nil, fmt.Errorf("failed to persist enabled state for %s: %w", id, err)
	}

	m.mu.Lock()
	m.enabled[id] = true
	m.insertLocked(rec)
	m.mu.Unlock()

	m.logger.Info("plugin installed", zap.String("plugin", id), zap.String("path", dest))
	m.updateMetrics()
	m.emit(Event{Type: EventPluginLoaded, PluginID: id, State: rec.State})

	if err := m.activateLocked(ctx, rec); err != nil {
		return rec.Clone(), err
	}
	return m.Get(id)
}

// Uninstall deactivates the plugin, deletes its directory and forgets it.
// Failing to delete files is logged, not returned.
func (m *Manager) Uninstall(ctx context.Context, id string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	rec, err := m.requireInitialized(id)
	if err != nil {
		return err
	}

	if err := m.deactivateLocked(ctx, rec); err != nil {
		m.logger.Warn("deactivate before uninstall failed", zap.String("plugin", id), zap.Error(err))
	}
	m.registry.UnregisterAll(id)

	if ep := entryPoint(rec); ep != "" {
		m.modules.Invalidate(ep)
	}

	if err := m.fs.RemoveAll(rec.Path); err != nil {
		m.logger.Warn("failed to remove plugin directory", zap.String("plugin", id), zap.String("path", rec.Path), zap.Error(err))
	}

	m.mu.Lock()
	m.removeLocked(id)
	delete(m.enabled, id)
	m.mu.Unlock()

	if err := m.store.Delete(ctx, id); err != nil {
		m.logger.Warn("failed to clear enabled state", zap.String("plugin", id), zap.Error(err))
	}

	m.logger.Info("plugin uninstalled", zap.String("plugin", id))
	m.updateMetrics()
	m.emit(Event{Type: EventPluginUninstalled, PluginID: id})
	return nil
}

// copyDir copies the tree at src to dst.
func copyDir(fsys afero.Fs, src, dst string) error {
	return afero.Walk(fsys, src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if info.IsDir() {
			return fsys.MkdirAll(target, info.Mode().Perm()|0o700)
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		return copyFile(fsys, path, target, info.Mode().Perm())
	})
}

func copyFile(fsys afero.Fs, src, dst string, perm os.FileMode) (err error) {
	in, err := fsys.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := fsys.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, out.Close())
	}()

	_, err = io.Copy(out, in)
	return err
}
