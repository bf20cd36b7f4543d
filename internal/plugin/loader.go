package plugin

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/dshills/plughost/internal/plugin/manifest"
)

// Loader discovers plugin directories and turns them into records.
type Loader struct {
	fs     afero.Fs
	logger *zap.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLoaderLogger sets the loader logger.
func WithLoaderLogger(l *zap.Logger) LoaderOption {
	return func(ld *Loader) {
		if l != nil {
			ld.logger = l
		}
	}
}

// NewLoader creates a loader reading from fsys.
func NewLoader(fsys afero.Fs, opts ...LoaderOption) *Loader {
	l := &Loader{fs: fsys, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.Named("loader")
	return l
}

// DefaultPluginRoot returns ~/.config/plughost/plugins, or a relative
// path when the home directory is unknown.
func DefaultPluginRoot() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "plughost", "plugins")
	}
	return filepath.Join(".plughost", "plugins")
}

// Discover returns the immediate subdirectories of root that contain a
// manifest, sorted by path. A missing root yields no plugins.
func (l *Loader) Discover(root string) ([]string, error) {
	entries, err := afero.ReadDir(l.fs, root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read plugin root %s: %w", root, err)
	}

	var dirs []string
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		ok, err := afero.Exists(l.fs, filepath.Join(dir, manifest.FileName))
		if err != nil || !ok {
			l.logger.Warn("skipping directory without manifest", zap.String("dir", dir))
			continue
		}
		dirs = append(dirs, dir)
	}
	slices.Sort(dirs)
	return dirs, nil
}

// ReadManifest reads dir's manifest. Unreadable or malformed manifests are
// logged and reported as ErrManifestMissing.
func (l *Loader) ReadManifest(dir string) (*manifest.Manifest, error) {
	path := filepath.Join(dir, manifest.FileName)
	m, err := manifest.ReadFile(l.fs, path)
	if err != nil {
		l.logger.Error("failed to read manifest", zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("%w: %s: %w", ErrManifestMissing, dir, err)
	}
	return m, nil
}

// Validate validates m against the files in dir.
func (l *Loader) Validate(m *manifest.Manifest, dir string) manifest.Result {
	return manifest.Validate(l.fs, m, dir)
}

// Load reads and validates one plugin directory. An invalid manifest
// yields a record in StateError; only a missing or malformed manifest is
// an error.
func (l *Loader) Load(dir string) (*Record, error) {
	abs, err := filepath.Abs(dir)
	if err == nil {
		dir = abs
	}

	m, err := l.ReadManifest(dir)
	if err != nil {
		return nil, err
	}

	rec := &Record{
		Manifest: m,
		Path:     dir,
		State:    StateInstalled,
		key:      filepath.Base(dir),
	}
	if info, err := l.fs.Stat(dir); err == nil {
		rec.InstalledAt = info.ModTime()
	}

	res := l.Validate(m, dir)
	rec.Warnings = res.Warnings
	for _, w := range res.Warnings {
		l.logger.Debug("manifest warning", zap.String("plugin", rec.ID()), zap.String("warning", w))
	}
	if !res.Valid {
		rec.State = StateError
		rec.Error = res.Err().Error()
		rec.invalid = true
		l.logger.Warn("invalid manifest",
			zap.String("plugin", rec.ID()),
			zap.String("dir", dir),
			zap.Strings("errors", res.Errors))
		return rec, nil
	}

	rec.State = StateLoaded
	return rec, nil
}

// LoadAll loads every plugin under root. When two directories declare the
// same id the first in path order wins.
func (l *Loader) LoadAll(root string) ([]*Record, error) {
	dirs, err := l.Discover(root)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]string, len(dirs))
	records := make([]*Record, 0, len(dirs))
	for _, dir := range dirs {
		rec, err := l.Load(dir)
		if err != nil {
			continue
		}
		id := rec.ID()
		if first, dup := seen[id]; dup {
			l.logger.Warn("duplicate plugin id, skipping",
				zap.String("plugin", id),
				zap.String("dir", rec.Path),
				zap.String("kept", first))
			continue
		}
		seen[id] = rec.Path
		records = append(records, rec)
	}
	return records, nil
}
