package plugin

import (
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dshills/plughost/internal/plugin/module"
	"github.com/dshills/plughost/internal/plugin/store"
)

const testRoot = "/plugins"

const helloManifest = `{
  "id": "hello",
  "name": "Hello",
  "version": "1.0.0",
  "main": "main.js",
  "contributes": {"commands": [{"id": "hello.say", "title": "Say Hello"}]},
  "activationEvents": ["onStartup"]
}`

// writeFiles creates files on fs, making parent directories as needed.
func writeFiles(t *testing.T, fs afero.Fs, files map[string]string) {
	t.Helper()
	for name, content := range files {
		require.NoError(t, fs.MkdirAll(filepath.Dir(name), 0o755))
		require.NoError(t, afero.WriteFile(fs, name, []byte(content), 0o644))
	}
}

// writePlugin creates <testRoot>/<dir> with a manifest and an empty main.js.
func writePlugin(t *testing.T, fs afero.Fs, dir, manifestJSON string) string {
	t.Helper()
	path := filepath.Join(testRoot, dir)
	writeFiles(t, fs, map[string]string{
		filepath.Join(path, "plugin.json"): manifestJSON,
		filepath.Join(path, "main.js"):     "",
	})
	return path
}

type fixture struct {
	fs      afero.Fs
	modules *module.Static
	logs    *observer.ObservedLogs
	logger  *zap.Logger
	config  ManagerConfig
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	return &fixture{
		fs:      afero.NewMemMapFs(),
		modules: module.NewStatic(),
		logs:    logs,
		logger:  zap.New(core),
		config:  ManagerConfig{Root: testRoot, HostVersion: "1.0.0"},
	}
}

// manager builds a Manager over the fixture's filesystem. Each call reads
// the enabled-state file afresh, like a process restart.
func (f *fixture) manager(opts ...Option) *Manager {
	base := []Option{
		WithFS(f.fs),
		WithModuleLoader(f.modules),
		WithLogger(f.logger),
		WithStore(store.NewJSONFile(f.fs, filepath.Join(testRoot, store.JSONFileName))),
	}
	return NewManager(f.config, append(base, opts...)...)
}

// mainPath returns the entry point path of the plugin in dir.
func mainPath(dir string) string {
	return filepath.Join(testRoot, dir, "main.js")
}
