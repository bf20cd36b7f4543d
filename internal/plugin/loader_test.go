package plugin

import (
	"errors"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedLoader(fs afero.Fs) (*Loader, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return NewLoader(fs, WithLoaderLogger(zap.New(core))), logs
}

func TestDiscoverSortedAndSkipsDirsWithoutManifest(t *testing.T) {
	fs := afero.NewMemMapFs()
	writePlugin(t, fs, "zeta", `{"id":"zeta","name":"Zeta","version":"1.0.0"}`)
	writePlugin(t, fs, "alpha", `{"id":"alpha","name":"Alpha","version":"1.0.0"}`)
	require.NoError(t, fs.MkdirAll("/plugins/empty", 0o755))
	require.NoError(t, fs.MkdirAll("/plugins/.storage/alpha", 0o755))
	writeFiles(t, fs, map[string]string{"/plugins/stray.txt": "x"})

	l, logs := newObservedLoader(fs)
	dirs, err := l.Discover(testRoot)
	require.NoError(t, err)
	assert.Equal(t, []string{"/plugins/alpha", "/plugins/zeta"}, dirs)
	assert.Equal(t, 1, logs.FilterMessage("skipping directory without manifest").Len())
}

func TestDiscoverMissingRoot(t *testing.T) {
	l, _ := newObservedLoader(afero.NewMemMapFs())
	dirs, err := l.Discover("/nowhere")
	require.NoError(t, err)
	assert.Empty(t, dirs)
}

func TestLoadAllExcludesDirsWithoutManifest(t *testing.T) {
	fs := afero.NewMemMapFs()
	writePlugin(t, fs, "good", `{"id":"good","name":"Good","version":"1.0.0"}`)
	require.NoError(t, fs.MkdirAll("/plugins/no-manifest", 0o755))
	writeFiles(t, fs, map[string]string{"/plugins/broken/plugin.json": "{not json"})

	l, logs := newObservedLoader(fs)
	records, err := l.LoadAll(testRoot)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "good", records[0].ID())
	assert.Equal(t, StateLoaded, records[0].State)

	failed := logs.FilterMessage("failed to read manifest")
	require.Equal(t, 1, failed.Len())
	assert.Equal(t, zapcore.ErrorLevel, failed.All()[0].Level)
}

func TestReadManifestMissing(t *testing.T) {
	l, _ := newObservedLoader(afero.NewMemMapFs())
	_, err := l.ReadManifest("/plugins/none")
	assert.True(t, errors.Is(err, ErrManifestMissing))
}

func TestLoadInvalidManifestKeptInErrorState(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		want     string
	}{
		{"missing id", `{"name":"X","version":"1.0.0"}`, "id is required"},
		{"missing name", `{"id":"x","version":"1.0.0"}`, "name is required"},
		{"missing version", `{"id":"x","name":"X"}`, "version is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			dir := writePlugin(t, fs, "x", tt.manifest)
			l, _ := newObservedLoader(fs)

			m, err := l.ReadManifest(dir)
			require.NoError(t, err)
			res := l.Validate(m, dir)
			assert.False(t, res.Valid)
			assert.Contains(t, res.Errors, tt.want)

			rec, err := l.Load(dir)
			require.NoError(t, err)
			assert.Equal(t, StateError, rec.State)
			assert.True(t, rec.Invalid())
			assert.Contains(t, rec.Error, tt.want)
			assert.Equal(t, "x", rec.ID())
		})
	}
}

func TestLoadAllDuplicateFirstWins(t *testing.T) {
	fs := afero.NewMemMapFs()
	writePlugin(t, fs, "b-second", `{"id":"dup","name":"Second","version":"2.0.0"}`)
	writePlugin(t, fs, "a-first", `{"id":"dup","name":"First","version":"1.0.0"}`)

	l, logs := newObservedLoader(fs)
	records, err := l.LoadAll(testRoot)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "First", records[0].Manifest.Name)
	assert.Equal(t, "/plugins/a-first", records[0].Path)

	dups := logs.FilterMessage("duplicate plugin id, skipping")
	require.Equal(t, 1, dups.Len())
	assert.Equal(t, "/plugins/b-second", dups.All()[0].ContextMap()["dir"])
}

func TestLoadCollectsWarnings(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{
		"/plugins/bare/plugin.json": `{"id":"bare","name":"Bare","version":"0.1.0"}`,
	})
	l, _ := newObservedLoader(fs)

	rec, err := l.Load("/plugins/bare")
	require.NoError(t, err)
	assert.Equal(t, StateLoaded, rec.State)
	assert.Contains(t, rec.Warnings, "description is missing")
	assert.Contains(t, rec.Warnings, "neither main nor renderer entry point is declared")
}
