package config

import (
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/plughost/internal/plugin/store"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(afero.NewMemMapFs(), "/etc/plughost.toml")
	require.NoError(t, err)

	assert.Equal(t, "1.0.0", cfg.Host.Version)
	assert.Equal(t, "json", cfg.Plugins.StateStore)
	assert.Equal(t, store.KindJSON, cfg.Plugins.Store())
	assert.Equal(t, time.Duration(0), cfg.Plugins.Timeout())
	assert.Equal(t, 250*time.Millisecond, cfg.Plugins.Debounce())
	assert.True(t, cfg.Plugins.Watch)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoadFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/plughost.toml", []byte(`
[host]
version = "2.3.4"

[plugins]
root = "/srv/plugins"
state-store = "sqlite"
activation-timeout = "5s"
watch = false

[log]
level = "debug"
format = "json"

[metrics]
enabled = false
`), 0o644))

	cfg, err := Load(fs, "/etc/plughost.toml")
	require.NoError(t, err)

	assert.Equal(t, "2.3.4", cfg.Host.Version)
	assert.Equal(t, "/srv/plugins", cfg.Plugins.Root)
	assert.Equal(t, store.KindSQLite, cfg.Plugins.Store())
	assert.Equal(t, 5*time.Second, cfg.Plugins.Timeout())
	assert.False(t, cfg.Plugins.Watch)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, 50, cfg.Log.MaxSize)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv(EnvPluginRoot, "/env/plugins")
	t.Setenv(EnvHostVersion, "9.9.9")
	t.Setenv(EnvLogLevel, "warn")
	t.Setenv(EnvStateStore, "")

	cfg, err := Load(afero.NewMemMapFs(), "/missing.toml")
	require.NoError(t, err)
	assert.Equal(t, "/env/plugins", cfg.Plugins.Root)
	assert.Equal(t, "9.9.9", cfg.Host.Version)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Plugins.StateStore)
}

func TestLoadParseError(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/bad.toml", []byte("[host\nversion = 1"), 0o644))

	_, err := Load(fs, "/bad.toml")
	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "/bad.toml", pe.Path)
	assert.Positive(t, pe.Line)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/x.toml", []byte("[plugins]\nrooot = \"/x\"\n"), 0o644))

	_, err := Load(fs, "/x.toml")
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, pe.Message, "rooot")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		rule   string
	}{
		{"bad store", func(c *Config) { c.Plugins.StateStore = "redis" }, "oneof"},
		{"bad timeout", func(c *Config) { c.Plugins.ActivationTimeout = "soon" }, "duration"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "oneof"},
		{"missing version", func(c *Config) { c.Host.Version = "" }, "required"},
		{"metrics path", func(c *Config) { c.Metrics.Path = "metrics" }, "startswith"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := Validate(cfg)
			require.Error(t, err)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.rule, ve.Rule)
		})
	}

	assert.NoError(t, Validate(Default()))
}
