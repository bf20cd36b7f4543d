package config

import "strings"

// Environment variables that override the file.
const (
	EnvPluginRoot  = "PLUGHOST_PLUGIN_ROOT"
	EnvHostVersion = "PLUGHOST_HOST_VERSION"
	EnvLogLevel    = "PLUGHOST_LOG_LEVEL"
	EnvStateStore  = "PLUGHOST_STATE_STORE"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides cfg from the environment. Empty values are ignored.
func ApplyEnv(cfg *Config, lookup LookupFunc) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(EnvPluginRoot, &cfg.Plugins.Root)
	set(EnvHostVersion, &cfg.Host.Version)
	set(EnvLogLevel, &cfg.Log.Level)
	set(EnvStateStore, &cfg.Plugins.StateStore)
}
