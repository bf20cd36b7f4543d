// Package config loads the plughost configuration file.
//
// Configuration is read from a TOML file, filled with defaults, overridden
// by PLUGHOST_* environment variables and validated. A missing file is not
// an error; the defaults apply.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/afero"

	"github.com/dshills/plughost/internal/logging"
	"github.com/dshills/plughost/internal/plugin/store"
)

// FileName is the configuration file name inside the config directory.
const FileName = "plughost.toml"

// Config is the complete host configuration.
type Config struct {
	Host    HostConfig     `toml:"host"`
	Plugins PluginsConfig  `toml:"plugins"`
	Log     logging.Config `toml:"log"`
	Metrics MetricsConfig  `toml:"metrics"`
}

// HostConfig describes the running host.
type HostConfig struct {
	// Version is compared against manifests' engines.host.
	Version string `toml:"version" default:"1.0.0" validate:"required"`
}

// PluginsConfig configures plugin discovery and lifecycle.
type PluginsConfig struct {
	// Root is the plugin directory. Empty means the default root.
	Root string `toml:"root"`

	// StateStore selects the enabled-state backend: "json" or "sqlite".
	StateStore string `toml:"state-store" default:"json" validate:"oneof=json sqlite"`

	// ActivationTimeout bounds activate/deactivate exports, e.g. "10s".
	// Empty or "0" disables the timeout.
	ActivationTimeout string `toml:"activation-timeout" validate:"omitempty,duration"`

	// Watch reloads plugins whose files change while serving.
	Watch bool `toml:"watch" default:"true"`

	// WatchDebounce is the quiet period before a watched change reloads.
	WatchDebounce string `toml:"watch-debounce" default:"250ms" validate:"omitempty,duration"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" default:"true"`
	Address string `toml:"address" default:"127.0.0.1:9464" validate:"required_if=Enabled true"`
	Path    string `toml:"path" default:"/metrics" validate:"omitempty,startswith=/"`
}

// Timeout returns the parsed activation timeout. Invalid values were
// rejected by Validate, so an error here means zero.
func (p PluginsConfig) Timeout() time.Duration {
	return parseDuration(p.ActivationTimeout)
}

// Debounce returns the parsed watch debounce.
func (p PluginsConfig) Debounce() time.Duration {
	return parseDuration(p.WatchDebounce)
}

// Store returns the configured state store kind.
func (p PluginsConfig) Store() store.Kind {
	kind, err := store.ParseKind(p.StateStore)
	if err != nil {
		return store.KindJSON
	}
	return kind
}

func parseDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	_ = defaults.Set(cfg)
	return cfg
}

// DefaultPath returns ~/.config/plughost/plughost.toml.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "plughost", FileName)
}

// Load reads path from fsys, applies defaults and environment overrides and
// validates the result.
func Load(fsys afero.Fs, path string) (*Config, error) {
	// Defaults go first so explicit false and zero values in the file win.
	cfg := Default()

	data, err := afero.ReadFile(fsys, path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	default:
		if err := Parse(path, data, cfg); err != nil {
			return nil, err
		}
	}

	ApplyEnv(cfg, os.LookupEnv)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes TOML data into cfg. Unknown keys are rejected.
func Parse(source string, data []byte, cfg *Config) error {
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		pe := &ParseError{Path: source, Message: err.Error(), Err: err}
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			pe.Line, pe.Column = derr.Position()
		}
		var serr *toml.StrictMissingError
		if errors.As(err, &serr) {
			pe.Message = serr.String()
		}
		return pe
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func init() {
	_ = validate.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		_, err := time.ParseDuration(fl.Field().String())
		return err == nil
	})
}

// Validate checks cfg.
func Validate(cfg *Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	errs := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		errs = append(errs, &ValidationError{
			Field: fe.Namespace(),
			Rule:  fe.Tag(),
			Value: fe.Value(),
		})
	}
	return errors.Join(errs...)
}
