// Package cli implements the pluginctl command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/dshills/plughost/internal/config"
	"github.com/dshills/plughost/internal/logging"
	"github.com/dshills/plughost/internal/metrics"
	"github.com/dshills/plughost/internal/plugin"
	"github.com/dshills/plughost/internal/plugin/store"
)

// Options carries the process environment into the command tree.
type Options struct {
	FS     afero.Fs
	Out    io.Writer
	ErrOut io.Writer
}

func (o *Options) setDefaults() {
	if o.FS == nil {
		o.FS = afero.NewOsFs()
	}
	if o.Out == nil {
		o.Out = os.Stdout
	}
	if o.ErrOut == nil {
		o.ErrOut = os.Stderr
	}
}

// app is the state shared by every subcommand after flag parsing.
type app struct {
	opts   Options
	flags  globalFlags
	config *config.Config
	logger *zap.Logger

	promRegistry *prometheus.Registry
	metrics      *metrics.Metrics
}

type globalFlags struct {
	configPath  string
	pluginRoot  string
	hostVersion string
	logLevel    string
	output      string
}

// setup loads configuration and builds the logger. Flags win over the
// file and the environment.
func (a *app) setup() error {
	cfg, err := config.Load(a.opts.FS, a.flags.configPath)
	if err != nil {
		return err
	}
	if a.flags.pluginRoot != "" {
		cfg.Plugins.Root = a.flags.pluginRoot
	}
	if cfg.Plugins.Root == "" {
		cfg.Plugins.Root = plugin.DefaultPluginRoot()
	}
	if a.flags.hostVersion != "" {
		cfg.Host.Version = a.flags.hostVersion
	}
	if a.flags.logLevel != "" {
		cfg.Log.Level = a.flags.logLevel
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}
	a.config = cfg

	logCfg := cfg.Log
	logCfg.Output = a.opts.ErrOut
	logger, err := logging.New(logCfg)
	if err != nil {
		return fmt.Errorf("could not create logger: %w", err)
	}
	a.logger = logger

	a.promRegistry = prometheus.NewRegistry()
	a.promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.New(a.promRegistry)
	return nil
}

// openManager builds and initializes a plugin manager from the loaded
// configuration. Callers must Shutdown it.
func (a *app) openManager(ctx context.Context) (*plugin.Manager, error) {
	root := a.config.Plugins.Root
	if err := a.opts.FS.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create plugin root %s: %w", root, err)
	}

	st, err := store.Open(ctx, a.config.Plugins.Store(), a.opts.FS, root)
	if err != nil {
		return nil, err
	}

	mcfg := plugin.DefaultManagerConfig()
	mcfg.Root = root
	mcfg.HostVersion = a.config.Host.Version
	mcfg.ActivationTimeout = a.config.Plugins.Timeout()

	mgr := plugin.NewManager(mcfg,
		plugin.WithFS(a.opts.FS),
		plugin.WithStore(st),
		plugin.WithLogger(a.logger),
		plugin.WithMetrics(a.metrics),
	)
	if err := mgr.Initialize(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return mgr, nil
}

// withManager runs fn against an initialized manager and shuts it down.
func (a *app) withManager(ctx context.Context, fn func(*plugin.Manager) error) error {
	mgr, err := a.openManager(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = mgr.Shutdown(context.WithoutCancel(ctx))
		_ = a.logger.Sync()
	}()
	return fn(mgr)
}
