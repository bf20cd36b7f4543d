package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/plughost/internal/plugin"
	"github.com/dshills/plughost/internal/plugin/watch"
)

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the plugin host until interrupted",
		Long: `Serve initializes every plugin, reloads plugins whose files change and
exposes Prometheus metrics. It stops on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.withManager(ctx, func(mgr *plugin.Manager) error {
				return a.serve(ctx, mgr)
			})
		},
	}
}

func (a *app) serve(ctx context.Context, mgr *plugin.Manager) error {
	if a.config.Plugins.Watch {
		w, err := watch.New(a.config.Plugins.Root, mgr,
			watch.WithDebounce(a.config.Plugins.Debounce()),
			watch.WithLogger(a.logger))
		if err != nil {
			return err
		}
		defer w.Close()
		if err := w.Start(ctx); err != nil {
			return err
		}
	}

	errCh := make(chan error, 1)
	var srv *http.Server
	if a.config.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(a.config.Metrics.Path, promhttp.HandlerFor(a.promRegistry, promhttp.HandlerOpts{Registry: a.promRegistry}))
		srv = &http.Server{
			Addr:              a.config.Metrics.Address,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.logger.Info("serving metrics", zap.String("address", srv.Addr), zap.String("path", a.config.Metrics.Path))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	a.logger.Info("plugin host running", zap.Int("plugins", len(mgr.List())))

	var err error
	select {
	case <-ctx.Done():
	case err = <-errCh:
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
	a.logger.Info("plugin host stopping")
	return err
}
