package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dshills/plughost/internal/plugin"
)

func newListCommand(a *app) *cobra.Command {
	var state string
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List discovered plugins",
		Args:    cobra.NoArgs,
		Example: `  pluginctl list
  pluginctl list --state error -o json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withManager(cmd.Context(), func(mgr *plugin.Manager) error {
				records := mgr.List()
				if state != "" {
					var want plugin.State
					if err := want.UnmarshalText([]byte(state)); err != nil {
						return err
					}
					records = mgr.ListByState(want)
				}
				return a.render(records, func(w io.Writer) { renderRecords(w, records) })
			})
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "only show plugins in this state")
	return cmd
}

func newInfoCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info <id>",
		Short: "Show a plugin's manifest, state and contribution counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withManager(cmd.Context(), func(mgr *plugin.Manager) error {
				rec, err := mgr.Get(args[0])
				if err != nil {
					return err
				}
				return a.render(rec, func(w io.Writer) { renderInfo(w, rec) })
			})
		},
	}
}

func newEnableCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "enable <id>",
		Short: "Enable a plugin and activate it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withManager(cmd.Context(), func(mgr *plugin.Manager) error {
				if err := mgr.Enable(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(a.opts.Out, "enabled %s\n", args[0])
				return nil
			})
		},
	}
}

func newDisableCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "disable <id>",
		Short: "Disable a plugin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withManager(cmd.Context(), func(mgr *plugin.Manager) error {
				if err := mgr.Disable(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(a.opts.Out, "disabled %s\n", args[0])
				return nil
			})
		},
	}
}

func newInstallCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "install <dir>",
		Short: "Install a plugin from a directory",
		Long: `Install validates the manifest in <dir>, copies the directory into the
plugin root when it lives elsewhere, then enables and activates the plugin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withManager(cmd.Context(), func(mgr *plugin.Manager) error {
				rec, err := mgr.Install(cmd.Context(), args[0])
				if rec != nil {
					fmt.Fprintf(a.opts.Out, "installed %s %s to %s\n", rec.ID(), rec.Manifest.Version, rec.Path)
				}
				return err
			})
		},
	}
}

func newUninstallCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "uninstall <id>",
		Aliases: []string{"rm"},
		Short:   "Deactivate a plugin and delete its directory",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withManager(cmd.Context(), func(mgr *plugin.Manager) error {
				if err := mgr.Uninstall(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(a.opts.Out, "uninstalled %s\n", args[0])
				return nil
			})
		},
	}
}

func newReloadCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reload <id>",
		Short: "Reload a plugin from disk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withManager(cmd.Context(), func(mgr *plugin.Manager) error {
				if err := mgr.Reload(cmd.Context(), args[0]); err != nil {
					return err
				}
				rec, err := mgr.Get(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(a.opts.Out, "reloaded %s (%s)\n", rec.ID(), rec.State)
				return nil
			})
		},
	}
}

func newCommandsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "commands",
		Short: "List contributed commands of active plugins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withManager(cmd.Context(), func(mgr *plugin.Manager) error {
				views := commandViews(mgr.Commands())
				return a.render(views, func(w io.Writer) { renderCommands(w, views) })
			})
		},
	}
}

func newHooksCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "hooks",
		Short: "List hook callbacks registered by active plugins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withManager(cmd.Context(), func(mgr *plugin.Manager) error {
				views := hookViews(mgr.Registry())
				return a.render(views, func(w io.Writer) { renderHooks(w, views) })
			})
		},
	}
}

func newExecCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "exec <command> [args...]",
		Short: "Run a contributed command",
		Long: `Exec fires the command's activation event, so lazily activated plugins
start first, then runs the command with the remaining arguments as strings.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withManager(cmd.Context(), func(mgr *plugin.Manager) error {
				cmdArgs := make([]any, 0, len(args)-1)
				for _, s := range args[1:] {
					cmdArgs = append(cmdArgs, s)
				}
				result, err := mgr.ExecuteCommand(cmd.Context(), args[0], cmdArgs...)
				if err != nil {
					return err
				}
				if result == nil {
					return nil
				}
				if s, ok := result.(string); ok && a.flags.output != OutputJSON {
					_, err = fmt.Fprintln(a.opts.Out, s)
					return err
				}
				return writeJSON(a.opts.Out, result)
			})
		},
	}
}
