package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/dshills/plughost/internal/config"
)

// Output formats.
const (
	OutputTable = "table"
	OutputJSON  = "json"
)

// NewRootCommand builds the pluginctl command tree.
func NewRootCommand(opts Options) *cobra.Command {
	opts.setDefaults()
	a := &app{opts: opts}

	root := &cobra.Command{
		Use:   "pluginctl",
		Short: "Inspect and manage plughost plugins",
		Long: `pluginctl discovers the plugins under the plugin root, shows their
state and contributions, and enables, installs or reloads them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
		DisableAutoGenTag: true,
	}
	root.SetOut(opts.Out)
	root.SetErr(opts.ErrOut)

	pf := root.PersistentFlags()
	pf.StringVarP(&a.flags.configPath, "config", "c", config.DefaultPath(), "path to the configuration file")
	pf.StringVar(&a.flags.pluginRoot, "plugin-root", "", "plugin directory (overrides config)")
	pf.StringVar(&a.flags.hostVersion, "host-version", "", "host version used for engine checks")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "log level: debug, info, warn or error")
	pf.StringVarP(&a.flags.output, "output", "o", OutputTable, "output format: table or json")

	root.AddCommand(
		newListCommand(a),
		newInfoCommand(a),
		newEnableCommand(a),
		newDisableCommand(a),
		newInstallCommand(a),
		newUninstallCommand(a),
		newReloadCommand(a),
		newCommandsCommand(a),
		newHooksCommand(a),
		newExecCommand(a),
		newServeCommand(a),
	)
	return root
}

// Execute runs pluginctl with args.
func Execute(ctx context.Context, opts Options, args []string) error {
	root := NewRootCommand(opts)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}
