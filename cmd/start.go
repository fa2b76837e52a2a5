package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"kickstart/internal/app"
	"kickstart/internal/options"
)

func newStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start [flags] <plugin> [-- <plugin-args>...]",
		Short: "Start a plugin server",
		Long: `Load the plugin and serve it until interrupted.

The plugin is a file path or the name of an installed package. Its exported
function receives the application, the server options and, if it declares a
third parameter, a done callback. Everything after "--" is passed to the
plugin through require('kickstart').args.

Examples:
  kickstart start plugin.js
  kickstart start -p 8080 -r /api ./plugin.js
  kickstart start -s /run/app.sock -l debug my-plugin -- --feature x
  kickstart start --watch --pretty-logs plugin.js`,
		DisableFlagsInUseLine: true,
		RunE:                  runStart,
	}
	options.RegisterFlags(cmd.Flags())
	return cmd
}

func runStart(cmd *cobra.Command, _ []string) error {
	cfg, cwd, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	application := app.NewApplication(cfg, app.NewDeps(cwd, GetVersion()))
	return application.Run(cmd.Context())
}

// resolveConfig resolves the start flags of cmd against the environment
// and the dotenv file of the working directory.
func resolveConfig(cmd *cobra.Command) (options.Config, string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return options.Config{}, "", err
	}
	env, err := options.LoadEnvironment(cwd)
	if err != nil {
		return options.Config{}, "", err
	}
	cfg, err := options.Resolve(cmd.Flags(), env, cwd)
	if err != nil {
		return options.Config{}, "", err
	}
	return cfg, cwd, nil
}
