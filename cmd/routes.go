package cmd

import (
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"kickstart/internal/app"
	"kickstart/internal/formatting"
	"kickstart/internal/options"
)

func newRoutesCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "routes [flags] <plugin> [-- <plugin-args>...]",
		Short: "Print the routes a plugin registers",
		Long: `Load and register the plugin without listening, then print its routes.
Accepts the same flags as start, so --prefix and --options apply.

Examples:
  kickstart routes plugin.js
  kickstart routes -r /api --output json plugin.js`,
		DisableFlagsInUseLine: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := formatting.ParseFormat(output)
			if err != nil {
				return flagError(cmd, err)
			}
			cfg, cwd, err := resolveConfig(cmd)
			if err != nil {
				return err
			}

			var s *spinner.Spinner
			if isTerminal(os.Stderr) {
				s = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
				s.Suffix = " Loading plugin..."
				s.Start()
			}
			deps := app.NewDeps(cwd, GetVersion())
			deps.LogOutput = cmd.ErrOrStderr()
			routes, err := app.Routes(cmd.Context(), cfg, deps)
			if s != nil {
				s.Stop()
			}
			if err != nil {
				return err
			}

			tbl := formatting.Table{Columns: []string{"METHOD", "PATH"}}
			for _, r := range routes {
				tbl.Rows = append(tbl.Rows, []interface{}{r.Method, r.Path})
			}
			f := formatting.NewFactory().CreateFormatter(formatting.Options{
				Format: format,
				Output: cmd.OutOrStdout(),
				Color:  isTerminal(os.Stdout),
			})
			return f.FormatTable(tbl)
		},
	}
	options.RegisterFlags(cmd.Flags())
	cmd.Flags().StringVar(&output, "output", string(formatting.FormatTable), "Output format (table, json, yaml, console)")
	return cmd
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
