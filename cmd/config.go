package cmd

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"kickstart/internal/app"
	"kickstart/internal/formatting"
	"kickstart/internal/options"
)

// configEntry is one resolved option and where its value came from.
type configEntry struct {
	Option string      `json:"option" yaml:"option"`
	Value  interface{} `json:"value" yaml:"value"`
	Source string      `json:"source" yaml:"source"`
}

func newConfigCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "config [flags] <plugin> [-- <plugin-args>...]",
		Short: "Print the resolved configuration",
		Long: `Resolve flags, environment, the .env file and defaults exactly as start
would, and print each option with the source that supplied it.

Examples:
  kickstart config plugin.js
  KICKSTART_PORT=8080 kickstart config --output yaml plugin.js`,
		DisableFlagsInUseLine: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := formatting.ParseFormat(output)
			if err != nil {
				return flagError(cmd, err)
			}
			cfg, _, err := resolveConfig(cmd)
			if err != nil {
				return err
			}

			entries := configEntries(cfg, app.InContainer())
			f := formatting.NewFactory().CreateFormatter(formatting.Options{
				Format: format,
				Output: cmd.OutOrStdout(),
				Color:  isTerminal(os.Stdout),
			})
			if format == formatting.FormatJSON || format == formatting.FormatYAML {
				return f.FormatData(entries)
			}
			tbl := formatting.Table{Columns: []string{"OPTION", "VALUE", "SOURCE"}}
			for _, e := range entries {
				tbl.Rows = append(tbl.Rows, []interface{}{e.Option, e.Value, e.Source})
			}
			return f.FormatTable(tbl)
		},
	}
	options.RegisterFlags(cmd.Flags())
	cmd.Flags().StringVar(&output, "output", string(formatting.FormatTable), "Output format (table, json, yaml, console)")
	return cmd
}

func configEntries(cfg options.Config, inContainer bool) []configEntry {
	network, address := app.ListenTarget(cfg, inContainer)
	entry := func(flag string, value interface{}) configEntry {
		return configEntry{Option: flag, Value: value, Source: cfg.SourceOf(flag).String()}
	}

	entries := []configEntry{
		{Option: "plugin", Value: cfg.PluginPath, Source: options.SourceFlags.String()},
		{Option: "listen", Value: network + ":" + address, Source: "derived"},
		entry(options.FlagPort, cfg.Port),
		entry(options.FlagSocket, cfg.SocketPath),
		entry(options.FlagAddress, cfg.Address),
		entry(options.FlagPrefix, cfg.Prefix),
		entry(options.FlagBodyLimit, cfg.BodyLimit),
		entry(options.FlagPluginTimeout, cfg.PluginTimeout.Milliseconds()),
		entry(options.FlagPrettyLogs, cfg.PrettyLogs),
		entry(options.FlagLogLevel, cfg.LogLevel),
		entry(options.FlagLoggingModule, cfg.LoggingModule),
		entry(options.FlagOptions, cfg.Options),
		entry(options.FlagWatch, cfg.Watch),
		entry(options.FlagIgnoreWatch, strings.Join(cfg.IgnoreWatch, ",")),
		entry(options.FlagDebug, cfg.Debug),
		entry(options.FlagDebugPort, cfg.DebugPort),
		entry(options.FlagDebugHost, cfg.DebugHost),
	}
	if len(cfg.PluginArgs) > 0 {
		entries = append(entries, configEntry{Option: "plugin-args", Value: strings.Join(cfg.PluginArgs, " "), Source: options.SourceFlags.String()})
	}
	return entries
}
