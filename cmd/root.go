package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"kickstart/internal/failure"
)

// rootCmd represents the base command for the kickstart application.
// It is the entry point when the application is called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "kickstart",
	Short: "Run a JavaScript HTTP plugin as a server",
	Long: `kickstart loads a plugin module, lets it register routes and hooks on an
HTTP application, and serves it on a port or Unix socket. Options come from
flags, KICKSTART_* environment variables, a .env file and built-in defaults,
in that order of precedence.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
	SilenceUsage: true,
	// Errors are printed by Execute, which knows which ones are fatal.
	SilenceErrors: true,
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
// This function is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "kickstart version %s\n" .Version}}`)
	os.Exit(run(rootCmd, os.Args[1:]))
}

// run executes root with args and returns the process exit code. A missing
// plugin was already reported as a warning and exits successfully.
func run(root *cobra.Command, args []string) int {
	root.SetArgs(args)
	err := root.Execute()
	if failure.IsFatal(err) {
		fmt.Fprintf(root.ErrOrStderr(), "Error: %v\n", err)
	}
	return failure.ExitCode(err)
}

// flagError turns cobra's flag parsing errors into InvalidArgument failures.
func flagError(_ *cobra.Command, err error) error {
	return failure.Invalid("%v", err)
}

func init() {
	addCommands(rootCmd)
}

// addCommands installs the subcommands and the flag error handling on root.
func addCommands(root *cobra.Command) {
	root.SetFlagErrorFunc(flagError)

	root.AddCommand(newStartCmd())
	root.AddCommand(newRoutesCmd())
	root.AddCommand(newConfigCmd())
	root.AddCommand(newGenerateCmd())
	root.AddCommand(newVersionCmd())
	root.AddCommand(newSelfUpdateCmd())
}
