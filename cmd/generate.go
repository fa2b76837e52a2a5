package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"kickstart/internal/template"
)

func newGenerateCmd() *cobra.Command {
	var (
		name        string
		description string
		routes      []string
		force       bool
	)
	cmd := &cobra.Command{
		Use:   "generate <dir>",
		Short: "Scaffold a new plugin project",
		Long: `Write a plugin, package.json, .env and README into dir. Existing files
are never overwritten unless --force is given.

Examples:
  kickstart generate my-service
  kickstart generate --route GET:/health --route POST:/users api`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}

			overrides := map[string]interface{}{}
			if name != "" {
				overrides["name"] = name
			}
			if description != "" {
				overrides["description"] = description
			}
			parsed, err := parseRoutes(routes)
			if err != nil {
				return flagError(cmd, err)
			}
			overrides["routes"] = parsed

			data := template.MergeContexts(template.DefaultContext(dir, GetVersion()), overrides)
			written, err := template.New().Generate(dir, data, force)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, f := range written {
				fmt.Fprintf(out, "%s %s\n", text.FgGreen.Sprint("created"), filepath.Join(args[0], f))
			}
			fmt.Fprintf(out, "\nRun it with:\n  cd %s && kickstart start plugin.js\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Package name (defaults to the directory name)")
	cmd.Flags().StringVar(&description, "description", "", "Package description")
	cmd.Flags().StringArrayVar(&routes, "route", nil, "Additional route as METHOD:/path (repeatable)")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing files")
	return cmd
}

var routeMethods = map[string]bool{
	"GET": true, "HEAD": true, "POST": true, "PUT": true, "PATCH": true, "DELETE": true, "OPTIONS": true,
}

func parseRoutes(specs []string) ([]interface{}, error) {
	out := make([]interface{}, 0, len(specs))
	for _, spec := range specs {
		method, path, ok := strings.Cut(spec, ":")
		method = strings.ToUpper(method)
		if !ok || !routeMethods[method] || !strings.HasPrefix(path, "/") {
			return nil, fmt.Errorf("invalid route %q, expected METHOD:/path", spec)
		}
		out = append(out, map[string]interface{}{"method": method, "path": path})
	}
	return out, nil
}
