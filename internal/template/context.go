package template

import (
	"path/filepath"
	"strings"

	"kickstart/internal/options"
)

// MergeContexts merges multiple contexts into a single context
// Later contexts override values from earlier contexts
func MergeContexts(contexts ...map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{})

	for _, ctx := range contexts {
		for key, value := range ctx {
			result[key] = value
		}
	}

	return result
}

// DefaultContext returns the values every scaffold template can rely on
// for a project generated into dir.
func DefaultContext(dir, version string) map[string]interface{} {
	name := strings.ToLower(filepath.Base(filepath.Clean(dir)))
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '-'
		}
	}, name)
	if name == "" || name == "." || name == "-" {
		name = "kickstart-plugin"
	}

	return map[string]interface{}{
		"name":          name,
		"description":   "A kickstart plugin",
		"version":       version,
		"port":          options.DefaultPort,
		"pluginTimeout": options.DefaultPluginTimeout.Milliseconds(),
		"bodyLimit":     options.DefaultBodyLimit,
		"routes":        []interface{}{},
		"author":        "",
		"license":       "MIT",
	}
}
