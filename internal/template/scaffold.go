package template

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"kickstart/pkg/logging"
)

//go:embed scaffold/*.tmpl
var scaffoldFS embed.FS

// outputNames maps scaffold templates whose output name cannot be embedded
// as is.
var outputNames = map[string]string{
	"env": ".env",
}

// ErrExists is returned when generating would overwrite a file.
var ErrExists = errors.New("file already exists")

// Generate renders the plugin project scaffold into dir, creating it if
// needed. It never overwrites files unless force is set. The written paths
// are returned relative to dir, sorted.
func (e *Engine) Generate(dir string, data map[string]interface{}, force bool) ([]string, error) {
	entries, err := fs.ReadDir(scaffoldFS, "scaffold")
	if err != nil {
		return nil, err
	}

	rendered := make(map[string]string, len(entries))
	for _, entry := range entries {
		name := strings.TrimSuffix(entry.Name(), ".tmpl")
		if out, ok := outputNames[name]; ok {
			name = out
		}
		src, err := scaffoldFS.ReadFile(path.Join("scaffold", entry.Name()))
		if err != nil {
			return nil, err
		}
		text, err := e.Render(entry.Name(), string(src), data)
		if err != nil {
			return nil, err
		}
		rendered[name] = text
	}

	names := make([]string, 0, len(rendered))
	for name := range rendered {
		names = append(names, name)
	}
	sort.Strings(names)

	// Check everything first so a refused generate leaves dir untouched.
	if !force {
		for _, name := range names {
			if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
				return nil, fmt.Errorf("%w: %s", ErrExists, filepath.Join(dir, name))
			}
		}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}
	for _, name := range names {
		target := filepath.Join(dir, name)
		if err := os.WriteFile(target, []byte(rendered[name]), 0o644); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", target, err)
		}
		logging.Debug("Generate", "Wrote %s", target)
	}
	return names, nil
}
