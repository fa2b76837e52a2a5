package loader

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"

	"kickstart/internal/options"
)

// Directory names searched for installed packages, walking up from the
// requiring module.
var packageDirs = []string{"kickstart_modules", "node_modules"}

var extensions = []string{".js", ".cjs", ".json"}

// DefaultSearchDirs lists the user and system plugin directories:
// $XDG_DATA_HOME/kickstart/plugins followed by each $XDG_DATA_DIRS entry.
func DefaultSearchDirs() []string {
	dirs := []string{filepath.Join(xdg.DataHome, "kickstart", "plugins")}
	for _, d := range xdg.DataDirs {
		dirs = append(dirs, filepath.Join(d, "kickstart", "plugins"))
	}
	return dirs
}

func (l *Loader) resolveEntry(spec string) (string, bool) {
	if options.IsPathSpecifier(spec) {
		if !filepath.IsAbs(spec) {
			spec = filepath.Join(l.cwd, spec)
		}
		return resolveFile(spec)
	}
	return l.resolvePackage(spec, l.cwd)
}

// resolve implements require resolution for spec relative to baseDir.
func (l *Loader) resolve(spec, baseDir string) (string, bool) {
	if options.IsPathSpecifier(spec) {
		if !filepath.IsAbs(spec) {
			spec = filepath.Join(baseDir, spec)
		}
		return resolveFile(spec)
	}
	return l.resolvePackage(spec, baseDir)
}

func (l *Loader) resolvePackage(name, baseDir string) (string, bool) {
	for dir := baseDir; ; {
		for _, pd := range packageDirs {
			if p, ok := resolveFile(filepath.Join(dir, pd, name)); ok {
				return p, true
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	for _, dir := range l.searchDirs {
		if p, ok := resolveFile(filepath.Join(dir, name)); ok {
			return p, true
		}
	}
	return "", false
}

// resolveFile tries p as a file, p with a known extension, and p as a
// directory (package.json "main", then index files).
func resolveFile(p string) (string, bool) {
	info, err := os.Stat(p)
	if err == nil && !info.IsDir() {
		return p, true
	}
	for _, ext := range extensions {
		if fi, err := os.Stat(p + ext); err == nil && !fi.IsDir() {
			return p + ext, true
		}
	}
	if err != nil || !info.IsDir() {
		return "", false
	}

	if main := packageMain(p); main != "" && filepath.Join(p, main) != filepath.Clean(p) {
		if resolved, ok := resolveFile(filepath.Join(p, main)); ok {
			return resolved, true
		}
	}
	for _, ext := range extensions {
		index := filepath.Join(p, "index"+ext)
		if fi, err := os.Stat(index); err == nil && !fi.IsDir() {
			return index, true
		}
	}
	return "", false
}

func packageMain(dir string) string {
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return ""
	}
	var pkg struct {
		Main string `json:"main"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return ""
	}
	return pkg.Main
}
