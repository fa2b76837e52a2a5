// Package options resolves kickstart's runtime configuration from CLI flags,
// the process environment, an optional dotenv file and built-in defaults.
package options

import (
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultPort          = 3000
	DefaultBodyLimit     = 1 << 20
	DefaultPluginTimeout = 10 * time.Second
	DefaultDebugPort     = 9320
	DefaultLogLevel      = "info"
	DefaultWatchDebounce = 250 * time.Millisecond
	DefaultEnvFile       = ".env"
)

// DefaultIgnoreWatch lists the doublestar patterns never watched for changes.
var DefaultIgnoreWatch = []string{
	"**/node_modules/**",
	"**/.git/**",
	"**/dist/**",
	"**/build/**",
	"**/logs/**",
	"**/*.swp",
	"**/*~",
	"**/.#*",
}

// Source identifies where a resolved value came from.
type Source int

const (
	SourceDefaults Source = iota
	SourceDotenv
	SourceEnvironment
	SourceFlags
)

func (s Source) String() string {
	switch s {
	case SourceDefaults:
		return "default"
	case SourceDotenv:
		return "dotenv"
	case SourceEnvironment:
		return "env"
	case SourceFlags:
		return "flag"
	default:
		return "unknown"
	}
}

// ResolutionOrder is the order in which sources are applied; later sources
// override earlier ones.
var ResolutionOrder = []Source{SourceDefaults, SourceDotenv, SourceEnvironment, SourceFlags}

// Config is the fully resolved configuration of one kickstart invocation.
// It is built once by Resolve and treated as immutable afterwards.
type Config struct {
	// PluginPath is an absolute file path or an installed package name.
	PluginPath string
	// Port is used only when SocketPath is empty. 0 lets the OS choose.
	Port int
	// SocketPath is a Unix socket (or Windows named pipe) path and, when set,
	// the exclusive bind target.
	SocketPath string
	// Address is the bind host; empty means loopback, or all interfaces
	// when running inside a container.
	Address string
	Prefix  string

	BodyLimit     int64
	PluginTimeout time.Duration

	PrettyLogs    bool
	LogLevel      string
	LoggingModule string

	// Options makes the plugin module's exported options the server options.
	Options bool

	Debug     bool
	DebugPort int
	DebugHost string

	Watch         bool
	IgnoreWatch   []string
	WatchDebounce time.Duration

	// PluginArgs are the arguments given after "--".
	PluginArgs []string

	origin map[string]Source
}

// Defaults returns the configuration used when no source supplies a value.
func Defaults() Config {
	return Config{
		Port:          DefaultPort,
		BodyLimit:     DefaultBodyLimit,
		PluginTimeout: DefaultPluginTimeout,
		LogLevel:      DefaultLogLevel,
		DebugPort:     DefaultDebugPort,
		WatchDebounce: DefaultWatchDebounce,
	}
}

// OptionsModulePath is the module whose exported options become the server
// options, or "" when --options is off.
func (c Config) OptionsModulePath() string {
	if !c.Options {
		return ""
	}
	return c.PluginPath
}

// UsesSocket reports whether the server binds to SocketPath instead of a port.
func (c Config) UsesSocket() bool {
	return c.SocketPath != ""
}

// IgnorePatterns returns the default ignore patterns followed by the user's.
func (c Config) IgnorePatterns() []string {
	return append(slices.Clone(DefaultIgnoreWatch), c.IgnoreWatch...)
}

// WatchRoot is the directory watched for changes in watch mode.
func (c Config) WatchRoot(cwd string) string {
	if filepath.IsAbs(c.PluginPath) {
		return filepath.Dir(c.PluginPath)
	}
	return cwd
}

// SourceOf reports which source supplied the named option (flag name).
func (c Config) SourceOf(name string) Source {
	if s, ok := c.origin[name]; ok {
		return s
	}
	return SourceDefaults
}

// WithoutWatch returns a copy of c for a supervised child process.
func (c Config) WithoutWatch() Config {
	c.Watch = false
	c.PluginArgs = slices.Clone(c.PluginArgs)
	c.IgnoreWatch = slices.Clone(c.IgnoreWatch)
	return c
}

// Args renders c as a command line that resolves back to c regardless of the
// environment: every value is passed explicitly, booleans included.
func (c Config) Args() []string {
	var args []string
	if c.UsesSocket() {
		args = append(args, "--socket", c.SocketPath)
	} else {
		args = append(args, "--port", strconv.Itoa(c.Port))
	}
	if c.Address != "" {
		args = append(args, "--address", c.Address)
	}
	if c.Prefix != "" {
		args = append(args, "--prefix", c.Prefix)
	}
	args = append(args,
		"--body-limit", strconv.FormatInt(c.BodyLimit, 10),
		"--plugin-timeout", strconv.FormatInt(c.PluginTimeout.Milliseconds(), 10),
		"--pretty-logs="+strconv.FormatBool(c.PrettyLogs),
		"--log-level", c.LogLevel,
	)
	if c.LoggingModule != "" {
		args = append(args, "--logging-module", c.LoggingModule)
	}
	args = append(args,
		"--options="+strconv.FormatBool(c.Options),
		"--debug="+strconv.FormatBool(c.Debug),
		"--debug-port", strconv.Itoa(c.DebugPort),
	)
	if c.DebugHost != "" {
		args = append(args, "--debug-host", c.DebugHost)
	}
	args = append(args, "--watch="+strconv.FormatBool(c.Watch))
	if len(c.IgnoreWatch) > 0 {
		args = append(args, "--ignore-watch", strings.Join(c.IgnoreWatch, ","))
	}
	args = append(args, c.PluginPath)
	if len(c.PluginArgs) > 0 {
		args = append(args, "--")
		args = append(args, c.PluginArgs...)
	}
	return args
}

// IsPathSpecifier reports whether spec names a file rather than an installed package.
func IsPathSpecifier(spec string) bool {
	if spec == "" {
		return false
	}
	if spec == "." || spec == ".." || filepath.IsAbs(spec) {
		return true
	}
	if strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../") ||
		strings.HasPrefix(spec, `.\`) || strings.HasPrefix(spec, `..\`) {
		return true
	}
	switch filepath.Ext(spec) {
	case ".js", ".cjs", ".mjs", ".json":
		return true
	}
	// Scoped packages ("@org/name") contain a slash but are still package names.
	if strings.HasPrefix(spec, "@") {
		return false
	}
	return strings.ContainsRune(spec, '/') || strings.ContainsRune(spec, filepath.Separator)
}
