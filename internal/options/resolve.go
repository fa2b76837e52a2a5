package options

import (
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/spf13/pflag"

	"kickstart/internal/failure"
	"kickstart/pkg/logging"
)

// Resolve builds the Config for a parsed flag set. fs.Args() holds the
// positional plugin specifier followed, after "--", by the plugin arguments.
func Resolve(fs *pflag.FlagSet, env Environment, cwd string) (Config, error) {
	r := &resolver{fs: fs, env: env, origin: make(map[string]Source)}

	var cfg Config
	for _, src := range ResolutionOrder {
		var err error
		switch src {
		case SourceDefaults:
			cfg = Defaults()
		case SourceDotenv:
			// Dotenv variables are exported into the environment before the
			// snapshot is taken; Environment remembers which ones they were.
		case SourceEnvironment:
			err = r.applyEnvironment(&cfg)
		case SourceFlags:
			err = r.applyFlags(&cfg)
		}
		if err != nil {
			return Config{}, err
		}
	}

	if err := r.applyArgs(&cfg, cwd); err != nil {
		return Config{}, err
	}
	if err := r.validate(&cfg); err != nil {
		return Config{}, err
	}

	cfg.Prefix = normalizePrefix(cfg.Prefix)
	if cfg.LoggingModule != "" && IsPathSpecifier(cfg.LoggingModule) && !filepath.IsAbs(cfg.LoggingModule) {
		cfg.LoggingModule = filepath.Join(cwd, cfg.LoggingModule)
	}
	cfg.origin = r.origin

	logging.Debug("Options", "Resolved plugin %s (port from %s, socket from %s)",
		cfg.PluginPath, cfg.SourceOf(FlagPort), cfg.SourceOf(FlagSocket))
	return cfg, nil
}

type resolver struct {
	fs     *pflag.FlagSet
	env    Environment
	origin map[string]Source
}

// envBinding applies one raw environment value to the config.
type envBinding struct {
	flag  string
	raw   string
	vars  []string
	apply func(cfg *Config, raw string) error
}

func (r *resolver) applyEnvironment(cfg *Config) error {
	e := r.env
	bindings := []envBinding{
		{FlagPort, e.Port, []string{"KICKSTART_PORT", "PORT"}, func(c *Config, raw string) (err error) {
			c.Port, err = parsePort("KICKSTART_PORT", raw)
			return
		}},
		{FlagSocket, e.Socket, []string{"KICKSTART_SOCKET"}, func(c *Config, raw string) error {
			c.SocketPath = raw
			return nil
		}},
		{FlagAddress, e.Address, []string{"KICKSTART_ADDRESS"}, func(c *Config, raw string) error {
			c.Address = raw
			return nil
		}},
		{FlagPrefix, e.Prefix, []string{"KICKSTART_PREFIX"}, func(c *Config, raw string) error {
			c.Prefix = raw
			return nil
		}},
		{FlagBodyLimit, e.BodyLimit, []string{"KICKSTART_BODY_LIMIT"}, func(c *Config, raw string) error {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return failure.Invalid("KICKSTART_BODY_LIMIT must be an integer, got %q", raw)
			}
			c.BodyLimit = n
			return nil
		}},
		{FlagPluginTimeout, e.PluginTimeout, []string{"KICKSTART_PLUGIN_TIMEOUT"}, func(c *Config, raw string) (err error) {
			c.PluginTimeout, err = parseMillis("KICKSTART_PLUGIN_TIMEOUT", raw)
			return
		}},
		{FlagPrettyLogs, e.PrettyLogs, []string{"KICKSTART_PRETTY_LOGS"}, func(c *Config, raw string) (err error) {
			c.PrettyLogs, err = parseBool("KICKSTART_PRETTY_LOGS", raw)
			return
		}},
		{FlagLogLevel, e.LogLevel, []string{"KICKSTART_LOG_LEVEL"}, func(c *Config, raw string) error {
			c.LogLevel = raw
			return nil
		}},
		{FlagLoggingModule, e.LoggingModule, []string{"KICKSTART_LOGGING_MODULE"}, func(c *Config, raw string) error {
			c.LoggingModule = raw
			return nil
		}},
		{FlagOptions, e.Options, []string{"KICKSTART_OPTIONS"}, func(c *Config, raw string) (err error) {
			c.Options, err = parseBool("KICKSTART_OPTIONS", raw)
			return
		}},
		{FlagWatch, e.Watch, []string{"KICKSTART_WATCH"}, func(c *Config, raw string) (err error) {
			c.Watch, err = parseBool("KICKSTART_WATCH", raw)
			return
		}},
		{FlagIgnoreWatch, e.IgnoreWatch, []string{"KICKSTART_IGNORE_WATCH"}, func(c *Config, raw string) error {
			c.IgnoreWatch = splitPatterns(raw)
			return nil
		}},
		{"watch-debounce", e.WatchDebounce, []string{"KICKSTART_WATCH_DEBOUNCE"}, func(c *Config, raw string) (err error) {
			c.WatchDebounce, err = parseMillis("KICKSTART_WATCH_DEBOUNCE", raw)
			return
		}},
		{FlagDebug, e.Debug, []string{"KICKSTART_DEBUG"}, func(c *Config, raw string) (err error) {
			c.Debug, err = parseBool("KICKSTART_DEBUG", raw)
			return
		}},
		{FlagDebugPort, e.DebugPort, []string{"KICKSTART_DEBUG_PORT"}, func(c *Config, raw string) (err error) {
			c.DebugPort, err = parsePort("KICKSTART_DEBUG_PORT", raw)
			return
		}},
		{FlagDebugHost, e.DebugHost, []string{"KICKSTART_DEBUG_HOST"}, func(c *Config, raw string) error {
			c.DebugHost = raw
			return nil
		}},
	}

	for _, b := range bindings {
		if b.raw == "" || r.flagged(b.flag) {
			continue
		}
		if err := b.apply(cfg, b.raw); err != nil {
			return err
		}
		r.origin[b.flag] = e.source(b.vars...)
	}
	return nil
}

func (r *resolver) applyFlags(cfg *Config) error {
	fs := r.fs
	var err error
	set := func(name string, apply func()) {
		if err != nil || !r.flagged(name) {
			return
		}
		apply()
		r.origin[name] = SourceFlags
	}

	set(FlagPort, func() { cfg.Port, err = fs.GetInt(FlagPort) })
	set(FlagSocket, func() { cfg.SocketPath, err = fs.GetString(FlagSocket) })
	set(FlagAddress, func() { cfg.Address, err = fs.GetString(FlagAddress) })
	set(FlagPrefix, func() { cfg.Prefix, err = fs.GetString(FlagPrefix) })
	set(FlagBodyLimit, func() { cfg.BodyLimit, err = fs.GetInt64(FlagBodyLimit) })
	set(FlagPluginTimeout, func() {
		var ms int
		ms, err = fs.GetInt(FlagPluginTimeout)
		if err == nil && ms < 0 {
			err = failure.Invalid("--plugin-timeout must not be negative, got %d", ms)
		}
		cfg.PluginTimeout = time.Duration(ms) * time.Millisecond
	})
	set(FlagPrettyLogs, func() { cfg.PrettyLogs, err = fs.GetBool(FlagPrettyLogs) })
	set(FlagLogLevel, func() { cfg.LogLevel, err = fs.GetString(FlagLogLevel) })
	set(FlagLoggingModule, func() { cfg.LoggingModule, err = fs.GetString(FlagLoggingModule) })
	set(FlagOptions, func() { cfg.Options, err = fs.GetBool(FlagOptions) })
	set(FlagWatch, func() { cfg.Watch, err = fs.GetBool(FlagWatch) })
	set(FlagIgnoreWatch, func() { cfg.IgnoreWatch, err = fs.GetStringSlice(FlagIgnoreWatch) })
	set(FlagDebug, func() { cfg.Debug, err = fs.GetBool(FlagDebug) })
	set(FlagDebugPort, func() { cfg.DebugPort, err = fs.GetInt(FlagDebugPort) })
	set(FlagDebugHost, func() { cfg.DebugHost, err = fs.GetString(FlagDebugHost) })

	if err != nil && failure.KindOf(err) == failure.Unknown {
		return failure.Invalid("%v", err)
	}
	return err
}

func (r *resolver) applyArgs(cfg *Config, cwd string) error {
	args := r.fs.Args()
	positional := args
	if dash := r.fs.ArgsLenAtDash(); dash >= 0 {
		positional = args[:dash]
		cfg.PluginArgs = append([]string(nil), args[dash:]...)
	}

	switch {
	case len(positional) == 0:
		return failure.Invalid("missing plugin: expected a plugin file or package name")
	case len(positional) > 1:
		return failure.Invalid("unexpected arguments %q; pass plugin arguments after --", positional[1:])
	}

	spec := positional[0]
	if IsPathSpecifier(spec) && !filepath.IsAbs(spec) {
		spec = filepath.Join(cwd, spec)
	}
	cfg.PluginPath = spec
	return nil
}

func (r *resolver) validate(cfg *Config) error {
	if r.flagged(FlagPort) && r.flagged(FlagSocket) {
		return failure.Invalid("--port and --socket are mutually exclusive")
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return failure.Invalid("port %d is out of range", cfg.Port)
	}
	if cfg.DebugPort < 0 || cfg.DebugPort > 65535 {
		return failure.Invalid("debug port %d is out of range", cfg.DebugPort)
	}
	if cfg.BodyLimit <= 0 {
		return failure.Invalid("body limit must be positive, got %d", cfg.BodyLimit)
	}
	if _, err := logging.ParseLevel(cfg.LogLevel); err != nil {
		return failure.Invalid("%v", err)
	}
	return nil
}

func (r *resolver) flagged(name string) bool {
	f := r.fs.Lookup(name)
	return f != nil && f.Changed
}

func parsePort(name, raw string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, failure.Invalid("%s must be a port number, got %q", name, raw)
	}
	if n < 0 || n > 65535 {
		return 0, failure.Invalid("%s %d is out of range", name, n)
	}
	return n, nil
}

func parseMillis(name, raw string) (time.Duration, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || n < 0 {
		return 0, failure.Invalid("%s must be a non-negative number of milliseconds, got %q", name, raw)
	}
	return time.Duration(n) * time.Millisecond, nil
}

func parseBool(name, raw string) (bool, error) {
	b, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, failure.Invalid("%s must be a boolean, got %q", name, raw)
	}
	return b, nil
}

func splitPatterns(raw string) []string {
	return strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
}

func normalizePrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return ""
	}
	return "/" + prefix
}
