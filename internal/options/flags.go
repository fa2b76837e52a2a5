package options

import (
	"github.com/spf13/pflag"
)

// Flag names.
const (
	FlagPort          = "port"
	FlagSocket        = "socket"
	FlagAddress       = "address"
	FlagPrefix        = "prefix"
	FlagBodyLimit     = "body-limit"
	FlagPluginTimeout = "plugin-timeout"
	FlagPrettyLogs    = "pretty-logs"
	FlagLogLevel      = "log-level"
	FlagLoggingModule = "logging-module"
	FlagOptions       = "options"
	FlagWatch         = "watch"
	FlagIgnoreWatch   = "ignore-watch"
	FlagDebug         = "debug"
	FlagDebugPort     = "debug-port"
	FlagDebugHost     = "debug-host"
)

// RegisterFlags adds the start flags to fs. Defaults shown in help are the
// built-in defaults; whether a flag was given is decided by fs.Changed, so
// environment values still apply when a flag is absent.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.IntP(FlagPort, "p", DefaultPort, "Port to listen on (env KICKSTART_PORT, then PORT)")
	fs.StringP(FlagSocket, "s", "", "Unix socket (or Windows named pipe) to listen on; takes precedence over --port (env KICKSTART_SOCKET)")
	fs.StringP(FlagAddress, "a", "", "Address to listen on; defaults to loopback, or all interfaces in a container (env KICKSTART_ADDRESS)")
	fs.StringP(FlagPrefix, "r", "", "Route prefix applied to every plugin route (env KICKSTART_PREFIX)")
	fs.Int64(FlagBodyLimit, DefaultBodyLimit, "Maximum request body size in bytes (env KICKSTART_BODY_LIMIT)")
	fs.IntP(FlagPluginTimeout, "T", int(DefaultPluginTimeout.Milliseconds()), "Milliseconds the plugin may take to become ready; 0 disables (env KICKSTART_PLUGIN_TIMEOUT)")
	fs.BoolP(FlagPrettyLogs, "P", false, "Human-readable logs (env KICKSTART_PRETTY_LOGS)")
	fs.StringP(FlagLogLevel, "l", DefaultLogLevel, "Log level: trace, debug, info, warn, error, fatal (env KICKSTART_LOG_LEVEL)")
	fs.StringP(FlagLoggingModule, "L", "", "Module exporting logger options (env KICKSTART_LOGGING_MODULE)")
	fs.BoolP(FlagOptions, "o", false, "Use the options exported by the plugin as server options (env KICKSTART_OPTIONS)")
	fs.BoolP(FlagWatch, "w", false, "Restart the server when files change (env KICKSTART_WATCH)")
	fs.StringSlice(FlagIgnoreWatch, nil, "Additional glob patterns to ignore in watch mode (env KICKSTART_IGNORE_WATCH)")
	fs.BoolP(FlagDebug, "d", false, "Start the debug listener (env KICKSTART_DEBUG)")
	fs.Int(FlagDebugPort, DefaultDebugPort, "Debug listener port (env KICKSTART_DEBUG_PORT)")
	fs.String(FlagDebugHost, "", "Debug listener host; defaults like --address (env KICKSTART_DEBUG_HOST)")
}

