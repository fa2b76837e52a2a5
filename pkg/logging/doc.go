// Package logging provides the process-wide logger used by kickstart and by
// the plugins it boots.
//
// The package keeps a small, subsystem-keyed facade over go.uber.org/zap so
// call sites stay short:
//
//	logging.InitForCLI(logging.LevelInfo, os.Stdout)
//
//	logging.Info("Boot", "Server listening at %s", addr)
//	logging.Debug("Options", "Port taken from %s", source)
//	logging.Warn("Loader", "plugin file doesn't exist: %s", path)
//	logging.Error("Watch", err, "Failed to spawn child")
//
// # Output
//
// By default entries are encoded as JSON lines, one object per entry, with
// "level", "time", "msg" and "subsystem" keys. Init with Pretty set switches
// to zap's colored console encoder. Static fields (for example those supplied
// by a logger module) are attached to every entry.
//
// # Levels
//
// LevelDebug, LevelInfo, LevelWarn and LevelError map onto the zap levels of
// the same name. ParseLevel also understands the level names used by
// JavaScript loggers so a plugin's logger module can be honoured as-is.
//
// Logger exposes the underlying *zap.Logger for components that need
// structured fields, such as the HTTP request logger.
package logging
