package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel defines the severity of the log entry.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String makes LogLevel satisfy the fmt.Stringer interface.
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l LogLevel) ZapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelInfo:
		return zapcore.InfoLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel // Default to INFO for unknown
	}
}

// ParseLevel converts a level name to a LogLevel. Besides the four native
// names it accepts the names commonly used by JavaScript loggers: "trace"
// maps to debug, "fatal" and "silent" map to error.
func ParseLevel(name string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "trace", "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error", "fatal", "silent":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
}

// Options configures the process-wide logger.
type Options struct {
	Level LogLevel
	// Pretty selects the human-readable console encoder instead of JSON.
	Pretty bool
	// Output defaults to os.Stdout.
	Output io.Writer
	// Fields are attached to every entry.
	Fields map[string]interface{}
}

var defaultLogger atomic.Pointer[zap.Logger]

// Init replaces the process-wide logger.
func Init(opts Options) *zap.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	core := zapcore.NewCore(newEncoder(opts.Pretty), zapcore.Lock(zapcore.AddSync(out)), opts.Level.ZapLevel())
	logger := zap.New(core)
	if len(opts.Fields) > 0 {
		fields := make([]zap.Field, 0, len(opts.Fields))
		for k, v := range opts.Fields {
			fields = append(fields, zap.Any(k, v))
		}
		logger = logger.With(fields...)
	}

	defaultLogger.Store(logger)
	return logger
}

// InitForCLI initializes JSON logging at the given level.
func InitForCLI(filterLevel LogLevel, output io.Writer) {
	Init(Options{Level: filterLevel, Output: output})
}

// Logger returns the process-wide zap logger, or a no-op logger before Init.
func Logger() *zap.Logger {
	if l := defaultLogger.Load(); l != nil {
		return l
	}
	return zap.NewNop()
}

// Sync flushes buffered entries.
func Sync() {
	if l := defaultLogger.Load(); l != nil {
		_ = l.Sync()
	}
}

func newEncoder(pretty bool) zapcore.Encoder {
	if pretty {
		return zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
			TimeKey:        "T",
			LevelKey:       "L",
			NameKey:        "N",
			MessageKey:     "M",
			StacktraceKey:  "S",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.TimeEncoderOfLayout("15:04:05.000"),
			EncodeDuration: zapcore.StringDurationEncoder,
		})
	}
	return zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.EpochMillisTimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
	})
}

func logInternal(level LogLevel, subsystem string, err error, messageFmt string, args ...interface{}) {
	logger := defaultLogger.Load()
	if logger == nil {
		return
	}
	ce := logger.Check(level.ZapLevel(), "")
	if ce == nil {
		return
	}

	msg := messageFmt
	if len(args) > 0 {
		msg = fmt.Sprintf(messageFmt, args...)
	}
	ce.Message = msg

	fields := []zap.Field{zap.String("subsystem", subsystem)}
	if err != nil {
		fields = append(fields, zap.String("error", err.Error()))
	}
	ce.Write(fields...)
}

// Debug logs a debug message.
func Debug(subsystem string, messageFmt string, args ...interface{}) {
	logInternal(LevelDebug, subsystem, nil, messageFmt, args...)
}

// Info logs an informational message.
func Info(subsystem string, messageFmt string, args ...interface{}) {
	logInternal(LevelInfo, subsystem, nil, messageFmt, args...)
}

// Warn logs a warning message.
func Warn(subsystem string, messageFmt string, args ...interface{}) {
	logInternal(LevelWarn, subsystem, nil, messageFmt, args...)
}

// Error logs an error message.
func Error(subsystem string, err error, messageFmt string, args ...interface{}) {
	logInternal(LevelError, subsystem, err, messageFmt, args...)
}
