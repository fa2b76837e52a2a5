// Package failure defines the closed set of error kinds kickstart can report
// while resolving options, loading a plugin and booting the server, together
// with the policy that maps each kind to a process exit code.
package failure

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/containerd/errdefs"
)

// Kind categorizes a bootstrap failure.
type Kind int

const (
	// Unknown is never produced by kickstart itself; it marks foreign errors.
	Unknown Kind = iota
	// InvalidArgument indicates a malformed flag, environment value or conflicting options.
	InvalidArgument
	// PluginNotFound indicates the plugin path does not exist. It is a warning, not a fatal error.
	PluginNotFound
	// DependencyMissing indicates the plugin (or a module it requires) references a module that cannot be resolved.
	DependencyMissing
	// SyntaxError indicates the plugin source failed to parse.
	SyntaxError
	// RuntimeThrow indicates the plugin threw while being evaluated or registered,
	// or left a promise rejection unhandled.
	RuntimeThrow
	// PluginTimeout indicates the plugin did not signal readiness within the plugin timeout.
	PluginTimeout
	// BindFailure indicates the server could not listen on the requested socket or port.
	BindFailure
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "InvalidArgument"
	case PluginNotFound:
		return "PluginNotFound"
	case DependencyMissing:
		return "DependencyMissing"
	case SyntaxError:
		return "SyntaxError"
	case RuntimeThrow:
		return "RuntimeThrow"
	case PluginTimeout:
		return "PluginTimeout"
	case BindFailure:
		return "BindFailure"
	default:
		return "Unknown"
	}
}

// Code returns the stable, user-facing error code of the kind.
func (k Kind) Code() string {
	switch k {
	case InvalidArgument:
		return "ERR_INVALID_ARGUMENT"
	case PluginNotFound:
		return "ERR_PLUGIN_NOT_FOUND"
	case DependencyMissing:
		return "ERR_DEPENDENCY_MISSING"
	case SyntaxError:
		return "ERR_SYNTAX"
	case RuntimeThrow:
		return "ERR_RUNTIME_THROW"
	case PluginTimeout:
		return "ERR_PLUGIN_TIMEOUT"
	case BindFailure:
		return "ERR_BIND_FAILURE"
	default:
		return "ERR_UNKNOWN"
	}
}

// Error is a classified bootstrap failure.
//
// It unwraps to both its cause and a containerd errdefs category, so callers
// can test either errors.Is(err, failure.ErrSyntax) or errdefs.IsNotFound(err).
type Error struct {
	Kind Kind
	// Path is the plugin (or module) path the failure relates to, if any.
	Path string
	// Specifier is the unresolved module name for DependencyMissing.
	Specifier string
	// Err is the underlying cause.
	Err error
}

// Sentinels for errors.Is comparisons. They match any *Error of the same kind.
var (
	ErrInvalidArgument   = &Error{Kind: InvalidArgument}
	ErrPluginNotFound    = &Error{Kind: PluginNotFound}
	ErrDependencyMissing = &Error{Kind: DependencyMissing}
	ErrSyntax            = &Error{Kind: SyntaxError}
	ErrRuntimeThrow      = &Error{Kind: RuntimeThrow}
	ErrPluginTimeout     = &Error{Kind: PluginTimeout}
	ErrBindFailure       = &Error{Kind: BindFailure}
)

func (e *Error) Error() string {
	var msg string
	switch {
	case e.Err != nil:
		msg = e.Err.Error()
	case e.Specifier != "":
		msg = fmt.Sprintf("cannot find module '%s'", e.Specifier)
	case e.Path != "":
		msg = e.Path
	default:
		msg = e.Kind.String()
	}
	return e.Kind.Code() + ": " + msg
}

// Code returns the error code of the failure kind.
func (e *Error) Code() string {
	return e.Kind.Code()
}

// Is reports whether target is a sentinel of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Err == nil && t.Path == "" && t.Specifier == ""
}

// Unwrap exposes the cause and the errdefs category.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	if c := e.category(); c != nil {
		errs = append(errs, c)
	}
	return errs
}

func (e *Error) category() error {
	switch e.Kind {
	case InvalidArgument, SyntaxError:
		return errdefs.ErrInvalidArgument
	case PluginNotFound:
		return errdefs.ErrNotFound
	case DependencyMissing:
		return errdefs.ErrFailedPrecondition
	case RuntimeThrow:
		return errdefs.ErrInternal
	case PluginTimeout:
		return errdefs.ErrUnavailable
	case BindFailure:
		switch {
		case errors.Is(e.Err, syscall.EADDRINUSE):
			return errdefs.ErrAlreadyExists
		case errors.Is(e.Err, os.ErrPermission), errors.Is(e.Err, syscall.EACCES):
			return errdefs.ErrPermissionDenied
		default:
			return errdefs.ErrUnavailable
		}
	}
	return nil
}

// Invalid builds an InvalidArgument failure.
func Invalid(format string, args ...interface{}) *Error {
	return &Error{Kind: InvalidArgument, Err: fmt.Errorf(format, args...)}
}

// NotFound builds a PluginNotFound failure for path.
func NotFound(path string) *Error {
	return &Error{Kind: PluginNotFound, Path: path, Err: fmt.Errorf("plugin file doesn't exist: %s", path)}
}

// MissingDependency builds a DependencyMissing failure. cause may be nil.
func MissingDependency(path, specifier string, cause error) *Error {
	if cause == nil {
		cause = fmt.Errorf("cannot find module '%s' required by %s", specifier, path)
	}
	return &Error{Kind: DependencyMissing, Path: path, Specifier: specifier, Err: cause}
}

// Syntax builds a SyntaxError failure preserving the parser's message.
func Syntax(path string, cause error) *Error {
	return &Error{Kind: SyntaxError, Path: path, Err: cause}
}

// Throw builds a RuntimeThrow failure.
func Throw(path string, cause error) *Error {
	return &Error{Kind: RuntimeThrow, Path: path, Err: cause}
}

// Timeout builds a PluginTimeout failure.
func Timeout(path string, after time.Duration) *Error {
	return &Error{
		Kind: PluginTimeout,
		Path: path,
		Err: fmt.Errorf("plugin did not start in time: %s after %s; you may have forgotten to call 'done' or to resolve a Promise",
			path, after),
	}
}

// Bind builds a BindFailure for the given listen target.
func Bind(target string, cause error) *Error {
	return &Error{Kind: BindFailure, Path: target, Err: fmt.Errorf("listen %s: %w", target, cause)}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}

// IsFatal reports whether err should terminate the process with a failure status.
// PluginNotFound is reported as a warning only.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err) != PluginNotFound
}

// Exit codes.
const (
	ExitSuccess = 0
	ExitFatal   = 1
)

// ExitCode maps err to the process exit status.
func ExitCode(err error) int {
	if IsFatal(err) {
		return ExitFatal
	}
	return ExitSuccess
}
