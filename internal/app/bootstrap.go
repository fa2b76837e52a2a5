package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kickstart/internal/failure"
	"kickstart/internal/options"
	"kickstart/internal/watch"
	"kickstart/pkg/logging"
)

// DefaultShutdownTimeout bounds the graceful close of the server.
const DefaultShutdownTimeout = 30 * time.Second

// Application runs one kickstart invocation: either a single server, or
// in watch mode a supervisor that restarts the server on file changes.
//
//	application := app.NewApplication(cfg, app.NewDeps(cwd, version))
//	os.Exit(failure.ExitCode(application.Run(ctx)))
type Application struct {
	config options.Config
	deps   Deps

	// Executable runs the supervised children in watch mode. Defaults to
	// the current executable.
	Executable string
	// ShutdownTimeout defaults to DefaultShutdownTimeout.
	ShutdownTimeout time.Duration

	watchHandlers []watch.Handler
}

// NewApplication creates an application for cfg.
func NewApplication(cfg options.Config, deps Deps) *Application {
	return &Application{
		config:          cfg,
		deps:            deps.withDefaults(),
		ShutdownTimeout: DefaultShutdownTimeout,
	}
}

// OnWatchEvent adds a handler for the supervisor's lifecycle events in
// watch mode. Add handlers before calling Run.
func (a *Application) OnWatchEvent(h watch.Handler) {
	a.watchHandlers = append(a.watchHandlers, h)
}

// Run blocks until the server (or supervisor) stopped. SIGINT and SIGTERM
// trigger a graceful close. The error carries the failure kind that
// decides the exit code; a missing plugin yields a non-fatal error.
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer logging.Sync()

	if a.config.Watch {
		return a.runWatch(ctx)
	}
	return a.runServer(ctx)
}

func (a *Application) shutdownContext() (context.Context, context.CancelFunc) {
	timeout := a.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	return context.WithTimeout(context.Background(), timeout)
}

// exitNotice tells a supervising parent how this child is about to exit.
func (a *Application) exitNotice(err error) {
	if !a.deps.Notifier.Enabled() {
		return
	}
	if sendErr := a.deps.Notifier.Exit(failure.ExitCode(err), err); sendErr != nil {
		logging.Debug("App", "Failed to send exit notice: %v", sendErr)
	}
	_ = a.deps.Notifier.Close()
}
