package app

import (
	"context"
	"os"
	"path/filepath"

	"github.com/coreos/go-systemd/v22/daemon"
	"golang.org/x/sync/errgroup"

	"kickstart/internal/failure"
	"kickstart/internal/watch"
	"kickstart/pkg/logging"
)

// runServer boots the plugin server and serves until ctx is done or the
// plugin fails fatally after boot.
func (a *Application) runServer(ctx context.Context) (err error) {
	defer func() { a.exitNotice(err) }()

	h, err := Boot(ctx, a.config, a.deps)
	if err != nil {
		return err
	}

	var fatal error
	select {
	case <-ctx.Done():
		logging.Info("App", "Shutting down")
	case fatal = <-h.Fatal():
		logging.Error("App", fatal, "Plugin failed, shutting down")
	}

	if _, notifyErr := daemon.SdNotify(false, daemon.SdNotifyStopping); notifyErr != nil {
		logging.Debug("App", "sd_notify failed: %v", notifyErr)
	}

	shutdownCtx, cancel := a.shutdownContext()
	defer cancel()
	if closeErr := h.Close(shutdownCtx); closeErr != nil {
		logging.Error("App", closeErr, "Error during shutdown")
		if fatal == nil {
			fatal = closeErr
		}
	}
	return fatal
}

// runWatch supervises server children, restarting them on file changes.
func (a *Application) runWatch(ctx context.Context) error {
	cfg := a.config
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return failure.Invalid("%v", err)
	}
	logging.Init(logging.Options{Level: level, Pretty: cfg.PrettyLogs, Output: a.deps.LogOutput})

	exe := a.Executable
	if exe == "" {
		if exe, err = os.Executable(); err != nil {
			return err
		}
	}

	root := cfg.WatchRoot(a.deps.Cwd)
	detector := watch.NewDetector(root, cfg.IgnorePatterns(), cfg.WatchDebounce)
	if cfg.UsesSocket() {
		// Every child creates and removes its socket.
		detector.Exclude(socketPath(cfg.SocketPath, a.deps.Cwd))
	}
	spawner := &watch.ProcessSpawner{
		Path:   exe,
		Args:   append([]string{"start"}, cfg.WithoutWatch().Args()...),
		Dir:    a.deps.Cwd,
		Grace:  cfg.PluginTimeout,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}

	sup := watch.New(spawner, detector)
	sup.OnEvent(a.logWatchEvent)
	for _, h := range a.watchHandlers {
		sup.OnEvent(h)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sup.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := a.shutdownContext()
		defer cancel()
		return sup.Close(shutdownCtx)
	})

	logging.Info("App", "Watching %s, ignoring %v", root, cfg.IgnorePatterns())
	return g.Wait()
}

func (a *Application) logWatchEvent(e watch.Event) {
	switch e.Type {
	case watch.EventStart:
		logging.Info("Watch", "Child %s listening at %s", e.Instance, e.Address)
	case watch.EventReady:
		logging.Info("Watch", "Child %s ready", e.Instance)
		if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
			logging.Debug("Watch", "sd_notify failed: %v", err)
		}
	case watch.EventRestart:
		a.deps.Metrics.RestartsTotal.Inc()
		if _, err := daemon.SdNotify(false, daemon.SdNotifyReloading); err != nil {
			logging.Debug("Watch", "sd_notify failed: %v", err)
		}
	case watch.EventClose:
		logging.Info("Watch", "Stopped watching")
	}
}

func socketPath(path, cwd string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(cwd, path)
}
