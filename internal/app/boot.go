package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/dop251/goja"
	"github.com/gin-gonic/gin"

	"kickstart/internal/failure"
	"kickstart/internal/loader"
	"kickstart/internal/options"
	"kickstart/internal/script"
	"kickstart/internal/server"
	"kickstart/pkg/logging"
)

// Boot outcomes recorded in metrics.
const (
	outcomeReady    = "ready"
	outcomeNotFound = "not_found"
	outcomeTimeout  = "timeout"
	outcomeFailed   = "failed"
)

// teardown collects what a partially completed boot has to undo.
type teardown []func(context.Context) error

func (t teardown) run(ctx context.Context) {
	for i := len(t) - 1; i >= 0; i-- {
		if err := t[i](ctx); err != nil {
			logging.Warn("Boot", "Cleanup after failed boot: %v", err)
		}
	}
}

// staged is a plugin that was loaded and registered but not yet bound.
type staged struct {
	app  *server.App
	path string
	undo teardown
}

// stage runs the boot sequence up to and including registration. On
// failure it tears down whatever it started itself.
func stage(ctx context.Context, cfg options.Config, deps Deps, debug bool) (_ *staged, err error) {
	var undo teardown
	defer func() {
		if err != nil {
			undo.run(context.Background())
		}
	}()

	loop := script.NewLoop()
	undo = append(undo, func(context.Context) error { loop.Stop(); return nil })

	ld := loader.New(loop, deps.Cwd,
		loader.WithArgs(cfg.PluginArgs),
		loader.WithBuiltin("kickstart", kickstartModule(deps.Version, cfg)),
		searchDirs(deps.SearchDirs),
	)

	if err := initLogging(ctx, cfg, ld, deps.LogOutput); err != nil {
		return nil, err
	}

	if debug {
		dbg, err := startDebugListener(ctx, DebugTarget(cfg, deps.InContainer()), deps.Metrics)
		if err != nil {
			return nil, err
		}
		undo = append(undo, dbg.Close)
	}

	res := ld.Load(ctx, cfg.PluginPath)
	switch res.Outcome {
	case loader.Loaded:
	case loader.NotFound:
		logging.Warn("Boot", "plugin file doesn't exist: %s", res.Path)
		return nil, res.Err
	default:
		logging.Error("Boot", res.Err, "Failed to load plugin %s (%s)", cfg.PluginPath, res.Outcome)
		return nil, res.Err
	}

	var custom map[string]interface{}
	if path := cfg.OptionsModulePath(); path != "" {
		raw, optRes := ld.LoadServerOptions(ctx, path, cfg.PluginArgs)
		if optRes.Outcome != loader.Loaded {
			return nil, optionsModuleError(optRes)
		}
		custom = raw
	}
	srvOpts, err := server.ParseOptions(custom)
	if err != nil {
		return nil, err
	}

	app := server.New(loop, server.Config{
		Prefix:     cfg.Prefix,
		BodyLimit:  cfg.BodyLimit,
		Options:    srvOpts,
		BaseDir:    filepath.Dir(res.Path),
		Logger:     logging.Logger(),
		Middleware: []gin.HandlerFunc{deps.Metrics.Middleware()},
	})

	if err := register(ctx, loop, app, res.Module, custom, cfg.PluginTimeout); err != nil {
		logging.Error("Boot", err, "Plugin registration failed")
		return nil, err
	}
	return &staged{app: app, path: res.Path, undo: undo}, nil
}

// Boot starts the plugin server described by cfg and returns once it is
// listening and its onReady hooks completed. On failure everything started
// so far is torn down and no handle is returned.
//
// A missing plugin file yields a PluginNotFound error, which is logged as
// a warning and is not fatal.
func Boot(ctx context.Context, cfg options.Config, deps Deps) (handle *server.Handle, err error) {
	deps = deps.withDefaults()
	started := time.Now()

	var undo teardown
	defer func() {
		if err == nil {
			return
		}
		outcome := outcomeFailed
		switch failure.KindOf(err) {
		case failure.PluginNotFound:
			outcome = outcomeNotFound
		case failure.PluginTimeout:
			outcome = outcomeTimeout
		}
		deps.Metrics.ObserveBoot(time.Since(started), outcome)
		undo.run(context.Background())
	}()

	s, err := stage(ctx, cfg, deps, cfg.Debug)
	if err != nil {
		return nil, err
	}
	undo = s.undo

	network, address := ListenTarget(cfg, deps.InContainer())
	h, err := s.app.Listen(ctx, network, address)
	if err != nil {
		return nil, err
	}
	// From here on the handle owns the teardown.
	for _, fn := range undo {
		h.OnClose(fn)
	}
	undo = teardown{h.Close}

	if err := s.app.RunHooks(ctx, server.HookListen); err != nil {
		return nil, failure.Throw(s.path, fmt.Errorf("onListen hook: %w", err))
	}
	if err := deps.Notifier.Start(h.Address().String()); err != nil {
		logging.Warn("Boot", "Failed to notify supervisor: %v", err)
	}
	if err := s.app.RunHooks(ctx, server.HookReady); err != nil {
		return nil, failure.Throw(s.path, fmt.Errorf("onReady hook: %w", err))
	}
	if err := deps.Notifier.Ready(h.Address().String()); err != nil {
		logging.Warn("Boot", "Failed to notify supervisor: %v", err)
	}
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logging.Debug("Boot", "sd_notify failed: %v", err)
	}

	deps.Metrics.ObserveBoot(time.Since(started), outcomeReady)
	logging.Info("Boot", "Plugin %s ready at %s", s.path, h.URL())
	return h, nil
}

// Routes loads and registers the plugin without binding, and returns the
// routes it declared. The debug listener is never started.
func Routes(ctx context.Context, cfg options.Config, deps Deps) ([]server.Route, error) {
	deps = deps.withDefaults()
	s, err := stage(ctx, cfg, deps, false)
	if err != nil {
		return nil, err
	}
	defer s.undo.run(context.Background())
	return s.app.Routes(), nil
}

// register runs the plugin's entry function, racing it against timeout.
// Whichever finishes second is ignored; on timeout the VM is interrupted.
func register(ctx context.Context, loop *script.Loop, app *server.App, mod *loader.Module, opts map[string]interface{}, timeout time.Duration) error {
	settled := app.Register(mod, opts)

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case err := <-settled:
		return err
	case err := <-loop.Fatal():
		return failure.Throw(mod.Path, err)
	case <-expired:
		err := failure.Timeout(mod.Path, timeout)
		loop.Interrupt(err)
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func initLogging(ctx context.Context, cfg options.Config, ld *loader.Loader, out io.Writer) error {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return failure.Invalid("%v", err)
	}
	opts := logging.Options{Level: level, Pretty: cfg.PrettyLogs, Output: out}

	if cfg.LoggingModule != "" {
		modOpts, res := ld.LoadLoggerOptions(ctx, cfg.LoggingModule)
		switch res.Outcome {
		case loader.Loaded:
		case loader.NotFound:
			return failure.Invalid("logging module doesn't exist: %s", cfg.LoggingModule)
		default:
			return res.Err
		}
		// Explicit settings win over the module's.
		if modOpts.Level != "" && cfg.SourceOf(options.FlagLogLevel) == options.SourceDefaults {
			if opts.Level, err = logging.ParseLevel(modOpts.Level); err != nil {
				return failure.Invalid("logging module %s: %v", cfg.LoggingModule, err)
			}
		}
		if cfg.SourceOf(options.FlagPrettyLogs) == options.SourceDefaults {
			opts.Pretty = opts.Pretty || modOpts.Pretty
		}
		opts.Fields = modOpts.Fields
	}

	logging.Init(opts)
	return nil
}

func optionsModuleError(res loader.Result) error {
	if res.Outcome == loader.NotFound {
		return failure.Invalid("options module doesn't exist: %s", res.Path)
	}
	return res.Err
}

func searchDirs(dirs []string) loader.Option {
	if dirs == nil {
		return func(*loader.Loader) {}
	}
	return loader.WithSearchDirs(dirs...)
}

// kickstartModule is what require('kickstart') returns.
func kickstartModule(version string, cfg options.Config) loader.Builtin {
	return func(vm *goja.Runtime) goja.Value {
		obj := vm.NewObject()
		_ = obj.Set("version", version)
		_ = obj.Set("prefix", cfg.Prefix)
		_ = obj.Set("args", append([]string{}, cfg.PluginArgs...))
		_ = obj.Set("watch", cfg.Watch)
		return obj
	}
}

// IsNotFound reports whether err is the non-fatal missing plugin warning.
func IsNotFound(err error) bool {
	return errors.Is(err, failure.ErrPluginNotFound)
}
