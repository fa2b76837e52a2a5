package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"

	"kickstart/internal/failure"
	"kickstart/internal/script"
	"kickstart/pkg/logging"
)

// Handle is a listening server.
type Handle struct {
	app    *App
	srv    *http.Server
	ln     net.Listener
	socket string
	tls    bool

	fatal chan error
	done  chan struct{}

	closeOnce sync.Once
	closeErr  error

	mu       sync.Mutex
	cleanups []func(context.Context) error
}

// Listen binds network/address ("tcp" with host:port, or "unix" with a
// socket path) and starts serving. Routes can no longer be added afterwards.
func (a *App) Listen(ctx context.Context, network, address string) (*Handle, error) {
	var tlsConfig *tls.Config
	if a.cfg.Options.HTTPS != nil {
		cfg, err := a.cfg.Options.HTTPS.TLSConfig(a.cfg.BaseDir)
		if err != nil {
			return nil, failure.Invalid("invalid https options: %v", err)
		}
		tlsConfig = cfg
	}

	if network == "unix" {
		removeStaleSocket(address)
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, network, address)
	if err != nil {
		return nil, failure.Bind(address, err)
	}
	if tlsConfig != nil {
		ln = tls.NewListener(ln, tlsConfig)
	}
	a.seal()

	h := &Handle{
		app: a,
		srv: &http.Server{
			Handler:           a.engine,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			ReadTimeout:       millis(a.cfg.Options.RequestTimeout),
			IdleTimeout:       millis(a.cfg.Options.KeepAliveTimeout),
		},
		ln:    ln,
		tls:   tlsConfig != nil,
		fatal: make(chan error, 1),
		done:  make(chan struct{}),
	}
	if network == "unix" {
		h.socket = address
	}

	go h.serve()
	go h.watchLoop()

	logging.Info("Server", "Server listening at %s", h.URL())
	return h, nil
}

func (h *Handle) serve() {
	if err := h.srv.Serve(h.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		h.reportFatal(fmt.Errorf("server stopped: %w", err))
	}
}

// watchLoop forwards fatal script errors until the handle is closed.
func (h *Handle) watchLoop() {
	select {
	case err := <-h.app.loop.Fatal():
		h.reportFatal(failure.Throw("", err))
	case <-h.done:
	}
}

func (h *Handle) reportFatal(err error) {
	select {
	case h.fatal <- err:
	default:
	}
}

// Address returns the bound address.
func (h *Handle) Address() net.Addr {
	return h.ln.Addr()
}

// URL returns where the server can be reached, including the prefix.
func (h *Handle) URL() string {
	if h.socket != "" {
		return "unix:" + h.socket
	}
	scheme := "http"
	if h.tls {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s%s", scheme, h.ln.Addr().String(), h.app.cfg.Prefix)
}

// App returns the app the handle serves.
func (h *Handle) App() *App {
	return h.app
}

// Fatal delivers the first error that should terminate the process after
// boot: an unhandled rejection or uncaught exception in the plugin, or the
// listener failing.
func (h *Handle) Fatal() <-chan error {
	return h.fatal
}

// Done is closed once Close has completed.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// OnClose adds fn to the work done by Close, after the server stopped.
// Functions run in reverse order of registration.
func (h *Handle) OnClose(fn func(context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cleanups = append(h.cleanups, fn)
}

// Close runs the onClose hooks, shuts the server down gracefully, and runs
// the functions added with OnClose. Only the first call does any work;
// every call returns the same error.
func (h *Handle) Close(ctx context.Context) error {
	h.closeOnce.Do(func() {
		var errs []error
		if err := h.app.RunHooks(ctx, HookClose); err != nil && !errors.Is(err, script.ErrStopped) {
			errs = append(errs, fmt.Errorf("onClose hook failed: %w", err))
		}

		if err := h.srv.Shutdown(ctx); err != nil {
			_ = h.srv.Close()
			errs = append(errs, fmt.Errorf("failed to shut down server: %w", err))
		}
		if h.socket != "" {
			if err := os.Remove(h.socket); err != nil && !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, err)
			}
		}

		h.mu.Lock()
		cleanups := h.cleanups
		h.mu.Unlock()
		for i := len(cleanups) - 1; i >= 0; i-- {
			if err := cleanups[i](ctx); err != nil {
				errs = append(errs, err)
			}
		}

		h.closeErr = errors.Join(errs...)
		close(h.done)
		logging.Info("Server", "Server closed")
	})
	return h.closeErr
}

// removeStaleSocket deletes a socket file left behind by a previous run.
// Other files are left alone so that the bind fails.
func removeStaleSocket(path string) {
	fi, err := os.Lstat(path)
	if err != nil || fi.Mode()&os.ModeSocket == 0 {
		return
	}
	if conn, err := net.Dial("unix", path); err == nil {
		_ = conn.Close()
		return
	}
	_ = os.Remove(path)
}
