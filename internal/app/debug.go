package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"

	"kickstart/internal/failure"
	"kickstart/internal/metrics"
	"kickstart/internal/server"
	"kickstart/pkg/logging"
)

// debugListener serves pprof and Prometheus metrics next to the plugin server.
type debugListener struct {
	srv *http.Server
	ln  net.Listener
}

func startDebugListener(ctx context.Context, address string, m *metrics.Metrics) (*debugListener, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/metrics", m.Handler())

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return nil, failure.Bind(address, err)
	}

	d := &debugListener{
		srv: &http.Server{Handler: mux, ReadHeaderTimeout: server.DefaultReadHeaderTimeout},
		ln:  ln,
	}
	go func() {
		if err := d.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("Debug", err, "Debug listener stopped")
		}
	}()
	logging.Info("Debug", "Debug listener at http://%s (pprof under /debug/pprof/, metrics under /metrics)", ln.Addr())
	return d, nil
}

func (d *debugListener) Addr() net.Addr {
	return d.ln.Addr()
}

func (d *debugListener) Close(ctx context.Context) error {
	if err := d.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down debug listener: %w", err)
	}
	return nil
}
