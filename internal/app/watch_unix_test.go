//go:build !windows

package app

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kickstart/internal/options"
	"kickstart/internal/watch"
)

func greetingPlugin(greeting string) string {
	return `
module.exports = async function (app) {
  app.get('/', async () => ({ greeting: '` + greeting + `' }))
}
`
}

// replaceFile swaps in new content with a single rename.
func replaceFile(t *testing.T, path, content string) {
	t.Helper()
	tmp := filepath.Join(filepath.Dir(path), ".next-"+filepath.Base(path))
	require.NoError(t, os.WriteFile(tmp, []byte(content), 0o644))
	require.NoError(t, os.Rename(tmp, path))
}

func fetch(t *testing.T, address string) string {
	t.Helper()
	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}, Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + address + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

// watchConfig returns a watch mode config for a plugin in a fresh directory.
func watchConfig(t *testing.T) (options.Config, Deps) {
	t.Helper()
	t.Setenv(childEnv, "1")

	dir := t.TempDir()
	plugin := filepath.Join(dir, "plugin.js")
	require.NoError(t, os.WriteFile(plugin, []byte(greetingPlugin("hello")), 0o644))

	cfg := testConfig(plugin)
	cfg.Watch = true
	cfg.LogLevel = "error"
	cfg.WatchDebounce = 50 * time.Millisecond
	deps := testDeps(t)
	deps.Cwd = dir
	return cfg, deps
}

type watchRun struct {
	t      *testing.T
	events chan watch.Event
	cancel context.CancelFunc
	err    chan error
}

func startWatch(t *testing.T, cfg options.Config, deps Deps) *watchRun {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)

	w := &watchRun{t: t, events: make(chan watch.Event, 32), err: make(chan error, 1)}
	application := NewApplication(cfg, deps)
	application.Executable = exe
	application.OnWatchEvent(func(e watch.Event) { w.events <- e })

	var ctx context.Context
	ctx, w.cancel = context.WithCancel(context.Background())
	t.Cleanup(w.cancel)
	go func() { w.err <- application.Run(ctx) }()
	return w
}

func (w *watchRun) next(want watch.EventType) watch.Event {
	w.t.Helper()
	select {
	case e := <-w.events:
		require.Equal(w.t, want, e.Type, "event %+v", e)
		return e
	case <-time.After(30 * time.Second):
		w.t.Fatalf("timed out waiting for %s", want)
		return watch.Event{}
	}
}

// stop cancels the run and expects a clean close.
func (w *watchRun) stop() {
	w.t.Helper()
	w.cancel()
	select {
	case err := <-w.err:
		require.NoError(w.t, err)
	case <-time.After(30 * time.Second):
		w.t.Fatal("Run did not return after cancel")
	}
	w.next(watch.EventClose)
}

func TestApplication_WatchRestartsChild(t *testing.T) {
	cfg, deps := watchConfig(t)
	w := startWatch(t, cfg, deps)
	next := w.next
	plugin := cfg.PluginPath

	first := next(watch.EventStart)
	next(watch.EventReady)
	assert.Contains(t, fetch(t, first.Address), "hello")

	replaceFile(t, plugin, greetingPlugin("again"))

	restart := next(watch.EventRestart)
	assert.Equal(t, first.Instance, restart.Instance)
	assert.Contains(t, restart.Paths, "plugin.js")
	second := next(watch.EventStart)
	assert.NotEqual(t, first.Instance, second.Instance)
	next(watch.EventReady)
	assert.Contains(t, fetch(t, second.Address), "again")

	w.stop()
	assert.Equal(t, float64(1), testutil.ToFloat64(deps.Metrics.RestartsTotal))
}

func TestApplication_WatchSocketInWatchedDirectory(t *testing.T) {
	cfg, deps := watchConfig(t)
	cfg.SocketPath = "app.sock"
	w := startWatch(t, cfg, deps)

	start := w.next(watch.EventStart)
	assert.Contains(t, start.Address, "app.sock")
	w.next(watch.EventReady)

	select {
	case e := <-w.events:
		t.Fatalf("unexpected %s event while the child owns its socket", e.Type)
	case <-time.After(time.Second):
	}

	w.stop()
	assert.Zero(t, testutil.ToFloat64(deps.Metrics.RestartsTotal))
}
