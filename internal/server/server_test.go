package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dop251/goja"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kickstart/internal/failure"
	"kickstart/internal/loader"
	"kickstart/internal/script"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testPlugin struct {
	app  *App
	loop *script.Loop
	mod  *loader.Module
}

func loadPlugin(t *testing.T, src string, cfg Config) *testPlugin {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "plugin.js")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))

	loop := script.NewLoop()
	t.Cleanup(loop.Stop)
	res := loader.New(loop, dir, loader.WithSearchDirs()).Load(context.Background(), path)
	require.Equal(t, loader.Loaded, res.Outcome, "err: %v", res.Err)

	cfg.BaseDir = dir
	return &testPlugin{app: New(loop, cfg), loop: loop, mod: res.Module}
}

func (p *testPlugin) register(t *testing.T, opts map[string]interface{}) error {
	t.Helper()
	select {
	case err := <-p.app.Register(p.mod, opts):
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("registration did not settle")
		return nil
	}
}

func newPlugin(t *testing.T, src string, cfg Config) *App {
	t.Helper()
	p := loadPlugin(t, src, cfg)
	require.NoError(t, p.register(t, nil))
	return p.app
}

func do(a *App, method, target, contentType, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

const routesPlugin = `
module.exports = function (app, opts, done) {
  app.get('/', () => ({ hello: 'world' }))
  app.get('/text', () => 'plain')
  app.post('/echo', (request) => ({ body: request.body, type: request.headers['content-type'] }))
  app.get('/users/:id', (request) => ({ id: request.params.id, q: request.query.q, route: request.routePath }))
  app.get('/files/*', (request) => request.params['*'])
  app.put('/created', (request, reply) => { reply.code(201).header('x-custom', 'yes').send({ ok: true }) })
  app.get('/async', async () => { await null; return { async: true } })
  app.get('/later', (request, reply) => { setTimeout(() => reply.send('late'), 5) })
  app.get('/teapot', () => { const err = new Error('short and stout'); err.statusCode = 418; throw err })
  app.get('/boom', async () => { throw new Error('kaboom') })
  app.get('/redirect', (request, reply) => reply.redirect('/text'))
  app.route({ method: ['GET', 'DELETE'], url: '/multi', handler: (request) => request.method })
  done()
}`

func TestHandlers(t *testing.T) {
	a := newPlugin(t, routesPlugin, Config{BodyLimit: 1024})

	tests := []struct {
		name        string
		method      string
		target      string
		contentType string
		body        string
		status      int
		wantType    string
		wantBody    string
		wantJSON    map[string]interface{}
	}{
		{name: "json", method: "GET", target: "/", status: 200, wantType: "application/json", wantJSON: map[string]interface{}{"hello": "world"}},
		{name: "text", method: "GET", target: "/text", status: 200, wantType: "text/plain", wantBody: "plain"},
		{name: "json body", method: "POST", target: "/echo", contentType: "application/json", body: `{"a":1}`, status: 200,
			wantJSON: map[string]interface{}{"body": map[string]interface{}{"a": float64(1)}, "type": "application/json"}},
		{name: "text body", method: "POST", target: "/echo", contentType: "text/plain", body: "hi", status: 200,
			wantJSON: map[string]interface{}{"body": "hi", "type": "text/plain"}},
		{name: "params and query", method: "GET", target: "/users/42?q=x", status: 200,
			wantJSON: map[string]interface{}{"id": "42", "q": "x", "route": "/users/:id"}},
		{name: "wildcard", method: "GET", target: "/files/a/b.txt", status: 200, wantBody: "a/b.txt"},
		{name: "reply api", method: "PUT", target: "/created", status: 201, wantJSON: map[string]interface{}{"ok": true}},
		{name: "async", method: "GET", target: "/async", status: 200, wantJSON: map[string]interface{}{"async": true}},
		{name: "send from timer", method: "GET", target: "/later", status: 200, wantBody: "late"},
		{name: "status from error", method: "GET", target: "/teapot", status: 418,
			wantJSON: map[string]interface{}{"statusCode": float64(418), "error": "I'm a teapot", "message": "short and stout"}},
		{name: "rejection", method: "GET", target: "/boom", status: 500,
			wantJSON: map[string]interface{}{"statusCode": float64(500), "error": "Internal Server Error", "message": "kaboom"}},
		{name: "redirect", method: "GET", target: "/redirect", status: 302},
		{name: "route with methods", method: "DELETE", target: "/multi", status: 200, wantBody: "DELETE"},
		{name: "invalid json", method: "POST", target: "/echo", contentType: "application/json", body: `{`, status: 400},
		{name: "unsupported media type", method: "POST", target: "/echo", contentType: "application/x-www-form-urlencoded", body: "a=1", status: 415},
		{name: "not found", method: "GET", target: "/nope", status: 404,
			wantJSON: map[string]interface{}{"statusCode": float64(404), "error": "Not Found", "message": "Route GET:/nope not found"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(a, tt.method, tt.target, tt.contentType, tt.body)
			assert.Equal(t, tt.status, rec.Code, "body: %s", rec.Body.String())
			assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
			if tt.wantType != "" {
				assert.Contains(t, rec.Header().Get("Content-Type"), tt.wantType)
			}
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			}
			if tt.wantJSON != nil {
				assert.Equal(t, tt.wantJSON, decode(t, rec))
			}
		})
	}

	rec := do(a, "PUT", "/created", "", "")
	assert.Equal(t, "yes", rec.Header().Get("X-Custom"))
	rec = do(a, "GET", "/redirect", "", "")
	assert.Equal(t, "/text", rec.Header().Get("Location"))
}

func TestBodyLimit(t *testing.T) {
	const limit = 64
	a := newPlugin(t, `module.exports = async (app) => { app.post('/', (request) => String(request.body.length)) }`, Config{BodyLimit: limit})

	rec := do(a, "POST", "/", "text/plain", strings.Repeat("a", limit))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "64", rec.Body.String())

	rec = do(a, "POST", "/", "text/plain", strings.Repeat("a", limit+1))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, float64(413), decode(t, rec)["statusCode"])

	// Without a declared length the limit applies while reading.
	req := httptest.NewRequest("POST", "/", strings.NewReader(strings.Repeat("a", limit+1)))
	req.ContentLength = -1
	req.Header.Set("Content-Type", "text/plain")
	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestCustomOptionsOverrideBodyLimit(t *testing.T) {
	a := newPlugin(t, `module.exports = async (app) => { app.post('/', () => 'ok') }`,
		Config{BodyLimit: 1 << 20, Options: Options{BodyLimit: 4}})

	rec := do(a, "POST", "/", "text/plain", "12345")
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestPrefix(t *testing.T) {
	a := newPlugin(t, `module.exports = async (app) => {
	  app.get('/', () => app.prefix)
	  app.get('/health', () => 'ok')
	}`, Config{Prefix: "/api"})

	rec := do(a, "GET", "/api", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/api", rec.Body.String())
	assert.Equal(t, http.StatusOK, do(a, "GET", "/api/health", "", "").Code)
	assert.Equal(t, http.StatusNotFound, do(a, "GET", "/health", "", "").Code)

	assert.Equal(t, []Route{{Method: "GET", Path: "/api"}, {Method: "GET", Path: "/api/health"}}, a.Routes())
}

func TestRegister(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantErr string
		kind    failure.Kind
	}{
		{name: "done callback", src: "module.exports = function (app, opts, done) { setTimeout(done, 1) }"},
		{name: "done with error", src: "module.exports = function (app, opts, done) { done(new Error('nope')) }", wantErr: "nope", kind: failure.RuntimeThrow},
		{name: "async", src: "module.exports = async function (app, opts) { await null }"},
		{name: "rejected", src: "module.exports = async function (app, opts) { throw new Error('rejected') }", wantErr: "rejected", kind: failure.RuntimeThrow},
		{name: "sync", src: "module.exports = function (app) { app.get('/', () => 'x') }"},
		{name: "sync throw", src: "module.exports = function (app) { null.x }", wantErr: "TypeError", kind: failure.RuntimeThrow},
		{name: "not a function", src: "module.exports = 42", wantErr: "must export a function", kind: failure.RuntimeThrow},
		{name: "bad hook", src: "module.exports = function (app) { app.addHook('onSend', () => {}) }", wantErr: "unsupported hook", kind: failure.RuntimeThrow},
		{name: "duplicate route", src: "module.exports = function (app) { app.get('/a', () => 1); app.get('/a', () => 2) }", wantErr: "cannot add route", kind: failure.RuntimeThrow},
		{name: "duplicate decorator", src: "module.exports = function (app) { app.decorate('x', 1); app.decorate('x', 2) }", wantErr: "already present", kind: failure.RuntimeThrow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := loadPlugin(t, tt.src, Config{}).register(t, nil)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, tt.kind, failure.KindOf(err))
		})
	}
}

func TestRegister_PassesOptions(t *testing.T) {
	p := loadPlugin(t, `module.exports = async (app, opts) => { app.get('/', () => opts) }`, Config{})
	require.NoError(t, p.register(t, map[string]interface{}{"greeting": "hi"}))

	assert.Equal(t, map[string]interface{}{"greeting": "hi"}, decode(t, do(p.app, "GET", "/", "", "")))
}

func TestRegister_NeverSettlingPluginCanBeAbandoned(t *testing.T) {
	p := loadPlugin(t, "module.exports = function (app, opts, done) {}", Config{})

	select {
	case err := <-p.app.Register(p.mod, nil):
		t.Fatalf("registration settled unexpectedly: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHooksAndDecorators(t *testing.T) {
	a := newPlugin(t, `module.exports = async (app) => {
	  const calls = []
	  app.decorate('calls', calls)
	  app.decorateRequest('user', 'anonymous')
	  app.addHook('onListen', async () => { calls.push('listen') })
	  app.addHook('onReady', (done) => { calls.push('ready'); done() })
	  app.addHook('onReady', function () { calls.push('ready2:' + (this === app)) })
	  app.get('/', (request) => ({ calls: app.calls, user: request.user }))
	}`, Config{})

	ctx := context.Background()
	require.NoError(t, a.RunHooks(ctx, HookListen))
	require.NoError(t, a.RunHooks(ctx, HookReady))

	assert.Equal(t, map[string]interface{}{
		"calls": []interface{}{"listen", "ready", "ready2:true"},
		"user":  "anonymous",
	}, decode(t, do(a, "GET", "/", "", "")))
}

func TestRunHooks_StopsAtFirstError(t *testing.T) {
	a := newPlugin(t, `module.exports = async (app) => {
	  app.addHook('onReady', async () => { throw new Error('not ready') })
	  app.addHook('onReady', () => { throw new Error('unreachable') })
	}`, Config{})

	err := a.RunHooks(context.Background(), HookReady)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not ready")
}

func TestListen_TCP(t *testing.T) {
	p := loadPlugin(t, `module.exports = async (app) => {
	  app.get('/', () => 'hello')
	  app.addHook('onClose', (instance, done) => { instance.log.info('closing'); done() })
	}`, Config{})
	require.NoError(t, p.register(t, nil))

	h, err := p.app.Listen(context.Background(), "tcp", "127.0.0.1:0")
	require.NoError(t, err)

	resp, err := http.Get(h.URL() + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, "hello", string(body))

	closed := make(chan struct{})
	var cleanupCalls int
	h.OnClose(func(context.Context) error { cleanupCalls++; close(closed); return nil })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.Close(ctx))
	require.NoError(t, h.Close(ctx))
	<-closed
	assert.Equal(t, 1, cleanupCalls)

	select {
	case <-h.Done():
	default:
		t.Fatal("Done not closed after Close")
	}
}

func TestListen_RejectsLateRoutes(t *testing.T) {
	p := loadPlugin(t, `module.exports = async (app) => { app.get('/', () => 'x') }`, Config{})
	require.NoError(t, p.register(t, nil))

	h, err := p.app.Listen(context.Background(), "tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close(context.Background()) })

	err = p.loop.Run(context.Background(), func(vm *goja.Runtime) error {
		app := p.app.Object(vm)
		get, _ := goja.AssertFunction(app.Get("get"))
		_, err := get(app, vm.ToValue("/late"), vm.ToValue(func() string { return "late" }))
		return script.FromError(vm, err)
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already listening")
}

func TestListen_UnixSocket(t *testing.T) {
	p := loadPlugin(t, `module.exports = async (app) => { app.get('/', () => 'over a socket') }`, Config{})
	require.NoError(t, p.register(t, nil))

	socket := filepath.Join(t.TempDir(), "app.sock")
	// A stale socket from a previous run is replaced.
	stale, err := net.Listen("unix", socket)
	require.NoError(t, err)
	stale.(*net.UnixListener).SetUnlinkOnClose(false)
	require.NoError(t, stale.Close())

	h, err := p.app.Listen(context.Background(), "unix", socket)
	require.NoError(t, err)
	assert.Equal(t, "unix", h.Address().Network())
	assert.Equal(t, "unix:"+socket, h.URL())

	client := &http.Client{Transport: &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socket)
		},
	}}
	resp, err := client.Get("http://unix/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, "over a socket", string(body))

	require.NoError(t, h.Close(context.Background()))
	_, err = os.Stat(socket)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestListen_BindFailure(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = taken.Close() })

	p := loadPlugin(t, `module.exports = async () => {}`, Config{})
	require.NoError(t, p.register(t, nil))

	_, err = p.app.Listen(context.Background(), "tcp", taken.Addr().String())
	require.Error(t, err)
	assert.Equal(t, failure.BindFailure, failure.KindOf(err))
	assert.True(t, failure.IsFatal(err))
}

func TestHandle_FatalOnUnhandledRejection(t *testing.T) {
	p := loadPlugin(t, `module.exports = async (app) => {
	  app.get('/', () => { Promise.reject(new Error('lost')); return 'ok' })
	}`, Config{})
	require.NoError(t, p.register(t, nil))

	h, err := p.app.Listen(context.Background(), "tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close(context.Background()) })

	resp, err := http.Get(h.URL() + "/")
	require.NoError(t, err)
	_ = resp.Body.Close()

	select {
	case err := <-h.Fatal():
		assert.Contains(t, err.Error(), "lost")
		assert.Equal(t, 1, failure.ExitCode(err))
	case <-time.After(5 * time.Second):
		t.Fatal("no fatal error reported")
	}
}
