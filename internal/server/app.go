package server

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dop251/goja"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"kickstart/internal/script"
	"kickstart/pkg/logging"
)

// Hook names a lifecycle hook a plugin can add with app.addHook.
type Hook string

const (
	HookListen Hook = "onListen"
	HookReady  Hook = "onReady"
	HookClose  Hook = "onClose"
)

var methods = []string{
	http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
	http.MethodPatch, http.MethodDelete, http.MethodOptions,
}

// wildcardParam is the gin name of a trailing "*" segment.
const wildcardParam = "wildcard"

// Config configures an App.
type Config struct {
	// Prefix is prepended to every route; "" or "/x".
	Prefix string
	// BodyLimit is the maximum request payload in bytes. A positive
	// Options.BodyLimit overrides it.
	BodyLimit int64
	Options   Options
	// BaseDir resolves relative HTTPS file names.
	BaseDir string
	// Logger defaults to the process logger.
	Logger     *zap.Logger
	Middleware []gin.HandlerFunc
}

// Route is a registered method and full path.
type Route struct {
	Method string `json:"method" yaml:"method"`
	Path   string `json:"path" yaml:"path"`
}

// App adapts a gin engine to the "app" object handed to a plugin. All of
// its JavaScript state lives on the loop.
type App struct {
	cfg    Config
	loop   *script.Loop
	logger *zap.Logger
	engine *gin.Engine
	group  *gin.RouterGroup

	mu     sync.Mutex
	routes []Route
	sealed atomic.Bool

	// Loop-only state.
	obj             *goja.Object
	hooks           map[Hook][]goja.Value
	reqDecorators   map[string]goja.Value
	replyDecorators map[string]goja.Value
}

// New creates an App whose handlers run on loop.
func New(loop *script.Loop, cfg Config) *App {
	if cfg.Logger == nil {
		cfg.Logger = logging.Logger()
	}
	if cfg.Options.BodyLimit > 0 {
		cfg.BodyLimit = cfg.Options.BodyLimit
	}

	engine := gin.New()
	engine.HandleMethodNotAllowed = false
	if cfg.Options.TrustProxy {
		engine.ForwardedByClientIP = true
		_ = engine.SetTrustedProxies([]string{"0.0.0.0/0", "::/0"})
	} else {
		_ = engine.SetTrustedProxies(nil)
	}

	engine.Use(
		recovery(cfg.Logger),
		requestID(),
		requestLogger(cfg.Logger),
		bodyLimit(cfg.BodyLimit),
	)
	engine.Use(cfg.Middleware...)
	engine.NoRoute(notFound)

	a := &App{
		cfg:             cfg,
		loop:            loop,
		logger:          cfg.Logger,
		engine:          engine,
		hooks:           make(map[Hook][]goja.Value),
		reqDecorators:   make(map[string]goja.Value),
		replyDecorators: make(map[string]goja.Value),
	}
	if cfg.Prefix != "" {
		a.group = engine.Group(cfg.Prefix)
	} else {
		a.group = &engine.RouterGroup
	}
	return a
}

// Handler returns the HTTP handler serving the plugin's routes.
func (a *App) Handler() http.Handler {
	return a.engine
}

// Routes returns the registered routes sorted by path and method.
func (a *App) Routes() []Route {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := append([]Route(nil), a.routes...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Method < out[j].Method
	})
	return out
}

// seal stops route registration. Called when the server starts listening.
func (a *App) seal() {
	a.sealed.Store(true)
}

// Object returns the JavaScript "app" object. It must be called on the loop.
func (a *App) Object(vm *goja.Runtime) *goja.Object {
	if a.obj != nil {
		return a.obj
	}
	obj := vm.NewObject()
	a.obj = obj

	for _, m := range methods {
		method := m
		_ = obj.Set(strings.ToLower(method), a.shorthand(vm, method))
	}
	_ = obj.Set("all", a.shorthand(vm, "ALL"))
	_ = obj.Set("route", func(call goja.FunctionCall) goja.Value {
		a.route(vm, call.Argument(0))
		return obj
	})
	_ = obj.Set("addHook", func(name string, fn goja.Value) *goja.Object {
		hook := Hook(name)
		switch hook {
		case HookListen, HookReady, HookClose:
		default:
			panic(vm.NewTypeError("unsupported hook %q", name))
		}
		if _, ok := goja.AssertFunction(fn); !ok {
			panic(vm.NewTypeError("%s hook must be a function", name))
		}
		a.hooks[hook] = append(a.hooks[hook], fn)
		return obj
	})
	_ = obj.Set("decorate", func(name string, value goja.Value) *goja.Object {
		if obj.Get(name) != nil {
			panic(vm.NewGoError(fmt.Errorf("decorator %q is already present", name)))
		}
		_ = obj.Set(name, value)
		return obj
	})
	_ = obj.Set("hasDecorator", func(name string) bool {
		return obj.Get(name) != nil
	})
	_ = obj.Set("decorateRequest", func(name string, value goja.Value) *goja.Object {
		a.reqDecorators[name] = value
		return obj
	})
	_ = obj.Set("decorateReply", func(name string, value goja.Value) *goja.Object {
		a.replyDecorators[name] = value
		return obj
	})
	_ = obj.Set("printRoutes", func() string {
		var b strings.Builder
		for _, r := range a.Routes() {
			fmt.Fprintf(&b, "%s %s\n", r.Method, r.Path)
		}
		return b.String()
	})
	_ = obj.Set("prefix", a.cfg.Prefix)
	_ = obj.Set("log", newJSLogger(vm, a.logger))
	return obj
}

// shorthand implements app.get(path, [options], handler) and friends.
func (a *App) shorthand(vm *goja.Runtime, method string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		path := call.Argument(0).String()
		handler := call.Argument(len(call.Arguments) - 1)
		if len(call.Arguments) == 2 {
			handler = call.Argument(1)
		}
		if len(call.Arguments) >= 3 {
			if opts, ok := call.Argument(1).(*goja.Object); ok {
				if h := opts.Get("handler"); h != nil && !goja.IsUndefined(h) {
					handler = h
				}
			}
		}
		a.addRoute(vm, method, path, handler)
		return a.obj
	}
}

// route implements app.route({ method, url, handler }).
func (a *App) route(vm *goja.Runtime, v goja.Value) {
	opts, ok := v.(*goja.Object)
	if !ok {
		panic(vm.NewTypeError("route options must be an object"))
	}
	url := opts.Get("url")
	if url == nil || goja.IsUndefined(url) {
		url = opts.Get("path")
	}
	if url == nil || goja.IsUndefined(url) {
		panic(vm.NewTypeError("route options need a url"))
	}
	handler := opts.Get("handler")

	var ms []string
	switch m := opts.Get("method").Export().(type) {
	case string:
		ms = []string{m}
	case []interface{}:
		for _, x := range m {
			ms = append(ms, fmt.Sprint(x))
		}
	default:
		panic(vm.NewTypeError("route options need a method"))
	}
	for _, m := range ms {
		a.addRoute(vm, strings.ToUpper(m), url.String(), handler)
	}
}

func (a *App) addRoute(vm *goja.Runtime, method, path string, handler goja.Value) {
	if a.sealed.Load() {
		panic(vm.NewGoError(fmt.Errorf("cannot add route %s %s: the server is already listening", method, path)))
	}
	if _, ok := goja.AssertFunction(handler); !ok {
		panic(vm.NewTypeError("handler for %s %s must be a function", method, path))
	}

	ginPath := toGinPath(path, a.cfg.Prefix != "")
	h := a.dispatch(handler)

	defer func() {
		if r := recover(); r != nil {
			panic(vm.NewGoError(fmt.Errorf("cannot add route %s %s: %v", method, path, r)))
		}
	}()
	if method == "ALL" {
		a.group.Any(ginPath, h)
	} else {
		a.group.Handle(method, ginPath, h)
	}

	full := a.cfg.Prefix + ginPath
	if full == "" {
		full = "/"
	}
	full = strings.Replace(full, "*"+wildcardParam, "*", 1)

	a.mu.Lock()
	a.routes = append(a.routes, Route{Method: method, Path: full})
	a.mu.Unlock()
}

// toGinPath maps a route path to gin syntax. Under a prefix "/" means the
// prefix itself.
func toGinPath(path string, prefixed bool) string {
	if path == "" || path == "/" {
		if prefixed {
			return ""
		}
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if strings.HasSuffix(path, "/*") {
		path += wildcardParam
	}
	return path
}
