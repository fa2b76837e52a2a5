// Package loader loads plugin modules into a script loop and classifies
// every way loading can fail.
package loader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dop251/goja"

	"kickstart/internal/failure"
	"kickstart/internal/options"
	"kickstart/internal/script"
	"kickstart/pkg/logging"
)

// Outcome is the tag of a load Result.
type Outcome int

const (
	Loaded Outcome = iota
	NotFound
	DependencyMissing
	SyntaxError
	RuntimeThrow
)

func (o Outcome) String() string {
	switch o {
	case Loaded:
		return "Loaded"
	case NotFound:
		return "NotFound"
	case DependencyMissing:
		return "DependencyMissing"
	case SyntaxError:
		return "SyntaxError"
	case RuntimeThrow:
		return "RuntimeThrow"
	default:
		return "Unknown"
	}
}

// Result is the outcome of loading one module. Module is set only for
// Loaded, Specifier only for DependencyMissing; Err is nil only for Loaded.
type Result struct {
	Outcome   Outcome
	Path      string
	Specifier string
	Module    *Module
	Err       error
}

// Fatal reports whether the result must abort the boot.
func (r Result) Fatal() bool {
	return r.Outcome != Loaded && r.Outcome != NotFound
}

// Builtin produces the exports of a module that is not backed by a file.
type Builtin func(vm *goja.Runtime) goja.Value

// Loader evaluates CommonJS-style modules on a script loop.
type Loader struct {
	loop       *script.Loop
	cwd        string
	searchDirs []string
	args       []string
	builtins   map[string]Builtin

	// cache is only touched on the loop goroutine.
	cache map[string]*goja.Object
}

// Option configures a Loader.
type Option func(*Loader)

// WithSearchDirs replaces the directories searched for installed packages.
func WithSearchDirs(dirs ...string) Option {
	return func(l *Loader) {
		l.searchDirs = append([]string{}, dirs...)
	}
}

// WithArgs sets the plugin arguments exposed as process.argv.
func WithArgs(args []string) Option {
	return func(l *Loader) {
		l.args = args
	}
}

// WithBuiltin registers a module that require(name) returns without touching the filesystem.
func WithBuiltin(name string, b Builtin) Option {
	return func(l *Loader) {
		l.builtins[name] = b
	}
}

// New creates a loader evaluating modules on loop. Relative specifiers are
// resolved against cwd.
func New(loop *script.Loop, cwd string, opts ...Option) *Loader {
	l := &Loader{
		loop:     loop,
		cwd:      cwd,
		builtins: make(map[string]Builtin),
		cache:    make(map[string]*goja.Object),
	}
	l.builtins["path"] = pathModule
	for _, opt := range opts {
		opt(l)
	}
	if l.searchDirs == nil {
		l.searchDirs = DefaultSearchDirs()
	}

	loop.Post(func(vm *goja.Runtime) {
		installProcess(vm, l.cwd, l.args)
	})
	return l
}

// Load resolves spec (an absolute or cwd-relative path, or an installed
// package name) and evaluates it.
func (l *Loader) Load(ctx context.Context, spec string) Result {
	path, ok := l.resolveEntry(spec)
	if !ok {
		if !options.IsPathSpecifier(spec) {
			// An installed package that isn't there is a missing dependency,
			// not a missing file.
			cause := fmt.Errorf("plugin package '%s' is not installed", spec)
			return Result{Outcome: DependencyMissing, Specifier: spec, Err: failure.MissingDependency(l.cwd, spec, cause)}
		}
		missing := spec
		if !filepath.IsAbs(missing) {
			missing = filepath.Join(l.cwd, missing)
		}
		return Result{Outcome: NotFound, Path: missing, Err: failure.NotFound(missing)}
	}

	var res Result
	err := l.loop.Run(ctx, func(vm *goja.Runtime) error {
		exports, err := l.evaluate(vm, path)
		if err != nil {
			res = classify(path, err)
			return nil
		}
		res = Result{Outcome: Loaded, Path: path, Module: newModule(vm, l.loop, path, exports)}
		return nil
	})
	if err != nil {
		return Result{Outcome: RuntimeThrow, Path: path, Err: failure.Throw(path, err)}
	}

	if res.Outcome == Loaded {
		logging.Debug("Loader", "Loaded %s", path)
	}
	return res
}

func classify(path string, err error) Result {
	var fe *failure.Error
	if !errors.As(err, &fe) {
		fe = failure.Throw(path, err)
	}

	switch fe.Kind {
	case failure.PluginNotFound:
		return Result{Outcome: NotFound, Path: path, Err: fe}
	case failure.DependencyMissing:
		return Result{Outcome: DependencyMissing, Path: path, Specifier: fe.Specifier, Err: fe}
	case failure.SyntaxError:
		return Result{Outcome: SyntaxError, Path: path, Err: fe}
	default:
		return Result{Outcome: RuntimeThrow, Path: path, Err: fe}
	}
}

// evaluate runs the module at path, returning its exports. Modules are
// cached by path before they run, so require cycles see partial exports.
func (l *Loader) evaluate(vm *goja.Runtime, path string) (goja.Value, error) {
	if module, ok := l.cache[path]; ok {
		return module.Get("exports"), nil
	}

	src, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, failure.NotFound(path)
		}
		return nil, failure.Throw(path, err)
	}

	module := vm.NewObject()
	exports := vm.NewObject()
	_ = module.Set("exports", exports)
	_ = module.Set("id", path)
	_ = module.Set("filename", path)

	if strings.EqualFold(filepath.Ext(path), ".json") {
		parsed, err := parseJSON(vm, src)
		if err != nil {
			return nil, failure.Syntax(path, err)
		}
		_ = module.Set("exports", parsed)
		l.cache[path] = module
		return parsed, nil
	}

	prg, err := goja.Compile(path, wrap(src), false)
	if err != nil {
		var syntaxErr *goja.CompilerSyntaxError
		if errors.As(err, &syntaxErr) {
			return nil, failure.Syntax(path, err)
		}
		return nil, failure.Throw(path, err)
	}
	fnValue, err := vm.RunProgram(prg)
	if err != nil {
		return nil, failure.Throw(path, script.FromError(vm, err))
	}
	fn, ok := goja.AssertFunction(fnValue)
	if !ok {
		return nil, failure.Throw(path, errors.New("module wrapper did not evaluate to a function"))
	}

	l.cache[path] = module
	_, err = fn(exports, exports, vm.ToValue(l.require(vm, path)), module, vm.ToValue(path), vm.ToValue(filepath.Dir(path)))
	if err != nil {
		delete(l.cache, path)
		err = script.FromError(vm, err)
		var fe *failure.Error
		if errors.As(err, &fe) {
			return nil, fe
		}
		return nil, failure.Throw(path, err)
	}
	return module.Get("exports"), nil
}

// require returns the require function handed to the module at from.
func (l *Loader) require(vm *goja.Runtime, from string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		spec := call.Argument(0).String()
		name := strings.TrimPrefix(spec, "node:")
		if b, ok := l.builtins[name]; ok {
			return b(vm)
		}

		resolved, ok := l.resolve(spec, filepath.Dir(from))
		if !ok {
			panic(moduleNotFound(vm, failure.MissingDependency(from, spec, nil)))
		}
		exports, err := l.evaluate(vm, resolved)
		if err != nil {
			if failure.KindOf(err) == failure.PluginNotFound {
				panic(moduleNotFound(vm, failure.MissingDependency(from, spec, nil)))
			}
			panic(vm.NewGoError(err))
		}
		return exports
	}
}

func moduleNotFound(vm *goja.Runtime, err *failure.Error) *goja.Object {
	obj := vm.NewGoError(err)
	_ = obj.Set("code", "MODULE_NOT_FOUND")
	return obj
}

// wrap turns module source into a function expression. The prefix stays on
// the first line so reported line numbers match the file.
func wrap(src []byte) string {
	body := string(src)
	if strings.HasPrefix(body, "#!") {
		body = "//" + body
	}
	return "(function (exports, require, module, __filename, __dirname) {" + body + "\n})"
}

func parseJSON(vm *goja.Runtime, src []byte) (goja.Value, error) {
	jsonObj := vm.Get("JSON").ToObject(vm)
	parse, ok := goja.AssertFunction(jsonObj.Get("parse"))
	if !ok {
		return nil, errors.New("JSON.parse is not available")
	}
	v, err := parse(jsonObj, vm.ToValue(string(src)))
	if err != nil {
		return nil, script.FromError(vm, err)
	}
	return v, nil
}
