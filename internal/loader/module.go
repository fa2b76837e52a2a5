package loader

import (
	"context"
	"fmt"

	"github.com/dop251/goja"

	"kickstart/internal/failure"
	"kickstart/internal/script"
)

// Module is a successfully evaluated module. Its JavaScript values belong
// to the loop that evaluated it and must only be used from jobs on that loop.
type Module struct {
	Path    string
	loop    *script.Loop
	exports goja.Value
}

func newModule(_ *goja.Runtime, loop *script.Loop, path string, exports goja.Value) *Module {
	return &Module{Path: path, loop: loop, exports: exports}
}

// Loop returns the loop owning the module's values.
func (m *Module) Loop() *script.Loop {
	return m.loop
}

// Exports returns module.exports.
func (m *Module) Exports() goja.Value {
	return m.exports
}

// Entry returns the exported plugin function and the number of parameters
// it declares. A transpiled module's "default" export is accepted too.
func (m *Module) Entry(vm *goja.Runtime) (goja.Callable, int, error) {
	fnValue := m.exports
	fn, ok := goja.AssertFunction(fnValue)
	if !ok && isObject(fnValue) {
		fnValue = fnValue.ToObject(vm).Get("default")
		fn, ok = goja.AssertFunction(fnValue)
	}
	if !ok {
		return nil, 0, failure.Throw(m.Path, fmt.Errorf("plugin must export a function, got %s", typeOf(m.exports)))
	}
	arity := fnValue.ToObject(vm).Get("length").ToInteger()
	return fn, int(arity), nil
}

// ServerOptions returns the plugin's exported "options": either an object,
// or a function receiving the plugin arguments and returning one.
func (m *Module) ServerOptions(ctx context.Context, args []string) (map[string]interface{}, error) {
	var out map[string]interface{}
	err := m.loop.Run(ctx, func(vm *goja.Runtime) error {
		if !isObject(m.exports) {
			return nil
		}
		v, err := m.callIfFunction(vm, m.exports.ToObject(vm).Get("options"), stringArray(vm, args))
		if err != nil || v == nil {
			return err
		}
		if !isObject(v) {
			return failure.Throw(m.Path, fmt.Errorf("exported options must be an object, got %s", typeOf(v)))
		}
		if err := vm.ExportTo(v, &out); err != nil {
			return failure.Throw(m.Path, err)
		}
		return nil
	})
	return out, err
}

// LoggerOptions configures the process logger from a logging module.
type LoggerOptions struct {
	Level  string                 `json:"level"`
	Pretty bool                   `json:"pretty"`
	Fields map[string]interface{} `json:"fields"`
}

// LoggerOptions reads the module's exports (or the result of calling them)
// as logger options.
func (m *Module) LoggerOptions(ctx context.Context) (LoggerOptions, error) {
	var out LoggerOptions
	err := m.loop.Run(ctx, func(vm *goja.Runtime) error {
		v, err := m.callIfFunction(vm, m.exports)
		if err != nil || v == nil {
			return err
		}
		if !isObject(v) {
			return failure.Throw(m.Path, fmt.Errorf("logger options must be an object, got %s", typeOf(v)))
		}
		if err := vm.ExportTo(v, &out); err != nil {
			return failure.Throw(m.Path, err)
		}
		return nil
	})
	return out, err
}

// callIfFunction returns v, or v's return value if v is a function. It
// returns nil for undefined and null.
func (m *Module) callIfFunction(vm *goja.Runtime, v goja.Value, args ...goja.Value) (goja.Value, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return v, nil
	}
	res, err := fn(m.exports, args...)
	if err != nil {
		return nil, failure.Throw(m.Path, script.FromError(vm, err))
	}
	if goja.IsUndefined(res) || goja.IsNull(res) {
		return nil, nil
	}
	return res, nil
}

// LoadServerOptions loads spec and returns its exported server options.
func (l *Loader) LoadServerOptions(ctx context.Context, spec string, args []string) (map[string]interface{}, Result) {
	res := l.Load(ctx, spec)
	if res.Outcome != Loaded {
		return nil, res
	}
	opts, err := res.Module.ServerOptions(ctx, args)
	if err != nil {
		return nil, classify(res.Path, err)
	}
	return opts, res
}

// LoadLoggerOptions loads spec and returns the logger options it exports.
func (l *Loader) LoadLoggerOptions(ctx context.Context, spec string) (LoggerOptions, Result) {
	res := l.Load(ctx, spec)
	if res.Outcome != Loaded {
		return LoggerOptions{}, res
	}
	opts, err := res.Module.LoggerOptions(ctx)
	if err != nil {
		return LoggerOptions{}, classify(res.Path, err)
	}
	return opts, res
}

func isObject(v goja.Value) bool {
	if v == nil {
		return false
	}
	_, ok := v.(*goja.Object)
	return ok
}

func typeOf(v goja.Value) string {
	switch {
	case v == nil || goja.IsUndefined(v):
		return "undefined"
	case goja.IsNull(v):
		return "null"
	case isObject(v):
		return "object"
	default:
		return v.ExportType().String()
	}
}

func stringArray(vm *goja.Runtime, args []string) goja.Value {
	values := make([]interface{}, len(args))
	for i, a := range args {
		values[i] = a
	}
	return vm.NewArray(values...)
}
