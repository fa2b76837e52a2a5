package server

import (
	"context"
	"errors"
	"sync"

	"github.com/dop251/goja"

	"kickstart/internal/failure"
	"kickstart/internal/loader"
	"kickstart/internal/script"
	"kickstart/pkg/logging"
)

// Register calls the plugin's entry function with the app and opts. The
// returned channel receives exactly one value once registration settles:
// through the done callback when the function declares three parameters,
// otherwise through its returned promise or its plain return.
//
// The caller may stop waiting at any time; a late settlement is dropped.
func (a *App) Register(mod *loader.Module, opts map[string]interface{}) <-chan error {
	settled := make(chan error, 1)
	var once sync.Once
	settle := func(err error) {
		once.Do(func() {
			if err != nil {
				var fe *failure.Error
				if !errors.As(err, &fe) {
					err = failure.Throw(mod.Path, err)
				}
			}
			settled <- err
		})
	}

	ok := a.loop.Post(func(vm *goja.Runtime) {
		fn, arity, err := mod.Entry(vm)
		if err != nil {
			settle(err)
			return
		}
		optsValue := goja.Value(vm.NewObject())
		if opts != nil {
			optsValue = vm.ToValue(opts)
		}
		a.invoke(vm, fn, arity, []goja.Value{a.Object(vm), optsValue}, settle)
	})
	if !ok {
		settle(script.ErrStopped)
	}
	return settled
}

// invoke calls fn and reports its completion to settle. A function
// declaring more parameters than args gets a done callback appended.
func (a *App) invoke(vm *goja.Runtime, fn goja.Callable, arity int, args []goja.Value, settle func(error)) {
	withDone := arity > len(args)
	if withDone {
		args = append(args, vm.ToValue(func(call goja.FunctionCall) goja.Value {
			if v := call.Argument(0); !goja.IsUndefined(v) && !goja.IsNull(v) {
				settle(script.ToError(vm, v))
			} else {
				settle(nil)
			}
			return goja.Undefined()
		}))
	}

	res, err := fn(a.Object(vm), args...)
	if err != nil {
		settle(script.FromError(vm, err))
		return
	}
	awaited := script.Await(vm, res, func(_ goja.Value, err error) {
		if err != nil || !withDone {
			settle(err)
		}
	})
	if !awaited && !withDone {
		settle(nil)
	}
}

// RunHooks runs the hooks added for name one after another, stopping at
// the first error.
func (a *App) RunHooks(ctx context.Context, name Hook) error {
	var hooks []goja.Value
	if err := a.loop.Run(ctx, func(vm *goja.Runtime) error {
		hooks = append(hooks, a.hooks[name]...)
		return nil
	}); err != nil {
		return err
	}

	for i, hook := range hooks {
		logging.Debug("Server", "Running %s hook %d/%d", name, i+1, len(hooks))
		done := make(chan error, 1)
		var once sync.Once
		settle := func(err error) { once.Do(func() { done <- err }) }

		h := hook
		if !a.loop.Post(func(vm *goja.Runtime) {
			fn, _ := goja.AssertFunction(h)
			arity := int(h.ToObject(vm).Get("length").ToInteger())
			var args []goja.Value
			if name == HookClose {
				args = []goja.Value{a.Object(vm)}
			}
			a.invoke(vm, fn, arity, args, settle)
		}) {
			return script.ErrStopped
		}

		select {
		case err := <-done:
			if err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
