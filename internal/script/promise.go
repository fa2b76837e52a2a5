package script

import (
	"github.com/dop251/goja"
)

// IsPromise reports whether v is a native promise.
func IsPromise(v goja.Value) bool {
	if v == nil {
		return false
	}
	_, ok := v.Export().(*goja.Promise)
	return ok
}

// Await attaches onSettled to the promise v and reports true, or reports
// false if v is not a promise. Attaching marks the promise as handled, so
// its rejection is not reported as unhandled. onSettled runs on the loop.
func Await(vm *goja.Runtime, v goja.Value, onSettled func(result goja.Value, err error)) bool {
	if !IsPromise(v) {
		return false
	}
	obj := v.ToObject(vm)
	then, ok := goja.AssertFunction(obj.Get("then"))
	if !ok {
		return false
	}

	onFulfilled := vm.ToValue(func(call goja.FunctionCall) goja.Value {
		onSettled(call.Argument(0), nil)
		return goja.Undefined()
	})
	onRejected := vm.ToValue(func(call goja.FunctionCall) goja.Value {
		onSettled(nil, ToError(vm, call.Argument(0)))
		return goja.Undefined()
	})
	if _, err := then(obj, onFulfilled, onRejected); err != nil {
		onSettled(nil, FromError(vm, err))
	}
	return true
}
