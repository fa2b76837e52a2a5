package server

import (
	"errors"

	"github.com/dop251/goja"

	"kickstart/internal/script"
)

func jsonFunc(vm *goja.Runtime, name string) (*goja.Object, goja.Callable, error) {
	obj := vm.Get("JSON").ToObject(vm)
	fn, ok := goja.AssertFunction(obj.Get(name))
	if !ok {
		return nil, nil, errors.New("JSON." + name + " is not available")
	}
	return obj, fn, nil
}

func jsonParse(vm *goja.Runtime, s string) (goja.Value, error) {
	obj, parse, err := jsonFunc(vm, "parse")
	if err != nil {
		return nil, err
	}
	v, err := parse(obj, vm.ToValue(s))
	if err != nil {
		return nil, script.FromError(vm, err)
	}
	return v, nil
}

// jsonStringify serializes v the way JSON.stringify does, honoring toJSON.
func jsonStringify(vm *goja.Runtime, v goja.Value) (string, error) {
	obj, stringify, err := jsonFunc(vm, "stringify")
	if err != nil {
		return "", err
	}
	out, err := stringify(obj, v)
	if err != nil {
		return "", script.FromError(vm, err)
	}
	if goja.IsUndefined(out) {
		return "", nil
	}
	return out.String(), nil
}
