package loader

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/dop251/goja"
)

func pathModule(vm *goja.Runtime) goja.Value {
	strs := func(args []goja.Value) []string {
		out := make([]string, len(args))
		for i, a := range args {
			out[i] = a.String()
		}
		return out
	}

	m := vm.NewObject()
	_ = m.Set("sep", string(filepath.Separator))
	_ = m.Set("join", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(filepath.Join(strs(call.Arguments)...))
	})
	_ = m.Set("resolve", func(call goja.FunctionCall) goja.Value {
		p, _ := os.Getwd()
		for _, a := range call.Arguments {
			if filepath.IsAbs(a.String()) {
				p = filepath.Clean(a.String())
			} else {
				p = filepath.Join(p, a.String())
			}
		}
		return vm.ToValue(p)
	})
	_ = m.Set("dirname", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(filepath.Dir(call.Argument(0).String()))
	})
	_ = m.Set("basename", func(call goja.FunctionCall) goja.Value {
		base := filepath.Base(call.Argument(0).String())
		if ext := call.Argument(1); !goja.IsUndefined(ext) {
			base = strings.TrimSuffix(base, ext.String())
		}
		return vm.ToValue(base)
	})
	_ = m.Set("extname", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(filepath.Ext(call.Argument(0).String()))
	})
	return m
}

// installProcess exposes a minimal Node.js-like process global.
func installProcess(vm *goja.Runtime, cwd string, args []string) {
	env := vm.NewObject()
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			_ = env.Set(k, v)
		}
	}

	argv := []interface{}{"kickstart"}
	for _, a := range args {
		argv = append(argv, a)
	}

	process := vm.NewObject()
	_ = process.Set("env", env)
	_ = process.Set("argv", vm.NewArray(argv...))
	_ = process.Set("platform", runtime.GOOS)
	_ = process.Set("pid", os.Getpid())
	_ = process.Set("cwd", func(goja.FunctionCall) goja.Value {
		return vm.ToValue(cwd)
	})
	_ = vm.Set("process", process)
}
