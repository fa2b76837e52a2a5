package script

import (
	"sync"
	"time"

	"github.com/dop251/goja"
)

type timer struct {
	t        *time.Timer
	fn       goja.Callable
	args     []goja.Value
	interval time.Duration
	repeat   bool
}

type timers struct {
	mu      sync.Mutex
	next    int64
	entries map[int64]*timer
}

func (ts *timers) add(t *timer) int64 {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.next++
	ts.entries[ts.next] = t
	return ts.next
}

func (ts *timers) get(id int64) (*timer, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	t, ok := ts.entries[id]
	return t, ok
}

func (ts *timers) remove(id int64) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if t, ok := ts.entries[id]; ok {
		if t.t != nil {
			t.t.Stop()
		}
		delete(ts.entries, id)
	}
}

func (ts *timers) stopAll() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for id, t := range ts.entries {
		if t.t != nil {
			t.t.Stop()
		}
		delete(ts.entries, id)
	}
}

func (l *Loop) installTimers(vm *goja.Runtime) {
	schedule := func(repeat bool) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			fn, ok := goja.AssertFunction(call.Argument(0))
			if !ok {
				panic(vm.NewTypeError("callback must be a function"))
			}
			delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
			if delay < 0 {
				delay = 0
			}
			var args []goja.Value
			if len(call.Arguments) > 2 {
				args = append(args, call.Arguments[2:]...)
			}

			t := &timer{fn: fn, args: args, interval: delay, repeat: repeat}
			id := l.timers.add(t)
			l.arm(id, t)
			return vm.ToValue(id)
		}
	}
	clearTimer := func(call goja.FunctionCall) goja.Value {
		if v := call.Argument(0); !goja.IsUndefined(v) && !goja.IsNull(v) {
			l.timers.remove(v.ToInteger())
		}
		return goja.Undefined()
	}

	_ = vm.Set("setTimeout", schedule(false))
	_ = vm.Set("setInterval", schedule(true))
	_ = vm.Set("clearTimeout", clearTimer)
	_ = vm.Set("clearInterval", clearTimer)
	_ = vm.Set("setImmediate", func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(vm.NewTypeError("callback must be a function"))
		}
		var args []goja.Value
		if len(call.Arguments) > 1 {
			args = append(args, call.Arguments[1:]...)
		}
		l.Post(func(vm *goja.Runtime) {
			l.invoke(vm, fn, args)
		})
		return goja.Undefined()
	})
}

func (l *Loop) arm(id int64, t *timer) {
	l.timers.mu.Lock()
	defer l.timers.mu.Unlock()
	t.t = time.AfterFunc(t.interval, func() {
		l.Post(func(vm *goja.Runtime) {
			if _, live := l.timers.get(id); !live {
				return
			}
			if !t.repeat {
				l.timers.remove(id)
			}
			l.invoke(vm, t.fn, t.args)
			if t.repeat {
				if _, live := l.timers.get(id); live {
					l.arm(id, t)
				}
			}
		})
	})
}

// invoke calls a callback scheduled by the script. An exception escaping
// it is fatal, as it would be for a Node.js process.
func (l *Loop) invoke(vm *goja.Runtime, fn goja.Callable, args []goja.Value) {
	if _, err := fn(goja.Undefined(), args...); err != nil {
		var interrupted *goja.InterruptedError
		if asInterrupted(err, &interrupted) {
			return
		}
		l.reportFatal(&UncaughtException{Err: FromError(vm, err)})
	}
}
