// Package script hosts a goja JavaScript runtime behind a single-goroutine
// event loop. Every interaction with the VM, including timer callbacks and
// HTTP handlers, is posted to the loop and runs there in order.
package script

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/dop251/goja"

	"kickstart/pkg/logging"
)

// ErrStopped is returned when work is submitted to a stopped loop.
var ErrStopped = errors.New("script loop stopped")

// Job is a unit of work executed on the loop goroutine.
type Job func(vm *goja.Runtime)

// Loop owns a goja runtime.
type Loop struct {
	vm *goja.Runtime

	mu     sync.Mutex
	queue  []Job
	closed bool
	wake   chan struct{}

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	fatal chan error

	// rejections is only touched on the loop goroutine.
	rejections map[*goja.Promise]goja.Value

	timers timers
}

// NewLoop creates a runtime with console, timers and promise rejection
// tracking installed and starts its loop goroutine.
func NewLoop() *Loop {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	l := &Loop{
		vm:         vm,
		wake:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		fatal:      make(chan error, 1),
		rejections: make(map[*goja.Promise]goja.Value),
	}
	l.timers.entries = make(map[int64]*timer)

	vm.SetPromiseRejectionTracker(func(p *goja.Promise, op goja.PromiseRejectionOperation) {
		switch op {
		case goja.PromiseRejectionReject:
			l.rejections[p] = p.Result()
		case goja.PromiseRejectionHandle:
			delete(l.rejections, p)
		}
	})

	installConsole(vm)
	l.installTimers(vm)

	go l.run()
	return l
}

// Post queues job for execution on the loop. It never blocks and reports
// false once the loop is stopped.
func (l *Loop) Post(job Job) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, job)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Run executes fn on the loop and waits for its result.
func (l *Loop) Run(ctx context.Context, fn func(vm *goja.Runtime) error) error {
	res := make(chan error, 1)
	if !l.Post(func(vm *goja.Runtime) { res <- fn(vm) }) {
		return ErrStopped
	}

	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		select {
		case err := <-res:
			return err
		default:
			return ErrStopped
		}
	}
}

// Fatal delivers the first error that would crash a Node.js process: an
// unhandled promise rejection or an exception thrown from a timer callback.
func (l *Loop) Fatal() <-chan error {
	return l.fatal
}

// Interrupt aborts the JavaScript currently running on the loop, if any.
// It is safe to call from any goroutine.
func (l *Loop) Interrupt(reason interface{}) {
	l.vm.Interrupt(reason)
}

// Stop cancels pending timers, interrupts running JavaScript and waits for
// the loop goroutine to exit. Calling Stop more than once is harmless.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.queue = nil
		l.mu.Unlock()

		l.timers.stopAll()
		l.vm.Interrupt(ErrStopped)
		close(l.stop)
	})
	<-l.done
}

// Done is closed once the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		select {
		case <-l.stop:
			return
		case <-l.wake:
		}

		for {
			l.mu.Lock()
			if len(l.queue) == 0 || l.closed {
				l.mu.Unlock()
				break
			}
			job := l.queue[0]
			l.queue[0] = nil
			l.queue = l.queue[1:]
			l.mu.Unlock()

			l.exec(job)
			l.checkRejections()

			select {
			case <-l.stop:
				return
			default:
			}
		}
	}
}

func (l *Loop) exec(job Job) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("Script", fmt.Errorf("%v", r), "Panic in script job\n%s", debug.Stack())
			l.reportFatal(fmt.Errorf("internal error: %v", r))
		}
	}()
	job(l.vm)
}

func (l *Loop) checkRejections() {
	for p, reason := range l.rejections {
		delete(l.rejections, p)
		l.reportFatal(&UnhandledRejection{Reason: ToError(l.vm, reason)})
	}
}

func (l *Loop) reportFatal(err error) {
	select {
	case l.fatal <- err:
	default:
		logging.Error("Script", err, "Additional fatal error after the first one")
	}
}

// UnhandledRejection reports a promise rejected with no handler attached
// by the time the job that rejected it finished.
type UnhandledRejection struct {
	Reason error
}

func (e *UnhandledRejection) Error() string {
	return "unhandled promise rejection: " + e.Reason.Error()
}

func (e *UnhandledRejection) Unwrap() error {
	return e.Reason
}

func installConsole(vm *goja.Runtime) {
	console := vm.NewObject()
	write := func(level string) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			msg := joinArgs(call.Arguments)
			switch level {
			case "debug":
				logging.Debug("Plugin", "%s", msg)
			case "warn":
				logging.Warn("Plugin", "%s", msg)
			case "error":
				logging.Error("Plugin", nil, "%s", msg)
			default:
				logging.Info("Plugin", "%s", msg)
			}
			return goja.Undefined()
		}
	}
	_ = console.Set("log", write("info"))
	_ = console.Set("info", write("info"))
	_ = console.Set("debug", write("debug"))
	_ = console.Set("warn", write("warn"))
	_ = console.Set("error", write("error"))
	_ = vm.Set("console", console)
}

func joinArgs(args []goja.Value) string {
	var msg string
	for i, arg := range args {
		if i > 0 {
			msg += " "
		}
		msg += arg.String()
	}
	return msg
}
