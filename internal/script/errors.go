package script

import (
	"errors"

	"github.com/dop251/goja"
)

// Thrown is a JavaScript value that was thrown or used as a rejection reason.
type Thrown struct {
	// Name is the constructor name of Error values ("TypeError", ...) and
	// empty for primitives.
	Name    string
	Message string
	Stack   string
	// Value is the thrown value itself. Only use it on the loop goroutine.
	Value goja.Value
}

func (e *Thrown) Error() string {
	if e.Name == "" {
		return e.Message
	}
	return e.Name + ": " + e.Message
}

// UncaughtException reports an exception escaping an asynchronous callback.
type UncaughtException struct {
	Err error
}

func (e *UncaughtException) Error() string {
	return "uncaught exception: " + e.Err.Error()
}

func (e *UncaughtException) Unwrap() error {
	return e.Err
}

// ToError converts a thrown JavaScript value into a Go error. A Go error
// raised into the script with vm.NewGoError is returned unchanged.
// It must be called on the loop goroutine.
func ToError(vm *goja.Runtime, v goja.Value) error {
	if v == nil || goja.IsUndefined(v) {
		return &Thrown{Message: "undefined"}
	}
	if goja.IsNull(v) {
		return &Thrown{Message: "null"}
	}

	o, ok := v.(*goja.Object)
	if !ok {
		return &Thrown{Message: v.String(), Value: v}
	}
	if inner := o.Get("value"); inner != nil {
		if err, ok := inner.Export().(error); ok {
			return err
		}
	}

	message := o.Get("message")
	if message == nil || goja.IsUndefined(message) {
		return &Thrown{Message: v.String(), Value: v}
	}
	t := &Thrown{Message: message.String(), Value: v}
	if name := o.Get("name"); name != nil && !goja.IsUndefined(name) {
		t.Name = name.String()
	}
	if stack := o.Get("stack"); stack != nil && !goja.IsUndefined(stack) {
		t.Stack = stack.String()
	}
	return t
}

// FromError normalizes an error returned by a goja call: exceptions become
// the error they carry, anything else is returned unchanged.
func FromError(vm *goja.Runtime, err error) error {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return ToError(vm, ex.Value())
	}
	return err
}

// IsInterrupted reports whether err was caused by Loop.Interrupt.
func IsInterrupted(err error) bool {
	var interrupted *goja.InterruptedError
	return asInterrupted(err, &interrupted)
}

func asInterrupted(err error, target **goja.InterruptedError) bool {
	return errors.As(err, target)
}
