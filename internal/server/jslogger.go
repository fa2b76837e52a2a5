package server

import (
	"fmt"
	"strings"

	"github.com/dop251/goja"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newJSLogger builds app.log. Calls follow the pino convention: an optional
// object of fields followed by a message and printf-style arguments.
func newJSLogger(vm *goja.Runtime, logger *zap.Logger) *goja.Object {
	obj := vm.NewObject()
	levels := map[string]zapcore.Level{
		"trace": zapcore.DebugLevel,
		"debug": zapcore.DebugLevel,
		"info":  zapcore.InfoLevel,
		"warn":  zapcore.WarnLevel,
		"error": zapcore.ErrorLevel,
		"fatal": zapcore.ErrorLevel,
	}
	for name, level := range levels {
		lvl := level
		_ = obj.Set(name, func(call goja.FunctionCall) goja.Value {
			ce := logger.Check(lvl, "")
			if ce == nil {
				return goja.Undefined()
			}
			msg, fields := logArgs(call.Arguments)
			ce.Message = msg
			ce.Write(fields...)
			return goja.Undefined()
		})
	}
	return obj
}

func logArgs(args []goja.Value) (string, []zap.Field) {
	var fields []zap.Field
	if len(args) > 0 {
		if o, ok := args[0].(*goja.Object); ok && o.ClassName() != "Error" {
			for _, key := range o.Keys() {
				fields = append(fields, zap.Any(key, o.Get(key).Export()))
			}
			args = args[1:]
		} else if ok {
			fields = append(fields, zap.String("err", o.String()))
			args = args[1:]
		}
	}
	if len(args) == 0 {
		return "", fields
	}

	format := args[0].String()
	rest := make([]interface{}, 0, len(args)-1)
	for _, a := range args[1:] {
		rest = append(rest, a.Export())
	}
	if len(rest) == 0 {
		return format, fields
	}
	if strings.Contains(format, "%") {
		return fmt.Sprintf(strings.ReplaceAll(format, "%j", "%v"), rest...), fields
	}
	return strings.TrimSpace(format + " " + fmt.Sprint(rest...)), fields
}
