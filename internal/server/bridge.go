package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/dop251/goja"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"kickstart/internal/script"
)

// request is a snapshot of an HTTP request taken on the handler goroutine
// and turned into a JavaScript object on the loop.
type request struct {
	id          string
	method      string
	url         string
	path        string
	routePath   string
	ip          string
	contentType string
	query       map[string]interface{}
	params      map[string]string
	headers     map[string]string
	body        []byte
}

func newRequest(c *gin.Context, body []byte) *request {
	r := &request{
		id:        c.GetString(requestIDKey),
		method:    c.Request.Method,
		url:       c.Request.URL.RequestURI(),
		path:      c.Request.URL.Path,
		routePath: strings.Replace(c.FullPath(), "*"+wildcardParam, "*", 1),
		ip:        c.ClientIP(),
		query:     make(map[string]interface{}),
		params:    make(map[string]string, len(c.Params)),
		headers:   make(map[string]string, len(c.Request.Header)),
		body:      body,
	}
	if ct := c.ContentType(); ct != "" {
		r.contentType = ct
	}
	for key, values := range c.Request.URL.Query() {
		if len(values) == 1 {
			r.query[key] = values[0]
		} else {
			r.query[key] = values
		}
	}
	for _, p := range c.Params {
		if p.Key == wildcardParam {
			r.params["*"] = strings.TrimPrefix(p.Value, "/")
			continue
		}
		r.params[p.Key] = p.Value
	}
	for key, values := range c.Request.Header {
		r.headers[strings.ToLower(key)] = strings.Join(values, ", ")
	}
	if c.Request.Host != "" {
		r.headers["host"] = c.Request.Host
	}
	return r
}

// httpError is returned by the body parser to answer with a client error.
type httpError struct {
	status  int
	message string
}

func (e *httpError) Error() string { return e.message }

func (r *request) parseBody(vm *goja.Runtime) (goja.Value, error) {
	if len(r.body) == 0 {
		return goja.Undefined(), nil
	}
	mediaType, _, _ := mime.ParseMediaType(r.contentType)
	switch {
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		v, err := jsonParse(vm, string(r.body))
		if err != nil {
			return nil, &httpError{status: http.StatusBadRequest, message: "Body is not valid JSON"}
		}
		return v, nil
	case strings.HasPrefix(mediaType, "text/"), mediaType == "":
		return vm.ToValue(string(r.body)), nil
	default:
		return nil, &httpError{status: http.StatusUnsupportedMediaType, message: fmt.Sprintf("Unsupported Media Type: %s", mediaType)}
	}
}

func (r *request) object(vm *goja.Runtime, decorators map[string]goja.Value) (*goja.Object, error) {
	body, err := r.parseBody(vm)
	if err != nil {
		return nil, err
	}
	obj := vm.NewObject()
	for name, v := range decorators {
		_ = obj.Set(name, v)
	}
	_ = obj.Set("id", r.id)
	_ = obj.Set("method", r.method)
	_ = obj.Set("url", r.url)
	_ = obj.Set("path", r.path)
	_ = obj.Set("routePath", r.routePath)
	_ = obj.Set("ip", r.ip)
	_ = obj.Set("query", r.query)
	_ = obj.Set("params", r.params)
	_ = obj.Set("headers", r.headers)
	_ = obj.Set("body", body)
	return obj, nil
}

// response is what a handler produced. It is built on the loop and
// written by the handler goroutine.
type response struct {
	status int
	header http.Header
	body   []byte
}

func (r *response) write(c *gin.Context) {
	for key, values := range r.header {
		for _, v := range values {
			c.Writer.Header().Add(key, v)
		}
	}
	c.Status(r.status)
	if len(r.body) > 0 && c.Request.Method != http.MethodHead {
		_, _ = c.Writer.Write(r.body)
	}
	c.Abort()
}

// dispatch returns the gin handler that runs a JavaScript route handler on the loop.
func (a *App) dispatch(handler goja.Value) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(c, http.StatusRequestEntityTooLarge, "Request body is too large")
				return
			}
			writeError(c, http.StatusBadRequest, err.Error())
			return
		}

		req := newRequest(c, body)
		out := make(chan *response, 1)
		if !a.loop.Post(func(vm *goja.Runtime) { a.handle(vm, handler, req, out) }) {
			writeError(c, http.StatusServiceUnavailable, "Server is shutting down")
			return
		}

		select {
		case resp := <-out:
			resp.write(c)
		case <-c.Request.Context().Done():
			c.Abort()
		case <-a.loop.Done():
			writeError(c, http.StatusServiceUnavailable, "Server is shutting down")
		}
	}
}

func (a *App) handle(vm *goja.Runtime, handler goja.Value, req *request, out chan<- *response) {
	rep := &reply{app: a, vm: vm, reqID: req.id, out: out, status: http.StatusOK, header: http.Header{}}

	reqObj, err := req.object(vm, a.reqDecorators)
	if err != nil {
		rep.fail(err)
		return
	}
	fn, _ := goja.AssertFunction(handler)
	res, err := fn(a.Object(vm), reqObj, rep.object())
	if err != nil {
		rep.fail(script.FromError(vm, err))
		return
	}

	if script.Await(vm, res, func(v goja.Value, err error) {
		switch {
		case err != nil:
			rep.fail(err)
		case rep.sent:
		case v != nil && !goja.IsUndefined(v):
			rep.send(v)
		case rep.status == http.StatusNoContent:
			rep.send(nil)
		default:
			rep.fail(errors.New("promise may not be fulfilled with 'undefined'"))
		}
	}) {
		return
	}
	if !rep.sent && res != nil && !goja.IsUndefined(res) {
		rep.send(res)
	}
}

// reply backs the JavaScript reply object of one request.
type reply struct {
	app    *App
	vm     *goja.Runtime
	reqID  string
	out    chan<- *response
	sent   bool
	status int
	header http.Header
	obj    *goja.Object
}

func (r *reply) object() *goja.Object {
	vm := r.vm
	obj := vm.NewObject()
	r.obj = obj
	for name, v := range r.app.replyDecorators {
		_ = obj.Set(name, v)
	}

	code := func(status int) *goja.Object {
		if status < 100 || status > 599 {
			panic(vm.NewTypeError("invalid status code %d", status))
		}
		r.status = status
		return obj
	}
	_ = obj.Set("code", code)
	_ = obj.Set("status", code)
	_ = obj.Set("header", func(name string, value goja.Value) *goja.Object {
		r.header.Set(name, value.String())
		return obj
	})
	_ = obj.Set("headers", func(values map[string]interface{}) *goja.Object {
		for k, v := range values {
			r.header.Set(k, fmt.Sprint(v))
		}
		return obj
	})
	_ = obj.Set("getHeader", func(name string) goja.Value {
		if v := r.header.Get(name); v != "" {
			return vm.ToValue(v)
		}
		return goja.Undefined()
	})
	_ = obj.Set("type", func(contentType string) *goja.Object {
		r.header.Set("Content-Type", contentType)
		return obj
	})
	_ = obj.Set("send", func(call goja.FunctionCall) goja.Value {
		r.send(call.Argument(0))
		return obj
	})
	_ = obj.Set("redirect", func(call goja.FunctionCall) goja.Value {
		status, target := http.StatusFound, call.Argument(0)
		if len(call.Arguments) > 1 {
			status, target = int(call.Argument(0).ToInteger()), call.Argument(1)
		}
		r.status = status
		r.header.Set("Location", target.String())
		r.send(nil)
		return obj
	})
	_ = obj.DefineAccessorProperty("statusCode",
		vm.ToValue(func() int { return r.status }),
		vm.ToValue(func(status int) { code(status) }),
		goja.FLAG_FALSE, goja.FLAG_TRUE)
	_ = obj.DefineAccessorProperty("sent",
		vm.ToValue(func() bool { return r.sent }), nil,
		goja.FLAG_FALSE, goja.FLAG_TRUE)
	return obj
}

func (r *reply) send(v goja.Value) {
	if r.sent {
		r.app.logger.Warn("reply was already sent", zap.String("reqId", r.reqID))
		return
	}
	if o, ok := v.(*goja.Object); ok && o.ClassName() == "Error" {
		r.fail(script.ToError(r.vm, v))
		return
	}

	var body []byte
	switch {
	case v == nil || goja.IsUndefined(v) || goja.IsNull(v):
	case isString(v):
		body = []byte(v.String())
		r.defaultType("text/plain; charset=utf-8")
	default:
		if buf, ok := v.Export().(goja.ArrayBuffer); ok {
			body = buf.Bytes()
			r.defaultType("application/octet-stream")
			break
		}
		s, err := jsonStringify(r.vm, v)
		if err != nil {
			r.fail(err)
			return
		}
		body = []byte(s)
		r.defaultType("application/json; charset=utf-8")
	}

	r.sent = true
	r.out <- &response{status: r.status, header: r.header, body: body}
}

func (r *reply) defaultType(contentType string) {
	if r.header.Get("Content-Type") == "" {
		r.header.Set("Content-Type", contentType)
	}
}

// fail answers with a JSON error. Thrown values may carry a statusCode.
func (r *reply) fail(err error) {
	if r.sent {
		r.app.logger.Error("handler failed after the reply was sent", zap.String("reqId", r.reqID), zap.Error(err))
		return
	}
	status := http.StatusInternalServerError
	var he *httpError
	var thrown *script.Thrown
	switch {
	case errors.As(err, &he):
		status = he.status
	case errors.As(err, &thrown):
		if o, ok := thrown.Value.(*goja.Object); ok {
			if sc := o.Get("statusCode"); sc != nil && !goja.IsUndefined(sc) {
				if n := int(sc.ToInteger()); n >= 400 && n <= 599 {
					status = n
				}
			}
		}
	}

	message := err.Error()
	if thrown != nil {
		message = thrown.Message
	}
	if status >= http.StatusInternalServerError {
		r.app.logger.Error("request handler failed", zap.String("reqId", r.reqID), zap.Error(err))
	}

	body, _ := json.Marshal(errorBody(status, message))
	r.sent = true
	header := http.Header{}
	header.Set("Content-Type", "application/json; charset=utf-8")
	r.out <- &response{status: status, header: header, body: body}
}

func isString(v goja.Value) bool {
	_, ok := v.Export().(string)
	return ok
}
