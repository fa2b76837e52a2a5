// Package server adapts a gin engine to the "app" object a plugin registers
// its routes and hooks on.
//
// Route handlers are JavaScript functions. gin matches the route on the
// connection goroutine, which then posts the request to the plugin's script
// loop and waits for the reply:
//
//	client ──► gin (recovery, request ID, logging, body limit)
//	              │
//	              ▼
//	          dispatch ──► script loop: handler(request, reply)
//	              ▲                          │
//	              └──────── response ◄───────┘
//
// # Plugin surface
//
//	module.exports = async function (app, opts) {
//	  app.addHook('onReady', async () => app.log.info('ready'))
//	  app.get('/users/:id', async (request, reply) => {
//	    return { id: request.params.id }
//	  })
//	}
//
// Handlers may return a value or a promise, or call reply.send. Strings are
// sent as text/plain, anything else as JSON. Errors become JSON error
// responses whose status is taken from the error's statusCode, or 500.
//
// Request bodies larger than the configured limit are rejected with 413
// before the plugin sees them.
package server
