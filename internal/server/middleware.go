package server

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// RequestIDHeader carries the request ID in both directions.
	RequestIDHeader = "X-Request-Id"

	requestIDKey = "kickstart.requestId"
)

// writeError aborts the request with a JSON error body.
func writeError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, errorBody(status, message))
}

func errorBody(status int, message string) gin.H {
	return gin.H{
		"statusCode": status,
		"error":      http.StatusText(status),
		"message":    message,
	}
}

// recovery turns panics in handlers into 500 responses.
func recovery(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic while handling request",
					zap.String("reqId", c.GetString(requestIDKey)),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()),
				)
				writeError(c, http.StatusInternalServerError, fmt.Sprint(r))
			}
		}()
		c.Next()
	}
}

// requestID reuses an incoming X-Request-Id or generates one.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("reqId", c.GetString(requestIDKey)),
			zap.String("method", c.Request.Method),
			zap.String("url", c.Request.URL.RequestURI()),
			zap.Int("statusCode", status),
			zap.Float64("responseTime", float64(time.Since(start).Microseconds())/1000),
		}
		if status >= http.StatusInternalServerError {
			logger.Warn("request completed", fields...)
			return
		}
		logger.Info("request completed", fields...)
	}
}

// bodyLimit rejects payloads larger than limit bytes with 413. Declared
// lengths are checked up front, chunked bodies while they are read.
func bodyLimit(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit <= 0 || c.Request.Body == nil {
			c.Next()
			return
		}
		if c.Request.ContentLength > limit {
			writeError(c, http.StatusRequestEntityTooLarge, "Request body is too large")
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}

func notFound(c *gin.Context) {
	writeError(c, http.StatusNotFound, fmt.Sprintf("Route %s:%s not found", c.Request.Method, c.Request.URL.Path))
}
