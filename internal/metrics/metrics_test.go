package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddleware_CountsRequestsPerRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New()

	engine := gin.New()
	engine.Use(m.Middleware())
	engine.GET("/users/:id", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	for _, path := range []string{"/users/1", "/users/2", "/missing"} {
		rec := httptest.NewRecorder()
		engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/users/:id", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "unmatched", "404")))
}

func TestObserveBootAndHandler(t *testing.T) {
	m := New()
	m.ObserveBoot(120*time.Millisecond, "ready")
	m.ObserveBoot(0, "timeout")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.BootsTotal.WithLabelValues("timeout")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "kickstart_boot_duration_seconds")
	assert.Contains(t, rec.Body.String(), `kickstart_boots_total{outcome="ready"} 1`)
}
