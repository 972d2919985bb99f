package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subramanya1997/agentic-trust-platform/internal/logger"
)

func setupMiddlewareRouter(t *testing.T) (*gin.Engine, *string) {
	t.Helper()
	require.NoError(t, logger.Init("info", "json", "stdout"))
	gin.SetMode(gin.TestMode)

	var gotTraceID string
	router := gin.New()
	router.Use(RequestLogger())
	router.GET("/ping", func(c *gin.Context) {
		gotTraceID = logger.GetTraceID(c.Request.Context())
		c.Status(http.StatusOK)
	})
	return router, &gotTraceID
}

func TestRequestLogger_PropagatesIncomingRequestID(t *testing.T) {
	router, gotTraceID := setupMiddlewareRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-ID", "req_123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "req_123", *gotTraceID, "调用方带来的请求 id 应贯穿处理链路")
	assert.Equal(t, "req_123", w.Header().Get("X-Request-ID"))
}

func TestRequestLogger_GeneratesRequestIDWhenMissing(t *testing.T) {
	router, gotTraceID := setupMiddlewareRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.NotEmpty(t, *gotTraceID)
	assert.Equal(t, *gotTraceID, w.Header().Get("X-Request-ID"), "生成的请求 id 同时回写响应头")
}
