package logger

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/abduss/drop24/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitUsesConfiguredLevel(t *testing.T) {
	l, err := Init(config.LogConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.True(t, l.Core().Enabled(zap.DebugLevel))

	l, err = Init(config.LogConfig{Level: "bogus", Format: "console"})
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zap.DebugLevel))
	assert.True(t, l.Core().Enabled(zap.InfoLevel))
}

func TestInitWritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drop24.log")
	l, err := Init(config.LogConfig{Level: "info", Format: "json", File: path, MaxSizeMB: 1})
	require.NoError(t, err)

	l.Info("hello")
	_ = l.Sync()

	assert.FileExists(t, path)
}

func TestMiddlewareSetsCorrelationID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	core, logs := observer.New(zap.InfoLevel)
	r := gin.New()
	r.Use(Middleware(zap.New(core)))
	r.GET("/ping", func(c *gin.Context) {
		if CorrelationID(c) == "" {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		FromContext(c.Request.Context(), nil).Info("inside handler")
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	id := rr.Header().Get(CorrelationIDHeader)
	require.NotEmpty(t, id)

	entries := logs.FilterField(zap.String("correlation_id", id)).All()
	assert.Len(t, entries, 2)
}

func TestMiddlewareKeepsIncomingCorrelationID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Middleware(nil))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, CorrelationID(c)) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(CorrelationIDHeader, "abc-123")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, "abc-123", rr.Body.String())
	assert.Equal(t, "abc-123", rr.Header().Get(CorrelationIDHeader))
}
