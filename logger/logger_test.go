package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Level = "verbose"
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Output = "file"
	cfg.File.Filename = ""
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Format = "xml"
	require.Error(t, cfg.Validate())
}

func TestNew_FileOutput(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Output = "file"
	cfg.Format = "json"
	cfg.File.Filename = filepath.Join(t.TempDir(), "nested", "app.log")

	l, err := New(cfg)
	require.NoError(t, err)
	l.Info("hello", zap.String("k", "v"))
	_ = l.Sync()
	require.FileExists(t, cfg.File.Filename)
}

func TestWithContext_AddsRequestID(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, zapcore.DebugLevel)

	ctx := WithRequestID(context.Background(), "req-1")
	l.WithContext(ctx).Info("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "req-1", entry["request_id"])
	require.Equal(t, "hello", entry["msg"])
}

func TestGinLogger_SetsRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	l := NewWithWriter(&buf, zapcore.DebugLevel)

	r := gin.New()
	r.Use(GinLogger(l))
	var seen string
	r.GET("/x", func(c *gin.Context) {
		seen = RequestID(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(HeaderRequestID, "given-id")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, "given-id", seen)
	require.Equal(t, "given-id", w.Header().Get(HeaderRequestID))
	require.Contains(t, buf.String(), `"path":"/x"`)

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.NotEmpty(t, w.Header().Get(HeaderRequestID))
}

func TestGinRecovery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinRecovery(Nop()))
	r.GET("/panic", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Contains(t, w.Body.String(), "internal server error")
}
