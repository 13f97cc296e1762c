package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"deaddrop/backend/internal/domain"
	"deaddrop/backend/internal/monitoring"
	"deaddrop/backend/internal/ratelimit"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// kindRenderer 把错误分类写成状态码，便于断言
func kindRenderer(c *gin.Context, err error) {
	c.JSON(http.StatusTeapot, gin.H{"error": domain.KindOf(err).String()})
}

func newEngine(handlers ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(ErrorHandler(kindRenderer, zap.NewNop()))
	r.Use(handlers...)
	return r
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestErrorHandler(t *testing.T) {
	t.Run("渲染最后一个错误", func(t *testing.T) {
		r := newEngine()
		r.GET("/x", func(c *gin.Context) {
			_ = c.Error(domain.ErrNotFound)
			_ = c.Error(domain.ErrConflict)
		})

		rec := serve(r, httptest.NewRequest(http.MethodGet, "/x", nil))
		assert.Equal(t, http.StatusTeapot, rec.Code)
		assert.JSONEq(t, `{"error":"conflict"}`, rec.Body.String())
	})

	t.Run("已写响应时不覆盖", func(t *testing.T) {
		r := newEngine()
		r.GET("/x", func(c *gin.Context) {
			c.String(http.StatusOK, "done")
			_ = c.Error(errors.New("late"))
		})

		rec := serve(r, httptest.NewRequest(http.MethodGet, "/x", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "done", rec.Body.String())
	})
}

func TestBodySizeLimit(t *testing.T) {
	handler := func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			if IsBodyTooLarge(err) {
				_ = c.Error(domain.ErrPayloadTooLarge)
				return
			}
			_ = c.Error(err)
			return
		}
		c.String(http.StatusOK, "%d", len(body))
	}

	r := newEngine(BodySizeLimit(8))
	r.POST("/x", handler)

	t.Run("未超限", func(t *testing.T) {
		rec := serve(r, httptest.NewRequest(http.MethodPost, "/x", strings.NewReader("12345678")))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "8", rec.Body.String())
		assert.Equal(t, "8", rec.Header().Get("X-Max-Body-Size"))
	})

	t.Run("Content-Length 超限", func(t *testing.T) {
		rec := serve(r, httptest.NewRequest(http.MethodPost, "/x", strings.NewReader("123456789")))
		assert.JSONEq(t, `{"error":"payload too large"}`, rec.Body.String())
	})

	t.Run("未声明长度的超限请求体", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/x", io.NopCloser(bytes.NewReader(make([]byte, 64))))
		req.ContentLength = -1
		rec := serve(r, req)
		assert.JSONEq(t, `{"error":"payload too large"}`, rec.Body.String())
	})
}

func TestRequestID(t *testing.T) {
	r := newEngine(RequestID())
	r.GET("/x", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(RequestIDKey))
	})

	t.Run("生成新 ID", func(t *testing.T) {
		rec := serve(r, httptest.NewRequest(http.MethodGet, "/x", nil))
		id := rec.Header().Get(RequestIDHeader)
		assert.Len(t, id, 36)
		assert.Equal(t, id, rec.Body.String())
	})

	t.Run("沿用客户端 ID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set(RequestIDHeader, "abc-123")
		rec := serve(r, req)
		assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
	})
}

func TestSecurityHeaders(t *testing.T) {
	r := newEngine(SecurityHeaders())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestPanicRecovery(t *testing.T) {
	metrics := monitoring.NewMetrics()
	mm := NewMonitoringMiddleware(metrics, zap.NewNop())

	r := newEngine(mm.HTTPMetrics(), mm.PanicRecovery())
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.JSONEq(t, `{"error":"server error"}`, rec.Body.String())

	families, err := metrics.Registry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["deaddrop_panics_total"])
	assert.True(t, names["deaddrop_http_requests_total"])
}

type erroringLimiter struct{}

func (erroringLimiter) Allow(context.Context, string, string) (bool, error) {
	return false, errors.New("redis down")
}

func TestThrottle(t *testing.T) {
	t.Run("超出频率被拒绝", func(t *testing.T) {
		r := newEngine(Throttle(ratelimit.NewLocalLimiter(60, 2), "deposit", nil, zap.NewNop()))
		r.GET("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })

		for i := 0; i < 2; i++ {
			rec := serve(r, httptest.NewRequest(http.MethodGet, "/x", nil))
			assert.Equal(t, http.StatusNoContent, rec.Code)
		}

		rec := serve(r, httptest.NewRequest(http.MethodGet, "/x", nil))
		assert.JSONEq(t, `{"error":"rate limited"}`, rec.Body.String())
		assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	})

	t.Run("未配置限流器", func(t *testing.T) {
		r := newEngine(Throttle(nil, "deposit", nil, zap.NewNop()))
		r.GET("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })

		for i := 0; i < 10; i++ {
			assert.Equal(t, http.StatusNoContent, serve(r, httptest.NewRequest(http.MethodGet, "/x", nil)).Code)
		}
	})

	t.Run("限流器故障时放行", func(t *testing.T) {
		r := newEngine(Throttle(erroringLimiter{}, "deposit", nil, zap.NewNop()))
		r.GET("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })

		assert.Equal(t, http.StatusNoContent, serve(r, httptest.NewRequest(http.MethodGet, "/x", nil)).Code)
	})
}
