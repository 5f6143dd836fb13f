package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetgate/internal/config"
	"fleetgate/internal/logger"
	"fleetgate/internal/model"
)

func ginRouter(f *fixture) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Recovery(logger.NewWithWriter(discard{}, false)))
	r.GET("/api/fleet/vehicles", f.gw.GinHandler(testEndpoint, okHandler))
	return r
}

func TestGinHandlerServesPipeline(t *testing.T) {
	f := newFixture(t)
	f.keys.add("flt_gin", &model.APIKey{
		ID:          "ak_gin",
		Name:        "board",
		Permissions: []string{"fleet:read"},
		Status:      model.KeyStatusActive,
	})
	r := ginRouter(f)

	req := httptest.NewRequest(http.MethodGet, "/api/fleet/vehicles", nil)
	req.Header.Set("X-API-Key", "flt_gin")
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) Gecko/20100101")
	req.RemoteAddr = "203.0.113.10:51234"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok":"true"`)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Limit"))
}

func TestGinHandlerRejectsWithoutCredential(t *testing.T) {
	f := newFixture(t)
	r := ginRouter(f)

	req := httptest.NewRequest(http.MethodGet, "/api/fleet/vehicles", nil)
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) Gecko/20100101")
	req.RemoteAddr = "203.0.113.10:51234"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "E401")
}

func TestGinHandlerNoContent(t *testing.T) {
	f := newFixture(t)
	f.keys.add("flt_gin", &model.APIKey{
		ID:          "ak_gin",
		Permissions: []string{"fleet:read"},
		Status:      model.KeyStatusActive,
	})
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.DELETE("/api/fleet/vehicles", f.gw.GinHandler(testEndpoint, func(ctx context.Context, _ *model.RequestContext) (*model.Response, error) {
		return nil, nil
	}))

	req := httptest.NewRequest(http.MethodDelete, "/api/fleet/vehicles", strings.NewReader("{}"))
	req.Header.Set("X-API-Key", "flt_gin")
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) Gecko/20100101")
	req.RemoteAddr = "203.0.113.10:51234"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Zero(t, w.Body.Len())
}

func TestCORSAllowsConfiguredOrigins(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS(config.CORSConfig{Enabled: true, AllowedOrigins: []string{"https://ops.example.com"}}))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://ops.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSPreflight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS(config.CORSConfig{Enabled: true, AllowedOrigins: []string{"*"}}))
	r.POST("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	req := httptest.NewRequest(http.MethodOptions, "/ping", nil)
	req.Header.Set("Origin", "https://anything.example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://anything.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "X-API-Key")
}

func TestCORSDisabledPassesThrough(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS(config.CORSConfig{Enabled: false}))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecoveryReturns500(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Recovery(logger.NewWithWriter(discard{}, false)))
	r.GET("/boom", func(*gin.Context) { panic("wiring fault") })

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
