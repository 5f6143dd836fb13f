package gateway

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"fleetgate/internal/config"
	"fleetgate/internal/model"
)

// GinHandler adapts the pipeline to a gin route. The downstream handler
// receives the built request context; its response is written through the
// gateway so the standard headers are always present.
func (g *Gateway) GinHandler(endpoint model.Endpoint, handler Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body []byte
		if c.Request.Body != nil && c.Request.Method != http.MethodGet {
			body, _ = io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
		}
		req := model.FromHTTP(c.Request, body)

		resp := g.Process(c.Request.Context(), req, endpoint, handler)
		for k, vals := range resp.Headers {
			for _, v := range vals {
				c.Writer.Header().Add(k, v)
			}
		}
		if resp.Body == nil {
			c.Status(resp.Status)
			return
		}
		c.JSON(resp.Status, resp.Body)
	}
}

// Recovery recovers from panics below the gin layer, handling aborted
// client connections gracefully.
func Recovery(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if recovered := recover(); recovered != nil {
				if recovered == http.ErrAbortHandler {
					log.Warn("client connection aborted", "path", c.Request.URL.Path)
					c.Abort()
					return
				}
				log.Error("panic recovered",
					"error", recovered,
					"path", c.Request.URL.Path,
					"stack", string(debug.Stack()),
				)
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}

// CORS applies the configured origin policy when enabled.
func CORS(cfg config.CORSConfig) gin.HandlerFunc {
	allowed := make(map[string]bool, len(cfg.AllowedOrigins))
	allowAll := false
	for _, o := range cfg.AllowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}
	return func(c *gin.Context) {
		if !cfg.Enabled {
			c.Next()
			return
		}
		origin := c.GetHeader("Origin")
		if origin != "" && (allowAll || allowed[origin]) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-API-Key, X-Signature, X-Timestamp")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// Health reports the gateway's health contract.
type Health struct {
	Status         string  `json:"status"`
	StoreReachable bool    `json:"storeReachable"`
	Uptime         float64 `json:"uptime"`
}

// Pinger is the minimal store surface the health check needs.
type Pinger interface {
	Ping(ctx context.Context) error
}
