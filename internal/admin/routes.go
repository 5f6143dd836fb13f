package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fleetgate/internal/config"
	"fleetgate/internal/metrics"
)

// AuthMiddleware protects the admin API with basic auth.
func AuthMiddleware(adminPassword string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, password, hasAuth := c.Request.BasicAuth()
		if !hasAuth || user != "admin" || password != adminPassword {
			c.Header("WWW-Authenticate", `Basic realm="Restricted"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Next()
	}
}

// SetupRoutes mounts the admin API on the router. m may be nil when metrics
// are disabled.
func SetupRoutes(router *gin.Engine, h *Handler, cfg *config.Config, m *metrics.Metrics) {
	adminGroup := router.Group("/admin")
	adminGroup.Use(AuthMiddleware(cfg.Admin.Password))
	{
		keysGroup := adminGroup.Group("/keys")
		{
			keysGroup.GET("", h.ListKeysHandler)
			keysGroup.POST("", h.CreateKeyHandler)
			keysGroup.GET("/:id", h.GetKeyHandler)
			keysGroup.PUT("/:id", h.UpdateKeyHandler)
			keysGroup.POST("/:id/revoke", h.RevokeKeyHandler)
			keysGroup.POST("/:id/rotate", h.RotateKeyHandler)
			keysGroup.GET("/:id/analytics", h.KeyAnalyticsHandler)
		}

		securityGroup := adminGroup.Group("/security")
		{
			securityGroup.GET("/events", h.RecentEventsHandler)
			securityGroup.GET("/stats", h.EventStatsHandler)
			securityGroup.POST("/deny/:ip", h.DenyIPHandler)
			securityGroup.DELETE("/deny/:ip", h.UndenyIPHandler)
		}

		if cfg.Monitoring.EnableMetrics && m != nil {
			adminGroup.GET("/metrics", gin.WrapH(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
		}
	}

	router.GET("/health", h.HealthHandler)
}
