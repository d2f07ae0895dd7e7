package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mossy-p/randomchat-signaling/config"
	"github.com/mossy-p/randomchat-signaling/internal/middleware"
)

// NewRouter wires every HTTP route. gatherer backs /metrics.
func NewRouter(cfg *config.Config, hub *Hub, gatherer prometheus.Gatherer, logger *zap.Logger) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.RequestLogger(logger), gin.Recovery())

	// Global CORS middleware (runs before routing)
	router.Use(OriginFilter(cfg.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// Signaling socket; peers are anonymous.
	router.GET("/ws", hub.HandleSignaling)

	apiGroup := router.Group("/api")
	{
		apiGroup.GET("/ice-servers", GetICEServers(cfg.ICEServers))

		if cfg.AdminEnabled() {
			apiGroup.POST("/admin/login", AdminLogin(cfg.JWTSecret, cfg.AdminPassword))

			admin := apiGroup.Group("/admin", middleware.JWTAuth(cfg.JWTSecret))
			admin.GET("/stats", hub.GetStats)
			admin.DELETE("/peers/:peerId", hub.EvictPeer)
		} else {
			logger.Info("operator API disabled: JWT_SECRET or ADMIN_PASSWORD not set")
		}
	}

	return router
}
