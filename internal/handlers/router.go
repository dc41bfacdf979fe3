package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/signaling-relay/config"
	"github.com/mossy-p/signaling-relay/internal/metrics"
	"github.com/mossy-p/signaling-relay/internal/middleware"
	"github.com/mossy-p/signaling-relay/internal/signaling"
)

// NewRouter wires every HTTP route onto a gin engine.
func NewRouter(cfg *config.Config, hub *signaling.Hub, m *metrics.Metrics, logger *slog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(logger))

	// Global CORS middleware (runs before routing)
	router.Use(OriginFilter(cfg.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"peers":  hub.Peers().Count(),
			"rooms":  hub.Rooms().Count(),
		})
	})
	router.GET("/metrics", gin.WrapH(metrics.PrometheusHandler(m)))

	signalingHandler := NewSignalingHandler(hub, m, logger)
	router.GET("/ws", signalingHandler.HandleSignaling)

	rooms := NewRoomsAPI(hub, cfg.ICEServers)
	apiGroup := router.Group("/api")
	{
		apiGroup.GET("/rooms", rooms.ListRooms)
		apiGroup.GET("/rooms/:sessionId", rooms.GetRoom)
		apiGroup.GET("/broadcasts/:broadcastId", rooms.GetBroadcast)
		apiGroup.GET("/ice-servers", rooms.ICEServers)
	}

	if hub.Admin().Enabled() {
		adminAPI := NewAdminAPI(hub.Admin(), cfg.JWTSecret)
		apiGroup.POST("/admin/login", adminAPI.Login)

		adminGroup := apiGroup.Group("/admin", middleware.AdminAuth(cfg.JWTSecret))
		{
			adminGroup.GET("/snapshot", adminAPI.Snapshot)
			adminGroup.GET("/peers/:peerId", adminAPI.Peer)
			adminGroup.DELETE("/peers/:peerId", adminAPI.DeletePeer)
			adminGroup.DELETE("/rooms/:sessionId", adminAPI.DeleteRoom)
			adminGroup.GET("/logs", adminAPI.Logs)
			adminGroup.DELETE("/logs", adminAPI.ClearLogs)
		}
	}

	return router
}
