package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"moorgate/internal/websocket"
	"moorgate/pkg/middleware"
	"moorgate/pkg/monitoring"
)

// RegisterRoutes attaches the full endpoint surface. Streaming endpoints
// skip the request timeout; everything else gets the configured one.
func (h *Handlers) RegisterRoutes(router *gin.Engine, ws *websocket.Server, health *monitoring.HealthChecker) {
	router.Use(h.core.Metrics.Collector.MetricsMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	router.GET("/health", health.Handler())
	router.GET("/metrics", h.core.Metrics.Collector.Handler())

	timeout := middleware.TimeoutMiddleware(
		time.Duration(h.core.Config.Transport.RequestTimeoutS) * time.Second)

	v1 := router.Group("/v1")

	// Session bootstrap and the directory are reachable without a session.
	v1.POST("/session/start", timeout, h.SessionStart)
	v1.POST("/session/resume", timeout, h.SessionResume)
	v1.GET("/gateways/resolve", timeout, h.GatewayResolve)

	// The duplex stream authenticates in-band with its first frame.
	v1.GET("/ws", ws.Handle)

	authed := v1.Group("")
	authed.Use(middleware.SessionAuthMiddleware(h.core.Store))

	authed.GET("/sse", h.SSE)

	api := authed.Group("")
	api.Use(timeout)

	api.GET("/session/list", h.SessionList)
	api.POST("/session/revoke", h.SessionRevoke)
	api.POST("/session/logout", h.SessionLogout)
	api.POST("/session/logout_all", h.SessionLogoutAll)

	api.POST("/dms/create", h.DMCreate)
	api.POST("/rooms/create", h.RoomCreate)
	api.POST("/rooms/invite", h.RoomInvite)
	api.POST("/rooms/remove", h.RoomRemove)
	api.POST("/rooms/ban", h.RoomBan)
	api.POST("/rooms/unban", h.RoomUnban)
	api.POST("/rooms/promote", h.RoomPromote)
	api.POST("/rooms/demote", h.RoomDemote)
	api.POST("/rooms/mute", h.RoomMute)
	api.POST("/rooms/unmute", h.RoomUnmute)
	api.GET("/rooms/members", h.RoomMembers)
	api.GET("/rooms/bans", h.RoomBans)
	api.GET("/rooms/mutes", h.RoomMutes)

	api.GET("/conversations", h.Conversations)
	api.POST("/conversations/title", h.ConvTitle)
	api.POST("/conversations/label", h.ConvLabel)
	api.POST("/conversations/pin", h.ConvPin)
	api.POST("/conversations/mute", h.ConvMute)
	api.POST("/conversations/archive", h.ConvArchive)
	api.POST("/conversations/mark_read", h.MarkRead)
	api.POST("/conversations/mark_all_read", h.MarkAllRead)

	api.POST("/inbox", h.Inbox)

	api.POST("/keypackages", h.KeypackagesPublish)
	api.POST("/keypackages/fetch", h.KeypackagesFetch)
	api.POST("/keypackages/rotate", h.KeypackagesRotate)

	api.POST("/social/events", h.SocialPublish)
	api.GET("/social/events", h.SocialEvents)
	api.GET("/social/event", h.SocialEvent)
	api.GET("/social/profile", h.SocialProfile)
	api.GET("/social/feed", h.SocialFeed)

	api.POST("/presence/lease", h.PresenceLease)
	api.POST("/presence/renew", h.PresenceLease)
	api.POST("/presence/watch", h.PresenceWatch)
	api.POST("/presence/unwatch", h.PresenceUnwatch)
	api.POST("/presence/block", h.PresenceBlock)
	api.POST("/presence/unblock", h.PresenceUnblock)
	api.POST("/presence/status", h.PresenceStatus)
	api.GET("/presence/blocklist", h.PresenceBlocklist)
}
