package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"rtcore/internal/config"
	"rtcore/internal/http/middleware"
	"rtcore/internal/ws"
)

func NewRouter(cfg config.Config, st HistoryStore, hub *ws.Hub, log zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(log))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": hub.Count()})
	})

	wsH := &WSHandler{
		Hub:                  hub,
		JWTSecret:            cfg.JWTSecret,
		WSInsecureSkipVerify: cfg.WSInsecureSkipVerify,
		OriginPatterns:       cfg.WSOriginPatterns,
	}
	r.GET("/ws", wsH.Handle)

	authed := r.Group("/api/v1")
	authed.Use(middleware.AuthMiddleware(cfg.JWTSecret))

	chatH := &ChatHandler{Store: st, Hub: hub}
	authed.GET("/messages/:userId", chatH.ListMessages)
	authed.PUT("/messages/read/:userId", chatH.MarkRead)
	authed.GET("/conversations", chatH.ListConversations)
	authed.GET("/calls", chatH.ListCalls)
	authed.POST("/calls", chatH.RecordCall)
	authed.GET("/presence", chatH.ListOnline)
	authed.GET("/presence/:userId", chatH.Presence)

	return r
}
