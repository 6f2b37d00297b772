package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"nhooyr.io/websocket"

	"rtcore/internal/http/middleware"
	"rtcore/internal/ws"
)

type WSHandler struct {
	Hub                  *ws.Hub
	JWTSecret            string
	WSInsecureSkipVerify bool
	OriginPatterns       []string
}

func (h *WSHandler) Handle(c *gin.Context) {
	// browsers cannot set headers on a websocket handshake, so the token
	// travels as ?token=
	tokenStr := c.Query("token")
	if tokenStr == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "missing token"})
		return
	}

	userID, err := middleware.ParseUserID(tokenStr, h.JWTSecret)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "invalid token"})
		return
	}

	opts := &websocket.AcceptOptions{
		InsecureSkipVerify: h.WSInsecureSkipVerify,
		OriginPatterns:     h.OriginPatterns,
	}
	conn, err := websocket.Accept(c.Writer, c.Request, opts)
	if err != nil {
		return // Accept already wrote the response
	}

	client := h.Hub.Open(conn, userID)
	h.Hub.Serve(c.Request.Context(), client)
}
