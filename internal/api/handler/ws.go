package handler

import (
	"context"
	"pairchat/backend/internal/chathub"

	"github.com/gin-gonic/gin"
)

// ServeWebSocket upgrades the request and runs the chat session on it until
// the connection ends. Authentication happens inside the session so both
// handshake modes share this route.
func (h *Handler) ServeWebSocket(c *gin.Context) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		h.Log.Debug("Websocket upgrade failed", "err", err)
		return
	}

	conn := chathub.NewWebSocketConn(ws, h.opts.SendBuffer, h.opts.MaxMessageSize, h.Log)
	session := h.Hub.NewSession(conn)
	conn.Serve(context.WithoutCancel(c.Request.Context()), c.Request, session)
}
