package handler

import (
	"log/slog"
	"net/http"
	"pairchat/backend/internal/auth"
	"pairchat/backend/internal/chathub"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Options carries the transport limits taken from configuration.
type Options struct {
	AllowedOrigins []string
	SendBuffer     int
	MaxMessageSize int64
}

// Handler serves the chat HTTP API and the websocket endpoint.
type Handler struct {
	Hub       *chathub.Hub
	Validator auth.TokenValidator
	Log       *slog.Logger

	opts     Options
	upgrader websocket.Upgrader
}

func NewHandler(hub *chathub.Hub, validator auth.TokenValidator, log *slog.Logger, opts Options) *Handler {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	return &Handler{
		Hub:       hub,
		Validator: validator,
		Log:       log,
		opts:      opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     NewOriginPolicy(opts.AllowedOrigins, log).CheckOrigin,
		},
	}
}

// Register mounts every route on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/ws/chat", h.ServeWebSocket)
	r.GET("/api/health", h.Health)

	chat := r.Group("/api/chat", h.RequireUser())
	chat.GET("/history", h.History)
	chat.POST("/read", h.MarkRead)
}

// Response is the JSON envelope of every API reply.
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

func success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{Code: http.StatusOK, Message: "success", Data: data})
}

func fail(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, Response{Code: status, Message: message})
}
