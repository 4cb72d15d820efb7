package chathub

import (
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
)

// HubOptions tunes per-connection limits.
type HubOptions struct {
	RateBurst    int
	RateInterval time.Duration
}

// Hub ties together everything a session needs: the registry of live
// connections, the fanout, the chat service and the handshake in use.
type Hub struct {
	Registry  *Registry
	Service   *Service
	Handshake Handshake
	Log       *slog.Logger

	opts     HubOptions
	validate *validator.Validate
}

func NewHub(registry *Registry, service *Service, handshake Handshake, log *slog.Logger, opts HubOptions) *Hub {
	return &Hub{
		Registry:  registry,
		Service:   service,
		Handshake: handshake,
		Log:       log,
		opts:      opts,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
}

// NewSession starts an unauthenticated session over conn.
func (h *Hub) NewSession(conn Conn) *Session {
	return &Session{
		hub:     h,
		conn:    conn,
		limiter: newRateLimiter(h.opts.RateBurst, h.opts.RateInterval),
		log:     h.Log.With("conn_id", conn.ID()),
	}
}

// CloseAll closes every registered connection with "going away". Sessions
// clean up their registry entries as their read loops end.
func (h *Hub) CloseAll() int {
	conns := h.Registry.All()
	for _, c := range conns {
		c.Close(websocket.CloseGoingAway, "server shutting down")
	}
	return len(conns)
}
