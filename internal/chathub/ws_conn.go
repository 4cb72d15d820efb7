package chathub

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// WebSocketConn implements Conn over a gorilla websocket. Writes go through
// a buffered channel drained by a single write pump.
type WebSocketConn struct {
	id             string
	ws             *websocket.Conn
	send           chan []byte
	maxMessageSize int64
	log            *slog.Logger

	mu          sync.Mutex
	closed      bool
	closeCode   int
	closeReason string
}

func NewWebSocketConn(ws *websocket.Conn, sendBuffer int, maxMessageSize int64, log *slog.Logger) *WebSocketConn {
	id := uuid.NewString()
	return &WebSocketConn{
		id:             id,
		ws:             ws,
		send:           make(chan []byte, sendBuffer),
		maxMessageSize: maxMessageSize,
		log:            log.With("conn_id", id),
		closeCode:      websocket.CloseNormalClosure,
	}
}

func (c *WebSocketConn) ID() string { return c.id }

// Send queues payload. A full buffer means the peer is not keeping up; the
// connection is closed rather than letting it hold memory.
func (c *WebSocketConn) Send(payload []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnClosed
	}
	select {
	case c.send <- payload:
		c.mu.Unlock()
		return nil
	default:
	}
	c.mu.Unlock()

	c.log.Warn("Send buffer full, closing slow connection")
	c.Close(websocket.ClosePolicyViolation, "send buffer full")
	return ErrSendBufferFull
}

// Close stops accepting sends. The write pump flushes what is queued, writes
// the close frame and closes the socket.
func (c *WebSocketConn) Close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.closeCode, c.closeReason = code, reason
	close(c.send)
}

func (c *WebSocketConn) closeFrame() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return websocket.FormatCloseMessage(c.closeCode, c.closeReason)
}

// Serve runs the connection until it ends: it starts the write pump, opens
// the session and then reads frames into it. The session is always closed on
// return.
func (c *WebSocketConn) Serve(ctx context.Context, r *http.Request, s *Session) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.writePump()
	}()

	defer func() {
		s.Close()
		c.Close(websocket.CloseNormalClosure, "")
		<-done
	}()

	if err := s.Open(r); err != nil {
		return
	}
	c.readLoop(ctx, s)
}

func (c *WebSocketConn) readLoop(ctx context.Context, s *Session) {
	if c.maxMessageSize > 0 {
		c.ws.SetReadLimit(c.maxMessageSize)
	}
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.log.Debug("Read failed", "err", err)
			}
			return
		}
		if err := s.HandleFrame(ctx, raw); Fatal(err) {
			return
		}
	}
}

// writePump is the only goroutine writing to the socket. Every queued
// payload becomes its own text frame.
func (c *WebSocketConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, c.closeFrame())
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.log.Debug("Write failed", "err", err)
				c.Close(websocket.CloseAbnormalClosure, "")
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "")
				return
			}
		}
	}
}
