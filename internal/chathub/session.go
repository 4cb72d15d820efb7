package chathub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"pairchat/backend/internal/models"
	"sync"

	"github.com/gorilla/websocket"
)

type SessionState int

const (
	StateUnauthenticated SessionState = iota
	StateAuthenticated
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

// CloseUnauthorized is the close code sent when authentication fails.
const CloseUnauthorized = websocket.CloseUnsupportedData

// Session drives one connection through its lifecycle. Frames are handled by
// a single reader goroutine; Close may be called from anywhere.
type Session struct {
	hub     *Hub
	conn    Conn
	limiter *rateLimiter
	log     *slog.Logger

	mu     sync.Mutex
	state  SessionState
	userID int64

	closeOnce sync.Once
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// UserID returns the authenticated user id, zero before authentication.
func (s *Session) UserID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// Open runs the connect-time part of the handshake. On failure the
// connection is closed as unauthorized.
func (s *Session) Open(r *http.Request) error {
	userID, err := s.hub.Handshake.Accept(r)
	if err != nil {
		s.reject(err)
		return err
	}
	if userID != 0 {
		s.authenticate(userID)
	}
	return nil
}

// HandleFrame processes one inbound frame. Errors for which Fatal is true
// mean the connection has been closed; any other error is a dropped frame.
func (s *Session) HandleFrame(ctx context.Context, raw []byte) error {
	switch s.State() {
	case StateClosed:
		return ErrSessionClosed
	case StateUnauthenticated:
		return s.handleHandshake(raw)
	}

	if !s.limiter.allow() {
		s.log.Debug("Frame dropped by rate limit", "user_id", s.UserID())
		return ErrRateLimited
	}

	var frame models.ChatFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		s.log.Debug("Dropping unparsable frame", "user_id", s.UserID(), "err", err)
		return fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	if frame.Type == models.FrameTypeAuth {
		return nil
	}
	if err := s.hub.validate.Struct(frame); err != nil {
		s.log.Debug("Dropping invalid frame", "user_id", s.UserID(), "err", err)
		return fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}

	userID := s.UserID()
	msg, err := s.hub.Service.Submit(ctx, userID, frame)
	switch {
	case errors.Is(err, ErrNotPaired), errors.Is(err, ErrNoChannel):
		s.log.Debug("Dropping message", "user_id", userID, "reason", err)
		return err
	case err != nil:
		s.log.Error("Failed to submit message", "user_id", userID, "err", err)
		return err
	}

	s.log.Debug("Message stored", "user_id", userID, "message_id", msg.ID)
	return nil
}

func (s *Session) handleHandshake(raw []byte) error {
	userID, err := s.hub.Handshake.Authenticate(raw)
	if err != nil {
		s.reject(err)
		return err
	}

	s.authenticate(userID)
	if s.hub.Handshake.Acknowledge() {
		ack, _ := json.Marshal(models.NewAuthOK())
		if err := s.conn.Send(ack); err != nil {
			s.log.Debug("Auth ack not sent", "user_id", userID, "err", err)
		}
	}
	return nil
}

func (s *Session) authenticate(userID int64) {
	s.mu.Lock()
	s.userID = userID
	s.state = StateAuthenticated
	s.mu.Unlock()

	s.hub.Registry.Add(userID, s.conn)
	s.log.Info("Session authenticated", "user_id", userID, "connections", s.hub.Registry.Count(userID))
}

func (s *Session) reject(err error) {
	s.log.Info("Rejecting connection", "err", err)
	s.conn.Close(CloseUnauthorized, ErrUnauthorized.Error())
	s.Close()
}

// Close moves the session to closed and removes the connection from the
// registry. It is safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		userID, wasAuthenticated := s.userID, s.state == StateAuthenticated
		s.state = StateClosed
		s.mu.Unlock()

		if wasAuthenticated && s.hub.Registry.Remove(userID, s.conn) {
			s.log.Info("Session closed", "user_id", userID, "connections", s.hub.Registry.Count(userID))
		}
	})
}
