package chathub

import (
	"encoding/json"
	"fmt"
	"net/http"
	"pairchat/backend/internal/auth"
	"pairchat/backend/internal/config"
	"pairchat/backend/internal/models"
)

// Handshake authenticates a connection. Exactly one implementation is active
// per process.
type Handshake interface {
	// Accept runs on the upgrade request. A non-zero user id means the
	// connection is authenticated before its first frame.
	Accept(r *http.Request) (int64, error)
	// Authenticate consumes the first frame of a connection that Accept left
	// unauthenticated.
	Authenticate(frame []byte) (int64, error)
	// Acknowledge reports whether success is answered with an auth event.
	Acknowledge() bool
}

// NewHandshake returns the handshake for a config mode.
func NewHandshake(mode string, validator auth.TokenValidator) (Handshake, error) {
	switch mode {
	case config.HandshakeFrame, "":
		return &FrameHandshake{Validator: validator}, nil
	case config.HandshakeQuery:
		return &QueryHandshake{Validator: validator}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownHandshake, mode)
	}
}

// QueryHandshake reads the token from the "token" query parameter of the
// upgrade request.
type QueryHandshake struct {
	Validator auth.TokenValidator
}

func (h *QueryHandshake) Accept(r *http.Request) (int64, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		return 0, fmt.Errorf("%w: %w", ErrUnauthorized, auth.ErrMissingToken)
	}
	userID, err := h.Validator.Validate(token)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	return userID, nil
}

func (h *QueryHandshake) Authenticate([]byte) (int64, error) {
	return 0, ErrUnauthorized
}

func (h *QueryHandshake) Acknowledge() bool { return false }

// FrameHandshake expects {"type":"auth","token":"..."} as the first frame.
type FrameHandshake struct {
	Validator auth.TokenValidator
}

func (h *FrameHandshake) Accept(*http.Request) (int64, error) {
	return 0, nil
}

func (h *FrameHandshake) Authenticate(frame []byte) (int64, error) {
	var f models.ChatFrame
	if err := json.Unmarshal(frame, &f); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrUnauthorized, ErrMalformedFrame)
	}
	if f.Type != models.FrameTypeAuth {
		return 0, fmt.Errorf("%w: first frame has type %q", ErrUnauthorized, f.Type)
	}
	if f.Token == "" {
		return 0, fmt.Errorf("%w: %w", ErrUnauthorized, auth.ErrMissingToken)
	}
	userID, err := h.Validator.Validate(f.Token)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	return userID, nil
}

func (h *FrameHandshake) Acknowledge() bool { return true }
