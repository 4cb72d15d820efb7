package chathub

import "errors"

var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrSessionClosed    = errors.New("session closed")
	ErrMalformedFrame   = errors.New("malformed frame")
	ErrRateLimited      = errors.New("rate limited")
	ErrNotPaired        = errors.New("sender has no partner")
	ErrNoChannel        = errors.New("sender has no space")
	ErrConnClosed       = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("send buffer full")
	ErrUnknownHandshake = errors.New("unknown handshake")
)

// Fatal reports whether err returned by Session.HandleFrame ends the session.
// Every other error means the frame was dropped and reading continues.
func Fatal(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrSessionClosed)
}
