package chathub

// Conn is the interface for one live transport connection.
// It abstracts the websocket so the registry, dispatcher and session can be
// exercised without a network.
type Conn interface {
	// ID returns an identifier unique among live connections.
	ID() string
	// Send queues payload for delivery. It never blocks; a closed or saturated
	// connection returns an error instead.
	Send(payload []byte) error
	// Close shuts the connection down with a close code and reason. Calling it
	// more than once is a no-op.
	Close(code int, reason string)
}
