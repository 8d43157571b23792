package transport

import (
	"context"
	"encoding/json"
)

// Handler receives events from a session. Callbacks are invoked on the
// session's read-loop goroutine; implementations hand off to their own
// execution context before touching shared state.
type Handler interface {
	// OnDisconnected is called exactly once when the session ends, with
	// the error that terminated the read loop (ErrSessionClosed for a
	// local Disconnect).
	OnDisconnected(err error)

	// OnFireAndForget is called for each inbound fire-and-forget message.
	OnFireAndForget(body json.RawMessage)
}

// Conn is the session surface the agent consumes.
// Implemented by Session.
type Conn interface {
	// ID returns the session's unique connection ID.
	ID() string

	// RemoteAddr returns the peer address as host:port.
	RemoteAddr() string

	// SendFireAndForget sends a message with no reply.
	SendFireAndForget(ctx context.Context, body any) error

	// SendRequest sends a request and waits for the matching response.
	// A peer error reply is returned as *wire.RemoteError.
	SendRequest(ctx context.Context, body any) (json.RawMessage, error)

	// Disconnect closes the session. Safe to call multiple times.
	Disconnect()
}

// Compile-time interface satisfaction check.
var _ Conn = (*Session)(nil)
