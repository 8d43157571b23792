package agent

import (
	"context"
	"encoding/json"

	"github.com/Danalla/flipper/pkg/transport"
	"github.com/Danalla/flipper/pkg/wire"
)

// Callbacks receives lifecycle notifications for trusted sessions.
// The provisioning link is never reported here: OnConnected and
// OnDisconnected bracket exactly one trusted session, and
// OnMessageReceived fires only in between.
//
// Callbacks run on the agent's session worker; long work should be handed
// off before returning.
type Callbacks interface {
	OnConnected()
	OnDisconnected()
	OnMessageReceived(body json.RawMessage)
}

// NoopCallbacks discards all notifications.
type NoopCallbacks struct{}

func (NoopCallbacks) OnConnected()                      {}
func (NoopCallbacks) OnDisconnected()                   {}
func (NoopCallbacks) OnMessageReceived(json.RawMessage) {}

// Dialer abstracts session establishment so tests can substitute fake
// transports. Production code wraps transport.Dialer via NewDialer.
type Dialer interface {
	// ConnectInsecure opens a plaintext session to the provisioning port.
	ConnectInsecure(ctx context.Context, address string, handshake wire.HandshakeInfo, handler transport.Handler) (transport.Conn, error)

	// ConnectSecure opens a mutually authenticated session.
	ConnectSecure(ctx context.Context, address string, caPEM, certPEM, keyPEM []byte, handshake wire.HandshakeInfo, handler transport.Handler) (transport.Conn, error)
}

// transportDialer adapts *transport.Dialer to the Dialer interface.
type transportDialer struct {
	d *transport.Dialer
}

// NewDialer wraps a transport dialer for use by the agent.
func NewDialer(d *transport.Dialer) Dialer {
	return &transportDialer{d: d}
}

func (td *transportDialer) ConnectInsecure(ctx context.Context, address string, handshake wire.HandshakeInfo, handler transport.Handler) (transport.Conn, error) {
	return td.d.ConnectInsecure(ctx, address, handshake, handler)
}

func (td *transportDialer) ConnectSecure(ctx context.Context, address string, caPEM, certPEM, keyPEM []byte, handshake wire.HandshakeInfo, handler transport.Handler) (transport.Conn, error) {
	return td.d.ConnectSecure(ctx, address, caPEM, certPEM, keyPEM, handshake, handler)
}
