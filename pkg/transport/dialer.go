package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/Danalla/flipper/pkg/log"
	"github.com/Danalla/flipper/pkg/wire"
)

// DialerConfig configures session establishment.
type DialerConfig struct {
	// ConnectTimeout bounds each connect attempt (default: 30s).
	ConnectTimeout time.Duration

	// MaxMessageSize is the maximum frame size (default: 64KB).
	MaxMessageSize uint32

	// KeepAlive configures the session keepalive.
	KeepAlive KeepAliveConfig

	// Events receives transport log events. Nil disables event logging.
	Events log.Logger
}

// Dialer establishes sessions to the desktop tool.
type Dialer struct {
	config DialerConfig
}

// NewDialer creates a dialer.
func NewDialer(config DialerConfig) *Dialer {
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 30 * time.Second
	}
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	return &Dialer{config: config}
}

// ConnectInsecure establishes a plaintext session to the provisioning port.
// Used only to request a signed certificate before trust exists.
func (d *Dialer) ConnectInsecure(ctx context.Context, address string, handshake wire.HandshakeInfo, handler Handler) (*Session, error) {
	conn, err := d.dialTCP(ctx, address)
	if err != nil {
		return nil, err
	}
	return d.setup(conn, handshake, handler)
}

// ConnectSecure establishes a mutually authenticated TLS session using the
// provisioned credentials.
func (d *Dialer) ConnectSecure(ctx context.Context, address string, caPEM, certPEM, keyPEM []byte, handshake wire.HandshakeInfo, handler Handler) (*Session, error) {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", address, err)
	}

	tlsConf, err := NewSecureClientTLSConfig(caPEM, certPEM, keyPEM, host)
	if err != nil {
		return nil, err
	}

	conn, err := d.dialTCP(ctx, address)
	if err != nil {
		return nil, err
	}

	tlsConn := tls.Client(conn, tlsConf)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("TLS handshake failed: %w", err)
	}

	return d.setup(tlsConn, handshake, handler)
}

func (d *Dialer) dialTCP(ctx context.Context, address string) (net.Conn, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.ConnectTimeout)
		defer cancel()
	}

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}
	return conn, nil
}

// setup sends the handshake frame and starts the session loops.
func (d *Dialer) setup(conn net.Conn, handshake wire.HandshakeInfo, handler Handler) (*Session, error) {
	s := newSession(conn, d.config.MaxMessageSize, d.config.KeepAlive.Interval, handler, d.config.Events)

	data, err := wire.EncodeFireAndForget(handshake)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := s.framer.WriteFrame(data); err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake send failed: %w", err)
	}

	s.start()
	return s, nil
}
