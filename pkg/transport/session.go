package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Danalla/flipper/pkg/log"
	"github.com/Danalla/flipper/pkg/wire"
)

// Session errors.
var (
	// ErrSessionClosed indicates the session has been disconnected.
	ErrSessionClosed = errors.New("session closed")

	// ErrKeepAliveTimeout indicates the peer stopped answering pings.
	ErrKeepAliveTimeout = errors.New("keepalive timeout")
)

// Session is one connected link to the desktop tool, insecure or secure.
// It is created by Dialer.connect and torn down by Disconnect or by the
// read loop when the link fails.
type Session struct {
	conn    net.Conn
	framer  *Framer
	id      string
	handler Handler
	events  log.Logger

	writeMu sync.Mutex
	nextID  atomic.Uint64

	pendingMu sync.Mutex
	pending   map[uint64]chan result

	keepalive *keepAlive

	closeOnce sync.Once
	closeCh   chan struct{}
}

type result struct {
	body json.RawMessage
	err  error
}

func newSession(conn net.Conn, maxMessageSize uint32, keepaliveInterval time.Duration, handler Handler, events log.Logger) *Session {
	if events == nil {
		events = log.NoopLogger{}
	}
	s := &Session{
		conn:    conn,
		framer:  NewFramerWithMaxSize(conn, maxMessageSize),
		id:      uuid.NewString(),
		handler: handler,
		events:  events,
		pending: make(map[uint64]chan result),
		closeCh: make(chan struct{}),
	}

	if keepaliveInterval == 0 {
		keepaliveInterval = DefaultKeepAliveInterval
	}
	if keepaliveInterval > 0 {
		s.keepalive = newKeepAlive(keepaliveInterval, s.sendPing, func() {
			s.close(ErrKeepAliveTimeout)
		})
	}
	return s
}

// start launches the read loop and keepalive after the handshake frame has
// been sent.
func (s *Session) start() {
	go s.readLoop()
	if s.keepalive != nil {
		go s.keepalive.run()
	}
}

// ID returns the session's unique connection ID.
func (s *Session) ID() string {
	return s.id
}

// RemoteAddr returns the peer address as host:port.
func (s *Session) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

// SendFireAndForget sends a message with no reply.
func (s *Session) SendFireAndForget(_ context.Context, body any) error {
	data, err := wire.EncodeFireAndForget(body)
	if err != nil {
		return err
	}
	return s.writeFrame(data)
}

// SendRequest sends a request and waits for the matching response. The peer
// answering with an error envelope yields a *wire.RemoteError; a session
// that closes while waiting yields ErrSessionClosed.
func (s *Session) SendRequest(ctx context.Context, body any) (json.RawMessage, error) {
	id := s.nextID.Add(1)

	respCh := make(chan result, 1)
	s.pendingMu.Lock()
	if s.pending == nil {
		s.pendingMu.Unlock()
		return nil, ErrSessionClosed
	}
	s.pending[id] = respCh
	s.pendingMu.Unlock()

	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, id)
		s.pendingMu.Unlock()
	}()

	data, err := wire.EncodeRequest(id, body)
	if err != nil {
		return nil, err
	}
	if err := s.writeFrame(data); err != nil {
		return nil, err
	}

	select {
	case r := <-respCh:
		return r.body, r.err
	case <-s.closeCh:
		return nil, ErrSessionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Disconnect closes the session. Safe to call multiple times.
func (s *Session) Disconnect() {
	s.close(ErrSessionClosed)
}

func (s *Session) sendPing(seq uint64) error {
	data, err := wire.EncodeEnvelope(&wire.Envelope{Kind: wire.KindPing, ID: seq})
	if err != nil {
		return err
	}
	return s.writeFrame(data)
}

func (s *Session) sendPong(seq uint64) {
	data, err := wire.EncodeEnvelope(&wire.Envelope{Kind: wire.KindPong, ID: seq})
	if err != nil {
		return
	}
	_ = s.writeFrame(data)
}

func (s *Session) writeFrame(data []byte) error {
	select {
	case <-s.closeCh:
		return ErrSessionClosed
	default:
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.framer.WriteFrame(data)
}

func (s *Session) readLoop() {
	for {
		data, err := s.framer.ReadFrame()
		if err != nil {
			s.close(err)
			return
		}

		env, err := wire.DecodeEnvelope(data)
		if err != nil {
			s.events.Log(log.NewErrorEvent(s.id, "WIRE", "dropping undecodable frame: "+err.Error()))
			continue
		}

		switch env.Kind {
		case wire.KindResponse:
			s.deliver(env.ID, result{body: env.Body})

		case wire.KindError:
			msg := wire.DecodeErrorBody(env.Body)
			s.deliver(env.ID, result{err: &wire.RemoteError{Message: msg}})

		case wire.KindFireAndForget:
			s.handler.OnFireAndForget(env.Body)

		case wire.KindPing:
			s.sendPong(env.ID)

		case wire.KindPong:
			if s.keepalive != nil {
				s.keepalive.handlePong()
			}

		case wire.KindRequest:
			// The desktop never sends requests to the device; answer so
			// the peer is not left waiting.
			if data, err := wire.EncodeError(env.ID, wire.NotImplementedMessage); err == nil {
				_ = s.writeFrame(data)
			}
		}
	}
}

func (s *Session) deliver(id uint64, r result) {
	s.pendingMu.Lock()
	ch, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	s.pendingMu.Unlock()

	if ok {
		ch <- r
	}
}

// close tears down the session exactly once and notifies the handler with
// the terminating error.
func (s *Session) close(err error) {
	s.closeOnce.Do(func() {
		close(s.closeCh)
		if s.keepalive != nil {
			s.keepalive.stop()
		}
		_ = s.conn.Close()

		// Fail anything still waiting for a response.
		s.pendingMu.Lock()
		pending := s.pending
		s.pending = nil
		s.pendingMu.Unlock()
		for _, ch := range pending {
			ch <- result{err: ErrSessionClosed}
		}

		s.handler.OnDisconnected(err)
	})
}
