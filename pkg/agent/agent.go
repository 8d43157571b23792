package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/Danalla/flipper/pkg/cred"
	"github.com/Danalla/flipper/pkg/csr"
	"github.com/Danalla/flipper/pkg/log"
	"github.com/Danalla/flipper/pkg/transport"
	"github.com/Danalla/flipper/pkg/wire"
	"github.com/Danalla/flipper/pkg/worker"
)

// Defaults fixed by the desktop protocol.
const (
	// SecurePort is the desktop's mutual-TLS listener.
	SecurePort = 8088

	// InsecurePort is the desktop's plaintext provisioning listener.
	InsecurePort = 8089

	// ReconnectInterval is the fixed delay between connect attempts.
	ReconnectInterval = 2 * time.Second
)

// failedAttemptThreshold is how many counted secure-connect failures force
// the next attempt onto the provisioning path. Peer-unreachable failures are
// never counted.
const failedAttemptThreshold = 2

// DeviceIdentity describes the device to the desktop tool.
type DeviceIdentity struct {
	// Host is the desktop tool's address (usually localhost or the
	// host reachable over USB forwarding).
	Host string

	// OS is the device operating system name.
	OS string

	// Device is the device model.
	Device string

	// DeviceID is the stable device identifier. Sent only on the secure
	// channel; the insecure handshake omits it.
	DeviceID string

	// App is the application package identifier. Also used as the CSR
	// subject common name.
	App string
}

// Config configures an Agent.
type Config struct {
	// Identity identifies this device. Identity.Host and Identity.App are
	// required.
	Identity DeviceIdentity

	// Store holds the credential files. Required.
	Store cred.Store

	// Dialer establishes sessions. Required; production code passes
	// NewDialer(transport.NewDialer(...)).
	Dialer Dialer

	// CSRGenerator produces the key pair and signing request during
	// provisioning. Defaults to csr.NewGenerator().
	CSRGenerator csr.Generator

	// Callbacks receives trusted-session notifications. Defaults to
	// NoopCallbacks.
	Callbacks Callbacks

	// Events receives agent log events. Nil disables event logging.
	Events log.Logger

	// ReconnectInterval overrides the fixed reconnect delay. Defaults to
	// ReconnectInterval.
	ReconnectInterval time.Duration

	// SecurePort and InsecurePort override the desktop ports. Zero means
	// the protocol default.
	SecurePort   int
	InsecurePort int
}

// Agent maintains the device's connection to the desktop tool: provisioning
// over the insecure port when trust is missing, a mutually authenticated
// session once credentials exist, and fixed-delay reconnects in between.
//
// All transitions run on a single session worker. Public methods are safe to
// call from any goroutine.
type Agent struct {
	config Config
	worker *worker.Worker
	events log.Logger

	// state is written on the worker and read anywhere.
	state atomic.Uint32

	ctx    context.Context
	cancel context.CancelFunc

	// Worker-confined fields. Never touched off the loop.
	session        transport.Conn
	failedAttempts int
	reconnectTimer *worker.Timer
}

// NewAgent creates an agent. It does not connect until Start is called.
func NewAgent(config Config) (*Agent, error) {
	if config.Store == nil {
		return nil, errors.New("agent: Store is required")
	}
	if config.Dialer == nil {
		return nil, errors.New("agent: Dialer is required")
	}
	if config.Identity.Host == "" {
		return nil, errors.New("agent: Identity.Host is required")
	}
	if config.Identity.App == "" {
		return nil, errors.New("agent: Identity.App is required")
	}
	if config.CSRGenerator == nil {
		config.CSRGenerator = csr.NewGenerator()
	}
	if config.Callbacks == nil {
		config.Callbacks = NoopCallbacks{}
	}
	if config.Events == nil {
		config.Events = log.NoopLogger{}
	}
	if config.ReconnectInterval == 0 {
		config.ReconnectInterval = ReconnectInterval
	}
	if config.SecurePort == 0 {
		config.SecurePort = SecurePort
	}
	if config.InsecurePort == 0 {
		config.InsecurePort = InsecurePort
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &Agent{
		config: config,
		worker: worker.New(),
		events: config.Events,
		ctx:    ctx,
		cancel: cancel,
	}
	a.state.Store(uint32(StateIdle))
	return a, nil
}

// Start begins connecting. Non-blocking; progress is reported through the
// callbacks and the event log. Calling Start on a running agent is a no-op.
func (a *Agent) Start() {
	_ = a.worker.Post(a.startSync)
}

// Stop disconnects and halts the agent. Blocks until the session worker has
// drained. The agent cannot be restarted after Stop.
//
// Stop must not be called from within a callback; callbacks run on the
// session worker and waiting for it there would deadlock.
func (a *Agent) Stop() {
	if a.worker.InLoop() {
		a.events.Log(log.NewErrorEvent("", ErrorKindWrongExecutionContext.String(), "Stop called from the session worker"))
		return
	}

	// Unblock any connect or request in flight on the loop.
	a.cancel()

	done := make(chan struct{})
	if err := a.worker.Post(func() {
		a.stopSync()
		close(done)
	}); err == nil {
		<-done
	}
	a.worker.Halt()
}

// State returns the current lifecycle state.
func (a *Agent) State() State {
	return State(a.state.Load())
}

// IsOpen reports whether a trusted session is established.
func (a *Agent) IsOpen() bool {
	return a.State() == StateTrusted
}

// SendMessage sends a fire-and-forget message over the trusted session.
// Messages are silently dropped while no trusted session exists.
func (a *Agent) SendMessage(body any) {
	_ = a.worker.Post(func() {
		if a.State() != StateTrusted || a.session == nil {
			return
		}
		if err := a.session.SendFireAndForget(a.ctx, body); err != nil {
			a.events.Log(log.NewErrorEvent(a.session.ID(), ErrorKindTransportFailure.String(), "send failed: "+err.Error()))
		}
	})
}

// startSync runs one bootstrap decision on the loop: provision when the
// credential bundle is incomplete or secure connects keep failing, connect
// securely otherwise.
func (a *Agent) startSync() {
	if !a.ensureLoop("start") {
		return
	}

	switch a.State() {
	case StateIdle, StateDisconnected:
	default:
		return
	}

	// Collapse a pending reconnect so there is never more than one attempt
	// in flight.
	if a.reconnectTimer != nil {
		a.reconnectTimer.Cancel()
		a.reconnectTimer = nil
	}

	a.events.Log(log.NewStepEvent("", stepCheckCertificates, log.OutcomeStarted, ""))
	bundle, err := cred.LoadBundle(a.config.Store)
	if err != nil {
		a.events.Log(log.NewStepEvent("", stepCheckCertificates, log.OutcomeFailed, err.Error()))
		a.events.Log(log.NewErrorEvent("", ErrorKindFileSystemFailure.String(), err.Error()))
		a.setState(StateDisconnected, "credential read failed")
		a.scheduleReconnect()
		return
	}
	a.events.Log(log.NewStepEvent("", stepCheckCertificates, log.OutcomeCompleted, ""))

	if !bundle.Complete() || a.failedAttempts >= failedAttemptThreshold {
		a.provision()
		return
	}
	a.connectSecurely(bundle)
}

// connectSecurely attempts a mutual-TLS session with the stored credentials.
func (a *Agent) connectSecurely(bundle *cred.Bundle) {
	a.setState(StateConnectingSecure, "")
	a.events.Log(log.NewStepEvent("", stepConnectSecurely, log.OutcomeStarted, ""))

	handshake := wire.HandshakeInfo{
		OS:       a.config.Identity.OS,
		Device:   a.config.Identity.Device,
		DeviceID: a.config.Identity.DeviceID,
		App:      a.config.Identity.App,
	}
	handler := &sessionHandler{agent: a}

	// The dial holds the loop until it resolves, so no other transition
	// can interleave with a connect in flight. Stop unblocks it through
	// a.cancel.
	address := net.JoinHostPort(a.config.Identity.Host, strconv.Itoa(a.config.SecurePort))
	conn, err := a.config.Dialer.ConnectSecure(a.ctx, address, bundle.CACert, bundle.ClientCert, bundle.PrivateKey, handshake, handler)
	if err != nil {
		kind := ClassifyConnectError(err)
		a.events.Log(log.NewStepEvent("", stepConnectSecurely, log.OutcomeFailed, err.Error()))
		if kind != ErrorKindPeerUnreachable {
			a.failedAttempts++
			a.events.Log(log.NewErrorEvent("", kind.String(), err.Error()))
		}
		a.setState(StateDisconnected, kind.String())
		a.scheduleReconnect()
		return
	}
	handler.conn = conn

	a.session = conn
	a.failedAttempts = 0
	a.events.Log(log.NewStepEvent(conn.ID(), stepConnectSecurely, log.OutcomeCompleted, conn.RemoteAddr()))
	a.setState(StateTrusted, "")
	a.config.Callbacks.OnConnected()
}

// handleDisconnect processes a session teardown on the loop. Events from a
// session that is no longer current are dropped.
func (a *Agent) handleDisconnect(conn transport.Conn, err error) {
	if conn == nil || conn != a.session {
		return
	}
	a.session = nil

	wasTrusted := a.State() == StateTrusted
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	a.setState(StateDisconnected, reason)

	if err != nil && !errors.Is(err, transport.ErrSessionClosed) {
		a.events.Log(log.NewErrorEvent(conn.ID(), ErrorKindTransportFailure.String(), reason))
	}
	if wasTrusted {
		a.config.Callbacks.OnDisconnected()
	}
	a.scheduleReconnect()
}

// handleMessage delivers an inbound message on the loop. Messages arriving
// outside a trusted session, or from a stale session, are dropped.
func (a *Agent) handleMessage(conn transport.Conn, body json.RawMessage) {
	if conn != a.session || a.State() != StateTrusted {
		return
	}
	a.config.Callbacks.OnMessageReceived(body)
}

// scheduleReconnect arms the fixed-delay reconnect. A pending timer wins;
// multiple failures within one interval collapse into a single attempt.
func (a *Agent) scheduleReconnect() {
	if a.reconnectTimer != nil || a.State() == StateStopped {
		return
	}
	t, err := a.worker.PostDelayed(func() {
		a.reconnectTimer = nil
		a.startSync()
	}, a.config.ReconnectInterval)
	if err != nil {
		return
	}
	a.reconnectTimer = t
}

func (a *Agent) stopSync() {
	if a.State() == StateStopped {
		return
	}
	if a.reconnectTimer != nil {
		a.reconnectTimer.Cancel()
		a.reconnectTimer = nil
	}

	wasTrusted := a.State() == StateTrusted
	session := a.session
	a.session = nil
	a.setState(StateStopped, "stopped")

	if wasTrusted {
		a.config.Callbacks.OnDisconnected()
	}
	if session != nil {
		session.Disconnect()
	}
}

// setState records a state transition. Runs on the loop.
func (a *Agent) setState(next State, reason string) {
	prev := a.State()
	if prev == next {
		return
	}
	a.state.Store(uint32(next))

	connID := ""
	if a.session != nil {
		connID = a.session.ID()
	}
	a.events.Log(log.NewStateChangeEvent(connID, prev.String(), next.String(), reason))
}

// ensureLoop guards loop-confined entry points against misuse from foreign
// goroutines. The offending call is dropped, not retried.
func (a *Agent) ensureLoop(op string) bool {
	if a.worker.InLoop() {
		return true
	}
	a.events.Log(log.NewErrorEvent("", ErrorKindWrongExecutionContext.String(), op+" called off the session worker"))
	return false
}

// sessionHandler forwards transport callbacks onto the agent's worker. The
// conn field is assigned on the loop right after a successful connect and
// only read inside posted tasks, keeping it loop-confined.
type sessionHandler struct {
	agent *Agent
	conn  transport.Conn
}

func (h *sessionHandler) OnDisconnected(err error) {
	_ = h.agent.worker.Post(func() {
		h.agent.handleDisconnect(h.conn, err)
	})
}

func (h *sessionHandler) OnFireAndForget(body json.RawMessage) {
	_ = h.agent.worker.Post(func() {
		h.agent.handleMessage(h.conn, body)
	})
}

// Compile-time interface satisfaction check.
var _ transport.Handler = (*sessionHandler)(nil)
