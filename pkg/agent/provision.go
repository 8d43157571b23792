package agent

import (
	"encoding/json"
	"errors"
	"net"
	"strconv"

	"github.com/Danalla/flipper/pkg/cred"
	"github.com/Danalla/flipper/pkg/log"
	"github.com/Danalla/flipper/pkg/transport"
	"github.com/Danalla/flipper/pkg/wire"
)

// Step names used in the event log.
const (
	stepCheckCertificates    = "check certificates"
	stepGenerateCSR          = "generate CSR"
	stepConnectInsecurely    = "connect insecurely"
	stepConnectSecurely      = "connect securely"
	stepExchangeCertificates = "get cert from desktop"
)

// provision obtains a signed client certificate over the plaintext port: it
// connects insecurely, then generates a fresh key pair and CSR, asks the
// desktop to sign it, persists the returned certificates, and tears the link
// down so the next attempt can come back securely. Key material is never
// touched before the insecure connect succeeds. Runs on the loop.
func (a *Agent) provision() {
	a.setState(StateConnectingInsecure, "")
	a.events.Log(log.NewStepEvent("", stepConnectInsecurely, log.OutcomeStarted, ""))

	// No device ID on the insecure channel: nothing has been proven yet.
	handshake := wire.HandshakeInfo{
		OS:     a.config.Identity.OS,
		Device: a.config.Identity.Device,
		App:    a.config.Identity.App,
	}
	handler := &sessionHandler{agent: a}

	address := net.JoinHostPort(a.config.Identity.Host, strconv.Itoa(a.config.InsecurePort))
	conn, err := a.config.Dialer.ConnectInsecure(a.ctx, address, handshake, handler)
	if err != nil {
		// Insecure connect failures never count toward the forced
		// provisioning threshold, and leave the counter untouched, so a
		// tripped threshold keeps routing here until provisioning begins.
		kind := ClassifyConnectError(err)
		a.events.Log(log.NewStepEvent("", stepConnectInsecurely, log.OutcomeFailed, err.Error()))
		if kind != ErrorKindPeerUnreachable {
			a.events.Log(log.NewErrorEvent("", kind.String(), err.Error()))
		}
		a.setState(StateDisconnected, kind.String())
		a.scheduleReconnect()
		return
	}
	handler.conn = conn

	a.session = conn
	a.events.Log(log.NewStepEvent(conn.ID(), stepConnectInsecurely, log.OutcomeCompleted, conn.RemoteAddr()))
	a.setState(StateProvisioning, "")

	// Entering provisioning settles the forced-provisioning decision, so an
	// earlier run of secure-connect failures no longer biases the next
	// bootstrap pass.
	a.failedAttempts = 0

	if err := a.config.Store.EnsureDirectory(); err != nil {
		a.events.Log(log.NewErrorEvent(conn.ID(), ErrorKindFileSystemFailure.String(), err.Error()))
		conn.Disconnect()
		return
	}

	a.events.Log(log.NewStepEvent(conn.ID(), stepGenerateCSR, log.OutcomeStarted, ""))
	csrPath := a.config.Store.Path(cred.CSRFileName)
	keyPath := a.config.Store.Path(cred.PrivateKeyFileName)
	if err := a.config.CSRGenerator.Generate(a.config.Identity.App, csrPath, keyPath); err != nil {
		a.events.Log(log.NewStepEvent(conn.ID(), stepGenerateCSR, log.OutcomeFailed, err.Error()))
		a.events.Log(log.NewErrorEvent(conn.ID(), ErrorKindFileSystemFailure.String(), err.Error()))
		conn.Disconnect()
		return
	}
	csrPEM, err := a.config.Store.ReadAll(cred.CSRFileName)
	if err != nil || len(csrPEM) == 0 {
		detail := "CSR file empty after generation"
		if err != nil {
			detail = err.Error()
		}
		a.events.Log(log.NewStepEvent(conn.ID(), stepGenerateCSR, log.OutcomeFailed, detail))
		conn.Disconnect()
		return
	}
	a.events.Log(log.NewStepEvent(conn.ID(), stepGenerateCSR, log.OutcomeCompleted, ""))

	a.exchangeCertificates(conn, string(csrPEM))
}

// exchangeCertificates runs the signCertificate request on an open insecure
// session and persists the result. On success and on local failures the
// session is torn down and the reconnect path brings the agent back on the
// secure port; a remote refusal leaves the session to the peer.
func (a *Agent) exchangeCertificates(conn transport.Conn, csrPEM string) {
	a.events.Log(log.NewStepEvent(conn.ID(), stepExchangeCertificates, log.OutcomeStarted, ""))

	// The desktop writes certificates into this directory on the device;
	// the trailing separator marks it as a directory, not a file.
	request := wire.NewSignCertificateRequest(csrPEM, a.config.Store.Dir()+"/")

	// Holds the loop until the desktop answers or the session dies. Stop
	// unblocks it through a.cancel.
	body, err := conn.SendRequest(a.ctx, request)
	if err != nil {
		var remote *wire.RemoteError
		switch {
		case errors.As(err, &remote) && remote.Unimplemented():
			// Legacy desktop: no request/response support. Fall back to
			// fire-and-forget and assume the desktop signs and writes the
			// certificates on its own. There is no way to observe failure
			// on this path; a bad assumption surfaces as a failed secure
			// connect, which eventually forces provisioning again.
			a.legacyExchange(conn, request)
			conn.Disconnect()
		case errors.As(err, &remote):
			// The peer refused to sign. The attempt is abandoned but the
			// link is left to the peer; the ambient reconnect cycle takes
			// over once the transport closes.
			a.events.Log(log.NewStepEvent(conn.ID(), stepExchangeCertificates, log.OutcomeFailed, remote.Message))
			a.events.Log(log.NewErrorEvent(conn.ID(), ErrorKindProvisioningRejected.String(), remote.Message))
		default:
			a.events.Log(log.NewStepEvent(conn.ID(), stepExchangeCertificates, log.OutcomeFailed, err.Error()))
			conn.Disconnect()
		}
		return
	}

	var response wire.SignCertificateResponse
	if err := json.Unmarshal(body, &response); err != nil {
		a.events.Log(log.NewStepEvent(conn.ID(), stepExchangeCertificates, log.OutcomeFailed, "malformed response: "+err.Error()))
		conn.Disconnect()
		return
	}
	if err := a.persistCertificates(&response); err != nil {
		a.events.Log(log.NewStepEvent(conn.ID(), stepExchangeCertificates, log.OutcomeFailed, err.Error()))
		a.events.Log(log.NewErrorEvent(conn.ID(), ErrorKindFileSystemFailure.String(), err.Error()))
		conn.Disconnect()
		return
	}

	a.events.Log(log.NewStepEvent(conn.ID(), stepExchangeCertificates, log.OutcomeCompleted, ""))
	conn.Disconnect()
}

// legacyExchange re-sends the signing request without expecting a reply.
func (a *Agent) legacyExchange(conn transport.Conn, request wire.SignCertificateRequest) {
	a.events.Log(log.NewErrorEvent(conn.ID(), ErrorKindProvisioningUnimplemented.String(), "desktop does not support certificate exchange, using legacy fallback"))
	if err := conn.SendFireAndForget(a.ctx, request); err != nil {
		a.events.Log(log.NewStepEvent(conn.ID(), stepExchangeCertificates, log.OutcomeFailed, err.Error()))
		return
	}
	a.events.Log(log.NewStepEvent(conn.ID(), stepExchangeCertificates, log.OutcomeCompleted, "legacy fallback"))
}

// persistCertificates writes the signed certificate, and the CA certificate
// when the desktop included one, into the credential store.
func (a *Agent) persistCertificates(response *wire.SignCertificateResponse) error {
	if response.Certificate != "" {
		if err := a.config.Store.WriteAll(cred.ClientCertFileName, []byte(response.Certificate)); err != nil {
			return err
		}
	}
	if response.CACertificate != "" {
		if err := a.config.Store.WriteAll(cred.CAFileName, []byte(response.CACertificate)); err != nil {
			return err
		}
	}
	return nil
}
