package wire

import (
	"encoding/json"
	"fmt"
)

// Kind identifies the role of an envelope on the wire.
type Kind string

// Envelope kinds.
const (
	// KindRequest expects exactly one response or error with the same ID.
	KindRequest Kind = "request"

	// KindResponse is a successful reply to a request.
	KindResponse Kind = "response"

	// KindError is a failed reply to a request.
	KindError Kind = "error"

	// KindFireAndForget carries a message with no reply.
	KindFireAndForget Kind = "fnf"

	// KindPing is a transport keepalive probe; ID carries the sequence.
	KindPing Kind = "ping"

	// KindPong answers a ping, echoing its sequence in ID.
	KindPong Kind = "pong"
)

// IsValid reports whether the kind is one of the defined envelope kinds.
func (k Kind) IsValid() bool {
	switch k {
	case KindRequest, KindResponse, KindError, KindFireAndForget, KindPing, KindPong:
		return true
	default:
		return false
	}
}

// FireAndForgetID is the envelope ID used for fire-and-forget frames.
const FireAndForgetID uint64 = 0

// Envelope is the outer JSON object carried in every transport frame.
//
//	{
//	  "kind": "request",
//	  "id":   42,
//	  "body": { ... }
//	}
type Envelope struct {
	Kind Kind            `json:"kind"`
	ID   uint64          `json:"id,omitempty"`
	Body json.RawMessage `json:"body,omitempty"`
}

// Validate checks structural invariants of the envelope.
func (e *Envelope) Validate() error {
	if !e.Kind.IsValid() {
		return fmt.Errorf("%w: kind %q", ErrInvalidEnvelope, e.Kind)
	}
	switch e.Kind {
	case KindRequest, KindResponse, KindError:
		if e.ID == FireAndForgetID {
			return fmt.Errorf("%w: %s requires a non-zero id", ErrInvalidEnvelope, e.Kind)
		}
	case KindFireAndForget:
		if e.ID != FireAndForgetID {
			return fmt.Errorf("%w: fnf must use id 0, got %d", ErrInvalidEnvelope, e.ID)
		}
	}
	return nil
}

// SignCertificateMethod is the method name of the provisioning request.
const SignCertificateMethod = "signCertificate"

// NotImplementedMessage is the error body a legacy desktop returns when it
// does not support the request/response provisioning exchange.
const NotImplementedMessage = "not implemented"

// SignCertificateRequest asks the desktop tool to sign the enclosed CSR and
// deliver the certificates to the destination directory on the device.
type SignCertificateRequest struct {
	Method      string `json:"method"`
	CSR         string `json:"csr"`
	Destination string `json:"destination"`
}

// NewSignCertificateRequest builds a signCertificate request body.
func NewSignCertificateRequest(csr, destination string) SignCertificateRequest {
	return SignCertificateRequest{
		Method:      SignCertificateMethod,
		CSR:         csr,
		Destination: destination,
	}
}

// SignCertificateResponse is the desktop's reply to a signCertificate
// request. Certificate is the PEM-encoded signed client certificate;
// CACertificate is the PEM-encoded trust anchor, present when the desktop
// did not already place it in the destination directory.
type SignCertificateResponse struct {
	Certificate   string `json:"certificate"`
	CACertificate string `json:"caCertificate,omitempty"`
}

// HandshakeInfo identifies the device to the desktop tool. It is sent as the
// first frame on every connection. DeviceID is omitted on the insecure
// provisioning channel because the device has not proven an identity yet.
type HandshakeInfo struct {
	OS       string `json:"os"`
	Device   string `json:"device"`
	DeviceID string `json:"device_id,omitempty"`
	App      string `json:"app"`
}

// ErrorBody is the body of a KindError envelope.
type ErrorBody struct {
	Message string `json:"message"`
}

// RemoteError is returned by the transport when the desktop answers a
// request with an error envelope. The message is the peer's error payload.
type RemoteError struct {
	Message string
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	return "remote error: " + e.Message
}

// Unimplemented reports whether the peer signalled that the requested
// operation is not supported (legacy desktop).
func (e *RemoteError) Unimplemented() bool {
	return e.Message == NotImplementedMessage
}
