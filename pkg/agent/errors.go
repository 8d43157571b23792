package agent

import (
	"errors"
	"syscall"
)

// ErrorKind classifies connection and provisioning failures. The kind, not
// the error's dynamic type, drives the state machine's branching.
type ErrorKind uint8

const (
	// ErrorKindPeerUnreachable means the desktop tool is not listening.
	// Expected whenever the tool is not running; never counted as a
	// failed attempt.
	ErrorKindPeerUnreachable ErrorKind = iota

	// ErrorKindTransportFailure is any other socket or TLS failure during
	// connect. Counted toward the forced-provisioning threshold.
	ErrorKindTransportFailure

	// ErrorKindProvisioningUnimplemented means the peer does not support
	// the request/response signing exchange; triggers the legacy
	// fire-and-forget fallback.
	ErrorKindProvisioningUnimplemented

	// ErrorKindProvisioningRejected means the peer refused to sign.
	ErrorKindProvisioningRejected

	// ErrorKindFileSystemFailure means credential files or their
	// directory could not be created, read, or written.
	ErrorKindFileSystemFailure

	// ErrorKindWrongExecutionContext means an entry point ran off the
	// session worker. A caller bug; the call is dropped, never retried.
	ErrorKindWrongExecutionContext
)

// String returns the kind name.
func (k ErrorKind) String() string {
	switch k {
	case ErrorKindPeerUnreachable:
		return "PEER_UNREACHABLE"
	case ErrorKindTransportFailure:
		return "TRANSPORT_FAILURE"
	case ErrorKindProvisioningUnimplemented:
		return "PROVISIONING_UNIMPLEMENTED"
	case ErrorKindProvisioningRejected:
		return "PROVISIONING_REJECTED"
	case ErrorKindFileSystemFailure:
		return "FILE_SYSTEM_FAILURE"
	case ErrorKindWrongExecutionContext:
		return "WRONG_EXECUTION_CONTEXT"
	default:
		return "UNKNOWN"
	}
}

// ClassifyConnectError maps a connect failure to its kind. Connection
// refused and unreachable-network conditions are the expected "desktop not
// running" case; everything else is a transport failure.
func ClassifyConnectError(err error) ErrorKind {
	switch {
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.ENETUNREACH):
		return ErrorKindPeerUnreachable
	default:
		return ErrorKindTransportFailure
	}
}
