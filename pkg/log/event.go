package log

import (
	"time"
)

// Event is a single agent log event.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID identifies the transport session the event belongs to,
	// empty for events outside any session.
	ConnectionID string `cbor:"2,keyasint,omitempty"`

	// Category classifies the event type.
	Category Category `cbor:"3,keyasint"`

	// RemoteAddr is the peer address (host:port), when known.
	RemoteAddr string `cbor:"4,keyasint,omitempty"`

	// Type-specific payload (exactly one is set).
	Step        *StepEvent        `cbor:"10,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"11,keyasint,omitempty"`
	Error       *ErrorEvent       `cbor:"12,keyasint,omitempty"`
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryStep is a connection or provisioning step.
	CategoryStep Category = 0

	// CategoryState is a lifecycle state transition.
	CategoryState Category = 1

	// CategoryError is an error at any layer.
	CategoryError Category = 2
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryStep:
		return "STEP"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Outcome is the result of a connection step.
type Outcome uint8

const (
	// OutcomeStarted marks the beginning of a step.
	OutcomeStarted Outcome = 0

	// OutcomeCompleted marks successful completion.
	OutcomeCompleted Outcome = 1

	// OutcomeFailed marks failure; Detail carries the reason.
	OutcomeFailed Outcome = 2
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeStarted:
		return "STARTED"
	case OutcomeCompleted:
		return "COMPLETED"
	case OutcomeFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// StepEvent describes progress of a named connection step, for example
// "connect securely" or "generate CSR".
type StepEvent struct {
	Name    string  `cbor:"1,keyasint"`
	Outcome Outcome `cbor:"2,keyasint"`
	Detail  string  `cbor:"3,keyasint,omitempty"`
}

// StateChangeEvent describes a lifecycle state transition.
type StateChangeEvent struct {
	OldState string `cbor:"1,keyasint"`
	NewState string `cbor:"2,keyasint"`
	Reason   string `cbor:"3,keyasint,omitempty"`
}

// ErrorEvent describes an error.
type ErrorEvent struct {
	Kind    string `cbor:"1,keyasint,omitempty"`
	Message string `cbor:"2,keyasint"`
}

// NewStepEvent builds a step event stamped with the current time.
func NewStepEvent(connID, name string, outcome Outcome, detail string) Event {
	return Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Category:     CategoryStep,
		Step:         &StepEvent{Name: name, Outcome: outcome, Detail: detail},
	}
}

// NewStateChangeEvent builds a state-transition event stamped with the
// current time.
func NewStateChangeEvent(connID, oldState, newState, reason string) Event {
	return Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Category:     CategoryState,
		StateChange:  &StateChangeEvent{OldState: oldState, NewState: newState, Reason: reason},
	}
}

// NewErrorEvent builds an error event stamped with the current time.
func NewErrorEvent(connID, kind, message string) Event {
	return Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Category:     CategoryError,
		Error:        &ErrorEvent{Kind: kind, Message: message},
	}
}
