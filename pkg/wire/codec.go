package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Codec errors.
var (
	ErrInvalidEnvelope = errors.New("invalid envelope")
	ErrEmptyFrame      = errors.New("empty frame")
)

// Marshal encodes a value to JSON bytes.
func Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal decodes JSON bytes into a value.
func Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// EncodeEnvelope validates and encodes an envelope to frame bytes.
func EncodeEnvelope(e *Envelope) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// DecodeEnvelope decodes frame bytes into an envelope and validates it.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFrame
	}
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

// EncodeRequest builds a request envelope around the given body.
func EncodeRequest(id uint64, body any) ([]byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return EncodeEnvelope(&Envelope{Kind: KindRequest, ID: id, Body: raw})
}

// EncodeResponse builds a response envelope answering request id.
func EncodeResponse(id uint64, body any) ([]byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return EncodeEnvelope(&Envelope{Kind: KindResponse, ID: id, Body: raw})
}

// EncodeError builds an error envelope answering request id.
func EncodeError(id uint64, message string) ([]byte, error) {
	raw, err := json.Marshal(ErrorBody{Message: message})
	if err != nil {
		return nil, err
	}
	return EncodeEnvelope(&Envelope{Kind: KindError, ID: id, Body: raw})
}

// EncodeFireAndForget builds a fire-and-forget envelope around the body.
func EncodeFireAndForget(body any) ([]byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return EncodeEnvelope(&Envelope{Kind: KindFireAndForget, Body: raw})
}

// DecodeErrorBody extracts the error message from an error envelope body.
// A body that is not a structured ErrorBody is returned verbatim as the
// message, matching what legacy desktops send.
func DecodeErrorBody(body json.RawMessage) string {
	var eb ErrorBody
	if err := json.Unmarshal(body, &eb); err == nil && eb.Message != "" {
		return eb.Message
	}
	var plain string
	if err := json.Unmarshal(body, &plain); err == nil {
		return plain
	}
	return string(body)
}
