// Package wire defines the JSON wire format exchanged between the device
// agent and the desktop tool.
//
// Every frame on the transport carries a single Envelope. An envelope is a
// JSON object with a kind, an optional correlation ID, and an opaque body.
//
// # Envelope Kinds
//
//   - request: expects exactly one response or error with the same ID
//   - response: successful reply to a request
//   - error: failed reply to a request, body carries the error message
//   - fnf: fire-and-forget, no reply is ever sent
//   - ping/pong: transport keepalive, never delivered to the application
//
// # Correlation
//
// Requests carry a non-zero uint64 ID chosen by the sender. Responses and
// errors echo the ID of the request they answer. Fire-and-forget envelopes
// use ID 0.
//
// The body is not interpreted by the transport; typed bodies used by the
// provisioning protocol are defined in this package.
package wire
