// Package transport implements the framed TCP/TLS link between the device
// agent and the desktop tool.
//
// Frames are length-prefixed JSON envelopes (see pkg/wire). A Session wraps
// one connected link and provides the two send primitives the agent needs:
// fire-and-forget and request/response with correlation by envelope ID. A
// background read loop dispatches responses to pending requests, forwards
// inbound fire-and-forget messages to the registered Handler, and answers
// keepalive pings.
//
// The Dialer establishes sessions in two modes: insecure (plain TCP, used
// only for provisioning) and secure (mutually authenticated TLS using the
// provisioned credential bundle).
package transport
