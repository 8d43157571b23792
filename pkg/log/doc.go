// Package log provides structured event logging for the device agent.
//
// The agent emits events for connection steps (certificate checks, connect
// attempts, provisioning phases), state transitions, and errors. Events are
// consumed through the Logger interface and can be bridged to log/slog for
// console output, appended to a CBOR log file for later inspection, or
// fanned out to several sinks at once.
//
// Logging must never disrupt the agent: implementations swallow their own
// errors and the agent treats a nil Logger as NoopLogger.
package log
