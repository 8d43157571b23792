// Package agent implements the device-side connection bootstrap and
// lifecycle state machine.
//
// The agent maintains a single link to the desktop tool. When a complete
// credential bundle exists it connects over mutually authenticated TLS and
// reports a trusted session to the application callbacks. When credentials
// are missing, or secure connects keep failing, it connects over the
// plaintext provisioning port, obtains a signed client certificate through
// the signCertificate exchange, and tears the link down so the normal
// reconnect path can come back securely.
//
// All state lives on a single session worker: transport callbacks and public
// entry points hand off to the worker, so no two transitions ever run
// concurrently. Failed attempts schedule a fixed-delay reconnect; stopping
// the agent cancels everything.
package agent
