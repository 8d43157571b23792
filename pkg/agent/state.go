package agent

// State is the lifecycle state of the agent's connection to the desktop.
// It is the single source of truth: "open" and "trusted" are derived from
// it, never tracked separately.
type State uint8

const (
	// StateIdle indicates no connection and no attempt in progress.
	StateIdle State = iota

	// StateConnectingInsecure indicates a plaintext connect to the
	// provisioning port is in progress.
	StateConnectingInsecure

	// StateProvisioning indicates the certificate exchange is running on
	// an open insecure link.
	StateProvisioning

	// StateConnectingSecure indicates a mutual-TLS connect is in progress.
	StateConnectingSecure

	// StateTrusted indicates an open, mutually authenticated session.
	// This is the only state in which application callbacks fire.
	StateTrusted

	// StateDisconnected indicates the last attempt or session ended and a
	// reconnect is (or is about to be) scheduled.
	StateDisconnected

	// StateStopped indicates the agent was explicitly stopped. Terminal.
	StateStopped
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnectingInsecure:
		return "CONNECTING_INSECURE"
	case StateProvisioning:
		return "PROVISIONING"
	case StateConnectingSecure:
		return "CONNECTING_SECURE"
	case StateTrusted:
		return "TRUSTED"
	case StateDisconnected:
		return "DISCONNECTED"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}
