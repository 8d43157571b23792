package log

// Logger consumes agent events. Implementations must tolerate concurrent
// calls and return quickly; the agent logs from its session worker and from
// transport goroutines.
type Logger interface {
	Log(event Event)
}

// NoopLogger drops every event. The agent substitutes it for a nil Logger.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

// Tee combines several sinks into one Logger. Nil sinks are skipped, a
// single remaining sink is returned as is, and no sinks at all collapse to
// NoopLogger. The agent binary uses this to mirror events to the service
// log while appending them to the event file.
func Tee(sinks ...Logger) Logger {
	kept := make([]Logger, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	switch len(kept) {
	case 0:
		return NoopLogger{}
	case 1:
		return kept[0]
	default:
		return tee(kept)
	}
}

type tee []Logger

func (t tee) Log(event Event) {
	for _, s := range t {
		s.Log(event)
	}
}
