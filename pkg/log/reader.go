package log

import (
	"errors"
	"io"
	"os"
)

// ReadEvents decodes all events from a CBOR event stream.
// It stops at EOF and returns the events read so far; a truncated trailing
// record is reported as an error alongside the complete events.
func ReadEvents(r io.Reader) ([]Event, error) {
	dec := eventDecMode.NewDecoder(r)

	var events []Event
	for {
		var event Event
		if err := dec.Decode(&event); err != nil {
			if errors.Is(err, io.EOF) {
				return events, nil
			}
			return events, err
		}
		events = append(events, event)
	}
}

// ReadEventFile reads all events from a CBOR log file written by FileLogger.
func ReadEventFile(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return ReadEvents(f)
}
