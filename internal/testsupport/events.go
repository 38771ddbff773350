package testsupport

import (
	"sync"
	"testing"
	"time"

	"cutline/internal/protocol"
)

// EventSink is an io.Writer that decodes protocol event lines as they are
// written. It stands in for a backend's stdout reader.
type EventSink struct {
	mu      sync.Mutex
	decoder *protocol.Decoder
	events  []protocol.Event
	changed chan struct{}
}

// NewEventSink returns an empty sink.
func NewEventSink() *EventSink {
	s := &EventSink{changed: make(chan struct{})}
	s.decoder = protocol.NewDecoder(s.add)
	return s
}

func (s *EventSink) add(evt protocol.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	close(s.changed)
	s.changed = make(chan struct{})
}

// Write implements io.Writer.
func (s *EventSink) Write(p []byte) (int, error) {
	return s.decoder.Write(p)
}

// Events returns a copy of everything decoded so far.
func (s *EventSink) Events() []protocol.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Event(nil), s.events...)
}

// OfType returns the decoded events of type typ.
func (s *EventSink) OfType(typ protocol.EventType) []protocol.Event {
	var out []protocol.Event
	for _, evt := range s.Events() {
		if evt.Type == typ {
			out = append(out, evt)
		}
	}
	return out
}

// Reset forgets decoded events.
func (s *EventSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}

// WaitFor blocks until an event matching match has been decoded and returns
// it, failing the test after timeout.
func (s *EventSink) WaitFor(t testing.TB, timeout time.Duration, match func(protocol.Event) bool) protocol.Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		s.mu.Lock()
		for _, evt := range s.events {
			if match(evt) {
				s.mu.Unlock()
				return evt
			}
		}
		changed := s.changed
		s.mu.Unlock()
		select {
		case <-changed:
		case <-deadline:
			t.Fatalf("timed out waiting for event; saw %d events", len(s.Events()))
			return protocol.Event{}
		}
	}
}

// IsType matches events of type typ.
func IsType(typ protocol.EventType) func(protocol.Event) bool {
	return func(evt protocol.Event) bool { return evt.Type == typ }
}
