package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventType tags a backend-to-host event.
type EventType string

const (
	EventLoaded        EventType = "loaded"
	EventState         EventType = "state"
	EventPosition      EventType = "position"
	EventEDLApplied    EventType = "edlApplied"
	EventEnded         EventType = "ended"
	EventError         EventType = "error"
	EventBackendStatus EventType = "backendStatus"
)

// BackendState is carried by host-local backendStatus events.
type BackendState string

const (
	BackendAlive  BackendState = "alive"
	BackendDead   BackendState = "dead"
	BackendFailed BackendState = "failed"
)

// Error codes attached to locally generated error events.
const (
	CodeProtocol = "protocol"
	CodeStderr   = "stderr"
)

// ErrInvalidEvent reports an event that fails the schema check.
var ErrInvalidEvent = errors.New("invalid event")

// Event is received from the backend, or synthesized locally for protocol
// failures, stderr output and process lifecycle changes.
type Event struct {
	Type         EventType `json:"type"`
	ID           string    `json:"id,omitempty"`
	GenerationID *uint64   `json:"generationId,omitempty"`

	// loaded
	DurationSec *float64 `json:"durationSec,omitempty"`
	SampleRate  *int     `json:"sampleRate,omitempty"`
	Channels    *int     `json:"channels,omitempty"`

	// state
	Playing *bool `json:"playing,omitempty"`

	// position, edlApplied
	EditedSec   *float64 `json:"editedSec,omitempty"`
	OriginalSec *float64 `json:"originalSec,omitempty"`
	Revision    *uint64  `json:"revision,omitempty"`

	// edlApplied
	WordCount     *int   `json:"wordCount,omitempty"`
	SpacerCount   *int   `json:"spacerCount,omitempty"`
	TotalSegments *int   `json:"totalSegments,omitempty"`
	Mode          string `json:"mode,omitempty"`

	// error
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`

	// backendStatus (host-local)
	Status           BackendState `json:"status,omitempty"`
	PID              int          `json:"pid,omitempty"`
	ExitCode         *int         `json:"exitCode,omitempty"`
	Signal           string       `json:"signal,omitempty"`
	StderrTail       []string     `json:"stderrTail,omitempty"`
	Attempt          int          `json:"attempt,omitempty"`
	RestartInMs      int64        `json:"restartInMs,omitempty"`
	RestartScheduled bool         `json:"restartScheduled,omitempty"`

	// Raw holds the offending line for locally generated protocol errors.
	Raw string `json:"-"`
	// Synthesized marks events built by the host. It never decodes from
	// the wire, so a backend cannot claim to be local.
	Synthesized bool `json:"-"`
}

// Generation returns the event's generation tag and whether it was present.
func (e Event) Generation() (uint64, bool) {
	if e.GenerationID == nil {
		return 0, false
	}
	return *e.GenerationID, true
}

// Local reports whether the event was synthesized by the host.
func (e Event) Local() bool {
	return e.Type == EventBackendStatus || e.Synthesized
}

// Validate checks a wire event against its tagged-union schema.
// backendStatus is host-local and is rejected when it arrives on the wire.
func (e Event) Validate() error {
	switch e.Type {
	case EventLoaded:
		if e.DurationSec == nil || e.SampleRate == nil || e.Channels == nil {
			return fmt.Errorf("%w: loaded requires durationSec, sampleRate and channels", ErrInvalidEvent)
		}
	case EventState:
		if e.Playing == nil {
			return fmt.Errorf("%w: state requires playing", ErrInvalidEvent)
		}
	case EventPosition:
		if e.EditedSec == nil || e.OriginalSec == nil {
			return fmt.Errorf("%w: position requires editedSec and originalSec", ErrInvalidEvent)
		}
	case EventEDLApplied:
		if e.Revision == nil {
			return fmt.Errorf("%w: edlApplied requires revision", ErrInvalidEvent)
		}
	case EventEnded:
	case EventError:
		if e.Message == "" {
			return fmt.Errorf("%w: error requires message", ErrInvalidEvent)
		}
	case EventBackendStatus:
		return fmt.Errorf("%w: backendStatus is host-local", ErrInvalidEvent)
	case "":
		return fmt.Errorf("%w: missing type", ErrInvalidEvent)
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, e.Type)
	}
	return nil
}

// DecodeEvent parses and validates one wire event line.
func DecodeEvent(line []byte) (Event, error) {
	var evt Event
	if err := json.Unmarshal(line, &evt); err != nil {
		return Event{}, fmt.Errorf("unmarshal event: %w", err)
	}
	if err := evt.Validate(); err != nil {
		return Event{}, err
	}
	return evt, nil
}

// EncodeEvent serializes e as one newline-terminated JSON line.
func EncodeEvent(e Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", e.Type, err)
	}
	return append(data, '\n'), nil
}

// ProtocolError builds the local error event emitted for an unparseable line.
func ProtocolError(line string, err error) Event {
	return Event{
		Type:        EventError,
		Message:     err.Error(),
		Code:        CodeProtocol,
		Raw:         line,
		Synthesized: true,
	}
}

// StderrLine wraps one line of backend stderr as a local event.
func StderrLine(line string) Event {
	return Event{
		Type:        EventError,
		Message:     line,
		Code:        CodeStderr,
		Synthesized: true,
	}
}

var errLineTooLong = errors.New("line exceeds maximum length")
