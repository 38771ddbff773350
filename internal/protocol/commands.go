package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// CommandType tags a host-to-backend command.
type CommandType string

const (
	CommandLoad              CommandType = "load"
	CommandUpdateEDL         CommandType = "updateEdl"
	CommandUpdateEDLFromFile CommandType = "updateEdlFromFile"
	CommandPlay              CommandType = "play"
	CommandPause             CommandType = "pause"
	CommandStop              CommandType = "stop"
	CommandSeek              CommandType = "seek"
	CommandSetRate           CommandType = "setRate"
	CommandSetTimeStretch    CommandType = "setTimeStretch"
	CommandSetVolume         CommandType = "setVolume"
	CommandQueryState        CommandType = "queryState"
)

// ErrInvalidCommand reports a command that fails the schema check.
var ErrInvalidCommand = errors.New("invalid command")

// Command is sent from the host to the backend. Clips omitted on updateEdl
// means an empty timeline.
type Command struct {
	Type         CommandType `json:"type"`
	ID           string      `json:"id"`
	GenerationID *uint64     `json:"generationId,omitempty"`
	Path         string      `json:"path,omitempty"`
	Revision     *uint64     `json:"revision,omitempty"`
	Clips        []EDLClip   `json:"clips,omitempty"`
	TimeSec      *float64    `json:"timeSec,omitempty"`
	Rate         *float64    `json:"rate,omitempty"`
	Ratio        *float64    `json:"ratio,omitempty"`
	Value        *float64    `json:"value,omitempty"`
}

// Uint64Ptr returns a pointer to v. Convenience for building messages.
func Uint64Ptr(v uint64) *uint64 { return &v }

// Float64Ptr returns a pointer to v.
func Float64Ptr(v float64) *float64 { return &v }

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }

// BoolPtr returns a pointer to v.
func BoolPtr(v bool) *bool { return &v }

// Generation returns the command's generation tag, or 0 when untagged.
func (c Command) Generation() uint64 {
	if c.GenerationID == nil {
		return 0
	}
	return *c.GenerationID
}

// WithGeneration returns a copy of c tagged with gen.
func (c Command) WithGeneration(gen uint64) Command {
	c.GenerationID = Uint64Ptr(gen)
	return c
}

// Load builds a load command.
func Load(id, path string) Command {
	return Command{Type: CommandLoad, ID: id, Path: path}
}

// UpdateEDL builds an inline EDL update.
func UpdateEDL(id string, revision uint64, clips []EDLClip) Command {
	return Command{Type: CommandUpdateEDL, ID: id, Revision: Uint64Ptr(revision), Clips: clips}
}

// UpdateEDLFromFile builds an EDL update that references a spooled payload.
func UpdateEDLFromFile(id string, revision uint64, path string) Command {
	return Command{Type: CommandUpdateEDLFromFile, ID: id, Revision: Uint64Ptr(revision), Path: path}
}

// Play builds a play command.
func Play(id string) Command { return Command{Type: CommandPlay, ID: id} }

// Pause builds a pause command.
func Pause(id string) Command { return Command{Type: CommandPause, ID: id} }

// Stop builds a stop command.
func Stop(id string) Command { return Command{Type: CommandStop, ID: id} }

// QueryState builds a queryState command.
func QueryState(id string) Command { return Command{Type: CommandQueryState, ID: id} }

// Seek builds a seek to an edited-timeline position.
func Seek(id string, timeSec float64) Command {
	return Command{Type: CommandSeek, ID: id, TimeSec: Float64Ptr(timeSec)}
}

// SetRate builds a legacy rate change (affects pitch).
func SetRate(id string, rate float64) Command {
	return Command{Type: CommandSetRate, ID: id, Rate: Float64Ptr(rate)}
}

// SetTimeStretch builds a pitch-preserving tempo change.
func SetTimeStretch(id string, ratio float64) Command {
	return Command{Type: CommandSetTimeStretch, ID: id, Ratio: Float64Ptr(ratio)}
}

// SetVolume builds a volume change.
func SetVolume(id string, value float64) Command {
	return Command{Type: CommandSetVolume, ID: id, Value: Float64Ptr(value)}
}

// Validate checks the command against its tagged-union schema.
func (c Command) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("%w: %s requires id", ErrInvalidCommand, c.Type)
	}
	switch c.Type {
	case CommandLoad:
		if strings.TrimSpace(c.Path) == "" {
			return fmt.Errorf("%w: load requires path", ErrInvalidCommand)
		}
	case CommandUpdateEDL:
		for i, clip := range c.Clips {
			if err := clip.Validate(); err != nil {
				return fmt.Errorf("%w: clip %d: %w", ErrInvalidCommand, i, err)
			}
		}
	case CommandUpdateEDLFromFile:
		if strings.TrimSpace(c.Path) == "" {
			return fmt.Errorf("%w: updateEdlFromFile requires path", ErrInvalidCommand)
		}
	case CommandPlay, CommandPause, CommandStop, CommandQueryState:
	case CommandSeek:
		if !finite(c.TimeSec) {
			return fmt.Errorf("%w: seek requires finite timeSec", ErrInvalidCommand)
		}
	case CommandSetRate:
		if !finite(c.Rate) {
			return fmt.Errorf("%w: setRate requires finite rate", ErrInvalidCommand)
		}
	case CommandSetTimeStretch:
		if !finite(c.Ratio) {
			return fmt.Errorf("%w: setTimeStretch requires finite ratio", ErrInvalidCommand)
		}
	case CommandSetVolume:
		if !finite(c.Value) {
			return fmt.Errorf("%w: setVolume requires finite value", ErrInvalidCommand)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidCommand, c.Type)
	}
	return nil
}

func finite(v *float64) bool {
	return v != nil && !math.IsNaN(*v) && !math.IsInf(*v, 0)
}

// EncodeCommand validates c and serializes it as one newline-terminated JSON line.
func EncodeCommand(c Command) ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal %s command: %w", c.Type, err)
	}
	return append(data, '\n'), nil
}

// DecodeCommand parses a single command line.
func DecodeCommand(line []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(line, &cmd); err != nil {
		return Command{}, fmt.Errorf("unmarshal command: %w", err)
	}
	if err := cmd.Validate(); err != nil {
		return Command{}, err
	}
	return cmd, nil
}
