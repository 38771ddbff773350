package edlsync

import (
	"fmt"

	"cutline/internal/protocol"
)

// DefaultInlineLimit is the largest payload sent inline with updateEdl.
const DefaultInlineLimit = 8 * 1024

// Mode is how an EDL reached the backend.
type Mode string

const (
	ModeInline Mode = "inline"
	ModeFile   Mode = "file"
)

// Spooler persists payloads too large to send inline.
type Spooler interface {
	Write(revision uint64, payload []byte) (string, error)
}

// Outgoing is an encoded EDL send.
type Outgoing struct {
	Command  protocol.Command
	Mode     Mode
	Revision uint64
	// Path is the spool file for ModeFile.
	Path string
	Size int
}

// Encode builds the command that delivers clips as revision rev of
// generation gen. Payloads above limit bytes go through sp.
func Encode(id string, gen, rev uint64, clips []protocol.EDLClip, limit int, sp Spooler) (Outgoing, error) {
	if limit <= 0 {
		limit = DefaultInlineLimit
	}
	for i, clip := range clips {
		if err := clip.Validate(); err != nil {
			return Outgoing{}, fmt.Errorf("edl clip %d: %w", i, err)
		}
	}
	payload, err := protocol.MarshalEDLPayload(rev, clips)
	if err != nil {
		return Outgoing{}, err
	}
	if len(payload) <= limit {
		return Outgoing{
			Command:  protocol.UpdateEDL(id, rev, clips).WithGeneration(gen),
			Mode:     ModeInline,
			Revision: rev,
			Size:     len(payload),
		}, nil
	}
	if sp == nil {
		return Outgoing{}, fmt.Errorf("edl payload of %d bytes exceeds inline limit %d and no spool is configured", len(payload), limit)
	}
	path, err := sp.Write(rev, payload)
	if err != nil {
		return Outgoing{}, fmt.Errorf("spool edl revision %d: %w", rev, err)
	}
	return Outgoing{
		Command:  protocol.UpdateEDLFromFile(id, rev, path).WithGeneration(gen),
		Mode:     ModeFile,
		Revision: rev,
		Path:     path,
		Size:     len(payload),
	}, nil
}
