package timeline

import (
	"errors"
	"fmt"

	"cutline/internal/protocol"
)

// ErrInvalidTimeline marks an internally inconsistent clip set.
var ErrInvalidTimeline = errors.New("invalid timeline")

// ErrNotFound is returned when an edit references a missing clip or word.
var ErrNotFound = errors.New("not found")

// Segment is a word or spacer inside a clip, in original-file time.
type Segment struct {
	Kind          protocol.SegmentType `json:"type"`
	Text          string               `json:"text,omitempty"`
	OriginalStart float64              `json:"originalStart"`
	OriginalEnd   float64              `json:"originalEnd"`
	Deleted       bool                 `json:"deleted,omitempty"`
}

// Clip is a contiguous span of source audio with its segments.
type Clip struct {
	ID            string    `json:"id"`
	Speaker       string    `json:"speaker,omitempty"`
	OriginalStart float64   `json:"originalStart"`
	OriginalEnd   float64   `json:"originalEnd"`
	Segments      []Segment `json:"segments"`
	Deleted       bool      `json:"deleted,omitempty"`
	Placeholder   bool      `json:"placeholder,omitempty"`
}

// Duration is the clip's playable length. Deleted words do not shorten it.
func (c Clip) Duration() float64 {
	return c.OriginalEnd - c.OriginalStart
}

// Active reports whether the clip contributes to playback.
func (c Clip) Active() bool {
	return !c.Deleted && !c.Placeholder && c.Duration() > 0
}

func (c Clip) clone() Clip {
	out := c
	out.Segments = append([]Segment(nil), c.Segments...)
	return out
}

// wordSegment returns the index into Segments of the n-th word.
func (c Clip) wordSegment(n int) (int, bool) {
	if n < 0 {
		return 0, false
	}
	seen := 0
	for i, seg := range c.Segments {
		if seg.Kind != protocol.SegmentWord {
			continue
		}
		if seen == n {
			return i, true
		}
		seen++
	}
	return 0, false
}

func cloneClips(clips []Clip) []Clip {
	out := make([]Clip, len(clips))
	for i, c := range clips {
		out[i] = c.clone()
	}
	return out
}

func validateClip(c Clip) error {
	if c.ID == "" {
		return fmt.Errorf("%w: clip without id", ErrInvalidTimeline)
	}
	if c.OriginalEnd < c.OriginalStart || c.OriginalStart < 0 {
		return fmt.Errorf("%w: clip %s has original span [%g,%g)", ErrInvalidTimeline, c.ID, c.OriginalStart, c.OriginalEnd)
	}
	return nil
}
