package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// SegmentType distinguishes words from silent spacers.
type SegmentType string

const (
	SegmentWord   SegmentType = "word"
	SegmentSpacer SegmentType = "spacer"
)

// EDLSegment is one word or spacer inside a clip. Start and end are relative
// to the clip's edited start.
type EDLSegment struct {
	Type             SegmentType `json:"type"`
	StartSec         float64     `json:"startSec"`
	EndSec           float64     `json:"endSec"`
	Text             string      `json:"text,omitempty"`
	OriginalStartSec *float64    `json:"originalStartSec,omitempty"`
	OriginalEndSec   *float64    `json:"originalEndSec,omitempty"`
}

// EDLClip is the wire form of one clip in the edit decision list.
type EDLClip struct {
	ID               string       `json:"id"`
	StartSec         float64      `json:"startSec"`
	EndSec           float64      `json:"endSec"`
	Order            int          `json:"order"`
	OriginalStartSec *float64     `json:"originalStartSec,omitempty"`
	OriginalEndSec   *float64     `json:"originalEndSec,omitempty"`
	Segments         []EDLSegment `json:"segments"`
}

// EDLPayload is the body written to disk for updateEdlFromFile.
type EDLPayload struct {
	Revision uint64    `json:"revision"`
	Clips    []EDLClip `json:"clips"`
}

var errBadClip = errors.New("malformed clip")

// Validate checks the clip's own shape. Cross-clip contiguity is the
// timeline's responsibility.
func (c EDLClip) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("%w: missing id", errBadClip)
	}
	if !validSpan(c.StartSec, c.EndSec) {
		return fmt.Errorf("%w: %s has invalid span [%g,%g)", errBadClip, c.ID, c.StartSec, c.EndSec)
	}
	for i, seg := range c.Segments {
		if seg.Type != SegmentWord && seg.Type != SegmentSpacer {
			return fmt.Errorf("%w: %s segment %d has type %q", errBadClip, c.ID, i, seg.Type)
		}
		if !validSpan(seg.StartSec, seg.EndSec) {
			return fmt.Errorf("%w: %s segment %d has invalid span", errBadClip, c.ID, i)
		}
	}
	return nil
}

func validSpan(start, end float64) bool {
	if math.IsNaN(start) || math.IsNaN(end) || math.IsInf(start, 0) || math.IsInf(end, 0) {
		return false
	}
	return start >= 0 && end >= start
}

// MarshalEDLPayload encodes the spooled EDL body.
func MarshalEDLPayload(revision uint64, clips []EDLClip) ([]byte, error) {
	if clips == nil {
		clips = []EDLClip{}
	}
	data, err := json.Marshal(EDLPayload{Revision: revision, Clips: clips})
	if err != nil {
		return nil, fmt.Errorf("marshal edl payload: %w", err)
	}
	return data, nil
}

// UnmarshalEDLPayload decodes a spooled EDL body.
func UnmarshalEDLPayload(data []byte) (EDLPayload, error) {
	var payload EDLPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return EDLPayload{}, fmt.Errorf("unmarshal edl payload: %w", err)
	}
	for i, clip := range payload.Clips {
		if err := clip.Validate(); err != nil {
			return EDLPayload{}, fmt.Errorf("clip %d: %w", i, err)
		}
	}
	return payload, nil
}
