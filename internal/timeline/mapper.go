package timeline

import (
	"fmt"
	"math"

	"golang.org/x/text/unicode/norm"

	"cutline/internal/protocol"
)

// boundaryTolerance absorbs float noise when checking segment contiguity.
const boundaryTolerance = 1e-3

type placedSegment struct {
	index     int // into Clip.Segments; -1 for a synthesized gap spacer
	kind      protocol.SegmentType
	text      string
	relStart  float64
	relEnd    float64
	origStart float64
	origEnd   float64
}

type placedClip struct {
	clip     Clip
	start    float64
	end      float64
	segments []placedSegment
}

// Location is a point in the original time domain.
type Location struct {
	OriginalTime float64
	ClipID       string
}

// Mapper converts between original and edited time for one timeline version.
type Mapper struct {
	clips     []placedClip
	byID      map[string]int
	reordered bool
	duration  float64
	lookup    LookupTable
}

// NewMapper validates the active clips and lays them end to end in order.
// Deleted and placeholder clips are skipped.
func NewMapper(clips []Clip) (*Mapper, error) {
	m := &Mapper{byID: make(map[string]int)}
	cursor := 0.0
	prevOriginal := math.Inf(-1)
	for _, c := range clips {
		if err := validateClip(c); err != nil {
			return nil, err
		}
		if !c.Active() {
			continue
		}
		if _, dup := m.byID[c.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate clip id %q", ErrInvalidTimeline, c.ID)
		}
		segments, err := placeSegments(c)
		if err != nil {
			return nil, err
		}
		if c.OriginalStart < prevOriginal {
			m.reordered = true
		}
		prevOriginal = c.OriginalStart

		p := placedClip{clip: c.clone(), start: cursor, end: cursor + c.Duration(), segments: segments}
		m.byID[c.ID] = len(m.clips)
		m.clips = append(m.clips, p)
		cursor = p.end
	}
	m.duration = cursor
	m.lookup = buildLookup(m.clips, cursor)
	return m, nil
}

// placeSegments converts a clip's segments to clip-relative bounds that start
// at 0 and cover the clip without gaps. Gaps become spacers; overlaps and
// segments outside the clip are rejected.
func placeSegments(c Clip) ([]placedSegment, error) {
	duration := c.Duration()
	out := make([]placedSegment, 0, len(c.Segments)+1)
	cursor := 0.0
	gap := func(until float64) {
		if until-cursor > boundaryTolerance {
			out = append(out, placedSegment{
				index: -1, kind: protocol.SegmentSpacer,
				relStart: cursor, relEnd: until,
				origStart: c.OriginalStart + cursor, origEnd: c.OriginalStart + until,
			})
		}
	}
	for i, seg := range c.Segments {
		if seg.Kind != protocol.SegmentWord && seg.Kind != protocol.SegmentSpacer {
			return nil, fmt.Errorf("%w: clip %s segment %d has type %q", ErrInvalidTimeline, c.ID, i, seg.Kind)
		}
		start := seg.OriginalStart - c.OriginalStart
		end := seg.OriginalEnd - c.OriginalStart
		if end < start || start < -boundaryTolerance || end > duration+boundaryTolerance {
			return nil, fmt.Errorf("%w: clip %s segment %d [%g,%g) outside clip", ErrInvalidTimeline, c.ID, i, seg.OriginalStart, seg.OriginalEnd)
		}
		if start < cursor-boundaryTolerance {
			return nil, fmt.Errorf("%w: clip %s segment %d overlaps its predecessor", ErrInvalidTimeline, c.ID, i)
		}
		gap(start)
		start = math.Max(start, cursor)
		end = math.Min(math.Max(end, start), duration)
		kind := seg.Kind
		text := seg.Text
		if kind == protocol.SegmentWord && seg.Deleted {
			kind = protocol.SegmentSpacer
			text = ""
		}
		if kind == protocol.SegmentSpacer {
			text = ""
		}
		out = append(out, placedSegment{
			index: i, kind: kind, text: text,
			relStart: start, relEnd: end,
			origStart: c.OriginalStart + start, origEnd: c.OriginalStart + end,
		})
		cursor = end
	}
	gap(duration)
	if len(out) > 0 {
		out[len(out)-1].relEnd = duration
		out[len(out)-1].origEnd = c.OriginalEnd
	}
	return out, nil
}

// Duration is the total edited length.
func (m *Mapper) Duration() float64 { return m.duration }

// Reordered reports whether any active clip starts earlier in the source than
// the clip before it in edited order.
func (m *Mapper) Reordered() bool { return m.reordered }

// Len returns the number of active clips.
func (m *Mapper) Len() int { return len(m.clips) }

// ClipBounds returns the edited bounds of an active clip.
func (m *Mapper) ClipBounds(clipID string) (start, end float64, ok bool) {
	i, ok := m.byID[clipID]
	if !ok {
		return 0, 0, false
	}
	return m.clips[i].start, m.clips[i].end, true
}

// OriginalToEdited maps originalTime inside clipID to edited time. The
// offset is clamped to the clip and the result stays strictly below the
// clip's edited end, so EditedToOriginal resolves it back to the same clip.
// It reports false when the clip is not active.
func (m *Mapper) OriginalToEdited(originalTime float64, clipID string) (float64, bool) {
	i, ok := m.byID[clipID]
	if !ok {
		return 0, false
	}
	p := m.clips[i]
	offset := clamp(originalTime-p.clip.OriginalStart, 0, p.clip.Duration())
	last := math.Max(p.start, math.Nextafter(p.end, math.Inf(-1)))
	return math.Min(p.start+offset, last), true
}

// EditedToOriginal maps an edited time back to the source. Times past the
// end clamp to the last clip's end; it reports false only for an empty
// timeline.
func (m *Mapper) EditedToOriginal(editedTime float64) (Location, bool) {
	if len(m.clips) == 0 {
		return Location{}, false
	}
	if editedTime < 0 {
		editedTime = 0
	}
	for _, p := range m.clips {
		if editedTime < p.end {
			offset := clamp(editedTime-p.start, 0, p.clip.Duration())
			return Location{OriginalTime: p.clip.OriginalStart + offset, ClipID: p.clip.ID}, true
		}
	}
	last := m.clips[len(m.clips)-1]
	return Location{OriginalTime: last.clip.OriginalEnd, ClipID: last.clip.ID}, true
}

// ResolveOriginalSeek converts a raw source-time click (e.g. on the
// waveform) to edited time. With reordering present the containing clip is
// looked up directly by its source range; otherwise clips are walked in order
// and source gaps snap forward to the next clip.
func (m *Mapper) ResolveOriginalSeek(originalTime float64) (float64, bool) {
	if len(m.clips) == 0 {
		return 0, false
	}
	if m.reordered {
		best, bestDist := -1, math.Inf(1)
		for i, p := range m.clips {
			if originalTime >= p.clip.OriginalStart && originalTime < p.clip.OriginalEnd {
				best = i
				break
			}
			dist := math.Min(math.Abs(originalTime-p.clip.OriginalStart), math.Abs(originalTime-p.clip.OriginalEnd))
			if dist < bestDist {
				best, bestDist = i, dist
			}
		}
		p := m.clips[best]
		return p.start + clamp(originalTime-p.clip.OriginalStart, 0, p.clip.Duration()), true
	}
	for _, p := range m.clips {
		if originalTime < p.clip.OriginalEnd {
			return p.start + clamp(originalTime-p.clip.OriginalStart, 0, p.clip.Duration()), true
		}
	}
	return m.duration, true
}

// WordTime returns the edited start of the n-th word (deleted words included
// in the count) of clipID.
func (m *Mapper) WordTime(clipID string, wordIndex int) (float64, bool) {
	i, ok := m.byID[clipID]
	if !ok {
		return 0, false
	}
	p := m.clips[i]
	segIndex, ok := p.clip.wordSegment(wordIndex)
	if !ok {
		return 0, false
	}
	for _, seg := range p.segments {
		if seg.index == segIndex {
			return p.start + seg.relStart, true
		}
	}
	return 0, false
}

// Lookup returns the segment playing at editedTime.
func (m *Mapper) Lookup(editedTime float64) (Entry, bool) {
	return m.lookup.Find(editedTime)
}

// LookupTable exposes the segment table for this version.
func (m *Mapper) LookupTable() LookupTable { return m.lookup }

// EDL returns the wire representation of the active clips.
func (m *Mapper) EDL() []protocol.EDLClip {
	out := make([]protocol.EDLClip, 0, len(m.clips))
	for order, p := range m.clips {
		clip := protocol.EDLClip{
			ID:               p.clip.ID,
			StartSec:         p.start,
			EndSec:           p.end,
			Order:            order,
			OriginalStartSec: protocol.Float64Ptr(p.clip.OriginalStart),
			OriginalEndSec:   protocol.Float64Ptr(p.clip.OriginalEnd),
			Segments:         make([]protocol.EDLSegment, 0, len(p.segments)),
		}
		for _, seg := range p.segments {
			clip.Segments = append(clip.Segments, protocol.EDLSegment{
				Type:             seg.kind,
				StartSec:         seg.relStart,
				EndSec:           seg.relEnd,
				Text:             seg.text,
				OriginalStartSec: protocol.Float64Ptr(seg.origStart),
				OriginalEndSec:   protocol.Float64Ptr(seg.origEnd),
			})
		}
		out = append(out, clip)
	}
	return out
}

func buildLookup(clips []placedClip, end float64) LookupTable {
	table := LookupTable{end: end}
	for _, p := range clips {
		for _, seg := range p.segments {
			if seg.relEnd-seg.relStart <= 0 {
				continue
			}
			table.bounds = append(table.bounds, p.start+seg.relStart)
			table.entries = append(table.entries, Entry{
				ClipID:       p.clip.ID,
				SegmentIndex: seg.index,
				Kind:         seg.kind,
				Text:         norm.NFC.String(seg.text),
				Start:        p.start + seg.relStart,
				End:          p.start + seg.relEnd,
			})
		}
	}
	return table
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
