package timeline

import (
	"sort"

	"cutline/internal/protocol"
)

// Entry describes one segment for UI highlighting. SegmentIndex is -1 for a
// spacer synthesized to fill a gap between transcript segments.
type Entry struct {
	ClipID       string
	SegmentIndex int
	Kind         protocol.SegmentType
	Text         string
	Start        float64
	End          float64
}

// LookupTable answers "which segment is at edited time T" in O(log n).
// bounds holds each entry's absolute edited start in ascending order.
type LookupTable struct {
	bounds  []float64
	entries []Entry
	end     float64
}

// Find returns the entry containing t.
func (l LookupTable) Find(t float64) (Entry, bool) {
	if len(l.bounds) == 0 || t < 0 || t >= l.end {
		return Entry{}, false
	}
	i := sort.Search(len(l.bounds), func(i int) bool { return l.bounds[i] > t }) - 1
	if i < 0 {
		return Entry{}, false
	}
	return l.entries[i], true
}

// Len returns the number of entries.
func (l LookupTable) Len() int { return len(l.entries) }

// Entries returns a copy of the table in edited order.
func (l LookupTable) Entries() []Entry {
	return append([]Entry(nil), l.entries...)
}
