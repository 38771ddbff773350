package timeline

import (
	"errors"
	"math"
	"testing"

	"cutline/internal/protocol"
)

func word(text string, start, end float64) Segment {
	return Segment{Kind: protocol.SegmentWord, Text: text, OriginalStart: start, OriginalEnd: end}
}

func spacer(start, end float64) Segment {
	return Segment{Kind: protocol.SegmentSpacer, OriginalStart: start, OriginalEnd: end}
}

func twoClips() []Clip {
	return []Clip{
		{ID: "A", OriginalStart: 0, OriginalEnd: 2, Segments: []Segment{word("hello", 0, 0.8), spacer(0.8, 1.0), word("there", 1.0, 2.0)}},
		{ID: "B", OriginalStart: 2, OriginalEnd: 5, Segments: []Segment{word("general", 2.0, 3.0), word("kenobi", 3.5, 5.0)}},
	}
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestMapperLaysClipsEndToEnd(t *testing.T) {
	m, err := NewMapper(twoClips())
	if err != nil {
		t.Fatalf("NewMapper: %v", err)
	}
	if !approx(m.Duration(), 5) {
		t.Fatalf("duration = %v, want 5", m.Duration())
	}
	if m.Reordered() {
		t.Fatal("expected natural order")
	}
	if start, end, ok := m.ClipBounds("B"); !ok || !approx(start, 2) || !approx(end, 5) {
		t.Fatalf("B bounds = %v,%v,%v", start, end, ok)
	}
}

func TestReorderedWordTime(t *testing.T) {
	tl := New(twoClips())
	if err := tl.Reorder(1, 0); err != nil {
		t.Fatalf("Reorder: %v", err)
	}
	m, err := tl.Mapper()
	if err != nil {
		t.Fatalf("Mapper: %v", err)
	}
	if !m.Reordered() {
		t.Fatal("expected reordered")
	}
	got, ok := m.WordTime("B", 0)
	if !ok || !approx(got, 0) {
		t.Fatalf("WordTime(B,0) = %v,%v want 0", got, ok)
	}
	got, ok = m.WordTime("A", 1)
	if !ok || !approx(got, 4) {
		t.Fatalf("WordTime(A,1) = %v,%v want 4", got, ok)
	}
	if _, ok := m.WordTime("A", 2); ok {
		t.Fatal("expected missing word")
	}
}

func TestOriginalEditedRoundTrip(t *testing.T) {
	tl := New(twoClips())
	if err := tl.Reorder(1, 0); err != nil {
		t.Fatal(err)
	}
	m, err := tl.Mapper()
	if err != nil {
		t.Fatal(err)
	}
	cases := []struct {
		clip     string
		original float64
	}{
		{"A", 0}, {"A", 1.25}, {"A", 1.999}, {"B", 2}, {"B", 3.3}, {"B", 4.9},
	}
	for _, tc := range cases {
		edited, ok := m.OriginalToEdited(tc.original, tc.clip)
		if !ok {
			t.Fatalf("OriginalToEdited(%v,%s) not found", tc.original, tc.clip)
		}
		loc, ok := m.EditedToOriginal(edited)
		if !ok || loc.ClipID != tc.clip || !approx(loc.OriginalTime, tc.original) {
			t.Fatalf("round trip %s@%v -> %v -> %+v", tc.clip, tc.original, edited, loc)
		}
	}
}

func TestRoundTripNearClipEnds(t *testing.T) {
	clips := []Clip{
		{ID: "B", OriginalStart: 2.7, OriginalEnd: 5.3},
		{ID: "A", OriginalStart: 0.1, OriginalEnd: 2.7},
		{ID: "C", OriginalStart: 5.3, OriginalEnd: 7.9},
	}
	m, err := NewMapper(clips)
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range clips {
		start, end, _ := m.ClipBounds(c.ID)
		original := c.OriginalEnd
		for i := 0; i < 64; i++ {
			original = math.Nextafter(original, math.Inf(-1))
			edited, ok := m.OriginalToEdited(original, c.ID)
			if !ok {
				t.Fatalf("OriginalToEdited(%v,%s) not found", original, c.ID)
			}
			if edited < start || edited >= end {
				t.Fatalf("%s@%v -> %v outside [%v,%v)", c.ID, original, edited, start, end)
			}
			loc, ok := m.EditedToOriginal(edited)
			if !ok || loc.ClipID != c.ID || math.Abs(loc.OriginalTime-original) > 1e-9 {
				t.Fatalf("round trip %s@%v -> %v -> %+v", c.ID, original, edited, loc)
			}
		}
		edited, _ := m.OriginalToEdited(c.OriginalEnd, c.ID)
		if loc, _ := m.EditedToOriginal(edited); loc.ClipID != c.ID {
			t.Fatalf("clip end %s@%v resolved to %s", c.ID, c.OriginalEnd, loc.ClipID)
		}
	}
}

func TestEditedToOriginalClamps(t *testing.T) {
	m, err := NewMapper(twoClips())
	if err != nil {
		t.Fatal(err)
	}
	loc, ok := m.EditedToOriginal(99)
	if !ok || loc.ClipID != "B" || !approx(loc.OriginalTime, 5) {
		t.Fatalf("past end = %+v", loc)
	}
	loc, _ = m.EditedToOriginal(-1)
	if loc.ClipID != "A" || loc.OriginalTime != 0 {
		t.Fatalf("before start = %+v", loc)
	}
	edited, _ := m.OriginalToEdited(10, "A")
	if !approx(edited, 2) {
		t.Fatalf("clamped offset = %v, want 2", edited)
	}
	empty, _ := NewMapper(nil)
	if _, ok := empty.EditedToOriginal(0); ok {
		t.Fatal("empty mapper should not resolve")
	}
}

func TestDeletedClipsAreSkipped(t *testing.T) {
	tl := New(twoClips())
	if err := tl.DeleteClip("A"); err != nil {
		t.Fatal(err)
	}
	m, err := tl.Mapper()
	if err != nil {
		t.Fatal(err)
	}
	if m.Len() != 1 || !approx(m.Duration(), 3) {
		t.Fatalf("len=%d duration=%v", m.Len(), m.Duration())
	}
	if _, ok := m.OriginalToEdited(1, "A"); ok {
		t.Fatal("deleted clip should not map")
	}
	if err := tl.RestoreClip("A"); err != nil {
		t.Fatal(err)
	}
	m, _ = tl.Mapper()
	if m.Len() != 2 {
		t.Fatalf("restore: len=%d", m.Len())
	}
}

func TestDeletedWordBecomesSpacer(t *testing.T) {
	tl := New(twoClips())
	if err := tl.DeleteWord("A", 1); err != nil {
		t.Fatal(err)
	}
	m, err := tl.Mapper()
	if err != nil {
		t.Fatal(err)
	}
	if !approx(m.Duration(), 5) {
		t.Fatalf("word deletion changed duration: %v", m.Duration())
	}
	entry, ok := m.Lookup(1.5)
	if !ok || entry.Kind != protocol.SegmentSpacer || entry.Text != "" {
		t.Fatalf("lookup = %+v", entry)
	}
	if err := tl.DeleteWord("A", 7); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGapsAreFilledWithSpacers(t *testing.T) {
	m, err := NewMapper(twoClips())
	if err != nil {
		t.Fatal(err)
	}
	entry, ok := m.Lookup(3.2)
	if !ok || entry.SegmentIndex != -1 || entry.Kind != protocol.SegmentSpacer {
		t.Fatalf("gap lookup = %+v", entry)
	}
	edl := m.EDL()
	b := edl[1]
	if len(b.Segments) != 3 {
		t.Fatalf("B segments = %d, want 3", len(b.Segments))
	}
	if !approx(b.Segments[0].StartSec, 0) || !approx(b.Segments[2].EndSec, 3) {
		t.Fatalf("B segments not clip relative: %+v", b.Segments)
	}
}

func TestInvalidTimelines(t *testing.T) {
	tests := []struct {
		name  string
		clips []Clip
	}{
		{"missing id", []Clip{{OriginalStart: 0, OriginalEnd: 1}}},
		{"inverted", []Clip{{ID: "x", OriginalStart: 2, OriginalEnd: 1}}},
		{"duplicate", []Clip{{ID: "x", OriginalEnd: 1}, {ID: "x", OriginalStart: 1, OriginalEnd: 2}}},
		{"overlap", []Clip{{ID: "x", OriginalEnd: 2, Segments: []Segment{word("a", 0, 1.5), word("b", 1.0, 2)}}}},
		{"outside", []Clip{{ID: "x", OriginalEnd: 2, Segments: []Segment{word("a", 0, 3)}}}},
		{"bad kind", []Clip{{ID: "x", OriginalEnd: 2, Segments: []Segment{{Kind: "noise", OriginalEnd: 1}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewMapper(tt.clips); !errors.Is(err, ErrInvalidTimeline) {
				t.Fatalf("expected ErrInvalidTimeline, got %v", err)
			}
		})
	}
}

func TestResolveOriginalSeek(t *testing.T) {
	clips := []Clip{
		{ID: "A", OriginalStart: 0, OriginalEnd: 2},
		{ID: "B", OriginalStart: 4, OriginalEnd: 6},
	}
	m, err := NewMapper(clips)
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := m.ResolveOriginalSeek(3); !approx(got, 2) {
		t.Fatalf("gap snaps forward: got %v want 2", got)
	}
	if got, _ := m.ResolveOriginalSeek(5); !approx(got, 3) {
		t.Fatalf("inside B: got %v want 3", got)
	}
	if got, _ := m.ResolveOriginalSeek(9); !approx(got, 4) {
		t.Fatalf("past end: got %v want 4", got)
	}

	tl := New(clips)
	_ = tl.Reorder(1, 0)
	m, _ = tl.Mapper()
	if got, _ := m.ResolveOriginalSeek(1); !approx(got, 3) {
		t.Fatalf("reordered A: got %v want 3", got)
	}
	if got, _ := m.ResolveOriginalSeek(3.5); !approx(got, 0) {
		t.Fatalf("reordered nearest B: got %v want 0", got)
	}
}

func TestLookupTableIsIdempotent(t *testing.T) {
	tl := New(twoClips())
	first, err := tl.Mapper()
	if err != nil {
		t.Fatal(err)
	}
	second, _ := tl.Mapper()
	a, b := first.LookupTable().Entries(), second.LookupTable().Entries()
	if len(a) != len(b) {
		t.Fatalf("entry counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("entry %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
	if _, ok := first.Lookup(5); ok {
		t.Fatal("lookup at end should miss")
	}
	if e, ok := first.Lookup(0); !ok || e.Text != "hello" {
		t.Fatalf("lookup(0) = %+v", e)
	}
}

func TestSplitAndMerge(t *testing.T) {
	tl := New(twoClips())
	tailID, err := tl.Split("B", 1)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	clips := tl.Clips()
	if len(clips) != 3 || clips[2].ID != tailID || !approx(clips[1].OriginalEnd, 3.5) {
		t.Fatalf("after split: %+v", clips)
	}
	m, err := tl.Mapper()
	if err != nil {
		t.Fatal(err)
	}
	if !approx(m.Duration(), 5) {
		t.Fatalf("split changed duration: %v", m.Duration())
	}
	if err := tl.Merge("A", tailID); err == nil {
		t.Fatal("expected adjacency error")
	}
	if err := tl.Merge("B", tailID); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	clips = tl.Clips()
	if len(clips) != 2 || !approx(clips[1].OriginalEnd, 5) || len(clips[1].Segments) != 2 {
		t.Fatalf("after merge: %+v", clips)
	}
	if _, err := tl.Split("B", 0); err == nil {
		t.Fatal("expected split bounds error")
	}
}

func TestMergeRejectsMixedDeletedState(t *testing.T) {
	tl := New(twoClips())
	if err := tl.DeleteClip("B"); err != nil {
		t.Fatal(err)
	}
	if err := tl.Merge("A", "B"); err == nil {
		t.Fatal("expected merge of live and deleted clips to fail")
	}
	m, err := tl.Mapper()
	if err != nil {
		t.Fatal(err)
	}
	if m.Len() != 1 || !approx(m.Duration(), 2) {
		t.Fatalf("len=%d duration=%v, want 1 clip of 2s", m.Len(), m.Duration())
	}

	clips := twoClips()
	clips[1].Placeholder = true
	tl = New(clips)
	if err := tl.Merge("A", "B"); err == nil {
		t.Fatal("expected merge with placeholder to fail")
	}

	tl = New(twoClips())
	for _, id := range []string{"A", "B"} {
		if err := tl.DeleteClip(id); err != nil {
			t.Fatal(err)
		}
	}
	if err := tl.Merge("A", "B"); err != nil {
		t.Fatalf("merging two deleted clips: %v", err)
	}
	if merged := tl.Clips(); len(merged) != 1 || !merged[0].Deleted {
		t.Fatalf("after merge: %+v", merged)
	}
}

func TestReorderBounds(t *testing.T) {
	tl := New(twoClips())
	if err := tl.Reorder(0, 2); err == nil {
		t.Fatal("expected range error")
	}
	if err := tl.Reorder(0, 0); err != nil {
		t.Fatal(err)
	}
}
