package timeline

import (
	"fmt"
	"math"
)

// Timeline is the mutable, ordered clip list edited by the host.
// It is not safe for concurrent use.
type Timeline struct {
	clips  []Clip
	splits int
}

// New returns a timeline holding a copy of clips.
func New(clips []Clip) *Timeline {
	return &Timeline{clips: cloneClips(clips)}
}

// Clips returns a copy of the full ordered clip list, including deleted and
// placeholder clips.
func (t *Timeline) Clips() []Clip {
	return cloneClips(t.clips)
}

// Clone returns an independent copy, so an edit can be validated before it
// replaces the live version.
func (t *Timeline) Clone() *Timeline {
	return &Timeline{clips: cloneClips(t.clips), splits: t.splits}
}

// Mapper builds the projection of the current version.
func (t *Timeline) Mapper() (*Mapper, error) {
	return NewMapper(t.clips)
}

func (t *Timeline) find(id string) (int, error) {
	for i, c := range t.clips {
		if c.ID == id {
			return i, nil
		}
	}
	return -1, fmt.Errorf("clip %q: %w", id, ErrNotFound)
}

// Reorder moves the clip at index from to index to.
func (t *Timeline) Reorder(from, to int) error {
	n := len(t.clips)
	if from < 0 || from >= n || to < 0 || to >= n {
		return fmt.Errorf("reorder %d -> %d: index out of range (0..%d)", from, to, n-1)
	}
	if from == to {
		return nil
	}
	moved := t.clips[from]
	rest := append(t.clips[:from:from], t.clips[from+1:]...)
	out := make([]Clip, 0, n)
	out = append(out, rest[:to]...)
	out = append(out, moved)
	out = append(out, rest[to:]...)
	t.clips = out
	return nil
}

// DeleteClip soft-deletes a clip.
func (t *Timeline) DeleteClip(id string) error {
	return t.setClipDeleted(id, true)
}

// RestoreClip undoes DeleteClip.
func (t *Timeline) RestoreClip(id string) error {
	return t.setClipDeleted(id, false)
}

func (t *Timeline) setClipDeleted(id string, deleted bool) error {
	i, err := t.find(id)
	if err != nil {
		return err
	}
	t.clips[i].Deleted = deleted
	return nil
}

// DeleteWord marks the n-th word of a clip deleted.
func (t *Timeline) DeleteWord(clipID string, wordIndex int) error {
	return t.setWordDeleted(clipID, wordIndex, true)
}

// RestoreWord undoes DeleteWord.
func (t *Timeline) RestoreWord(clipID string, wordIndex int) error {
	return t.setWordDeleted(clipID, wordIndex, false)
}

func (t *Timeline) setWordDeleted(clipID string, wordIndex int, deleted bool) error {
	i, err := t.find(clipID)
	if err != nil {
		return err
	}
	seg, ok := t.clips[i].wordSegment(wordIndex)
	if !ok {
		return fmt.Errorf("clip %q word %d: %w", clipID, wordIndex, ErrNotFound)
	}
	t.clips[i].Segments[seg].Deleted = deleted
	return nil
}

// Split cuts a clip before segment index segIndex. The tail becomes a new
// clip placed right after the original; its id is returned.
func (t *Timeline) Split(clipID string, segIndex int) (string, error) {
	i, err := t.find(clipID)
	if err != nil {
		return "", err
	}
	head := t.clips[i]
	if segIndex <= 0 || segIndex >= len(head.Segments) {
		return "", fmt.Errorf("split %q at %d: index must fall inside the clip", clipID, segIndex)
	}
	cut := head.Segments[segIndex].OriginalStart
	if cut <= head.OriginalStart || cut >= head.OriginalEnd {
		return "", fmt.Errorf("%w: split point %g outside clip %q", ErrInvalidTimeline, cut, clipID)
	}

	tail := head.clone()
	tail.ID = t.nextSplitID(clipID)
	tail.OriginalStart = cut
	tail.Segments = append([]Segment(nil), head.Segments[segIndex:]...)

	head = head.clone()
	head.OriginalEnd = cut
	head.Segments = head.Segments[:segIndex]

	out := make([]Clip, 0, len(t.clips)+1)
	out = append(out, t.clips[:i]...)
	out = append(out, head, tail)
	out = append(out, t.clips[i+1:]...)
	t.clips = out
	return tail.ID, nil
}

func (t *Timeline) nextSplitID(base string) string {
	for {
		t.splits++
		id := fmt.Sprintf("%s.%d", base, t.splits)
		if _, err := t.find(id); err != nil {
			return id
		}
	}
}

// Merge joins second onto the end of first. The clips must be adjacent in
// edited order, contiguous in the source audio and share their deleted and
// placeholder flags.
func (t *Timeline) Merge(firstID, secondID string) error {
	i, err := t.find(firstID)
	if err != nil {
		return err
	}
	j, err := t.find(secondID)
	if err != nil {
		return err
	}
	if j != i+1 {
		return fmt.Errorf("merge %q and %q: clips are not adjacent", firstID, secondID)
	}
	first, second := t.clips[i], t.clips[j]
	if math.Abs(second.OriginalStart-first.OriginalEnd) > boundaryTolerance {
		return fmt.Errorf("merge %q and %q: source audio is not contiguous", firstID, secondID)
	}
	if first.Deleted != second.Deleted || first.Placeholder != second.Placeholder {
		return fmt.Errorf("merge %q and %q: clips differ in deleted or placeholder state", firstID, secondID)
	}
	merged := first.clone()
	merged.OriginalEnd = second.OriginalEnd
	merged.Segments = append(merged.Segments, second.Segments...)

	out := make([]Clip, 0, len(t.clips)-1)
	out = append(out, t.clips[:i]...)
	out = append(out, merged)
	out = append(out, t.clips[j+1:]...)
	t.clips = out
	return nil
}
