// Package generation mints load generations and decides whether commands and
// events belong to the current one.
package generation

import (
	"errors"
	"fmt"
	"path/filepath"
)

// ErrStaleGeneration rejects a command issued for a superseded generation.
var ErrStaleGeneration = errors.New("stale generation")

// Load is one load request.
type Load struct {
	Generation uint64
	Path       string
	// Key is the resolved path used for deduplication.
	Key string
}

// Begin describes the outcome of BeginLoad.
type Begin struct {
	Load Load
	// Deduped is set when a load for the same file was already in flight;
	// Load is then that in-flight load and no generation was minted.
	Deduped bool
	// Superseded is the in-flight load replaced by this one, if any.
	Superseded *Load
}

// Verdict is the gating decision for an incoming event.
type Verdict int

const (
	Accept Verdict = iota
	DropStale
	DropUntagged
)

func (v Verdict) String() string {
	switch v {
	case Accept:
		return "accept"
	case DropStale:
		return "stale_generation"
	case DropUntagged:
		return "untagged"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Tracker holds generation bookkeeping for one session. It is not safe for
// concurrent use.
type Tracker struct {
	current  uint64
	loaded   uint64
	inflight *Load
}

// Current returns the newest minted generation.
func (t *Tracker) Current() uint64 { return t.current }

// Loaded returns the generation of the last loaded event, or 0.
func (t *Tracker) Loaded() uint64 { return t.loaded }

// InFlight returns the pending load, if any.
func (t *Tracker) InFlight() (Load, bool) {
	if t.inflight == nil {
		return Load{}, false
	}
	return *t.inflight, true
}

// BeginLoad starts a load for path, deduplicating against an in-flight load
// of the same file.
func (t *Tracker) BeginLoad(path string) Begin {
	key := ResolvePath(path)
	if t.inflight != nil && t.inflight.Key == key {
		return Begin{Load: *t.inflight, Deduped: true}
	}
	var superseded *Load
	if t.inflight != nil {
		prev := *t.inflight
		superseded = &prev
	}
	t.current++
	load := Load{Generation: t.current, Path: path, Key: key}
	t.inflight = &load
	return Begin{Load: load, Superseded: superseded}
}

// Finish clears the in-flight marker when gen is still the pending load.
func (t *Tracker) Finish(gen uint64) {
	if t.inflight != nil && t.inflight.Generation == gen {
		t.inflight = nil
	}
}

// MarkLoaded records a loaded event. Loaded events for anything but the
// current generation are ignored and reported false.
func (t *Tracker) MarkLoaded(gen uint64) bool {
	if gen != t.current {
		return false
	}
	t.loaded = gen
	t.Finish(gen)
	return true
}

// Check gates an incoming event by its optional generation tag.
func (t *Tracker) Check(gen *uint64) Verdict {
	if gen == nil {
		if t.current == 0 {
			return Accept
		}
		return DropUntagged
	}
	if *gen != t.current {
		return DropStale
	}
	return Accept
}

// CheckCommand rejects commands for generations older than the current or
// the loaded generation.
func (t *Tracker) CheckCommand(gen uint64) error {
	if gen < t.loaded || gen != t.current {
		return fmt.Errorf("%w: command for generation %d, current %d loaded %d", ErrStaleGeneration, gen, t.current, t.loaded)
	}
	return nil
}

// ResolvePath returns an absolute, symlink-free form of path when possible.
// Resolution is best effort: a file that does not exist yet keeps its
// cleaned absolute path.
func ResolvePath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}
