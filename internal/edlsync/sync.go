// Package edlsync tracks which EDL revision the backend has applied and holds
// seeks while a new revision is in flight.
package edlsync

import (
	"time"

	"cutline/internal/seek"
)

// DefaultApplyTimeout bounds how long seeks are held waiting for edlApplied.
const DefaultApplyTimeout = 2 * time.Second

// Ack describes how an edlApplied event was absorbed.
type Ack struct {
	// Expected is false when the revision differs from the last one sent.
	Expected bool
	// Applied is the revision trusted after this ack.
	Applied uint64
	// Unblocked reports whether the ack ended an applying phase.
	Unblocked bool
}

// Synchronizer is the revision state of one session. All methods are pure
// state transitions; timers live with the caller. It is not safe for
// concurrent use.
type Synchronizer struct {
	revision   uint64
	applied    uint64
	applying   bool
	generation uint64
	since      time.Time
	held       *seek.Target
}

// Begin mints the next revision for gen and enters the applying state.
func (s *Synchronizer) Begin(gen uint64, now time.Time) uint64 {
	s.revision++
	s.applying = true
	s.generation = gen
	s.since = now
	return s.revision
}

// Ack absorbs an edlApplied for rev. Any ack unblocks; the trusted revision
// only moves forward.
func (s *Synchronizer) Ack(rev uint64) Ack {
	if rev > s.applied {
		s.applied = rev
	}
	wasApplying := s.applying
	s.applying = false
	return Ack{Expected: rev == s.revision, Applied: s.applied, Unblocked: wasApplying}
}

// Expire force-unblocks when rev is still the revision being applied. It
// reports whether anything changed; a timer for a superseded revision is a
// no-op.
func (s *Synchronizer) Expire(rev uint64) bool {
	if !s.applying || rev != s.revision {
		return false
	}
	s.applying = false
	return true
}

// Reset leaves the applying state and drops a held seek, for example after
// the backend restarted or a new load began. Revisions keep counting.
func (s *Synchronizer) Reset() {
	s.applying = false
	s.held = nil
}

// Applying reports whether an EDL send is unacknowledged.
func (s *Synchronizer) Applying() bool { return s.applying }

// ApplyingFor reports whether gen has an unacknowledged EDL send.
func (s *Synchronizer) ApplyingFor(gen uint64) bool { return s.applying && s.generation == gen }

// CanSeek reports whether a seek may be written now.
func (s *Synchronizer) CanSeek() bool { return !s.applying }

// Revision returns the last minted revision.
func (s *Synchronizer) Revision() uint64 { return s.revision }

// Applied returns the highest acknowledged revision.
func (s *Synchronizer) Applied() uint64 { return s.applied }

// Since returns when the current applying phase began.
func (s *Synchronizer) Since() time.Time { return s.since }

// HoldSeek stores t as the seek to replay once unblocked, replacing any
// earlier one. It reports whether a held seek was replaced.
func (s *Synchronizer) HoldSeek(t seek.Target) bool {
	replaced := s.held != nil
	s.held = &t
	return replaced
}

// TakeHeldSeek removes and returns the held seek.
func (s *Synchronizer) TakeHeldSeek() (seek.Target, bool) {
	if s.held == nil {
		return seek.Target{}, false
	}
	t := *s.held
	s.held = nil
	return t, true
}

// TrustPosition reports whether a position event tagged with rev may be
// shown. Untagged positions are trusted; tagged ones must not predate the
// applied revision.
func (s *Synchronizer) TrustPosition(rev *uint64) bool {
	return rev == nil || *rev >= s.applied
}
