package transport

import (
	"context"
	"strconv"

	"cutline/internal/edlsync"
	"cutline/internal/journal"
	"cutline/internal/logging"
	"cutline/internal/timeline"
)

// SetTimeline replaces the timeline. When audio is loaded the new EDL is
// sent and the call returns once it was written; otherwise it is sent after
// the next load.
func (s *Session) SetTimeline(ctx context.Context, clips []timeline.Clip) error {
	return s.await(ctx, func() <-chan error {
		return s.commit(ctx, timeline.New(clips))
	})
}

// Timeline returns a copy of the current clips.
func (s *Session) Timeline(ctx context.Context) ([]timeline.Clip, error) {
	return call(ctx, s, func() []timeline.Clip {
		if s.timeline == nil {
			return nil
		}
		return s.timeline.Clips()
	})
}

// ReorderClips moves the clip at index from to index to.
func (s *Session) ReorderClips(ctx context.Context, from, to int) error {
	return s.edit(ctx, func(t *timeline.Timeline) error { return t.Reorder(from, to) })
}

// DeleteClip removes a clip from playback.
func (s *Session) DeleteClip(ctx context.Context, clipID string) error {
	return s.edit(ctx, func(t *timeline.Timeline) error { return t.DeleteClip(clipID) })
}

// RestoreClip undoes DeleteClip.
func (s *Session) RestoreClip(ctx context.Context, clipID string) error {
	return s.edit(ctx, func(t *timeline.Timeline) error { return t.RestoreClip(clipID) })
}

// DeleteWord marks a word deleted. Playback timing is unchanged; the word is
// sent as a spacer so it is never highlighted.
func (s *Session) DeleteWord(ctx context.Context, clipID string, wordIndex int) error {
	return s.edit(ctx, func(t *timeline.Timeline) error { return t.DeleteWord(clipID, wordIndex) })
}

// RestoreWord undoes DeleteWord.
func (s *Session) RestoreWord(ctx context.Context, clipID string, wordIndex int) error {
	return s.edit(ctx, func(t *timeline.Timeline) error { return t.RestoreWord(clipID, wordIndex) })
}

// SplitClip cuts a clip before segment segIndex and returns the new clip id.
func (s *Session) SplitClip(ctx context.Context, clipID string, segIndex int) (string, error) {
	var id string
	err := s.edit(ctx, func(t *timeline.Timeline) error {
		var err error
		id, err = t.Split(clipID, segIndex)
		return err
	})
	return id, err
}

// MergeClips joins second onto first.
func (s *Session) MergeClips(ctx context.Context, firstID, secondID string) error {
	return s.edit(ctx, func(t *timeline.Timeline) error { return t.Merge(firstID, secondID) })
}

// edit applies fn to a copy of the timeline; the live version only changes
// when the result validates.
func (s *Session) edit(ctx context.Context, fn func(*timeline.Timeline) error) error {
	return s.await(ctx, func() <-chan error {
		if s.timeline == nil {
			return completed(ErrNoTimeline)
		}
		next := s.timeline.Clone()
		if err := fn(next); err != nil {
			return completed(err)
		}
		return s.commit(ctx, next)
	})
}

func (s *Session) commit(ctx context.Context, next *timeline.Timeline) <-chan error {
	m, err := next.Mapper()
	if err != nil {
		return completed(err)
	}
	s.timeline = next
	s.mapper = m
	if !s.state.ready {
		return completed(nil)
	}
	return s.sendEDL(ctx)
}

// sendEDL delivers the current mapper as a new revision and holds seeks
// until the backend acknowledges it or the apply timeout passes.
func (s *Session) sendEDL(ctx context.Context) <-chan error {
	gen := s.gen.Loaded()
	rev := s.edl.Begin(gen, s.clock.Now())
	var sp edlsync.Spooler
	if s.spool != nil {
		sp = s.spool
	}
	out, err := edlsync.Encode(s.settings.TransportID, gen, rev, s.mapper.EDL(), s.settings.EDLInlineLimit, sp)
	if err != nil {
		s.edl.Expire(rev)
		logging.ErrorWithContext(s.logger, "edl not sent", "edl_encode_failed",
			logging.Revision(rev),
			logging.String(logging.FieldImpact, "backend keeps the previous timeline"),
			logging.Error(err),
		)
		s.flushHeldSeek()
		return completed(err)
	}
	s.metrics.RecordEDLSent(string(out.Mode))
	s.logger.Debug("sending edl",
		logging.Generation(gen),
		logging.Revision(rev),
		logging.String("mode", string(out.Mode)),
		logging.Int("bytes", out.Size),
		logging.Int("clips", s.mapper.Len()),
	)
	s.armApplyTimer(rev)
	return s.dispatch(ctx, out.Command, func(err error) {
		if out.Mode == edlsync.ModeFile && s.spool != nil {
			s.spool.Release(out.Path)
		}
		if err != nil && s.edl.Expire(rev) {
			s.stopApplyTimer()
			s.flushHeldSeek()
		}
	})
}

func (s *Session) armApplyTimer(rev uint64) {
	s.stopApplyTimer()
	s.applyTimer = s.clock.AfterFunc(s.settings.EDLApplyTimeout, func() {
		s.post(func() { s.applyExpired(rev) })
	})
}

func (s *Session) stopApplyTimer() {
	if s.applyTimer != nil {
		s.applyTimer.Stop()
		s.applyTimer = nil
	}
}

// applyExpired stops waiting for an acknowledgement that never came and lets
// held seeks through.
func (s *Session) applyExpired(rev uint64) {
	if !s.edl.Expire(rev) {
		return
	}
	s.applyTimer = nil
	s.metrics.RecordEDLFallback()
	logging.WarnWithContext(s.logger, "edl apply not acknowledged", "edl_apply_timeout",
		logging.Revision(rev),
		logging.Duration("timeout", s.settings.EDLApplyTimeout),
		logging.String(logging.FieldImpact, "seeks resume against the previous timeline"),
	)
	s.record(journal.Incident{Kind: journal.KindEDLFallback, Detail: "revision " + strconv.FormatUint(rev, 10)})
	s.flushHeldSeek()
}
