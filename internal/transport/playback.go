package transport

import (
	"context"
	"fmt"
	"math"

	"cutline/internal/logging"
	"cutline/internal/protocol"
	"cutline/internal/seek"
	"cutline/internal/timeline"
)

// Accepted ranges for playback parameters.
const (
	MinRate   = 0.25
	MaxRate   = 4.0
	MaxVolume = 2.0
)

// Play starts playback. It fails with ErrNotReady before a file is loaded.
func (s *Session) Play(ctx context.Context) error {
	return s.playbackCommand(ctx, protocol.Play(s.settings.TransportID))
}

// Pause pauses playback.
func (s *Session) Pause(ctx context.Context) error {
	return s.playbackCommand(ctx, protocol.Pause(s.settings.TransportID))
}

// Stop stops playback and drops any pending seek.
func (s *Session) Stop(ctx context.Context) error {
	return s.await(ctx, func() <-chan error {
		s.seeker.Clear()
		s.edl.TakeHeldSeek()
		return s.sendPlayback(ctx, protocol.Stop(s.settings.TransportID))
	})
}

// QueryState asks the backend to report its state and position.
func (s *Session) QueryState(ctx context.Context) error {
	return s.playbackCommand(ctx, protocol.QueryState(s.settings.TransportID))
}

// SetRate changes speed and pitch together.
func (s *Session) SetRate(ctx context.Context, rate float64) error {
	if err := checkRange("rate", rate, MinRate, MaxRate); err != nil {
		return err
	}
	return s.playbackCommand(ctx, protocol.SetRate(s.settings.TransportID, rate))
}

// SetTimeStretch changes speed while preserving pitch.
func (s *Session) SetTimeStretch(ctx context.Context, ratio float64) error {
	if err := checkRange("time stretch", ratio, MinRate, MaxRate); err != nil {
		return err
	}
	return s.playbackCommand(ctx, protocol.SetTimeStretch(s.settings.TransportID, ratio))
}

// SetVolume sets the output gain, 1 being unity.
func (s *Session) SetVolume(ctx context.Context, value float64) error {
	if err := checkRange("volume", value, 0, MaxVolume); err != nil {
		return err
	}
	return s.playbackCommand(ctx, protocol.SetVolume(s.settings.TransportID, value))
}

func (s *Session) playbackCommand(ctx context.Context, cmd protocol.Command) error {
	return s.await(ctx, func() <-chan error { return s.sendPlayback(ctx, cmd) })
}

func checkRange(name string, v, lo, hi float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: %s must be finite", ErrInvalidArgument, name)
	}
	if v < lo || v > hi {
		return fmt.Errorf("%w: %s %g outside [%g, %g]", ErrInvalidArgument, name, v, lo, hi)
	}
	return nil
}

// Seek moves the playhead to an edited time, clamped to the timeline. While
// an EDL is being applied the seek is held and replayed afterwards.
func (s *Session) Seek(ctx context.Context, editedSec float64) error {
	if math.IsNaN(editedSec) || math.IsInf(editedSec, 0) {
		return fmt.Errorf("%w: seek target must be finite", ErrInvalidArgument)
	}
	return s.await(ctx, func() <-chan error {
		return s.requestSeek(ctx, seek.At(clampSeek(editedSec, s.duration())))
	})
}

// SeekToWord moves the playhead to the start of a word. The word is
// resolved again when the seek is written, so an edit that moves the clip
// is honoured.
func (s *Session) SeekToWord(ctx context.Context, clipID string, wordIndex int) error {
	return s.await(ctx, func() <-chan error {
		target := seek.Word(clipID, wordIndex)
		if _, ok := s.resolve(target); !ok {
			return completed(fmt.Errorf("seek to %s: %w", target, timeline.ErrNotFound))
		}
		return s.requestSeek(ctx, target)
	})
}

// SeekOriginal moves the playhead to a source-file time, such as a click on
// the waveform.
func (s *Session) SeekOriginal(ctx context.Context, originalSec float64) error {
	if math.IsNaN(originalSec) || math.IsInf(originalSec, 0) {
		return fmt.Errorf("%w: seek target must be finite", ErrInvalidArgument)
	}
	return s.await(ctx, func() <-chan error {
		edited := originalSec
		if s.mapper != nil && s.mapper.Len() > 0 {
			var ok bool
			if edited, ok = s.mapper.ResolveOriginalSeek(originalSec); !ok {
				return completed(fmt.Errorf("seek to original %gs: %w", originalSec, timeline.ErrNotFound))
			}
		}
		return s.requestSeek(ctx, seek.At(clampSeek(edited, s.duration())))
	})
}

func (s *Session) requestSeek(ctx context.Context, target seek.Target) <-chan error {
	if !s.state.ready {
		return completed(ErrNotReady)
	}
	s.seeker.Begin(target, s.clock.Now())
	if !s.edl.CanSeek() {
		if s.edl.HoldSeek(target) {
			s.logger.Debug("held seek replaced", logging.String("target", target.String()))
		} else {
			s.logger.Debug("seek held until edl applies", logging.String("target", target.String()))
		}
		return completed(nil)
	}
	return s.sendSeek(ctx, target)
}

func (s *Session) sendSeek(ctx context.Context, target seek.Target) <-chan error {
	at, ok := s.resolve(target)
	if !ok {
		s.seeker.Clear()
		return completed(fmt.Errorf("seek to %s: %w", target, timeline.ErrNotFound))
	}
	return s.sendPlayback(ctx, protocol.Seek(s.settings.TransportID, at))
}

// flushHeldSeek writes the seek held during an EDL apply.
func (s *Session) flushHeldSeek() {
	if !s.edl.CanSeek() {
		return
	}
	target, ok := s.edl.TakeHeldSeek()
	if !ok || !s.state.ready {
		return
	}
	s.seeker.Touch(s.clock.Now())
	s.sendSeek(context.Background(), target)
}

// resolve maps a seek target onto the current timeline.
func (s *Session) resolve(t seek.Target) (float64, bool) {
	if !t.ByWord {
		return t.EditedTime, true
	}
	if s.mapper == nil {
		return 0, false
	}
	return s.mapper.WordTime(t.ClipID, t.WordIndex)
}

func clampSeek(t, duration float64) float64 {
	if t < 0 {
		return 0
	}
	if duration > 0 && t > duration {
		return duration
	}
	return t
}
