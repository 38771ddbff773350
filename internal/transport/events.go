package transport

import (
	"context"
	"strconv"
	"time"

	"cutline/internal/generation"
	"cutline/internal/journal"
	"cutline/internal/logging"
	"cutline/internal/protocol"
	"cutline/internal/seek"
)

// handleEvent is the single gating point for everything the backend says.
func (s *Session) handleEvent(evt protocol.Event) {
	s.metrics.RecordEvent(string(evt.Type))
	if evt.Local() {
		s.handleLocal(evt)
		return
	}
	if v := s.gen.Check(evt.GenerationID); v != generation.Accept {
		s.drop(evt, v.String())
		return
	}
	switch evt.Type {
	case protocol.EventLoaded:
		s.handleLoaded(evt)
	case protocol.EventState:
		if evt.Playing != nil {
			s.state.playing = *evt.Playing && s.state.ready
			s.notify(Notification{Kind: NotifyState, Playing: s.state.playing})
		}
	case protocol.EventPosition:
		s.handlePosition(evt)
	case protocol.EventEDLApplied:
		s.handleEDLApplied(evt)
	case protocol.EventEnded:
		s.state.playing = false
		s.notify(Notification{Kind: NotifyEnded})
	case protocol.EventError:
		s.handleBackendError(evt)
	}
}

func (s *Session) drop(evt protocol.Event, reason string) {
	s.metrics.RecordDropped(reason)
	s.logger.Debug("event dropped",
		logging.String("type", string(evt.Type)),
		logging.String("reason", reason),
		logging.Uint64("current_generation", s.gen.Current()),
	)
}

func (s *Session) handleLocal(evt protocol.Event) {
	switch {
	case evt.Type == protocol.EventBackendStatus:
		s.handleBackendStatus(evt)
	case evt.Code == protocol.CodeStderr:
		s.logger.Debug("backend stderr", logging.String("line", evt.Message))
	default:
		logging.WarnWithContext(s.logger, "unparseable backend output", "protocol_error",
			logging.String("line", evt.Raw),
			logging.String("reason", evt.Message),
			logging.String(logging.FieldImpact, "line ignored"),
		)
	}
}

func (s *Session) handlePosition(evt protocol.Event) {
	if !s.state.ready {
		s.drop(evt, "not_loaded")
		return
	}
	if !s.edl.TrustPosition(evt.Revision) {
		s.drop(evt, "stale_revision")
		return
	}
	edited := deref(evt.EditedSec)
	now := s.clock.Now()
	decision := s.seeker.Observe(edited, now, s.edl.ApplyingFor(s.gen.Current()), s.resolve)
	switch decision.Action {
	case seek.Reissue:
		s.metrics.RecordSeek(decision.Action.String())
		s.logger.Debug("seek missed, reissuing",
			logging.Float64("reported", edited),
			logging.Float64("target", decision.Target),
			logging.Int("reissue", decision.Reissues),
		)
		s.sendPlayback(context.Background(), protocol.Seek(s.settings.TransportID, decision.Target))
	case seek.Abandon:
		s.metrics.RecordSeek(decision.Action.String())
		s.logger.Info("seek abandoned, accepting reported position",
			logging.Float64("reported", edited),
			logging.Int("reissues", decision.Reissues),
		)
	case seek.Satisfied, seek.Stale:
		s.metrics.RecordSeek(decision.Action.String())
	}

	pos := Position{EditedSec: edited, OriginalSec: deref(evt.OriginalSec)}
	if s.mapper != nil {
		if loc, ok := s.mapper.EditedToOriginal(edited); ok {
			pos.ClipID = loc.ClipID
			if evt.OriginalSec == nil {
				pos.OriginalSec = loc.OriginalTime
			}
		}
		if entry, ok := s.mapper.Lookup(edited); ok {
			pos.Segment = &entry
		}
	}
	s.state.position = pos
	s.notify(Notification{Kind: NotifyPosition, Position: pos, Playing: s.state.playing})
}

func (s *Session) handleEDLApplied(evt protocol.Event) {
	if evt.Revision == nil {
		return
	}
	rev := *evt.Revision
	ack := s.edl.Ack(rev)
	if ack.Unblocked {
		s.stopApplyTimer()
		s.metrics.RecordEDLApplied(s.clock.Now().Sub(s.edl.Since()).Seconds())
	}
	attrs := []logging.Attr{
		logging.Revision(rev),
		logging.Uint64("applied", ack.Applied),
		logging.String("mode", evt.Mode),
	}
	if evt.TotalSegments != nil {
		attrs = append(attrs, logging.Int("segments", *evt.TotalSegments))
	}
	if !ack.Expected {
		s.logger.Debug("edl ack for an older revision", logging.Args(attrs...)...)
	} else {
		s.logger.Debug("edl applied", logging.Args(attrs...)...)
	}
	s.flushHeldSeek()
}

func (s *Session) handleBackendError(evt protocol.Event) {
	if load, ok := s.gen.InFlight(); ok && s.pendingFor(load.Generation) != nil {
		s.logger.Info("load failed", logging.Generation(load.Generation), logging.String("reason", evt.Message))
		s.resolveLoad(load.Generation, LoadResult{Error: evt.Message}, "error")
		return
	}
	s.logger.Warn("backend reported an error", logging.String("message", evt.Message))
	s.notify(Notification{Kind: NotifyError, Message: evt.Message})
}

func (s *Session) handleBackendStatus(evt protocol.Event) {
	switch evt.Status {
	case protocol.BackendAlive:
		s.backendAlive(evt)
	case protocol.BackendDead:
		s.backendDead(evt)
	case protocol.BackendFailed:
		s.record(journal.Incident{
			Kind:       journal.KindRestartExhausted,
			Attempt:    evt.Attempt,
			Detail:     evt.Message,
			StderrTail: evt.StderrTail,
		})
		s.backendFailed(evt.Message)
	}
}

func (s *Session) backendAlive(evt protocol.Event) {
	s.failed = false
	s.metrics.RecordBackendUp(s.recovering)
	s.logger.Info("backend running", logging.Int("pid", evt.PID), logging.Int("attempt", evt.Attempt))
	if !s.recovering {
		return
	}
	s.recovering = false
	s.notify(Notification{Kind: NotifyBackendReady})
	if s.state.path == "" {
		return
	}
	resume := s.state.position.EditedSec
	s.resumeAt = &resume
	s.logger.Info("reloading after backend restart", logging.String("path", s.state.path))
	s.beginLoad(context.Background(), s.state.path)
}

func (s *Session) backendDead(evt protocol.Event) {
	s.metrics.RecordBackendDown(true)
	exit := "exited"
	if evt.ExitCode != nil {
		exit = "exit code " + strconv.Itoa(*evt.ExitCode)
	}
	if evt.Signal != "" {
		exit = "killed by " + evt.Signal
	}
	logging.WarnWithContext(s.logger, "backend exited", "backend_crash",
		logging.Int("pid", evt.PID),
		logging.String("exit", exit),
		logging.Bool("restart_scheduled", evt.RestartScheduled),
		logging.String(logging.FieldImpact, "playback interrupted"),
	)
	s.record(journal.Incident{
		Kind:       journal.KindCrash,
		PID:        evt.PID,
		ExitCode:   evt.ExitCode,
		Signal:     evt.Signal,
		Attempt:    evt.Attempt,
		Detail:     exit,
		StderrTail: evt.StderrTail,
	})
	if load, ok := s.gen.InFlight(); ok {
		s.resolveLoad(load.Generation, LoadResult{Error: MsgBackendExited}, "crashed")
	}
	s.state.ready = false
	s.state.playing = false
	s.edl.Reset()
	s.seeker.Clear()
	s.stopApplyTimer()
	s.recovering = true

	if evt.RestartScheduled {
		s.notify(Notification{
			Kind:    NotifyBackendRetrying,
			Message: "Playback engine stopped (" + exit + "), restarting",
			Attempt: evt.Attempt,
			RetryIn: time.Duration(evt.RestartInMs) * time.Millisecond,
		})
		return
	}
	s.backendFailed("Playback engine stopped (" + exit + ")")
}

// backendFailed tells the UI once per outage.
func (s *Session) backendFailed(message string) {
	if s.failed {
		return
	}
	s.failed = true
	if message == "" {
		message = "Playback engine unavailable"
	}
	logging.ErrorWithContext(s.logger, "backend unavailable", "backend_failed",
		logging.String("reason", message),
		logging.String(logging.FieldErrorHint, "reset the backend or check its stderr in the incident journal"),
	)
	s.notify(Notification{Kind: NotifyBackendFailed, Message: message})
}
