package transport

import (
	"context"
	"fmt"

	"cutline/internal/journal"
	"cutline/internal/logging"
	"cutline/internal/media/wav"
	"cutline/internal/protocol"
	"cutline/internal/seek"
)

// Load failure messages surfaced in LoadResult.Error.
const (
	MsgLoadTimedOut   = "Load command timed out"
	MsgLoadSuperseded = "Load superseded by a newer request"
	MsgBackendExited  = "Backend exited before the load completed"
)

// LoadResult is the outcome of Load.
type LoadResult struct {
	Success     bool
	Error       string
	DurationSec float64
	SampleRate  int
	Channels    int
	Generation  uint64
}

// Load validates the WAV header, then loads path into the backend under a
// new generation. A load of the file already in flight joins it instead.
// Failures reported by the backend, timeouts and supersession come back as
// an unsuccessful result; the error is reserved for a closed session or a
// cancelled context.
func (s *Session) Load(ctx context.Context, path string) (LoadResult, error) {
	if _, err := wav.ValidateFile(path); err != nil {
		s.metrics.RecordLoad("invalid", 0)
		s.logger.Info("load rejected", logging.String("path", path), logging.Error(err))
		return LoadResult{Error: err.Error()}, nil
	}
	wait, err := call(ctx, s, func() <-chan LoadResult { return s.beginLoad(ctx, path) })
	if err != nil {
		return LoadResult{Error: err.Error()}, err
	}
	select {
	case res := <-wait:
		return res, nil
	case <-ctx.Done():
		return LoadResult{Error: ctx.Err().Error()}, ctx.Err()
	}
}

func (s *Session) beginLoad(ctx context.Context, path string) <-chan LoadResult {
	reply := make(chan LoadResult, 1)
	if err := s.ensureBackend(ctx); err != nil {
		s.metrics.RecordLoad("unavailable", 0)
		reply <- LoadResult{Error: err.Error()}
		return reply
	}

	begin := s.gen.BeginLoad(path)
	if begin.Deduped {
		if p := s.pendingFor(begin.Load.Generation); p != nil {
			s.logger.Debug("joining in-flight load", logging.Generation(begin.Load.Generation), logging.String("path", path))
			p.waiters = append(p.waiters, reply)
			return reply
		}
	}
	if begin.Superseded != nil {
		old := begin.Superseded.Generation
		s.logger.Info("load superseded", logging.Generation(old), logging.String("path", begin.Superseded.Path))
		s.resolveLoad(old, LoadResult{Error: MsgLoadSuperseded}, "superseded")
		s.dispatch(ctx, protocol.Stop(s.settings.TransportID).WithGeneration(old), nil)
	}

	gen := begin.Load.Generation
	s.resetForLoad()
	s.seq++
	p := &pendingLoad{
		key:     requestKey{generation: gen, seq: s.seq},
		path:    path,
		started: s.clock.Now(),
		waiters: []chan LoadResult{reply},
	}
	s.pending[p.key] = p
	s.requested = requestedLoad{generation: gen, path: path}
	key := p.key
	p.timer = s.clock.AfterFunc(s.settings.LoadTimeout, func() {
		s.post(func() { s.loadTimedOut(key) })
	})

	s.logger.Info("loading audio", logging.Generation(gen), logging.String("path", path))
	s.dispatch(ctx, protocol.Load(s.settings.TransportID, path).WithGeneration(gen), func(err error) {
		if err != nil {
			s.resolveLoad(gen, LoadResult{Error: fmt.Sprintf("send load: %v", err)}, "send_failed")
		}
	})
	return reply
}

// resetForLoad forgets everything tied to the previous file. The timeline
// survives and is resent once the new file is loaded.
func (s *Session) resetForLoad() {
	s.state.ready = false
	s.state.playing = false
	s.state.position = Position{}
	s.edl.Reset()
	s.seeker.Clear()
	s.stopApplyTimer()
}

func (s *Session) pendingFor(gen uint64) *pendingLoad {
	for key, p := range s.pending {
		if key.generation == gen {
			return p
		}
	}
	return nil
}

// resolveLoad settles the pending load for gen exactly once.
func (s *Session) resolveLoad(gen uint64, res LoadResult, result string) {
	p := s.pendingFor(gen)
	if p == nil {
		return
	}
	delete(s.pending, p.key)
	if p.timer != nil {
		p.timer.Stop()
	}
	s.gen.Finish(gen)
	res.Generation = gen
	for _, w := range p.waiters {
		w <- res
	}
	s.metrics.RecordLoad(result, s.clock.Now().Sub(p.started).Seconds())
}

func (s *Session) loadTimedOut(key requestKey) {
	p, ok := s.pending[key]
	if !ok {
		return
	}
	logging.WarnWithContext(s.logger, "load timed out", "load_timeout",
		logging.Generation(key.generation),
		logging.String("path", p.path),
		logging.Duration("timeout", s.settings.LoadTimeout),
		logging.String(logging.FieldImpact, "audio not loaded"),
	)
	s.record(journal.Incident{Kind: journal.KindLoadTimeout, Detail: p.path})
	s.resolveLoad(key.generation, LoadResult{Error: MsgLoadTimedOut}, "timeout")
}

func (s *Session) handleLoaded(evt protocol.Event) {
	gen, tagged := evt.Generation()
	if !tagged {
		gen = s.gen.Current()
	}
	if !s.gen.MarkLoaded(gen) {
		s.drop(evt, "stale_generation")
		return
	}
	if s.requested.generation == gen {
		s.state.path = s.requested.path
	}
	s.state.ready = true
	s.state.playing = false
	s.state.duration = deref(evt.DurationSec)
	s.state.sampleRate = derefInt(evt.SampleRate)
	s.state.channels = derefInt(evt.Channels)
	s.resolveLoad(gen, LoadResult{
		Success:     true,
		DurationSec: s.state.duration,
		SampleRate:  s.state.sampleRate,
		Channels:    s.state.channels,
	}, "ok")
	s.logger.Info("audio loaded",
		logging.Generation(gen),
		logging.String("path", s.state.path),
		logging.Float64("duration_sec", s.state.duration),
	)
	s.notify(Notification{Kind: NotifyLoaded, DurationSec: s.duration()})

	if s.mapper != nil {
		s.sendEDL(context.Background())
	}
	if s.resumeAt != nil {
		at := *s.resumeAt
		s.resumeAt = nil
		s.requestSeek(context.Background(), seek.At(clampSeek(at, s.duration())))
	}
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func derefInt(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
