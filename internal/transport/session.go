package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"cutline/internal/clock"
	"cutline/internal/cmdqueue"
	"cutline/internal/edlsync"
	"cutline/internal/generation"
	"cutline/internal/journal"
	"cutline/internal/logging"
	"cutline/internal/mailbox"
	"cutline/internal/metrics"
	"cutline/internal/protocol"
	"cutline/internal/seek"
	"cutline/internal/supervisor"
	"cutline/internal/timeline"
)

var (
	// ErrNotReady rejects playback commands before audio is loaded.
	ErrNotReady = errors.New("no audio loaded")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session closed")
	// ErrInvalidArgument rejects out-of-range or non-finite values.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNoTimeline rejects edits before SetTimeline.
	ErrNoTimeline = errors.New("no timeline set")
)

// Backend is the playback process as seen by the session. *supervisor.Supervisor
// satisfies it.
type Backend interface {
	// EnsureStarted is called before every command dispatch.
	EnsureStarted(ctx context.Context) error
	Stream() (cmdqueue.Stream, error)
	// Events delivers backend and lifecycle events. It is closed after Dispose.
	Events() <-chan protocol.Event
	Dispose() error
}

// Journal records backend incidents. *journal.Store satisfies it.
type Journal interface {
	Record(ctx context.Context, inc journal.Incident) (int64, error)
}

// Spooler stores EDL payloads too large to send inline. *spool.Spool
// satisfies it.
type Spooler interface {
	edlsync.Spooler
	// Release schedules removal once the backend had time to read the file.
	Release(path string)
}

// Option customizes a Session.
type Option func(*Session)

// WithClock schedules timers on c.
func WithClock(c clock.Clock) Option {
	return func(s *Session) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records session activity on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithJournal records crashes, timeouts and fallbacks.
func WithJournal(j Journal) Option {
	return func(s *Session) { s.journal = j }
}

// WithSpool enables file delivery for large EDLs.
func WithSpool(sp Spooler) Option {
	return func(s *Session) { s.spool = sp }
}

// WithQueueOptions passes extra options to the command queue.
func WithQueueOptions(opts ...cmdqueue.Option) Option {
	return func(s *Session) { s.queueOpts = append(s.queueOpts, opts...) }
}

type requestKey struct {
	generation uint64
	seq        uint64
}

type pendingLoad struct {
	key     requestKey
	path    string
	started time.Time
	timer   clock.Timer
	waiters []chan LoadResult
}

// requestedLoad is the newest load sent, kept past its pending entry so a
// loaded event arriving after the timeout still knows its path.
type requestedLoad struct {
	generation uint64
	path       string
}

type playback struct {
	ready      bool
	playing    bool
	path       string
	duration   float64
	sampleRate int
	channels   int
	position   Position
}

// Session is one host-side playback session.
type Session struct {
	settings  Settings
	backend   Backend
	clock     clock.Clock
	logger    *slog.Logger
	metrics   *metrics.Metrics
	journal   Journal
	spool     Spooler
	queueOpts []cmdqueue.Option
	queue     *cmdqueue.Queue
	notes     *mailbox.Mailbox[Notification]

	ops       chan func()
	quit      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	closeErr  error

	// Owned by the run goroutine.
	gen        generation.Tracker
	edl        edlsync.Synchronizer
	seeker     *seek.Reconciler
	timeline   *timeline.Timeline
	mapper     *timeline.Mapper
	pending    map[requestKey]*pendingLoad
	requested  requestedLoad
	seq        uint64
	state      playback
	applyTimer clock.Timer
	recovering bool
	failed     bool
	resumeAt   *float64
}

// New starts a session on backend. The backend is started lazily by the
// first command.
func New(backend Backend, settings Settings, opts ...Option) (*Session, error) {
	if backend == nil {
		return nil, errors.New("transport: backend required")
	}
	settings = settings.withDefaults()
	if settings.TransportID == "" {
		settings.TransportID = uuid.NewString()
	}
	s := &Session{
		settings: settings,
		backend:  backend,
		clock:    clock.Real(),
		logger:   logging.NewNop(),
		notes:    mailbox.New[Notification](),
		ops:      make(chan func()),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
		seeker:   seek.New(settings.Seek),
		pending:  make(map[requestKey]*pendingLoad),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.NewComponentLogger(s.logger, "transport").With(logging.String(logging.FieldTransportID, settings.TransportID))
	queueOpts := []cmdqueue.Option{
		cmdqueue.WithRetry(settings.WriteMaxRetries, settings.WriteRetryBase),
		cmdqueue.WithClock(s.clock),
		cmdqueue.WithLogger(s.logger),
		cmdqueue.WithErrorHandler(s.commandFailed),
	}
	s.queue = cmdqueue.New(backend.Stream, append(queueOpts, s.queueOpts...)...)
	go s.run()
	return s, nil
}

// TransportID returns the id echoed in every command.
func (s *Session) TransportID() string { return s.settings.TransportID }

// Notifications delivers UI-facing updates in order. The channel is closed
// by Close once every pending notification has been received, so a caller
// that watches it must drain it to the end.
func (s *Session) Notifications() <-chan Notification { return s.notes.C() }

func (s *Session) run() {
	defer close(s.stopped)
	events := s.backend.Events()
	for {
		select {
		case <-s.quit:
			return
		case fn := <-s.ops:
			fn()
		case evt, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			s.handleEvent(evt)
		}
	}
}

// post runs fn on the session goroutine. It reports false after Close.
func (s *Session) post(fn func()) bool {
	select {
	case s.ops <- fn:
		return true
	case <-s.quit:
		return false
	}
}

// call runs fn on the session goroutine and returns its result.
func call[T any](ctx context.Context, s *Session, fn func() T) (T, error) {
	var zero T
	reply := make(chan T, 1)
	if !s.post(func() { reply <- fn() }) {
		return zero, ErrClosed
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// await runs fn on the session goroutine and waits for the completion it
// returns, typically a command delivery.
func (s *Session) await(ctx context.Context, fn func() <-chan error) error {
	done, err := call(ctx, s, fn)
	if err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func completed(err error) <-chan error {
	ch := make(chan error, 1)
	ch <- err
	return ch
}

// ensureBackend re-checks backend health before a dispatch.
func (s *Session) ensureBackend(ctx context.Context) error {
	err := s.backend.EnsureStarted(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, supervisor.ErrRestartExhausted) && !errors.Is(err, supervisor.ErrDisposed) {
		logging.ErrorWithContext(s.logger, "backend start failed", "backend_spawn_failed",
			logging.String(logging.FieldErrorHint, "check [backend] command in the config"),
			logging.Error(err),
		)
		s.record(journal.Incident{Kind: journal.KindSpawnFailure, Detail: err.Error()})
	}
	return fmt.Errorf("backend unavailable: %w", err)
}

// dispatch sends cmd. onDone, when set, runs on the session goroutine once
// delivery finished.
func (s *Session) dispatch(ctx context.Context, cmd protocol.Command, onDone func(error)) <-chan error {
	if err := s.ensureBackend(ctx); err != nil {
		s.metrics.RecordCommand(string(cmd.Type), err)
		if onDone != nil {
			onDone(err)
		}
		return completed(err)
	}
	delivered := s.queue.Enqueue(cmd)
	out := make(chan error, 1)
	go func() {
		err := <-delivered
		s.metrics.RecordCommand(string(cmd.Type), err)
		if onDone != nil {
			s.post(func() { onDone(err) })
		}
		out <- err
	}()
	return out
}

// sendPlayback sends a command that needs loaded audio, tagged with the
// loaded generation.
func (s *Session) sendPlayback(ctx context.Context, cmd protocol.Command) <-chan error {
	if !s.state.ready {
		return completed(ErrNotReady)
	}
	gen := s.gen.Loaded()
	if err := s.gen.CheckCommand(gen); err != nil {
		return completed(err)
	}
	return s.dispatch(ctx, cmd.WithGeneration(gen), nil)
}

// commandFailed runs on the queue's writer goroutine.
func (s *Session) commandFailed(cmd protocol.Command, err error) {
	if errors.Is(err, cmdqueue.ErrClosed) {
		return
	}
	logging.WarnWithContext(s.logger, "command delivery failed", "command_failed",
		logging.String("type", string(cmd.Type)),
		logging.String(logging.FieldImpact, "backend did not receive the command"),
		logging.Error(err),
	)
	if cmd.Type == protocol.CommandPlay {
		s.notify(Notification{Kind: NotifyError, Message: "Cannot play: " + err.Error()})
	}
}

func (s *Session) record(inc journal.Incident) {
	if s.journal == nil {
		return
	}
	if inc.TransportID == "" {
		inc.TransportID = s.settings.TransportID
	}
	if inc.RecordedAt.IsZero() {
		inc.RecordedAt = s.clock.Now()
	}
	if _, err := s.journal.Record(context.Background(), inc); err != nil {
		s.logger.Warn("incident not recorded", logging.String("kind", string(inc.Kind)), logging.Error(err))
	}
}

// Snapshot is a consistent view of session state.
type Snapshot struct {
	TransportID      string
	Generation       uint64
	LoadedGeneration uint64
	Revision         uint64
	AppliedRevision  uint64
	Ready            bool
	Playing          bool
	Applying         bool
	Recovering       bool
	Path             string
	DurationSec      float64
	Position         Position
	PendingLoads     int
	Clips            int
}

// Snapshot returns the current state.
func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	return call(ctx, s, func() Snapshot {
		snap := Snapshot{
			TransportID:      s.settings.TransportID,
			Generation:       s.gen.Current(),
			LoadedGeneration: s.gen.Loaded(),
			Revision:         s.edl.Revision(),
			AppliedRevision:  s.edl.Applied(),
			Ready:            s.state.ready,
			Playing:          s.state.playing,
			Applying:         s.edl.Applying(),
			Recovering:       s.recovering,
			Path:             s.state.path,
			DurationSec:      s.duration(),
			Position:         s.state.position,
			PendingLoads:     len(s.pending),
		}
		if s.mapper != nil {
			snap.Clips = s.mapper.Len()
		}
		return snap
	})
}

// duration is the edited timeline length, or the file length before a
// timeline is set.
func (s *Session) duration() float64 {
	if s.mapper != nil && s.mapper.Len() > 0 {
		return s.mapper.Duration()
	}
	return s.state.duration
}

// ResetBackend clears a failed backend and starts it again.
func (s *Session) ResetBackend(ctx context.Context) error {
	return s.await(ctx, func() <-chan error {
		if r, ok := s.backend.(interface{ Reset() }); ok {
			r.Reset()
		}
		s.failed = false
		return completed(s.ensureBackend(ctx))
	})
}

// Close stops the session, disposes the backend and closes Notifications.
// Pending loads resolve with a failure.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.quit)
		<-s.stopped
		s.stopApplyTimer()
		for key := range s.pending {
			s.resolveLoad(key.generation, LoadResult{Error: ErrClosed.Error()}, "closed")
		}
		s.queue.Close()
		s.closeErr = s.backend.Dispose()
		for range s.backend.Events() {
		}
		s.notes.Close()
	})
	return s.closeErr
}
