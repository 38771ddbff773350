package transport

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"cutline/internal/clock"
	"cutline/internal/cmdqueue"
	"cutline/internal/journal"
	"cutline/internal/mockbackend"
	"cutline/internal/protocol"
	"cutline/internal/testsupport"
	"cutline/internal/timeline"
)

const waitTimeout = 2 * time.Second

// fakeBackend records written commands and replays scripted events.
type fakeBackend struct {
	mu       sync.Mutex
	events   chan protocol.Event
	commands chan protocol.Command
	reply    func(protocol.Command) []protocol.Event
	startErr error
	starts   int
	disposed bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		events:   make(chan protocol.Event, 256),
		commands: make(chan protocol.Command, 256),
		reply:    autoReply(10),
	}
}

func (b *fakeBackend) EnsureStarted(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.starts++
	return b.startErr
}

func (b *fakeBackend) Stream() (cmdqueue.Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.disposed {
		return nil, cmdqueue.ErrUnavailable
	}
	return fakeStream{b: b}, nil
}

func (b *fakeBackend) Events() <-chan protocol.Event { return b.events }

func (b *fakeBackend) Dispose() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.disposed {
		b.disposed = true
		close(b.events)
	}
	return nil
}

func (b *fakeBackend) emit(evts ...protocol.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.disposed {
		return
	}
	for _, evt := range evts {
		b.events <- evt
	}
}

func (b *fakeBackend) setReply(fn func(protocol.Command) []protocol.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reply = fn
}

func (b *fakeBackend) startCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.starts
}

// next returns the next written command of type typ, skipping others.
func (b *fakeBackend) next(t *testing.T, typ protocol.CommandType) protocol.Command {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case cmd := <-b.commands:
			if cmd.Type == typ {
				return cmd
			}
		case <-deadline:
			t.Fatalf("no %s command within %s", typ, waitTimeout)
			return protocol.Command{}
		}
	}
}

// nextAny returns the next written command.
func (b *fakeBackend) nextAny(t *testing.T) protocol.Command {
	t.Helper()
	select {
	case cmd := <-b.commands:
		return cmd
	case <-time.After(waitTimeout):
		t.Fatalf("no command within %s", waitTimeout)
		return protocol.Command{}
	}
}

// until collects commands up to and including the first of type typ.
func (b *fakeBackend) until(t *testing.T, typ protocol.CommandType) []protocol.Command {
	t.Helper()
	var out []protocol.Command
	for {
		cmd := b.nextAny(t)
		out = append(out, cmd)
		if cmd.Type == typ {
			return out
		}
	}
}

type fakeStream struct{ b *fakeBackend }

func (s fakeStream) Write(p []byte) (bool, error) {
	cmd, err := protocol.DecodeCommand(bytes.TrimSpace(p))
	if err != nil {
		return false, err
	}
	s.b.commands <- cmd
	s.b.mu.Lock()
	reply := s.b.reply
	s.b.mu.Unlock()
	if reply != nil {
		s.b.emit(reply(cmd)...)
	}
	return false, nil
}

func (fakeStream) Ready() <-chan error {
	ch := make(chan error, 1)
	ch <- nil
	return ch
}

func (fakeStream) Writable() bool { return true }

// autoReply answers loads and EDL updates like a healthy backend.
func autoReply(duration float64) func(protocol.Command) []protocol.Event {
	return func(cmd protocol.Command) []protocol.Event {
		switch cmd.Type {
		case protocol.CommandLoad:
			return []protocol.Event{loadedEvent(cmd.Generation(), duration)}
		case protocol.CommandUpdateEDL, protocol.CommandUpdateEDLFromFile:
			return []protocol.Event{appliedEvent(cmd.Generation(), *cmd.Revision)}
		}
		return nil
	}
}

func loadedEvent(gen uint64, duration float64) protocol.Event {
	return protocol.Event{
		Type:         protocol.EventLoaded,
		ID:           "test",
		GenerationID: protocol.Uint64Ptr(gen),
		DurationSec:  protocol.Float64Ptr(duration),
		SampleRate:   protocol.IntPtr(48000),
		Channels:     protocol.IntPtr(2),
	}
}

func appliedEvent(gen, rev uint64) protocol.Event {
	return protocol.Event{
		Type:         protocol.EventEDLApplied,
		ID:           "test",
		GenerationID: protocol.Uint64Ptr(gen),
		Revision:     protocol.Uint64Ptr(rev),
	}
}

func positionEvent(gen uint64, edited float64, rev *uint64) protocol.Event {
	return protocol.Event{
		Type:         protocol.EventPosition,
		ID:           "test",
		GenerationID: protocol.Uint64Ptr(gen),
		EditedSec:    protocol.Float64Ptr(edited),
		OriginalSec:  protocol.Float64Ptr(edited),
		Revision:     rev,
	}
}

func stateEvent(gen uint64, playing bool) protocol.Event {
	return protocol.Event{
		Type:         protocol.EventState,
		ID:           "test",
		GenerationID: protocol.Uint64Ptr(gen),
		Playing:      protocol.BoolPtr(playing),
	}
}

type journalSpy struct {
	mu        sync.Mutex
	incidents []journal.Incident
}

func (j *journalSpy) Record(_ context.Context, inc journal.Incident) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.incidents = append(j.incidents, inc)
	return int64(len(j.incidents)), nil
}

func (j *journalSpy) find(kind journal.Kind) (journal.Incident, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, inc := range j.incidents {
		if inc.Kind == kind {
			return inc, true
		}
	}
	return journal.Incident{}, false
}

type harness struct {
	s       *Session
	b       *fakeBackend
	clk     *clock.Fake
	journal *journalSpy
	dir     string
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	return newHarnessWith(t, Settings{TransportID: "test"}, opts...)
}

func newHarnessWith(t *testing.T, settings Settings, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		b:       newFakeBackend(),
		clk:     clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		journal: &journalSpy{},
		dir:     t.TempDir(),
	}
	base := []Option{WithClock(h.clk), WithJournal(h.journal)}
	s, err := New(h.b, settings, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.s = s
	t.Cleanup(func() {
		_ = s.Close()
		for range s.Notifications() {
		}
	})
	return h
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// load loads a fresh WAV and consumes the load command.
func (h *harness) load(t *testing.T) (LoadResult, string) {
	t.Helper()
	path := testsupport.WriteWAV(t, h.dir, 10)
	res, err := h.s.Load(testContext(t), path)
	if err != nil || !res.Success {
		t.Fatalf("Load = %+v, %v", res, err)
	}
	h.b.next(t, protocol.CommandLoad)
	return res, path
}

// setTimeline installs clips and waits until the backend acknowledged them.
func (h *harness) setTimeline(t *testing.T, clips []timeline.Clip) {
	t.Helper()
	if err := h.s.SetTimeline(testContext(t), clips); err != nil {
		t.Fatalf("SetTimeline: %v", err)
	}
	cmd := h.b.next(t, protocol.CommandUpdateEDL)
	h.waitUntil(t, func(s Snapshot) bool { return s.AppliedRevision == *cmd.Revision && !s.Applying })
}

func (h *harness) snapshot(t *testing.T) Snapshot {
	t.Helper()
	snap, err := h.s.Snapshot(testContext(t))
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	return snap
}

func (h *harness) waitUntil(t *testing.T, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for {
		snap := h.snapshot(t)
		if cond(snap) {
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition not met; last snapshot %+v", snap)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// nextNote returns the next notification of kind, or of any kind when kind
// is empty.
func nextNote(t *testing.T, s *Session, kind NotificationKind) Notification {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case n, ok := <-s.Notifications():
			if !ok {
				t.Fatalf("notifications closed while waiting for %s", kind)
			}
			if kind == "" || n.Kind == kind {
				return n
			}
		case <-deadline:
			t.Fatalf("no %s notification within %s", kind, waitTimeout)
			return Notification{}
		}
	}
}

func word(text string, start, end float64) timeline.Segment {
	return timeline.Segment{Kind: protocol.SegmentWord, Text: text, OriginalStart: start, OriginalEnd: end}
}

func spacer(start, end float64) timeline.Segment {
	return timeline.Segment{Kind: protocol.SegmentSpacer, OriginalStart: start, OriginalEnd: end}
}

// twoClips is A(0-2s) followed by B(2-5s).
func twoClips() []timeline.Clip {
	return []timeline.Clip{
		{ID: "A", OriginalStart: 0, OriginalEnd: 2, Segments: []timeline.Segment{word("hello", 0, 0.8), spacer(0.8, 1.0), word("there", 1.0, 2.0)}},
		{ID: "B", OriginalStart: 2, OriginalEnd: 5, Segments: []timeline.Segment{word("general", 2.0, 3.0), word("kenobi", 3.5, 5.0)}},
	}
}

// pipeBackend runs the reference backend in process over real pipes.
type pipeBackend struct {
	mu     sync.Mutex
	events chan protocol.Event
	closed bool
	stream *cmdqueue.PipeStream
	cancel context.CancelFunc
	done   chan struct{}
}

func newPipeBackend() *pipeBackend {
	inR, inW := io.Pipe()
	b := &pipeBackend{
		events: make(chan protocol.Event, 4096),
		stream: cmdqueue.NewPipeStream(inW, cmdqueue.DefaultHighWaterMark),
		done:   make(chan struct{}),
	}
	mb := mockbackend.New(protocol.NewDecoder(b.push))
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	go func() {
		defer close(b.done)
		_ = mb.Serve(ctx, inR)
		mb.Close()
	}()
	return b
}

func (b *pipeBackend) push(evt protocol.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	select {
	case b.events <- evt:
	default:
	}
}

func (b *pipeBackend) EnsureStarted(context.Context) error { return nil }

func (b *pipeBackend) Stream() (cmdqueue.Stream, error) { return b.stream, nil }

func (b *pipeBackend) Events() <-chan protocol.Event { return b.events }

func (b *pipeBackend) Dispose() error {
	_ = b.stream.Close()
	b.cancel()
	<-b.done
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.events)
	}
	return nil
}
