package mockbackend

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sort"
	"sync"
	"time"

	"cutline/internal/clock"
	"cutline/internal/logging"
	"cutline/internal/media/wav"
	"cutline/internal/protocol"
)

// DefaultTickInterval is the position reporting period while playing.
const DefaultTickInterval = 33 * time.Millisecond

// Error messages reported to the host.
const (
	MsgNoAudio         = "No audio loaded"
	MsgFileNotFound    = "Audio file not found"
	MsgOpenFailed      = "Failed to open audio file"
	MsgMissingEDLPath  = "Missing EDL file path"
	MsgUnreadableEDL   = "Unable to read EDL file"
	MsgInvalidEDLFile  = "Invalid EDL file contents"
	MsgInvalidEDL      = "Invalid EDL payload"
	MsgUnknownCommand  = "unknown command"
	MsgInvalidArgument = "Invalid command argument"
)

// Playback modes reported by edlApplied.
const (
	ModeContiguous = "contiguous"
	ModeStandard   = "standard"
)

const (
	minRate   = 0.25
	maxRate   = 4.0
	maxVolume = 2.0
	// contiguousGap is the largest clip boundary gap treated as abutting.
	contiguousGap = 0.01
)

type segment struct {
	kind       protocol.SegmentType
	start, end float64
	origStart  float64
	origEnd    float64
}

// Option customizes a Backend.
type Option func(*Backend)

// WithClock drives ticks from c.
func WithClock(c clock.Clock) Option {
	return func(b *Backend) {
		if c != nil {
			b.clock = c
		}
	}
}

// WithTickInterval overrides the position reporting period.
func WithTickInterval(d time.Duration) Option {
	return func(b *Backend) {
		if d > 0 {
			b.tick = d
		}
	}
}

// WithLogger sets the diagnostic logger. Diagnostics never go to out.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) { b.logger = logging.NewComponentLogger(logger, "backend") }
}

// Backend holds playback state for one host.
type Backend struct {
	clock  clock.Clock
	tick   time.Duration
	logger *slog.Logger

	outMu sync.Mutex
	out   io.Writer

	mu       sync.Mutex
	id       string
	gen      *uint64
	loaded   bool
	path     string
	fileDur  float64
	rate     int
	channels int
	playing  bool
	edited   float64
	speed    float64
	ratio    float64
	volume   float64
	revision *uint64
	segments []segment
	timer    clock.Timer
	closed   bool
}

// New returns a backend writing events to out.
func New(out io.Writer, opts ...Option) *Backend {
	b := &Backend{
		clock:  clock.Real(),
		tick:   DefaultTickInterval,
		logger: logging.NewNop(),
		out:    out,
		speed:  1,
		ratio:  1,
		volume: 1,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Serve reads commands from in until EOF or ctx is done.
func (b *Backend) Serve(ctx context.Context, in io.Reader) error {
	defer b.Close()
	lines := make(chan []byte)
	errs := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), protocol.MaxLineBytes)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		errs <- scanner.Err()
	}()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errs:
			if err != nil {
				return fmt.Errorf("read commands: %w", err)
			}
			return nil
		case line := <-lines:
			b.Handle(line)
		}
	}
}

// Close stops the playback tick.
func (b *Backend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.stopTickLocked()
}

// Handle processes one command line.
func (b *Backend) Handle(line []byte) {
	if len(line) == 0 {
		return
	}
	var cmd protocol.Command
	if err := json.Unmarshal(line, &cmd); err != nil {
		b.logger.Debug("unparseable command", logging.Error(err))
		b.emit(protocol.Event{Type: protocol.EventError, Message: MsgUnknownCommand})
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	reply := replyTo{id: cmd.ID, gen: cmd.GenerationID}
	switch cmd.Type {
	case protocol.CommandLoad:
		b.load(reply, cmd.Path)
	case protocol.CommandUpdateEDL:
		if err := cmd.Validate(); err != nil || cmd.Revision == nil {
			b.fail(reply, MsgInvalidEDL)
			return
		}
		b.applyEDL(reply, *cmd.Revision, cmd.Clips)
	case protocol.CommandUpdateEDLFromFile:
		b.applyEDLFile(reply, cmd.Path)
	case protocol.CommandPlay:
		if b.requireLoaded(reply) {
			b.playing = true
			b.emitState(reply)
			b.scheduleTickLocked()
		}
	case protocol.CommandPause:
		if b.requireLoaded(reply) {
			b.playing = false
			b.stopTickLocked()
			b.emitState(reply)
		}
	case protocol.CommandStop:
		if b.requireLoaded(reply) {
			b.playing = false
			b.edited = 0
			b.stopTickLocked()
			b.emitState(reply)
			b.emitPosition(reply)
		}
	case protocol.CommandSeek:
		if !b.requireLoaded(reply) {
			return
		}
		if cmd.TimeSec == nil || !finite(*cmd.TimeSec) {
			b.fail(reply, MsgInvalidArgument)
			return
		}
		b.edited = clamp(*cmd.TimeSec, 0, b.durationLocked())
		b.emitPosition(reply)
	case protocol.CommandSetRate:
		b.speed = sanitizeRate(cmd.Rate)
	case protocol.CommandSetTimeStretch:
		b.ratio = sanitizeRate(cmd.Ratio)
	case protocol.CommandSetVolume:
		b.volume = sanitizeVolume(cmd.Value)
	case protocol.CommandQueryState:
		b.emitState(reply)
		b.emitPosition(reply)
	default:
		b.fail(reply, MsgUnknownCommand)
	}
}

type replyTo struct {
	id  string
	gen *uint64
}

func (b *Backend) load(reply replyTo, path string) {
	b.id = reply.id
	b.gen = reply.gen
	if _, err := os.Stat(path); err != nil {
		b.logger.Info("load failed", logging.String("path", path), logging.Error(err))
		b.fail(reply, MsgFileNotFound)
		return
	}
	h, err := wav.ValidateFile(path)
	if err != nil {
		b.logger.Info("load failed", logging.String("path", path), logging.Error(err))
		b.fail(reply, MsgOpenFailed)
		return
	}
	b.stopTickLocked()
	b.loaded = true
	b.path = path
	b.fileDur = h.Duration()
	b.rate = int(h.SampleRate)
	b.channels = int(h.NumChannels)
	b.playing = false
	b.edited = 0
	b.speed = 1
	b.revision = nil
	b.segments = nil
	b.logger.Info("audio loaded",
		logging.String("path", path),
		logging.Float64("duration_sec", b.fileDur),
	)
	b.emit(protocol.Event{
		Type:         protocol.EventLoaded,
		ID:           reply.id,
		GenerationID: reply.gen,
		DurationSec:  protocol.Float64Ptr(b.fileDur),
		SampleRate:   protocol.IntPtr(b.rate),
		Channels:     protocol.IntPtr(b.channels),
	})
	b.emitState(reply)
}

func (b *Backend) applyEDLFile(reply replyTo, path string) {
	if path == "" {
		b.fail(reply, MsgMissingEDLPath)
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		b.logger.Info("read edl file failed", logging.String("path", path), logging.Error(err))
		b.fail(reply, MsgUnreadableEDL)
		return
	}
	payload, err := protocol.UnmarshalEDLPayload(data)
	if err != nil {
		b.fail(reply, MsgInvalidEDLFile)
		return
	}
	b.applyEDL(reply, payload.Revision, payload.Clips)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		b.logger.Warn("remove edl file failed", logging.String("path", path), logging.Error(err))
	}
}

func (b *Backend) applyEDL(reply replyTo, revision uint64, clips []protocol.EDLClip) {
	segs, words, spacers := flatten(clips)
	mode := ModeStandard
	if contiguous(clips) {
		mode = ModeContiguous
	}
	b.segments = segs
	b.revision = protocol.Uint64Ptr(revision)
	if d := b.durationLocked(); b.edited > d {
		b.edited = d
	}
	b.logger.Debug("edl applied",
		logging.Revision(revision),
		logging.Int("words", words),
		logging.Int("spacers", spacers),
		logging.String("mode", mode),
	)
	b.emit(protocol.Event{
		Type:          protocol.EventEDLApplied,
		ID:            reply.id,
		GenerationID:  reply.gen,
		Revision:      protocol.Uint64Ptr(revision),
		WordCount:     protocol.IntPtr(words),
		SpacerCount:   protocol.IntPtr(spacers),
		TotalSegments: protocol.IntPtr(words + spacers),
		Mode:          mode,
	})
}

func (b *Backend) requireLoaded(reply replyTo) bool {
	if !b.loaded {
		b.fail(reply, MsgNoAudio)
		return false
	}
	return true
}

func (b *Backend) scheduleTickLocked() {
	if b.timer != nil || b.closed {
		return
	}
	b.timer = b.clock.AfterFunc(b.tick, b.onTick)
}

func (b *Backend) stopTickLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

func (b *Backend) onTick() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.timer = nil
	if !b.playing || b.closed {
		return
	}
	reply := replyTo{id: b.id, gen: b.gen}
	b.edited += b.tick.Seconds() * b.speed * b.ratio
	if d := b.durationLocked(); b.edited >= d {
		b.edited = d
		b.playing = false
		b.emit(protocol.Event{Type: protocol.EventEnded, ID: reply.id, GenerationID: reply.gen})
		b.emitState(reply)
		return
	}
	b.emitPosition(reply)
	b.scheduleTickLocked()
}

// durationLocked is the edited timeline length, or the file length when no
// EDL has been applied.
func (b *Backend) durationLocked() float64 {
	if len(b.segments) == 0 {
		return b.fileDur
	}
	end := 0.0
	for _, s := range b.segments {
		end = math.Max(end, s.end)
	}
	return end
}

func (b *Backend) originalLocked(edited float64) float64 {
	if len(b.segments) == 0 {
		return edited
	}
	for _, s := range b.segments {
		if edited <= s.end {
			span := s.end - s.start
			if span <= 0 {
				return s.origStart
			}
			r := clamp((edited-s.start)/span, 0, 1)
			return s.origStart + r*(s.origEnd-s.origStart)
		}
	}
	return b.segments[len(b.segments)-1].origEnd
}

func (b *Backend) emitState(reply replyTo) {
	b.emit(protocol.Event{
		Type:         protocol.EventState,
		ID:           reply.id,
		GenerationID: reply.gen,
		Playing:      protocol.BoolPtr(b.playing),
	})
}

func (b *Backend) emitPosition(reply replyTo) {
	evt := protocol.Event{
		Type:         protocol.EventPosition,
		ID:           reply.id,
		GenerationID: reply.gen,
		EditedSec:    protocol.Float64Ptr(b.edited),
		OriginalSec:  protocol.Float64Ptr(b.originalLocked(b.edited)),
	}
	if b.revision != nil {
		evt.Revision = protocol.Uint64Ptr(*b.revision)
	}
	b.emit(evt)
}

func (b *Backend) fail(reply replyTo, msg string) {
	b.emit(protocol.Event{Type: protocol.EventError, ID: reply.id, GenerationID: reply.gen, Message: msg})
}

func (b *Backend) emit(evt protocol.Event) {
	line, err := protocol.EncodeEvent(evt)
	if err != nil {
		b.logger.Error("encode event", logging.Error(err))
		return
	}
	b.outMu.Lock()
	defer b.outMu.Unlock()
	if _, err := b.out.Write(line); err != nil {
		b.logger.Debug("write event", logging.Error(err))
	}
}

// flatten converts clips into absolute edited segments sorted by start.
func flatten(clips []protocol.EDLClip) ([]segment, int, int) {
	var segs []segment
	words, spacers := 0, 0
	for _, c := range clips {
		for _, s := range c.Segments {
			if s.Type == protocol.SegmentSpacer {
				spacers++
			} else {
				words++
			}
			dur := s.EndSec - s.StartSec
			if dur <= 0 {
				continue
			}
			seg := segment{kind: s.Type, start: c.StartSec + s.StartSec, end: c.StartSec + s.EndSec}
			switch {
			case s.OriginalStartSec != nil && s.OriginalEndSec != nil && *s.OriginalEndSec > *s.OriginalStartSec:
				seg.origStart, seg.origEnd = *s.OriginalStartSec, *s.OriginalEndSec
			case c.OriginalStartSec != nil:
				seg.origStart = *c.OriginalStartSec + s.StartSec
				seg.origEnd = seg.origStart + dur
			default:
				seg.origStart, seg.origEnd = seg.start, seg.end
			}
			segs = append(segs, seg)
		}
	}
	sort.SliceStable(segs, func(i, j int) bool {
		if segs[i].start == segs[j].start {
			return segs[i].end < segs[j].end
		}
		return segs[i].start < segs[j].start
	})
	return segs, words, spacers
}

// contiguous reports whether at least two of the first clip boundaries abut.
func contiguous(clips []protocol.EDLClip) bool {
	if len(clips) < 2 {
		return false
	}
	matches := 0
	for i := 1; i < len(clips) && i < 5; i++ {
		if math.Abs(clips[i].StartSec-clips[i-1].EndSec) < contiguousGap {
			matches++
		}
	}
	return matches >= 2
}

func sanitizeRate(v *float64) float64 {
	if v == nil || !finite(*v) || *v <= 0 {
		return 1
	}
	return clamp(*v, minRate, maxRate)
}

func sanitizeVolume(v *float64) float64 {
	if v == nil || !finite(*v) {
		return 1
	}
	return clamp(*v, 0, maxVolume)
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func clamp(v, lo, hi float64) float64 {
	if hi < lo {
		hi = lo
	}
	return math.Max(lo, math.Min(hi, v))
}

// Snapshot is a point-in-time view of the playback state.
type Snapshot struct {
	Loaded    bool
	Path      string
	Playing   bool
	EditedSec float64
	Duration  float64
	Rate      float64
	Stretch   float64
	Volume    float64
	Revision  *uint64
	Segments  int
}

// Snapshot returns the current playback state.
func (b *Backend) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := Snapshot{
		Loaded:    b.loaded,
		Path:      b.path,
		Playing:   b.playing,
		EditedSec: b.edited,
		Duration:  b.durationLocked(),
		Rate:      b.speed,
		Stretch:   b.ratio,
		Volume:    b.volume,
		Segments:  len(b.segments),
	}
	if b.revision != nil {
		s.Revision = protocol.Uint64Ptr(*b.revision)
	}
	return s
}
