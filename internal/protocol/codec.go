package protocol

import (
	"bytes"
	"sync"
)

// MaxLineBytes bounds a single buffered line. Anything longer is reported as
// a protocol error and discarded so a runaway writer cannot exhaust memory.
const MaxLineBytes = 1 << 20

// LineBuffer accumulates bytes and yields complete, trimmed, non-empty lines.
type LineBuffer struct {
	buf      []byte
	overflow bool
}

// Append adds p and calls emit for every complete line. Lines exceeding
// MaxLineBytes are reported with tooLong set and their content truncated.
func (b *LineBuffer) Append(p []byte, emit func(line []byte, tooLong bool)) {
	for len(p) > 0 {
		idx := bytes.IndexByte(p, '\n')
		if idx < 0 {
			b.push(p)
			return
		}
		b.push(p[:idx])
		b.flush(emit)
		p = p[idx+1:]
	}
}

// Flush emits any trailing unterminated line.
func (b *LineBuffer) Flush(emit func(line []byte, tooLong bool)) {
	b.flush(emit)
}

func (b *LineBuffer) push(p []byte) {
	if b.overflow {
		return
	}
	if len(b.buf)+len(p) > MaxLineBytes {
		b.overflow = true
		keep := MaxLineBytes - len(b.buf)
		if keep > 0 {
			b.buf = append(b.buf, p[:keep]...)
		}
		return
	}
	b.buf = append(b.buf, p...)
}

func (b *LineBuffer) flush(emit func(line []byte, tooLong bool)) {
	line := bytes.TrimSpace(b.buf)
	tooLong := b.overflow
	if len(line) > 0 || tooLong {
		out := make([]byte, len(line))
		copy(out, line)
		emit(out, tooLong)
	}
	b.buf = b.buf[:0]
	b.overflow = false
}

// Decoder turns a byte stream into events. It implements io.Writer so a
// process's stdout can be copied straight into it.
type Decoder struct {
	mu    sync.Mutex
	lines LineBuffer
	emit  func(Event)
}

// NewDecoder returns a decoder that delivers every parsed event, including
// local protocol errors, to emit.
func NewDecoder(emit func(Event)) *Decoder {
	return &Decoder{emit: emit}
}

// Write feeds raw bytes. It never returns an error.
func (d *Decoder) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lines.Append(p, d.handleLine)
	return len(p), nil
}

// Flush parses a trailing line that was not newline-terminated.
func (d *Decoder) Flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lines.Flush(d.handleLine)
}

func (d *Decoder) handleLine(line []byte, tooLong bool) {
	if tooLong {
		d.emit(ProtocolError(string(line), errLineTooLong))
		return
	}
	evt, err := DecodeEvent(line)
	if err != nil {
		d.emit(ProtocolError(string(line), err))
		return
	}
	d.emit(evt)
}
