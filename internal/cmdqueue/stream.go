package cmdqueue

import (
	"errors"
	"io"
	"sync"
)

// ErrStreamClosed is returned by writes to a closed or failed stream.
var ErrStreamClosed = errors.New("stream closed")

// DefaultHighWaterMark is the buffered byte count at which a PipeStream
// reports itself full.
const DefaultHighWaterMark = 16 * 1024

// Stream is a flow-controlled sink. Write accepts p in full or not at all;
// full reports that the sink is above its high-water mark and the caller
// should wait on Ready before writing more. Ready yields nil once drained, or
// the error that broke the stream.
type Stream interface {
	Write(p []byte) (full bool, err error)
	Ready() <-chan error
	Writable() bool
}

// PipeStream adapts a blocking io.WriteCloser (a child's stdin) to Stream.
// Writes are buffered and flushed by one goroutine.
type PipeStream struct {
	w   io.WriteCloser
	hwm int

	mu      sync.Mutex
	cond    *sync.Cond
	buf     []byte
	err     error
	closed  bool
	waiters []chan error
	done    chan struct{}
}

// NewPipeStream starts the flusher for w. hwm <= 0 selects
// DefaultHighWaterMark.
func NewPipeStream(w io.WriteCloser, hwm int) *PipeStream {
	if hwm <= 0 {
		hwm = DefaultHighWaterMark
	}
	s := &PipeStream{w: w, hwm: hwm, done: make(chan struct{})}
	s.cond = sync.NewCond(&s.mu)
	go s.flush()
	return s
}

// Write buffers p for the flusher.
func (s *PipeStream) Write(p []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	if s.closed {
		return false, ErrStreamClosed
	}
	s.buf = append(s.buf, p...)
	s.cond.Signal()
	return len(s.buf) >= s.hwm, nil
}

// Ready resolves once the buffer drops below the high-water mark.
func (s *PipeStream) Ready() <-chan error {
	ch := make(chan error, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.err != nil:
		ch <- s.err
	case s.closed:
		ch <- ErrStreamClosed
	case len(s.buf) < s.hwm:
		ch <- nil
	default:
		s.waiters = append(s.waiters, ch)
	}
	return ch
}

// Writable reports whether the stream still accepts writes.
func (s *PipeStream) Writable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.err == nil
}

// Buffered returns the number of bytes waiting for the flusher.
func (s *PipeStream) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

// Close stops accepting writes. The flusher writes what is buffered and then
// closes the underlying writer; Done reports when that has happened.
func (s *PipeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.cond.Broadcast()
	}
	return nil
}

// Done is closed once the flusher has exited and closed the writer.
func (s *PipeStream) Done() <-chan struct{} { return s.done }

// Fail marks the stream broken, for example when the process exited.
// Pending Ready waiters receive err.
func (s *PipeStream) Fail(err error) {
	if err == nil {
		err = ErrStreamClosed
	}
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.notifyLocked(s.err)
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *PipeStream) flush() {
	defer close(s.done)
	defer s.w.Close()
	for {
		s.mu.Lock()
		for len(s.buf) == 0 && !s.closed && s.err == nil {
			s.cond.Wait()
		}
		if s.err != nil || len(s.buf) == 0 {
			s.notifyLocked(ErrStreamClosed)
			s.mu.Unlock()
			return
		}
		chunk := s.buf
		s.buf = nil
		s.mu.Unlock()

		_, err := s.w.Write(chunk)

		s.mu.Lock()
		if err != nil {
			if s.err == nil {
				s.err = err
			}
			s.notifyLocked(s.err)
			s.mu.Unlock()
			return
		}
		if len(s.buf) < s.hwm {
			s.notifyLocked(nil)
		}
		s.mu.Unlock()
	}
}

func (s *PipeStream) notifyLocked(err error) {
	for _, ch := range s.waiters {
		ch <- err
	}
	s.waiters = nil
}
