package cmdqueue

import (
	"bufio"
	"errors"
	"io"
	"testing"
	"time"
)

func TestPipeStreamBackpressure(t *testing.T) {
	r, w := io.Pipe()
	s := NewPipeStream(w, 8)
	defer s.Close()

	full, err := s.Write([]byte("0123456789\n"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !full {
		t.Fatal("expected full above the high-water mark")
	}

	ready := s.Ready()
	reader := bufio.NewReader(r)
	line, err := reader.ReadString('\n')
	if err != nil || line != "0123456789\n" {
		t.Fatalf("read %q, %v", line, err)
	}
	select {
	case err := <-ready:
		if err != nil {
			t.Fatalf("ready error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ready never fired after drain")
	}

	full, err = s.Write([]byte("ab\n"))
	if err != nil || full {
		t.Fatalf("small write: full=%v err=%v", full, err)
	}
	if line, _ := reader.ReadString('\n'); line != "ab\n" {
		t.Fatalf("read %q", line)
	}
}

func TestPipeStreamFail(t *testing.T) {
	r, w := io.Pipe()
	defer r.Close()
	s := NewPipeStream(w, 4)
	if _, err := s.Write([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	boom := errors.New("process exited")
	s.Fail(boom)
	if err := <-s.Ready(); !errors.Is(err, boom) {
		t.Fatalf("ready = %v", err)
	}
	if s.Writable() {
		t.Fatal("failed stream must not be writable")
	}
	if _, err := s.Write([]byte("x")); !errors.Is(err, boom) {
		t.Fatalf("write after fail = %v", err)
	}
}

func TestPipeStreamCloseFlushes(t *testing.T) {
	r, w := io.Pipe()
	s := NewPipeStream(w, 0)
	if _, err := s.Write([]byte("last\n")); err != nil {
		t.Fatal(err)
	}
	_ = s.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "last\n" {
		t.Fatalf("flushed %q", data)
	}
	<-s.Done()
	if _, err := s.Write([]byte("x")); !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("write after close = %v", err)
	}
}

func TestPipeStreamWriterError(t *testing.T) {
	r, w := io.Pipe()
	_ = r.CloseWithError(errors.New("reader gone"))
	s := NewPipeStream(w, 1)
	if _, err := s.Write([]byte("x")); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for s.Writable() {
		if time.Now().After(deadline) {
			t.Fatal("stream should be unwritable after a writer error")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := <-s.Ready(); err == nil {
		t.Fatal("expected ready to report the pipe error")
	}
}
