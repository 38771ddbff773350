package spool

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"cutline/internal/clock"
)

func TestWriteAndDelayedRemoval(t *testing.T) {
	fake := clock.NewFake(time.Time{})
	s, err := New(t.TempDir(), "sess/1", WithClock(fake), WithGrace(30*time.Second))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	path, err := s.Write(7, []byte(`{"revision":7}`))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !strings.Contains(filepath.Base(path), "sess_1") || !strings.Contains(path, "-r7-") {
		t.Fatalf("unexpected name %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != `{"revision":7}` {
		t.Fatalf("read back %q, %v", data, err)
	}

	s.Release(path)
	fake.Advance(29 * time.Second)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("file removed before grace: %v", err)
	}
	fake.Advance(time.Second)
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("file should be gone, stat err = %v", err)
	}
	if s.Pending() != 0 {
		t.Fatalf("pending = %d", s.Pending())
	}
}

func TestReleaseToleratesMissingFile(t *testing.T) {
	fake := clock.NewFake(time.Time{})
	s, err := New(t.TempDir(), "s", WithClock(fake))
	if err != nil {
		t.Fatal(err)
	}
	path, _ := s.Write(1, []byte("{}"))
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	s.Release(path)
	fake.Advance(DefaultGrace)
	if err := Remove(path); err != nil {
		t.Fatalf("Remove on missing file: %v", err)
	}
}

func TestWriteNamesAreUnique(t *testing.T) {
	fake := clock.NewFake(time.Time{})
	s, _ := New(t.TempDir(), "s", WithClock(fake))
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		path, err := s.Write(1, []byte("{}"))
		if err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
		if seen[path] {
			t.Fatalf("duplicate path %s", path)
		}
		seen[path] = true
	}
}

func TestCloseRemovesPending(t *testing.T) {
	fake := clock.NewFake(time.Time{})
	s, _ := New(t.TempDir(), "s", WithClock(fake))
	path, _ := s.Write(1, []byte("{}"))
	s.Release(path)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("close should remove pending files: %v", err)
	}
	if len(fake.Pending()) != 0 {
		t.Fatalf("timers left: %v", fake.Pending())
	}
}

func TestSweep(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	old := filepath.Join(dir, "edl-a-1-r1-deadbeef.json")
	fresh := filepath.Join(dir, "edl-b-2-r1-cafebabe.json")
	other := filepath.Join(dir, "notes.txt")
	for _, p := range []string{old, fresh, other} {
		if err := os.WriteFile(p, []byte("{}"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	past := now.Add(-2 * time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(other, past, past); err != nil {
		t.Fatal(err)
	}

	removed, err := Sweep(dir, time.Hour, now)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("fresh file removed: %v", err)
	}
	if _, err := os.Stat(other); err != nil {
		t.Fatalf("foreign file removed: %v", err)
	}
}

func TestSweepSkipsWhenLocked(t *testing.T) {
	dir := t.TempDir()
	holder := flock.New(filepath.Join(dir, lockName))
	if ok, err := holder.TryLock(); err != nil || !ok {
		t.Fatalf("TryLock: %v %v", ok, err)
	}
	defer func() { _ = holder.Unlock() }()
	old := filepath.Join(dir, "edl-a-1-r1-deadbeef.json")
	_ = os.WriteFile(old, []byte("{}"), 0o600)
	past := time.Now().Add(-2 * time.Hour)
	_ = os.Chtimes(old, past, past)

	removed, err := Sweep(dir, time.Hour, time.Now())
	if err != nil || removed != 0 {
		t.Fatalf("locked sweep removed %d, err %v", removed, err)
	}
}
