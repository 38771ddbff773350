package generation

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func gen(v uint64) *uint64 { return &v }

func TestBeginLoadMintsAndSupersedes(t *testing.T) {
	var tr Tracker
	first := tr.BeginLoad("/audio/a.wav")
	if first.Deduped || first.Superseded != nil || first.Load.Generation != 1 {
		t.Fatalf("first = %+v", first)
	}
	second := tr.BeginLoad("/audio/b.wav")
	if second.Load.Generation != 2 {
		t.Fatalf("second generation = %d", second.Load.Generation)
	}
	if second.Superseded == nil || second.Superseded.Generation != 1 {
		t.Fatalf("expected generation 1 superseded, got %+v", second.Superseded)
	}
	if inflight, ok := tr.InFlight(); !ok || inflight.Generation != 2 {
		t.Fatalf("in flight = %+v, %v", inflight, ok)
	}
	if tr.Check(gen(1)) != DropStale {
		t.Fatal("generation 1 events must be dropped")
	}
	if tr.Check(gen(2)) != Accept {
		t.Fatal("generation 2 events must be accepted")
	}
}

func TestBeginLoadDedupsSameFile(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "take.wav")
	if err := os.WriteFile(target, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(dir, "link.wav")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlink unsupported: %v", err)
	}

	var tr Tracker
	first := tr.BeginLoad(target)
	again := tr.BeginLoad(link)
	if !again.Deduped || again.Load.Generation != first.Load.Generation {
		t.Fatalf("expected dedup, got %+v", again)
	}
	if tr.Current() != 1 {
		t.Fatalf("dedup minted a generation: %d", tr.Current())
	}

	tr.MarkLoaded(1)
	reload := tr.BeginLoad(target)
	if reload.Deduped || reload.Load.Generation != 2 {
		t.Fatalf("load after completion should mint: %+v", reload)
	}
}

func TestUntaggedEventsOnlyAtBootstrap(t *testing.T) {
	var tr Tracker
	if tr.Check(nil) != Accept {
		t.Fatal("untagged accepted at generation 0")
	}
	tr.BeginLoad("a.wav")
	if tr.Check(nil) != DropUntagged {
		t.Fatal("untagged must be dropped after first load")
	}
}

func TestMarkLoadedAndStaleCommands(t *testing.T) {
	var tr Tracker
	tr.BeginLoad("a.wav")
	tr.BeginLoad("b.wav")
	if tr.MarkLoaded(1) {
		t.Fatal("loaded for superseded generation must be ignored")
	}
	if !tr.MarkLoaded(2) || tr.Loaded() != 2 {
		t.Fatalf("loaded = %d", tr.Loaded())
	}
	if _, ok := tr.InFlight(); ok {
		t.Fatal("loaded should clear the in-flight marker")
	}
	if err := tr.CheckCommand(1); !errors.Is(err, ErrStaleGeneration) {
		t.Fatalf("expected ErrStaleGeneration, got %v", err)
	}
	if err := tr.CheckCommand(2); err != nil {
		t.Fatalf("current generation rejected: %v", err)
	}
}

func TestVerdictString(t *testing.T) {
	tests := map[Verdict]string{Accept: "accept", DropStale: "stale_generation", DropUntagged: "untagged"}
	for v, want := range tests {
		if got := v.String(); got != want {
			t.Fatalf("%d: got %q want %q", v, got, want)
		}
	}
}
