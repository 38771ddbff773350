package journal_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"cutline/internal/journal"
	"cutline/internal/testsupport"
)

func TestRecordAndList(t *testing.T) {
	store := testsupport.MustOpenJournal(t, testsupport.NewConfig(t))
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	code := 3

	first, err := store.Record(ctx, journal.Incident{
		RecordedAt:  base,
		TransportID: "t-1",
		Kind:        journal.KindCrash,
		PID:         4242,
		ExitCode:    &code,
		Attempt:     1,
		Detail:      "exit code 3",
		StderrTail:  []string{"panic: device lost", "goroutine 1"},
	})
	if err != nil {
		t.Fatalf("Record crash: %v", err)
	}
	if _, err := store.Record(ctx, journal.Incident{
		RecordedAt:  base.Add(time.Minute),
		TransportID: "t-1",
		Kind:        journal.KindEDLFallback,
		Detail:      "revision 4 not acknowledged",
	}); err != nil {
		t.Fatalf("Record fallback: %v", err)
	}

	all, err := store.List(ctx, journal.Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("incidents = %d, want 2", len(all))
	}
	if all[0].Kind != journal.KindEDLFallback {
		t.Fatalf("newest first violated: %+v", all[0])
	}
	crash := all[1]
	if crash.ID != first || crash.PID != 4242 || crash.ExitCode == nil || *crash.ExitCode != 3 {
		t.Fatalf("unexpected crash row: %+v", crash)
	}
	if !crash.RecordedAt.Equal(base) {
		t.Fatalf("recorded_at = %s", crash.RecordedAt)
	}
	if !reflect.DeepEqual(crash.StderrTail, []string{"panic: device lost", "goroutine 1"}) {
		t.Fatalf("stderr tail = %v", crash.StderrTail)
	}
	if all[0].ExitCode != nil || all[0].StderrTail != nil {
		t.Fatalf("fallback row has process fields: %+v", all[0])
	}
}

func TestListFilters(t *testing.T) {
	store := testsupport.MustOpenJournal(t, testsupport.NewConfig(t))
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := []journal.Incident{
		{RecordedAt: base, TransportID: "a", Kind: journal.KindCrash},
		{RecordedAt: base.Add(time.Hour), TransportID: "b", Kind: journal.KindCrash},
		{RecordedAt: base.Add(2 * time.Hour), TransportID: "a", Kind: journal.KindLoadTimeout},
	}
	for _, inc := range rows {
		if _, err := store.Record(ctx, inc); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	tests := []struct {
		name   string
		filter journal.Filter
		want   int
	}{
		{"kind", journal.Filter{Kind: journal.KindCrash}, 2},
		{"transport", journal.Filter{TransportID: "a"}, 2},
		{"since", journal.Filter{Since: base.Add(30 * time.Minute)}, 2},
		{"limit", journal.Filter{Limit: 1}, 1},
		{"combined", journal.Filter{Kind: journal.KindCrash, TransportID: "a"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(got) != tt.want {
				t.Fatalf("got %d incidents, want %d", len(got), tt.want)
			}
		})
	}

	counts, err := store.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts[journal.KindCrash] != 2 || counts[journal.KindLoadTimeout] != 1 {
		t.Fatalf("counts = %v", counts)
	}

	removed, err := store.Prune(ctx, base.Add(90*time.Minute))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 2 {
		t.Fatalf("pruned %d, want 2", removed)
	}
}

func TestRecordRequiresKind(t *testing.T) {
	store := testsupport.MustOpenJournal(t, testsupport.NewConfig(t))
	if _, err := store.Record(context.Background(), journal.Incident{TransportID: "x"}); err == nil {
		t.Fatal("expected error for missing kind")
	}
}

func TestReopenKeepsIncidents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "incidents.db")
	store, err := journal.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := store.Record(context.Background(), journal.Incident{TransportID: "t", Kind: journal.KindRestartExhausted}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := journal.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	got, err := reopened.List(context.Background(), journal.Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 || got[0].Kind != journal.KindRestartExhausted {
		t.Fatalf("incidents after reopen = %+v", got)
	}
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	if _, err := journal.Open(" "); err == nil {
		t.Fatal("expected error")
	}
}

func TestOpenDetectsSchemaMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "incidents.db")
	store, err := journal.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = store.Close()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	if _, err := db.Exec("UPDATE schema_version SET version = 99"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	_ = db.Close()

	if _, err := journal.Open(path); !errors.Is(err, journal.ErrSchemaMismatch) {
		t.Fatalf("Open = %v, want ErrSchemaMismatch", err)
	}
}
