package main

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"cutline/internal/journal"
	"cutline/internal/testsupport"
)

func TestIncidentsListAndFilter(t *testing.T) {
	env := setupCLITestEnv(t)
	store := testsupport.MustOpenJournal(t, env.cfg)
	code := 139
	ctx := context.Background()
	if _, err := store.Record(ctx, journal.Incident{TransportID: "abcdef0123", Kind: journal.KindCrash, PID: 42, ExitCode: &code, Detail: "exit code 139", StderrTail: []string{"segfault"}}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Record(ctx, journal.Incident{TransportID: "abcdef0123", Kind: journal.KindEDLFallback, Detail: "revision 3"}); err != nil {
		t.Fatal(err)
	}

	out, _, err := runCLI(t, []string{"incidents", "--stderr"}, env.configPath, nil)
	if err != nil {
		t.Fatalf("incidents: %v", err)
	}
	requireContains(t, out, "crash")
	requireContains(t, out, "edl_fallback")
	requireContains(t, out, "abcdef01")
	requireContains(t, out, "segfault")

	out, _, err = runCLI(t, []string{"incidents", "--json", "--kind", "crash"}, env.configPath, nil)
	if err != nil {
		t.Fatalf("incidents --json: %v", err)
	}
	var got []journal.Incident
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].Kind != journal.KindCrash || got[0].PID != 42 {
		t.Fatalf("unexpected filtered incidents %+v", got)
	}
}

func TestIncidentsEmptyAndPrune(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, []string{"incidents"}, env.configPath, nil)
	if err != nil {
		t.Fatalf("incidents: %v", err)
	}
	requireContains(t, out, "No incidents recorded")

	out, _, err = runCLI(t, []string{"incidents", "--json"}, env.configPath, nil)
	if err != nil {
		t.Fatalf("incidents --json: %v", err)
	}
	if strings.TrimSpace(out) != "[]" {
		t.Fatalf("empty json output = %q, want []", out)
	}

	out, _, err = runCLI(t, []string{"incidents", "prune", "--older-than", "1h"}, env.configPath, nil)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	requireContains(t, out, "Removed 0 incidents")
}
