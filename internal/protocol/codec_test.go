package protocol_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"cutline/internal/protocol"
)

func collect(t *testing.T, chunks ...string) []protocol.Event {
	t.Helper()
	var events []protocol.Event
	dec := protocol.NewDecoder(func(e protocol.Event) { events = append(events, e) })
	for _, chunk := range chunks {
		if _, err := dec.Write([]byte(chunk)); err != nil {
			t.Fatalf("Write returned error: %v", err)
		}
	}
	dec.Flush()
	return events
}

func TestDecoderSplitsAcrossChunks(t *testing.T) {
	events := collect(t,
		`{"type":"state","id":"t1","pla`,
		`ying":true}`+"\n"+`{"type":"ended","id":"t1"}`,
		"\n",
	)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != protocol.EventState || events[0].Playing == nil || !*events[0].Playing {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	if events[1].Type != protocol.EventEnded {
		t.Fatalf("unexpected second event: %+v", events[1])
	}
}

func TestDecoderSkipsEmptyLinesAndSurvivesGarbage(t *testing.T) {
	events := collect(t,
		"\n   \n",
		"not json\n",
		`{"type":"position","editedSec":1.5}`+"\n",
		`{"type":"backendStatus","status":"dead"}`+"\n",
		`{"type":"position","editedSec":2,"originalSec":2,"revision":3,"generationId":4}`+"\n",
	)
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d: %+v", len(events), events)
	}
	for i := 0; i < 3; i++ {
		if events[i].Type != protocol.EventError || events[i].Code != protocol.CodeProtocol {
			t.Fatalf("event %d: expected protocol error, got %+v", i, events[i])
		}
		if events[i].Raw == "" {
			t.Fatalf("event %d: expected raw line", i)
		}
	}
	last := events[3]
	if last.Type != protocol.EventPosition || *last.EditedSec != 2 || *last.Revision != 3 {
		t.Fatalf("unexpected final event: %+v", last)
	}
	if gen, ok := last.Generation(); !ok || gen != 4 {
		t.Fatalf("expected generation 4, got %d (%v)", gen, ok)
	}
}

func TestDecoderFlushHandlesTrailingLine(t *testing.T) {
	events := collect(t, `{"type":"ended"}`)
	if len(events) != 1 || events[0].Type != protocol.EventEnded {
		t.Fatalf("expected trailing ended event, got %+v", events)
	}
}

func TestEventSchema(t *testing.T) {
	tests := []struct {
		name  string
		line  string
		valid bool
	}{
		{"loaded", `{"type":"loaded","durationSec":3,"sampleRate":48000,"channels":2}`, true},
		{"loaded missing channels", `{"type":"loaded","durationSec":3,"sampleRate":48000}`, false},
		{"state missing playing", `{"type":"state"}`, false},
		{"edlApplied", `{"type":"edlApplied","revision":2,"mode":"contiguous"}`, true},
		{"edlApplied missing revision", `{"type":"edlApplied"}`, false},
		{"error", `{"type":"error","message":"No audio loaded"}`, true},
		{"error without message", `{"type":"error"}`, false},
		{"unknown", `{"type":"bogus"}`, false},
		{"missing type", `{"id":"x"}`, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := protocol.DecodeEvent([]byte(tc.line))
			if tc.valid && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tc.valid && !errors.Is(err, protocol.ErrInvalidEvent) {
				t.Fatalf("expected ErrInvalidEvent, got %v", err)
			}
		})
	}
}

func TestEncodeCommandProducesSingleLine(t *testing.T) {
	cmd := protocol.Seek("t1", 0).WithGeneration(7)
	data, err := protocol.EncodeCommand(cmd)
	if err != nil {
		t.Fatalf("EncodeCommand returned error: %v", err)
	}
	if !strings.HasSuffix(string(data), "\n") || strings.Count(string(data), "\n") != 1 {
		t.Fatalf("expected exactly one terminated line, got %q", data)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if fields["type"] != "seek" || fields["id"] != "t1" {
		t.Fatalf("unexpected fields: %v", fields)
	}
	if fields["timeSec"] != float64(0) {
		t.Fatalf("expected zero timeSec to be present, got %v", fields["timeSec"])
	}
	if fields["generationId"] != float64(7) {
		t.Fatalf("expected generationId 7, got %v", fields["generationId"])
	}
}

func TestEncodeCommandRejectsInvalidShapes(t *testing.T) {
	bad := []protocol.Command{
		{Type: protocol.CommandLoad, ID: "t1"},
		{Type: protocol.CommandSeek, ID: "t1"},
		{Type: protocol.CommandPlay},
		{Type: "rewind", ID: "t1"},
		protocol.UpdateEDLFromFile("t1", 1, ""),
	}
	for _, cmd := range bad {
		if _, err := protocol.EncodeCommand(cmd); !errors.Is(err, protocol.ErrInvalidCommand) {
			t.Fatalf("expected ErrInvalidCommand for %+v, got %v", cmd, err)
		}
	}
}

func TestDecodeCommandRoundTripsEDL(t *testing.T) {
	clips := []protocol.EDLClip{{
		ID: "a", StartSec: 0, EndSec: 2, Order: 0,
		OriginalStartSec: protocol.Float64Ptr(10), OriginalEndSec: protocol.Float64Ptr(12),
		Segments: []protocol.EDLSegment{
			{Type: protocol.SegmentWord, StartSec: 0, EndSec: 1, Text: "hello"},
			{Type: protocol.SegmentSpacer, StartSec: 1, EndSec: 2},
		},
	}}
	data, err := protocol.EncodeCommand(protocol.UpdateEDL("t1", 3, clips))
	if err != nil {
		t.Fatalf("EncodeCommand returned error: %v", err)
	}
	cmd, err := protocol.DecodeCommand(data)
	if err != nil {
		t.Fatalf("DecodeCommand returned error: %v", err)
	}
	if cmd.Type != protocol.CommandUpdateEDL || *cmd.Revision != 3 || len(cmd.Clips) != 1 {
		t.Fatalf("unexpected command: %+v", cmd)
	}
	if cmd.Clips[0].Segments[0].Text != "hello" || *cmd.Clips[0].OriginalStartSec != 10 {
		t.Fatalf("unexpected clip: %+v", cmd.Clips[0])
	}
}

func TestEDLPayloadRejectsBadSegments(t *testing.T) {
	_, err := protocol.UnmarshalEDLPayload([]byte(`{"revision":1,"clips":[{"id":"a","startSec":0,"endSec":1,"segments":[{"type":"noise","startSec":0,"endSec":1}]}]}`))
	if err == nil {
		t.Fatal("expected invalid segment type to be rejected")
	}
}

func TestOnlyHostEventsAreLocal(t *testing.T) {
	wire, err := protocol.DecodeEvent([]byte(`{"type":"error","message":"boom","code":"stderr","generationId":2}`))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if wire.Local() {
		t.Fatal("wire error with a stderr code must not be local")
	}
	tests := []struct {
		name  string
		event protocol.Event
	}{
		{"protocol error", protocol.ProtocolError("garbage", errors.New("bad json"))},
		{"stderr line", protocol.StderrLine("device opened")},
		{"backend status", protocol.Event{Type: protocol.EventBackendStatus, Status: protocol.BackendAlive}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.event.Local() {
				t.Fatalf("%+v should be local", tt.event)
			}
		})
	}
}
