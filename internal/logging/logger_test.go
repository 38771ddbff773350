package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"cutline/internal/config"
	"cutline/internal/logging"
)

func TestNewFromConfigDefaults(t *testing.T) {
	cfg := config.Default()
	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	if logger == nil {
		t.Fatal("expected logger instance")
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml", Output: &bytes.Buffer{}}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestConsoleHeaderCarriesComponentAndGeneration(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", Output: &buf})
	if err != nil {
		t.Fatal(err)
	}
	logger = logging.NewComponentLogger(logger, "session")
	logger.Info("edl sent", logging.Args(logging.Generation(3), logging.Revision(9), logging.String("mode", "inline"))...)

	out := buf.String()
	for _, want := range []string{"INFO", "[session]", "gen 3 rev 9", "– edl sent", "mode: inline"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in %q", want, out)
		}
	}
	if strings.Contains(out, ".go:") {
		t.Fatalf("info records should not carry source: %q", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Fatalf("colour disabled for buffers: %q", out)
	}
}

func TestConsoleDebugIncludesSource(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := logging.New(logging.Options{Format: "console", Level: "debug", Output: &buf})
	logger.Debug("tick")
	if !strings.Contains(buf.String(), "logger_test.go:") {
		t.Fatalf("expected source in debug output: %q", buf.String())
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", Output: &buf})
	if err != nil {
		t.Fatal(err)
	}
	logger.Warn("fallback", logging.Args(logging.Revision(4))...)
	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("invalid json %q: %v", buf.String(), err)
	}
	if record["level"] != "warn" || record["msg"] != "fallback" || record["revision"] != float64(4) {
		t.Fatalf("unexpected record %v", record)
	}
	if _, ok := record["ts"]; !ok {
		t.Fatalf("missing ts: %v", record)
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := logging.New(logging.Options{Format: "json", Output: &buf})
	logging.WarnWithContext(logger, "edl apply timed out", "edl_fallback", logging.Error(errors.New("no ack")))
	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{logging.FieldEventType, logging.FieldErrorHint, logging.FieldImpact} {
		if _, ok := record[key]; !ok {
			t.Fatalf("missing %s in %v", key, record)
		}
	}
	if record[logging.FieldEventType] != "edl_fallback" {
		t.Fatalf("event_type = %v", record[logging.FieldEventType])
	}
}

func TestWithContextAddsTransportFields(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := logging.New(logging.Options{Format: "json", Output: &buf})
	ctx := logging.WithGenerationID(logging.WithTransportID(context.Background(), "t-1"), 2)
	logging.WithContext(ctx, logger).Info("load")
	if !strings.Contains(buf.String(), `"transport_id":"t-1"`) || !strings.Contains(buf.String(), `"generation":2`) {
		t.Fatalf("missing context fields: %s", buf.String())
	}
}

func TestNopLogger(t *testing.T) {
	logger := logging.NewNop()
	logger.Error("dropped")
	logging.ErrorWithContext(nil, "ignored", "none")
}
