package logging

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"
)

func TestNewUsesServiceFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "marketd", "test")
	logger.Info("market operation applied", "op", "list")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	for key, want := range map[string]string{
		"message":  "market operation applied",
		"severity": "INFO",
		"service":  "marketd",
		"env":      "test",
		"op":       "list",
	} {
		if line[key] != want {
			t.Fatalf("%s: got %v want %s", key, line[key], want)
		}
	}
	if _, ok := line["timestamp"]; !ok {
		t.Fatalf("expected timestamp field")
	}
}

func TestSinkUsesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "market.log")
	w := sink(Options{File: path})
	if w == nil {
		t.Fatalf("expected writer")
	}
	if _, err := w.Write([]byte("{}\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestMaskField(t *testing.T) {
	if got := MaskField("authorization", "Bearer abc"); got.Value.String() != RedactedValue {
		t.Fatalf("expected redaction, got %s", got.Value)
	}
	if got := MaskField("method", "market_list"); got.Value.String() != "market_list" {
		t.Fatalf("expected allowlisted key to pass through, got %s", got.Value)
	}
}
