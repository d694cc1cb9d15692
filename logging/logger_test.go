package logging_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"auto_cms_content_sync/logging"
)

func TestNewJSONWritesConsoleAndFile(t *testing.T) {
	dir := t.TempDir()
	var console bytes.Buffer
	logger, closeFn, err := logging.New(logging.Options{Level: "debug", Format: "json", Dir: dir, Stdout: &console})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Debug("row processed", "row", 3)
	if err := closeFn(); err != nil {
		t.Fatalf("close returned error: %v", err)
	}

	var record map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(console.Bytes()), &record); err != nil {
		t.Fatalf("console output is not json: %v (%q)", err, console.String())
	}
	if record["level"] != "debug" || record["msg"] != "row processed" {
		t.Fatalf("unexpected record: %#v", record)
	}

	data, err := os.ReadFile(filepath.Join(dir, logging.LogFileName))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "row processed") {
		t.Fatalf("log file missing record: %q", data)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := logging.ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
