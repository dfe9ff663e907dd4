package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestNewJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(Config{Level: "info", Format: "json"}, &buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	logger.Debug("hidden")
	logger.Info("model loaded", zap.Int("features", 16))
	_ = logger.Sync()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %d: %q", len(lines), buf.String())
	}
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["msg"] != "model loaded" || entry["features"] != float64(16) {
		t.Errorf("unexpected entry %v", entry)
	}
}

func TestNewConsoleLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(Config{Level: "debug", Format: "console"}, &buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	logger.Debug("visible")
	_ = logger.Sync()
	if !strings.Contains(buf.String(), "DEBUG") || !strings.Contains(buf.String(), "visible") {
		t.Errorf("unexpected console output %q", buf.String())
	}
}

func TestNewLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "strokerisk.log")
	var buf bytes.Buffer
	logger, err := newLogger(Config{File: path}, &buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	logger.Warn("disk check")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if !strings.Contains(string(data), "disk check") {
		t.Errorf("log file missing entry: %q", data)
	}
}

func TestNewLoggerRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"bad level", Config{Level: "loud"}},
		{"bad format", Config{Format: "xml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}
