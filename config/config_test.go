package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/multierr"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
http:
  port: 9090
  request_timeout: 5s
log:
  level: debug
model:
  cache_size: 16
  reload_debounce: 250ms
training:
  trees: 50
  smote: false
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Http.Port != 9090 || cfg.Http.RequestTimeout != 5*time.Second {
		t.Errorf("http = %+v", cfg.Http)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("log = %+v", cfg.Log)
	}
	if cfg.Model.CacheSize != 16 || cfg.Model.ReloadDebounce != 250*time.Millisecond {
		t.Errorf("model = %+v", cfg.Model)
	}
	if cfg.Model.Path != "models/stroke_prediction_model.json" {
		t.Errorf("default model path lost: %q", cfg.Model.Path)
	}
	if cfg.Training.Trees != 50 || cfg.Training.SMOTE || cfg.Training.TestRatio != 0.3 {
		t.Errorf("training = %+v", cfg.Training)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Http.Port = 0
	cfg.Model.Path = ""
	cfg.Training.TestRatio = 1.5
	cfg.Training.Trees = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	if got := len(multierr.Errors(err)); got != 4 {
		t.Errorf("expected 4 errors, got %d: %v", got, err)
	}
	for _, want := range []string{"http.port", "model.path", "training.test_ratio", "training.trees"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(writeConfig(t, dir, "http: [unclosed")); err == nil {
		t.Error("expected decode error")
	}
	if _, err := Load(writeConfig(t, dir, "http:\n  port: -1\n")); err == nil {
		t.Error("expected validation error")
	}
	if _, err := Load(filepath.Join(dir, "absent.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

func TestLoadOrDefaultRebasesPaths(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "database:\n  path: data/app.db\nlog:\n  file: /var/log/strokerisk.log\n")
	cfg, resolved, err := LoadOrDefault(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved != path {
		t.Errorf("resolved = %q", resolved)
	}
	if cfg.Database.Path != filepath.Join(dir, "data", "app.db") {
		t.Errorf("database path not rebased: %q", cfg.Database.Path)
	}
	if cfg.Model.Path != filepath.Join(dir, "models", "stroke_prediction_model.json") {
		t.Errorf("model path not rebased: %q", cfg.Model.Path)
	}
	if cfg.Log.File != "/var/log/strokerisk.log" {
		t.Errorf("absolute path changed: %q", cfg.Log.File)
	}

	if _, _, err := LoadOrDefault(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for explicit missing path")
	}
}
