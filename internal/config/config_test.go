package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Capture.MaxIterations != 120 || cfg.Match.Threshold != 0.6 || cfg.Embedding.Provider != "hashed" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadOverridesAndClamps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
log_level: debug
capture:
  headless: true
  interval: 250ms
  max_iterations: -3
match:
  threshold: 1.7
embedding:
  provider: ollama
  model: mxbai-embed-large
nats:
  url: nats://localhost:4222
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Capture.Headless || cfg.Capture.Interval != 250*time.Millisecond {
		t.Fatalf("capture not loaded: %+v", cfg.Capture)
	}
	if cfg.Capture.MaxIterations != 120 {
		t.Fatalf("max_iterations should clamp to default, got %d", cfg.Capture.MaxIterations)
	}
	if cfg.Match.Threshold != 0.6 {
		t.Fatalf("threshold should clamp to default, got %f", cfg.Match.Threshold)
	}
	if cfg.Embedding.Provider != "ollama" || cfg.Embedding.Model != "mxbai-embed-large" || cfg.Embedding.OllamaURL == "" {
		t.Fatalf("embedding not merged with defaults: %+v", cfg.Embedding)
	}
	if cfg.NATS.URL != "nats://localhost:4222" || cfg.NATS.SubjectPrefix != "tenants" {
		t.Fatalf("unexpected nats config %+v", cfg.NATS)
	}
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("embedding:\n  provider: openai\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an unknown provider")
	}
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("capture: [1, 2"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err == nil {
		t.Fatal("expected parse error")
	}
	if cfg.Capture.MaxIterations != 120 {
		t.Fatal("defaults should be returned alongside the error")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := Default()
	cfg.OutputDir = "results"
	cfg.Overlay.Gap = 12
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.OutputDir != "results" || got.Overlay.Gap != 12 || got.API.Timeout != 15*time.Second {
		t.Fatalf("unexpected round trip %+v", got)
	}
}

func TestParseLevel(t *testing.T) {
	if l, err := ParseLevel("WARN"); err != nil || l != slog.LevelWarn {
		t.Fatalf("ParseLevel(WARN) = %v, %v", l, err)
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
