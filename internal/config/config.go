// Package config holds the runtime configuration of the pipeline. Values are
// read from a YAML file and may be overridden by command-line flags.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	LogLevel  string          `yaml:"log_level"`
	OutputDir string          `yaml:"output_dir"`
	Capture   CaptureConfig   `yaml:"capture"`
	API       APIConfig       `yaml:"api"`
	OCR       OCRConfig       `yaml:"ocr"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Match     MatchConfig     `yaml:"match"`
	Overlay   OverlayConfig   `yaml:"overlay"`
	NATS      NATSConfig      `yaml:"nats"`
}

// CaptureConfig controls credential capture.
type CaptureConfig struct {
	Headless      bool          `yaml:"headless"`
	MaxIterations int           `yaml:"max_iterations"`
	Interval      time.Duration `yaml:"interval"`
	NudgeEvery    int           `yaml:"nudge_every"`
	Domain        string        `yaml:"domain"`
}

// APIConfig controls the mapping service client.
type APIConfig struct {
	BaseURL           string        `yaml:"base_url"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
}

// OCRConfig controls preprocessing and Tesseract.
type OCRConfig struct {
	Languages     []string `yaml:"languages"`
	MaxSide       int      `yaml:"max_side"`
	ClipLimit     float64  `yaml:"clip_limit"`
	MinConfidence float64  `yaml:"min_confidence"`
}

// EmbeddingConfig selects the embedding model: "hashed" (offline, lexical
// similarity only) or "ollama" (semantic).
type EmbeddingConfig struct {
	Provider  string        `yaml:"provider"`
	OllamaURL string        `yaml:"ollama_url"`
	Model     string        `yaml:"model"`
	Dims      int           `yaml:"dims"`
	Timeout   time.Duration `yaml:"timeout"`
}

// MatchConfig holds matching thresholds.
type MatchConfig struct {
	Threshold  float64 `yaml:"threshold"`
	FloorScore float64 `yaml:"floor_score"`
}

// OverlayConfig holds marker geometry in pixels.
type OverlayConfig struct {
	Margin  int `yaml:"margin"`
	Gap     int `yaml:"gap"`
	Padding int `yaml:"padding"`
}

// NATSConfig enables publication of results when URL is set.
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// Default returns a Config populated with standard defaults.
func Default() *Config {
	return &Config{
		LogLevel:  "info",
		OutputDir: "output",
		Capture: CaptureConfig{
			Headless:      false,
			MaxIterations: 120,
			Interval:      time.Second,
			NudgeEvery:    5,
			Domain:        "mappedin.com",
		},
		API: APIConfig{
			BaseURL:           "https://api-gateway.mappedin.com/public/1",
			Timeout:           15 * time.Second,
			RequestsPerSecond: 5,
			Burst:             3,
		},
		OCR: OCRConfig{
			Languages:     []string{"eng"},
			MaxSide:       3000,
			ClipLimit:     3.0,
			MinConfidence: 0.1,
		},
		Embedding: EmbeddingConfig{
			Provider:  "hashed",
			OllamaURL: "http://localhost:11434",
			Model:     "nomic-embed-text",
			Dims:      1024,
			Timeout:   30 * time.Second,
		},
		Match: MatchConfig{
			Threshold:  0.6,
			FloorScore: 0.8,
		},
		Overlay: OverlayConfig{
			Margin:  20,
			Gap:     8,
			Padding: 4,
		},
		NATS: NATSConfig{
			SubjectPrefix: "tenants",
		},
	}
}

// Validate clamps values to safe ranges. It only fails on values that cannot
// be repaired.
func (c *Config) Validate() error {
	def := Default()
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.OutputDir == "" {
		c.OutputDir = def.OutputDir
	}
	if c.Capture.MaxIterations <= 0 {
		c.Capture.MaxIterations = def.Capture.MaxIterations
	}
	if c.Capture.Interval <= 0 {
		c.Capture.Interval = def.Capture.Interval
	}
	if c.Capture.NudgeEvery <= 0 {
		c.Capture.NudgeEvery = def.Capture.NudgeEvery
	}
	if c.Capture.Domain == "" {
		c.Capture.Domain = def.Capture.Domain
	}
	if c.API.BaseURL == "" {
		c.API.BaseURL = def.API.BaseURL
	}
	if c.API.Timeout <= 0 {
		c.API.Timeout = def.API.Timeout
	}
	if c.API.RequestsPerSecond <= 0 {
		c.API.RequestsPerSecond = def.API.RequestsPerSecond
	}
	if c.API.Burst <= 0 {
		c.API.Burst = def.API.Burst
	}
	if len(c.OCR.Languages) == 0 {
		c.OCR.Languages = def.OCR.Languages
	}
	if c.OCR.MaxSide <= 0 {
		c.OCR.MaxSide = def.OCR.MaxSide
	}
	if c.OCR.ClipLimit <= 0 {
		c.OCR.ClipLimit = def.OCR.ClipLimit
	}
	if c.OCR.MinConfidence < 0 || c.OCR.MinConfidence > 1 {
		c.OCR.MinConfidence = def.OCR.MinConfidence
	}
	switch c.Embedding.Provider {
	case "hashed", "ollama":
	case "":
		c.Embedding.Provider = def.Embedding.Provider
	default:
		return fmt.Errorf("config: unknown embedding provider %q", c.Embedding.Provider)
	}
	if c.Embedding.Dims <= 0 {
		c.Embedding.Dims = def.Embedding.Dims
	}
	if c.Embedding.Timeout <= 0 {
		c.Embedding.Timeout = def.Embedding.Timeout
	}
	if c.Match.Threshold <= 0 || c.Match.Threshold > 1 {
		c.Match.Threshold = def.Match.Threshold
	}
	if c.Match.FloorScore <= 0 || c.Match.FloorScore > 1 {
		c.Match.FloorScore = def.Match.FloorScore
	}
	if c.Overlay.Margin < 0 {
		c.Overlay.Margin = def.Overlay.Margin
	}
	if c.Overlay.Gap < 0 {
		c.Overlay.Gap = def.Overlay.Gap
	}
	if c.Overlay.Padding < 0 {
		c.Overlay.Padding = def.Overlay.Padding
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = def.NATS.SubjectPrefix
	}
	return nil
}

// Load reads configuration from a YAML file. If the file does not exist it
// returns Default(). On a parse error it returns defaults with the error.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return Default(), fmt.Errorf("config: %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save writes the configuration to path in YAML format.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ParseLevel maps a level name to a slog level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("config: unknown log level %q", s)
}
