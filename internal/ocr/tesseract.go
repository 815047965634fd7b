// Package ocr recognises text lines on map screenshots with Tesseract.
package ocr

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"sync"

	"tenant-locator/internal/match"
	"tenant-locator/pkg/geometry"

	"github.com/otiai10/gosseract/v2"
	"gocv.io/x/gocv"
)

// Options tune preprocessing and recognition.
type Options struct {
	Languages     []string
	MaxSide       int     // longer images are downscaled to this size
	ClipLimit     float64 // CLAHE clip limit
	MinConfidence float64 // 0..1; lines below are dropped
}

// DefaultOptions returns the settings tuned for mall directory maps.
func DefaultOptions() Options {
	return Options{
		Languages:     []string{"eng"},
		MaxSide:       3000,
		ClipLimit:     3.0,
		MinConfidence: 0.1,
	}
}

// Engine provides OCR functionality using Tesseract. It is safe for
// concurrent use; recognitions are serialised on the single client.
type Engine struct {
	mu     sync.Mutex
	client *gosseract.Client
	opts   Options
	logger *slog.Logger
}

// NewEngine creates a new OCR engine.
func NewEngine(opts Options, logger *slog.Logger) (*Engine, error) {
	def := DefaultOptions()
	if len(opts.Languages) == 0 {
		opts.Languages = def.Languages
	}
	if opts.MaxSide <= 0 {
		opts.MaxSide = def.MaxSide
	}
	if opts.ClipLimit <= 0 {
		opts.ClipLimit = def.ClipLimit
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := gosseract.NewClient()
	if err := client.SetLanguage(opts.Languages...); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set OCR language: %w", err)
	}
	// Store names are full of brand spellings; keep the dictionary from
	// rewriting them.
	_ = client.SetVariable("load_system_dawg", "false")
	_ = client.SetVariable("load_freq_dawg", "false")

	return &Engine{client: client, opts: opts, logger: logger}, nil
}

// Close releases OCR resources.
func (e *Engine) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}

// Recognize implements match.OCREngine. Bounding boxes are reported in the
// pixel space of img.
func (e *Engine) Recognize(ctx context.Context, img image.Image) ([]match.Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	processed, scale, err := Preprocess(img, e.opts)
	if err != nil {
		return nil, err
	}
	defer processed.Close()

	buf, err := gocv.IMEncode(gocv.PNGFileExt, processed)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	defer buf.Close()

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.client.SetPageSegMode(gosseract.PSM_SPARSE_TEXT); err != nil {
		return nil, fmt.Errorf("failed to set PSM: %w", err)
	}
	if err := e.client.SetImageFromBytes(buf.GetBytes()); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}
	boxes, err := e.client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, fmt.Errorf("failed to get boxes: %w", err)
	}

	tokens := toTokens(boxes, scale, e.opts.MinConfidence)
	e.logger.Debug("ocr done", "lines", len(boxes), "tokens", len(tokens), "scale", scale)
	return tokens, nil
}

// toTokens converts Tesseract lines into tokens, undoing the preprocessing
// scale and dropping empty or low-confidence lines.
func toTokens(boxes []gosseract.BoundingBox, scale, minConfidence float64) []match.Token {
	if scale <= 0 {
		scale = 1
	}
	var tokens []match.Token
	for _, box := range boxes {
		text := strings.Join(strings.Fields(box.Word), " ")
		if text == "" {
			continue
		}
		conf := box.Confidence / 100
		if conf < minConfidence {
			continue
		}
		r := geometry.NewRect(
			float64(box.Box.Min.X), float64(box.Box.Min.Y),
			float64(box.Box.Dx()), float64(box.Box.Dy()),
		)
		tokens = append(tokens, match.Token{
			Text:       text,
			BBox:       geometry.QuadFromRect(r).Scale(1 / scale),
			Confidence: conf,
		})
	}
	return tokens
}
