// Package image loads map screenshots and writes annotated copies.
package image

import (
	"fmt"
	"image"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Screenshot is a decoded map screenshot.
type Screenshot struct {
	Path  string
	Image *image.NRGBA
}

// Load decodes a screenshot, applying any EXIF orientation.
func Load(path string) (*Screenshot, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	return &Screenshot{Path: path, Image: imaging.Clone(img)}, nil
}

// Save writes img in the format implied by path's extension. Extensions
// that cannot be encoded fall back to PNG; the returned path is the one
// actually written.
func Save(path string, img image.Image) (string, error) {
	if _, err := imaging.FormatFromFilename(path); err != nil {
		path = strings.TrimSuffix(path, filepath.Ext(path)) + ".png"
	}
	if err := imaging.Save(img, path, imaging.JPEGQuality(92)); err != nil {
		return "", fmt.Errorf("failed to save image: %w", err)
	}
	return path, nil
}

// AnnotatedPath returns the output path for an annotated copy of src in dir,
// keeping the source's extension.
func AnnotatedPath(dir, src, suffix string) string {
	base := filepath.Base(src)
	ext := filepath.Ext(base)
	return filepath.Join(dir, strings.TrimSuffix(base, ext)+suffix+ext)
}

// SupportedFormats returns the list of supported image formats.
func SupportedFormats() []string {
	return []string{".png", ".jpg", ".jpeg", ".tiff", ".tif", ".bmp", ".webp"}
}

// IsSupportedFormat checks if the given path has a supported image format.
func IsSupportedFormat(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, format := range SupportedFormats() {
		if ext == format {
			return true
		}
	}
	return false
}
