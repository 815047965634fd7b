package image

import (
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
)

func TestSaveLoad(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 40, 20))
	src.SetNRGBA(5, 5, color.NRGBA{R: 255, A: 255})

	dir := t.TempDir()
	path, err := Save(filepath.Join(dir, "map.png"), src)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if b := s.Image.Bounds(); b.Dx() != 40 || b.Dy() != 20 {
		t.Fatalf("unexpected size %dx%d", b.Dx(), b.Dy())
	}
	if c := s.Image.NRGBAAt(5, 5); c.R != 255 {
		t.Fatalf("pixel not preserved: %+v", c)
	}
}

func TestSaveUnencodableFallsBackToPNG(t *testing.T) {
	src := imaging.New(4, 4, color.White)
	path, err := Save(filepath.Join(t.TempDir(), "map.webp"), src)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if filepath.Ext(path) != ".png" {
		t.Fatalf("expected png fallback, got %s", path)
	}
}

func TestAnnotatedPath(t *testing.T) {
	got := AnnotatedPath("out", "/shots/level1.JPG", "_annotated")
	if got != filepath.Join("out", "level1_annotated.JPG") {
		t.Fatalf("unexpected path %s", got)
	}
}

func TestIsSupportedFormat(t *testing.T) {
	for path, want := range map[string]bool{
		"a.PNG": true, "b.webp": true, "c.tif": true, "d.gif": false, "e": false,
	} {
		if got := IsSupportedFormat(path); got != want {
			t.Errorf("IsSupportedFormat(%q) = %v", path, got)
		}
	}
}
