package overlay

import (
	"image"
	"image/color"

	"tenant-locator/pkg/colorutil"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var labelFace = basicfont.Face7x13

// textSize returns the pixel size of s in the label face.
func textSize(s string) (int, int) {
	m := labelFace.Metrics()
	return font.MeasureString(labelFace, s).Ceil(), (m.Ascent + m.Descent).Ceil()
}

// fillCircle fills a circle with the given color.
func fillCircle(img *image.NRGBA, cx, cy, r int, c color.NRGBA) {
	bounds := img.Bounds()

	for y := cy - r; y <= cy+r; y++ {
		if y < bounds.Min.Y || y >= bounds.Max.Y {
			continue
		}
		for x := cx - r; x <= cx+r; x++ {
			if x < bounds.Min.X || x >= bounds.Max.X {
				continue
			}
			dx, dy := x-cx, y-cy
			if dx*dx+dy*dy <= r*r {
				img.SetNRGBA(x, y, c)
			}
		}
	}
}

// fillRect blends c over the rectangle [x1,x2) x [y1,y2).
func fillRect(img *image.NRGBA, x1, y1, x2, y2 int, c color.NRGBA) {
	r := image.Rect(x1, y1, x2, y2).Intersect(img.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetNRGBA(x, y, colorutil.Over(img.NRGBAAt(x, y), c))
		}
	}
}

// drawRect draws a rectangle outline.
func drawRect(img *image.NRGBA, x1, y1, x2, y2 int, c color.NRGBA) {
	bounds := img.Bounds()
	set := func(x, y int) {
		if (image.Point{x, y}).In(bounds) {
			img.SetNRGBA(x, y, c)
		}
	}
	for x := x1; x <= x2; x++ {
		set(x, y1)
		set(x, y2)
	}
	for y := y1; y <= y2; y++ {
		set(x1, y)
		set(x2, y)
	}
}

// drawText writes s with its top-left corner at (x, y).
func drawText(img *image.NRGBA, x, y int, s string, c color.NRGBA) {
	d := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: labelFace,
		Dot:  fixed.P(x, y+labelFace.Metrics().Ascent.Ceil()),
	}
	d.DrawString(s)
}
