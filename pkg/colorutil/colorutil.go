// Package colorutil provides shared colors for map annotations.
package colorutil

import (
	"image/color"
)

// Common overlay colors.
var (
	Black      = color.NRGBA{R: 0, G: 0, B: 0, A: 255}
	White      = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	MissingRed = color.NRGBA{R: 220, G: 20, B: 60, A: 255}
	LabelFill  = color.NRGBA{R: 255, G: 255, B: 240, A: 235}
)

// Darken reduces the brightness of a color by factor (0..1).
func Darken(c color.NRGBA, factor float64) color.NRGBA {
	factor = min(max(factor, 0), 1)
	return color.NRGBA{
		R: uint8(float64(c.R) * (1 - factor)),
		G: uint8(float64(c.G) * (1 - factor)),
		B: uint8(float64(c.B) * (1 - factor)),
		A: c.A,
	}
}

// Over blends src over dst using src's alpha.
func Over(dst, src color.NRGBA) color.NRGBA {
	a := float64(src.A) / 255
	mix := func(d, s uint8) uint8 {
		return uint8(float64(s)*a + float64(d)*(1-a) + 0.5)
	}
	return color.NRGBA{R: mix(dst.R, src.R), G: mix(dst.G, src.G), B: mix(dst.B, src.B), A: max(dst.A, src.A)}
}
