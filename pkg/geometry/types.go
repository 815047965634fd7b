// Package geometry provides basic geometric types used throughout the application.
package geometry

import (
	"math"
)

// Point2D represents a 2D point with floating-point coordinates.
type Point2D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NewPoint2D creates a new Point2D.
func NewPoint2D(x, y float64) Point2D {
	return Point2D{X: x, Y: y}
}

// Distance returns the Euclidean distance to another point.
func (p Point2D) Distance(other Point2D) float64 {
	dx := p.X - other.X
	dy := p.Y - other.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// Scale returns the point scaled by a factor.
func (p Point2D) Scale(factor float64) Point2D {
	return Point2D{X: p.X * factor, Y: p.Y * factor}
}

// Rect represents an axis-aligned rectangle with floating-point coordinates.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// NewRect creates a new Rect.
func NewRect(x, y, width, height float64) Rect {
	return Rect{X: x, Y: y, Width: width, Height: height}
}

// Inside returns true if r lies entirely within outer.
func (r Rect) Inside(outer Rect) bool {
	return r.X >= outer.X && r.Y >= outer.Y &&
		r.X+r.Width <= outer.X+outer.Width &&
		r.Y+r.Height <= outer.Y+outer.Height
}

// Center returns the center point of the rectangle.
func (r Rect) Center() Point2D {
	return Point2D{X: r.X + r.Width/2, Y: r.Y + r.Height/2}
}

// Intersects returns true if this rectangle intersects with another.
// Rectangles that only share an edge do not intersect.
func (r Rect) Intersects(other Rect) bool {
	return r.X < other.X+other.Width && r.X+r.Width > other.X &&
		r.Y < other.Y+other.Height && r.Y+r.Height > other.Y
}

// Quad is a quadrilateral given by its four corners, as reported by OCR engines
// (top-left, top-right, bottom-right, bottom-left).
type Quad [4]Point2D

// QuadFromRect returns the quad with the corners of r.
func QuadFromRect(r Rect) Quad {
	return Quad{
		{X: r.X, Y: r.Y},
		{X: r.X + r.Width, Y: r.Y},
		{X: r.X + r.Width, Y: r.Y + r.Height},
		{X: r.X, Y: r.Y + r.Height},
	}
}

// Bounds returns the axis-aligned bounding box of the quad.
func (q Quad) Bounds() Rect {
	return BoundingBox(q[:])
}

// Center returns the centroid of the quad's corners.
func (q Quad) Center() Point2D {
	return Centroid(q[:])
}

// Scale returns the quad with every corner scaled by factor.
func (q Quad) Scale(factor float64) Quad {
	var out Quad
	for i, p := range q {
		out[i] = p.Scale(factor)
	}
	return out
}

// AffineTransform represents a 2x3 affine transformation matrix.
// [a b tx]
// [c d ty]
type AffineTransform struct {
	A, B, TX float64
	C, D, TY float64
}

// Apply applies the transform to a point.
func (t AffineTransform) Apply(p Point2D) Point2D {
	return Point2D{
		X: t.A*p.X + t.B*p.Y + t.TX,
		Y: t.C*p.X + t.D*p.Y + t.TY,
	}
}

// singularTolerance is the smallest |det| accepted relative to the size of
// the determinant's terms.
const singularTolerance = 1e-12

// Inverse returns the inverse transform, if it exists. Transforms whose
// determinant vanishes relative to its terms count as singular.
func (t AffineTransform) Inverse() (AffineTransform, bool) {
	det := t.A*t.D - t.B*t.C
	scale := math.Max(math.Abs(t.A*t.D), math.Abs(t.B*t.C))
	if math.IsNaN(det) || scale == 0 || math.Abs(det) <= singularTolerance*scale {
		return AffineTransform{}, false
	}

	invDet := 1.0 / det
	return AffineTransform{
		A:  t.D * invDet,
		B:  -t.B * invDet,
		TX: (t.B*t.TY - t.D*t.TX) * invDet,
		C:  -t.C * invDet,
		D:  t.A * invDet,
		TY: (t.C*t.TX - t.A*t.TY) * invDet,
	}, true
}

// Matrix3 returns the transform as a 3x3 homogeneous matrix.
func (t AffineTransform) Matrix3() Matrix3 {
	return Matrix3{
		{t.A, t.B, t.TX},
		{t.C, t.D, t.TY},
		{0, 0, 1},
	}
}

// Matrix3 is a row-major 3x3 matrix acting on homogeneous 2D points.
type Matrix3 [3][3]float64

// Apply maps p through the matrix and divides by the homogeneous coordinate.
// ok is false when the denominator is too close to zero, meaning the point maps
// to (or near) infinity.
func (m Matrix3) Apply(p Point2D) (Point2D, bool) {
	w := m[2][0]*p.X + m[2][1]*p.Y + m[2][2]
	if math.Abs(w) < 1e-12 || math.IsNaN(w) {
		return Point2D{}, false
	}
	x := (m[0][0]*p.X + m[0][1]*p.Y + m[0][2]) / w
	y := (m[1][0]*p.X + m[1][1]*p.Y + m[1][2]) / w
	if math.IsInf(x, 0) || math.IsInf(y, 0) || math.IsNaN(x) || math.IsNaN(y) {
		return Point2D{}, false
	}
	return Point2D{X: x, Y: y}, true
}

// Mul returns m * other.
func (m Matrix3) Mul(other Matrix3) Matrix3 {
	var out Matrix3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				out[i][j] += m[i][k] * other[k][j]
			}
		}
	}
	return out
}

// Normalized returns the matrix scaled so that the bottom-right entry is 1.
// Matrices with a zero bottom-right entry are returned unchanged.
func (m Matrix3) Normalized() Matrix3 {
	s := m[2][2]
	if s == 0 {
		return m
	}
	var out Matrix3
	for i := range m {
		for j := range m[i] {
			out[i][j] = m[i][j] / s
		}
	}
	return out
}

// Centroid computes the centroid (average position) of a set of points.
func Centroid(points []Point2D) Point2D {
	if len(points) == 0 {
		return Point2D{}
	}
	var sumX, sumY float64
	for _, p := range points {
		sumX += p.X
		sumY += p.Y
	}
	n := float64(len(points))
	return Point2D{X: sumX / n, Y: sumY / n}
}

// BoundingBox computes the axis-aligned bounding box of a set of points.
func BoundingBox(points []Point2D) Rect {
	if len(points) == 0 {
		return Rect{}
	}
	minX, minY := points[0].X, points[0].Y
	maxX, maxY := minX, minY
	for _, p := range points[1:] {
		if p.X < minX {
			minX = p.X
		}
		if p.X > maxX {
			maxX = p.X
		}
		if p.Y < minY {
			minY = p.Y
		}
		if p.Y > maxY {
			maxY = p.Y
		}
	}
	return Rect{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}
