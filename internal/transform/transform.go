// Package transform solves the mapping from geographic coordinates (lon/lat)
// to pixel coordinates on a floor map or screenshot.
package transform

import (
	"errors"
	"fmt"
	"math"

	"tenant-locator/pkg/geometry"

	"github.com/paulmach/orb"
	"gonum.org/v1/gonum/mat"
)

// ErrUnsolvable is returned when the control points cannot determine a transform:
// too few points, a collinear configuration, or a failed robust fit.
var ErrUnsolvable = errors.New("transform unsolvable")

// Kind identifies the model a Transform was solved with.
type Kind int

const (
	Affine     Kind = iota // exactly 3 control points
	Homography             // 4 or more control points, RANSAC
)

func (k Kind) String() string {
	switch k {
	case Affine:
		return "affine"
	case Homography:
		return "homography"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ControlPoint is a known correspondence between a geographic coordinate and
// a pixel coordinate.
type ControlPoint struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
}

// Pixel returns the pixel half of the correspondence.
func (c ControlPoint) Pixel() geometry.Point2D {
	return geometry.Point2D{X: c.X, Y: c.Y}
}

// Transform maps geographic coordinates to pixels. It is built whole by Solve
// and never modified afterwards.
type Transform struct {
	Kind    Kind
	Matrix  geometry.Matrix3
	Inliers []bool // per input control point; all true for Affine

	inverse    geometry.Matrix3
	invertible bool
}

// Solve computes the geo->pixel transform for a set of control points.
func Solve(points []ControlPoint) (*Transform, error) {
	n := len(points)
	if n < 3 {
		return nil, fmt.Errorf("%w: need at least 3 control points, got %d", ErrUnsolvable, n)
	}
	for i, p := range points {
		if !finite(p.Lon, p.Lat, p.X, p.Y) {
			return nil, fmt.Errorf("%w: control point %d is not finite", ErrUnsolvable, i)
		}
	}

	src := make([]geometry.Point2D, n)
	dst := make([]geometry.Point2D, n)
	for i, p := range points {
		src[i] = geometry.Point2D{X: p.Lon, Y: p.Lat}
		dst[i] = p.Pixel()
	}
	if collinear(src) {
		return nil, fmt.Errorf("%w: control points are collinear", ErrUnsolvable)
	}
	if collinear(dst) {
		return nil, fmt.Errorf("%w: pixel points are collinear", ErrUnsolvable)
	}

	if n == 3 {
		aff, err := solveAffine(src, dst)
		if err != nil {
			return nil, err
		}
		t := &Transform{
			Kind:    Affine,
			Matrix:  aff.Matrix3(),
			Inliers: []bool{true, true, true},
		}
		inv, ok := aff.Inverse()
		if !ok {
			return nil, fmt.Errorf("%w: affine transform is singular", ErrUnsolvable)
		}
		t.inverse, t.invertible = inv.Matrix3(), true
		return t, nil
	}

	h, inliers, err := solveHomography(src, dst)
	if err != nil {
		return nil, err
	}
	t := &Transform{Kind: Homography, Matrix: h, Inliers: inliers}
	t.inverse, t.invertible = invert(h)
	return t, nil
}

// Project maps a geographic coordinate to a pixel. ok is false when the point
// maps to infinity (homogeneous denominator near zero).
func (t *Transform) Project(lon, lat float64) (geometry.Point2D, bool) {
	return t.Matrix.Apply(geometry.Point2D{X: lon, Y: lat})
}

// ProjectPoint is Project for an orb point.
func (t *Transform) ProjectPoint(p orb.Point) (geometry.Point2D, bool) {
	return t.Project(p.Lon(), p.Lat())
}

// Unproject maps a pixel back to a geographic coordinate using the inverse
// of the solved transform.
func (t *Transform) Unproject(x, y float64) (orb.Point, bool) {
	if !t.invertible {
		return orb.Point{}, false
	}
	p, ok := t.inverse.Apply(geometry.Point2D{X: x, Y: y})
	if !ok {
		return orb.Point{}, false
	}
	return orb.Point{p.X, p.Y}, true
}

// InlierCount returns the number of control points accepted by the fit.
func (t *Transform) InlierCount() int {
	n := 0
	for _, in := range t.Inliers {
		if in {
			n++
		}
	}
	return n
}

// Residuals returns the pixel reprojection error of each control point.
// Points that cannot be projected get +Inf.
func (t *Transform) Residuals(points []ControlPoint) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		got, ok := t.Project(p.Lon, p.Lat)
		if !ok {
			out[i] = math.Inf(1)
			continue
		}
		out[i] = got.Distance(p.Pixel())
	}
	return out
}

// solveAffine solves x = a*lon + b*lat + c and y = d*lon + e*lat + f from
// exactly 3 correspondences. Coordinates are centered before the solve
// because lon/lat values are large relative to their spread.
func solveAffine(src, dst []geometry.Point2D) (geometry.AffineTransform, error) {
	c := geometry.Centroid(src)

	A := mat.NewDense(3, 3, nil)
	bx := mat.NewVecDense(3, nil)
	by := mat.NewVecDense(3, nil)
	for i := 0; i < 3; i++ {
		A.Set(i, 0, src[i].X-c.X)
		A.Set(i, 1, src[i].Y-c.Y)
		A.Set(i, 2, 1)
		bx.SetVec(i, dst[i].X)
		by.SetVec(i, dst[i].Y)
	}

	var px, py mat.VecDense
	if err := px.SolveVec(A, bx); err != nil {
		return geometry.AffineTransform{}, fmt.Errorf("%w: affine solve: %v", ErrUnsolvable, err)
	}
	if err := py.SolveVec(A, by); err != nil {
		return geometry.AffineTransform{}, fmt.Errorf("%w: affine solve: %v", ErrUnsolvable, err)
	}

	a, b := px.AtVec(0), px.AtVec(1)
	d, e := py.AtVec(0), py.AtVec(1)
	return geometry.AffineTransform{
		A: a, B: b, TX: px.AtVec(2) - a*c.X - b*c.Y,
		C: d, D: e, TY: py.AtVec(2) - d*c.X - e*c.Y,
	}, nil
}

// collinear reports whether the points lie (numerically) on a single line.
// The points are standardized and the ratio of the singular values of the
// centered point matrix is compared against a tolerance.
func collinear(points []geometry.Point2D) bool {
	norm, _ := normalize(points)
	n := len(norm)
	m := mat.NewDense(n, 2, nil)
	for i, p := range norm {
		m.Set(i, 0, p.X)
		m.Set(i, 1, p.Y)
	}
	var svd mat.SVD
	if !svd.Factorize(m, mat.SVDNone) {
		return true
	}
	s := svd.Values(nil)
	if len(s) < 2 || s[0] == 0 {
		return true
	}
	return s[1]/s[0] < 1e-6
}

// invert returns the inverse of m, if it exists.
func invert(m geometry.Matrix3) (geometry.Matrix3, bool) {
	d := mat.NewDense(3, 3, []float64{
		m[0][0], m[0][1], m[0][2],
		m[1][0], m[1][1], m[1][2],
		m[2][0], m[2][1], m[2][2],
	})
	var inv mat.Dense
	if err := inv.Inverse(d); err != nil {
		return geometry.Matrix3{}, false
	}
	var out geometry.Matrix3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = inv.At(i, j)
		}
	}
	return out.Normalized(), true
}

func finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
