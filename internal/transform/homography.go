package transform

import (
	"fmt"
	"math"
	"math/rand"

	"tenant-locator/pkg/geometry"

	"gonum.org/v1/gonum/mat"
)

const (
	// reprojThreshold is the RANSAC inlier distance, measured in normalized
	// (unit standard deviation) pixel space.
	reprojThreshold = 1.0

	// ransacIterations bounds random sampling. Point sets with at most this
	// many 4-subsets are searched exhaustively instead.
	ransacIterations = 2000

	// normEpsilon keeps normalization finite when an axis has no spread.
	normEpsilon = 1e-9
)

// normalization is the per-axis standardization x' = (x - mean) / std.
type normalization struct {
	meanX, meanY float64
	stdX, stdY   float64
}

// forward returns the matrix that maps original units to normalized units.
func (n normalization) forward() geometry.Matrix3 {
	return geometry.Matrix3{
		{1 / n.stdX, 0, -n.meanX / n.stdX},
		{0, 1 / n.stdY, -n.meanY / n.stdY},
		{0, 0, 1},
	}
}

// backward returns the matrix that maps normalized units back to original units.
func (n normalization) backward() geometry.Matrix3 {
	return geometry.Matrix3{
		{n.stdX, 0, n.meanX},
		{0, n.stdY, n.meanY},
		{0, 0, 1},
	}
}

// normalize standardizes points to zero mean and unit (population) standard deviation.
func normalize(points []geometry.Point2D) ([]geometry.Point2D, normalization) {
	c := geometry.Centroid(points)
	var vx, vy float64
	for _, p := range points {
		vx += (p.X - c.X) * (p.X - c.X)
		vy += (p.Y - c.Y) * (p.Y - c.Y)
	}
	n := float64(len(points))
	norm := normalization{
		meanX: c.X,
		meanY: c.Y,
		stdX:  math.Sqrt(vx/n) + normEpsilon,
		stdY:  math.Sqrt(vy/n) + normEpsilon,
	}

	out := make([]geometry.Point2D, len(points))
	for i, p := range points {
		out[i] = geometry.Point2D{
			X: (p.X - norm.meanX) / norm.stdX,
			Y: (p.Y - norm.meanY) / norm.stdY,
		}
	}
	return out, norm
}

// solveHomography normalizes both point sets, fits a homography with RANSAC
// and maps the result back into original units.
func solveHomography(src, dst []geometry.Point2D) (geometry.Matrix3, []bool, error) {
	srcN, srcNorm := normalize(src)
	dstN, dstNorm := normalize(dst)

	hN, inliers, ok := ransacHomography(srcN, dstN)
	if !ok {
		return geometry.Matrix3{}, nil, fmt.Errorf("%w: robust homography fit found no model", ErrUnsolvable)
	}

	h := dstNorm.backward().Mul(hN).Mul(srcNorm.forward())
	if h[2][2] == 0 {
		return geometry.Matrix3{}, nil, fmt.Errorf("%w: degenerate homography", ErrUnsolvable)
	}
	return h.Normalized(), inliers, nil
}

// ransacHomography fits a homography to normalized correspondences, keeping
// the model with the most inliers and refitting it on those inliers.
func ransacHomography(src, dst []geometry.Point2D) (geometry.Matrix3, []bool, bool) {
	n := len(src)
	var (
		best      geometry.Matrix3
		bestCount int
		bestErr   = math.Inf(1)
		found     bool
	)

	try := func(idx [4]int) {
		s := [4]geometry.Point2D{src[idx[0]], src[idx[1]], src[idx[2]], src[idx[3]]}
		d := [4]geometry.Point2D{dst[idx[0]], dst[idx[1]], dst[idx[2]], dst[idx[3]]}
		if degenerateSample(s) || degenerateSample(d) {
			return
		}
		h, ok := dlt(s[:], d[:])
		if !ok {
			return
		}
		count, total := scoreModel(h, src, dst)
		if count > bestCount || (count == bestCount && total < bestErr) {
			best, bestCount, bestErr, found = h, count, total, true
		}
	}

	if binomial4(n) <= ransacIterations {
		for a := 0; a < n; a++ {
			for b := a + 1; b < n; b++ {
				for c := b + 1; c < n; c++ {
					for d := c + 1; d < n; d++ {
						try([4]int{a, b, c, d})
					}
				}
			}
		}
	} else {
		// Fixed seed keeps results reproducible for the same control points.
		rng := rand.New(rand.NewSource(1))
		for iter := 0; iter < ransacIterations; iter++ {
			p := rng.Perm(n)
			try([4]int{p[0], p[1], p[2], p[3]})
		}
	}

	if !found || bestCount < 4 {
		return geometry.Matrix3{}, nil, false
	}

	mask := inlierMask(best, src, dst)
	var inSrc, inDst []geometry.Point2D
	for i, in := range mask {
		if in {
			inSrc = append(inSrc, src[i])
			inDst = append(inDst, dst[i])
		}
	}
	if refit, ok := dlt(inSrc, inDst); ok {
		if count, _ := scoreModel(refit, src, dst); count >= bestCount {
			best = refit
			mask = inlierMask(refit, src, dst)
		}
	}
	return best, mask, true
}

// dlt solves for the homography mapping src to dst with the direct linear
// transform. The solution is the right singular vector of the smallest
// singular value.
func dlt(src, dst []geometry.Point2D) (geometry.Matrix3, bool) {
	n := len(src)
	if n < 4 {
		return geometry.Matrix3{}, false
	}

	A := mat.NewDense(2*n, 9, nil)
	for i := 0; i < n; i++ {
		x, y := src[i].X, src[i].Y
		u, v := dst[i].X, dst[i].Y
		A.SetRow(2*i, []float64{-x, -y, -1, 0, 0, 0, u * x, u * y, u})
		A.SetRow(2*i+1, []float64{0, 0, 0, -x, -y, -1, v * x, v * y, v})
	}

	var svd mat.SVD
	if !svd.Factorize(A, mat.SVDFull) {
		return geometry.Matrix3{}, false
	}
	var v mat.Dense
	svd.VTo(&v)

	var h geometry.Matrix3
	for k := 0; k < 9; k++ {
		h[k/3][k%3] = v.At(k, 8)
	}
	if h[2][2] == 0 {
		return geometry.Matrix3{}, false
	}
	return h.Normalized(), true
}

// scoreModel counts inliers and sums their reprojection errors.
func scoreModel(h geometry.Matrix3, src, dst []geometry.Point2D) (int, float64) {
	count := 0
	total := 0.0
	for i := range src {
		p, ok := h.Apply(src[i])
		if !ok {
			continue
		}
		if d := p.Distance(dst[i]); d <= reprojThreshold {
			count++
			total += d
		}
	}
	return count, total
}

func inlierMask(h geometry.Matrix3, src, dst []geometry.Point2D) []bool {
	mask := make([]bool, len(src))
	for i := range src {
		if p, ok := h.Apply(src[i]); ok && p.Distance(dst[i]) <= reprojThreshold {
			mask[i] = true
		}
	}
	return mask
}

// degenerateSample reports whether any three of the four points are collinear.
func degenerateSample(p [4]geometry.Point2D) bool {
	triples := [4][3]int{{0, 1, 2}, {0, 1, 3}, {0, 2, 3}, {1, 2, 3}}
	for _, t := range triples {
		a, b, c := p[t[0]], p[t[1]], p[t[2]]
		cross := (b.X-a.X)*(c.Y-a.Y) - (b.Y-a.Y)*(c.X-a.X)
		if math.Abs(cross) < 1e-9 {
			return true
		}
	}
	return false
}

func binomial4(n int) int {
	if n < 4 {
		return 0
	}
	return n * (n - 1) * (n - 2) * (n - 3) / 24
}
