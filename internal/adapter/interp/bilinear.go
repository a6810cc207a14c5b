// Package interp interpolates gridded values at points between grid nodes.
package interp

import (
	"fmt"
	"math"
	"sort"
)

// Weighted blends the four corner values of a grid cell at fractional offsets
// t (along x) and u (along y), both clamped to [0, 1]:
//
//	f ≈ (1-t)(1-u)·v00 + t(1-u)·v10 + (1-t)u·v01 + tu·v11
//
// where v00 sits at (x0, y0), v10 at (x1, y0), v01 at (x0, y1) and v11 at
// (x1, y1). NaN corners are left out and the remaining weights renormalized.
// The result is NaN when every corner with a non-zero weight is NaN.
func Weighted(t, u, v00, v10, v01, v11 float64) float64 {
	t, u = clamp01(t), clamp01(u)
	weights := [4]float64{(1 - t) * (1 - u), t * (1 - u), (1 - t) * u, t * u}
	values := [4]float64{v00, v10, v01, v11}
	var sum, total float64
	for i, w := range weights {
		if w == 0 || math.IsNaN(values[i]) {
			continue
		}
		sum += w * values[i]
		total += w
	}
	if total == 0 {
		return math.NaN()
	}
	return sum / total
}

// Bracket locates v within strictly monotonic coords, ascending or
// descending. It returns the indices of the enclosing nodes and the fraction
// of the way from coords[lo] to coords[hi].
func Bracket(coords []float64, v float64) (lo, hi int, frac float64, err error) {
	n := len(coords)
	if n < 2 {
		return 0, 0, 0, fmt.Errorf("grid must have at least 2 coordinates")
	}
	if !Monotonic(coords) {
		return 0, 0, 0, fmt.Errorf("coordinates must be strictly monotonic")
	}

	// Check if point is within the grid (with small tolerance for floating point).
	const epsilon = 1e-9
	ascending := coords[n-1] > coords[0]
	first, last := coords[0], coords[n-1]
	if !ascending {
		first, last = last, first
	}
	if math.IsNaN(v) || v < first-epsilon || v > last+epsilon {
		return 0, 0, 0, fmt.Errorf("coordinate %.6f is outside grid range [%.6f, %.6f]", v, first, last)
	}

	// First node at or beyond v in the direction of travel.
	i := sort.Search(n, func(i int) bool {
		if ascending {
			return coords[i] >= v
		}
		return coords[i] <= v
	})
	switch {
	case i == 0:
		i = 1
	case i >= n:
		i = n - 1
	}
	lo, hi = i-1, i
	frac = (v - coords[lo]) / (coords[hi] - coords[lo])
	return lo, hi, clamp01(frac), nil
}

// Monotonic reports whether c is strictly increasing or strictly decreasing.
func Monotonic(c []float64) bool {
	if len(c) < 2 {
		return true
	}
	up := c[1] > c[0]
	for i := 1; i < len(c); i++ {
		if up && c[i] <= c[i-1] || !up && c[i] >= c[i-1] {
			return false
		}
	}
	return true
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
