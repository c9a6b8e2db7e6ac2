// Package vecmath provides the numeric kernels shared by the clustering
// components: Euclidean distance (with a bounded early-exit variant),
// component-wise vector arithmetic, and z-score normalization over a batch.
//
// All kernels operate on float64 because the cluster summary algebra
// (variance from sums of squares) is precision-sensitive.
package vecmath

import "math"

// SquaredDistance calculates the squared Euclidean distance between two vectors.
// Assumes vectors are the same length (caller's responsibility).
func SquaredDistance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// Distance calculates the Euclidean distance between two vectors.
// Assumes vectors are the same length (caller's responsibility).
func Distance(a, b []float64) float64 {
	return math.Sqrt(SquaredDistance(a, b))
}

// SquaredDistanceBounded calculates the squared Euclidean distance but stops
// early once the running sum exceeds bound. Returns the (possibly partial)
// sum and whether the full squared distance is within bound.
//
// Use this in nearest-neighbor scans where bound is the current best distance.
func SquaredDistanceBounded(a, b []float64, bound float64) (float64, bool) {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
		if sum > bound {
			return sum, false
		}
	}
	return sum, true
}

// AddInPlace adds v to dst component-wise.
// Assumes vectors are the same length (caller's responsibility).
func AddInPlace(dst, v []float64) {
	for i := range dst {
		dst[i] += v[i]
	}
}

// SubInPlace subtracts v from dst component-wise.
// Assumes vectors are the same length (caller's responsibility).
func SubInPlace(dst, v []float64) {
	for i := range dst {
		dst[i] -= v[i]
	}
}

// ScaleInPlace multiplies every component of dst by s.
func ScaleInPlace(dst []float64, s float64) {
	for i := range dst {
		dst[i] *= s
	}
}

// Stats holds per-dimension mean and standard deviation over a batch of
// vectors, used for z-score normalization.
type Stats struct {
	Mean   []float64
	StdDev []float64
}

// BatchStats computes per-dimension mean and (population) standard deviation
// over a non-empty batch of equal-dimension vectors.
func BatchStats(vectors [][]float64) Stats {
	dim := len(vectors[0])
	n := float64(len(vectors))

	mean := make([]float64, dim)
	for _, v := range vectors {
		AddInPlace(mean, v)
	}
	ScaleInPlace(mean, 1/n)

	std := make([]float64, dim)
	for _, v := range vectors {
		for i := range v {
			d := v[i] - mean[i]
			std[i] += d * d
		}
	}
	for i := range std {
		std[i] = math.Sqrt(std[i] / n)
	}

	return Stats{Mean: mean, StdDev: std}
}

// Normalize returns the z-score normalized copy of v.
// Dimensions with zero standard deviation are centered but not scaled.
func (s Stats) Normalize(v []float64) []float64 {
	out := make([]float64, len(v))
	for i := range v {
		out[i] = v[i] - s.Mean[i]
		if s.StdDev[i] > 0 {
			out[i] /= s.StdDev[i]
		}
	}
	return out
}

// Denormalize restores a z-score normalized vector to raw values.
func (s Stats) Denormalize(v []float64) []float64 {
	out := make([]float64, len(v))
	for i := range v {
		out[i] = v[i]
		if s.StdDev[i] > 0 {
			out[i] *= s.StdDev[i]
		}
		out[i] += s.Mean[i]
	}
	return out
}
