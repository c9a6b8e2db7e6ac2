// Package testutil provides deterministic data generators shared by the
// package tests: a seeded RNG and Gaussian blob / uniform point sources.
package testutil

import (
	"math/rand"
	"sync"

	"github.com/hupe1980/streamclust/feature"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Float64 returns a pseudo-random number in [0.0,1.0).
func (r *RNG) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float64()
}

// NormFloat64 returns a standard normal pseudo-random number.
func (r *RNG) NormFloat64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.NormFloat64()
}

// GaussianBlob generates n points normally distributed around center with
// the given standard deviation. Timestamps start at startTS (Unix ms) and
// advance by stepMS per point.
func (r *RNG) GaussianBlob(center []float64, stddev float64, n int, startTS, stepMS int64) []feature.Point {
	points := make([]feature.Point, n)
	for i := range points {
		values := make([]float64, len(center))
		for j, c := range center {
			values[j] = c + r.NormFloat64()*stddev
		}
		points[i] = feature.Point{Timestamp: startTS + int64(i)*stepMS, Values: values}
	}
	return points
}

// UniformPoints generates n points with coordinates uniform in [0, scale).
func (r *RNG) UniformPoints(dim int, scale float64, n int, startTS, stepMS int64) []feature.Point {
	points := make([]feature.Point, n)
	for i := range points {
		values := make([]float64, dim)
		for j := range values {
			values[j] = r.Float64() * scale
		}
		points[i] = feature.Point{Timestamp: startTS + int64(i)*stepMS, Values: values}
	}
	return points
}

// Interleave merges point slices into one stream sorted by timestamp.
func Interleave(streams ...[]feature.Point) []feature.Point {
	var out []feature.Point
	for _, s := range streams {
		out = append(out, s...)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Timestamp < out[j-1].Timestamp; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
