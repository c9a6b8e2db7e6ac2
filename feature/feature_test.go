package feature

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pt(ts int64, values ...float64) Point {
	return Point{Timestamp: ts, Values: values}
}

func TestNewFromPoint(t *testing.T) {
	cf := NewFromPoint(pt(1000, 1, 2, 3), 200)

	require.NotEmpty(t, cf.ID)
	assert.Equal(t, 3, cf.Dim())
	assert.Equal(t, float64(1), cf.Count)
	assert.Equal(t, []float64{1, 2, 3}, cf.LinearSum)
	assert.Equal(t, []float64{1, 4, 9}, cf.SquaredSum)
	assert.Equal(t, int64(1000), cf.CreatedAt)
	assert.Equal(t, int64(1000), cf.LastAbsorbed)
	assert.True(t, cf.Dirty())
	assert.False(t, cf.IsSuper())

	// N == 1: true radius is undefined, MaxRadius is the fallback.
	assert.Equal(t, float64(200), cf.Radius())
}

func TestAbsorb(t *testing.T) {
	cf := NewFromPoint(pt(1000, 0, 0), 10)
	require.NoError(t, cf.Absorb(pt(2000, 2, 4)))

	assert.Equal(t, float64(2), cf.Count)
	assert.Equal(t, []float64{1, 2}, cf.Center())
	assert.Equal(t, int64(1000), cf.CreatedAt)
	assert.Equal(t, int64(2000), cf.LastAbsorbed)
	assert.InDelta(t, 3000, cf.TimeSum, 1e-9)

	// Out-of-order point widens the lifespan on both ends.
	require.NoError(t, cf.Absorb(pt(500, 1, 1)))
	assert.Equal(t, int64(500), cf.CreatedAt)
	assert.Equal(t, int64(2000), cf.LastAbsorbed)

	assert.ErrorIs(t, cf.Absorb(pt(3000, 1, 2, 3)), ErrDimensionMismatch)
}

func TestMergeEquivalence(t *testing.T) {
	// Merging two clusters must yield the same statistics as absorbing all
	// of their points into one cluster directly.
	pointsA := []Point{pt(100, 1, 1), pt(200, 2, 2), pt(300, 3, 3)}
	pointsB := []Point{pt(400, 10, 0), pt(500, 12, 2)}

	a := NewFromPoint(pointsA[0], 50)
	for _, p := range pointsA[1:] {
		require.NoError(t, a.Absorb(p))
	}
	b := NewFromPoint(pointsB[0], 50)
	require.NoError(t, b.Absorb(pointsB[1]))

	direct := NewFromPoint(pointsA[0], 50)
	for _, p := range append(pointsA[1:], pointsB...) {
		require.NoError(t, direct.Absorb(p))
	}

	keepID := a.ID
	require.NoError(t, a.Merge(b))

	assert.Equal(t, keepID, a.ID, "surviving cluster keeps its ID")
	assert.Equal(t, direct.Count, a.Count)
	assert.Equal(t, direct.LinearSum, a.LinearSum)
	assert.Equal(t, direct.SquaredSum, a.SquaredSum)
	assert.Equal(t, direct.CreatedAt, a.CreatedAt)
	assert.Equal(t, direct.LastAbsorbed, a.LastAbsorbed)
	assert.InDelta(t, direct.TimeSum, a.TimeSum, 1e-9)
	assert.InDelta(t, direct.TimeSquaredSum, a.TimeSquaredSum, 1e-9)

	for i, c := range direct.Center() {
		assert.InDelta(t, c, a.Center()[i], 1e-12)
	}

	assert.False(t, a.IsSuper(), "plain merge does not create a supercluster")

	c := NewFromPoint(pt(0, 1, 2, 3), 50)
	assert.ErrorIs(t, a.Merge(c), ErrDimensionMismatch)
}

func TestRadius(t *testing.T) {
	cf := NewFromPoint(pt(0, 0, 0), 7)
	require.NoError(t, cf.Absorb(pt(1000, 4, 0)))

	// Sample variance: ((0-2)^2 + (4-2)^2) / 1 = 8 in dim 0, ~0 in dim 1.
	assert.InDelta(t, math.Sqrt(8), cf.Radius(), 1e-5)
	assert.GreaterOrEqual(t, cf.Radius(), 0.0)

	// Identical points: true radius degenerates to ~0, but stays positive
	// thanks to the variance clamp.
	same := NewFromPoint(pt(0, 5, 5), 7)
	require.NoError(t, same.Absorb(pt(1000, 5, 5)))
	assert.GreaterOrEqual(t, same.Radius(), 0.0)
	assert.Less(t, same.Radius(), 1e-3)
}

func TestOverlap(t *testing.T) {
	a := NewFromPoint(pt(0, 0, 0), 3)
	b := NewFromPoint(pt(100, 4, 0), 3)

	// Both singletons: radius falls back to MaxRadius 3 each, scaled sum 6 > 4.
	assert.True(t, a.SpatiallyOverlaps(b, 1.0))
	assert.False(t, a.SpatiallyOverlaps(b, 0.5))

	assert.True(t, a.TemporallyOverlaps(b) == (a.CreatedAt <= b.LastAbsorbed && b.CreatedAt <= a.LastAbsorbed))

	late := NewFromPoint(pt(5000, 0, 0), 3)
	assert.False(t, a.TemporallyOverlaps(late))
	assert.True(t, a.TemporallyOverlaps(a))
}

func TestDistanceTo(t *testing.T) {
	cf := NewFromPoint(pt(0, 3, 4), 1)
	assert.InDelta(t, 5, cf.DistanceTo(pt(0, 0, 0)), 1e-12)
	assert.True(t, math.IsInf(cf.DistanceTo(pt(0, 1)), 1))
}

func TestAddMarksSupercluster(t *testing.T) {
	a := NewFromPoint(pt(0, 0, 0, 0), 200)
	require.NoError(t, a.Absorb(pt(1000, 0, 0, 5)))
	require.NoError(t, a.Absorb(pt(2000, 0, 0, 10)))

	assert.Equal(t, float64(3), a.Count)
	assert.Equal(t, []float64{0, 0, 5}, a.Center())

	b := NewFromPoint(pt(1500, 2, 1, 0), 200)
	require.NoError(t, a.Add(b))

	assert.True(t, a.IsSuper())
	assert.Equal(t, []string{b.ID}, a.MemberIDs)
	assert.Equal(t, float64(4), a.Count)

	// Folding in a supercluster inherits its members too.
	c := NewFromPoint(pt(1600, 1, 1, 1), 200)
	require.NoError(t, c.Add(a))
	assert.Len(t, c.MemberIDs, 2)
}

func TestClone(t *testing.T) {
	a := NewFromPoint(pt(0, 1, 2), 10)
	cp := a.Clone()
	cp.LinearSum[0] = 99

	assert.Equal(t, float64(1), a.LinearSum[0], "clone must not share slices")
	assert.Equal(t, a.ID, cp.ID)
}

func TestDensityDecay(t *testing.T) {
	const lambda = 0.99

	maxD := MaxDensity(lambda)
	assert.InDelta(t, 100, maxD, 1e-9)

	// A fresh arrival after a long gap contributes exactly 1.
	d := NextDensity(maxD, 1_000_000_000, lambda)
	assert.InDelta(t, 1, d, 1e-6)

	// Back-to-back arrivals saturate at the cap.
	d = 1.0
	for range 10_000 {
		d = NextDensity(d, 0, lambda)
	}
	assert.InDelta(t, maxD, d, 1e-6)

	// Relevance is monotonically non-increasing in elapsed time.
	prev := math.Inf(1)
	for _, elapsed := range []int64{0, 1000, 5000, 20_000, 60_000, 600_000} {
		cur := Relevance(math.Pow(lambda, float64(elapsed)/1000)*50, lambda)
		assert.LessOrEqual(t, cur, prev)
		prev = cur
	}
}
