// Package feature defines the microcluster summary structure (ClusterFeature)
// and its additive statistics algebra.
//
// A ClusterFeature carries sufficient statistics over the points it has
// absorbed: the point count, component-wise linear and squared sums, and the
// corresponding temporal sums over absorption timestamps. Center, radius and
// temporal density are derived from these sums, never stored, so any two
// features of equal dimension can be merged by adding their statistics.
package feature

import (
	"errors"
	"math"
	"slices"

	"github.com/rs/xid"

	"github.com/hupe1980/streamclust/vecmath"
)

var (
	// ErrDimensionMismatch is returned when two vectors, points or clusters
	// of differing dimensionality meet. Mismatches are always rejected,
	// never silently truncated.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrInvalidParameter is returned when a configuration value lies
	// outside its documented domain. Validation happens at configuration
	// time, not at use time.
	ErrInvalidParameter = errors.New("invalid parameter")
)

// minVariance clamps per-dimension sample variance to a small positive value
// so that floating point cancellation cannot produce a negative radius.
const minVariance = 1e-12

// Point is a single timestamped observation in the stream.
type Point struct {
	// Timestamp is the observation time in Unix milliseconds.
	Timestamp int64 `msgpack:"ts" json:"ts"`
	// Values is the observation vector.
	Values []float64 `msgpack:"v" json:"v"`
}

// Dim returns the dimensionality of the point.
func (p Point) Dim() int { return len(p.Values) }

// ClusterFeature is the additive summary of a microcluster.
//
// All fields are exported for codec encoding; mutate them only through the
// methods below so the summary statistics stay consistent.
type ClusterFeature struct {
	// ID is assigned at creation and stable across merges: the surviving
	// cluster keeps its ID.
	ID string `msgpack:"id" json:"id"`

	// Count is the number of absorbed points, kept as float64 for the
	// density and variance math.
	Count float64 `msgpack:"n" json:"n"`

	// LinearSum and SquaredSum are the component-wise sums and
	// sums-of-squares of all absorbed point vectors.
	LinearSum  []float64 `msgpack:"ls" json:"ls"`
	SquaredSum []float64 `msgpack:"ss" json:"ss"`

	// CreatedAt and LastAbsorbed bound the cluster's lifespan in Unix
	// milliseconds. CreatedAt <= LastAbsorbed always holds.
	CreatedAt    int64 `msgpack:"ct" json:"ct"`
	LastAbsorbed int64 `msgpack:"lat" json:"lat"`

	// TimeSum and TimeSquaredSum are the sum and sum-of-squares of
	// absorption timestamps (milliseconds), supporting temporal statistics.
	TimeSum        float64 `msgpack:"tls" json:"tls"`
	TimeSquaredSum float64 `msgpack:"tss" json:"tss"`

	// MemberIDs is non-empty only for a supercluster: a cluster formed by
	// explicitly folding in other persisted clusters via Add.
	MemberIDs []string `msgpack:"members,omitempty" json:"members,omitempty"`

	// MaxRadius is the externally supplied ceiling on radius, used as the
	// fallback when the true radius is undefined (Count == 1) or zero.
	MaxRadius float64 `msgpack:"maxr" json:"maxr"`

	dirty bool
}

// NewFromPoint creates a microcluster from a single point.
func NewFromPoint(p Point, maxRadius float64) *ClusterFeature {
	cf := NewEmpty(p.Dim(), maxRadius)
	_ = cf.Absorb(p) // dimension matches by construction
	return cf
}

// NewEmpty creates an empty accumulator of the given dimension.
// The k-means clusterer fills it by absorbing member points in timestamp
// order; Count stays 0 until the first Absorb.
func NewEmpty(dim int, maxRadius float64) *ClusterFeature {
	return &ClusterFeature{
		ID:         xid.New().String(),
		LinearSum:  make([]float64, dim),
		SquaredSum: make([]float64, dim),
		MaxRadius:  maxRadius,
		dirty:      true,
	}
}

// Dim returns the dimensionality of the cluster. It is fixed at creation.
func (cf *ClusterFeature) Dim() int { return len(cf.LinearSum) }

// IsSuper reports whether this cluster is a supercluster, i.e. it was formed
// by explicitly folding in other persisted clusters.
func (cf *ClusterFeature) IsSuper() bool { return len(cf.MemberIDs) > 0 }

// Dirty reports whether the cluster has been mutated since MarkClean and
// needs to be written through to the store.
func (cf *ClusterFeature) Dirty() bool { return cf.dirty }

// MarkClean clears the dirty flag, typically after a successful store write.
func (cf *ClusterFeature) MarkClean() { cf.dirty = false }

// Absorb folds a single point into the summary statistics.
//
// Timestamps are not required to be monotonic: LastAbsorbed becomes
// max(LastAbsorbed, p.Timestamp) and CreatedAt becomes
// min(CreatedAt, p.Timestamp), so out-of-order points widen the lifespan
// instead of corrupting it.
func (cf *ClusterFeature) Absorb(p Point) error {
	if p.Dim() != cf.Dim() {
		return ErrDimensionMismatch
	}

	if cf.Count == 0 {
		cf.CreatedAt = p.Timestamp
		cf.LastAbsorbed = p.Timestamp
	} else {
		cf.CreatedAt = min(cf.CreatedAt, p.Timestamp)
		cf.LastAbsorbed = max(cf.LastAbsorbed, p.Timestamp)
	}

	cf.Count++
	for i, v := range p.Values {
		cf.LinearSum[i] += v
		cf.SquaredSum[i] += v * v
	}

	ts := float64(p.Timestamp)
	cf.TimeSum += ts
	cf.TimeSquaredSum += ts * ts

	cf.dirty = true
	return nil
}

// Merge adds other's statistics into the receiver. The receiver's ID
// survives; the operation is commutative in statistics but not in ID
// retention. Both clusters must have equal dimension.
func (cf *ClusterFeature) Merge(other *ClusterFeature) error {
	if other.Dim() != cf.Dim() {
		return ErrDimensionMismatch
	}

	if cf.Count == 0 {
		cf.CreatedAt = other.CreatedAt
		cf.LastAbsorbed = other.LastAbsorbed
	} else if other.Count > 0 {
		cf.CreatedAt = min(cf.CreatedAt, other.CreatedAt)
		cf.LastAbsorbed = max(cf.LastAbsorbed, other.LastAbsorbed)
	}

	cf.Count += other.Count
	vecmath.AddInPlace(cf.LinearSum, other.LinearSum)
	vecmath.AddInPlace(cf.SquaredSum, other.SquaredSum)
	cf.TimeSum += other.TimeSum
	cf.TimeSquaredSum += other.TimeSquaredSum

	cf.dirty = true
	return nil
}

// Add folds another persisted cluster into the receiver and marks the result
// as a supercluster: other's ID (and any members it already carried) are
// recorded in MemberIDs. Use Merge for plain statistical merging.
func (cf *ClusterFeature) Add(other *ClusterFeature) error {
	if err := cf.Merge(other); err != nil {
		return err
	}
	cf.MemberIDs = append(cf.MemberIDs, other.ID)
	cf.MemberIDs = append(cf.MemberIDs, other.MemberIDs...)
	return nil
}

// Center returns the centroid of the cluster (LinearSum / Count).
func (cf *ClusterFeature) Center() []float64 {
	center := slices.Clone(cf.LinearSum)
	if cf.Count > 0 {
		vecmath.ScaleInPlace(center, 1/cf.Count)
	}
	return center
}

// Radius returns the root of the summed per-dimension sample variances:
//
//	variance_i = (SquaredSum_i - LinearSum_i^2/N) / (N-1)
//
// Each per-dimension variance is clamped to a small positive epsilon to
// absorb floating point cancellation. When the true radius is undefined
// (N == 1) or degenerates to 0, MaxRadius is returned. The result is
// always >= 0.
func (cf *ClusterFeature) Radius() float64 {
	if cf.Count <= 1 {
		return cf.MaxRadius
	}

	var sum float64
	for i := range cf.LinearSum {
		v := (cf.SquaredSum[i] - cf.LinearSum[i]*cf.LinearSum[i]/cf.Count) / (cf.Count - 1)
		if v < minVariance {
			v = minVariance
		}
		sum += v
	}

	r := math.Sqrt(sum)
	if r == 0 {
		return cf.MaxRadius
	}
	return r
}

// DistanceTo returns the Euclidean distance from the cluster center to the
// point, or +Inf if the dimensions differ.
func (cf *ClusterFeature) DistanceTo(p Point) float64 {
	if p.Dim() != cf.Dim() {
		return math.Inf(1)
	}
	return vecmath.Distance(cf.Center(), p.Values)
}

// CenterDistance returns the Euclidean distance between the two cluster
// centers, or +Inf if the dimensions differ.
func (cf *ClusterFeature) CenterDistance(other *ClusterFeature) float64 {
	if other.Dim() != cf.Dim() {
		return math.Inf(1)
	}
	return vecmath.Distance(cf.Center(), other.Center())
}

// SpatiallyOverlaps reports whether the two clusters' factor-scaled radii
// overlap: factor*r(cf) + factor*r(other) > distance(center, center).
func (cf *ClusterFeature) SpatiallyOverlaps(other *ClusterFeature, factor float64) bool {
	return factor*cf.Radius()+factor*other.Radius() > cf.CenterDistance(other)
}

// TemporallyOverlaps reports whether the two clusters' [CreatedAt,
// LastAbsorbed] lifespans intersect.
func (cf *ClusterFeature) TemporallyOverlaps(other *ClusterFeature) bool {
	return cf.CreatedAt <= other.LastAbsorbed && other.CreatedAt <= cf.LastAbsorbed
}

// Clone returns a deep copy of the cluster. The copy shares the dirty state
// of the original.
func (cf *ClusterFeature) Clone() *ClusterFeature {
	cp := *cf
	cp.LinearSum = slices.Clone(cf.LinearSum)
	cp.SquaredSum = slices.Clone(cf.SquaredSum)
	cp.MemberIDs = slices.Clone(cf.MemberIDs)
	return &cp
}
