// Package kmeans reduces temporally grouped windows of raw points into
// compact sets of microclusters.
//
// A group is clustered in z-score normalized space: k-means++-style seeding,
// Lloyd iteration with a triangle-inequality reassignment short-circuit, an
// overlap-driven merge pass, and a choke-guided search for a smaller cluster
// count. The output ClusterFeatures are built from the raw (denormalized)
// member points so their statistics describe the original space.
package kmeans

import (
	"fmt"
	"math"
	"math/rand"
	"slices"
	"sort"
	"time"

	"github.com/hupe1980/streamclust/feature"
	"github.com/hupe1980/streamclust/vecmath"
)

// minGroupSize is the smallest group worth running Lloyd iteration on.
// Smaller groups degenerate to per-point singleton emission.
const minGroupSize = 4

// Config holds the clustering parameters.
type Config struct {
	// Lambda is the temporal decay rate, in (0,1).
	Lambda float64
	// SparseFactor is the minimum relevance ratio for grouping, in (0,1).
	SparseFactor float64
	// OverlapFactor scales cluster radii in the merge decision. Must be >= 0.
	OverlapFactor float64
	// DriftTolerance is the centroid movement below which Lloyd iteration
	// has converged. Must be > 0.
	DriftTolerance float64
	// Choke bounds the acceptable relative increase of the spread of
	// per-cluster deviations when reducing the cluster count by one.
	// Zero means auto-derive from the group's own geometry.
	Choke float64
	// MaxIterations caps a single Lloyd run.
	MaxIterations int
	// NumRetries is the number of rejected reductions tolerated before the
	// cluster-count search gives up.
	NumRetries int
	// MaxRadius is the radius ceiling stamped onto emitted ClusterFeatures.
	MaxRadius float64
	// Seed seeds the internal RNG; 0 derives a seed from the clock.
	Seed int64
}

// DefaultConfig returns the tuning used by the ingestion pipeline unless
// overridden.
func DefaultConfig() Config {
	return Config{
		Lambda:         0.9998,
		SparseFactor:   0.25,
		OverlapFactor:  1.0,
		DriftTolerance: 0.01,
		MaxIterations:  40,
		NumRetries:     2,
		MaxRadius:      200,
	}
}

// Validate rejects parameter values outside their documented domains.
func (c Config) Validate() error {
	if c.Lambda <= 0 || c.Lambda >= 1 {
		return fmt.Errorf("%w: lambda %v outside (0,1)", feature.ErrInvalidParameter, c.Lambda)
	}
	if c.SparseFactor <= 0 || c.SparseFactor >= 1 {
		return fmt.Errorf("%w: sparse factor %v outside (0,1)", feature.ErrInvalidParameter, c.SparseFactor)
	}
	if c.OverlapFactor < 0 {
		return fmt.Errorf("%w: overlap factor %v negative", feature.ErrInvalidParameter, c.OverlapFactor)
	}
	if c.DriftTolerance <= 0 {
		return fmt.Errorf("%w: drift tolerance %v not positive", feature.ErrInvalidParameter, c.DriftTolerance)
	}
	if c.MaxIterations <= 0 {
		return fmt.Errorf("%w: max iterations %d not positive", feature.ErrInvalidParameter, c.MaxIterations)
	}
	if c.MaxRadius <= 0 {
		return fmt.Errorf("%w: max radius %v not positive", feature.ErrInvalidParameter, c.MaxRadius)
	}
	return nil
}

// Clusterer runs the per-group batch reduction. It is not safe for
// concurrent use; each producer owns its own instance.
type Clusterer struct {
	cfg Config
	rng *rand.Rand
}

// New creates a Clusterer, validating the configuration up front.
func New(cfg Config) (*Clusterer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &Clusterer{cfg: cfg, rng: rand.New(rand.NewSource(seed))}, nil
}

// workingCluster owns the transient per-run state for one centroid:
// its current location in normalized space, member point indexes, and the
// distance to its nearest sibling centroid (the triangle-inequality bound).
// It is deliberately separate from feature.ClusterFeature; the durable
// summary is only built once the run has settled.
type workingCluster struct {
	location []float64
	members  []int
	nearest  float64
}

// ClusterGroup reduces one temporally grouped window of points to
// ClusterFeatures.
//
// Groups below the minimum size, and groups whose derived choke threshold
// collapses to zero or below (nothing clusterable), are emitted as one
// singleton microcluster per point rather than reported as errors.
func (c *Clusterer) ClusterGroup(points []feature.Point) []*feature.ClusterFeature {
	if len(points) < minGroupSize {
		return c.singletons(points)
	}

	raw := make([][]float64, len(points))
	for i, p := range points {
		raw[i] = p.Values
	}
	stats := vecmath.BatchStats(raw)
	normed := make([][]float64, len(points))
	for i, v := range raw {
		normed[i] = stats.Normalize(v)
	}

	k := int(math.Sqrt(float64(len(points))))
	clusters := c.lloyd(normed, c.seed(normed, k))
	clusters = c.mergeOverlapping(normed, clusters)

	choke := c.cfg.Choke
	if choke == 0 {
		choke = autoChoke(normed, clusters)
	}
	if choke <= 0 {
		// The group's clusters overlap more than they separate; judged
		// non-clusterable as a whole.
		return c.singletons(points)
	}

	clusters = c.reduce(normed, clusters, choke)
	clusters = c.mergeOverlapping(normed, clusters)

	return c.emit(points, clusters)
}

// singletons emits one N=1 microcluster per point.
func (c *Clusterer) singletons(points []feature.Point) []*feature.ClusterFeature {
	out := make([]*feature.ClusterFeature, len(points))
	for i, p := range points {
		out[i] = feature.NewFromPoint(p, c.cfg.MaxRadius)
	}
	return out
}

// seed selects k initial centroids. The first is uniform random; every
// subsequent one is the point with the maximum selection probability
// d²/Σd² relative to the already-chosen centroids. This is a deterministic
// argmax scan over the roulette wheel, not true weighted sampling.
func (c *Clusterer) seed(points [][]float64, k int) [][]float64 {
	if k < 1 {
		k = 1
	}

	centroids := make([][]float64, 0, k)
	centroids = append(centroids, slices.Clone(points[c.rng.Intn(len(points))]))

	minDist := make([]float64, len(points))
	for i, p := range points {
		minDist[i] = vecmath.SquaredDistance(p, centroids[0])
	}

	for len(centroids) < k {
		best := 0
		for i, d := range minDist {
			if d > minDist[best] {
				best = i
			}
		}
		centroids = append(centroids, slices.Clone(points[best]))

		for i, p := range points {
			if d := vecmath.SquaredDistance(p, centroids[len(centroids)-1]); d < minDist[i] {
				minDist[i] = d
			}
		}
	}

	return centroids
}

// lloyd iterates reassignment and centroid recomputation until no centroid
// drifts more than the tolerance or the iteration cap is hit. Clusters that
// end up empty are dropped.
func (c *Clusterer) lloyd(points [][]float64, centroids [][]float64) []*workingCluster {
	dim := len(points[0])

	clusters := make([]*workingCluster, len(centroids))
	for i, loc := range centroids {
		clusters[i] = &workingCluster{location: slices.Clone(loc)}
	}

	assign := make([]int, len(points))
	for i := range assign {
		assign[i] = -1
	}

	for iter := 0; iter < c.cfg.MaxIterations; iter++ {
		// Distance to the nearest sibling centroid bounds reassignment:
		// a point within half that distance of its own centroid cannot be
		// closer to any other.
		for i, wc := range clusters {
			wc.nearest = math.Inf(1)
			for j, other := range clusters {
				if i == j {
					continue
				}
				if d := vecmath.Distance(wc.location, other.location); d < wc.nearest {
					wc.nearest = d
				}
			}
		}

		for pi, p := range points {
			cur := assign[pi]
			var bound float64
			if cur >= 0 {
				dCur := vecmath.Distance(p, clusters[cur].location)
				if dCur <= clusters[cur].nearest/2 {
					continue
				}
				bound = dCur * dCur
			} else {
				bound = math.Inf(1)
			}

			best := cur
			for ci, wc := range clusters {
				if ci == cur {
					continue
				}
				if d, within := vecmath.SquaredDistanceBounded(p, wc.location, bound); within {
					bound = d
					best = ci
				}
			}
			assign[pi] = best
		}

		for _, wc := range clusters {
			wc.members = wc.members[:0]
		}
		for pi, ci := range assign {
			clusters[ci].members = append(clusters[ci].members, pi)
		}

		var maxDrift float64
		sum := make([]float64, dim)
		for _, wc := range clusters {
			if len(wc.members) == 0 {
				continue
			}
			for i := range sum {
				sum[i] = 0
			}
			for _, pi := range wc.members {
				vecmath.AddInPlace(sum, points[pi])
			}
			vecmath.ScaleInPlace(sum, 1/float64(len(wc.members)))
			if drift := vecmath.Distance(wc.location, sum); drift > maxDrift {
				maxDrift = drift
			}
			copy(wc.location, sum)
		}

		if maxDrift <= c.cfg.DriftTolerance {
			break
		}
	}

	out := clusters[:0]
	for _, wc := range clusters {
		if len(wc.members) > 0 {
			out = append(out, wc)
		}
	}
	return out
}

// mergeOverlapping repeatedly merges any two clusters whose factor-scaled
// deviation radii exceed their center distance, restarting the pair scan
// after every merge.
func (c *Clusterer) mergeOverlapping(points [][]float64, clusters []*workingCluster) []*workingCluster {
	factor := c.cfg.OverlapFactor

	for {
		merged := false
	scan:
		for i := 0; i < len(clusters); i++ {
			for j := i + 1; j < len(clusters); j++ {
				a, b := clusters[i], clusters[j]
				d := vecmath.Distance(a.location, b.location)
				if factor*deviation(points, a)+factor*deviation(points, b) <= d {
					continue
				}

				a.members = append(a.members, b.members...)
				recenter(points, a)
				clusters = slices.Delete(clusters, j, j+1)
				merged = true
				break scan
			}
		}
		if !merged {
			return clusters
		}
	}
}

// reduce searches for a smaller cluster count. Each step re-runs Lloyd with
// one fewer cluster and accepts the candidate if the relative increase of
// the deviation spread stays below the choke threshold, with NumRetries
// rejected attempts tolerated. A severe increase while the surviving
// clusters are already far apart aborts the search immediately.
func (c *Clusterer) reduce(points [][]float64, clusters []*workingCluster, choke float64) []*workingCluster {
	retries := c.cfg.NumRetries
	spread := deviationSpread(points, clusters)

	for len(clusters) > 1 {
		cand := c.lloyd(points, c.seed(points, len(clusters)-1))
		candSpread := deviationSpread(points, cand)

		rel := math.Inf(1)
		switch {
		case spread > 0:
			rel = (candSpread - spread) / spread
		case candSpread == 0:
			rel = 0
		}

		if rel < choke {
			clusters, spread = cand, candSpread
			retries = c.cfg.NumRetries
			continue
		}

		if rel > 2*choke && separation(clusters) > 4*meanDeviation(points, clusters) {
			break
		}

		retries--
		if retries < 0 {
			break
		}
	}

	return clusters
}

// emit builds one ClusterFeature per cluster by absorbing its raw member
// points in timestamp order, so the first point's timestamp becomes the
// creation time.
func (c *Clusterer) emit(points []feature.Point, clusters []*workingCluster) []*feature.ClusterFeature {
	out := make([]*feature.ClusterFeature, 0, len(clusters))

	for _, wc := range clusters {
		members := slices.Clone(wc.members)
		sort.SliceStable(members, func(i, j int) bool {
			return points[members[i]].Timestamp < points[members[j]].Timestamp
		})

		cf := feature.NewEmpty(points[members[0]].Dim(), c.cfg.MaxRadius)
		for _, pi := range members {
			_ = cf.Absorb(points[pi]) // equal dimension within a group
		}
		out = append(out, cf)
	}

	return out
}

// deviation is a cluster's root mean squared member distance from its
// centroid. Singletons have deviation 0.
func deviation(points [][]float64, wc *workingCluster) float64 {
	if len(wc.members) < 2 {
		return 0
	}
	var sum float64
	for _, pi := range wc.members {
		sum += vecmath.SquaredDistance(points[pi], wc.location)
	}
	return math.Sqrt(sum / float64(len(wc.members)))
}

func meanDeviation(points [][]float64, clusters []*workingCluster) float64 {
	if len(clusters) == 0 {
		return 0
	}
	var sum float64
	for _, wc := range clusters {
		sum += deviation(points, wc)
	}
	return sum / float64(len(clusters))
}

// deviationSpread is the standard deviation of the per-cluster deviations,
// the quantity the choke threshold bounds across reductions.
func deviationSpread(points [][]float64, clusters []*workingCluster) float64 {
	if len(clusters) == 0 {
		return 0
	}
	mean := meanDeviation(points, clusters)
	var sum float64
	for _, wc := range clusters {
		d := deviation(points, wc) - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(clusters)))
}

// separation is the minimum inter-centroid distance.
func separation(clusters []*workingCluster) float64 {
	sep := math.Inf(1)
	for i := 0; i < len(clusters); i++ {
		for j := i + 1; j < len(clusters); j++ {
			if d := vecmath.Distance(clusters[i].location, clusters[j].location); d < sep {
				sep = d
			}
		}
	}
	return sep
}

// autoChoke derives the reduction threshold from the group's own geometry:
// the tighter the clusters are relative to their separation, the more slack
// a reduction is given. Collapses to <= 0 when clusters overlap more than
// they separate, which marks the group non-clusterable.
func autoChoke(points [][]float64, clusters []*workingCluster) float64 {
	if len(clusters) < 2 {
		return 1
	}
	sep := separation(clusters)
	if sep == 0 {
		return 0
	}
	return 1 - meanDeviation(points, clusters)/sep
}

// recenter recomputes a cluster's location as the mean of its members.
func recenter(points [][]float64, wc *workingCluster) {
	for i := range wc.location {
		wc.location[i] = 0
	}
	for _, pi := range wc.members {
		vecmath.AddInPlace(wc.location, points[pi])
	}
	vecmath.ScaleInPlace(wc.location, 1/float64(len(wc.members)))
}
