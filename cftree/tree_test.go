package cftree

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/streamclust/feature"
)

func clusterAt(t *testing.T, ts int64, maxRadius float64, points ...[]float64) *feature.ClusterFeature {
	t.Helper()
	require.NotEmpty(t, points)
	cf := feature.NewFromPoint(feature.Point{Timestamp: ts, Values: points[0]}, maxRadius)
	for i, v := range points[1:] {
		require.NoError(t, cf.Absorb(feature.Point{Timestamp: ts + int64(i+1)*100, Values: v}))
	}
	return cf
}

// verifyAggregates recomputes every reachable node's aggregate from its leaf
// descendants and compares it against the cached value. It also checks
// parent back-references and that all leaves sit at the same depth.
func verifyAggregates(t *testing.T, tr *Tree) {
	t.Helper()
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if tr.root == nilNode {
		assert.Equal(t, 0, tr.size)
		return
	}

	entries := 0
	leafDepth := -1

	var walk func(idx, depth int) (float64, []float64)
	walk = func(idx, depth int) (float64, []float64) {
		n := &tr.nodes[idx]
		count := 0.0
		sum := make([]float64, tr.dim)

		if n.leaf {
			if leafDepth == -1 {
				leafDepth = depth
			}
			assert.Equal(t, leafDepth, depth, "leaves must share one depth")
			for _, e := range n.entries {
				entries++
				count += e.Feature.Count
				for i, v := range e.Feature.LinearSum {
					sum[i] += v
				}
			}
		} else {
			require.NotEmpty(t, n.children, "internal nodes are never empty")
			for _, ci := range n.children {
				assert.Equal(t, idx, tr.nodes[ci].parent, "stale parent index")
				cc, cs := walk(ci, depth+1)
				count += cc
				for i, v := range cs {
					sum[i] += v
				}
			}
		}

		assert.InDelta(t, count, n.count, 1e-6, "cached count diverged")
		for i, v := range sum {
			assert.InDelta(t, v, n.sum[i], 1e-6, "cached sum diverged")
		}
		return count, sum
	}

	walk(tr.root, 0)
	assert.Equal(t, tr.size, entries)
}

func TestTreeConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())

	cfg.MaxEntries = 1
	assert.ErrorIs(t, cfg.Validate(), feature.ErrInvalidParameter)

	cfg = DefaultConfig()
	cfg.Lambda = 1
	assert.ErrorIs(t, cfg.Validate(), feature.ErrInvalidParameter)

	cfg = DefaultConfig()
	cfg.SparseFactor = 0
	assert.ErrorIs(t, cfg.Validate(), feature.ErrInvalidParameter)

	cfg = DefaultConfig()
	cfg.OverlapFactor = -1
	assert.ErrorIs(t, cfg.Validate(), feature.ErrInvalidParameter)
}

func TestInsertIntoEmptyTree(t *testing.T) {
	tr, err := New(DefaultConfig())
	require.NoError(t, err)

	cf := clusterAt(t, 1000, 200, []float64{1, 2})
	res, err := tr.Insert(cf)
	require.NoError(t, err)

	assert.False(t, res.Absorbed)
	assert.Equal(t, []*feature.ClusterFeature{cf}, res.Updated)
	assert.Empty(t, res.Evicted)
	assert.Equal(t, 1, tr.Len())
	verifyAggregates(t, tr)
}

func TestInsertDimensionMismatch(t *testing.T) {
	tr, err := New(DefaultConfig())
	require.NoError(t, err)

	_, err = tr.Insert(clusterAt(t, 1000, 200, []float64{1, 2}))
	require.NoError(t, err)

	_, err = tr.Insert(clusterAt(t, 1000, 200, []float64{1, 2, 3}))
	assert.ErrorIs(t, err, feature.ErrDimensionMismatch)
}

func TestInsertIdempotentUnderFullOverlap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OverlapFactor = 1.0
	tr, err := New(cfg)
	require.NoError(t, err)

	// Two clusters with identical centers and overlapping lifespans.
	a := clusterAt(t, 1000, 200, []float64{0, 0}, []float64{2, 0}, []float64{1, 1})
	b := clusterAt(t, 1100, 200, []float64{0, 0}, []float64{2, 0}, []float64{1, 1})

	_, err = tr.Insert(a)
	require.NoError(t, err)
	res, err := tr.Insert(b)
	require.NoError(t, err)

	assert.True(t, res.Absorbed)
	require.Equal(t, 1, tr.Len())

	merged := tr.Features()[0]
	assert.Equal(t, float64(6), merged.Count)
	assert.Equal(t, a.ID, merged.ID, "the resident entry's ID survives")
	verifyAggregates(t, tr)
}

func TestOrphanRule(t *testing.T) {
	tr, err := New(DefaultConfig())
	require.NoError(t, err)

	// Established cluster around the origin with a modest radius.
	home := clusterAt(t, 1000, 5, []float64{0, 0}, []float64{2, 0}, []float64{0, 2}, []float64{-2, 0})
	_, err = tr.Insert(home)
	require.NoError(t, err)
	r := home.Radius()

	// A singleton within twice the established radius is accepted.
	near := clusterAt(t, 2000, 5, []float64{r, 0})
	res, err := tr.Insert(near)
	require.NoError(t, err)
	assert.True(t, res.Absorbed)
	assert.Equal(t, 1, tr.Len())

	// A singleton beyond twice the radius becomes its own entry.
	far := clusterAt(t, 3000, 5, []float64{100, 100})
	res, err = tr.Insert(far)
	require.NoError(t, err)
	assert.False(t, res.Absorbed)
	assert.Equal(t, 2, tr.Len())
	verifyAggregates(t, tr)
}

func TestIrrelevantEntryReplaced(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Lambda = 0.999 // ~20 minutes to irrelevance at sparse factor 0.25
	tr, err := New(cfg)
	require.NoError(t, err)

	old := clusterAt(t, 1000, 5, []float64{0, 0}, []float64{1, 0}, []float64{0, 1})
	_, err = tr.Insert(old)
	require.NoError(t, err)

	// Hours later, a singleton far outside the orphan threshold arrives.
	later := int64(1000 + 6*3600*1000)
	fresh := clusterAt(t, later, 5, []float64{100, 100})
	res, err := tr.Insert(fresh)
	require.NoError(t, err)

	assert.False(t, res.Absorbed)
	require.Len(t, res.Evicted, 1)
	assert.Equal(t, old.ID, res.Evicted[0].ID)
	assert.Equal(t, 1, tr.Len(), "the decayed entry gave up its slot")
	verifyAggregates(t, tr)
}

func TestSplitKeepsSpatialLocality(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxEntries = 3
	tr, err := New(cfg)
	require.NoError(t, err)

	// Two far-apart groups of singleton-free clusters, fed alternately.
	// MaxRadius is tiny so nothing absorbs.
	coords := [][]float64{
		{0, 0}, {1000, 1000}, {0, 10}, {1000, 1010}, {10, 0}, {1010, 1000},
		{10, 10}, {1010, 1010}, {0, 20}, {1000, 1020},
	}
	for i, c := range coords {
		cf := clusterAt(t, int64(1000+i), 0.1, c, []float64{c[0] + 0.2, c[1]})
		_, err := tr.Insert(cf)
		require.NoError(t, err)
	}

	assert.Equal(t, len(coords), tr.Len())
	verifyAggregates(t, tr)

	tr.mu.Lock()
	assert.False(t, tr.nodes[tr.root].leaf, "the root must have split")
	tr.mu.Unlock()
}

func TestSweepEvictsAndCondenses(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxEntries = 3
	cfg.Lambda = 0.999
	tr, err := New(cfg)
	require.NoError(t, err)

	for i := range 10 {
		cf := clusterAt(t, int64(1000+i), 0.1,
			[]float64{float64(i * 100), 0}, []float64{float64(i*100) + 0.2, 0})
		_, err := tr.Insert(cf)
		require.NoError(t, err)
	}
	require.Equal(t, 10, tr.Len())

	// Nothing is stale yet: an immediate sweep is a no-op.
	assert.Empty(t, tr.Sweep(time.UnixMilli(2000)))
	assert.Equal(t, 10, tr.Len())

	// Hours later everything has decayed below the sparse factor.
	evicted := tr.Sweep(time.UnixMilli(1000 + 24*3600*1000))
	assert.Len(t, evicted, 10)
	assert.Equal(t, 0, tr.Len())
	verifyAggregates(t, tr)

	// The emptied tree accepts inserts again.
	_, err = tr.Insert(clusterAt(t, 1, 0.1, []float64{5, 5}))
	require.NoError(t, err)
	assert.Equal(t, 1, tr.Len())
	verifyAggregates(t, tr)
}

func TestEntryDensityMonotonic(t *testing.T) {
	const lambda = 0.9998
	e := newEntry(clusterAt(t, 0, 1, []float64{0}), lambda)

	prevDensity := e.Density(0, lambda)
	prevRatio := feature.Relevance(prevDensity, lambda)
	for _, elapsed := range []int64{1000, 10_000, 100_000, 1_000_000, 10_000_000} {
		d := e.Density(elapsed, lambda)
		ratio := feature.Relevance(d, lambda)
		assert.Less(t, d, prevDensity, "density strictly decreases with idle time")
		assert.LessOrEqual(t, ratio, prevRatio)
		prevDensity, prevRatio = d, ratio
	}

	// The decay floor is 1: one hypothetical arrival with everything else
	// forgotten.
	assert.InDelta(t, 1, e.Density(1<<40, lambda), 1e-9)
}

func TestAggregateConsistencyFuzz(t *testing.T) {
	rng := rand.New(rand.NewSource(1234))

	cfg := DefaultConfig()
	cfg.MaxEntries = 4
	cfg.Lambda = 0.999
	tr, err := New(cfg)
	require.NoError(t, err)

	now := int64(1_000_000)
	for op := range 400 {
		now += rng.Int63n(30_000)

		center := []float64{rng.Float64() * 1000, rng.Float64() * 1000}
		points := [][]float64{center}
		for range rng.Intn(4) {
			points = append(points, []float64{
				center[0] + rng.NormFloat64(),
				center[1] + rng.NormFloat64(),
			})
		}

		_, err := tr.Insert(clusterAt(t, now, 2, points...))
		require.NoError(t, err)

		if op%25 == 24 {
			// Jump ahead occasionally so sweeps actually evict.
			now += int64(rng.Intn(3)) * 3600 * 1000
			tr.Sweep(time.UnixMilli(now))
		}

		verifyAggregates(t, tr)
	}
}
