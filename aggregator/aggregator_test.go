package aggregator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/streamclust/feature"
	"github.com/hupe1980/streamclust/store"
)

func clusterAt(t *testing.T, ts time.Time, maxRadius float64, points ...[]float64) *feature.ClusterFeature {
	t.Helper()

	cf := feature.NewFromPoint(feature.Point{Timestamp: ts.UnixMilli(), Values: points[0]}, maxRadius)
	for i, p := range points[1:] {
		require.NoError(t, cf.Absorb(feature.Point{
			Timestamp: ts.Add(time.Duration(i+1) * time.Second).UnixMilli(),
			Values:    p,
		}))
	}

	return cf
}

func TestNewValidatesOverlapFactor(t *testing.T) {
	_, err := New(store.NewMemory(), func(o *Options) { o.OverlapFactor = 0 })
	assert.ErrorIs(t, err, feature.ErrInvalidParameter)
}

func TestRunMergesOverlappingPair(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()

	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	big := clusterAt(t, day.Add(1*time.Hour), 10, []float64{0, 0}, []float64{1, 0})
	small := clusterAt(t, day.Add(2*time.Hour), 10, []float64{3, 0})
	far := clusterAt(t, day.Add(3*time.Hour), 10, []float64{1000, 0})

	for _, cf := range []*feature.ClusterFeature{big, small, far} {
		require.NoError(t, mem.Put(ctx, cf))
	}

	agg, err := New(mem)
	require.NoError(t, err)

	result, err := agg.Run(ctx, day, day.AddDate(0, 0, 1))
	require.NoError(t, err)

	assert.Equal(t, 3, result.Candidates)
	assert.Equal(t, 1, result.Merges)
	assert.Equal(t, 1, result.Deleted)

	// The larger cluster absorbed the smaller and became a supercluster.
	merged, err := mem.Get(ctx, big.ID)
	require.NoError(t, err)
	assert.Equal(t, float64(3), merged.Count)
	assert.True(t, merged.IsSuper())
	assert.Equal(t, []string{small.ID}, merged.MemberIDs)

	_, err = mem.Get(ctx, small.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	untouched, err := mem.Get(ctx, far.ID)
	require.NoError(t, err)
	assert.Equal(t, float64(1), untouched.Count)
	assert.False(t, untouched.IsSuper())
}

func TestRunSkipsSuperclusters(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()

	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	super := clusterAt(t, day.Add(1*time.Hour), 10, []float64{0, 0}, []float64{1, 0})
	member := clusterAt(t, day.Add(1*time.Hour), 10, []float64{0, 1})
	require.NoError(t, super.Add(member))
	require.True(t, super.IsSuper())

	neighbor := clusterAt(t, day.Add(2*time.Hour), 10, []float64{2, 0})

	require.NoError(t, mem.Put(ctx, super))
	require.NoError(t, mem.Put(ctx, neighbor))

	agg, err := New(mem)
	require.NoError(t, err)

	result, err := agg.Run(ctx, day, day.AddDate(0, 0, 1))
	require.NoError(t, err)

	// Only the plain microcluster is a candidate; nothing overlaps it.
	assert.Equal(t, 1, result.Candidates)
	assert.Zero(t, result.Merges)
	assert.Zero(t, result.Deleted)
}

func TestRunHonorsHorizon(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()

	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	inside := clusterAt(t, day.Add(1*time.Hour), 10, []float64{0, 0})
	outside := clusterAt(t, day.Add(30*time.Hour), 10, []float64{1, 0})

	require.NoError(t, mem.Put(ctx, inside))
	require.NoError(t, mem.Put(ctx, outside))

	agg, err := New(mem)
	require.NoError(t, err)

	// Horizon covers only the first day; the overlapping neighbor on day
	// two must not be pulled in.
	result, err := agg.Run(ctx, day, day.AddDate(0, 0, 1))
	require.NoError(t, err)

	assert.Equal(t, 1, result.Candidates)
	assert.Zero(t, result.Merges)

	kept, err := mem.Get(ctx, outside.ID)
	require.NoError(t, err)
	assert.Equal(t, float64(1), kept.Count)
}

func TestRunMergeChainAcrossDays(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()

	day1 := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)

	// a spans (0,0)..(4,4): center (2,2), radius ~3.27. b and c are
	// singletons (radius = max radius 5); they merge first, and the
	// combined cluster then overlaps a, which absorbs it.
	a := clusterAt(t, day1.Add(23*time.Hour), 5,
		[]float64{0, 0}, []float64{4, 0}, []float64{0, 4}, []float64{4, 4})
	b := clusterAt(t, day2.Add(1*time.Hour), 5, []float64{5, 2})
	c := clusterAt(t, day2.Add(2*time.Hour), 5, []float64{10, 2})

	for _, cf := range []*feature.ClusterFeature{a, b, c} {
		require.NoError(t, mem.Put(ctx, cf))
	}

	agg, err := New(mem, func(o *Options) { o.StoreOpsPerSecond = 10_000 })
	require.NoError(t, err)

	result, err := agg.Run(ctx, day1, day2.AddDate(0, 0, 1))
	require.NoError(t, err)

	assert.Equal(t, 3, result.Candidates)
	assert.Equal(t, 2, result.Merges)
	assert.Equal(t, 2, result.Deleted)

	survivor, err := mem.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, float64(6), survivor.Count)
	assert.ElementsMatch(t, []string{b.ID, c.ID}, survivor.MemberIDs)
}
