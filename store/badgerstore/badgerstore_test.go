package badgerstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/streamclust/feature"
	"github.com/hupe1980/streamclust/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("", func(o *Options) { o.InMemory = true })
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func newCluster(t *testing.T, tsMS int64) *feature.ClusterFeature {
	t.Helper()
	cf := feature.NewFromPoint(feature.Point{Timestamp: tsMS, Values: []float64{1, 2, 3}}, 100)
	require.NoError(t, cf.Absorb(feature.Point{Timestamp: tsMS + 500, Values: []float64{2, 3, 4}}))
	return cf
}

func TestPutGetRoundtrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	cf := newCluster(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC).UnixMilli())
	require.NoError(t, s.Put(ctx, cf))

	got, err := s.Get(ctx, cf.ID)
	require.NoError(t, err)
	assert.Equal(t, cf.ID, got.ID)
	assert.Equal(t, cf.Count, got.Count)
	assert.Equal(t, cf.LinearSum, got.LinearSum)
	assert.Equal(t, cf.SquaredSum, got.SquaredSum)
	assert.Equal(t, cf.CreatedAt, got.CreatedAt)
	assert.Equal(t, cf.LastAbsorbed, got.LastAbsorbed)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteRemovesIndexEntry(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	cf := newCluster(t, day.Add(6*time.Hour).UnixMilli())
	require.NoError(t, s.Put(ctx, cf))

	n, err := s.IndexCount(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, s.Delete(ctx, cf.ID))

	n, err = s.IndexCount(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	assert.NoError(t, s.Delete(ctx, cf.ID), "deleting an absent ID is not an error")
}

func TestPutMovesIndexAcrossBuckets(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	day1 := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)

	cf := newCluster(t, day1.Add(time.Hour).UnixMilli())
	require.NoError(t, s.Put(ctx, cf))

	// The cluster keeps absorbing into the next day; re-putting it must
	// move, not duplicate, the index entry.
	require.NoError(t, cf.Absorb(feature.Point{
		Timestamp: day2.Add(time.Hour).UnixMilli(),
		Values:    []float64{1, 1, 1},
	}))
	require.NoError(t, s.Put(ctx, cf))

	n, err := s.IndexCount(ctx, day1)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = s.IndexCount(ctx, day2)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestListInTimeRangeSpansDays(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	base := time.Date(2024, 5, 1, 22, 0, 0, 0, time.UTC)
	var ids []string
	for i := range 4 {
		cf := newCluster(t, base.Add(time.Duration(i)*2*time.Hour).UnixMilli())
		require.NoError(t, s.Put(ctx, cf))
		ids = append(ids, cf.ID)
	}

	// Horizon covering the middle two clusters, crossing midnight.
	listed, err := s.ListInTimeRange(ctx, base.Add(time.Hour), base.Add(5*time.Hour))
	require.NoError(t, err)
	require.Len(t, listed, 2)

	got := []string{listed[0].ID, listed[1].ID}
	assert.ElementsMatch(t, []string{ids[1], ids[2]}, got)
}

func TestIndexEntriesSecondGranularity(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	a := newCluster(t, day.Add(10*time.Second).UnixMilli())
	b := newCluster(t, day.Add(20*time.Second).UnixMilli())
	require.NoError(t, s.Put(ctx, a))
	require.NoError(t, s.Put(ctx, b))

	ids, err := s.IndexEntries(ctx, day, day.Unix(), day.Unix()+11)
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID}, ids)
}
