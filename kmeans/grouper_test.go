package kmeans

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/streamclust/feature"
)

func TestNewGrouperValidation(t *testing.T) {
	_, err := NewGrouper(1.5, 0.5)
	assert.ErrorIs(t, err, feature.ErrInvalidParameter)

	_, err = NewGrouper(0.99, 0)
	assert.ErrorIs(t, err, feature.ErrInvalidParameter)

	_, err = NewGrouper(0.99, 0.5)
	assert.NoError(t, err)
}

func TestGrouperSplitsOnSparseGap(t *testing.T) {
	g, err := NewGrouper(0.5, 0.25)
	require.NoError(t, err)

	// A tight burst of points one millisecond apart stays in one group.
	var closed [][]feature.Point
	for i := range 5 {
		if group := g.Offer(feature.Point{Timestamp: int64(i), Values: []float64{float64(i)}}); group != nil {
			closed = append(closed, group)
		}
	}
	assert.Empty(t, closed)
	assert.Equal(t, 5, g.Pending())

	// With lambda 0.5 the density decays to irrelevance across a long gap,
	// closing the group.
	group := g.Offer(feature.Point{Timestamp: 60_000, Values: []float64{9}})
	require.Len(t, group, 5)
	assert.Equal(t, 1, g.Pending())

	rest := g.Flush()
	require.Len(t, rest, 1)
	assert.Equal(t, int64(60_000), rest[0].Timestamp)
	assert.Equal(t, 0, g.Pending())
	assert.Nil(t, g.Flush())
}

func TestGrouperDenseStreamStaysOpen(t *testing.T) {
	g, err := NewGrouper(0.9998, 0.25)
	require.NoError(t, err)

	// One point per second: decay per step is tiny, relevance stays high.
	for i := range 1000 {
		group := g.Offer(feature.Point{Timestamp: int64(i) * 1000, Values: []float64{1}})
		assert.Nil(t, group)
	}
	assert.Equal(t, 1000, g.Pending())
}
