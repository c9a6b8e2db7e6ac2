package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/streamclust/feature"
)

func TestByName(t *testing.T) {
	for _, name := range []string{"msgpack", "json"} {
		c, ok := ByName(name)
		require.True(t, ok)
		assert.Equal(t, name, c.Name())
	}

	_, ok := ByName("protobuf")
	assert.False(t, ok)
}

func TestClusterRoundtrip(t *testing.T) {
	cf := feature.NewFromPoint(feature.Point{Timestamp: 1_700_000_000_000, Values: []float64{1.5, -2.25}}, 200)
	require.NoError(t, cf.Absorb(feature.Point{Timestamp: 1_700_000_001_000, Values: []float64{2.5, -1.75}}))

	member := feature.NewFromPoint(feature.Point{Timestamp: 1_700_000_002_000, Values: []float64{3, 0}}, 200)
	require.NoError(t, cf.Add(member))

	for _, c := range []Codec{Msgpack{}, JSON{}} {
		t.Run(c.Name(), func(t *testing.T) {
			raw, err := c.Marshal(cf)
			require.NoError(t, err)

			var got feature.ClusterFeature
			require.NoError(t, c.Unmarshal(raw, &got))

			assert.Equal(t, cf.ID, got.ID)
			assert.Equal(t, cf.Count, got.Count)
			assert.Equal(t, cf.LinearSum, got.LinearSum)
			assert.Equal(t, cf.SquaredSum, got.SquaredSum)
			assert.Equal(t, cf.TimeSum, got.TimeSum)
			assert.Equal(t, cf.CreatedAt, got.CreatedAt)
			assert.Equal(t, cf.LastAbsorbed, got.LastAbsorbed)
			assert.Equal(t, cf.MemberIDs, got.MemberIDs)
			assert.Equal(t, cf.MaxRadius, got.MaxRadius)
			assert.True(t, got.IsSuper())
		})
	}
}
