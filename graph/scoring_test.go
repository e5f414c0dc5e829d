package graph

import (
	"context"
	"math/rand"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/annex/distance"
	"github.com/hupe1980/annex/pq"
	"github.com/hupe1980/annex/vectorstore"
)

// Ordinal mapping: graph node i reads ravv ordinal graphToRavv[i], for both
// the search provider and the diversity provider.
func TestScoreProviderOrdinalMapping(t *testing.T) {
	metric := distance.MetricDot
	vectors := [][]float32{
		{1, 0},
		{0, 1},
		{-1, 0},
	}
	ravv := vectorstore.NewMemorySource(vectors, 2)

	// Graph node 0 -> ravv 2, node 1 -> ravv 0, node 2 -> ravv 1.
	graphToRavv := []int{2, 0, 1}
	bsp := RandomAccessScoreProviderWithMap(ravv, graphToRavv, metric)

	ssp0, err := bsp.SearchProviderForNode(0)
	require.NoError(t, err)
	ssp1, err := bsp.SearchProviderForNode(1)
	require.NoError(t, err)
	ssp2, err := bsp.SearchProviderForNode(2)
	require.NoError(t, err)

	// Graph node 0 (vector 2: [-1,0]) vs graph node 1 (vector 0: [1,0]).
	assert.Equal(t, metric.Compare(vectors[2], vectors[0]), ssp0.Score(1))
	// Graph node 1 (vector 0) vs graph node 0 (vector 2).
	assert.Equal(t, metric.Compare(vectors[0], vectors[2]), ssp1.Score(0))
	// Graph node 2 (vector 1: [0,1]) vs graph node 1 (vector 0: [1,0]).
	assert.Equal(t, metric.Compare(vectors[1], vectors[0]), ssp2.Score(1))

	// The diversity provider uses the same mapping.
	dsp0, err := bsp.DiversityProviderFor(0)
	require.NoError(t, err)
	assert.Equal(t, metric.Compare(vectors[2], vectors[0]), dsp0(1))
}

func TestExactProviderIsExactOnly(t *testing.T) {
	ravv := vectorstore.NewMemorySource([][]float32{{1, 0}, {0, 1}}, 2)
	bsp := RandomAccessScoreProvider(ravv, distance.MetricCosine)

	ssp, err := bsp.SearchProviderFor([]float32{1, 0})
	require.NoError(t, err)
	assert.Nil(t, ssp.Rerank(), "exact provider needs no rerank function")
	assert.InDelta(t, 1.0, ssp.Score(0), 1e-6)
}

func TestPQProviderApproximatesAndReranks(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(31))
	vectors := randomVectors(rng, 300, 8)
	ravv := vectorstore.NewMemorySource(vectors, 8)

	_, cv := trainPQ(t, ctx, ravv, 4, 32)
	bsp := PQBuildScoreProvider(distance.MetricL2, cv, ravv)

	q := randomVectors(rng, 1, 8)[0]
	ssp, err := bsp.SearchProviderFor(q)
	require.NoError(t, err)
	defer ssp.Close()

	require.NotNil(t, ssp.Rerank(), "bound ravv enables reranking")

	// The approximate score tracks the exact one loosely; the rerank score
	// is exact.
	for ord := 0; ord < 20; ord++ {
		exact := distance.MetricL2.Compare(q, vectors[ord])
		assert.InDelta(t, exact, ssp.Rerank()(ord), 1e-6)
		assert.InDelta(t, exact, ssp.Score(ord), 0.25)
	}
}

func TestPQProviderWithoutRavvIsApproxOnly(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(37))
	vectors := randomVectors(rng, 200, 8)
	ravv := vectorstore.NewMemorySource(vectors, 8)

	_, cv := trainPQ(t, ctx, ravv, 4, 32)
	bsp := PQBuildScoreProvider(distance.MetricL2, cv, nil)

	ssp, err := bsp.SearchProviderForNode(0)
	require.NoError(t, err)
	defer ssp.Close()
	assert.Nil(t, ssp.Rerank())
	// The decoded reconstruction of node 0 scores itself highest among a few
	// arbitrary candidates most of the time; at minimum it must be scored.
	assert.Greater(t, ssp.Score(0), float32(0))
}

func TestPQProviderRejectsCosineDiversity(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(41))
	vectors := randomVectors(rng, 100, 8)
	ravv := vectorstore.NewMemorySource(vectors, 8)

	_, cv := trainPQ(t, ctx, ravv, 4, 16)
	bsp := PQBuildScoreProvider(distance.MetricCosine, cv, ravv)

	_, err := bsp.DiversityProviderFor(0)
	require.ErrorIs(t, err, pq.ErrUnsupportedSimilarity)
}

func TestBitsFilters(t *testing.T) {
	bm := roaring.New()
	bm.Add(3)
	bm.Add(7)
	bits := BitsFromRoaring(bm)

	assert.True(t, bits.Test(3))
	assert.False(t, bits.Test(4))
	assert.False(t, bits.Test(-1))

	assert.True(t, AllBits.Test(12345))

	both := intersect(bits, AllBits)
	assert.True(t, both.Test(7))

	neither := intersect(bits, BitsFromRoaring(roaring.New()))
	assert.False(t, neither.Test(7))
}
