package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/annex/distance"
	"github.com/hupe1980/annex/vectorstore"
)

// Diversity edge case: v1 sits almost on top of v0 while v2 is orthogonal.
// With max degree 2 there is room for both, so v0 ends up linked to v1 and
// v2 after inserting v0, v1, v2 in order.
func TestDiversityEdgeBothNeighborsKept(t *testing.T) {
	vectors := [][]float32{
		{1, 0},
		{0.99, 0.01},
		{0, 1},
	}
	ravv := vectorstore.NewMemorySource(vectors, 2)
	bsp := RandomAccessScoreProvider(ravv, distance.MetricDot)

	b, err := NewGraphIndexBuilder(bsp, 2, 2, 10, 1.0, 1.0, false, WithSeed(1))
	require.NoError(t, err)

	require.NoError(t, b.AddGraphNode(0))
	require.NoError(t, b.AddGraphNode(1))
	require.NoError(t, b.AddGraphNode(2))
	require.NoError(t, b.Cleanup())

	neighbors := b.Graph().Layer(0).Get(0).Load()
	assert.True(t, neighbors.Contains(1), "v1 should be a neighbor of v0")
	assert.True(t, neighbors.Contains(2), "v2 should be a neighbor of v0")
}

func TestSelectDiversePrunesClusteredCandidates(t *testing.T) {
	// Three near-duplicates of one direction plus one orthogonal vector;
	// with max degree 2 the orthogonal candidate must survive over the
	// second and third duplicates.
	vectors := [][]float32{
		{1, 0},     // source
		{1.0, 0.1}, // candidates 1-3: clustered, mutually closer than to source
		{0.99, 0.12},
		{0.98, 0.14},
		{0, -1}, // candidate 4: diverse
	}
	ravv := vectorstore.NewMemorySource(vectors, 2)
	bsp := RandomAccessScoreProvider(ravv, distance.MetricDot)
	d := NewVamanaDiversity(bsp, 1.0)

	candidates := NewNodeArray(4)
	for _, c := range []int{1, 2, 3, 4} {
		candidates.InsertSorted(c, distance.MetricDot.Compare(vectors[0], vectors[c]))
	}

	selected := d.SelectDiverse(0, candidates, 2)
	require.Equal(t, 2, selected.Size())
	assert.True(t, selected.Contains(1), "best candidate always kept")
	assert.True(t, selected.Contains(4), "orthogonal candidate should displace near-duplicates")
}

func TestSelectDiverseFillsFromPruned(t *testing.T) {
	// All candidates clustered: diversity prunes all but the first, and the
	// fill pass restores the best pruned ones to preserve degree.
	vectors := [][]float32{
		{1, 0},
		{1.0, 0.1},
		{0.99, 0.12},
		{0.98, 0.14},
	}
	ravv := vectorstore.NewMemorySource(vectors, 2)
	bsp := RandomAccessScoreProvider(ravv, distance.MetricDot)
	d := NewVamanaDiversity(bsp, 1.0)

	candidates := NewNodeArray(3)
	for _, c := range []int{1, 2, 3} {
		candidates.InsertSorted(c, distance.MetricDot.Compare(vectors[0], vectors[c]))
	}

	selected := d.SelectDiverse(0, candidates, 2)
	assert.Equal(t, 2, selected.Size())
	assert.True(t, selected.Contains(1))
	assert.True(t, selected.Contains(2))
}

func TestSelectDiverseSkipsSelf(t *testing.T) {
	vectors := [][]float32{{1, 0}, {0, 1}}
	ravv := vectorstore.NewMemorySource(vectors, 2)
	bsp := RandomAccessScoreProvider(ravv, distance.MetricDot)
	d := NewVamanaDiversity(bsp, 1.2)

	candidates := NewNodeArray(2)
	candidates.InsertSorted(0, 1.0)
	candidates.InsertSorted(1, 0.5)

	selected := d.SelectDiverse(0, candidates, 4)
	assert.Equal(t, 1, selected.Size())
	assert.Equal(t, 1, selected.Node(0))
}

func TestDiversityWithPQProvider(t *testing.T) {
	// SDC-backed diversity should behave like exact diversity on clearly
	// separated clusters.
	ctx := context.Background()
	vectors := [][]float32{
		{1, 0, 0, 0},
		{0.9, 0.1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0.9, 0.1},
	}
	ravv := vectorstore.NewMemorySource(vectors, 4)

	p, cv := trainPQ(t, ctx, ravv, 2, 4)
	_ = p

	bsp := PQBuildScoreProvider(distance.MetricDot, cv, ravv)
	fn, err := bsp.DiversityProviderFor(0)
	require.NoError(t, err)

	// Node 1 is near node 0; node 2 is far.
	assert.Greater(t, fn(1), fn(2))
}
