package graph

import (
	"context"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/annex/distance"
	"github.com/hupe1980/annex/pq"
	"github.com/hupe1980/annex/vectorstore"
)

func randomVectors(rng *rand.Rand, n, dim int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dim)
		for j := range v {
			v[j] = rng.Float32()
		}
		out[i] = v
	}
	return out
}

func trainPQ(t *testing.T, ctx context.Context, ravv vectorstore.VectorSource, m, k int) (*pq.ProductQuantization, *pq.PQVectors) {
	t.Helper()
	p, err := pq.Compute(ravv, m, k, false, pq.WithSeed(17))
	require.NoError(t, err)
	cv, err := p.EncodeAll(ctx, ravv)
	require.NoError(t, err)
	return p, cv
}

// groundTruth returns the topK exact nearest ordinals for q.
func groundTruth(vectors [][]float32, q []float32, topK int, metric distance.Metric) []int {
	type pair struct {
		ord   int
		score float32
	}
	pairs := make([]pair, len(vectors))
	for i, v := range vectors {
		pairs[i] = pair{ord: i, score: metric.Compare(q, v)}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].score > pairs[j].score })
	out := make([]int, 0, topK)
	for i := 0; i < topK && i < len(pairs); i++ {
		out = append(out, pairs[i].ord)
	}
	return out
}

func recallOf(result *SearchResult, truth []int) float64 {
	predicted := make(map[int]bool, len(result.Nodes))
	for _, ns := range result.Nodes {
		predicted[ns.Node] = true
	}
	hits := 0
	for _, ord := range truth {
		if predicted[ord] {
			hits++
		}
	}
	return float64(hits) / float64(len(truth))
}

// assertGraphEquals verifies entry node, per-layer node sets, and neighbor
// lists (same order, same scores).
func assertGraphEquals(t *testing.T, want, got *OnHeapGraphIndex) {
	t.Helper()
	require.Equal(t, want.EntryNode(), got.EntryNode())
	require.Equal(t, want.MaxLevelLive(), got.MaxLevelLive())

	for level := 0; level <= want.MaxLevelLive(); level++ {
		require.Equal(t, want.Size(level), got.Size(level), "layer %d size", level)
		want.Layer(level).ForEach(func(node int, wantArr *NodeArray) {
			gotNbr := got.Layer(level).Get(node)
			require.NotNil(t, gotNbr, "layer %d node %d", level, node)
			gotArr := gotNbr.Load()
			require.Equal(t, wantArr.Size(), gotArr.Size(), "layer %d node %d degree", level, node)
			for i := 0; i < wantArr.Size(); i++ {
				require.Equal(t, wantArr.Node(i), gotArr.Node(i), "layer %d node %d neighbor %d", level, node, i)
				require.Equal(t, wantArr.Score(i), gotArr.Score(i), "layer %d node %d score %d", level, node, i)
			}
		})
	}
}
