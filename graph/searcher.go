package graph

import (
	"container/heap"
	"sort"

	"github.com/hupe1980/annex/internal/visited"
)

// NodeScore pairs an ordinal with its similarity to the query.
type NodeScore struct {
	Node  int
	Score float32
}

// SearchResult holds the ordered top results plus diagnostic counters.
type SearchResult struct {
	// Nodes is ordered by decreasing score.
	Nodes []NodeScore

	// Visited counts nodes scored during the search.
	Visited int
	// Expanded counts nodes whose neighbor lists were expanded.
	Expanded int
	// ExpandedBaseLayer counts expansions in layer 0.
	ExpandedBaseLayer int
	// Reranked counts nodes rescored with the exact function.
	Reranked int
}

// scoreHeap is a max-heap of candidates by score.
type scoreHeap []NodeScore

func (h scoreHeap) Len() int            { return len(h) }
func (h scoreHeap) Less(i, j int) bool  { return h[i].Score > h[j].Score }
func (h scoreHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *scoreHeap) Push(x interface{}) { *h = append(*h, x.(NodeScore)) }

func (h *scoreHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// GraphSearcher runs best-first beam searches against a graph view. A
// searcher owns reusable scratch (visited set and candidate heap; the result
// buffer is allocated per search) and is not safe for concurrent use; create
// one per goroutine.
type GraphSearcher struct {
	view       View
	visited    *visited.Set
	candidates scoreHeap
}

// NewGraphSearcher creates a searcher over a fresh view of g.
func NewGraphSearcher(g *OnHeapGraphIndex) *GraphSearcher {
	return NewGraphSearcherView(g.GetView())
}

// NewGraphSearcherView creates a searcher over an explicit view.
func NewGraphSearcherView(view View) *GraphSearcher {
	return &GraphSearcher{
		view:    view,
		visited: visited.New(view.IdUpperBound() + 1),
	}
}

// Search runs a beam search for the topK best nodes with default rerank
// depth (topK) and no score threshold.
func (s *GraphSearcher) Search(ssp *SearchScoreProvider, topK int, accept Bits) *SearchResult {
	return s.SearchWith(ssp, topK, topK, 0, accept)
}

// SearchWith runs a beam search keeping rerankK candidates (rerankK >=
// topK), admitting results only at or above threshold, and gating admission (not
// traversal) through accept. An empty or fully-filtered graph yields an
// empty result.
func (s *GraphSearcher) SearchWith(ssp *SearchScoreProvider, topK, rerankK int, threshold float32, accept Bits) *SearchResult {
	result := &SearchResult{}
	if rerankK < topK {
		rerankK = topK
	}

	entry := s.view.EntryNode()
	if entry.Node < 0 {
		return result
	}

	admit := intersect(accept, s.view.LiveNodes())

	// Descent phase: greedy 1-best walk down to the base layer.
	ep := NodeScore{Node: entry.Node, Score: ssp.Score(entry.Node)}
	result.Visited++
	for level := entry.Level; level > 0; level-- {
		ep = s.greedyStep(ssp, ep, level, result)
	}

	// Base-layer beam.
	results := s.searchLayer(ssp, []NodeScore{ep}, rerankK, 0, threshold, admit, result)

	// Rerank phase: reorder by exact score and truncate.
	nodes := make([]NodeScore, results.Size())
	for i := range nodes {
		nodes[i] = NodeScore{Node: results.Node(i), Score: results.Score(i)}
	}
	if rerank := ssp.Rerank(); rerank != nil {
		for i := range nodes {
			nodes[i].Score = rerank(nodes[i].Node)
			result.Reranked++
		}
		sort.SliceStable(nodes, func(i, j int) bool {
			return nodes[i].Score > nodes[j].Score
		})
	}
	if len(nodes) > topK {
		nodes = nodes[:topK]
	}
	result.Nodes = nodes
	return result
}

// greedyStep walks to the best improving neighbor at a layer until no
// neighbor improves, then hands the entry point to the next lower layer.
func (s *GraphSearcher) greedyStep(ssp *SearchScoreProvider, ep NodeScore, level int, result *SearchResult) NodeScore {
	for {
		improved := false
		result.Expanded++
		s.view.NeighborsOf(level, ep.Node, func(n int) bool {
			score := ssp.Score(n)
			result.Visited++
			if score > ep.Score {
				ep = NodeScore{Node: n, Score: score}
				improved = true
			}
			return true
		})
		if !improved {
			return ep
		}
	}
}

// searchLayer is the best-first beam over a single layer. It returns up to
// beamWidth results in score-descending order. Traversal is unrestricted;
// admit gates only what enters the result buffer.
func (s *GraphSearcher) searchLayer(ssp *SearchScoreProvider, eps []NodeScore, beamWidth, level int, threshold float32, admit Bits, result *SearchResult) *NodeArray {
	s.visited.Reset()
	s.candidates = s.candidates[:0]

	results := NewNodeArray(beamWidth + 1)

	for _, ep := range eps {
		if s.visited.Visited(ep.Node) {
			continue
		}
		s.visited.Visit(ep.Node)
		heap.Push(&s.candidates, ep)
		if admit.Test(ep.Node) && ep.Score >= threshold {
			results.InsertSorted(ep.Node, ep.Score)
		}
	}

	for s.candidates.Len() > 0 {
		c := heap.Pop(&s.candidates).(NodeScore)
		if results.Size() >= beamWidth && c.Score < results.WorstScore() {
			break
		}

		result.Expanded++
		if level == 0 {
			result.ExpandedBaseLayer++
		}

		s.view.NeighborsOf(level, c.Node, func(n int) bool {
			if s.visited.Visited(n) {
				return true
			}
			s.visited.Visit(n)

			score := ssp.Score(n)
			result.Visited++

			if results.Size() < beamWidth || score > results.WorstScore() {
				heap.Push(&s.candidates, NodeScore{Node: n, Score: score})
				if admit.Test(n) && score >= threshold {
					results.InsertSorted(n, score)
					results.Truncate(beamWidth)
				}
			}
			return true
		})
	}

	return results
}
