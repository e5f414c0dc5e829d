package graph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/annex/internal/bitset"
	"github.com/hupe1980/annex/vectorstore"
)

// GraphIndexBuilder drives concurrent insertion into an OnHeapGraphIndex:
// per-node level sampling, candidate search, diverse neighbor selection,
// backlinking, and entry-point maintenance.
type GraphIndexBuilder struct {
	bsp       BuildScoreProvider
	dimension int
	maxDegree int
	beamWidth int

	neighborOverflow float32
	alpha            float32
	addHierarchy     bool

	graph  *OnHeapGraphIndex
	logger *slog.Logger

	rngMu   sync.Mutex
	rng     *rand.Rand
	entryMu sync.Mutex

	// layerMultiplier is 1/ln(M): the geometric level distribution parameter.
	layerMultiplier float64
}

// BuilderOption configures a GraphIndexBuilder.
type BuilderOption func(*GraphIndexBuilder)

// WithSeed fixes the level-sampling RNG for reproducible hierarchies.
func WithSeed(seed int64) BuilderOption {
	return func(b *GraphIndexBuilder) { b.rng = rand.New(rand.NewSource(seed)) }
}

// WithLogger attaches a structured logger; the default discards output.
func WithLogger(logger *slog.Logger) BuilderOption {
	return func(b *GraphIndexBuilder) { b.logger = logger }
}

// NewGraphIndexBuilder creates a builder.
//
// maxDegree bounds the per-node degree (M), beamWidth the construction
// search depth (W), neighborOverflow >= 1 the temporary degree headroom, and
// alpha >= 1 the diversity relaxation. With addHierarchy false all nodes go
// to layer 0.
func NewGraphIndexBuilder(bsp BuildScoreProvider, dimension, maxDegree, beamWidth int, neighborOverflow, alpha float32, addHierarchy bool, opts ...BuilderOption) (*GraphIndexBuilder, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("graph: invalid dimension %d", dimension)
	}
	if maxDegree < 2 || beamWidth <= 0 {
		return nil, errors.New("graph: invalid graph parameters")
	}
	if neighborOverflow < 1.0 || alpha < 1.0 {
		return nil, errors.New("graph: neighborOverflow and alpha must be >= 1.0")
	}

	b := &GraphIndexBuilder{
		bsp:              bsp,
		dimension:        dimension,
		maxDegree:        maxDegree,
		beamWidth:        beamWidth,
		neighborOverflow: neighborOverflow,
		alpha:            alpha,
		addHierarchy:     addHierarchy,
		logger:           slog.New(slog.DiscardHandler),
		rng:              rand.New(rand.NewSource(rand.Int63())),
		layerMultiplier:  1.0 / math.Log(float64(maxDegree)),
	}
	for _, opt := range opts {
		opt(b)
	}

	diversity := NewVamanaDiversity(bsp, alpha)
	b.graph = NewOnHeapGraphIndex([]int{maxDegree}, float64(neighborOverflow), diversity)
	return b, nil
}

// Graph returns the index under construction.
func (b *GraphIndexBuilder) Graph() *OnHeapGraphIndex {
	return b.graph
}

// Build inserts every ordinal of ravv in parallel, then runs Cleanup.
func (b *GraphIndexBuilder) Build(ctx context.Context, ravv vectorstore.VectorSource) (*OnHeapGraphIndex, error) {
	n := ravv.Size()
	b.logger.Info("building graph", "nodes", n, "maxDegree", b.maxDegree, "beamWidth", b.beamWidth)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for ord := 0; ord < n; ord++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return b.AddGraphNode(ord)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := b.Cleanup(); err != nil {
		return nil, err
	}
	return b.graph, nil
}

// sampleLevel draws a node level from the geometric distribution with
// parameter 1/ln(M), capped at MaxLevel.
func (b *GraphIndexBuilder) sampleLevel() int {
	if !b.addHierarchy {
		return 0
	}
	b.rngMu.Lock()
	u := b.rng.Float64()
	b.rngMu.Unlock()
	if u <= 0 {
		u = math.SmallestNonzeroFloat64
	}
	level := int(math.Floor(-math.Log(u) * b.layerMultiplier))
	if level > MaxLevel {
		level = MaxLevel
	}
	return level
}

// AddGraphNode runs the insertion protocol for one node: locate an entry
// point by greedy descent, beam-search each level for candidates, install a
// diverse neighbor list, backlink, and publish completion.
func (b *GraphIndexBuilder) AddGraphNode(node int) error {
	level := b.sampleLevel()
	if !b.graph.AddNode(level, node) {
		// Already present.
		return nil
	}

	ssp, err := b.bsp.SearchProviderForNode(node)
	if err != nil {
		return err
	}
	defer ssp.Close()

	nodeLevel := NodeAtLevel{Level: level, Node: node}

	// The first node has nothing to wire to; it just becomes the entry.
	// The lock closes the race where two first inserts both see an empty
	// graph and neither becomes reachable from the other.
	b.entryMu.Lock()
	entry := b.graph.EntryNode()
	if entry.Node < 0 {
		b.graph.MarkComplete(nodeLevel)
		b.entryMu.Unlock()
		return nil
	}
	b.entryMu.Unlock()

	if entry.Node == node {
		b.graph.MarkComplete(nodeLevel)
		return nil
	}

	// Snapshot view: only fully-wired nodes are traversable.
	searcher := NewGraphSearcherView(b.graph.GetView())
	scratch := &SearchResult{}

	ep := NodeScore{Node: entry.Node, Score: ssp.Score(entry.Node)}
	for lvl := entry.Level; lvl > level; lvl-- {
		ep = searcher.greedyStep(ssp, ep, lvl, scratch)
	}

	eps := []NodeScore{ep}
	for lvl := min(level, entry.Level); lvl >= 0; lvl-- {
		candidates := searcher.searchLayer(ssp, eps, b.beamWidth, lvl, 0, AllBits, scratch)
		b.graph.AddEdges(lvl, node, candidates)

		eps = eps[:0]
		for i := 0; i < candidates.Size(); i++ {
			eps = append(eps, NodeScore{Node: candidates.Node(i), Score: candidates.Score(i)})
		}
	}

	b.graph.MarkComplete(nodeLevel)
	return nil
}

// MarkDeleted soft-deletes a node; Cleanup rewires around it.
func (b *GraphIndexBuilder) MarkDeleted(node int) {
	b.graph.MarkDeleted(node)
}

// Cleanup rewires around deleted nodes, enforces degree across every node
// and layer, and freezes the graph.
func (b *GraphIndexBuilder) Cleanup() error {
	if err := b.removeDeletedNodes(); err != nil {
		return err
	}

	b.graph.Layer(0).ForEach(func(node int, _ *NodeArray) {
		b.graph.EnforceDegree(node)
	})

	b.graph.SetAllMutationsCompleted()
	return nil
}

type deletedBits struct {
	deleted *bitset.Atomic
}

func (d deletedBits) Test(i int) bool { return d.deleted.Test(i) }

// removeDeletedNodes rewires every node whose neighbor list intersects the
// delete set using fresh search candidates, repairs the entry node when it
// was deleted, then drops the deleted nodes from all layers.
func (b *GraphIndexBuilder) removeDeletedNodes() error {
	if b.graph.DeletedCount() == 0 {
		return nil
	}

	toDelete := deletedBits{deleted: b.graph.deleted}
	live := b.graph.LiveNodes()

	var affected []int
	b.graph.Layer(0).ForEach(func(node int, arr *NodeArray) {
		if toDelete.Test(node) {
			return
		}
		for i := 0; i < arr.Size(); i++ {
			if toDelete.Test(arr.Node(i)) {
				affected = append(affected, node)
				return
			}
		}
	})

	for _, node := range affected {
		ssp, err := b.bsp.SearchProviderForNode(node)
		if err != nil {
			return err
		}

		searcher := NewGraphSearcherView(b.graph.GetView())
		scratch := &SearchResult{}

		entry := b.graph.EntryNode()
		if entry.Node < 0 {
			ssp.Close()
			break
		}
		ep := NodeScore{Node: entry.Node, Score: ssp.Score(entry.Node)}
		for lvl := entry.Level; lvl > 0; lvl-- {
			ep = searcher.greedyStep(ssp, ep, lvl, scratch)
		}
		candidates := searcher.searchLayer(ssp, []NodeScore{ep}, b.beamWidth, 0, 0, live, scratch)
		b.graph.ReplaceDeletedNeighbors(0, node, toDelete, candidates)
		ssp.Close()
	}

	// Repair the entry node before the deleted ordinals disappear.
	entry := b.graph.EntryNode()
	if entry.Node >= 0 && toDelete.Test(entry.Node) {
		if replacement, ok := b.findLiveEntry(); ok {
			b.graph.UpdateEntryNode(replacement)
		}
	}

	var deleted []int
	b.graph.deleted.ForEachSet(func(i int) { deleted = append(deleted, i) })
	for _, node := range deleted {
		b.graph.RemoveNode(node)
	}
	return nil
}

func (b *GraphIndexBuilder) findLiveEntry() (NodeAtLevel, bool) {
	for level := b.graph.MaxLevelLive(); level >= 0; level-- {
		found := -1
		b.graph.Layer(level).ForEach(func(node int, _ *NodeArray) {
			if found < 0 && !b.graph.Deleted(node) {
				found = node
			}
		})
		if found >= 0 {
			return NodeAtLevel{Level: level, Node: found}, true
		}
	}
	return NodeAtLevel{}, false
}

// BuildAndMergeNewNodes loads a saved base graph and inserts the ordinals
// [numBaseVectors, ravv.Size()) with the standard insertion protocol. The
// resulting graph's recall on the union dataset tracks a from-scratch build.
// graphToRavvMap translates graph ordinals to ravv ordinals (identity when
// the spaces coincide); scoring goes through bsp, which must already carry
// the same mapping.
func BuildAndMergeNewNodes(r io.Reader, ravv vectorstore.VectorSource, bsp BuildScoreProvider, numBaseVectors int, graphToRavvMap []int, beamWidth int, neighborOverflow, alpha float32, addHierarchy bool, opts ...BuilderOption) (*OnHeapGraphIndex, error) {
	diversity := NewVamanaDiversity(bsp, alpha)
	g, err := Load(r, float64(neighborOverflow), diversity)
	if err != nil {
		return nil, err
	}

	b := &GraphIndexBuilder{
		bsp:              bsp,
		dimension:        ravv.Dimension(),
		maxDegree:        g.Degree(0),
		beamWidth:        beamWidth,
		neighborOverflow: neighborOverflow,
		alpha:            alpha,
		addHierarchy:     addHierarchy,
		logger:           slog.New(slog.DiscardHandler),
		rng:              rand.New(rand.NewSource(rand.Int63())),
		layerMultiplier:  1.0 / math.Log(float64(g.Degree(0))),
		graph:            g,
	}
	for _, opt := range opts {
		opt(b)
	}

	// Re-open the loaded graph for mutation.
	g.allMutationsCompleted.Store(false)

	total := len(graphToRavvMap)
	if total == 0 {
		total = ravv.Size()
	}

	grp := errgroup.Group{}
	grp.SetLimit(runtime.GOMAXPROCS(0))
	for ord := numBaseVectors; ord < total; ord++ {
		grp.Go(func() error {
			return b.AddGraphNode(ord)
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}

	if err := b.Cleanup(); err != nil {
		return nil, err
	}
	return g, nil
}
