package graph

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/hupe1980/annex/internal/bitset"
	"github.com/hupe1980/annex/persistence"
)

const (
	// Magic identifies a persisted graph container.
	Magic = 0x75EC4012

	// FormatVersion is the current container version.
	FormatVersion = 4

	// MaxLevel caps the hierarchy height from level sampling.
	MaxLevel = 8
)

// ErrPendingMutations is returned when saving a graph whose construction has
// not been finished with Cleanup / SetAllMutationsCompleted.
var ErrPendingMutations = errors.New("graph: cannot save a graph with pending mutations")

// NodeAtLevel identifies a node together with its highest layer.
type NodeAtLevel struct {
	Level int
	Node  int
}

// OnHeapGraphIndex is a layered proximity graph offering concurrent access.
// The base layer (layer 0) contains all nodes; higher layers are sparse.
// Searches use a view from GetView, which provides snapshot isolation while
// construction is in flight.
type OnHeapGraphIndex struct {
	layers []*ConcurrentNeighborMap // fixed size MaxLevel+1; layer i may be empty

	entryPoint  atomic.Pointer[NodeAtLevel]
	completions *CompletionTracker
	deleted     *bitset.Atomic
	maxNodeID   atomic.Int64

	maxDegrees    []int
	overflowRatio float64
	diversity     *VamanaDiversity

	allMutationsCompleted atomic.Bool
}

// NewOnHeapGraphIndex creates an empty graph. maxDegrees holds per-layer
// degree bounds; layers beyond its length reuse the last entry.
func NewOnHeapGraphIndex(maxDegrees []int, overflowRatio float64, diversity *VamanaDiversity) *OnHeapGraphIndex {
	g := &OnHeapGraphIndex{
		completions:   NewCompletionTracker(1024),
		deleted:       bitset.NewAtomic(0),
		maxDegrees:    append([]int(nil), maxDegrees...),
		overflowRatio: overflowRatio,
		diversity:     diversity,
	}
	g.maxNodeID.Store(-1)
	g.layers = make([]*ConcurrentNeighborMap, MaxLevel+1)
	for level := range g.layers {
		degree := g.Degree(level)
		g.layers[level] = NewConcurrentNeighborMap(level == 0, diversity,
			degree, int(float64(degree)*overflowRatio))
	}
	return g
}

// Degree returns the max degree for a layer.
func (g *OnHeapGraphIndex) Degree(level int) int {
	if level >= len(g.maxDegrees) {
		return g.maxDegrees[len(g.maxDegrees)-1]
	}
	return g.maxDegrees[level]
}

// MaxDegrees returns the per-layer degree bounds.
func (g *OnHeapGraphIndex) MaxDegrees() []int {
	return append([]int(nil), g.maxDegrees...)
}

// Layer returns the neighbor map of a layer.
func (g *OnHeapGraphIndex) Layer(level int) *ConcurrentNeighborMap {
	return g.layers[level]
}

// Size returns the node count of a layer.
func (g *OnHeapGraphIndex) Size(level int) int {
	return g.layers[level].Size()
}

// IdUpperBound returns one past the largest ordinal ever added.
func (g *OnHeapGraphIndex) IdUpperBound() int {
	return int(g.maxNodeID.Load()) + 1
}

// MaxLevelForNode returns the highest layer containing node, or -1.
func (g *OnHeapGraphIndex) MaxLevelForNode(node int) int {
	maxLayer := -1
	for level := range g.layers {
		if !g.layers[level].Contains(node) {
			break
		}
		maxLayer = level
	}
	return maxLayer
}

// MaxLevelLive returns the highest non-empty layer, or -1 for an empty graph.
func (g *OnHeapGraphIndex) MaxLevelLive() int {
	for level := range g.layers {
		if g.layers[level].Size() == 0 {
			return level - 1
		}
	}
	return len(g.layers) - 1
}

// AddNode inserts empty neighbor lists for node into layers 0..level.
// Returns false when the node already existed at layer 0.
func (g *OnHeapGraphIndex) AddNode(level int, node int) bool {
	added := false
	for i := 0; i <= level; i++ {
		if g.layers[i].AddNode(node) && i == 0 {
			added = true
		}
	}
	g.accumulateMaxNodeID(node)
	return added
}

// ConnectNode replaces the node's neighbor list at a layer.
func (g *OnHeapGraphIndex) ConnectNode(level int, node int, arr *NodeArray) {
	g.layers[level].AddNodeWith(node, arr)
	g.accumulateMaxNodeID(node)
}

func (g *OnHeapGraphIndex) accumulateMaxNodeID(node int) {
	for {
		cur := g.maxNodeID.Load()
		if int64(node) <= cur || g.maxNodeID.CompareAndSwap(cur, int64(node)) {
			return
		}
	}
}

// MarkComplete records the node's completion time and advances the entry
// node when the new node's level exceeds the current entry's.
func (g *OnHeapGraphIndex) MarkComplete(nodeLevel NodeAtLevel) {
	for {
		old := g.entryPoint.Load()
		if old != nil && nodeLevel.Level <= old.Level {
			break
		}
		candidate := nodeLevel
		if g.entryPoint.CompareAndSwap(old, &candidate) {
			break
		}
	}
	g.completions.MarkComplete(nodeLevel.Node)
}

// UpdateEntryNode overrides the entry node (used by load and cleanup).
func (g *OnHeapGraphIndex) UpdateEntryNode(entry NodeAtLevel) {
	g.entryPoint.Store(&entry)
}

// EntryNode returns the current entry node; Node is -1 for an empty graph.
func (g *OnHeapGraphIndex) EntryNode() NodeAtLevel {
	if e := g.entryPoint.Load(); e != nil {
		return *e
	}
	return NodeAtLevel{Level: -1, Node: -1}
}

// MarkDeleted flips the node's soft-delete bit. The node remains an edge
// endpoint until a cleanup pass rewires around it.
func (g *OnHeapGraphIndex) MarkDeleted(node int) {
	g.deleted.Set(node)
}

// Deleted reports whether the node is soft-deleted.
func (g *OnHeapGraphIndex) Deleted(node int) bool {
	return g.deleted.Test(node)
}

// DeletedCount returns the number of soft-deleted nodes.
func (g *OnHeapGraphIndex) DeletedCount() int {
	return g.deleted.Cardinality()
}

// RemoveNode drops the node from every layer and clears its delete bit.
// Returns the number of layers it was removed from.
func (g *OnHeapGraphIndex) RemoveNode(node int) int {
	found := 0
	for _, layer := range g.layers {
		if layer.Remove(node) {
			found++
		}
	}
	g.deleted.Clear(node)
	return found
}

// EnforceDegree re-prunes the node in every layer it appears in.
func (g *OnHeapGraphIndex) EnforceDegree(node int) {
	for _, layer := range g.layers {
		layer.EnforceDegree(node)
	}
}

// AddEdges merges candidates into the node's neighbors at a layer and
// backlinks the node into the chosen neighbors.
func (g *OnHeapGraphIndex) AddEdges(level int, node int, candidates *NodeArray) {
	newNeighbors := g.layers[level].InsertDiverse(node, candidates)
	g.layers[level].Backlink(newNeighbors, node)
}

// ReplaceDeletedNeighbors rewires a node around the toDelete set at a layer.
func (g *OnHeapGraphIndex) ReplaceDeletedNeighbors(level int, node int, toDelete Bits, candidates *NodeArray) {
	g.layers[level].ReplaceDeletedNeighbors(node, toDelete, candidates)
}

// SetAllMutationsCompleted freezes the graph; subsequent views skip
// completion filtering.
func (g *OnHeapGraphIndex) SetAllMutationsCompleted() {
	g.allMutationsCompleted.Store(true)
}

// AllMutationsCompleted reports whether the graph is frozen.
func (g *OnHeapGraphIndex) AllMutationsCompleted() bool {
	return g.allMutationsCompleted.Load()
}

// LiveNodes returns an accept filter over non-deleted ordinals.
func (g *OnHeapGraphIndex) LiveNodes() Bits {
	if g.deleted.Cardinality() == 0 {
		return AllBits
	}
	return liveBits{deleted: g.deleted}
}

// AverageDegree returns the mean degree of a layer, or NaN when empty.
func (g *OnHeapGraphIndex) AverageDegree(level int) float64 {
	total, count := 0, 0
	g.layers[level].ForEach(func(_ int, arr *NodeArray) {
		total += arr.Size()
		count++
	})
	if count == 0 {
		return nan()
	}
	return float64(total) / float64(count)
}

func nan() float64 {
	var zero float64
	return zero / zero
}

// ----------------------------------------------------------------------------
// Views
// ----------------------------------------------------------------------------

// View is a read surface over the graph used by searches.
type View interface {
	EntryNode() NodeAtLevel
	Size() int
	IdUpperBound() int
	LiveNodes() Bits
	// NeighborsOf streams the visible neighbors of node at a layer; fn
	// returns false to stop early.
	NeighborsOf(level, node int, fn func(neighbor int) bool)
}

// GetView returns a FrozenView once all mutations are completed, and a
// snapshot-isolated ConcurrentView before that. A concurrent view hides any
// node whose wiring completed at or after the view's creation, so searches
// never traverse half-wired nodes.
func (g *OnHeapGraphIndex) GetView() View {
	if g.allMutationsCompleted.Load() {
		return &FrozenView{g: g}
	}
	return &ConcurrentView{g: g, clock: g.completions.Clock()}
}

// FrozenView reads the graph directly.
type FrozenView struct {
	g *OnHeapGraphIndex
}

func (v *FrozenView) EntryNode() NodeAtLevel { return v.g.EntryNode() }
func (v *FrozenView) Size() int              { return v.g.Size(0) }
func (v *FrozenView) IdUpperBound() int      { return v.g.IdUpperBound() }
func (v *FrozenView) LiveNodes() Bits        { return v.g.LiveNodes() }

func (v *FrozenView) NeighborsOf(level, node int, fn func(neighbor int) bool) {
	nbr := v.g.layers[level].Get(node)
	if nbr == nil {
		return
	}
	arr := nbr.Load()
	for i := 0; i < arr.Size(); i++ {
		if !fn(arr.Node(i)) {
			return
		}
	}
}

// ConcurrentView filters out nodes completed at or after its snapshot clock.
type ConcurrentView struct {
	g     *OnHeapGraphIndex
	clock int64
}

func (v *ConcurrentView) EntryNode() NodeAtLevel { return v.g.EntryNode() }
func (v *ConcurrentView) Size() int              { return v.g.Size(0) }
func (v *ConcurrentView) IdUpperBound() int      { return v.g.IdUpperBound() }
func (v *ConcurrentView) LiveNodes() Bits        { return v.g.LiveNodes() }

func (v *ConcurrentView) NeighborsOf(level, node int, fn func(neighbor int) bool) {
	nbr := v.g.layers[level].Get(node)
	if nbr == nil {
		return
	}
	arr := nbr.Load()
	for i := 0; i < arr.Size(); i++ {
		n := arr.Node(i)
		if v.g.completions.CompletedAt(n) >= v.clock {
			continue
		}
		if !fn(n) {
			return
		}
	}
}

// ----------------------------------------------------------------------------
// Persistence (container version 4)
// ----------------------------------------------------------------------------

// Save writes the graph container: magic, version, layer count, per-layer
// max degree, entry ordinal, then per layer the node records with neighbor
// (ordinal, score) pairs in score-descending order. Little-endian.
//
// Saving is legal only after all mutations are completed.
func (g *OnHeapGraphIndex) Save(w io.Writer) error {
	if !g.AllMutationsCompleted() {
		return ErrPendingMutations
	}

	bw := persistence.NewWriter(w)
	if err := bw.WriteUint32(Magic); err != nil {
		return err
	}
	if err := bw.WriteInt(FormatVersion); err != nil {
		return err
	}

	layerCount := g.MaxLevelLive() + 1
	if err := bw.WriteInt(layerCount); err != nil {
		return err
	}
	for level := 0; level < layerCount; level++ {
		if err := bw.WriteInt(g.Degree(level)); err != nil {
			return err
		}
	}

	entry := g.EntryNode()
	if err := bw.WriteInt(entry.Node); err != nil {
		return err
	}

	for level := 0; level < layerCount; level++ {
		if err := bw.WriteInt(g.Size(level)); err != nil {
			return err
		}
		var saveErr error
		g.layers[level].ForEach(func(node int, arr *NodeArray) {
			if saveErr != nil {
				return
			}
			if saveErr = bw.WriteInt(node); saveErr != nil {
				return
			}
			if saveErr = bw.WriteInt(arr.Size()); saveErr != nil {
				return
			}
			for i := 0; i < arr.Size(); i++ {
				if saveErr = bw.WriteInt(arr.Node(i)); saveErr != nil {
					return
				}
				if saveErr = bw.WriteFloat32(arr.Score(i)); saveErr != nil {
					return
				}
			}
		})
		if saveErr != nil {
			return saveErr
		}
	}
	return nil
}

// Load reads a graph container written by Save. The loaded graph is frozen
// and immediately searchable.
func Load(r io.Reader, overflowRatio float64, diversity *VamanaDiversity) (*OnHeapGraphIndex, error) {
	br := persistence.NewReader(r)

	magic, err := br.ReadUint32()
	if err != nil {
		return nil, err
	}
	if magic != Magic {
		return nil, fmt.Errorf("graph: unsupported magic number: %#x", magic)
	}
	version, err := br.ReadInt()
	if err != nil {
		return nil, err
	}
	if version != FormatVersion {
		return nil, fmt.Errorf("graph: unsupported version: %d", version)
	}

	layerCount, err := br.ReadInt()
	if err != nil {
		return nil, err
	}
	if layerCount <= 0 || layerCount > MaxLevel+1 {
		return nil, fmt.Errorf("graph: invalid layer count: %d", layerCount)
	}
	degrees := make([]int, layerCount)
	for i := range degrees {
		if degrees[i], err = br.ReadInt(); err != nil {
			return nil, err
		}
	}

	entryNode, err := br.ReadInt()
	if err != nil {
		return nil, err
	}

	g := NewOnHeapGraphIndex(degrees, overflowRatio, diversity)

	nodeLevels := make(map[int]int)
	for level := 0; level < layerCount; level++ {
		layerSize, err := br.ReadInt()
		if err != nil {
			return nil, err
		}
		for i := 0; i < layerSize; i++ {
			node, err := br.ReadInt()
			if err != nil {
				return nil, err
			}
			neighborCount, err := br.ReadInt()
			if err != nil {
				return nil, err
			}
			arr := NewNodeArray(max(neighborCount, g.Degree(level)))
			for j := 0; j < neighborCount; j++ {
				neighbor, err := br.ReadInt()
				if err != nil {
					return nil, err
				}
				score, err := br.ReadFloat32()
				if err != nil {
					return nil, err
				}
				arr.AddInOrder(neighbor, score)
			}
			g.ConnectNode(level, node, arr)
			nodeLevels[node] = level
		}
	}

	for node, level := range nodeLevels {
		g.MarkComplete(NodeAtLevel{Level: level, Node: node})
	}
	g.UpdateEntryNode(NodeAtLevel{Level: g.MaxLevelLive(), Node: entryNode})
	g.SetAllMutationsCompleted()
	return g, nil
}
