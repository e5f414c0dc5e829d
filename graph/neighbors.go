package graph

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Neighbors wraps a node's neighbor list. Writers serialize on a short
// per-node lock and publish an immutable replacement NodeArray; readers
// load the current snapshot without locking.
type Neighbors struct {
	mu  sync.Mutex
	arr atomic.Pointer[NodeArray]
}

func newNeighbors(arr *NodeArray) *Neighbors {
	n := &Neighbors{}
	n.arr.Store(arr)
	return n
}

// Load returns the current published neighbor list. The returned NodeArray
// must be treated as immutable.
func (n *Neighbors) Load() *NodeArray {
	return n.arr.Load()
}

// ordinalMap maps ordinals to Neighbors. Layer 0 uses a dense array-backed
// implementation; upper layers use a sparse map since node count drops
// geometrically.
type ordinalMap interface {
	Get(node int) *Neighbors
	// PutIfAbsent installs n for node and reports whether it was installed.
	PutIfAbsent(node int, n *Neighbors) bool
	Put(node int, n *Neighbors)
	Remove(node int) *Neighbors
	Size() int
	// ForEach visits entries in ascending node order.
	ForEach(fn func(node int, n *Neighbors))
}

// denseOrdinalMap is a growable slice of atomic slots.
type denseOrdinalMap struct {
	mu    sync.RWMutex
	slots atomic.Pointer[[]atomic.Pointer[Neighbors]]
	count atomic.Int64
}

func newDenseOrdinalMap(capacity int) *denseOrdinalMap {
	m := &denseOrdinalMap{}
	slots := make([]atomic.Pointer[Neighbors], capacity)
	m.slots.Store(&slots)
	return m
}

func (m *denseOrdinalMap) Get(node int) *Neighbors {
	slots := *m.slots.Load()
	if node < 0 || node >= len(slots) {
		return nil
	}
	return slots[node].Load()
}

func (m *denseOrdinalMap) PutIfAbsent(node int, n *Neighbors) bool {
	m.ensureCapacity(node)
	m.mu.RLock()
	defer m.mu.RUnlock()
	slots := *m.slots.Load()
	if slots[node].CompareAndSwap(nil, n) {
		m.count.Add(1)
		return true
	}
	return false
}

func (m *denseOrdinalMap) Put(node int, n *Neighbors) {
	m.ensureCapacity(node)
	m.mu.RLock()
	defer m.mu.RUnlock()
	slots := *m.slots.Load()
	if slots[node].Swap(n) == nil {
		m.count.Add(1)
	}
}

func (m *denseOrdinalMap) Remove(node int) *Neighbors {
	m.mu.RLock()
	defer m.mu.RUnlock()
	slots := *m.slots.Load()
	if node < 0 || node >= len(slots) {
		return nil
	}
	old := slots[node].Swap(nil)
	if old != nil {
		m.count.Add(-1)
	}
	return old
}

func (m *denseOrdinalMap) Size() int {
	return int(m.count.Load())
}

func (m *denseOrdinalMap) ForEach(fn func(node int, n *Neighbors)) {
	slots := *m.slots.Load()
	for i := range slots {
		if n := slots[i].Load(); n != nil {
			fn(i, n)
		}
	}
}

func (m *denseOrdinalMap) ensureCapacity(node int) {
	if node < len(*m.slots.Load()) {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	old := *m.slots.Load()
	if node < len(old) {
		return
	}
	next := make([]atomic.Pointer[Neighbors], max(node+1, len(old)*2))
	for i := range old {
		next[i].Store(old[i].Load())
	}
	m.slots.Store(&next)
}

// sparseOrdinalMap is a mutex-guarded map for the sparse upper layers.
type sparseOrdinalMap struct {
	mu sync.RWMutex
	m  map[int]*Neighbors
}

func newSparseOrdinalMap() *sparseOrdinalMap {
	return &sparseOrdinalMap{m: make(map[int]*Neighbors)}
}

func (s *sparseOrdinalMap) Get(node int) *Neighbors {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.m[node]
}

func (s *sparseOrdinalMap) PutIfAbsent(node int, n *Neighbors) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[node]; ok {
		return false
	}
	s.m[node] = n
	return true
}

func (s *sparseOrdinalMap) Put(node int, n *Neighbors) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[node] = n
}

func (s *sparseOrdinalMap) Remove(node int) *Neighbors {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.m[node]
	delete(s.m, node)
	return old
}

func (s *sparseOrdinalMap) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

func (s *sparseOrdinalMap) ForEach(fn func(node int, n *Neighbors)) {
	s.mu.RLock()
	keys := make([]int, 0, len(s.m))
	for k := range s.m {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	// Ascending order keeps persisted layouts deterministic.
	sort.Ints(keys)
	for _, k := range keys {
		if n := s.Get(k); n != nil {
			fn(k, n)
		}
	}
}

// ConcurrentNeighborMap holds one layer's neighbor lists together with the
// degree bounds and the diversity rule used to maintain them.
type ConcurrentNeighborMap struct {
	neighbors ordinalMap
	diversity *VamanaDiversity

	maxDegree int
	// maxOverflowDegree bounds temporary degree overflow during
	// construction; enforceDegree re-prunes to maxDegree afterwards.
	maxOverflowDegree int
}

// NewConcurrentNeighborMap creates a layer map. dense selects the
// array-backed layout used for the base layer.
func NewConcurrentNeighborMap(dense bool, diversity *VamanaDiversity, maxDegree, maxOverflowDegree int) *ConcurrentNeighborMap {
	var m ordinalMap
	if dense {
		m = newDenseOrdinalMap(1024)
	} else {
		m = newSparseOrdinalMap()
	}
	return &ConcurrentNeighborMap{
		neighbors:         m,
		diversity:         diversity,
		maxDegree:         maxDegree,
		maxOverflowDegree: maxOverflowDegree,
	}
}

// Get returns the Neighbors of node, or nil when absent.
func (m *ConcurrentNeighborMap) Get(node int) *Neighbors {
	return m.neighbors.Get(node)
}

// AddNode installs an empty neighbor list; no-op if the node exists.
func (m *ConcurrentNeighborMap) AddNode(node int) bool {
	return m.neighbors.PutIfAbsent(node, newNeighbors(NewNodeArray(m.maxOverflowDegree)))
}

// AddNodeWith installs (or replaces) the node's neighbor list.
func (m *ConcurrentNeighborMap) AddNodeWith(node int, arr *NodeArray) {
	m.neighbors.Put(node, newNeighbors(arr))
}

// Remove drops the node's neighbor list and reports whether it existed.
func (m *ConcurrentNeighborMap) Remove(node int) bool {
	return m.neighbors.Remove(node) != nil
}

// Contains reports whether node has a neighbor list in this layer.
func (m *ConcurrentNeighborMap) Contains(node int) bool {
	return m.neighbors.Get(node) != nil
}

// Size returns the number of nodes in this layer.
func (m *ConcurrentNeighborMap) Size() int {
	return m.neighbors.Size()
}

// ForEach visits nodes in ascending order with their current neighbor lists.
func (m *ConcurrentNeighborMap) ForEach(fn func(node int, arr *NodeArray)) {
	m.neighbors.ForEach(func(node int, n *Neighbors) {
		fn(node, n.Load())
	})
}

// MaxDegree returns the layer's enforced degree bound.
func (m *ConcurrentNeighborMap) MaxDegree() int { return m.maxDegree }

// InsertDiverse merges candidates into node's neighbor list under the
// diversity rule and returns the published list.
func (m *ConcurrentNeighborMap) InsertDiverse(node int, candidates *NodeArray) *NodeArray {
	nbr := m.neighbors.Get(node)
	if nbr == nil {
		return NewNodeArray(0)
	}
	nbr.mu.Lock()
	defer nbr.mu.Unlock()

	merged := candidates
	if current := nbr.Load(); current.Size() > 0 {
		merged = MergeNodeArrays(current, candidates)
	}
	diverse := m.diversity.SelectDiverse(node, merged, m.maxDegree)
	nbr.arr.Store(diverse)
	return diverse
}

// Backlink attempts to append node to each of its new neighbors' lists.
// A neighbor already at overflow capacity skips the append; backlinks are
// best-effort under contention and enforceDegree normalizes later.
func (m *ConcurrentNeighborMap) Backlink(newNeighbors *NodeArray, node int) {
	for i := 0; i < newNeighbors.Size(); i++ {
		m.insertEdge(newNeighbors.Node(i), node, newNeighbors.Score(i))
	}
}

// insertEdge appends (node, score) to target's list, allowing growth up to
// the overflow bound. Returns false when the edge was dropped.
func (m *ConcurrentNeighborMap) insertEdge(target, node int, score float32) bool {
	nbr := m.neighbors.Get(target)
	if nbr == nil {
		return false
	}
	nbr.mu.Lock()
	defer nbr.mu.Unlock()

	current := nbr.Load()
	if current.Size() >= m.maxOverflowDegree {
		return false
	}
	if current.Contains(node) {
		return false
	}
	next := current.Copy(m.maxOverflowDegree)
	next.InsertSorted(node, score)
	nbr.arr.Store(next)
	return true
}

// EnforceDegree re-applies diversity and truncates node's list to
// maxDegree. No-op when the list is within bounds.
func (m *ConcurrentNeighborMap) EnforceDegree(node int) {
	nbr := m.neighbors.Get(node)
	if nbr == nil {
		return
	}
	nbr.mu.Lock()
	defer nbr.mu.Unlock()

	current := nbr.Load()
	if current.Size() <= m.maxDegree {
		return
	}
	nbr.arr.Store(m.diversity.SelectDiverse(node, current, m.maxDegree))
}

// ReplaceDeletedNeighbors atomically drops edges into toDelete and installs
// diversified replacements from candidates.
func (m *ConcurrentNeighborMap) ReplaceDeletedNeighbors(node int, toDelete Bits, candidates *NodeArray) {
	nbr := m.neighbors.Get(node)
	if nbr == nil {
		return
	}
	nbr.mu.Lock()
	defer nbr.mu.Unlock()

	current := nbr.Load()
	live := NewNodeArray(current.Size())
	for i := 0; i < current.Size(); i++ {
		if !toDelete.Test(current.Node(i)) {
			live.AddInOrder(current.Node(i), current.Score(i))
		}
	}

	merged := MergeNodeArrays(live, candidates)
	nbr.arr.Store(m.diversity.SelectDiverse(node, merged, m.maxDegree))
}
