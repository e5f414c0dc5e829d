package graph

import (
	"fmt"
	"sort"
)

// NodeArray is a bounded sequence of (node, score) pairs kept in descending
// score order. It serves both as a candidate buffer during search and as the
// neighbor list of a graph node. Not safe for concurrent use; concurrent
// readers receive published immutable snapshots instead.
type NodeArray struct {
	nodes  []int32
	scores []float32
}

// NewNodeArray creates an empty NodeArray with the given capacity hint.
func NewNodeArray(capacity int) *NodeArray {
	return &NodeArray{
		nodes:  make([]int32, 0, capacity),
		scores: make([]float32, 0, capacity),
	}
}

// Size returns the number of stored pairs.
func (a *NodeArray) Size() int { return len(a.nodes) }

// Node returns the node at index i.
func (a *NodeArray) Node(i int) int { return int(a.nodes[i]) }

// Score returns the score at index i.
func (a *NodeArray) Score(i int) float32 { return a.scores[i] }

// WorstScore returns the score of the last (worst) entry.
// Panics on an empty array.
func (a *NodeArray) WorstScore() float32 { return a.scores[len(a.scores)-1] }

// AddInOrder appends a pair that must not score higher than the current tail.
func (a *NodeArray) AddInOrder(node int, score float32) {
	if len(a.scores) > 0 && score > a.scores[len(a.scores)-1] {
		panic(fmt.Sprintf("graph: out-of-order add: %v after %v", score, a.scores[len(a.scores)-1]))
	}
	a.nodes = append(a.nodes, int32(node))
	a.scores = append(a.scores, score)
}

// InsertSorted inserts a pair at its score rank. Duplicate nodes within the
// equal-score run are dropped. Returns the insertion index, or -1 when the
// pair was a duplicate.
func (a *NodeArray) InsertSorted(node int, score float32) int {
	idx := a.insertionPoint(score)
	if a.duplicateInRun(idx, node, score) {
		return -1
	}
	a.nodes = append(a.nodes, 0)
	a.scores = append(a.scores, 0)
	copy(a.nodes[idx+1:], a.nodes[idx:])
	copy(a.scores[idx+1:], a.scores[idx:])
	a.nodes[idx] = int32(node)
	a.scores[idx] = score
	return idx
}

// insertionPoint returns the first index whose score is strictly below score.
func (a *NodeArray) insertionPoint(score float32) int {
	return sort.Search(len(a.scores), func(i int) bool {
		return a.scores[i] < score
	})
}

// duplicateInRun scans the equal-score run around idx for the same node.
func (a *NodeArray) duplicateInRun(idx int, node int, score float32) bool {
	for i := idx - 1; i >= 0 && a.scores[i] == score; i-- {
		if a.nodes[i] == int32(node) {
			return true
		}
	}
	return false
}

// Contains reports whether node is present.
func (a *NodeArray) Contains(node int) bool {
	for _, n := range a.nodes {
		if n == int32(node) {
			return true
		}
	}
	return false
}

// Truncate drops entries beyond n.
func (a *NodeArray) Truncate(n int) {
	if n < len(a.nodes) {
		a.nodes = a.nodes[:n]
		a.scores = a.scores[:n]
	}
}

// Clear resets the array without releasing its capacity.
func (a *NodeArray) Clear() {
	a.nodes = a.nodes[:0]
	a.scores = a.scores[:0]
}

// Copy returns an independent copy with at least the given capacity.
func (a *NodeArray) Copy(capacity int) *NodeArray {
	if capacity < len(a.nodes) {
		capacity = len(a.nodes)
	}
	cp := NewNodeArray(capacity)
	cp.nodes = append(cp.nodes, a.nodes...)
	cp.scores = append(cp.scores, a.scores...)
	return cp
}

// MergeNodeArrays merges two score-descending arrays into a new one,
// dropping duplicate nodes.
func MergeNodeArrays(a, b *NodeArray) *NodeArray {
	out := NewNodeArray(a.Size() + b.Size())
	i, j := 0, 0
	for i < a.Size() || j < b.Size() {
		var takeA bool
		switch {
		case i >= a.Size():
			takeA = false
		case j >= b.Size():
			takeA = true
		default:
			takeA = a.scores[i] >= b.scores[j]
		}
		if takeA {
			out.appendUnique(a.Node(i), a.Score(i))
			i++
		} else {
			out.appendUnique(b.Node(j), b.Score(j))
			j++
		}
	}
	return out
}

func (a *NodeArray) appendUnique(node int, score float32) {
	if a.duplicateInRun(len(a.nodes), node, score) {
		return
	}
	a.nodes = append(a.nodes, int32(node))
	a.scores = append(a.scores, score)
}
