package graph

import (
	"math"
	"sync"
	"sync/atomic"
)

// notCompleted is the completion time of a node that has not finished its
// bidirectional wiring yet.
const notCompleted = int64(math.MaxInt64)

// CompletionTracker records the logical time at which each node's wiring
// finished. Snapshot views hide nodes whose completion time is at or after
// the view's clock, so in-flight searches never traverse half-wired nodes.
//
// Reads are lock-free through an atomically published slice; the write path
// holds a read lock so growth (the write lock) cannot lose concurrent
// stores.
type CompletionTracker struct {
	logicalClock atomic.Int64

	mu    sync.RWMutex
	times atomic.Pointer[[]int64]
}

// NewCompletionTracker creates a tracker pre-sized for initialSize nodes.
func NewCompletionTracker(initialSize int) *CompletionTracker {
	ct := &CompletionTracker{}
	arr := newCompletionSlice(initialSize)
	ct.times.Store(&arr)
	return ct
}

func newCompletionSlice(size int) []int64 {
	arr := make([]int64, size)
	for i := range arr {
		arr[i] = notCompleted
	}
	return arr
}

// MarkComplete stamps node with the next logical clock tick.
func (ct *CompletionTracker) MarkComplete(node int) {
	completionClock := ct.logicalClock.Add(1) - 1
	ct.ensureCapacity(node)

	ct.mu.RLock()
	arr := *ct.times.Load()
	atomic.StoreInt64(&arr[node], completionClock)
	ct.mu.RUnlock()
}

// Clock returns the current logical time.
func (ct *CompletionTracker) Clock() int64 {
	return ct.logicalClock.Load()
}

// CompletedAt returns the completion time of node, or a sentinel beyond any
// clock for unknown or incomplete nodes.
func (ct *CompletionTracker) CompletedAt(node int) int64 {
	arr := *ct.times.Load()
	if node >= len(arr) {
		return notCompleted
	}
	return atomic.LoadInt64(&arr[node])
}

func (ct *CompletionTracker) ensureCapacity(node int) {
	if node < len(*ct.times.Load()) {
		return
	}
	ct.mu.Lock()
	defer ct.mu.Unlock()

	old := *ct.times.Load()
	if node < len(old) {
		return
	}
	next := newCompletionSlice((node + 1) * 2)
	copy(next, old)
	ct.times.Store(&next)
}
