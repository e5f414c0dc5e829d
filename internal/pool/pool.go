// Package pool provides buffer pools for zero-allocation scoring.
// Per-query partial-sum tables are M*K floats; pooling them keeps the
// search hot path allocation-free.
package pool

import "sync"

var floatPool = sync.Pool{
	New: func() any {
		s := make([]float32, 0, 4096)
		return &s
	},
}

// GetFloats returns a float32 buffer of length n, zeroed.
func GetFloats(n int) *[]float32 {
	p := floatPool.Get().(*[]float32)
	if cap(*p) < n {
		*p = make([]float32, n)
	} else {
		*p = (*p)[:n]
		clear(*p)
	}
	return p
}

// PutFloats returns a buffer to the pool.
func PutFloats(p *[]float32) {
	floatPool.Put(p)
}
