package bitset

import (
	"sync"
	"testing"
)

func TestSetTestClear(t *testing.T) {
	b := NewAtomic(0)
	if b.Test(5) {
		t.Fatal("fresh bitset should be empty")
	}
	b.Set(5)
	if !b.Test(5) {
		t.Fatal("bit 5 should be set")
	}
	b.Clear(5)
	if b.Test(5) {
		t.Fatal("bit 5 should be cleared")
	}
}

func TestGrowAcrossSegments(t *testing.T) {
	b := NewAtomic(1)
	big := segmentSize*3 + 17
	b.Set(big)
	if !b.Test(big) {
		t.Fatal("bit across segment boundary should be set")
	}
	if b.Test(big - 1) {
		t.Fatal("adjacent bit should be unset")
	}
	if b.Cardinality() != 1 {
		t.Fatalf("cardinality: got %d", b.Cardinality())
	}
}

func TestForEachSet(t *testing.T) {
	b := NewAtomic(0)
	want := []int{0, 63, 64, 1000, segmentSize + 2}
	for _, i := range want {
		b.Set(i)
	}
	var got []int
	b.ForEachSet(func(i int) { got = append(got, i) })
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestConcurrentSet(t *testing.T) {
	b := NewAtomic(0)
	const n = 10000
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := w; i < n; i += 8 {
				b.Set(i)
			}
		}(w)
	}
	wg.Wait()
	if b.Cardinality() != n {
		t.Fatalf("cardinality after concurrent set: got %d, want %d", b.Cardinality(), n)
	}
}
