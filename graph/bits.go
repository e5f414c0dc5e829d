package graph

import (
	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/annex/internal/bitset"
)

// Bits gates admission of ordinals to search results.
type Bits interface {
	Test(i int) bool
}

// AllBits accepts every ordinal.
var AllBits Bits = allBits{}

type allBits struct{}

func (allBits) Test(int) bool { return true }

type roaringBits struct {
	bm *roaring.Bitmap
}

// BitsFromRoaring adapts a roaring bitmap into an accept filter.
func BitsFromRoaring(bm *roaring.Bitmap) Bits {
	return roaringBits{bm: bm}
}

func (b roaringBits) Test(i int) bool {
	return i >= 0 && b.bm.Contains(uint32(i))
}

// liveBits is the complement of the soft-delete bitset.
type liveBits struct {
	deleted *bitset.Atomic
}

func (b liveBits) Test(i int) bool {
	return !b.deleted.Test(i)
}

// intersectBits accepts ordinals accepted by both operands.
type intersectBits struct {
	a, b Bits
}

func (b intersectBits) Test(i int) bool {
	return b.a.Test(i) && b.b.Test(i)
}

func intersect(a, b Bits) Bits {
	if a == AllBits {
		return b
	}
	if b == AllBits {
		return a
	}
	return intersectBits{a: a, b: b}
}
