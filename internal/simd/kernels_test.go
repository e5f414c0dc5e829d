package simd

import (
	"math"
	"math/rand"
	"testing"
)

// Prime length exercises the unrolled kernels' scalar tails.
const primeDim = 1021

func randomVector(rng *rand.Rand, n int) []float32 {
	v := make([]float32, n)
	for i := range v {
		v[i] = rng.Float32()*2 - 1
	}
	return v
}

func relClose(t *testing.T, want, got float32) {
	t.Helper()
	diff := math.Abs(float64(want - got))
	scale := math.Max(math.Abs(float64(want)), 1)
	if diff/scale > 1e-4 {
		t.Fatalf("kernels disagree: want %v, got %v", want, got)
	}
}

func TestTiersAgreeFloat(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 100; i++ {
		a := randomVector(rng, primeDim)
		b := randomVector(rng, primeDim)

		relClose(t, dotGeneric(a, b), dotUnrolled(a, b))
		relClose(t, squaredL2Generic(a, b), squaredL2Unrolled(a, b))
		relClose(t, sumGeneric(a), sumUnrolled(a))
	}
}

func TestTiersAgreeInPlace(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	a := randomVector(rng, primeDim)
	b := randomVector(rng, primeDim)

	g := append([]float32(nil), a...)
	u := append([]float32(nil), a...)
	addInPlaceGeneric(g, b)
	addInPlaceUnrolled(u, b)
	for i := range g {
		relClose(t, g[i], u[i])
	}

	copy(g, a)
	copy(u, a)
	subInPlaceGeneric(g, b)
	subInPlaceUnrolled(u, b)
	for i := range g {
		relClose(t, g[i], u[i])
	}

	copy(g, a)
	copy(u, a)
	scaleGeneric(g, 0.37)
	scaleUnrolled(u, 0.37)
	for i := range g {
		relClose(t, g[i], u[i])
	}
}

func TestAssembleAndSum(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		v2 := randomVector(rng, 256)

		// Assemble v3 from bits of v2.
		const skipSize = 256 / 32
		v3 := make([]float32, 32)
		offsets := make([]byte, 32)
		for j, c := 0, 0; j < 256; j, c = j+skipSize, c+1 {
			v3[c] = v2[j]
			offsets[c] = byte(c * skipSize)
		}

		want := sumGeneric(v3)
		relClose(t, want, assembleAndSumGeneric(v2, 0, offsets))
		relClose(t, want, assembleAndSumUnrolled(v2, 0, offsets))
	}
}

func TestAssembleAndSumStrided(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	const k = 16
	const m = 23 // prime to hit the tail
	data := randomVector(rng, k*m)
	offsets := make([]byte, m)
	for i := range offsets {
		offsets[i] = byte(rng.Intn(k))
	}

	var want float32
	for i, off := range offsets {
		want += data[k*i+int(off)]
	}
	relClose(t, want, assembleAndSumGeneric(data, k, offsets))
	relClose(t, want, assembleAndSumUnrolled(data, k, offsets))
}

func TestAssembleAndSumPQTriangular(t *testing.T) {
	const k = 7
	const m = 3
	blockSize := k * (k + 1) / 2
	partials := make([]float32, m*blockSize)
	for i := range partials {
		partials[i] = float32(i)
	}
	code1 := []byte{0, 3, 6}
	code2 := []byte{5, 2, 6}

	var want float32
	for i := 0; i < m; i++ {
		r, c := int(code1[i]), int(code2[i])
		if r > c {
			r, c = c, r
		}
		want += partials[i*blockSize+r*k-r*(r-1)/2+(c-r)]
	}
	got := AssembleAndSumPQ(partials, m, code1, 0, code2, 0, k)
	relClose(t, want, got)
}

func TestHamming(t *testing.T) {
	a := []uint64{0xFFFF0000FFFF0000, 0x0}
	b := []uint64{0x0000FFFF0000FFFF, 0x1}
	if got := Hamming(a, b); got != 65 {
		t.Fatalf("hamming: want 65, got %d", got)
	}
	if got := Hamming(a, a); got != 0 {
		t.Fatalf("hamming self: want 0, got %d", got)
	}
}

func TestQuantizePartials(t *testing.T) {
	partials := []float32{0, 1, 2, 3, 10, 11, 12, 13}
	bases := []float32{0, 10}
	outG := make([]byte, 2*len(partials))
	outU := make([]byte, 2*len(partials))
	quantizePartialsGeneric(0.5, partials, bases, outG)
	quantizePartialsUnrolled(0.5, partials, bases, outU)

	for i := range outG {
		if outG[i] != outU[i] {
			t.Fatalf("tier mismatch at byte %d: %d vs %d", i, outG[i], outU[i])
		}
	}
	// First subspace entry 3: (3-0)/0.5 = 6.
	if outG[6] != 6 || outG[7] != 0 {
		t.Fatalf("unexpected quantized value: %v", outG[:8])
	}
}

func TestQuantizePartialsSaturates(t *testing.T) {
	partials := []float32{-5, 1e9}
	bases := []float32{0}
	out := make([]byte, 4)
	QuantizePartials(1, partials, bases, out)
	if out[0] != 0 || out[1] != 0 {
		t.Fatalf("negative input should clamp to 0, got %v", out[:2])
	}
	if out[2] != 0xFF || out[3] != 0xFF {
		t.Fatalf("large input should saturate to 65535, got %v", out[2:])
	}
}

func TestPQDecodedCosineSimilarity(t *testing.T) {
	// Single subspace, two centroids; hand-check the math.
	const k = 2
	partialSums := []float32{0.5, -0.25}
	aMagnitude := []float32{1.0, 4.0}
	bMagnitude := float32(2.0)
	code := []byte{1}

	want := float32(-0.25) / float32(math.Sqrt(4.0*2.0))
	got := PQDecodedCosineSimilarity(code, 0, 1, k, partialSums, aMagnitude, bMagnitude)
	relClose(t, want, got)
}

func TestZeroLengthReductions(t *testing.T) {
	if Sum(nil) != 0 {
		t.Fatal("sum of empty vector should be 0")
	}
	if Dot(nil, nil) != 0 {
		t.Fatal("dot of empty vectors should be 0")
	}
	if SquaredL2(nil, nil) != 0 {
		t.Fatal("squared L2 of empty vectors should be 0")
	}
	if got := AssembleAndSum(nil, 4, nil); got != 0 {
		t.Fatal("assembleAndSum of empty offsets should be 0")
	}
}

func TestMinMax(t *testing.T) {
	v := []float32{3, -1, 4, 1, -5, 9, 2, 6, -5, 3, 5}
	if Min(v) != -5 {
		t.Fatalf("min: got %v", Min(v))
	}
	if Max(v) != 9 {
		t.Fatalf("max: got %v", Max(v))
	}
}

func TestMinInPlaceSub(t *testing.T) {
	a := []float32{1, 5, 3}
	b := []float32{2, 4, 3}
	MinInPlace(a, b)
	if a[0] != 1 || a[1] != 4 || a[2] != 3 {
		t.Fatalf("minInPlace: got %v", a)
	}

	d := Sub([]float32{5, 5}, []float32{2, 7})
	if d[0] != 3 || d[1] != -2 {
		t.Fatalf("sub: got %v", d)
	}
}
