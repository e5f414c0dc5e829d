package pq

import (
	"fmt"

	"github.com/hupe1980/annex/distance"
	"github.com/hupe1980/annex/internal/pool"
	"github.com/hupe1980/annex/internal/simd"
)

// PQVectors stores the encoded form of a vector set. Codes are held in
// chunked byte arrays so very large sets never require one giant allocation.
// Written only during EncodeAll; read-only afterwards and safe to share.
type PQVectors struct {
	pq     *ProductQuantization
	chunks [][]byte
	layout Layout
}

// NewPQVectors wraps pre-built code chunks (used by the container loader).
func NewPQVectors(pq *ProductQuantization, chunks [][]byte, layout Layout) *PQVectors {
	return &PQVectors{pq: pq, chunks: chunks, layout: layout}
}

// PQ returns the codebooks these codes were produced with.
func (cv *PQVectors) PQ() *ProductQuantization { return cv.pq }

// Count returns the number of encoded vectors.
func (cv *PQVectors) Count() int { return cv.layout.VectorCount }

// Layout returns the chunk layout.
func (cv *PQVectors) Layout() Layout { return cv.layout }

// Chunks returns the raw code chunks (read-only; used by the container writer).
func (cv *PQVectors) Chunks() [][]byte { return cv.chunks }

// Get returns the M code bytes of an ordinal as a view into chunk storage.
func (cv *PQVectors) Get(ordinal int) []byte {
	chunk, offset := cv.layout.ChunkOf(ordinal)
	return cv.chunks[chunk][offset : offset+cv.pq.M]
}

// ScoreFunction returns a per-ordinal similarity function that decodes each
// candidate and compares it exactly. Slower than the precomputed path; used
// by diagnostics and tests.
func (cv *PQVectors) ScoreFunction(q []float32, metric distance.Metric) func(ordinal int) float32 {
	scratch := make([]float32, cv.pq.OriginalDimension)
	return func(ordinal int) float32 {
		cv.pq.Decode(cv.Get(ordinal), scratch)
		return metric.Compare(q, scratch)
	}
}

// PrecomputedScoreFunction returns a per-ordinal similarity function backed
// by a per-query partial-sum table of M*K entries, evaluated with the
// assemble-and-sum kernel. This is the search hot path (asymmetric distance).
//
// The returned release function recycles the table buffers; call it when the
// query is done.
func (cv *PQVectors) PrecomputedScoreFunction(q []float32, metric distance.Metric) (fn func(ordinal int) float32, release func(), err error) {
	pqv := cv.pq
	centered := pqv.Center(q)
	k := pqv.ClusterCount

	switch metric {
	case distance.MetricDot, distance.MetricL2:
		partials := pool.GetFloats(pqv.M * k)
		calculatePartialSums(pqv, centered, metric, *partials)
		fn = func(ordinal int) float32 {
			sum := simd.AssembleAndSum(*partials, k, cv.Get(ordinal))
			return metric.NormalizeRaw(sum)
		}
		release = func() { pool.PutFloats(partials) }
		return fn, release, nil

	case distance.MetricCosine:
		// Cosine decomposes into per-centroid dot products plus squared
		// magnitudes, finished by the decoded-cosine kernel.
		partials := pool.GetFloats(pqv.M * k)
		magnitudes := pool.GetFloats(pqv.M * k)
		for m := 0; m < pqv.M; m++ {
			size, offset := pqv.SubvectorSizesAndOffsets[m][0], pqv.SubvectorSizesAndOffsets[m][1]
			qSub := centered[offset : offset+size]
			for j := 0; j < k; j++ {
				centroid := pqv.centroid(m, j)
				(*partials)[m*k+j] = simd.Dot(qSub, centroid)
				(*magnitudes)[m*k+j] = simd.Dot(centroid, centroid)
			}
		}
		bMagnitude := simd.Dot(centered, centered)
		fn = func(ordinal int) float32 {
			cos := simd.PQDecodedCosineSimilarity(cv.Get(ordinal), 0, pqv.M, k, *partials, *magnitudes, bMagnitude)
			return (1 + cos) / 2
		}
		release = func() {
			pool.PutFloats(partials)
			pool.PutFloats(magnitudes)
		}
		return fn, release, nil

	default:
		return nil, nil, fmt.Errorf("%w: %v", ErrUnsupportedSimilarity, metric)
	}
}

// calculatePartialSums fills partials[m*k+j] with the raw metric value
// between the query's m-th subvector and centroid j of subspace m. Cosine is
// rejected at the provider boundary; it has its own decomposition.
func calculatePartialSums(pqv *ProductQuantization, centered []float32, metric distance.Metric, partials []float32) {
	k := pqv.ClusterCount
	for m := 0; m < pqv.M; m++ {
		size, offset := pqv.SubvectorSizesAndOffsets[m][0], pqv.SubvectorSizesAndOffsets[m][1]
		qSub := centered[offset : offset+size]
		for j := 0; j < k; j++ {
			partials[m*k+j] = metric.CompareRaw(qSub, pqv.centroid(m, j))
		}
	}
}

// DiversityFunction returns a code-to-code similarity function built on a
// triangular symmetric-distance table (one block of k*(k+1)/2 entries per
// subspace). Cosine is not supported on this path.
func (cv *PQVectors) DiversityFunction(metric distance.Metric) (func(a, b int) float32, error) {
	if metric != distance.MetricDot && metric != distance.MetricL2 {
		return nil, fmt.Errorf("%w: %v on symmetric path", ErrUnsupportedSimilarity, metric)
	}

	pqv := cv.pq
	k := pqv.ClusterCount
	blockSize := k * (k + 1) / 2
	partials := make([]float32, pqv.M*blockSize)

	for m := 0; m < pqv.M; m++ {
		block := partials[m*blockSize : (m+1)*blockSize]
		idx := 0
		for r := 0; r < k; r++ {
			cr := pqv.centroid(m, r)
			for c := r; c < k; c++ {
				block[idx] = metric.CompareRaw(cr, pqv.centroid(m, c))
				idx++
			}
		}
	}

	return func(a, b int) float32 {
		sum := simd.AssembleAndSumPQ(partials, pqv.M, cv.Get(a), 0, cv.Get(b), 0, k)
		return metric.NormalizeRaw(sum)
	}, nil
}

// QuantizedPartialSums compresses a partial-sum table to little-endian
// uint16 against per-subspace bases, trading a small score error for a 2x
// smaller per-query table. Returns the quantized bytes, the bases, and the
// delta used.
func QuantizedPartialSums(pqv *ProductQuantization, partials []float32) (quantized []byte, bases []float32, delta float32) {
	k := pqv.ClusterCount
	bases = make([]float32, pqv.M)
	var maxSpread float32
	for m := 0; m < pqv.M; m++ {
		row := partials[m*k : (m+1)*k]
		base := simd.Min(row)
		bases[m] = base
		if spread := simd.Max(row) - base; spread > maxSpread {
			maxSpread = spread
		}
	}
	delta = maxSpread / 65535
	if delta == 0 {
		delta = 1
	}
	quantized = make([]byte, 2*len(partials))
	simd.QuantizePartials(delta, partials, bases, quantized)
	return quantized, bases, delta
}
