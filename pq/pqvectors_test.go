package pq

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/annex/distance"
	"github.com/hupe1980/annex/persistence"
	"github.com/hupe1980/annex/vectorstore"
)

func trainedVectors(t *testing.T, rng *rand.Rand, n, dim, m, k int) ([][]float32, *ProductQuantization, *PQVectors) {
	t.Helper()
	vectors := generate(rng, k, dim, n)
	ravv := vectorstore.NewMemorySource(vectors, dim)
	p, err := Compute(ravv, m, k, false, WithSeed(rng.Int63()))
	require.NoError(t, err)
	cv, err := p.EncodeAll(t.Context(), ravv)
	require.NoError(t, err)
	return vectors, p, cv
}

// The precomputed (table-driven) score must agree exactly with scoring
// against the decoded reconstruction.
func TestPrecomputedMatchesDecoded(t *testing.T) {
	rng := rand.New(rand.NewSource(21))
	for _, metric := range []distance.Metric{distance.MetricDot, distance.MetricL2, distance.MetricCosine} {
		_, p, cv := trainedVectors(t, rng, 500, 8, 4, 32)
		q := randomVector(rng, 8)

		precomputed, release, err := cv.PrecomputedScoreFunction(q, metric)
		require.NoError(t, err)
		decoded := cv.ScoreFunction(q, metric)

		for ord := 0; ord < cv.Count(); ord++ {
			assert.InDelta(t, decoded(ord), precomputed(ord), 1e-4, "metric %v ordinal %d", metric, ord)
		}
		release()
		_ = p
	}
}

func TestDiversityFunctionMatchesDecodedPairs(t *testing.T) {
	rng := rand.New(rand.NewSource(22))
	for _, metric := range []distance.Metric{distance.MetricDot, distance.MetricL2} {
		_, p, cv := trainedVectors(t, rng, 200, 6, 3, 16)

		diversity, err := cv.DiversityFunction(metric)
		require.NoError(t, err)

		a := make([]float32, p.OriginalDimension)
		b := make([]float32, p.OriginalDimension)
		for i := 0; i < 50; i++ {
			x, y := rng.Intn(cv.Count()), rng.Intn(cv.Count())
			p.Decode(cv.Get(x), a)
			p.Decode(cv.Get(y), b)
			assert.InDelta(t, metric.Compare(a, b), diversity(x, y), 1e-4)
			// Symmetric by construction.
			assert.InDelta(t, diversity(x, y), diversity(y, x), 1e-6)
		}
	}
}

// Cosine has no symmetric partial-sum table; the provider boundary rejects it.
func TestDiversityFunctionRejectsCosine(t *testing.T) {
	rng := rand.New(rand.NewSource(23))
	_, _, cv := trainedVectors(t, rng, 100, 4, 2, 8)

	_, err := cv.DiversityFunction(distance.MetricCosine)
	require.ErrorIs(t, err, ErrUnsupportedSimilarity)
}

func TestEncodeAllChunking(t *testing.T) {
	rng := rand.New(rand.NewSource(24))
	vectors, p, cv := trainedVectors(t, rng, 333, 5, 5, 16)

	assert.Equal(t, len(vectors), cv.Count())
	code := make([]byte, p.M)
	for ord := range vectors {
		require.NoError(t, p.Encode(vectors[ord], code))
		assert.Equal(t, code, cv.Get(ord), "ordinal %d", ord)
	}
}

func TestEncodeAllAbsentOrdinals(t *testing.T) {
	rng := rand.New(rand.NewSource(25))
	vectors := generate(rng, 8, 4, 64)
	vectors[10] = nil
	vectors[63] = nil
	ravv := vectorstore.NewMemorySource(vectors, 4)

	p, err := Compute(ravv, 2, 8, false, WithSeed(1))
	require.NoError(t, err)
	cv, err := p.EncodeAll(t.Context(), ravv)
	require.NoError(t, err)

	assert.Equal(t, []byte{0, 0}, cv.Get(10))
	assert.Equal(t, []byte{0, 0}, cv.Get(63))
}

func TestWriteLoadCodes(t *testing.T) {
	rng := rand.New(rand.NewSource(26))
	for _, ct := range []persistence.CompressionType{
		persistence.CompressionNone,
		persistence.CompressionLZ4,
		persistence.CompressionZSTD,
	} {
		_, p, cv := trainedVectors(t, rng, 256, 8, 4, 16)

		var buf bytes.Buffer
		require.NoError(t, cv.WriteCodes(&buf, ct))

		loaded, err := LoadCodes(&buf, p)
		require.NoError(t, err)
		require.Equal(t, cv.Count(), loaded.Count())
		for ord := 0; ord < cv.Count(); ord++ {
			assert.Equal(t, cv.Get(ord), loaded.Get(ord))
		}
	}
}

func TestQuantizedPartialSums(t *testing.T) {
	rng := rand.New(rand.NewSource(27))
	_, p, _ := trainedVectors(t, rng, 200, 8, 4, 16)
	q := randomVector(rng, 8)

	k := p.ClusterCount
	partials := make([]float32, p.M*k)
	calculatePartialSums(p, q, distance.MetricL2, partials)

	quantized, bases, delta := QuantizedPartialSums(p, partials)
	require.Len(t, quantized, 2*len(partials))

	// Dequantized values approximate the originals within one delta step.
	for m := 0; m < p.M; m++ {
		for j := 0; j < k; j++ {
			idx := m*k + j
			u := binary.LittleEndian.Uint16(quantized[2*idx:])
			reconstructed := bases[m] + float32(u)*delta
			assert.InDelta(t, partials[idx], reconstructed, float64(delta)+1e-6)
		}
	}
}
