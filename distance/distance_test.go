package distance

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDot(t *testing.T) {
	assert.InDelta(t, 11.0, Dot([]float32{1, 2, 3}, []float32{3, 1, 2}), 1e-6)
	assert.InDelta(t, 0.0, Dot([]float32{1, 0}, []float32{0, 1}), 1e-6)
}

func TestSquaredL2(t *testing.T) {
	assert.InDelta(t, 0.0, SquaredL2([]float32{1, 2}, []float32{1, 2}), 1e-6)
	assert.InDelta(t, 8.0, SquaredL2([]float32{0, 0}, []float32{2, 2}), 1e-6)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 1}, []float32{2, 2}), 1e-6)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-1, 0}), 1e-6)
}

func TestCompareNormalization(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{-1, 0}

	// Dot of opposing unit vectors maps to 0; identical to 1.
	assert.InDelta(t, 0.0, MetricDot.Compare(a, b), 1e-6)
	assert.InDelta(t, 1.0, MetricDot.Compare(a, a), 1e-6)

	// L2 identical → 1, distance 4 → 1/5.
	assert.InDelta(t, 1.0, MetricL2.Compare(a, a), 1e-6)
	assert.InDelta(t, 0.2, MetricL2.Compare(a, b), 1e-6)

	assert.InDelta(t, 1.0, MetricCosine.Compare(a, a), 1e-6)
	assert.InDelta(t, 0.0, MetricCosine.Compare(a, b), 1e-6)
}

func TestNormalizeRawMatchesCompare(t *testing.T) {
	a := []float32{0.3, -0.4, 0.5}
	b := []float32{-0.1, 0.9, 0.2}
	for _, m := range []Metric{MetricDot, MetricL2, MetricCosine} {
		assert.InDelta(t, m.Compare(a, b), m.NormalizeRaw(m.CompareRaw(a, b)), 1e-6, m.String())
	}
}

func TestNormalizeL2(t *testing.T) {
	v := []float32{3, 4}
	require.True(t, NormalizeL2InPlace(v))
	assert.InDelta(t, 1.0, math.Sqrt(float64(Dot(v, v))), 1e-6)

	require.False(t, NormalizeL2InPlace([]float32{0, 0}))

	cp, ok := NormalizeL2Copy([]float32{0, 5})
	require.True(t, ok)
	assert.InDelta(t, 1.0, cp[1], 1e-6)
}

func TestProvider(t *testing.T) {
	for _, m := range []Metric{MetricDot, MetricL2, MetricCosine} {
		fn, err := Provider(m)
		require.NoError(t, err)
		require.NotNil(t, fn)
	}
	_, err := Provider(Metric(99))
	require.Error(t, err)
}

func TestHamming(t *testing.T) {
	assert.Equal(t, float32(1), Hamming([]uint64{1}, []uint64{0}))
	assert.Equal(t, float32(0), Hamming([]uint64{7}, []uint64{7}))
}
