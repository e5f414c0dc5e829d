package distance

import (
	"fmt"
	"slices"

	"github.com/hupe1980/annex/internal/simd"
)

// Dot calculates the dot product of two vectors.
// Assumes vectors are the same length (caller's responsibility).
func Dot(a, b []float32) float32 {
	return simd.Dot(a, b)
}

// SquaredL2 calculates the squared L2 (Euclidean) distance between two vectors.
// Assumes vectors are the same length (caller's responsibility).
func SquaredL2(a, b []float32) float32 {
	return simd.SquaredL2(a, b)
}

// Cosine calculates the cosine similarity of two vectors.
// Assumes vectors are the same length and non-degenerate.
func Cosine(a, b []float32) float32 {
	return simd.Cosine(a, b)
}

// Hamming calculates the hamming distance between two bit-packed vectors.
func Hamming(a, b []uint64) float32 {
	return float32(simd.Hamming(a, b))
}

// NormalizeL2InPlace L2-normalizes v in place.
// Returns false if v has zero L2 norm.
func NormalizeL2InPlace(v []float32) bool {
	if len(v) == 0 {
		return false
	}
	norm2 := simd.Dot(v, v)
	if norm2 == 0 {
		return false
	}
	simd.ScaleInPlace(v, 1/simd.Sqrt(norm2))
	return true
}

// NormalizeL2Copy returns a normalized copy of src.
// Returns false if src has zero L2 norm.
func NormalizeL2Copy(src []float32) ([]float32, bool) {
	dst := slices.Clone(src)
	if !NormalizeL2InPlace(dst) {
		return nil, false
	}
	return dst, true
}

// Metric represents the similarity metric used for vector comparison.
type Metric int

const (
	MetricDot Metric = iota
	MetricL2
	MetricCosine
)

func (m Metric) String() string {
	switch m {
	case MetricDot:
		return "Dot"
	case MetricL2:
		return "L2"
	case MetricCosine:
		return "Cosine"
	default:
		return fmt.Sprintf("Unknown(%d)", m)
	}
}

// Compare returns the normalized similarity of a and b: in [0, 1] for L2 and
// cosine, and for dot products of unit-length vectors.
// Higher scores mean closer vectors under every metric.
func (m Metric) Compare(a, b []float32) float32 {
	switch m {
	case MetricDot:
		return (1 + simd.Dot(a, b)) / 2
	case MetricL2:
		return 1 / (1 + simd.SquaredL2(a, b))
	case MetricCosine:
		return (1 + simd.Cosine(a, b)) / 2
	default:
		return 0
	}
}

// CompareRaw returns the raw metric value: dot product, squared L2 distance,
// or cosine. Used where the unnormalized quantity is needed (PQ partial sums).
func (m Metric) CompareRaw(a, b []float32) float32 {
	switch m {
	case MetricDot:
		return simd.Dot(a, b)
	case MetricL2:
		return simd.SquaredL2(a, b)
	case MetricCosine:
		return simd.Cosine(a, b)
	default:
		return 0
	}
}

// NormalizeRaw converts a raw metric value into the similarity scale used by
// Compare.
func (m Metric) NormalizeRaw(raw float32) float32 {
	switch m {
	case MetricDot, MetricCosine:
		return (1 + raw) / 2
	case MetricL2:
		return 1 / (1 + raw)
	default:
		return 0
	}
}

// Func is a function type for similarity calculation.
type Func func(a, b []float32) float32

// Provider returns the normalized similarity function for the given metric.
func Provider(m Metric) (Func, error) {
	switch m {
	case MetricDot, MetricL2, MetricCosine:
		return m.Compare, nil
	default:
		return nil, fmt.Errorf("unsupported metric: %v", m)
	}
}
