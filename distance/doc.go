// Package distance provides the public API for vector similarity.
// All functions use the kernels from internal/simd, which select an
// implementation tier at process start.
//
// Similarities are normalized onto a common scale ([0, 1] for L2, cosine, and
// dot products of unit-length vectors) so that graph construction and search
// can compare scores across metrics: higher is always closer.
package distance
