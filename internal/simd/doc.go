// Package simd provides the vectorized kernels behind all distance and
// quantization math in annex.
//
// Kernels are dispatched through function pointers that are bound once at
// package init: the generic scalar implementations are the default, and the
// unrolled tier overrides them when the CPU supports wide SIMD execution
// (AVX2 on x86-64, ASIMD on ARM64). The ANNEX_SIMD environment variable
// forces a tier ("generic" or "unrolled") for debugging and benchmarking.
//
// All binary kernels assume equal-length inputs; callers validate lengths
// before descending into this package.
package simd
