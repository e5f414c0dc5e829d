// Package pq implements Product Quantization: codebook training with
// k-means++ (unweighted and anisotropic), one-byte-per-subspace encoding,
// chunked code storage that side-steps single-allocation limits, and
// precomputed partial-distance tables for fast asymmetric (query-to-code)
// and symmetric (code-to-code) scoring.
package pq
