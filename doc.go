// Package annex is an in-memory and on-disk library for approximate
// nearest-neighbor search over dense float32 vectors. Its core is a
// concurrently-constructed, hierarchically-layered proximity graph
// (Vamana-style base layer with optional upper layers) coupled with a
// Product Quantization engine, so construction and search can run on
// compact approximate representations and rerank with exact distances.
//
// The root package is a thin facade over the subsystem packages:
//
//   - distance:  similarity metrics backed by vectorized kernels
//   - pq:        product quantization training, codecs, and scoring tables
//   - graph:     the layered graph index, builder, and searcher
//   - blobstore: object-storage shipping for saved index containers
//
// Quick start:
//
//	ravv := vectorstore.NewMemorySource(vectors, dim)
//	ix, err := annex.Build(ctx, ravv, annex.WithPQ(16, 256))
//	result, err := ix.Search(query, 10)
package annex
