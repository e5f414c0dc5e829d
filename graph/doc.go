// Package graph implements a concurrently-constructed, hierarchically-layered
// proximity graph for approximate nearest-neighbor search: a Vamana-style
// base layer with optional sparse upper layers, diverse neighbor selection,
// snapshot-isolated views, and a best-first beam searcher with a two-phase
// approximate+exact scoring pipeline.
package graph
