// Package persistence provides little-endian binary serialization for the
// annex container formats: the layered graph container and the product
// quantization blob. It also supplies atomic file saves (temp file + fsync +
// rename) and an optional block compression codec for bulk byte payloads.
//
// The container layouts themselves live with their owning packages (graph,
// pq); this package only supplies the primitives they are written with.
package persistence
