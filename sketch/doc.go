// Package sketch provides streaming sketches for approximate frequency and
// distinct-count estimation over hashed values.
//
// CountMin estimates per-key frequencies with a count-min sketch using
// conservative adds to reduce noise. HyperLogLog estimates distinct counts.
// Both address independent buckets (aggregation groups) inside one growable
// backing array, collect pre-hashed 64-bit values, merge across instances and
// round-trip through a compact binary encoding.
//
// Sketches are single-writer structures: Collect, Merge and Grow mutate
// shared backing arrays in place, so collection must be confined to one
// goroutine per instance. All operations are synchronous and CPU-bound.
// Callers own the backing storage lifecycle and must Close sketches on every
// exit path.
package sketch
