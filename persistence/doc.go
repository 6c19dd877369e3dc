// Package persistence provides the compact binary encoding for sketch state:
// varint streams, run-length friendly primitives, CRC32 checksums, block
// compression, and the snapshot container format.
package persistence
