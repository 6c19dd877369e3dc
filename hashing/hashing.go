// Package hashing provides the hash functions the sketches and persistent
// collections are fed with. Any consistent, well-distributed hash works for
// correctness; these are the ones the library uses by default.
package hashing

import (
	"github.com/cespare/xxhash/v2"
	"github.com/spaolacci/murmur3"
)

// Sum64 hashes b with 128-bit murmur3 truncated to the first 64 bits.
func Sum64(b []byte) uint64 {
	h, _ := murmur3.Sum128(b)
	return h
}

// SumString64 hashes s with 128-bit murmur3 truncated to the first 64 bits.
func SumString64(s string) uint64 {
	h, _ := murmur3.Sum128([]byte(s))
	return h
}

// Mix64 applies the 64-bit murmur3 finalizer to k. It is the canonical way to
// turn an integer field value into a sketch-quality hash without touching a
// byte buffer.
func Mix64(k uint64) uint64 {
	k ^= k >> 33
	k *= 0xff51afd7ed558ccd
	k ^= k >> 33
	k *= 0xc4ceb9fe1a85ec53
	k ^= k >> 33
	return k
}

// String32 hashes s to 32 bits with xxhash, for trie keys.
func String32(s string) uint32 {
	return uint32(xxhash.Sum64String(s))
}
