// Package immutable provides persistent (copy-on-write) collections.
//
// Map is a hash array mapped trie: inner nodes use a 64-bit bitmap in order
// to map hash fragments to slots by counting ones. Writes return a new map
// that shares all untouched subtrees with the previous version, so any number
// of goroutines may read any version without locking while writers derive new
// versions from it.
//
// Reads and writes both perform in logarithmic time.
package immutable
