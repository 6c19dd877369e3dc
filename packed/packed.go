// Package packed provides a fixed-bit-width integer array over paged backing
// storage. Values are addressed at the bit level and may straddle two 64-bit
// words; get and set are bit-exact inverses for every width in [1,63].
package packed

import (
	"fmt"

	"github.com/hupe1980/sketchgo/bigarray"
)

// Array packs unsigned values of bpv bits each into 64-bit words, big-endian
// within a word: value i occupies bits [i*bpv, i*bpv+bpv) counted from the
// most significant bit of word 0.
type Array struct {
	words *bigarray.Int64Array
	bpv   uint
	size  int64
}

func valueMask(bpv uint) uint64 {
	return 1<<bpv - 1
}

func wordsFor(length int64, bpv uint) int64 {
	return (length*int64(bpv) + 63) / 64
}

// New creates an array of length values at bpv bits per value.
func New(alloc *bigarray.Allocator, bpv int, length int64) (*Array, error) {
	if bpv < 1 || bpv > 63 {
		return nil, fmt.Errorf("packed: bpv must be in [1,63], got %d", bpv)
	}
	if length < 0 {
		return nil, fmt.Errorf("packed: length must be non-negative, got %d", length)
	}
	words, err := alloc.NewInt64(wordsFor(length, uint(bpv)))
	if err != nil {
		return nil, err
	}
	return &Array{words: words, bpv: uint(bpv), size: length}, nil
}

// Len returns the number of addressable values.
func (a *Array) Len() int64 { return a.size }

// BitsPerValue returns the configured value width.
func (a *Array) BitsPerValue() int { return int(a.bpv) }

// Grow extends the array to hold at least length values. Existing bit content
// is preserved exactly; new values read as zero.
func (a *Array) Grow(length int64) error {
	if length <= a.size {
		return nil
	}
	if err := a.words.Grow(wordsFor(length, a.bpv)); err != nil {
		return err
	}
	a.size = length
	return nil
}

// Get returns the value at index.
func (a *Array) Get(index int64) uint64 {
	bitIndex := index * int64(a.bpv)
	wordIndex := bitIndex >> 6
	within := uint(bitIndex & 0x3f)

	if within+a.bpv <= 64 {
		bits := uint64(a.words.Get(wordIndex))
		return (bits >> (64 - a.bpv - within)) & valueMask(a.bpv)
	}
	// Scattered across two words.
	bits1 := uint64(a.words.Get(wordIndex))
	bits2 := uint64(a.words.Get(wordIndex + 1))
	tail := within + a.bpv - 64 // bits living in the second word
	return (bits1<<tail | bits2>>(64-tail)) & valueMask(a.bpv)
}

// Set stores value at index and returns the previous value. value must fit in
// bpv bits; wider values silently corrupt neighbours, which is the documented
// price of keeping this branch-free on the hot path.
func (a *Array) Set(index int64, value uint64) uint64 {
	bitIndex := index * int64(a.bpv)
	wordIndex := bitIndex >> 6
	within := uint(bitIndex & 0x3f)

	if within+a.bpv <= 64 {
		bits := uint64(a.words.Get(wordIndex))
		right := 64 - a.bpv - within
		prev := (bits >> right) & valueMask(a.bpv)
		bits = bits&^(valueMask(a.bpv)<<right) | value<<right
		a.words.Set(wordIndex, int64(bits))
		return prev
	}
	// Scattered across two words.
	bits1 := uint64(a.words.Get(wordIndex))
	bits2 := uint64(a.words.Get(wordIndex + 1))
	tail := within + a.bpv - 64
	prev := (bits1<<tail | bits2>>(64-tail)) & valueMask(a.bpv)
	bits1 = bits1&(^uint64(0)<<(a.bpv-tail)) | value>>tail
	bits2 = bits2&(^uint64(0)>>tail) | value<<(64-tail)
	a.words.Set(wordIndex, int64(bits1))
	a.words.Set(wordIndex+1, int64(bits2))
	return prev
}

// Fill sets every index in [from, to) to value.
func (a *Array) Fill(from, to int64, value uint64) {
	for i := from; i < to; i++ {
		a.Set(i, value)
	}
}

// Close releases the backing storage. The owner calls it on every exit path
// once the array is no longer needed.
func (a *Array) Close() {
	a.words.Close()
}
