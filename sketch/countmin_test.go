package sketch

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/hupe1980/sketchgo/bigarray"
	"github.com/hupe1980/sketchgo/hashing"
	"github.com/hupe1980/sketchgo/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountMin_InvalidParams(t *testing.T) {
	alloc := bigarray.NewAllocator(nil)

	_, err := NewCountMin(alloc, 0, 10, 8)
	assert.Error(t, err)

	_, err = NewCountMin(alloc, 3, 0, 8)
	assert.Error(t, err)

	_, err = NewCountMin(alloc, 3, 10, 0)
	assert.Error(t, err)

	_, err = NewCountMin(alloc, 3, 10, 64)
	assert.Error(t, err)
}

func TestCountMin_Simple(t *testing.T) {
	alloc := bigarray.NewAllocator(nil)
	s, err := NewCountMin(alloc, 3, 12, 10)
	require.NoError(t, err)
	defer s.Close()

	cards, err := s.Cardinalities(0, 1, 2, 4)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 0, 0}, cards)

	require.NoError(t, s.Collect(0, hashing.Mix64(1)))
	cards, err = s.Cardinalities(0, 1, 2, 4)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 0, 0}, cards)

	require.NoError(t, s.Collect(0, hashing.Mix64(2)))
	cards, err = s.Cardinalities(0, 1, 2, 4)
	require.NoError(t, err)
	assert.Equal(t, []uint64{2, 0, 0}, cards)

	require.NoError(t, s.Collect(0, hashing.Mix64(2)))
	cards, err = s.Cardinalities(0, 1, 2, 4)
	require.NoError(t, err)
	assert.Equal(t, []uint64{2, 1, 0}, cards)

	for i := 0; i < 100000; i++ {
		require.NoError(t, s.Collect(0, hashing.Mix64(3)))
	}
	cards, err = s.Cardinalities(0, 1, 2, 4)
	require.NoError(t, err)
	assert.Equal(t, []uint64{3, 2, 1}, cards)
}

func TestCountMin_CardinalitiesPreconditions(t *testing.T) {
	alloc := bigarray.NewAllocator(nil)
	s, err := NewCountMin(alloc, 2, 8, 6)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Cardinalities(0, 2, 1) // out of order
	assert.Error(t, err)

	_, err = s.Cardinalities(0, 1, 1) // not strictly ascending
	assert.Error(t, err)

	_, err = s.Cardinalities(0, 0, 1) // zero threshold
	assert.Error(t, err)

	_, err = s.Cardinalities(0, 1, s.MaxFreq()+1) // above saturation
	assert.Error(t, err)
}

func TestCountMin_UnseenBucket(t *testing.T) {
	alloc := bigarray.NewAllocator(nil)
	s, err := NewCountMin(alloc, 2, 8, 6)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Collect(0, hashing.Mix64(1)))

	// Bucket 7 was never collected into.
	cards, err := s.Cardinalities(7, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 0}, cards)
}

func TestCountMin_Saturation(t *testing.T) {
	alloc := bigarray.NewAllocator(nil)
	s, err := NewCountMin(alloc, 2, 8, 4)
	require.NoError(t, err)
	defer s.Close()

	require.Equal(t, uint64(15), s.MaxFreq())
	require.NoError(t, s.CollectN(0, hashing.Mix64(9), 1000))
	assert.Equal(t, uint64(15), s.freq(0, hashing.Mix64(9)))

	// Saturated counters stay put.
	require.NoError(t, s.Collect(0, hashing.Mix64(9)))
	assert.Equal(t, uint64(15), s.freq(0, hashing.Mix64(9)))
}

// TestCountMin_DuelBucket checks that sketch state is fully independent
// between buckets: the same stream collected into bucket 0 and a higher
// bucket must produce identical estimates.
func TestCountMin_DuelBucket(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	alloc := bigarray.NewAllocator(nil)

	for iter := 0; iter < 10; iter++ {
		d := 1 + rng.Intn(5)
		lgW := 5 + rng.Intn(6)
		lgMaxFreq := 5 + rng.Intn(19)
		bucket := int64(1 + rng.Intn(5))

		s, err := NewCountMin(alloc, d, lgW, lgMaxFreq)
		require.NoError(t, err)

		for j := rng.Intn(10000); j >= 0; j-- {
			hash := hashing.Mix64(uint64(rng.Intn(1 << rng.Intn(11))))
			require.NoError(t, s.Collect(bucket, hash))
			require.NoError(t, s.Collect(0, hash))
		}

		frequencies := make([]uint64, 1+rng.Intn(8))
		for j := range frequencies {
			frequencies[j] = uint64(2*j + 1 + rng.Intn(2))
		}

		want, err := s.Cardinalities(0, frequencies...)
		require.NoError(t, err)
		got, err := s.Cardinalities(bucket, frequencies...)
		require.NoError(t, err)
		assert.Equal(t, want, got)

		s.Close()
	}
}

func TestCountMin_Merge(t *testing.T) {
	alloc := bigarray.NewAllocator(nil)

	s1, err := NewCountMin(alloc, 3, 10, 8)
	require.NoError(t, err)
	defer s1.Close()
	s2, err := NewCountMin(alloc, 3, 10, 8)
	require.NoError(t, err)
	defer s2.Close()

	for i := uint64(0); i < 100; i++ {
		require.NoError(t, s1.Collect(2, hashing.Mix64(i)))
	}
	for i := uint64(100); i < 250; i++ {
		require.NoError(t, s2.Collect(0, hashing.Mix64(i)))
	}

	require.NoError(t, s1.Merge(2, s2, 0))

	// Merged counters cover both inputs.
	base1 := s1.baseAddress(2)
	for i := int64(0); i < s1.baseAddress(1); i++ {
		sum := s2.freqs.Get(i)
		require.GreaterOrEqual(t, s1.freqs.Get(base1+i), sum)
	}

	cards, err := s1.Cardinalities(2, 1)
	require.NoError(t, err)
	assert.InEpsilon(t, 250, float64(cards[0]), 0.1)
}

func TestCountMin_MergeEmptyOtherIsNoOp(t *testing.T) {
	alloc := bigarray.NewAllocator(nil)

	s1, err := NewCountMin(alloc, 2, 8, 6)
	require.NoError(t, err)
	defer s1.Close()
	s2, err := NewCountMin(alloc, 2, 8, 6)
	require.NoError(t, err)
	defer s2.Close()

	require.NoError(t, s1.Collect(0, hashing.Mix64(1)))
	require.NoError(t, s1.Merge(0, s2, 3))

	cards, err := s1.Cardinalities(0, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, cards)
}

func TestCountMin_MergeDimensionMismatch(t *testing.T) {
	alloc := bigarray.NewAllocator(nil)

	s1, err := NewCountMin(alloc, 2, 8, 6)
	require.NoError(t, err)
	defer s1.Close()

	other, err := NewCountMin(alloc, 3, 8, 6)
	require.NoError(t, err)
	defer other.Close()
	assert.Error(t, s1.Merge(0, other, 0))

	other2, err := NewCountMin(alloc, 2, 9, 6)
	require.NoError(t, err)
	defer other2.Close()
	assert.Error(t, s1.Merge(0, other2, 0))
}

func TestCountMin_SerializationRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(23))
	alloc := bigarray.NewAllocator(nil)

	for iter := 0; iter < 10; iter++ {
		d := 1 + rng.Intn(5)
		lgW := 5 + rng.Intn(6)
		lgMaxFreq := 4 + rng.Intn(20)
		bucket := int64(rng.Intn(5))

		s, err := NewCountMin(alloc, d, lgW, lgMaxFreq)
		require.NoError(t, err)

		for j := rng.Intn(10000); j >= 0; j-- {
			require.NoError(t, s.Collect(bucket, hashing.Mix64(uint64(rng.Intn(1<<rng.Intn(11))))))
		}

		var buf bytes.Buffer
		require.NoError(t, s.WriteTo(bucket, &buf))

		s2, err := ReadCountMin(&buf, alloc)
		require.NoError(t, err)
		require.Equal(t, s.D(), s2.D())
		require.Equal(t, s.LgW(), s2.LgW())
		require.Equal(t, s.MaxFreq(), s2.MaxFreq())

		base := s.baseAddress(bucket)
		for j := int64(0); j < s2.baseAddress(1); j++ {
			require.Equal(t, s.freqs.Get(base+j), s2.freqs.Get(j), "counter %d", j)
		}

		s.Close()
		s2.Close()
	}
}

func TestCountMin_RoundTripEmptyBucket(t *testing.T) {
	alloc := bigarray.NewAllocator(nil)
	s, err := NewCountMin(alloc, 2, 6, 5)
	require.NoError(t, err)
	defer s.Close()

	var buf bytes.Buffer
	require.NoError(t, s.WriteTo(0, &buf))

	s2, err := ReadCountMin(&buf, alloc)
	require.NoError(t, err)
	defer s2.Close()

	for j := int64(0); j < s2.baseAddress(1); j++ {
		require.Zero(t, s2.freqs.Get(j))
	}
}

func TestCountMin_ReadCorrupted(t *testing.T) {
	alloc := bigarray.NewAllocator(nil)
	s, err := NewCountMin(alloc, 2, 6, 5)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Collect(0, hashing.Mix64(4)))

	var buf bytes.Buffer
	require.NoError(t, s.WriteTo(0, &buf))
	data := buf.Bytes()

	// Truncation.
	_, err = ReadCountMin(bytes.NewReader(data[:len(data)-1]), alloc)
	assert.ErrorIs(t, err, persistence.ErrCorrupted)

	// A literal above the saturation value.
	var bad bytes.Buffer
	sw := persistence.NewStreamWriter(&bad)
	require.NoError(t, sw.WriteUvarint(1)) // d
	require.NoError(t, sw.WriteUvarint(1)) // lgW
	require.NoError(t, sw.WriteUvarint(2)) // lgMaxFreq, maxFreq=3
	require.NoError(t, sw.WriteUvarint(64+50))
	require.NoError(t, sw.WriteUvarint(64))
	_, err = ReadCountMin(&bad, alloc)
	assert.ErrorIs(t, err, persistence.ErrCorrupted)
}
