package sketch

import (
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/hupe1980/sketchgo/bigarray"
	"github.com/hupe1980/sketchgo/packed"
	"github.com/hupe1980/sketchgo/persistence"
)

// Counters are re-hashed between rows with the multiplier of a well-known
// linear congruential generator. Cheap decorrelation is all that is needed.
const (
	lcgMultiplier = 0x5DEECE66D
	lcgIncrement  = 0xB
)

// CountMin is a count-min sketch for frequency estimation. It uses
// conservative adds in order to reduce noise: counters are only raised to the
// smallest value consistent with the observed minimum, never blindly
// incremented across all rows.
type CountMin struct {
	d         int
	lgW       uint
	lgMaxFreq uint
	maxFreq   uint64
	freqs     *packed.Array
}

// NewCountMin creates a sketch with d hash rows of 2^lgW counters each,
// lgMaxFreq bits per counter. Frequencies saturate at 2^lgMaxFreq - 1.
func NewCountMin(alloc *bigarray.Allocator, d, lgW, lgMaxFreq int) (*CountMin, error) {
	if d < 1 {
		return nil, fmt.Errorf("sketch: must use at least one hash function, got d=%d", d)
	}
	if lgW < 1 {
		return nil, fmt.Errorf("sketch: must use at least 2 counters per row, got lgW=%d", lgW)
	}
	if lgMaxFreq < 1 || lgMaxFreq > 63 {
		return nil, fmt.Errorf("sketch: lgMaxFreq must be in [1,63], got %d", lgMaxFreq)
	}
	freqs, err := packed.New(alloc, lgMaxFreq, 0)
	if err != nil {
		return nil, err
	}
	return &CountMin{
		d:         d,
		lgW:       uint(lgW),
		lgMaxFreq: uint(lgMaxFreq),
		maxFreq:   1<<lgMaxFreq - 1,
		freqs:     freqs,
	}, nil
}

// D returns the number of hash rows.
func (s *CountMin) D() int { return s.d }

// LgW returns the log2 of the per-row width.
func (s *CountMin) LgW() int { return int(s.lgW) }

// MaxFreq returns the saturation value of the counters.
func (s *CountMin) MaxFreq() uint64 { return s.maxFreq }

// MaxBucket returns the number of buckets the backing array currently covers.
func (s *CountMin) MaxBucket() int64 {
	return (s.freqs.Len() >> s.lgW) / int64(s.d)
}

func (s *CountMin) baseAddress(bucket int64) int64 {
	return int64(s.d) * (bucket << s.lgW)
}

func (s *CountMin) address(base int64, row int, hash uint64) int64 {
	return base + // base address for the bucket
		int64(row)<<s.lgW + // base address for the row
		int64(hash&(1<<s.lgW-1)) // hash remainder
}

func (s *CountMin) grow(numBuckets int64) error {
	return s.freqs.Grow(s.baseAddress(numBuckets))
}

// freq returns the estimated frequency of hash: the minimum counter across
// the d rows.
func (s *CountMin) freq(bucket int64, hash uint64) uint64 {
	base := s.baseAddress(bucket)
	minFreq := uint64(math.MaxUint64)
	for i := 0; i < s.d; i, hash = i+1, hash*lcgMultiplier+lcgIncrement {
		if f := s.freqs.Get(s.address(base, i, hash)); f < minFreq {
			minFreq = f
		}
	}
	return minFreq
}

func (s *CountMin) updateFreq(bucket int64, hash uint64, newFreq uint64) {
	base := s.baseAddress(bucket)
	for i := 0; i < s.d; i, hash = i+1, hash*lcgMultiplier+lcgIncrement {
		index := s.address(base, i, hash)
		if newFreq > s.freqs.Get(index) {
			s.freqs.Set(index, newFreq)
		}
	}
}

// Collect records one occurrence of hash in bucket.
func (s *CountMin) Collect(bucket int64, hash uint64) error {
	return s.CollectN(bucket, hash, 1)
}

// CollectN records inc occurrences of hash in bucket, growing the backing
// array as needed.
func (s *CountMin) CollectN(bucket int64, hash uint64, inc uint64) error {
	if err := s.grow(bucket + 1); err != nil {
		return err
	}
	freq := s.freq(bucket, hash)
	if freq < s.maxFreq {
		newFreq := freq + inc
		if newFreq > s.maxFreq || newFreq < freq { // cap, guarding wrap
			newFreq = s.maxFreq
		}
		s.updateFreq(bucket, hash, newFreq)
	}
	return nil
}

// rowCardinalities computes, for a single row, how many counters fall at or
// above each threshold, after subtracting the row's noise floor.
func (s *CountMin) rowCardinalities(bucket int64, row int, frequencies []uint64) []uint64 {
	counts := make([]uint64, len(frequencies))
	base := s.baseAddress(bucket) + int64(row)<<s.lgW
	w := int64(1) << s.lgW

	// With a well-distributed hash the minimum counter of the row is almost
	// surely pure collision noise; use it to correct heavy hitters.
	noise := uint64(math.MaxUint64)
	for i := int64(0); noise != 0 && i < w; i++ {
		if f := s.freqs.Get(base + i); f < noise {
			noise = f
		}
	}

	for i := int64(0); i < w; i++ {
		freq := s.freqs.Get(base + i)
		if freq < s.maxFreq {
			if freq/2 >= noise {
				freq -= noise
			} else if freq >= noise {
				freq -= noise / 2
			}
		}
		// Rightmost threshold <= freq.
		idx := sort.Search(len(frequencies), func(j int) bool {
			return frequencies[j] > freq
		}) - 1
		if idx >= 0 {
			counts[idx]++
		}
	}
	for i := len(counts) - 2; i >= 0; i-- {
		counts[i] += counts[i+1]
	}
	return counts
}

// mergeRows merges per-row threshold counts by taking the per-threshold
// minimum: any single row may over-count from collisions, so the truth can
// not exceed any row's report. The count for threshold 1 is instead replaced
// by the median across rows of the linear-counting estimate w*ln(w/zeros),
// which corrects the distinct-count underestimate when many unique
// low-frequency values collide.
func (s *CountMin) mergeRows(rows [][]uint64, frequencies []uint64) []uint64 {
	merged := make([]uint64, len(rows[0]))
	copy(merged, rows[0])
	for i := 1; i < s.d; i++ {
		for j, c := range rows[i] {
			if c < merged[j] {
				merged[j] = c
			}
		}
	}

	index1 := sort.Search(len(frequencies), func(j int) bool {
		return frequencies[j] >= 1
	})
	if index1 < len(frequencies) && frequencies[index1] == 1 {
		w := float64(int64(1) << s.lgW)
		estimates := make([]float64, s.d)
		for i := 0; i < s.d; i++ {
			zeros := w - float64(rows[i][index1])
			estimates[i] = w * math.Log(w/zeros)
		}
		sort.Float64s(estimates)
		var median float64
		if s.d&1 == 1 {
			median = estimates[s.d>>1]
		} else {
			median = (estimates[s.d>>1-1] + estimates[s.d>>1]) / 2
		}
		// All rows saturated means the estimate diverges; keep the min-based
		// count in that case.
		if !math.IsInf(median, 1) && !math.IsNaN(median) {
			merged[index1] = uint64(math.Round(median))
		}
	}
	return merged
}

// Cardinalities returns, for each requested frequency threshold, an estimate
// of the number of distinct values collected at least that often in bucket.
// frequencies must be in strict ascending order within (0, MaxFreq].
func (s *CountMin) Cardinalities(bucket int64, frequencies ...uint64) ([]uint64, error) {
	for _, f := range frequencies {
		if f == 0 {
			return nil, fmt.Errorf("sketch: frequencies must be > 0")
		}
		if f > s.maxFreq {
			return nil, fmt.Errorf("sketch: cannot request cardinalities for frequencies greater than maxFreq %d", s.maxFreq)
		}
	}
	for i := 1; i < len(frequencies); i++ {
		if frequencies[i] <= frequencies[i-1] {
			return nil, fmt.Errorf("sketch: frequencies must be in strict ascending order")
		}
	}

	if s.freqs.Len() < s.baseAddress(bucket+1) {
		return make([]uint64, len(frequencies)), nil // bucket never collected
	}

	rows := make([][]uint64, s.d)
	for i := 0; i < s.d; i++ {
		rows[i] = s.rowCardinalities(bucket, i, frequencies)
	}
	return s.mergeRows(rows, frequencies), nil
}

// Merge adds other's counters for otherBucket into this sketch's bucket,
// capping at MaxFreq. Both sketches must agree on d and lgW.
func (s *CountMin) Merge(thisBucket int64, other *CountMin, otherBucket int64) error {
	if s.d != other.d {
		return fmt.Errorf("sketch: d mismatch: %d != %d", s.d, other.d)
	}
	if s.lgW != other.lgW {
		return fmt.Errorf("sketch: lgW mismatch: %d != %d", s.lgW, other.lgW)
	}
	if other.freqs.Len() < other.baseAddress(otherBucket+1) {
		return nil // nothing collected on the other side
	}
	if err := s.grow(thisBucket + 1); err != nil {
		return err
	}

	thisBase := s.baseAddress(thisBucket)
	otherBase := other.baseAddress(otherBucket)
	count := s.baseAddress(1)
	for i := int64(0); i < count; i++ {
		sum := s.freqs.Get(thisBase+i) + other.freqs.Get(otherBase+i)
		if sum > s.maxFreq {
			sum = s.maxFreq
		}
		s.freqs.Set(thisBase+i, sum)
	}
	return nil
}

// Close releases the backing array.
func (s *CountMin) Close() {
	s.freqs.Close()
}

// WriteTo encodes one bucket's counters. Runs of 0/1-valued counters are very
// likely, so up to 64 of them are packed into a single bitmap token; any
// other value is written as an escaped literal.
func (s *CountMin) WriteTo(bucket int64, w io.Writer) error {
	if err := s.grow(bucket + 1); err != nil {
		return err
	}
	sw := persistence.NewStreamWriter(w)
	if err := sw.WriteUvarint(uint64(s.d)); err != nil {
		return err
	}
	if err := sw.WriteUvarint(uint64(s.lgW)); err != nil {
		return err
	}
	if err := sw.WriteUvarint(uint64(s.lgMaxFreq)); err != nil {
		return err
	}

	zeroOneCount := 0
	var runBits uint64
	for i, end := s.baseAddress(bucket), s.baseAddress(bucket+1); i < end; i++ {
		if zeroOneCount == 64 {
			if err := writeZeroOneRun(sw, runBits, zeroOneCount); err != nil {
				return err
			}
			zeroOneCount = 0
			runBits = 0
		}

		freq := s.freqs.Get(i)
		if freq <= 1 {
			runBits |= freq << zeroOneCount
			zeroOneCount++
			continue
		}
		if zeroOneCount > 0 {
			if err := writeZeroOneRun(sw, runBits, zeroOneCount); err != nil {
				return err
			}
			zeroOneCount = 0
			runBits = 0
		}
		if err := writeLiteralFreq(sw, freq); err != nil {
			return err
		}
	}
	if zeroOneCount > 0 {
		return writeZeroOneRun(sw, runBits, zeroOneCount)
	}
	return nil
}

func writeLiteralFreq(sw *persistence.StreamWriter, freq uint64) error {
	return sw.WriteUvarint(64 + freq)
}

func writeZeroOneRun(sw *persistence.StreamWriter, bits uint64, bitCount int) error {
	if bitCount == 1 {
		// A one-counter run would take 2 bytes where a literal takes 1.
		return writeLiteralFreq(sw, bits)
	}
	if err := sw.WriteUvarint(uint64(bitCount - 1)); err != nil {
		return err
	}
	for ; bitCount > 0; bitCount -= 8 {
		if err := sw.WriteByte(byte(bits)); err != nil {
			return err
		}
		bits >>= 8
	}
	return nil
}

// ReadCountMin decodes a sketch holding the single bucket written by WriteTo.
// Value-inconsistent or truncated input surfaces persistence.ErrCorrupted.
func ReadCountMin(r io.Reader, alloc *bigarray.Allocator) (*CountMin, error) {
	sr := persistence.NewStreamReader(r)
	d, err := sr.ReadUvarint()
	if err != nil {
		return nil, err
	}
	lgW, err := sr.ReadUvarint()
	if err != nil {
		return nil, err
	}
	lgMaxFreq, err := sr.ReadUvarint()
	if err != nil {
		return nil, err
	}
	if d > math.MaxInt32 || lgW > 63 || lgMaxFreq > 63 {
		return nil, fmt.Errorf("%w: implausible count-min dimensions", persistence.ErrCorrupted)
	}

	s, err := NewCountMin(alloc, int(d), int(lgW), int(lgMaxFreq))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", persistence.ErrCorrupted, err)
	}
	if err := s.grow(1); err != nil {
		s.Close()
		return nil, err
	}

	total := s.baseAddress(1)
	for i := int64(0); i < total; {
		token, err := sr.ReadUvarint()
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("%w: %v", persistence.ErrCorrupted, err)
		}
		if token >= 64 {
			freq := token - 64
			if freq > s.maxFreq {
				s.Close()
				return nil, fmt.Errorf("%w: counter value %d above maxFreq", persistence.ErrCorrupted, freq)
			}
			s.freqs.Set(i, freq)
			i++
			continue
		}

		bitCount := int(token + 1)
		if i+int64(bitCount) > total {
			s.Close()
			return nil, fmt.Errorf("%w: zero-one run overruns counter array", persistence.ErrCorrupted)
		}
		var bits uint64
		for j := 0; j < bitCount; j += 8 {
			b, err := sr.ReadByte()
			if err != nil {
				s.Close()
				return nil, fmt.Errorf("%w: %v", persistence.ErrCorrupted, err)
			}
			bits |= uint64(b) << j
		}
		if bitCount < 64 && bits>>bitCount != 0 {
			s.Close()
			return nil, fmt.Errorf("%w: stray bits beyond zero-one run", persistence.ErrCorrupted)
		}
		for j := 0; j < bitCount; j++ {
			if bits>>j&1 == 1 {
				s.freqs.Set(i+int64(j), 1)
			}
		}
		i += int64(bitCount)
	}
	return s, nil
}
