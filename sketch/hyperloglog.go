package sketch

import (
	"fmt"
	"io"
	"math"
	"math/bits"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/sketchgo/bigarray"
	"github.com/hupe1980/sketchgo/packed"
	"github.com/hupe1980/sketchgo/persistence"
)

const (
	// MinPrecision and MaxPrecision bound the register-index width p.
	MinPrecision = 4
	MaxPrecision = 18

	// DefaultPrecision gives a relative standard error of about 0.8%.
	DefaultPrecision = 14

	registerBits = 6
)

// HyperLogLog estimates per-bucket distinct counts from hashed values.
//
// Buckets start out sparse, accumulating individual (index, rank) encodings
// in a roaring bitmap, and upgrade to a dense array of m = 2^p six-bit
// registers once the sparse set stops paying for itself. All dense buckets
// share a single packed array, laid out bucket-major.
type HyperLogLog struct {
	p         uint
	m         int64
	maxRank   uint8
	alphaMM   float64
	registers *packed.Array
	sparse    map[int64]*roaring.Bitmap
	dense     map[int64]struct{}
}

// NewHyperLogLog creates a sketch with 2^p registers per bucket.
func NewHyperLogLog(alloc *bigarray.Allocator, p int) (*HyperLogLog, error) {
	if p < MinPrecision || p > MaxPrecision {
		return nil, fmt.Errorf("sketch: precision must be in [%d,%d], got %d", MinPrecision, MaxPrecision, p)
	}
	registers, err := packed.New(alloc, registerBits, 0)
	if err != nil {
		return nil, err
	}
	m := int64(1) << p
	return &HyperLogLog{
		p:         uint(p),
		m:         m,
		maxRank:   uint8(64 - p + 1),
		alphaMM:   alpha(m) * float64(m) * float64(m),
		registers: registers,
		sparse:    make(map[int64]*roaring.Bitmap),
		dense:     make(map[int64]struct{}),
	}, nil
}

func alpha(m int64) float64 {
	switch m {
	case 16:
		return 0.673
	case 32:
		return 0.697
	case 64:
		return 0.709
	default:
		return 0.7213 / (1 + 1.079/float64(m))
	}
}

// Precision returns p.
func (h *HyperLogLog) Precision() int { return int(h.p) }

// index returns the register selected by the top p bits of hash, and rank
// the position of the first set bit in the remainder.
func (h *HyperLogLog) index(hash uint64) (int64, uint8) {
	idx := int64(hash >> (64 - h.p))
	rank := uint8(bits.LeadingZeros64(hash<<h.p)) + 1
	if rank > h.maxRank {
		rank = h.maxRank
	}
	return idx, rank
}

// Collect records one hashed value in bucket.
func (h *HyperLogLog) Collect(bucket int64, hash uint64) error {
	idx, rank := h.index(hash)
	if _, ok := h.dense[bucket]; ok {
		return h.setRegister(bucket, idx, rank)
	}

	set := h.sparse[bucket]
	if set == nil {
		set = roaring.New()
		h.sparse[bucket] = set
	}
	set.Add(uint32(idx)<<registerBits | uint32(rank))
	if int64(set.GetCardinality()) > h.m>>3 {
		return h.upgrade(bucket)
	}
	return nil
}

func (h *HyperLogLog) setRegister(bucket, idx int64, rank uint8) error {
	if err := h.registers.Grow((bucket + 1) * h.m); err != nil {
		return err
	}
	addr := bucket*h.m + idx
	if uint64(rank) > h.registers.Get(addr) {
		h.registers.Set(addr, uint64(rank))
	}
	return nil
}

// upgrade replays a bucket's sparse encodings into dense registers.
func (h *HyperLogLog) upgrade(bucket int64) error {
	set := h.sparse[bucket]
	h.dense[bucket] = struct{}{}
	delete(h.sparse, bucket)
	if set == nil {
		return h.registers.Grow((bucket + 1) * h.m)
	}
	it := set.Iterator()
	for it.HasNext() {
		encoded := it.Next()
		if err := h.setRegister(bucket, int64(encoded>>registerBits), uint8(encoded&(1<<registerBits-1))); err != nil {
			return err
		}
	}
	return nil
}

// Cardinality estimates the number of distinct values collected in bucket.
// The estimate only depends on the multiset of collected hashes, not on the
// order they were collected in.
func (h *HyperLogLog) Cardinality(bucket int64) uint64 {
	if _, ok := h.dense[bucket]; !ok {
		return h.sparseCardinality(bucket)
	}

	base := bucket * h.m
	var sum float64
	var zeros int64
	for i := int64(0); i < h.m; i++ {
		rank := h.registers.Get(base + i)
		sum += 1 / float64(uint64(1)<<rank)
		if rank == 0 {
			zeros++
		}
	}
	estimate := h.alphaMM / sum
	if estimate <= 2.5*float64(h.m) && zeros > 0 {
		// Small-range correction: linear counting is more accurate while
		// empty registers remain.
		estimate = linearCounting(h.m, zeros)
	}
	return uint64(math.Round(estimate))
}

func (h *HyperLogLog) sparseCardinality(bucket int64) uint64 {
	set := h.sparse[bucket]
	if set == nil {
		return 0
	}
	// Count registers that would be non-zero, ignoring duplicate ranks for
	// the same index.
	seen := roaring.New()
	it := set.Iterator()
	for it.HasNext() {
		seen.Add(it.Next() >> registerBits)
	}
	zeros := h.m - int64(seen.GetCardinality())
	return uint64(math.Round(linearCounting(h.m, zeros)))
}

func linearCounting(m, zeros int64) float64 {
	return float64(m) * math.Log(float64(m)/float64(zeros))
}

// Merge unions other's otherBucket into this sketch's bucket. Both sketches
// must use the same precision.
func (h *HyperLogLog) Merge(thisBucket int64, other *HyperLogLog, otherBucket int64) error {
	if h.p != other.p {
		return fmt.Errorf("sketch: precision mismatch: %d != %d", h.p, other.p)
	}

	if _, ok := other.dense[otherBucket]; ok {
		if _, ok := h.dense[thisBucket]; !ok {
			if err := h.upgrade(thisBucket); err != nil {
				return err
			}
		}
		otherBase := otherBucket * other.m
		for i := int64(0); i < h.m; i++ {
			if rank := other.registers.Get(otherBase + i); rank > 0 {
				if err := h.setRegister(thisBucket, i, uint8(rank)); err != nil {
					return err
				}
			}
		}
		return nil
	}

	otherSet := other.sparse[otherBucket]
	if otherSet == nil {
		return nil
	}
	if _, ok := h.dense[thisBucket]; ok {
		it := otherSet.Iterator()
		for it.HasNext() {
			encoded := it.Next()
			if err := h.setRegister(thisBucket, int64(encoded>>registerBits), uint8(encoded&(1<<registerBits-1))); err != nil {
				return err
			}
		}
		return nil
	}

	set := h.sparse[thisBucket]
	if set == nil {
		set = roaring.New()
		h.sparse[thisBucket] = set
	}
	set.Or(otherSet)
	if int64(set.GetCardinality()) > h.m>>3 {
		return h.upgrade(thisBucket)
	}
	return nil
}

// Close releases the dense register storage and drops all sparse sets.
func (h *HyperLogLog) Close() {
	h.registers.Close()
	h.sparse = nil
	h.dense = nil
}

const (
	hllModeSparse = 0
	hllModeDense  = 1
)

// WriteTo encodes one bucket's state: the roaring-serialized sparse set, or
// the packed six-bit registers for a dense bucket.
func (h *HyperLogLog) WriteTo(bucket int64, w io.Writer) error {
	sw := persistence.NewStreamWriter(w)
	if err := sw.WriteUvarint(uint64(h.p)); err != nil {
		return err
	}

	if _, ok := h.dense[bucket]; !ok {
		if err := sw.WriteByte(hllModeSparse); err != nil {
			return err
		}
		set := h.sparse[bucket]
		if set == nil {
			set = roaring.New()
		}
		buf, err := set.ToBytes()
		if err != nil {
			return err
		}
		if err := sw.WriteUvarint(uint64(len(buf))); err != nil {
			return err
		}
		return sw.WriteBytes(buf)
	}

	if err := sw.WriteByte(hllModeDense); err != nil {
		return err
	}
	if err := h.registers.Grow((bucket + 1) * h.m); err != nil {
		return err
	}
	base := bucket * h.m
	var acc uint64
	accBits := uint(0)
	for i := int64(0); i < h.m; i++ {
		acc |= h.registers.Get(base+i) << accBits
		accBits += registerBits
		for accBits >= 8 {
			if err := sw.WriteByte(byte(acc)); err != nil {
				return err
			}
			acc >>= 8
			accBits -= 8
		}
	}
	// m is a multiple of four, so m*6 bits always flush to whole bytes.
	return nil
}

// ReadHyperLogLog decodes a sketch holding the single bucket written by
// WriteTo. Invalid encodings surface persistence.ErrCorrupted.
func ReadHyperLogLog(r io.Reader, alloc *bigarray.Allocator) (*HyperLogLog, error) {
	sr := persistence.NewStreamReader(r)
	p, err := sr.ReadUvarint()
	if err != nil {
		return nil, err
	}
	if p < MinPrecision || p > MaxPrecision {
		return nil, fmt.Errorf("%w: implausible hyperloglog precision %d", persistence.ErrCorrupted, p)
	}
	mode, err := sr.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", persistence.ErrCorrupted, err)
	}

	h, err := NewHyperLogLog(alloc, int(p))
	if err != nil {
		return nil, err
	}

	switch mode {
	case hllModeSparse:
		length, err := sr.ReadUvarint()
		if err != nil {
			h.Close()
			return nil, fmt.Errorf("%w: %v", persistence.ErrCorrupted, err)
		}
		buf := make([]byte, length)
		if err := sr.ReadFull(buf); err != nil {
			h.Close()
			return nil, fmt.Errorf("%w: %v", persistence.ErrCorrupted, err)
		}
		set := roaring.New()
		if err := set.UnmarshalBinary(buf); err != nil {
			h.Close()
			return nil, fmt.Errorf("%w: %v", persistence.ErrCorrupted, err)
		}
		it := set.Iterator()
		for it.HasNext() {
			encoded := it.Next()
			idx := int64(encoded >> registerBits)
			rank := uint8(encoded & (1<<registerBits - 1))
			if idx >= h.m || rank == 0 || rank > h.maxRank {
				h.Close()
				return nil, fmt.Errorf("%w: invalid sparse encoding %d", persistence.ErrCorrupted, encoded)
			}
		}
		if !set.IsEmpty() {
			h.sparse[0] = set
		}
		return h, nil

	case hllModeDense:
		if err := h.registers.Grow(h.m); err != nil {
			h.Close()
			return nil, err
		}
		h.dense[0] = struct{}{}
		var acc uint64
		accBits := uint(0)
		for i := int64(0); i < h.m; i++ {
			for accBits < registerBits {
				b, err := sr.ReadByte()
				if err != nil {
					h.Close()
					return nil, fmt.Errorf("%w: %v", persistence.ErrCorrupted, err)
				}
				acc |= uint64(b) << accBits
				accBits += 8
			}
			rank := acc & (1<<registerBits - 1)
			acc >>= registerBits
			accBits -= registerBits
			if uint8(rank) > h.maxRank {
				h.Close()
				return nil, fmt.Errorf("%w: register rank %d above maximum", persistence.ErrCorrupted, rank)
			}
			h.registers.Set(i, rank)
		}
		return h, nil

	default:
		h.Close()
		return nil, fmt.Errorf("%w: unknown hyperloglog mode %d", persistence.ErrCorrupted, mode)
	}
}
