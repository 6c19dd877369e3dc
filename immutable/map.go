package immutable

import (
	"fmt"
	"iter"
	"math/bits"

	"github.com/hupe1980/sketchgo/hashing"
)

const (
	totalHashBits = 32
	hashBits      = 6
	hashMask      = 0x3f
)

// Hasher computes the 32-bit hash the trie descends on. Correctness does not
// depend on hash quality, only performance does: two keys that collide on all
// 32 bits simply end up in the same linear-scan leaf.
type Hasher[K comparable] func(K) uint32

// Map is an immutable map whose writes result in a new copy of the map to be
// created. Nil interface keys and values are not supported.
type Map[K comparable, V any] struct {
	root   node[K, V]
	hasher Hasher[K]
	size   int
}

// NewMap creates a new empty map that hashes keys with hasher.
func NewMap[K comparable, V any](hasher Hasher[K]) *Map[K, V] {
	if hasher == nil {
		panic("immutable: nil hasher")
	}
	return &Map[K, V]{root: &innerNode[K, V]{}, hasher: hasher}
}

// NewStringMap creates a new empty map with string keys.
func NewStringMap[V any]() *Map[string, V] {
	return NewMap[string, V](hashing.String32)
}

// NewUint64Map creates a new empty map with uint64 keys.
func NewUint64Map[V any]() *Map[uint64, V] {
	return NewMap[uint64, V](func(k uint64) uint32 {
		return uint32(hashing.Mix64(k))
	})
}

// Get returns the value associated with key.
func (m *Map[K, V]) Get(key K) (V, bool) {
	return m.root.get(key, m.hasher(key))
}

// Len returns the number of entries in the map.
func (m *Map[K, V]) Len() int { return m.size }

// IsEmpty reports whether the map contains no entry.
func (m *Map[K, V]) IsEmpty() bool { return m.root.isEmpty() }

// Put associates key with value and returns a new map. The receiver is not
// modified. It panics on a nil interface key or value: that is a programmer
// error, and nothing has been mutated when it fires.
func (m *Map[K, V]) Put(key K, value V) *Map[K, V] {
	if any(key) == nil {
		panic("immutable: nil keys are not supported")
	}
	if any(value) == nil {
		panic("immutable: nil values are not supported")
	}
	newRoot, added := m.root.put(key, m.hasher(key), totalHashBits, value, m.hasher)
	newSize := m.size
	if added {
		newSize++
	}
	return &Map[K, V]{root: newRoot, hasher: m.hasher, size: newSize}
}

// Delete removes key and returns a new map. The receiver is not modified.
// When the key is absent the receiver itself is returned, so callers can
// detect a no-op removal by comparing pointers.
func (m *Map[K, V]) Delete(key K) *Map[K, V] {
	if any(key) == nil {
		panic("immutable: nil keys are not supported")
	}
	newRoot := m.root.remove(key, m.hasher(key))
	if newRoot == m.root {
		return m
	}
	return &Map[K, V]{root: newRoot, hasher: m.hasher, size: m.size - 1}
}

// All returns an iterator over all entries. The order is unspecified and may
// differ between map versions.
func (m *Map[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		m.root.visit(yield)
	}
}

// Keys returns an iterator over all keys.
func (m *Map[K, V]) Keys() iter.Seq[K] {
	return func(yield func(K) bool) {
		m.root.visit(func(k K, _ V) bool { return yield(k) })
	}
}

// Values returns an iterator over all values.
func (m *Map[K, V]) Values() iter.Seq[V] {
	return func(yield func(V) bool) {
		m.root.visit(func(_ K, v V) bool { return yield(v) })
	}
}

// node is either an innerNode or a leafNode.
type node[K comparable, V any] interface {
	get(key K, hash uint32) (V, bool)
	put(key K, hash uint32, remaining int, value V, hasher Hasher[K]) (node[K, V], bool)
	remove(key K, hash uint32) node[K, V]
	isEmpty() bool
	visit(yield func(K, V) bool) bool
}

// slot holds either an entry or, when sub is non-nil, a collision subtree for
// one 6-bit hash segment. Entry fields are zero values on subtree slots.
type slot[K comparable, V any] struct {
	key   K
	value V
	sub   node[K, V]
}

// innerNode stores up to 64 slots and a bitmap associating 6-bit hash
// fragments with them: the slot of a set bit is the number of one bits below
// it, which keeps the slot array gapless.
type innerNode[K comparable, V any] struct {
	mask  uint64
	slots []slot[K, V]
}

func (n *innerNode[K, V]) isEmpty() bool { return n.mask == 0 }

// checkInvariants panics when the bitmap and slot array disagree. It is only
// called from tests: a failure here is a bug in the trie, not bad input.
func (n *innerNode[K, V]) checkInvariants() {
	if bits.OnesCount64(n.mask) != len(n.slots) {
		panic(fmt.Sprintf("immutable: mask has %d bits but %d slots", bits.OnesCount64(n.mask), len(n.slots)))
	}
	for _, s := range n.slots {
		if inner, ok := s.sub.(*innerNode[K, V]); ok {
			inner.checkInvariants()
		}
	}
}

func (n *innerNode[K, V]) exists(hash6 uint32) bool {
	return n.mask&(1<<hash6) != 0
}

func (n *innerNode[K, V]) slot(hash6 uint32) int {
	return bits.OnesCount64(n.mask & (1<<hash6 - 1))
}

func (n *innerNode[K, V]) get(key K, hash uint32) (V, bool) {
	hash6 := hash & hashMask
	if !n.exists(hash6) {
		var zero V
		return zero, false
	}
	s := &n.slots[n.slot(hash6)]
	if s.sub != nil {
		return s.sub.get(key, hash>>hashBits)
	}
	if s.key == key {
		return s.value, true
	}
	// An entry exists for this hash fragment, but it belongs to another key.
	var zero V
	return zero, false
}

func newSubNode[K comparable, V any](remaining int) node[K, V] {
	if remaining <= 0 {
		return &leafNode[K, V]{}
	}
	return &innerNode[K, V]{}
}

func (n *innerNode[K, V]) putExisting(key K, hash uint32, remaining int, pos int, value V, hasher Hasher[K]) (node[K, V], bool) {
	slots := make([]slot[K, V], len(n.slots))
	copy(slots, n.slots)
	s := &slots[pos]

	var added bool
	switch {
	case s.sub != nil:
		s.sub, added = s.sub.put(key, hash, remaining, value, hasher)
	case s.key == key:
		s.value = value
	default:
		// Hash collision on this fragment: push both entries one level down.
		prevKey, prevValue := s.key, s.value
		prevHash := hasher(prevKey) >> (totalHashBits - remaining)
		sub := newSubNode[K, V](remaining)
		sub, _ = sub.put(prevKey, prevHash, remaining, prevValue, hasher)
		sub, _ = sub.put(key, hash, remaining, value, hasher)
		var zero slot[K, V]
		*s = zero
		s.sub = sub
		added = true
	}
	return &innerNode[K, V]{mask: n.mask, slots: slots}, added
}

func (n *innerNode[K, V]) putNew(key K, hash6 uint32, pos int, value V) node[K, V] {
	slots := make([]slot[K, V], len(n.slots)+1)
	copy(slots, n.slots[:pos])
	slots[pos] = slot[K, V]{key: key, value: value}
	copy(slots[pos+1:], n.slots[pos:])
	return &innerNode[K, V]{mask: n.mask | 1<<hash6, slots: slots}
}

func (n *innerNode[K, V]) put(key K, hash uint32, remaining int, value V, hasher Hasher[K]) (node[K, V], bool) {
	hash6 := hash & hashMask
	pos := n.slot(hash6)
	if n.exists(hash6) {
		return n.putExisting(key, hash>>hashBits, remaining-hashBits, pos, value, hasher)
	}
	return n.putNew(key, hash6, pos, value), true
}

func (n *innerNode[K, V]) removeSlot(hash6 uint32, pos int) *innerNode[K, V] {
	slots := make([]slot[K, V], len(n.slots)-1)
	copy(slots, n.slots[:pos])
	copy(slots[pos:], n.slots[pos+1:])
	return &innerNode[K, V]{mask: n.mask &^ (1 << hash6), slots: slots}
}

func (n *innerNode[K, V]) remove(key K, hash uint32) node[K, V] {
	hash6 := hash & hashMask
	if !n.exists(hash6) {
		return n
	}
	pos := n.slot(hash6)
	s := &n.slots[pos]
	switch {
	case s.sub != nil:
		removed := s.sub.remove(key, hash>>hashBits)
		if removed == s.sub {
			return n
		}
		if removed.isEmpty() {
			// Collapse the empty subtree instead of keeping a hollow child.
			return n.removeSlot(hash6, pos)
		}
		slots := make([]slot[K, V], len(n.slots))
		copy(slots, n.slots)
		slots[pos].sub = removed
		return &innerNode[K, V]{mask: n.mask, slots: slots}
	case s.key == key:
		return n.removeSlot(hash6, pos)
	default:
		// Fragment collision, nothing to remove.
		return n
	}
}

func (n *innerNode[K, V]) visit(yield func(K, V) bool) bool {
	for i := range n.slots {
		s := &n.slots[i]
		if s.sub != nil {
			if !s.sub.visit(yield) {
				return false
			}
		} else if !yield(s.key, s.value) {
			return false
		}
	}
	return true
}

// leafNode holds entries whose 32-bit hashes are fully equal. Lookups degrade
// to a linear equality scan.
type leafNode[K comparable, V any] struct {
	keys   []K
	values []V
}

func (n *leafNode[K, V]) isEmpty() bool { return len(n.keys) == 0 }

func (n *leafNode[K, V]) pos(key K) int {
	for i, k := range n.keys {
		if k == key {
			return i
		}
	}
	return -1
}

func (n *leafNode[K, V]) get(key K, _ uint32) (V, bool) {
	if i := n.pos(key); i >= 0 {
		return n.values[i], true
	}
	var zero V
	return zero, false
}

func (n *leafNode[K, V]) put(key K, _ uint32, _ int, value V, _ Hasher[K]) (node[K, V], bool) {
	i := n.pos(key)
	newLen := len(n.keys)
	if i < 0 {
		i = newLen
		newLen++
	}
	keys := make([]K, newLen)
	values := make([]V, newLen)
	copy(keys, n.keys)
	copy(values, n.values)
	keys[i] = key
	values[i] = value
	return &leafNode[K, V]{keys: keys, values: values}, i == len(n.keys)
}

func (n *leafNode[K, V]) remove(key K, _ uint32) node[K, V] {
	i := n.pos(key)
	if i < 0 {
		return n
	}
	keys := make([]K, len(n.keys)-1)
	values := make([]V, len(n.values)-1)
	copy(keys, n.keys[:i])
	copy(keys[i:], n.keys[i+1:])
	copy(values, n.values[:i])
	copy(values[i:], n.values[i+1:])
	return &leafNode[K, V]{keys: keys, values: values}
}

func (n *leafNode[K, V]) visit(yield func(K, V) bool) bool {
	for i := range n.keys {
		if !yield(n.keys[i], n.values[i]) {
			return false
		}
	}
	return true
}
