package immutable

import "iter"

// Set is an immutable set backed by a Map with empty-struct values.
type Set[K comparable] struct {
	m *Map[K, struct{}]
}

// NewSet creates a new empty set that hashes keys with hasher.
func NewSet[K comparable](hasher Hasher[K]) *Set[K] {
	return &Set[K]{m: NewMap[K, struct{}](hasher)}
}

// NewStringSet creates a new empty set of strings.
func NewStringSet() *Set[string] {
	return &Set[string]{m: NewStringMap[struct{}]()}
}

// Contains reports whether key is in the set.
func (s *Set[K]) Contains(key K) bool {
	_, ok := s.m.Get(key)
	return ok
}

// Len returns the number of elements.
func (s *Set[K]) Len() int { return s.m.Len() }

// IsEmpty reports whether the set is empty.
func (s *Set[K]) IsEmpty() bool { return s.m.IsEmpty() }

// Add returns a new set that contains key. The receiver is not modified.
// Unlike Delete, Add always returns a fresh set, even when the key was
// already present.
func (s *Set[K]) Add(key K) *Set[K] {
	return &Set[K]{m: s.m.Put(key, struct{}{})}
}

// Delete returns a new set without key. When the key is absent the receiver
// itself is returned.
func (s *Set[K]) Delete(key K) *Set[K] {
	m := s.m.Delete(key)
	if m == s.m {
		return s
	}
	return &Set[K]{m: m}
}

// All returns an iterator over the elements in unspecified order.
func (s *Set[K]) All() iter.Seq[K] {
	return s.m.Keys()
}
