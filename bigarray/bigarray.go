// Package bigarray provides page-oriented growable arrays for sketch backing
// storage. Pages are recycled through a pool and accounted against an
// optional resource controller, so releasing an array is an explicit step the
// owner performs when the sketch is done.
package bigarray

import (
	"fmt"
	"sync"

	"github.com/hupe1980/sketchgo/resource"
)

const (
	// pageShift gives 2048 int64s (16KB) per page.
	pageShift = 11
	pageSize  = 1 << pageShift
	pageMask  = pageSize - 1

	pageBytes = pageSize * 8
)

// Allocator hands out Int64Arrays backed by pooled pages.
// The zero-value-free constructor form keeps accounting consistent: every
// page acquired is reserved with the controller and released on Close.
type Allocator struct {
	controller *resource.Controller // may be nil
	pool       sync.Pool
}

// NewAllocator creates an allocator. controller may be nil, in which case no
// memory limit applies.
func NewAllocator(controller *resource.Controller) *Allocator {
	return &Allocator{
		controller: controller,
		pool: sync.Pool{
			New: func() any {
				return make([]int64, pageSize)
			},
		},
	}
}

func (a *Allocator) acquirePage() []int64 {
	p := a.pool.Get().([]int64)
	// Recycled pages carry stale bits.
	for i := range p {
		p[i] = 0
	}
	return p
}

func (a *Allocator) releasePage(p []int64) {
	a.pool.Put(p)
}

func pagesFor(length int64) int64 {
	return (length + pageMask) >> pageShift
}

// NewInt64 allocates a zero-filled array of the given length.
func (a *Allocator) NewInt64(length int64) (*Int64Array, error) {
	if length < 0 {
		return nil, fmt.Errorf("bigarray: length must be non-negative, got %d", length)
	}
	numPages := pagesFor(length)
	if err := a.controller.ReserveMemory(numPages * pageBytes); err != nil {
		return nil, err
	}
	pages := make([][]int64, numPages)
	for i := range pages {
		pages[i] = a.acquirePage()
	}
	return &Int64Array{alloc: a, pages: pages, length: length}, nil
}

// Int64Array is a growable array of int64 values split across fixed-size
// pages. It is not safe for concurrent mutation; the owning sketch serializes
// access.
type Int64Array struct {
	alloc  *Allocator
	pages  [][]int64
	length int64
	closed bool
}

// Len returns the number of addressable values.
func (x *Int64Array) Len() int64 { return x.length }

// Get returns the value at index i.
func (x *Int64Array) Get(i int64) int64 {
	return x.pages[i>>pageShift][i&pageMask]
}

// Set stores v at index i.
func (x *Int64Array) Set(i int64, v int64) {
	x.pages[i>>pageShift][i&pageMask] = v
}

// Grow extends the array to hold at least length values, preserving existing
// content. New values read as zero. It does nothing when the array is already
// large enough.
func (x *Int64Array) Grow(length int64) error {
	if length <= x.length {
		return nil
	}
	have := int64(len(x.pages))
	want := pagesFor(length)
	if want > have {
		if err := x.alloc.controller.ReserveMemory((want - have) * pageBytes); err != nil {
			return err
		}
		for ; have < want; have++ {
			x.pages = append(x.pages, x.alloc.acquirePage())
		}
	}
	x.length = length
	return nil
}

// Close returns the pages to the allocator and releases the memory
// reservation. It is idempotent; using the array afterwards is a programmer
// error.
func (x *Int64Array) Close() {
	if x.closed {
		return
	}
	x.closed = true
	for _, p := range x.pages {
		x.alloc.releasePage(p)
	}
	x.alloc.controller.ReleaseMemory(int64(len(x.pages)) * pageBytes)
	x.pages = nil
	x.length = 0
}
