package sketchgo_test

import (
	"context"
	"fmt"
	"log"

	"github.com/hupe1980/sketchgo"
	"github.com/hupe1980/sketchgo/bigarray"
	"github.com/hupe1980/sketchgo/blobstore"
	"github.com/hupe1980/sketchgo/hashing"
	"github.com/hupe1980/sketchgo/resource"
	"github.com/hupe1980/sketchgo/sketch"
)

// Example_countMin demonstrates frequency estimation with a count-min sketch.
func Example_countMin() {
	alloc := bigarray.NewAllocator(nil)

	// 3 hash rows, 2^12 counters per row, counters saturate at 2^10-1.
	s, err := sketch.NewCountMin(alloc, 3, 12, 10)
	if err != nil {
		log.Fatal(err)
	}
	defer s.Close()

	for _, term := range []string{"go", "go", "rust", "go"} {
		if err := s.Collect(0, hashing.SumString64(term)); err != nil {
			log.Fatal(err)
		}
	}

	// How many distinct terms occurred at least once, at least twice?
	cards, err := s.Cardinalities(0, 1, 2)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("seen >=1: %d, seen >=2: %d\n", cards[0], cards[1])
	// Output: seen >=1: 2, seen >=2: 1
}

// Example_hyperLogLog demonstrates cardinality estimation.
func Example_hyperLogLog() {
	alloc := bigarray.NewAllocator(nil)

	h, err := sketch.NewHyperLogLog(alloc, sketch.DefaultPrecision)
	if err != nil {
		log.Fatal(err)
	}
	defer h.Close()

	for _, user := range []string{"alice", "bob", "alice", "carol"} {
		if err := h.Collect(0, hashing.SumString64(user)); err != nil {
			log.Fatal(err)
		}
	}

	fmt.Printf("distinct users: %d\n", h.Cardinality(0))
	// Output: distinct users: 3
}

// Example_memoryBudget demonstrates bounding sketch memory with a resource
// controller.
func Example_memoryBudget() {
	ctrl := resource.NewController(resource.Config{
		MemoryLimitBytes: 64 << 20, // 64 MiB across all sketches
	})
	alloc := bigarray.NewAllocator(ctrl)

	h, err := sketch.NewHyperLogLog(alloc, 14)
	if err != nil {
		log.Fatal(err)
	}
	defer h.Close()

	fmt.Println("sketch created within budget")
	// Output: sketch created within budget
}

// Example_snapshot demonstrates persisting a sketch bucket and loading it
// back through a blob store.
func Example_snapshot() {
	ctx := context.Background()
	alloc := bigarray.NewAllocator(nil)

	store := blobstore.NewMemoryStore()
	mgr := sketchgo.NewSnapshotManager(store)

	h, err := sketch.NewHyperLogLog(alloc, 12)
	if err != nil {
		log.Fatal(err)
	}
	defer h.Close()

	for i := uint64(0); i < 1000; i++ {
		if err := h.Collect(0, hashing.Mix64(i)); err != nil {
			log.Fatal(err)
		}
	}

	if err := mgr.SaveHyperLogLog(ctx, "daily/users", h, 0); err != nil {
		log.Fatal(err)
	}

	restored, err := mgr.LoadHyperLogLog(ctx, "daily/users", alloc)
	if err != nil {
		log.Fatal(err)
	}
	defer restored.Close()

	fmt.Println("snapshot restored:", restored.Cardinality(0) == h.Cardinality(0))
	// Output: snapshot restored: true
}
