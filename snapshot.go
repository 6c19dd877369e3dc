package sketchgo

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/hupe1980/sketchgo/bigarray"
	"github.com/hupe1980/sketchgo/blobstore"
	"github.com/hupe1980/sketchgo/persistence"
	"github.com/hupe1980/sketchgo/resource"
	"github.com/hupe1980/sketchgo/sketch"
	"golang.org/x/sync/errgroup"
)

// SnapshotOption configures a SnapshotManager.
type SnapshotOption func(*SnapshotManager)

// WithCodec selects the compression codec for snapshot payloads.
func WithCodec(codec persistence.Codec) SnapshotOption {
	return func(m *SnapshotManager) {
		m.codec = codec
	}
}

// WithController routes snapshot IO through a resource controller.
func WithController(controller *resource.Controller) SnapshotOption {
	return func(m *SnapshotManager) {
		m.controller = controller
	}
}

// WithLogger sets the logger.
func WithLogger(logger *Logger) SnapshotOption {
	return func(m *SnapshotManager) {
		m.logger = logger
	}
}

// WithConcurrency bounds the number of parallel uploads in SaveAll.
func WithConcurrency(n int) SnapshotOption {
	return func(m *SnapshotManager) {
		m.concurrency = n
	}
}

// SnapshotManager saves and loads sketch buckets as self-describing,
// checksummed blobs in a blobstore.Store.
type SnapshotManager struct {
	store       blobstore.Store
	controller  *resource.Controller
	codec       persistence.Codec
	logger      *Logger
	concurrency int
}

// NewSnapshotManager creates a manager writing to store. By default
// snapshots are zstd-compressed, logging is off, and SaveAll uploads four
// buckets at a time.
func NewSnapshotManager(store blobstore.Store, opts ...SnapshotOption) *SnapshotManager {
	m := &SnapshotManager{
		store:       store,
		codec:       persistence.CodecZstd,
		logger:      NoopLogger(),
		concurrency: 4,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// bucketEncoder is the serialization surface shared by the sketches.
type bucketEncoder interface {
	WriteTo(bucket int64, w io.Writer) error
}

func (m *SnapshotManager) save(ctx context.Context, name string, sketchType uint8, enc bucketEncoder, bucket int64) error {
	var payload bytes.Buffer
	if err := enc.WriteTo(bucket, &payload); err != nil {
		m.logger.LogSnapshot(ctx, name, bucket, 0, err)
		return err
	}

	data, err := persistence.EncodeContainer(sketchType, m.codec, payload.Bytes())
	if err != nil {
		m.logger.LogSnapshot(ctx, name, bucket, 0, err)
		return err
	}

	if err := m.controller.WaitIO(ctx, len(data)); err != nil {
		return err
	}
	if err := m.store.Put(ctx, name, data); err != nil {
		m.logger.LogSnapshot(ctx, name, bucket, 0, err)
		return fmt.Errorf("save snapshot %s: %w", name, err)
	}
	m.logger.LogSnapshot(ctx, name, bucket, len(data), nil)
	return nil
}

// SaveCountMin writes one bucket of a count-min sketch to the store.
func (m *SnapshotManager) SaveCountMin(ctx context.Context, name string, s *sketch.CountMin, bucket int64) error {
	return m.save(ctx, name, persistence.SketchTypeCountMin, s, bucket)
}

// SaveHyperLogLog writes one bucket of a hyperloglog sketch to the store.
func (m *SnapshotManager) SaveHyperLogLog(ctx context.Context, name string, h *sketch.HyperLogLog, bucket int64) error {
	return m.save(ctx, name, persistence.SketchTypeHyperLogLog, h, bucket)
}

func (m *SnapshotManager) load(ctx context.Context, name string, wantType uint8) ([]byte, error) {
	data, err := blobstore.ReadAll(ctx, m.store, name)
	if err != nil {
		m.logger.LogRestore(ctx, name, err)
		return nil, err
	}
	if err := m.controller.WaitIO(ctx, len(data)); err != nil {
		return nil, err
	}

	sketchType, payload, err := persistence.ReadContainer(bytes.NewReader(data))
	if err != nil {
		m.logger.LogRestore(ctx, name, err)
		return nil, fmt.Errorf("load snapshot %s: %w", name, err)
	}
	if sketchType != wantType {
		err := fmt.Errorf("load snapshot %s: %w: sketch type %d, want %d", name, persistence.ErrCorrupted, sketchType, wantType)
		m.logger.LogRestore(ctx, name, err)
		return nil, err
	}
	m.logger.LogRestore(ctx, name, nil)
	return payload, nil
}

// LoadCountMin reads a count-min snapshot back into a fresh single-bucket
// sketch.
func (m *SnapshotManager) LoadCountMin(ctx context.Context, name string, alloc *bigarray.Allocator) (*sketch.CountMin, error) {
	payload, err := m.load(ctx, name, persistence.SketchTypeCountMin)
	if err != nil {
		return nil, err
	}
	return sketch.ReadCountMin(bytes.NewReader(payload), alloc)
}

// LoadHyperLogLog reads a hyperloglog snapshot back into a fresh
// single-bucket sketch.
func (m *SnapshotManager) LoadHyperLogLog(ctx context.Context, name string, alloc *bigarray.Allocator) (*sketch.HyperLogLog, error) {
	payload, err := m.load(ctx, name, persistence.SketchTypeHyperLogLog)
	if err != nil {
		return nil, err
	}
	return sketch.ReadHyperLogLog(bytes.NewReader(payload), alloc)
}

// BucketName returns the blob name used for a bucket under prefix.
func BucketName(prefix string, bucket int64) string {
	return fmt.Sprintf("%s/bucket-%d", prefix, bucket)
}

// SaveAllCountMin snapshots the given buckets of a count-min sketch
// concurrently under prefix. The first error cancels the remaining uploads.
// Buckets must have been collected into already; the sketch is not mutated
// while uploads are in flight.
func (m *SnapshotManager) SaveAllCountMin(ctx context.Context, prefix string, s *sketch.CountMin, buckets []int64) error {
	return m.saveAll(ctx, prefix, persistence.SketchTypeCountMin, s, buckets)
}

// SaveAllHyperLogLog snapshots the given buckets of a hyperloglog sketch
// concurrently under prefix.
func (m *SnapshotManager) SaveAllHyperLogLog(ctx context.Context, prefix string, h *sketch.HyperLogLog, buckets []int64) error {
	return m.saveAll(ctx, prefix, persistence.SketchTypeHyperLogLog, h, buckets)
}

func (m *SnapshotManager) saveAll(ctx context.Context, prefix string, sketchType uint8, enc bucketEncoder, buckets []int64) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for _, bucket := range buckets {
		g.Go(func() error {
			return m.save(ctx, BucketName(prefix, bucket), sketchType, enc, bucket)
		})
	}
	return g.Wait()
}
