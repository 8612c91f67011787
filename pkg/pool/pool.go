// Package pool implements a hierarchical paged buffer pool: a caching
// allocator that mediates between a slower parent tier and consumers needing
// pinned access to chunks of arena memory. The arena is divided into
// fixed-size slabs and pages; live allocations are tracked as linked segments
// and reclaimed by LRU-scored eviction when space runs out.
package pool

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TierPoolDB/tierpool/pkg/buffer"
	"github.com/TierPoolDB/tierpool/pkg/chunk"
	"github.com/TierPoolDB/tierpool/pkg/common/log"
	"github.com/TierPoolDB/tierpool/pkg/config"
	"github.com/TierPoolDB/tierpool/pkg/stats"
	"github.com/TierPoolDB/tierpool/pkg/store"
)

// ChunkMetadata describes an indexed chunk for catalog queries. The pool does
// not serve these; see ChunkMetadataVec.
type ChunkMetadata struct {
	Key  chunk.Key
	Size int64
}

// BufferPool is a fixed-capacity paged buffer pool over a parent store.
//
// Lock order: sizedSegsMu before chunkIndexMu; unsizedSegsMu is a leaf taken
// under either; bufferIDMu stands alone. Parent-store calls are made after
// pool locks are released, with the in-flight buffer pinned.
type BufferPool struct {
	pageSize        int64
	slabSize        int64
	maxBufferSize   int64
	numPagesPerSlab int64
	maxNumSlabs     int64

	parent    store.Store
	slabAlloc SlabAllocator
	logger    log.Logger
	stats     stats.Collector
	metrics   PoolMetrics

	sizedSegsMu   sync.Mutex
	slabs         [][]byte
	slabSegments  []*list.List

	chunkIndexMu sync.Mutex
	index        *chunkIndex

	unsizedSegsMu sync.Mutex
	unsizedSegs   *list.List

	bufferIDMu  sync.Mutex
	maxBufferID int

	bufferEpoch atomic.Uint64
	closed      atomic.Bool
}

// Option configures a BufferPool.
type Option func(*BufferPool)

// WithLogger sets the pool's logger.
func WithLogger(logger log.Logger) Option {
	return func(p *BufferPool) { p.logger = logger }
}

// WithStats sets the pool's statistics collector.
func WithStats(collector stats.Collector) Option {
	return func(p *BufferPool) { p.stats = collector }
}

// WithMetrics sets the pool's telemetry metrics.
func WithMetrics(metrics PoolMetrics) Option {
	return func(p *BufferPool) { p.metrics = metrics }
}

// WithSlabAllocator sets the slab memory hook for non-host tiers.
func WithSlabAllocator(alloc SlabAllocator) Option {
	return func(p *BufferPool) { p.slabAlloc = alloc }
}

// New creates a buffer pool over the given parent store. parent may be nil
// for a top-level pool.
func New(cfg *config.Config, parent store.Store, opts ...Option) (*BufferPool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config cannot be nil", config.ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &BufferPool{
		pageSize:        cfg.PageSize,
		slabSize:        cfg.SlabSize,
		maxBufferSize:   cfg.MaxBufferSize,
		numPagesPerSlab: cfg.NumPagesPerSlab(),
		maxNumSlabs:     cfg.MaxNumSlabs(),
		parent:          parent,
		slabAlloc:       hostSlabAllocator{},
		logger:          log.Default().WithField("component", "pool"),
		stats:           stats.NewAtomicCollector(),
		metrics:         NewNoopPoolMetrics(),
		unsizedSegs:     list.New(),
		index:           newChunkIndex(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// trackOp records latency, outcome, and error class for a façade operation.
func (p *BufferPool) trackOp(op stats.OperationType, start time.Time, errp *error) {
	latency := time.Since(start)
	p.stats.TrackOperationWithLatency(op, uint64(latency.Nanoseconds()))

	err := *errp
	if err != nil {
		p.stats.TrackError(errorClass(err))
	}
	p.metrics.RecordOperation(context.Background(), string(op), latency, err == nil)
}

func errorClass(err error) string {
	switch {
	case errors.Is(err, ErrChunkExists):
		return "already_exists"
	case errors.Is(err, ErrChunkNotFound):
		return "not_found"
	case errors.Is(err, ErrTooLarge):
		return "too_large"
	case errors.Is(err, ErrOutOfMemory):
		return "out_of_memory"
	case errors.Is(err, ErrInconsistency):
		return "inconsistency"
	case errors.Is(err, ErrUnsupported):
		return "unsupported"
	default:
		return "other"
	}
}

// CreateBuffer creates a new chunk and returns its buffer in pinned state.
// The chunk starts life as an unsized placeholder, which protects it from
// eviction while the initial reservation runs outside the pool locks.
func (p *BufferPool) CreateBuffer(key chunk.Key, chunkPageSize, initialSize int64) (b *buffer.Buffer, err error) {
	defer p.trackOp(stats.OpCreate, time.Now(), &err)

	if p.closed.Load() {
		return nil, ErrPoolClosed
	}
	if chunkPageSize == 0 {
		chunkPageSize = p.pageSize
	}
	key = key.Clone()

	p.chunkIndexMu.Lock()
	if _, ok := p.index.get(key); ok {
		p.chunkIndexMu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrChunkExists, key)
	}
	s := newUnsizedSegment(key)
	p.unsizedSegsMu.Lock()
	elem := p.unsizedSegs.PushBack(s)
	p.unsizedSegsMu.Unlock()
	// Index the placeholder before allocating: reserving the buffer may
	// relocate the segment and needs the entry to repoint.
	p.index.set(key, elem)
	p.chunkIndexMu.Unlock()

	b = buffer.New(p, elem, chunkPageSize)
	s.buf = b
	if initialSize > 0 {
		if err := b.Reserve(initialSize); err != nil {
			p.chunkIndexMu.Lock()
			p.index.delete(key)
			p.chunkIndexMu.Unlock()
			p.sizedSegsMu.Lock()
			s.buf = nil
			p.removeSegment(elem)
			p.sizedSegsMu.Unlock()
			return nil, err
		}
	}
	return b, nil
}

// GetBuffer returns the chunk's buffer in pinned state, stamping its LRU
// epoch. An absent chunk is created and fetched from the parent; if the
// parent cannot produce it, the placeholder is deleted and the get fails.
// The caller unpins the returned buffer when done.
func (p *BufferPool) GetBuffer(key chunk.Key, numBytes int64) (b *buffer.Buffer, err error) {
	defer p.trackOp(stats.OpGet, time.Now(), &err)

	if p.closed.Load() {
		return nil, ErrPoolClosed
	}

	p.sizedSegsMu.Lock()
	p.chunkIndexMu.Lock()
	elem, found := p.index.get(key)
	p.chunkIndexMu.Unlock()

	// A placeholder whose buffer is still being constructed counts as absent.
	if found && seg(elem).buf != nil {
		s := seg(elem)
		b = s.buf
		b.Pin()
		s.lastTouched = p.nextEpoch()
		p.sizedSegsMu.Unlock()

		if p.parent != nil && b.Size() < numBytes {
			// Fetch the part of the chunk we don't hold, up to numBytes.
			if err := p.parent.FetchBuffer(key, b, numBytes); err != nil {
				b.Unpin()
				return nil, fmt.Errorf("%w: %s: parent fetch: %v", ErrChunkNotFound, key, err)
			}
		}
		return b, nil
	}
	p.sizedSegsMu.Unlock()

	if p.parent == nil {
		return nil, fmt.Errorf("%w: %s", ErrChunkNotFound, key)
	}

	b, err = p.CreateBuffer(key, p.pageSize, numBytes)
	if err != nil {
		return nil, err
	}
	if err := p.parent.FetchBuffer(key, b, numBytes); err != nil {
		if delErr := p.DeleteBuffer(key); delErr != nil {
			p.logger.Error("failed to delete chunk %s after parent fetch failure: %v", key, delErr)
		}
		return nil, fmt.Errorf("%w: %s: parent fetch: %v", ErrChunkNotFound, key, err)
	}
	return b, nil
}

// FetchBuffer copies the chunk's contents into the caller-provided dest
// buffer. dest is resized to numBytes, or to the source size when numBytes is
// 0 or exceeds it; nothing beyond the source size is copied.
// An updated source is copied from offset 0; otherwise only the tail beyond
// dest's current size is copied, supporting append-only incremental
// materialization. Encoder metadata flows from source to dest.
func (p *BufferPool) FetchBuffer(key chunk.Key, dest *buffer.Buffer, numBytes int64) (err error) {
	defer p.trackOp(stats.OpFetch, time.Now(), &err)

	if p.closed.Load() {
		return ErrPoolClosed
	}

	p.sizedSegsMu.Lock()
	p.chunkIndexMu.Lock()
	elem, found := p.index.get(key)
	p.chunkIndexMu.Unlock()

	var b *buffer.Buffer
	if !found || seg(elem).buf == nil {
		p.sizedSegsMu.Unlock()
		if p.parent == nil {
			return fmt.Errorf("%w: %s", ErrChunkNotFound, key)
		}
		b, err = p.CreateBuffer(key, p.pageSize, numBytes)
		if err != nil {
			return err
		}
		if err := p.parent.FetchBuffer(key, b, numBytes); err != nil {
			if delErr := p.DeleteBuffer(key); delErr != nil {
				p.logger.Error("failed to delete chunk %s after parent fetch failure: %v", key, delErr)
			}
			return fmt.Errorf("%w: %s: parent fetch: %v", ErrChunkNotFound, key, err)
		}
	} else {
		b = seg(elem).buf
		b.Pin()
		p.sizedSegsMu.Unlock()
	}

	chunkSize := numBytes
	if chunkSize == 0 || chunkSize > b.Size() {
		chunkSize = b.Size()
	}

	if err := dest.Reserve(chunkSize); err != nil {
		b.Unpin()
		return err
	}

	if b.IsUpdated() {
		if err := b.Read(dest.MemoryBytes()[:chunkSize], chunkSize, 0); err != nil {
			b.Unpin()
			return err
		}
	} else if destSize := dest.Size(); chunkSize > destSize {
		if err := b.Read(dest.MemoryBytes()[destSize:chunkSize], chunkSize-destSize, destSize); err != nil {
			b.Unpin()
			return err
		}
	}
	if err := dest.SetSize(chunkSize); err != nil {
		b.Unpin()
		return err
	}
	dest.SyncEncoder(b)
	b.Unpin()
	return nil
}

// PutBuffer writes src's contents into the pool's chunk, creating it if
// absent. A dirty pool buffer fails with ErrInconsistency. An updated source
// overwrites in full; an appended source contributes only the newly appended
// tail. The source's dirty bits are cleared and its encoder metadata copied.
func (p *BufferPool) PutBuffer(key chunk.Key, src *buffer.Buffer, numBytes int64) (err error) {
	defer p.trackOp(stats.OpPut, time.Now(), &err)

	if p.closed.Load() {
		return ErrPoolClosed
	}

	p.chunkIndexMu.Lock()
	elem, found := p.index.get(key)
	p.chunkIndexMu.Unlock()

	var b *buffer.Buffer
	if !found {
		b, err = p.CreateBuffer(key, p.pageSize, 0)
		if err != nil {
			return err
		}
	} else {
		p.sizedSegsMu.Lock()
		b = seg(elem).buf
		if b == nil {
			p.sizedSegsMu.Unlock()
			return fmt.Errorf("%w: %s", ErrChunkNotFound, key)
		}
		b.Pin()
		p.sizedSegsMu.Unlock()
	}
	defer b.Unpin()

	oldSize := b.Size()
	newSize := numBytes
	if newSize == 0 {
		newSize = src.Size()
	}

	if b.IsDirty() {
		return fmt.Errorf("%w: chunk %s has unflushed writes", ErrInconsistency, key)
	}

	switch {
	case src.IsUpdated():
		data := make([]byte, newSize)
		if err := src.Read(data, newSize, 0); err != nil {
			return err
		}
		if err := b.Write(data, 0); err != nil {
			return err
		}
	case src.IsAppended():
		if oldSize >= newSize {
			panic(fmt.Sprintf("pool: append put of chunk %s does not grow it (%d -> %d)", key, oldSize, newSize))
		}
		tail := make([]byte, newSize-oldSize)
		if err := src.Read(tail, newSize-oldSize, oldSize); err != nil {
			return err
		}
		if err := b.Append(tail); err != nil {
			return err
		}
	}

	src.ClearDirtyBits()
	b.SyncEncoder(src)
	return nil
}

// DeleteBuffer removes the chunk from the pool, detaching its buffer and
// freeing its segment (which coalesces with free neighbours).
func (p *BufferPool) DeleteBuffer(key chunk.Key) (err error) {
	defer p.trackOp(stats.OpDelete, time.Now(), &err)

	p.chunkIndexMu.Lock()
	elem, found := p.index.get(key)
	if !found {
		p.chunkIndexMu.Unlock()
		return fmt.Errorf("%w: %s", ErrChunkNotFound, key)
	}
	p.index.delete(key)
	p.chunkIndexMu.Unlock()

	p.sizedSegsMu.Lock()
	s := seg(elem)
	if s.buf != nil {
		s.buf.Detach()
		s.buf = nil
	}
	p.removeSegment(elem)
	p.sizedSegsMu.Unlock()
	return nil
}

// DeleteBuffersWithPrefix removes every chunk whose key begins with prefix.
// An absent prefix is tolerated silently.
func (p *BufferPool) DeleteBuffersWithPrefix(prefix chunk.Key) (err error) {
	defer p.trackOp(stats.OpDeletePrefix, time.Now(), &err)

	// sizedSegs first, to keep the lock order against concurrent reserves.
	p.sizedSegsMu.Lock()
	p.chunkIndexMu.Lock()

	type victim struct {
		key  chunk.Key
		elem *list.Element
	}
	var victims []victim
	p.index.ascendPrefix(prefix, func(key chunk.Key, elem *list.Element) bool {
		victims = append(victims, victim{key: key, elem: elem})
		return true
	})

	for _, v := range victims {
		s := seg(v.elem)
		if s.buf != nil {
			s.buf.Detach()
			s.buf = nil
		}
		p.removeSegment(v.elem)
		p.index.delete(v.key)
	}

	p.chunkIndexMu.Unlock()
	p.sizedSegsMu.Unlock()
	return nil
}

// Checkpoint pushes every dirty catalog chunk to the parent store and clears
// its dirty bits. Anonymous chunks are skipped.
func (p *BufferPool) Checkpoint() (err error) {
	defer p.trackOp(stats.OpCheckpoint, time.Now(), &err)

	if p.parent == nil {
		return nil
	}

	// sizedSegs first, to keep the lock order against concurrent reserves.
	// Dirty buffers are collected pinned; the parent is called unlocked.
	var keys []chunk.Key
	var bufs []*buffer.Buffer
	p.sizedSegsMu.Lock()
	p.chunkIndexMu.Lock()
	p.index.ascend(func(key chunk.Key, elem *list.Element) bool {
		s := seg(elem)
		if key.IsAnonymous() || s.buf == nil || !s.buf.IsDirty() {
			return true
		}
		s.buf.Pin()
		keys = append(keys, key)
		bufs = append(bufs, s.buf)
		return true
	})
	p.chunkIndexMu.Unlock()
	p.sizedSegsMu.Unlock()

	var firstErr error
	for i, key := range keys {
		if putErr := p.parent.PutBuffer(key, bufs[i], 0); putErr != nil {
			p.logger.Error("checkpoint of chunk %s failed: %v", key, putErr)
			if firstErr == nil {
				firstErr = putErr
			}
		} else {
			bufs[i].ClearDirtyBits()
		}
		bufs[i].Unpin()
	}
	return firstErr
}

// Alloc creates an anonymous chunk of numBytes and returns its pinned buffer.
func (p *BufferPool) Alloc(numBytes int64) (b *buffer.Buffer, err error) {
	defer p.trackOp(stats.OpAlloc, time.Now(), &err)

	key := chunk.Anonymous(p.nextBufferID())
	return p.CreateBuffer(key, p.pageSize, numBytes)
}

// Free deletes the chunk backing the given buffer, recovering its key from
// the buffer's segment back-reference.
func (p *BufferPool) Free(b *buffer.Buffer) (err error) {
	defer p.trackOp(stats.OpFree, time.Now(), &err)

	p.sizedSegsMu.Lock()
	elem, _ := b.SegmentRef().(*list.Element)
	if elem == nil {
		p.sizedSegsMu.Unlock()
		return fmt.Errorf("%w: buffer has no segment", ErrChunkNotFound)
	}
	key := seg(elem).chunkKey.Clone()
	p.sizedSegsMu.Unlock()

	if len(key) == 0 {
		return fmt.Errorf("%w: buffer has no chunk key", ErrChunkNotFound)
	}
	return p.DeleteBuffer(key)
}

// IsBufferOnDevice reports whether the chunk is resident in this pool.
func (p *BufferPool) IsBufferOnDevice(key chunk.Key) bool {
	p.chunkIndexMu.Lock()
	defer p.chunkIndexMu.Unlock()
	_, found := p.index.get(key)
	return found
}

// NumChunks returns the number of indexed chunks.
func (p *BufferPool) NumChunks() int {
	p.chunkIndexMu.Lock()
	defer p.chunkIndexMu.Unlock()
	return p.index.len()
}

// Size returns the bytes of arena currently allocated.
func (p *BufferPool) Size() int64 {
	p.sizedSegsMu.Lock()
	defer p.sizedSegsMu.Unlock()
	return int64(len(p.slabs)) * p.slabSize
}

// NumSlabs returns the number of slabs currently allocated.
func (p *BufferPool) NumSlabs() int {
	p.sizedSegsMu.Lock()
	defer p.sizedSegsMu.Unlock()
	return len(p.slabs)
}

// PageSize returns the pool's page size.
func (p *BufferPool) PageSize() int64 {
	return p.pageSize
}

// Stats returns the pool's statistics snapshot.
func (p *BufferPool) Stats() map[string]interface{} {
	return p.stats.GetStats()
}

// ChunkMetadataVec is a catalog query this layer does not serve.
func (p *BufferPool) ChunkMetadataVec(prefix chunk.Key) ([]ChunkMetadata, error) {
	return nil, fmt.Errorf("%w: chunk metadata queries", ErrUnsupported)
}

// Clear drops every chunk, slab, and placeholder, and resets the LRU epoch.
func (p *BufferPool) Clear() {
	p.sizedSegsMu.Lock()
	p.chunkIndexMu.Lock()
	p.unsizedSegsMu.Lock()

	p.index.ascend(func(key chunk.Key, elem *list.Element) bool {
		if s := seg(elem); s.buf != nil {
			s.buf.Detach()
			s.buf = nil
		}
		return true
	})
	p.index.clear()
	p.slabs = nil
	p.slabSegments = nil
	p.unsizedSegs.Init()
	p.bufferEpoch.Store(0)
	p.stats.TrackArenaBytes(0)

	p.unsizedSegsMu.Unlock()
	p.chunkIndexMu.Unlock()
	p.sizedSegsMu.Unlock()
}

// Close clears the pool and releases metrics resources. The parent store is
// not closed; the pool does not own it.
func (p *BufferPool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.Clear()
	return p.metrics.Close()
}

func (p *BufferPool) nextBufferID() int {
	p.bufferIDMu.Lock()
	defer p.bufferIDMu.Unlock()
	id := p.maxBufferID
	p.maxBufferID++
	return id
}

// Ensure a pool can serve as the parent tier of another pool.
var _ store.Store = (*BufferPool)(nil)
