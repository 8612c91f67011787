// Package buffer implements the pinned, dirty-tracked memory object that pool
// consumers read and write through. A Buffer is a view over arena memory owned
// by its pool; the pool rebinds the view when the backing segment moves.
package buffer

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	// ErrBufferDetached is returned when reading or writing a buffer whose
	// backing segment has been evicted or deleted
	ErrBufferDetached = errors.New("buffer is detached from its segment")
	// ErrOutOfRange is returned when a read extends past the buffer's size
	ErrOutOfRange = errors.New("read past end of buffer")
	// ErrSizeExceedsReserved is returned when SetSize exceeds reserved capacity
	ErrSizeExceedsReserved = errors.New("size exceeds reserved capacity")
)

// Reserver grows a buffer's backing segment. Implemented by the pool; growth
// may migrate the segment, in which case the pool rebinds the buffer's memory
// before returning.
type Reserver interface {
	ReserveBuffer(b *Buffer, numBytes int64) error
}

// EncoderMeta carries the encoder metadata that travels with a chunk between
// tiers. Synchronized wholesale on fetch and put.
type EncoderMeta struct {
	DataType string
	NumElems int64
}

// Buffer is a consumer handle onto a run of pool pages. Construction pins the
// buffer; the creator is responsible for the matching Unpin.
type Buffer struct {
	reserver Reserver
	pins     atomic.Int32

	mu       sync.Mutex
	segRef   interface{} // stable handle to the owning segment, managed by the pool
	mem      []byte      // view into the owning slab's arena; nil while unsized or detached
	size     int64       // logical bytes written
	pageSize int64       // chunk page size given at construction, reported by PageSize
	dirty    bool
	updated  bool
	appended bool
	encoder  EncoderMeta
}

// New creates a pinned buffer bound to the given segment handle. The buffer
// has no memory until the pool reserves pages for it.
func New(reserver Reserver, segRef interface{}, pageSize int64) *Buffer {
	b := &Buffer{
		reserver: reserver,
		segRef:   segRef,
		pageSize: pageSize,
	}
	b.pins.Store(1)
	return b
}

// Pin increments the pin count, protecting the buffer from eviction and
// migration.
func (b *Buffer) Pin() {
	b.pins.Add(1)
}

// Unpin releases one pin. Unpinning an unpinned buffer is a programmer error.
func (b *Buffer) Unpin() {
	if b.pins.Add(-1) < 0 {
		panic("buffer: unpin of unpinned buffer")
	}
}

// PinCount returns the current pin count.
func (b *Buffer) PinCount() int {
	return int(b.pins.Load())
}

// Size returns the logical size in bytes.
func (b *Buffer) Size() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// SetSize sets the logical size. The size must fit the reserved capacity.
func (b *Buffer) SetSize(n int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n > int64(len(b.mem)) {
		return fmt.Errorf("%w: %d > %d", ErrSizeExceedsReserved, n, len(b.mem))
	}
	b.size = n
	return nil
}

// Reserved returns the reserved capacity in bytes.
func (b *Buffer) Reserved() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.mem))
}

// PageSize returns the chunk page size the buffer was created with.
func (b *Buffer) PageSize() int64 {
	return b.pageSize
}

// Reserve ensures at least numBytes of capacity, growing the backing segment
// through the pool if needed. Like reserve on a vector, it never shrinks.
func (b *Buffer) Reserve(numBytes int64) error {
	if numBytes <= b.Reserved() {
		return nil
	}
	return b.reserver.ReserveBuffer(b, numBytes)
}

// Rebind points the buffer at new backing memory and segment handle. Called by
// the pool with its structural locks held, during placement and migration.
func (b *Buffer) Rebind(mem []byte, segRef interface{}) {
	b.mu.Lock()
	b.mem = mem
	b.segRef = segRef
	b.mu.Unlock()
}

// SegmentRef returns the pool-managed segment handle.
func (b *Buffer) SegmentRef() interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.segRef
}

// Detach severs the buffer from its memory. Subsequent reads and writes fail
// with ErrBufferDetached. Called by the pool on eviction and delete.
func (b *Buffer) Detach() {
	b.mu.Lock()
	b.mem = nil
	b.segRef = nil
	b.size = 0
	b.mu.Unlock()
}

// MemoryBytes returns the full reserved view of the buffer's memory, or nil
// if the buffer is unsized or detached. The pool and stores use it for bulk
// copies that must not flip dirty bits.
func (b *Buffer) MemoryBytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mem
}

// Read copies numBytes starting at offset into dst.
func (b *Buffer) Read(dst []byte, numBytes, offset int64) error {
	if numBytes == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mem == nil {
		return ErrBufferDetached
	}
	if offset+numBytes > b.size {
		return fmt.Errorf("%w: [%d, %d) beyond size %d", ErrOutOfRange, offset, offset+numBytes, b.size)
	}
	copy(dst, b.mem[offset:offset+numBytes])
	return nil
}

// Write copies src into the buffer at offset, growing the reservation if
// needed, and marks the buffer dirty and updated.
func (b *Buffer) Write(src []byte, offset int64) error {
	need := offset + int64(len(src))
	if err := b.Reserve(need); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mem == nil && len(src) > 0 {
		return ErrBufferDetached
	}
	copy(b.mem[offset:], src)
	if need > b.size {
		b.size = need
	}
	b.dirty = true
	b.updated = true
	return nil
}

// Append writes src at the current end of the buffer and marks it dirty and
// appended.
func (b *Buffer) Append(src []byte) error {
	offset := b.Size()
	need := offset + int64(len(src))
	if err := b.Reserve(need); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mem == nil && len(src) > 0 {
		return ErrBufferDetached
	}
	copy(b.mem[offset:], src)
	if need > b.size {
		b.size = need
	}
	b.dirty = true
	b.appended = true
	return nil
}

// IsDirty reports whether the buffer has unflushed writes.
func (b *Buffer) IsDirty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dirty
}

// IsUpdated reports whether the buffer was overwritten in place since the
// dirty bits were last cleared.
func (b *Buffer) IsUpdated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.updated
}

// IsAppended reports whether data was appended at the tail since the dirty
// bits were last cleared. It is independent of IsUpdated; both may be set.
func (b *Buffer) IsAppended() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.appended
}

// ClearDirtyBits resets the dirty, updated, and appended flags.
func (b *Buffer) ClearDirtyBits() {
	b.mu.Lock()
	b.dirty = false
	b.updated = false
	b.appended = false
	b.mu.Unlock()
}

// Encoder returns the buffer's encoder metadata.
func (b *Buffer) Encoder() EncoderMeta {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.encoder
}

// SetEncoder replaces the buffer's encoder metadata.
func (b *Buffer) SetEncoder(meta EncoderMeta) {
	b.mu.Lock()
	b.encoder = meta
	b.mu.Unlock()
}

// SyncEncoder copies encoder metadata from src.
func (b *Buffer) SyncEncoder(src *Buffer) {
	b.SetEncoder(src.Encoder())
}
