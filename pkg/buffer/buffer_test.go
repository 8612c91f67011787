package buffer

import (
	"bytes"
	"errors"
	"sync"
	"testing"
)

// plainReserver backs buffers with plain heap memory, standing in for a pool.
type plainReserver struct {
	pageSize int64
}

func (r *plainReserver) ReserveBuffer(b *Buffer, numBytes int64) error {
	pages := (numBytes + r.pageSize - 1) / r.pageSize
	mem := make([]byte, pages*r.pageSize)
	copy(mem, b.MemoryBytes())
	b.Rebind(mem, b.SegmentRef())
	return nil
}

func newTestBuffer() *Buffer {
	return New(&plainReserver{pageSize: 64}, "seg-0", 64)
}

func TestNewBufferIsPinned(t *testing.T) {
	b := newTestBuffer()
	if b.PinCount() != 1 {
		t.Errorf("expected pin count 1 on construction, got %d", b.PinCount())
	}

	b.Pin()
	if b.PinCount() != 2 {
		t.Errorf("expected pin count 2, got %d", b.PinCount())
	}

	b.Unpin()
	b.Unpin()
	if b.PinCount() != 0 {
		t.Errorf("expected pin count 0, got %d", b.PinCount())
	}
}

func TestUnpinUnderflowPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on unpin of unpinned buffer")
		}
	}()
	b := newTestBuffer()
	b.Unpin()
	b.Unpin()
}

func TestWriteReadRoundTrip(t *testing.T) {
	b := newTestBuffer()

	payload := []byte("hello, pool")
	if err := b.Write(payload, 0); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if b.Size() != int64(len(payload)) {
		t.Errorf("expected size %d, got %d", len(payload), b.Size())
	}

	got := make([]byte, len(payload))
	if err := b.Read(got, int64(len(payload)), 0); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("read %q, want %q", got, payload)
	}
}

func TestWriteGrowsReservation(t *testing.T) {
	b := newTestBuffer()

	big := make([]byte, 200)
	for i := range big {
		big[i] = byte(i)
	}
	if err := b.Write(big, 0); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if b.Reserved() < 200 {
		t.Errorf("expected at least 200 reserved bytes, got %d", b.Reserved())
	}
	// Reservation is page-granular.
	if b.Reserved()%64 != 0 {
		t.Errorf("expected page-aligned reservation, got %d", b.Reserved())
	}
}

func TestReadPastEnd(t *testing.T) {
	b := newTestBuffer()
	if err := b.Write([]byte("abc"), 0); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	dst := make([]byte, 10)
	err := b.Read(dst, 10, 0)
	if !errors.Is(err, ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange, got %v", err)
	}
}

func TestDirtyBits(t *testing.T) {
	b := newTestBuffer()
	if b.IsDirty() || b.IsUpdated() || b.IsAppended() {
		t.Error("fresh buffer should have clean bits")
	}

	if err := b.Write([]byte("abc"), 0); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if !b.IsDirty() || !b.IsUpdated() {
		t.Error("Write should set dirty and updated")
	}

	b.ClearDirtyBits()
	if b.IsDirty() || b.IsUpdated() || b.IsAppended() {
		t.Error("ClearDirtyBits should reset all flags")
	}

	if err := b.Append([]byte("def")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if !b.IsDirty() || !b.IsAppended() {
		t.Error("Append should set dirty and appended")
	}
	if b.IsUpdated() {
		t.Error("Append alone should not set updated")
	}

	got := make([]byte, 6)
	if err := b.Read(got, 6, 0); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(got) != "abcdef" {
		t.Errorf("expected abcdef, got %q", got)
	}
}

func TestReserveNeverShrinks(t *testing.T) {
	b := newTestBuffer()
	if err := b.Reserve(128); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	reserved := b.Reserved()

	if err := b.Reserve(1); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if b.Reserved() != reserved {
		t.Errorf("Reserve shrank capacity from %d to %d", reserved, b.Reserved())
	}
}

func TestSetSizeBounds(t *testing.T) {
	b := newTestBuffer()
	if err := b.Reserve(64); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if err := b.SetSize(64); err != nil {
		t.Errorf("SetSize within reservation failed: %v", err)
	}
	if err := b.SetSize(65); !errors.Is(err, ErrSizeExceedsReserved) {
		t.Errorf("expected ErrSizeExceedsReserved, got %v", err)
	}
}

func TestDetachedBufferFails(t *testing.T) {
	b := newTestBuffer()
	if err := b.Write([]byte("abc"), 0); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	b.Detach()

	dst := make([]byte, 3)
	if err := b.Read(dst, 3, 0); !errors.Is(err, ErrBufferDetached) {
		t.Errorf("expected ErrBufferDetached on read, got %v", err)
	}
	if b.SegmentRef() != nil {
		t.Error("expected nil segment ref after detach")
	}
}

func TestSyncEncoder(t *testing.T) {
	a := newTestBuffer()
	b := newTestBuffer()

	a.SetEncoder(EncoderMeta{DataType: "int32", NumElems: 256})
	b.SyncEncoder(a)

	if got := b.Encoder(); got.DataType != "int32" || got.NumElems != 256 {
		t.Errorf("expected synced encoder meta, got %+v", got)
	}
}

func TestConcurrentPinning(t *testing.T) {
	b := newTestBuffer()
	const workers = 16
	const rounds = 500

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < rounds; j++ {
				b.Pin()
				b.Unpin()
			}
		}()
	}
	wg.Wait()

	if b.PinCount() != 1 {
		t.Errorf("expected pin count 1 after balanced pin/unpin, got %d", b.PinCount())
	}
}
