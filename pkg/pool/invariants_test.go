package pool

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/TierPoolDB/tierpool/pkg/buffer"
	"github.com/TierPoolDB/tierpool/pkg/chunk"
	"github.com/TierPoolDB/tierpool/pkg/config"
)

// TestInvariantsUnderRandomOps drives a random mix of creates, gets, deletes,
// reserves, and prefix deletes, checking the structural invariants after
// every step. Fixed seed for reproducibility.
func TestInvariantsUnderRandomOps(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	cfg := &config.Config{
		Version:       1,
		PageSize:      512,
		SlabSize:      8192,
		MaxBufferSize: 32768,
	}
	p, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer p.Close()

	live := make(map[string]*buffer.Buffer)
	keyOf := func(i int) chunk.Key { return chunk.Key{i / 8, i % 8} }

	const steps = 2000
	for step := 0; step < steps; step++ {
		i := rng.Intn(48)
		key := keyOf(i)
		ks := key.String()

		switch rng.Intn(10) {
		case 0, 1, 2, 3: // create
			size := int64(rng.Intn(8192) + 1)
			b, err := p.CreateBuffer(key, 0, size)
			switch {
			case err == nil:
				if _, ok := live[ks]; ok {
					t.Fatalf("step %d: create of live key %s succeeded", step, key)
				}
				b.Unpin()
				live[ks] = b
			case errors.Is(err, ErrChunkExists):
				if _, ok := live[ks]; !ok {
					t.Fatalf("step %d: spurious ErrChunkExists for %s", step, key)
				}
			case errors.Is(err, ErrOutOfMemory):
				// Arena fully packed; legitimate under pressure.
			default:
				t.Fatalf("step %d: create %s: %v", step, key, err)
			}

		case 4, 5: // get
			b, err := p.GetBuffer(key, 0)
			if err == nil {
				if _, ok := live[ks]; !ok {
					t.Fatalf("step %d: get of dead key %s succeeded", step, key)
				}
				b.Unpin()
			} else if !errors.Is(err, ErrChunkNotFound) {
				t.Fatalf("step %d: get %s: %v", step, key, err)
			}

		case 6, 7: // delete
			err := p.DeleteBuffer(key)
			if err == nil {
				if _, ok := live[ks]; !ok {
					t.Fatalf("step %d: delete of dead key %s succeeded", step, key)
				}
				delete(live, ks)
			} else if !errors.Is(err, ErrChunkNotFound) {
				t.Fatalf("step %d: delete %s: %v", step, key, err)
			} else {
				delete(live, ks)
			}

		case 8: // grow a live chunk
			if b, ok := live[ks]; ok && p.IsBufferOnDevice(key) {
				b.Pin()
				err := b.Reserve(b.Reserved() + int64(rng.Intn(2048)+1))
				if err != nil && !errors.Is(err, ErrTooLarge) && !errors.Is(err, ErrOutOfMemory) && !errors.Is(err, buffer.ErrBufferDetached) {
					t.Fatalf("step %d: reserve %s: %v", step, key, err)
				}
				b.Unpin()
			}

		case 9: // prefix delete
			prefix := chunk.Key{rng.Intn(6)}
			if err := p.DeleteBuffersWithPrefix(prefix); err != nil {
				t.Fatalf("step %d: prefix delete %s: %v", step, prefix, err)
			}
			for liveKey := range live {
				for j := 0; j < 8; j++ {
					if (chunk.Key{prefix[0], j}).String() == liveKey {
						delete(live, liveKey)
					}
				}
			}
		}

		// Eviction may have removed unpinned chunks behind our back; resync
		// the model before asserting residency-sensitive facts.
		for liveKey := range live {
			var k chunk.Key
			var a, b int
			if _, err := fmt.Sscanf(liveKey, "%d_%d", &a, &b); err == nil {
				k = chunk.Key{a, b}
			}
			if !p.IsBufferOnDevice(k) {
				delete(live, liveKey)
			}
		}

		checkInvariants(t, p)
		if t.Failed() {
			t.Fatalf("invariants broken at step %d", step)
		}
	}
}

// TestConcurrentFacadeOps hammers the façade from several goroutines, each in
// its own key range with occasional cross-range reads. The test passes if no
// invariant breaks and nothing deadlocks or panics.
func TestConcurrentFacadeOps(t *testing.T) {
	cfg := &config.Config{
		Version:       1,
		PageSize:      512,
		SlabSize:      8192,
		MaxBufferSize: 65536,
	}
	p, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer p.Close()

	const workers = 8
	const opsPerWorker = 300

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(w int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(w)))
			for i := 0; i < opsPerWorker; i++ {
				key := chunk.Key{w, rng.Intn(4)}
				switch rng.Intn(4) {
				case 0:
					if b, err := p.CreateBuffer(key, 0, int64(rng.Intn(4096)+1)); err == nil {
						payload := patternBytes(256, byte(w))
						if err := b.Write(payload, 0); err != nil && !errors.Is(err, buffer.ErrBufferDetached) {
							t.Errorf("worker %d: write: %v", w, err)
						}
						b.Unpin()
					}
				case 1:
					if b, err := p.GetBuffer(key, 0); err == nil {
						dst := make([]byte, 16)
						if err := b.Read(dst, 16, 0); err != nil &&
							!errors.Is(err, buffer.ErrOutOfRange) && !errors.Is(err, buffer.ErrBufferDetached) {
							t.Errorf("worker %d: read: %v", w, err)
						}
						b.Unpin()
					}
				case 2:
					_ = p.DeleteBuffer(key)
				case 3:
					// Cross-range read pressure.
					other := chunk.Key{rng.Intn(workers), rng.Intn(4)}
					if b, err := p.GetBuffer(other, 0); err == nil {
						b.Unpin()
					}
				}
			}
		}(w)
	}
	wg.Wait()

	checkInvariants(t, p)
}

// TestConcurrentAllocFree exercises anonymous allocation under contention.
func TestConcurrentAllocFree(t *testing.T) {
	cfg := &config.Config{
		Version:       1,
		PageSize:      512,
		SlabSize:      8192,
		MaxBufferSize: 65536,
	}
	p, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer p.Close()

	const workers = 8
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				b, err := p.Alloc(1024)
				if err != nil {
					continue
				}
				b.Unpin()
				if err := p.Free(b); err != nil && !errors.Is(err, ErrChunkNotFound) {
					t.Errorf("free: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	if p.NumChunks() != 0 {
		t.Errorf("expected all anonymous chunks freed, got %d", p.NumChunks())
	}
	checkInvariants(t, p)
}
