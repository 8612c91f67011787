package store

import (
	"sync"

	"github.com/TierPoolDB/tierpool/pkg/buffer"
	"github.com/TierPoolDB/tierpool/pkg/chunk"
)

type memEntry struct {
	data []byte
	meta buffer.EncoderMeta
}

// MemStore is an in-memory Store, useful in tests and as a simple top tier.
type MemStore struct {
	mu     sync.Mutex
	chunks map[string]memEntry
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		chunks: make(map[string]memEntry),
	}
}

// FetchBuffer copies the stored chunk into dest.
func (s *MemStore) FetchBuffer(key chunk.Key, dest *buffer.Buffer, numBytes int64) error {
	s.mu.Lock()
	entry, ok := s.chunks[key.String()]
	s.mu.Unlock()
	if !ok {
		return ErrKeyNotFound
	}

	n := numBytes
	if n == 0 || n > int64(len(entry.data)) {
		n = int64(len(entry.data))
	}

	if err := dest.Reserve(n); err != nil {
		return err
	}
	copy(dest.MemoryBytes(), entry.data[:n])
	if err := dest.SetSize(n); err != nil {
		return err
	}
	dest.SetEncoder(entry.meta)
	return nil
}

// PutBuffer stores a copy of src's contents.
func (s *MemStore) PutBuffer(key chunk.Key, src *buffer.Buffer, numBytes int64) error {
	n := numBytes
	if n == 0 {
		n = src.Size()
	}

	data := make([]byte, n)
	if n > 0 {
		if err := src.Read(data, n, 0); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.chunks[key.String()] = memEntry{data: data, meta: src.Encoder()}
	s.mu.Unlock()
	return nil
}

// DeleteBuffer removes the chunk.
func (s *MemStore) DeleteBuffer(key chunk.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chunks[key.String()]; !ok {
		return ErrKeyNotFound
	}
	delete(s.chunks, key.String())
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemStore) Close() error {
	return nil
}

// Len returns the number of stored chunks.
func (s *MemStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks)
}

// Ensure MemStore implements the Store interface
var _ Store = (*MemStore)(nil)
