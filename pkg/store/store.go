// Package store defines the parent-tier contract a pool fetches from and
// flushes to, along with file-backed and in-memory implementations.
package store

import (
	"errors"

	"github.com/TierPoolDB/tierpool/pkg/buffer"
	"github.com/TierPoolDB/tierpool/pkg/chunk"
)

var (
	// ErrKeyNotFound is returned when a chunk is not present in the store
	ErrKeyNotFound = errors.New("chunk not found in store")
	// ErrCorruptChunk is returned when a persisted chunk fails verification
	ErrCorruptChunk = errors.New("corrupt chunk record")
)

// Store is the upstream, slower tier behind a pool. A pool itself satisfies
// Store, so pools stack into hierarchies with a terminal file store.
type Store interface {
	// FetchBuffer populates dest with the chunk's contents, up to numBytes
	// (or the full chunk if numBytes is 0), and synchronizes encoder
	// metadata. dest is not marked dirty.
	FetchBuffer(key chunk.Key, dest *buffer.Buffer, numBytes int64) error

	// PutBuffer persists numBytes of src (or its full size if numBytes is 0).
	PutBuffer(key chunk.Key, src *buffer.Buffer, numBytes int64) error

	// DeleteBuffer removes the chunk from the store.
	DeleteBuffer(key chunk.Key) error

	// Close releases store resources.
	Close() error
}
