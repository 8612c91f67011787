package pool

import "errors"

var (
	// ErrChunkExists is returned when creating a chunk whose key is already indexed
	ErrChunkExists = errors.New("chunk already exists")
	// ErrChunkNotFound is returned when a key is absent from the pool and its parents
	ErrChunkNotFound = errors.New("chunk not found")
	// ErrTooLarge is returned when a request exceeds the capacity of a single slab
	ErrTooLarge = errors.New("requested allocation larger than slab size")
	// ErrOutOfMemory is returned when eviction cannot clear enough contiguous space
	ErrOutOfMemory = errors.New("could not evict chunks to get free space")
	// ErrInconsistency is returned when putting over a buffer with unflushed writes
	ErrInconsistency = errors.New("chunk inconsistency")
	// ErrUnsupported is returned for metadata queries this layer does not serve
	ErrUnsupported = errors.New("operation not supported by buffer pool")
	// ErrPoolClosed is returned when operating on a closed pool
	ErrPoolClosed = errors.New("buffer pool is closed")
)
