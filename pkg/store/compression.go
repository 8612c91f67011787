package store

import (
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"

	"github.com/TierPoolDB/tierpool/pkg/config"
)

var (
	// ErrUnknownCodec is returned for a codec name or header id with no table entry
	ErrUnknownCodec = errors.New("unknown compression codec")

	// ErrInvalidCompressedData is returned when a payload cannot be decompressed
	ErrInvalidCompressedData = errors.New("invalid compressed data")
)

// Codec ids persisted in the chunk record header. Append-only: reassigning an
// id breaks every record already on disk.
const (
	codecIDNone   byte = 0
	codecIDSnappy byte = 1
	codecIDZstd   byte = 2
)

// compressor carries the stateful zstd coder pair that the codec table's zstd
// entry dispatches through. Snappy and the identity codec are stateless.
type compressor struct {
	mu   sync.Mutex
	zenc *zstd.Encoder
	zdec *zstd.Decoder
}

// codecImpl is one row of the codec table: the configured name a header id
// corresponds to, and the transforms in both directions.
type codecImpl struct {
	name       config.CompressionCodec
	compress   func(*compressor, []byte) []byte
	decompress func(*compressor, []byte) ([]byte, error)
}

// codecTable maps header ids to implementations. codecID resolves a configured
// name to an id against it when the store is built; encode dispatches on that
// id, and decode on the id read back from the header.
var codecTable = map[byte]codecImpl{
	codecIDNone: {
		name:       config.CompressionNone,
		compress:   func(_ *compressor, data []byte) []byte { return data },
		decompress: func(_ *compressor, data []byte) ([]byte, error) { return data, nil },
	},
	codecIDSnappy: {
		name:     config.CompressionSnappy,
		compress: func(_ *compressor, data []byte) []byte { return snappy.Encode(nil, data) },
		decompress: func(_ *compressor, data []byte) ([]byte, error) {
			return snappy.Decode(nil, data)
		},
	},
	codecIDZstd: {
		name: config.CompressionZstd,
		compress: func(c *compressor, data []byte) []byte {
			c.mu.Lock()
			defer c.mu.Unlock()
			return c.zenc.EncodeAll(data, nil)
		},
		decompress: func(c *compressor, data []byte) ([]byte, error) {
			c.mu.Lock()
			defer c.mu.Unlock()
			return c.zdec.DecodeAll(data, nil)
		},
	},
}

// codecID resolves a configured codec name to its header id. The empty name
// means no compression.
func codecID(name config.CompressionCodec) (byte, error) {
	if name == "" {
		return codecIDNone, nil
	}
	for id, impl := range codecTable {
		if impl.name == name {
			return id, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
}

func newCompressor() (*compressor, error) {
	zenc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	zdec, err := zstd.NewReader(nil)
	if err != nil {
		zenc.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &compressor{zenc: zenc, zdec: zdec}, nil
}

// encode compresses data under the codec the given header id names. Empty
// payloads pass through untouched.
func (c *compressor) encode(id byte, data []byte) ([]byte, error) {
	impl, ok := codecTable[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrUnknownCodec, id)
	}
	if len(data) == 0 {
		return data, nil
	}
	return impl.compress(c, data), nil
}

// decode reverses encode, dispatching on the id read back from a record
// header.
func (c *compressor) decode(id byte, payload []byte) ([]byte, error) {
	impl, ok := codecTable[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrUnknownCodec, id)
	}
	if len(payload) == 0 {
		return payload, nil
	}
	data, err := impl.decompress(c, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCompressedData, err)
	}
	return data, nil
}

// Close releases the zstd coders. The compressor is unusable afterwards.
func (c *compressor) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.zenc != nil {
		c.zenc.Close()
		c.zenc = nil
	}
	if c.zdec != nil {
		c.zdec.Close()
		c.zdec = nil
	}
	return nil
}
