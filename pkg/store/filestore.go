package store

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"

	"github.com/TierPoolDB/tierpool/pkg/buffer"
	"github.com/TierPoolDB/tierpool/pkg/chunk"
	"github.com/TierPoolDB/tierpool/pkg/common/log"
	"github.com/TierPoolDB/tierpool/pkg/config"
)

const (
	// Chunk record layout:
	// - Magic (4 bytes)
	// - Version (1 byte)
	// - Codec (1 byte)
	// - DataType length (2 bytes)
	// - NumElems (8 bytes)
	// - Uncompressed length (8 bytes)
	// - Checksum of compressed payload (8 bytes)
	// - DataType bytes, then payload
	chunkMagic      = uint32(0x4b435054) // "TPCK"
	chunkVersion    = byte(1)
	chunkHeaderSize = 32

	chunkFileSuffix = ".chunk"
)

// FileStore is a file-backed parent tier: one file per chunk, payload
// compressed and framed with an xxhash64 checksum.
type FileStore struct {
	dir        string
	codecID    byte
	syncWrites bool
	compressor *compressor
	logger     log.Logger
}

// NewFileStore creates a file store rooted at dir using the given codec. The
// codec name is resolved against the codec table once, up front.
func NewFileStore(dir string, codec config.CompressionCodec, syncWrites bool) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	id, err := codecID(codec)
	if err != nil {
		return nil, err
	}
	compressor, err := newCompressor()
	if err != nil {
		return nil, err
	}

	return &FileStore{
		dir:        dir,
		codecID:    id,
		syncWrites: syncWrites,
		compressor: compressor,
		logger:     log.Default().WithField("component", "filestore"),
	}, nil
}

func (s *FileStore) chunkPath(key chunk.Key) string {
	return filepath.Join(s.dir, key.String()+chunkFileSuffix)
}

// FetchBuffer reads the chunk from disk into dest. dest is resized to
// numBytes, or to the stored size when numBytes is 0 or exceeds it, and is
// not marked dirty.
func (s *FileStore) FetchBuffer(key chunk.Key, dest *buffer.Buffer, numBytes int64) error {
	raw, err := os.ReadFile(s.chunkPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrKeyNotFound
		}
		return fmt.Errorf("failed to read chunk %s: %w", key, err)
	}

	data, meta, err := s.decodeRecord(key, raw)
	if err != nil {
		return err
	}

	n := numBytes
	if n == 0 || n > int64(len(data)) {
		n = int64(len(data))
	}

	if err := dest.Reserve(n); err != nil {
		return fmt.Errorf("failed to reserve %d bytes for chunk %s: %w", n, key, err)
	}
	copy(dest.MemoryBytes(), data[:n])
	if err := dest.SetSize(n); err != nil {
		return err
	}
	dest.SetEncoder(meta)
	return nil
}

// PutBuffer persists numBytes of src (or its full size if numBytes is 0).
func (s *FileStore) PutBuffer(key chunk.Key, src *buffer.Buffer, numBytes int64) error {
	n := numBytes
	if n == 0 {
		n = src.Size()
	}

	data := make([]byte, n)
	if n > 0 {
		if err := src.Read(data, n, 0); err != nil {
			return fmt.Errorf("failed to read source buffer for chunk %s: %w", key, err)
		}
	}

	record, err := s.encodeRecord(data, src.Encoder())
	if err != nil {
		return err
	}

	path := s.chunkPath(key)
	tempPath := path + ".tmp"
	if err := s.writeFile(tempPath, record); err != nil {
		return fmt.Errorf("failed to write chunk %s: %w", key, err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("failed to rename chunk %s: %w", key, err)
	}

	s.logger.Debug("persisted chunk %s (%d bytes)", key, n)
	return nil
}

// DeleteBuffer removes the chunk's file.
func (s *FileStore) DeleteBuffer(key chunk.Key) error {
	err := os.Remove(s.chunkPath(key))
	if os.IsNotExist(err) {
		return ErrKeyNotFound
	}
	return err
}

// Close releases compressor resources.
func (s *FileStore) Close() error {
	return s.compressor.Close()
}

func (s *FileStore) encodeRecord(data []byte, meta buffer.EncoderMeta) ([]byte, error) {
	payload, err := s.compressor.encode(s.codecID, data)
	if err != nil {
		return nil, err
	}

	dataType := []byte(meta.DataType)
	record := make([]byte, chunkHeaderSize+len(dataType)+len(payload))
	binary.LittleEndian.PutUint32(record[0:4], chunkMagic)
	record[4] = chunkVersion
	record[5] = s.codecID
	binary.LittleEndian.PutUint16(record[6:8], uint16(len(dataType)))
	binary.LittleEndian.PutUint64(record[8:16], uint64(meta.NumElems))
	binary.LittleEndian.PutUint64(record[16:24], uint64(len(data)))
	binary.LittleEndian.PutUint64(record[24:32], xxhash.Sum64(payload))
	copy(record[chunkHeaderSize:], dataType)
	copy(record[chunkHeaderSize+len(dataType):], payload)
	return record, nil
}

func (s *FileStore) decodeRecord(key chunk.Key, raw []byte) ([]byte, buffer.EncoderMeta, error) {
	var meta buffer.EncoderMeta

	if len(raw) < chunkHeaderSize {
		return nil, meta, fmt.Errorf("%w: chunk %s truncated header", ErrCorruptChunk, key)
	}
	if binary.LittleEndian.Uint32(raw[0:4]) != chunkMagic {
		return nil, meta, fmt.Errorf("%w: chunk %s bad magic", ErrCorruptChunk, key)
	}
	if raw[4] != chunkVersion {
		return nil, meta, fmt.Errorf("%w: chunk %s unknown version %d", ErrCorruptChunk, key, raw[4])
	}

	dataTypeLen := int(binary.LittleEndian.Uint16(raw[6:8]))
	numElems := int64(binary.LittleEndian.Uint64(raw[8:16]))
	uncompressedLen := binary.LittleEndian.Uint64(raw[16:24])
	checksum := binary.LittleEndian.Uint64(raw[24:32])

	if len(raw) < chunkHeaderSize+dataTypeLen {
		return nil, meta, fmt.Errorf("%w: chunk %s truncated data type", ErrCorruptChunk, key)
	}
	dataType := string(raw[chunkHeaderSize : chunkHeaderSize+dataTypeLen])
	payload := raw[chunkHeaderSize+dataTypeLen:]

	if xxhash.Sum64(payload) != checksum {
		return nil, meta, fmt.Errorf("%w: chunk %s checksum mismatch", ErrCorruptChunk, key)
	}

	data, err := s.compressor.decode(raw[5], payload)
	if err != nil {
		return nil, meta, fmt.Errorf("chunk %s: %w", key, err)
	}
	if uint64(len(data)) != uncompressedLen {
		return nil, meta, fmt.Errorf("%w: chunk %s expected %d bytes, got %d", ErrCorruptChunk, key, uncompressedLen, len(data))
	}

	meta.DataType = dataType
	meta.NumElems = numElems
	return data, meta, nil
}

func (s *FileStore) writeFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if s.syncWrites {
		if err := f.Sync(); err != nil {
			f.Close()
			return err
		}
	}
	return f.Close()
}

// Ensure FileStore implements the Store interface
var _ Store = (*FileStore)(nil)
