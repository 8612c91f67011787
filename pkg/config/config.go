package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	DefaultManifestFileName = "POOL_MANIFEST"
	CurrentManifestVersion  = 1
)

var (
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrManifestNotFound = errors.New("manifest not found")
	ErrInvalidManifest  = errors.New("invalid manifest")
)

// CompressionCodec selects how the file store encodes chunk payloads
type CompressionCodec string

const (
	CompressionNone   CompressionCodec = "none"
	CompressionSnappy CompressionCodec = "snappy"
	CompressionZstd   CompressionCodec = "zstd"
)

type Config struct {
	Version int `json:"version"`

	// Pool geometry
	PageSize      int64 `json:"page_size"`
	SlabSize      int64 `json:"slab_size"`
	MaxBufferSize int64 `json:"max_buffer_size"`

	// Parent file store configuration
	StoreDir         string           `json:"store_dir"`
	StoreCompression CompressionCodec `json:"store_compression"`
	StoreSyncWrites  bool             `json:"store_sync_writes"`

	mu sync.RWMutex
}

// NewDefaultConfig creates a Config with recommended default values
func NewDefaultConfig(poolPath string) *Config {
	return &Config{
		Version: CurrentManifestVersion,

		// Pool geometry defaults: 512B pages, 4MB slabs, 256MB arena
		PageSize:      512,
		SlabSize:      4 * 1024 * 1024,
		MaxBufferSize: 256 * 1024 * 1024,

		// File store defaults
		StoreDir:         filepath.Join(poolPath, "chunks"),
		StoreCompression: CompressionZstd,
		StoreSyncWrites:  false,
	}
}

// NumPagesPerSlab returns the number of pages a single slab holds
func (c *Config) NumPagesPerSlab() int64 {
	return c.SlabSize / c.PageSize
}

// MaxNumSlabs returns the maximum number of slabs the pool may grow to
func (c *Config) MaxNumSlabs() int64 {
	return c.MaxBufferSize / c.SlabSize
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.Version <= 0 {
		return fmt.Errorf("%w: invalid version %d", ErrInvalidConfig, c.Version)
	}

	if c.PageSize <= 0 {
		return fmt.Errorf("%w: page size must be positive", ErrInvalidConfig)
	}

	if c.SlabSize <= 0 {
		return fmt.Errorf("%w: slab size must be positive", ErrInvalidConfig)
	}

	if c.SlabSize%c.PageSize != 0 {
		return fmt.Errorf("%w: slab size must be a multiple of page size", ErrInvalidConfig)
	}

	if c.MaxBufferSize < c.SlabSize {
		return fmt.Errorf("%w: max buffer size must be at least one slab", ErrInvalidConfig)
	}

	switch c.StoreCompression {
	case CompressionNone, CompressionSnappy, CompressionZstd, "":
	default:
		return fmt.Errorf("%w: unknown compression codec %q", ErrInvalidConfig, c.StoreCompression)
	}

	return nil
}

// LoadConfigFromManifest loads the configuration from the manifest file
func LoadConfigFromManifest(poolPath string) (*Config, error) {
	manifestPath := filepath.Join(poolPath, DefaultManifestFileName)
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrManifestNotFound
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// SaveManifest saves the configuration to the manifest file
func (c *Config) SaveManifest(poolPath string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := c.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(poolPath, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	manifestPath := filepath.Join(poolPath, DefaultManifestFileName)
	tempPath := manifestPath + ".tmp"

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	if err := os.Rename(tempPath, manifestPath); err != nil {
		return fmt.Errorf("failed to rename manifest: %w", err)
	}

	return nil
}

// Update applies the given function to modify the configuration
func (c *Config) Update(fn func(*Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c)
}
