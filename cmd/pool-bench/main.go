package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/TierPoolDB/tierpool/pkg/chunk"
	"github.com/TierPoolDB/tierpool/pkg/config"
	"github.com/TierPoolDB/tierpool/pkg/pool"
	"github.com/TierPoolDB/tierpool/pkg/store"
)

const (
	defaultChunkSize = 64 * 1024
	defaultNumChunks = 1024
)

var (
	// Command line flags
	benchmarkType = flag.String("type", "all", "Type of benchmark to run (write, read, churn, checkpoint, or all)")
	duration      = flag.Duration("duration", 10*time.Second, "Duration to run each benchmark")
	numChunks     = flag.Int("chunks", defaultNumChunks, "Number of chunk keys to use")
	chunkSize     = flag.Int("chunk-size", defaultChunkSize, "Size of each chunk in bytes")
	pageSize      = flag.Int64("page-size", 4096, "Pool page size in bytes")
	slabSize      = flag.Int64("slab-size", 16*1024*1024, "Pool slab size in bytes")
	arenaSize     = flag.Int64("arena-size", 128*1024*1024, "Maximum pool arena size in bytes")
	dataDir       = flag.String("data-dir", "./bench-data", "Directory for the file-store tier")
	compression   = flag.String("compression", "zstd", "File store compression (none, snappy, zstd)")
)

func main() {
	flag.Parse()

	if err := os.RemoveAll(*dataDir); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to clean benchmark directory: %v\n", err)
	}

	fs, err := store.NewFileStore(*dataDir, config.CompressionCodec(*compression), false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create file store: %v\n", err)
		os.Exit(1)
	}
	defer fs.Close()

	cfg := &config.Config{
		Version:       config.CurrentManifestVersion,
		PageSize:      *pageSize,
		SlabSize:      *slabSize,
		MaxBufferSize: *arenaSize,
	}
	p, err := pool.New(cfg, fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create pool: %v\n", err)
		os.Exit(1)
	}
	defer p.Close()

	switch *benchmarkType {
	case "write":
		runWriteBenchmark(p)
	case "read":
		runReadBenchmark(p)
	case "churn":
		runChurnBenchmark(p)
	case "checkpoint":
		runCheckpointBenchmark(p)
	case "all":
		runWriteBenchmark(p)
		runReadBenchmark(p)
		runChurnBenchmark(p)
		runCheckpointBenchmark(p)
	default:
		fmt.Fprintf(os.Stderr, "Unknown benchmark type: %s\n", *benchmarkType)
		os.Exit(1)
	}
}

func report(name string, ops int, bytes int64, elapsed time.Duration) {
	opsPerSec := float64(ops) / elapsed.Seconds()
	mbPerSec := float64(bytes) / (1024 * 1024) / elapsed.Seconds()
	fmt.Printf("%-12s %10d ops in %8s  (%10.0f ops/s, %8.1f MB/s)\n",
		name, ops, elapsed.Round(time.Millisecond), opsPerSec, mbPerSec)
}

// runWriteBenchmark creates chunks and writes full payloads through them.
func runWriteBenchmark(p *pool.BufferPool) {
	payload := make([]byte, *chunkSize)
	rand.Read(payload)

	start := time.Now()
	deadline := start.Add(*duration)
	var ops int
	var bytes int64

	for i := 0; time.Now().Before(deadline); i++ {
		key := chunk.Key{1, i % *numChunks}
		b, err := p.GetBuffer(key, 0)
		if err != nil {
			var cerr error
			b, cerr = p.CreateBuffer(key, 0, int64(*chunkSize))
			if cerr != nil {
				fmt.Fprintf(os.Stderr, "write bench: %v\n", cerr)
				return
			}
		}
		if err := b.Write(payload, 0); err != nil {
			fmt.Fprintf(os.Stderr, "write bench: %v\n", err)
			b.Unpin()
			return
		}
		b.ClearDirtyBits()
		b.Unpin()
		ops++
		bytes += int64(*chunkSize)
	}
	report("write", ops, bytes, time.Since(start))
}

// runReadBenchmark gets resident chunks and reads them back.
func runReadBenchmark(p *pool.BufferPool) {
	dst := make([]byte, *chunkSize)

	start := time.Now()
	deadline := start.Add(*duration)
	var ops int
	var bytes int64

	rng := rand.New(rand.NewSource(1))
	for time.Now().Before(deadline) {
		key := chunk.Key{1, rng.Intn(*numChunks)}
		b, err := p.GetBuffer(key, 0)
		if err != nil {
			continue
		}
		n := b.Size()
		if n > int64(len(dst)) {
			n = int64(len(dst))
		}
		if err := b.Read(dst[:n], n, 0); err == nil {
			bytes += n
		}
		b.Unpin()
		ops++
	}
	report("read", ops, bytes, time.Since(start))
}

// runChurnBenchmark drives allocation pressure so the evictor stays busy.
func runChurnBenchmark(p *pool.BufferPool) {
	payload := make([]byte, *chunkSize)
	rand.Read(payload)

	start := time.Now()
	deadline := start.Add(*duration)
	var ops int

	for i := 0; time.Now().Before(deadline); i++ {
		b, err := p.Alloc(int64(*chunkSize))
		if err != nil {
			fmt.Fprintf(os.Stderr, "churn bench: %v\n", err)
			return
		}
		if err := b.Write(payload, 0); err != nil {
			fmt.Fprintf(os.Stderr, "churn bench: %v\n", err)
			b.Unpin()
			return
		}
		b.ClearDirtyBits()
		b.Unpin()
		ops++
	}
	elapsed := time.Since(start)
	report("churn", ops, int64(ops)*int64(*chunkSize), elapsed)

	stats := p.Stats()
	fmt.Printf("             evictions=%v evicted_pages=%v slabs=%d\n",
		stats["eviction_count"], stats["evicted_pages"], p.NumSlabs())
}

// runCheckpointBenchmark dirties a working set and flushes it to the file store.
func runCheckpointBenchmark(p *pool.BufferPool) {
	payload := make([]byte, *chunkSize)
	rand.Read(payload)

	dirtied := 0
	for i := 0; i < *numChunks/4; i++ {
		key := chunk.Key{2, i}
		b, err := p.GetBuffer(key, 0)
		if err != nil {
			b, err = p.CreateBuffer(key, 0, int64(*chunkSize))
			if err != nil {
				break
			}
		}
		if err := b.Write(payload, 0); err == nil {
			dirtied++
		}
		b.Unpin()
	}

	start := time.Now()
	if err := p.Checkpoint(); err != nil {
		fmt.Fprintf(os.Stderr, "checkpoint bench: %v\n", err)
		return
	}
	report("checkpoint", dirtied, int64(dirtied)*int64(*chunkSize), time.Since(start))
}
