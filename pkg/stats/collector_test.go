package stats

import (
	"sync"
	"testing"
)

func TestCollector_TrackOperation(t *testing.T) {
	collector := NewAtomicCollector()

	collector.TrackOperation(OpGet)
	collector.TrackOperation(OpGet)
	collector.TrackOperation(OpCreate)

	stats := collector.GetStats()

	if stats["get_ops"].(uint64) != 2 {
		t.Errorf("Expected 2 get operations, got %v", stats["get_ops"])
	}

	if stats["create_ops"].(uint64) != 1 {
		t.Errorf("Expected 1 create operation, got %v", stats["create_ops"])
	}

	if _, exists := stats["last_get_time"]; !exists {
		t.Errorf("Expected last_get_time to exist in stats")
	}
}

func TestCollector_TrackOperationWithLatency(t *testing.T) {
	collector := NewAtomicCollector()

	collector.TrackOperationWithLatency(OpGet, 100)
	collector.TrackOperationWithLatency(OpGet, 200)
	collector.TrackOperationWithLatency(OpGet, 300)

	stats := collector.GetStats()

	latencyStats, ok := stats["get_latency"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected get_latency to be a map, got %T", stats["get_latency"])
	}

	if count := latencyStats["count"].(uint64); count != 3 {
		t.Errorf("Expected 3 latency records, got %v", count)
	}

	if avg := latencyStats["avg_ns"].(uint64); avg != 200 {
		t.Errorf("Expected average latency 200, got %v", avg)
	}

	if min := latencyStats["min_ns"].(uint64); min != 100 {
		t.Errorf("Expected min latency 100, got %v", min)
	}

	if max := latencyStats["max_ns"].(uint64); max != 300 {
		t.Errorf("Expected max latency 300, got %v", max)
	}
}

func TestCollector_ConcurrentAccess(t *testing.T) {
	collector := NewAtomicCollector()
	const goroutines = 8
	const opsPerGoroutine = 1000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < opsPerGoroutine; j++ {
				collector.TrackOperation(OpGet)
				collector.TrackBytes(j%2 == 0, 64)
				collector.TrackEviction(4)
			}
		}()
	}
	wg.Wait()

	stats := collector.GetStats()
	if got := stats["get_ops"].(uint64); got != goroutines*opsPerGoroutine {
		t.Errorf("Expected %d get operations, got %v", goroutines*opsPerGoroutine, got)
	}
	if got := stats["eviction_count"].(uint64); got != goroutines*opsPerGoroutine {
		t.Errorf("Expected %d evictions, got %v", goroutines*opsPerGoroutine, got)
	}
	if got := stats["evicted_pages"].(uint64); got != goroutines*opsPerGoroutine*4 {
		t.Errorf("Expected %d evicted pages, got %v", goroutines*opsPerGoroutine*4, got)
	}
}

func TestCollector_GetStatsFiltered(t *testing.T) {
	collector := NewAtomicCollector()

	collector.TrackOperation(OpGet)
	collector.TrackOperation(OpDelete)
	collector.TrackError("not_found")

	filtered := collector.GetStatsFiltered("get")
	if _, exists := filtered["get_ops"]; !exists {
		t.Errorf("Expected get_ops in filtered stats")
	}
	if _, exists := filtered["delete_ops"]; exists {
		t.Errorf("Did not expect delete_ops in stats filtered by 'get'")
	}
}

func TestCollector_TrackBytes(t *testing.T) {
	collector := NewAtomicCollector()

	collector.TrackBytes(true, 1024)
	collector.TrackBytes(true, 1024)
	collector.TrackBytes(false, 512)

	stats := collector.GetStats()
	if got := stats["total_bytes_written"].(uint64); got != 2048 {
		t.Errorf("Expected 2048 bytes written, got %v", got)
	}
	if got := stats["total_bytes_read"].(uint64); got != 512 {
		t.Errorf("Expected 512 bytes read, got %v", got)
	}
}

func TestCollector_ArenaAndSlabMetrics(t *testing.T) {
	collector := NewAtomicCollector()

	collector.TrackArenaBytes(8192)
	collector.TrackSlabGrowth()
	collector.TrackSlabGrowth()

	stats := collector.GetStats()
	if got := stats["arena_bytes"].(uint64); got != 8192 {
		t.Errorf("Expected arena_bytes 8192, got %v", got)
	}
	if got := stats["slab_growth_count"].(uint64); got != 2 {
		t.Errorf("Expected 2 slab growths, got %v", got)
	}
}

func TestCollector_TrackError(t *testing.T) {
	collector := NewAtomicCollector()

	collector.TrackError("out_of_memory")
	collector.TrackError("out_of_memory")
	collector.TrackError("not_found")

	stats := collector.GetStats()
	errorStats := stats["errors"].(map[string]uint64)
	if errorStats["out_of_memory"] != 2 {
		t.Errorf("Expected 2 out_of_memory errors, got %v", errorStats["out_of_memory"])
	}
	if errorStats["not_found"] != 1 {
		t.Errorf("Expected 1 not_found error, got %v", errorStats["not_found"])
	}
}
