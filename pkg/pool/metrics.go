package pool

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/TierPoolDB/tierpool/pkg/telemetry"
)

// PoolMetrics defines the telemetry surface for pool-level instrumentation
type PoolMetrics interface {
	// RecordOperation records a façade operation with its duration and outcome
	RecordOperation(ctx context.Context, operation string, duration time.Duration, success bool)

	// RecordEviction records an eviction and the pages it reclaimed
	RecordEviction(ctx context.Context, slabNum int, pages int64)

	// RecordSlabGrowth records the arena growing by one slab
	RecordSlabGrowth(ctx context.Context, slabNum int, slabBytes int64)

	// Close releases metrics resources
	Close() error
}

// poolMetrics implements PoolMetrics using the telemetry interface
type poolMetrics struct {
	tel telemetry.Telemetry
}

// NewPoolMetrics creates a PoolMetrics instance recording against tel
func NewPoolMetrics(tel telemetry.Telemetry) PoolMetrics {
	return &poolMetrics{tel: tel}
}

// NewNoopPoolMetrics creates a no-op PoolMetrics for when telemetry is disabled
func NewNoopPoolMetrics() PoolMetrics {
	return &noopPoolMetrics{}
}

func (m *poolMetrics) RecordOperation(ctx context.Context, operation string, duration time.Duration, success bool) {
	if m.tel == nil {
		return
	}

	status := telemetry.StatusSuccess
	if !success {
		status = telemetry.StatusError
	}

	attrs := []attribute.KeyValue{
		attribute.String(telemetry.AttrComponent, telemetry.ComponentPool),
		attribute.String(telemetry.AttrOperationType, operation),
		attribute.String(telemetry.AttrStatus, status),
	}

	m.tel.RecordHistogram(ctx, "tierpool.pool.operation.duration", duration.Seconds(), attrs...)
	m.tel.RecordCounter(ctx, "tierpool.pool.operation.count", 1, attrs...)
}

func (m *poolMetrics) RecordEviction(ctx context.Context, slabNum int, pages int64) {
	if m.tel == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(telemetry.AttrComponent, telemetry.ComponentPool),
		attribute.Int(telemetry.AttrSlabNum, slabNum),
	}

	m.tel.RecordCounter(ctx, "tierpool.pool.evictions", 1, attrs...)
	m.tel.RecordCounter(ctx, "tierpool.pool.evicted.pages", pages, attrs...)
}

func (m *poolMetrics) RecordSlabGrowth(ctx context.Context, slabNum int, slabBytes int64) {
	if m.tel == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(telemetry.AttrComponent, telemetry.ComponentPool),
		attribute.Int(telemetry.AttrSlabNum, slabNum),
	}

	m.tel.RecordCounter(ctx, "tierpool.pool.slabs.added", 1, attrs...)
	m.tel.RecordCounter(ctx, "tierpool.pool.arena.bytes", slabBytes, attrs...)
}

func (m *poolMetrics) Close() error {
	return nil
}

// noopPoolMetrics implements PoolMetrics with no-ops
type noopPoolMetrics struct{}

func (n *noopPoolMetrics) RecordOperation(ctx context.Context, operation string, duration time.Duration, success bool) {
}
func (n *noopPoolMetrics) RecordEviction(ctx context.Context, slabNum int, pages int64)       {}
func (n *noopPoolMetrics) RecordSlabGrowth(ctx context.Context, slabNum int, slabBytes int64) {}
func (n *noopPoolMetrics) Close() error                                                      { return nil }
