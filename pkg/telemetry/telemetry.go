// Package telemetry provides a thin abstraction over OpenTelemetry for
// instrumenting TierPool components without binding them to the SDK.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry is the instrumentation surface components record against.
type Telemetry interface {
	// RecordHistogram records a histogram value with optional attributes.
	RecordHistogram(ctx context.Context, name string, value float64, attrs ...attribute.KeyValue)

	// RecordCounter records a counter increment with optional attributes.
	RecordCounter(ctx context.Context, name string, value int64, attrs ...attribute.KeyValue)

	// StartSpan creates a new tracing span with the given name and attributes.
	StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span)

	// Shutdown gracefully shuts down all telemetry providers and exports remaining data.
	Shutdown(ctx context.Context) error
}

// ComponentMetrics is a marker interface for component-specific metrics
// interfaces; each component defines its own extending this.
type ComponentMetrics interface {
	// Close releases any resources held by the metrics implementation.
	Close() error
}

// NoopTelemetry is a no-operation implementation for testing or disabled scenarios.
type NoopTelemetry struct{}

// NewNoop creates a new no-operation telemetry instance.
func NewNoop() Telemetry {
	return &NoopTelemetry{}
}

// RecordHistogram is a no-op.
func (n *NoopTelemetry) RecordHistogram(ctx context.Context, name string, value float64, attrs ...attribute.KeyValue) {
}

// RecordCounter is a no-op.
func (n *NoopTelemetry) RecordCounter(ctx context.Context, name string, value int64, attrs ...attribute.KeyValue) {
}

// StartSpan returns the original context and a no-op span.
func (n *NoopTelemetry) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return ctx, trace.SpanFromContext(ctx)
}

// Shutdown is a no-op.
func (n *NoopTelemetry) Shutdown(ctx context.Context) error {
	return nil
}

// New creates a Telemetry instance for the given configuration. Disabled
// configs get the no-op implementation; enabled configs are validated first.
// Exporter-backed providers hang off this constructor once the SDK wiring
// lands; until then a validated config also gets the no-op implementation.
func New(cfg Config) (Telemetry, error) {
	if !cfg.Enabled {
		return NewNoop(), nil
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return NewNoop(), nil
}

// RecordDuration records an operation duration in a histogram.
func RecordDuration(ctx context.Context, tel Telemetry, name string, start time.Time, attrs ...attribute.KeyValue) {
	duration := time.Since(start).Seconds()
	tel.RecordHistogram(ctx, name, duration, attrs...)
}

// RecordBytes records byte counts in a counter.
func RecordBytes(ctx context.Context, tel Telemetry, name string, bytes int64, attrs ...attribute.KeyValue) {
	tel.RecordCounter(ctx, name, bytes, attrs...)
}

// Common attribute keys for consistent naming across components
const (
	AttrOperationType = "operation.type"
	AttrOperationName = "operation.name"

	AttrComponent = "component"
	AttrTier      = "tier"

	AttrStatus    = "status"
	AttrSuccess   = "success"
	AttrErrorType = "error.type"

	AttrSlabNum  = "slab.num"
	AttrNumPages = "pages.count"
	AttrReason   = "reason"
)

// Common attribute values
const (
	// Operation types
	OpTypeCreate     = "create"
	OpTypeGet        = "get"
	OpTypeFetch      = "fetch"
	OpTypePut        = "put"
	OpTypeDelete     = "delete"
	OpTypeCheckpoint = "checkpoint"
	OpTypeEvict      = "evict"

	// Status values
	StatusSuccess = "success"
	StatusError   = "error"

	// Component names
	ComponentPool   = "pool"
	ComponentBuffer = "buffer"
	ComponentStore  = "store"
)
