// Package tracebatch implements the Trace-Batch Span Processor: a
// go.opentelemetry.io/otel/sdk/trace.SpanProcessor that groups spans by
// trace instead of exporting as soon as a fixed-size buffer fills, the
// way a standard batch processor does. A trace is export-ready once its
// root span ends, since a downstream exporter that rewrites
// relationships across an entire trace (promoting the operation span to
// root, folding HTTP/subgraph timing attributes onto it) needs every
// span of that trace available at once -- exporting early would
// fragment the trace and leave the rewrite with partial data.
//
// Grounded field-for-field on
// lib/internal/src/telemetry/traces/trace_batch_span_processor.rs's
// TraceBatchSpanProcessor/TraceAggregator split: the processor's OnEnd
// only ever does a non-blocking channel send, and a single background
// goroutine owns all buffering, sweeping, and export decisions, so span
// emission on the request path never blocks on exporter I/O. The
// Rust version pins its aggregator to a dedicated OS thread with its
// own single-threaded Tokio runtime so a blocking Shutdown/ForceFlush
// caller can't deadlock the host runtime; the Go equivalent is a plain
// goroutine fed by a buffered channel, since a goroutine never occupies
// an OS thread the way a blocked green thread scheduled onto a
// single-threaded runtime would.
package tracebatch

import "time"

// Config tunes an aggregator's buffering and export behavior. Field
// names and defaults mirror the Rust Config/TraceBatchProcessorConfig
// pair.
type Config struct {
	// MaxTraceLifetime bounds how long a trace is held in memory from its
	// first span, regardless of completion -- the hard timeout that
	// cleans up traces whose root span is missing or lost.
	MaxTraceLifetime time.Duration

	// SweepInterval is how often the background sweep looks for
	// completed or expired traces.
	SweepInterval time.Duration

	MaxTracesInMemory    int
	MaxSpansPerTrace     int
	MaxExportTimeout     time.Duration
	MaxExportBatchSize   int
	ScheduledDelay       time.Duration
	MaxConcurrentExports int

	// QueueSize bounds the channel OnEnd sends into; a full queue means
	// spans are dropped, not blocked on.
	QueueSize int
}

// DefaultConfig returns the same defaults the Rust processor's
// constructor hard-codes for max_trace_lifetime and sweep_interval,
// plus reasonable defaults for the remaining fields a caller would
// otherwise have to supply from hive_router_config.
func DefaultConfig() Config {
	return Config{
		MaxTraceLifetime:     60 * time.Second,
		SweepInterval:        200 * time.Millisecond,
		MaxTracesInMemory:    10_000,
		MaxSpansPerTrace:     512,
		MaxExportTimeout:     30 * time.Second,
		MaxExportBatchSize:   512,
		ScheduledDelay:       5 * time.Second,
		MaxConcurrentExports: 4,
		QueueSize:            2048,
	}
}
