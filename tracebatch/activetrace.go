package tracebatch

import (
	"sync/atomic"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/latticeflow/fedrouter/logger"
)

// dropMetrics tracks spans dropped across the aggregator goroutine and
// the caller goroutines calling OnEnd concurrently.
type dropMetrics struct {
	droppedSpans           int64
	droppedSpansTraceLimit int64
}

func (d *dropMetrics) addDropped(n int64) int64 {
	return atomic.AddInt64(&d.droppedSpans, n)
}

func (d *dropMetrics) addDroppedPerTraceLimit(n int64) int64 {
	return atomic.AddInt64(&d.droppedSpansTraceLimit, n)
}

func (d *dropMetrics) snapshot() (total, perTraceLimit int64) {
	return atomic.LoadInt64(&d.droppedSpans), atomic.LoadInt64(&d.droppedSpansTraceLimit)
}

// activeTrace buffers one trace's spans until its root span ends.
type activeTrace struct {
	spans       []sdktrace.ReadOnlySpan
	rootEnded   bool
	rootEndTime time.Time
	firstSeen   time.Time
}

func newActiveTrace(now time.Time, capacityHint int) *activeTrace {
	return &activeTrace{spans: make([]sdktrace.ReadOnlySpan, 0, capacityHint), firstSeen: now}
}

func (t *activeTrace) isComplete() bool { return t.rootEnded }

func (t *activeTrace) lifetimeExceeded(now time.Time, maxLifetime time.Duration) bool {
	return now.Sub(t.firstSeen) > maxLifetime
}

func (t *activeTrace) isEmpty() bool { return len(t.spans) == 0 }

// addSpan appends span to the trace and reports whether this call is
// the one that ended the trace's root span (parent-less or
// remote-parented, per OpenTelemetry's usual "is this a root" test).
// When the per-trace span cap is already hit, the span is dropped and
// logged instead of appended.
func (t *activeTrace) addSpan(span sdktrace.ReadOnlySpan, now time.Time, cfg Config, drops *dropMetrics, log logger.Logger) bool {
	parent := span.Parent()
	isRoot := !parent.IsValid() || parent.IsRemote()
	rootEndedNow := isRoot && !t.rootEnded
	if rootEndedNow {
		t.rootEnded = true
		t.rootEndTime = now
	}

	if len(t.spans) < cfg.MaxSpansPerTrace {
		t.spans = append(t.spans, span)
		return rootEndedNow
	}

	drops.addDroppedPerTraceLimit(1)
	log.Warn("span discarded due to maximum spans per trace limit",
		"trace_id", span.SpanContext().TraceID().String(),
		"max_spans_per_trace", cfg.MaxSpansPerTrace)
	return rootEndedNow
}
