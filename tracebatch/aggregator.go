package tracebatch

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/latticeflow/fedrouter/logger"
)

type messageKind int

const (
	msgExportSpan messageKind = iota
	msgFlush
	msgShutdown
)

// message is the Go equivalent of the Rust processor's BatchMessage
// enum: a span to buffer, or a flush/shutdown request with a reply
// channel the caller blocks on.
type message struct {
	kind  messageKind
	span  sdktrace.ReadOnlySpan
	reply chan error
}

// aggregator owns all buffering and export decisions on a single
// goroutine; nothing here is touched concurrently except through recv.
type aggregator struct {
	exporter sdktrace.SpanExporter
	cfg      Config
	drops    *dropMetrics
	log      logger.Logger

	activeTraces map[oteltrace.TraceID]*activeTrace
	exportQueue  []*activeTrace

	// exportGroup bounds concurrent in-flight exports to
	// cfg.MaxConcurrentExports; Go blocks the aggregator goroutine until
	// a slot frees, the same back-pressure the Rust version gets from
	// awaiting JoinSet::join_next before spawning past the limit.
	exportGroup *errgroup.Group
}

func newAggregator(exporter sdktrace.SpanExporter, cfg Config, log logger.Logger) *aggregator {
	g := &errgroup.Group{}
	g.SetLimit(cfg.MaxConcurrentExports)
	return &aggregator{
		exporter:     exporter,
		cfg:          cfg,
		drops:        &dropMetrics{},
		log:          log,
		activeTraces: map[oteltrace.TraceID]*activeTrace{},
		exportGroup:  g,
	}
}

func (a *aggregator) run(recv <-chan message) {
	sweepTicker := time.NewTicker(a.cfg.SweepInterval)
	defer sweepTicker.Stop()
	batchTicker := time.NewTicker(a.cfg.ScheduledDelay)
	defer batchTicker.Stop()

	for {
		select {
		case now := <-sweepTicker.C:
			a.sweep(now)
			if len(a.exportQueue) >= a.cfg.MaxExportBatchSize {
				a.flushExportQueue()
			}

		case <-batchTicker.C:
			if len(a.exportQueue) > 0 {
				a.flushExportQueue()
			}

		case msg, ok := <-recv:
			if !ok {
				return
			}
			now := time.Now()
			switch msg.kind {
			case msgExportSpan:
				a.handleSpan(msg.span, now)
				if len(a.exportQueue) >= a.cfg.MaxExportBatchSize {
					a.flushExportQueue()
				}

			case msgFlush:
				a.sweep(now)
				a.flushExportQueue()
				a.exportGroup.Wait()
				if msg.reply != nil {
					msg.reply <- nil
				}

			case msgShutdown:
				a.drainActiveTraces()
				a.flushExportQueue()
				a.exportGroup.Wait()
				err := a.shutdownExporter()
				if msg.reply != nil {
					msg.reply <- err
				}
				return
			}
		}
	}
}

// handleSpan adds span to its trace's buffer, creating a new buffer if
// none exists yet, subject to the in-memory trace-count limit.
func (a *aggregator) handleSpan(span sdktrace.ReadOnlySpan, now time.Time) {
	tid := span.SpanContext().TraceID()

	if t, ok := a.activeTraces[tid]; ok {
		if t.addSpan(span, now, a.cfg, a.drops, a.log) {
			delete(a.activeTraces, tid)
			a.enqueueForExport(t)
		}
		return
	}

	if len(a.activeTraces) >= a.cfg.MaxTracesInMemory {
		a.sweep(now)
		if len(a.activeTraces) >= a.cfg.MaxTracesInMemory {
			a.drops.addDropped(1)
			a.log.Warn("memory limit reached, dropping span",
				"trace_id", tid.String(),
				"max_traces_in_memory", a.cfg.MaxTracesInMemory)
			return
		}
	}

	capHint := a.cfg.MaxSpansPerTrace
	if capHint > 64 {
		capHint = 64
	}
	t := newActiveTrace(now, capHint)
	if t.addSpan(span, now, a.cfg, a.drops, a.log) {
		a.enqueueForExport(t)
		return
	}
	a.activeTraces[tid] = t
}

func (a *aggregator) enqueueForExport(t *activeTrace) {
	if t.isEmpty() {
		return
	}
	a.exportQueue = append(a.exportQueue, t)
}

// sweep scans every active trace for two disjoint outcomes: a
// completed trace ready for the export queue, or a trace that has
// outlived MaxTraceLifetime without ever completing, which is dropped
// rather than exported since a downstream trace-rewriting exporter
// would discard an incomplete trace anyway.
func (a *aggregator) sweep(now time.Time) {
	var toExport, toDrop []oteltrace.TraceID
	for tid, t := range a.activeTraces {
		if t.isComplete() {
			toExport = append(toExport, tid)
			continue
		}
		if t.lifetimeExceeded(now, a.cfg.MaxTraceLifetime) {
			toDrop = append(toDrop, tid)
		}
	}

	for _, tid := range toDrop {
		if t, ok := a.activeTraces[tid]; ok {
			delete(a.activeTraces, tid)
			a.drops.addDropped(int64(len(t.spans)))
			a.log.Debug("trace expired without root end", "trace_id", tid.String())
		}
	}
	for _, tid := range toExport {
		if t, ok := a.activeTraces[tid]; ok {
			delete(a.activeTraces, tid)
			a.enqueueForExport(t)
		}
	}
}

// drainActiveTraces is sweep's shutdown-time counterpart: every
// completed trace still buffered is exported regardless of lifetime,
// and every incomplete one is dropped, since there is no more time
// left for its root span to arrive.
func (a *aggregator) drainActiveTraces() {
	for tid, t := range a.activeTraces {
		if t.isEmpty() {
			continue
		}
		if t.isComplete() {
			a.exportQueue = append(a.exportQueue, t)
			continue
		}
		a.drops.addDropped(int64(len(t.spans)))
	}
	a.activeTraces = map[oteltrace.TraceID]*activeTrace{}
}

// flushExportQueue drains the export queue in MaxExportBatchSize
// chunks, spawning one bounded-concurrency export per chunk. Chunks are
// popped from the end to avoid an O(n) shift per pop.
func (a *aggregator) flushExportQueue() {
	for len(a.exportQueue) > 0 {
		batchLen := len(a.exportQueue)
		if batchLen > a.cfg.MaxExportBatchSize {
			batchLen = a.cfg.MaxExportBatchSize
		}
		startIdx := len(a.exportQueue) - batchLen

		var spans []sdktrace.ReadOnlySpan
		for _, t := range a.exportQueue[startIdx:] {
			spans = append(spans, t.spans...)
		}
		a.exportQueue = a.exportQueue[:startIdx]

		exporter := a.exporter
		timeout := a.cfg.MaxExportTimeout
		log := a.log
		a.exportGroup.Go(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if err := exporter.ExportSpans(ctx, spans); err != nil {
				log.Error("trace batch export failed", "error", err.Error())
			}
			return nil
		})
	}
}

func (a *aggregator) shutdownExporter() error {
	total, perTraceLimit := a.drops.snapshot()
	if total > 0 || perTraceLimit > 0 {
		a.log.Warn("shutdown complete, dropped spans statistics",
			"total_spans_dropped", total,
			"spans_dropped_trace_limit", perTraceLimit,
			"max_traces_in_memory", a.cfg.MaxTracesInMemory)
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.MaxExportTimeout)
	defer cancel()
	return a.exporter.Shutdown(ctx)
}
