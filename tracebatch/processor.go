package tracebatch

import (
	"context"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/latticeflow/fedrouter/logger"
)

// Processor is a sdktrace.SpanProcessor whose OnEnd only ever does a
// non-blocking channel send (OnStart does nothing); all buffering, grouping,
// and export work happens on a single background goroutine started by
// NewProcessor.
type Processor struct {
	sendCh chan message
	drops  *dropMetrics
	log    logger.Logger
}

var _ sdktrace.SpanProcessor = (*Processor)(nil)

// NewProcessor starts the background aggregator goroutine and returns a
// Processor ready to register with a sdktrace.TracerProvider via
// sdktrace.WithSpanProcessor.
func NewProcessor(exporter sdktrace.SpanExporter, cfg Config, log logger.Logger) *Processor {
	if log == nil {
		log = logger.New()
	}
	agg := newAggregator(exporter, cfg, log)
	ch := make(chan message, cfg.QueueSize)
	go agg.run(ch)
	return &Processor{sendCh: ch, drops: agg.drops, log: log}
}

// OnStart is a no-op: the processor only cares about spans once they
// end, the point at which it knows whether they were the trace's root.
func (p *Processor) OnStart(ctx context.Context, s sdktrace.ReadWriteSpan) {}

// OnEnd forwards sampled spans to the aggregator goroutine. The send
// never blocks: a full queue means the aggregator is behind, and
// blocking the caller (a live request's goroutine) would turn a
// telemetry backlog into request latency. Dropped spans are logged once
// when dropping begins and then every 100 spans, matching the Rust
// processor's log-rate discipline.
func (p *Processor) OnEnd(s sdktrace.ReadOnlySpan) {
	if !s.SpanContext().IsSampled() {
		return
	}
	select {
	case p.sendCh <- message{kind: msgExportSpan, span: s}:
	default:
		count := p.drops.addDropped(1)
		if count == 1 {
			p.log.Warn("beginning to drop span messages, export queue full")
		} else if count%100 == 0 {
			p.log.Warn("still dropping span messages, export queue full")
		}
	}
}

// ForceFlush sweeps and exports every buffered trace, then waits for
// in-flight exports to complete.
func (p *Processor) ForceFlush(ctx context.Context) error {
	return p.sendAndWait(ctx, msgFlush)
}

// Shutdown drains all buffered traces (exporting completed ones,
// dropping incomplete ones), waits for in-flight exports, shuts the
// underlying exporter down, and stops the aggregator goroutine.
func (p *Processor) Shutdown(ctx context.Context) error {
	return p.sendAndWait(ctx, msgShutdown)
}

func (p *Processor) sendAndWait(ctx context.Context, kind messageKind) error {
	reply := make(chan error, 1)
	select {
	case p.sendCh <- message{kind: kind, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
