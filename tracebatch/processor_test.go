package tracebatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/latticeflow/fedrouter/logger"
)

type fakeExporter struct {
	mu       sync.Mutex
	batches  [][]sdktrace.ReadOnlySpan
	shutdown bool
}

func (f *fakeExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]sdktrace.ReadOnlySpan, len(spans))
	copy(cp, spans)
	f.batches = append(f.batches, cp)
	return nil
}

func (f *fakeExporter) Shutdown(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdown = true
	return nil
}

func (f *fakeExporter) spanCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func (f *fakeExporter) wasShutdown() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shutdown
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SweepInterval = 5 * time.Millisecond
	cfg.ScheduledDelay = 10 * time.Millisecond
	cfg.MaxTraceLifetime = 50 * time.Millisecond
	cfg.QueueSize = 64
	return cfg
}

func TestProcessorExportsOnlyAfterRootSpanEnds(t *testing.T) {
	exp := &fakeExporter{}
	proc := NewProcessor(exp, testConfig(), logger.NewWriter(nopWriter{}))
	defer proc.Shutdown(context.Background())

	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(proc))
	tracer := tp.Tracer("tracebatch_test")

	ctx, root := tracer.Start(context.Background(), "root-op")
	_, child := tracer.Start(ctx, "child-op")
	child.End()

	assert.Equal(t, 0, exp.spanCount(), "child ending alone should not trigger export")

	root.End()

	require.Eventually(t, func() bool {
		return exp.spanCount() == 2
	}, time.Second, 5*time.Millisecond, "both spans of the completed trace should be exported once the root ends")
}

func TestProcessorDropsTraceThatNeverCompletes(t *testing.T) {
	exp := &fakeExporter{}
	proc := NewProcessor(exp, testConfig(), logger.NewWriter(nopWriter{}))
	defer proc.Shutdown(context.Background())

	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(proc))
	tracer := tp.Tracer("tracebatch_test")

	ctx, _ := tracer.Start(context.Background(), "root-never-ends")
	_, orphan := tracer.Start(ctx, "never-completes-root-elsewhere")
	orphan.End()

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 0, exp.spanCount(), "a trace exceeding max lifetime without a root end should be dropped, not exported")
}

func TestProcessorForceFlushWaitsForCompletedTrace(t *testing.T) {
	exp := &fakeExporter{}
	cfg := testConfig()
	cfg.ScheduledDelay = time.Hour // disable the periodic ticker so only ForceFlush drains the queue
	proc := NewProcessor(exp, cfg, logger.NewWriter(nopWriter{}))
	defer proc.Shutdown(context.Background())

	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(proc))
	tracer := tp.Tracer("tracebatch_test")

	_, root := tracer.Start(context.Background(), "root-op")
	root.End()

	require.NoError(t, proc.ForceFlush(context.Background()))
	assert.Equal(t, 1, exp.spanCount())
}

func TestProcessorShutdownDrainsAndStopsExporter(t *testing.T) {
	exp := &fakeExporter{}
	cfg := testConfig()
	cfg.ScheduledDelay = time.Hour
	proc := NewProcessor(exp, cfg, logger.NewWriter(nopWriter{}))

	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(proc))
	tracer := tp.Tracer("tracebatch_test")

	_, root := tracer.Start(context.Background(), "root-op")
	root.End()

	require.NoError(t, proc.Shutdown(context.Background()))
	assert.Equal(t, 1, exp.spanCount())
	assert.True(t, exp.wasShutdown())
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }
