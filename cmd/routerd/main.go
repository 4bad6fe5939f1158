// Command routerd runs the federated GraphQL router as a standalone
// process: load config, load a composed supergraph, wire transport and
// tracing, and serve GraphQL-over-HTTP and graphql-transport-ws until a
// signal asks it to stop.
//
// Grounded on n9te9-go-graphql-federation-gateway's server/gateway.go
// Run() (signal.NotifyContext, a background ListenAndServe goroutine,
// srv.Shutdown on a bounded timeout) and InitTracer's exporter/provider
// wiring, generalized from that gateway's flat settings file into
// routerconfig.Config and from its plain http.Server into one also
// serving ServeWS.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/latticeflow/fedrouter/logger"
	"github.com/latticeflow/fedrouter/router"
	"github.com/latticeflow/fedrouter/routerconfig"
	"github.com/latticeflow/fedrouter/tracebatch"
	"github.com/latticeflow/fedrouter/transport"
)

// shutdownTimeout bounds how long Shutdown waits for in-flight requests
// and the tracer's final flush before the process exits anyway.
const shutdownTimeout = 15 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath, schemaPath string

	cmd := &cobra.Command{
		Use:   "routerd",
		Short: "Serve a federated GraphQL supergraph",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath, schemaPath)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "routerd.yaml", "path to the router config file")
	cmd.Flags().StringVar(&schemaPath, "schema", "supergraph.yaml", "path to the composed supergraph schema file")

	return cmd
}

func run(ctx context.Context, configPath, schemaPath string) error {
	log := logger.New()

	cfg, err := routerconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("routerd: %w", err)
	}

	state, err := loadSchema(schemaPath)
	if err != nil {
		return fmt.Errorf("routerd: %w", err)
	}

	endpoints := make(map[string]string, len(cfg.Subgraphs))
	wsEndpoints := make(map[string]string, len(cfg.Subgraphs))
	for name, sg := range cfg.Subgraphs {
		endpoints[name] = sg.URL
		if sg.WSURL != "" {
			wsEndpoints[name] = sg.WSURL
		}
	}
	client := transport.NewHTTPClient(endpoints)
	if len(wsEndpoints) > 0 {
		client.Subscriber = transport.NewWebSocketSubscriber()
	}

	var persistedDocs transport.PersistedDocumentResolver
	if cfg.PersistedDocs.CDNURL != "" {
		persistedDocs = transport.NewCDNPersistedDocumentResolver(cfg.PersistedDocs.CDNURL, 2048)
	}

	signalCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, shutdownTracing, err := initTracing(signalCtx, *cfg, log)
	if err != nil {
		return fmt.Errorf("routerd: %w", err)
	}
	otel.SetTracerProvider(tp)

	rt, err := router.New(*cfg, state, client, persistedDocs, log)
	if err != nil {
		return fmt.Errorf("routerd: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/graphql", rt.ServeHTTP)
	mux.HandleFunc("/graphql/ws", rt.ServeWS)

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("routerd listening", "addr", cfg.ListenAddr, "service", cfg.ServiceName)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-signalCtx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("routerd: server failed: %w", err)
		}
	}

	log.Info("routerd shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("routerd: graceful shutdown failed", "error", err.Error())
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error("routerd: tracer shutdown failed", "error", err.Error())
	}

	log.Info("routerd stopped")
	return nil
}

// initTracing builds the default exporter wiring the Trace-Batch Span
// Processor is meant to sit in front of: spans flow
// Processor.OnEnd -> aggregator -> otlptracegrpc.Exporter, matching
// spec.md §9's sketch of the processor as middleware between span
// completion and a real backend rather than a backend itself.
func initTracing(ctx context.Context, cfg routerconfig.Config, log logger.Logger) (*sdktrace.TracerProvider, func(context.Context) error, error) {
	exporter, err := otlptracegrpc.New(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("building otlp exporter: %w", err)
	}

	proc := tracebatch.NewProcessor(exporter, cfg.TraceBatcher.AsTraceBatchConfig(), log.With("component", "tracebatch"))
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(proc))

	return tp, tp.Shutdown, nil
}
