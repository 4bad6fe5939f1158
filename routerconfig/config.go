// Package routerconfig loads the router's static configuration: a
// plain struct tree mirroring spec.md §6's "Config surface" table,
// unmarshaled from YAML. Grounded on
// n9te9-go-graphql-federation-gateway's server/gateway.go
// (loadGatewaySetting: os.Open + io.ReadAll + goccy/go-yaml.Unmarshal
// into a single settings struct) and gateway/gateway.go's GatewayOption
// (nested, `yaml:"..."`-tagged structs), generalized from that
// gateway's flat option bag into the nested sections spec.md names.
package routerconfig

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

// Config is the router's full configuration surface. Every field has a
// Default() counterpart so a caller can start from sane values and
// override only what a deployment needs, the way GatewayOption's
// `default:"..."` struct tags in the teacher's pack name intended
// defaults even though that pack's yaml library does not apply them
// automatically -- Load here always starts from Default() and lets
// Unmarshal overwrite only the keys present in the document.
type Config struct {
	ServiceName string `yaml:"service_name"`
	ListenAddr  string `yaml:"listen_addr"`

	Authentication AuthenticationConfig `yaml:"authentication"`
	JWT            JWTConfig            `yaml:"jwt"`
	QueryPlanner   QueryPlannerConfig   `yaml:"query_planner"`
	Introspection  IntrospectionConfig  `yaml:"introspection_policy"`
	TraceBatcher   TraceBatcherConfig   `yaml:"trace_batcher"`
	Subscriptions  SubscriptionsConfig  `yaml:"subscriptions"`
	PersistedDocs  PersistedDocsConfig  `yaml:"persisted_documents"`
	Subgraphs      map[string]SubgraphConfig `yaml:"subgraphs"`
}

// Default returns a Config usable as-is for local development: every
// subsystem enabled in its least surprising mode, authorization in
// reject mode, introspection disabled.
func Default() Config {
	return Config{
		ServiceName:    "fedrouter",
		ListenAddr:     ":4000",
		Authentication: AuthenticationConfig{Directives: AuthenticationDirectivesConfig{Enabled: true, Unauthorized: UnauthorizedConfig{Mode: "reject"}}},
		JWT:            JWTConfig{Enabled: false},
		QueryPlanner:   QueryPlannerConfig{Timeout: 10 * time.Second, AllowExpose: false},
		Introspection:  IntrospectionConfig{Mode: IntrospectionDisabled},
		TraceBatcher:   DefaultTraceBatcherConfig(),
		Subscriptions:  SubscriptionsConfig{ForwardClientHeaders: false},
		PersistedDocs:  PersistedDocsConfig{Required: false},
		Subgraphs:      map[string]SubgraphConfig{},
	}
}

// AuthenticationConfig is spec.md §6's `authentication.*` subtree,
// gating the §4.3 authorization rewrite.
type AuthenticationConfig struct {
	Directives AuthenticationDirectivesConfig `yaml:"directives"`
}

type AuthenticationDirectivesConfig struct {
	Enabled      bool               `yaml:"enabled"`
	Unauthorized UnauthorizedConfig `yaml:"unauthorized"`
}

// UnauthorizedConfig selects authz.ModeSkip or authz.ModeReject for
// paths an authenticated caller is not entitled to see.
type UnauthorizedConfig struct {
	Mode string `yaml:"mode"`
}

// JWTConfig is spec.md §6's `jwt.enabled` switch. Validation itself is
// an external collaborator (spec.md §1's explicit non-goal); this flag
// only decides whether the router looks for a bearer token at all.
type JWTConfig struct {
	Enabled bool `yaml:"enabled"`
}

// QueryPlannerConfig is spec.md §6's `query_planner.*` subtree.
type QueryPlannerConfig struct {
	// Timeout bounds one request's whole plan execution; a
	// CancellationToken derived from it threads through every fetch
	// (spec.md §7 Cancellation).
	Timeout time.Duration `yaml:"timeout"`

	// AllowExpose is loaded from `allow_expose` and is off by default.
	// The router does not read it: no request returns a query plan
	// instead of executing it.
	AllowExpose bool `yaml:"allow_expose"`
}

// IntrospectionMode selects how `__schema`/`__type` queries (spec.md
// §8 invariant 8) are treated at the router boundary, independent of
// whether the executor knows how to resolve them locally.
type IntrospectionMode string

const (
	IntrospectionEnabled  IntrospectionMode = "enabled"
	IntrospectionDisabled IntrospectionMode = "disabled"
)

type IntrospectionConfig struct {
	Mode IntrospectionMode `yaml:"mode"`
}

// TraceBatcherConfig mirrors tracebatch.Config's fields under the YAML
// key names spec.md §6 lists for the trace batcher, converting cleanly
// via AsTraceBatchConfig.
type TraceBatcherConfig struct {
	MaxQueueSize         int           `yaml:"max_queue_size"`
	MaxTracesInMemory    int           `yaml:"max_traces_in_memory"`
	MaxSpansPerTrace     int           `yaml:"max_spans_per_trace"`
	MaxExportBatchSize   int           `yaml:"max_export_batch_size"`
	MaxExportTimeout     time.Duration `yaml:"max_export_timeout"`
	ScheduledDelay       time.Duration `yaml:"scheduled_delay"`
	MaxConcurrentExports int           `yaml:"max_concurrent_exports"`
	MaxTraceLifetime     time.Duration `yaml:"max_trace_lifetime"`
	SweepInterval        time.Duration `yaml:"sweep_interval"`
}

func DefaultTraceBatcherConfig() TraceBatcherConfig {
	return TraceBatcherConfig{
		MaxQueueSize:         2048,
		MaxTracesInMemory:    10_000,
		MaxSpansPerTrace:     512,
		MaxExportBatchSize:   512,
		MaxExportTimeout:     30 * time.Second,
		ScheduledDelay:       5 * time.Second,
		MaxConcurrentExports: 4,
		MaxTraceLifetime:     60 * time.Second,
		SweepInterval:        200 * time.Millisecond,
	}
}

// SubscriptionsConfig holds the `forward_client_headers` switch, default
// off. Nothing in the router or executor reads it: the entity-resolution
// fetches a subscription event triggers carry no client headers either
// way.
type SubscriptionsConfig struct {
	ForwardClientHeaders bool `yaml:"forward_client_headers"`
}

// PersistedDocsConfig gates whether a request lacking a `query` must
// supply a resolvable `documentId` (spec.md §7's
// PERSISTED_DOCUMENT_REQUIRED).
type PersistedDocsConfig struct {
	Required bool   `yaml:"required"`
	CDNURL   string `yaml:"cdn_url"`
}

// SubgraphConfig is one entry of the `subgraphs` map: the HTTP
// endpoint transport.HTTPClient dispatches Execute against, and the
// optional graphql-transport-ws endpoint transport.WebSocketSubscriber
// dials for Subscribe.
type SubgraphConfig struct {
	URL   string `yaml:"url"`
	WSURL string `yaml:"ws_url"`
}

// Load reads path and unmarshals it onto a Default() Config, so a
// document need only set the keys it wants to override. Grounded on
// loadGatewaySetting's os.Open + io.ReadAll + yaml.Unmarshal shape.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("routerconfig: opening %q: %w", path, err)
	}
	defer f.Close()
	return Read(f)
}

// Read unmarshals r onto a Default() Config.
func Read(r io.Reader) (*Config, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("routerconfig: reading config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("routerconfig: unmarshaling config: %w", err)
	}
	return &cfg, nil
}
