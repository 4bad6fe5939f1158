package routerconfig_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticeflow/fedrouter/authz"
	"github.com/latticeflow/fedrouter/routerconfig"
)

func TestReadOverlaysOntoDefaults(t *testing.T) {
	doc := `
service_name: my-router
authentication:
  directives:
    enabled: true
    unauthorized:
      mode: skip
query_planner:
  timeout: 2s
subgraphs:
  products:
    url: http://products.internal/graphql
    ws_url: ws://products.internal/graphql
`
	cfg, err := routerconfig.Read(strings.NewReader(doc))
	require.NoError(t, err)

	assert.Equal(t, "my-router", cfg.ServiceName)
	assert.True(t, cfg.Authentication.Directives.Enabled)
	assert.Equal(t, "skip", cfg.Authentication.Directives.Unauthorized.Mode)
	assert.Equal(t, 2*time.Second, cfg.QueryPlanner.Timeout)
	assert.Equal(t, "http://products.internal/graphql", cfg.Subgraphs["products"].URL)

	// Fields the document never mentions keep Default()'s values.
	assert.Equal(t, ":4000", cfg.ListenAddr)
	assert.Equal(t, 10_000, cfg.TraceBatcher.MaxTracesInMemory)
}

func TestUnauthorizedConfigAsAuthzMode(t *testing.T) {
	skip := routerconfig.UnauthorizedConfig{Mode: "skip"}
	mode, err := skip.AsAuthzMode()
	require.NoError(t, err)
	assert.Equal(t, authz.ModeSkip, mode)

	empty := routerconfig.UnauthorizedConfig{}
	mode, err = empty.AsAuthzMode()
	require.NoError(t, err)
	assert.Equal(t, authz.ModeReject, mode)

	bad := routerconfig.UnauthorizedConfig{Mode: "bogus"}
	_, err = bad.AsAuthzMode()
	assert.Error(t, err)
}

func TestTraceBatcherConfigAsTraceBatchConfig(t *testing.T) {
	tbc := routerconfig.DefaultTraceBatcherConfig()
	converted := tbc.AsTraceBatchConfig()

	assert.Equal(t, tbc.MaxTraceLifetime, converted.MaxTraceLifetime)
	assert.Equal(t, tbc.MaxQueueSize, converted.QueueSize)
	assert.Equal(t, tbc.MaxConcurrentExports, converted.MaxConcurrentExports)
}

func TestLoadReturnsErrorForMissingFile(t *testing.T) {
	_, err := routerconfig.Load("/nonexistent/path/to/router.yaml")
	assert.Error(t, err)
}
