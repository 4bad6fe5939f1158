// Package router wires the core subsystems -- normalize, planner,
// authz, execute -- plus the ambient config/transport layers into one
// GraphQL-over-HTTP(-and-WebSocket) request handler, the way the
// teacher's graphql/http.go and graphql/server.go wire Schema +
// ExecutorRunner into httpHandler/websocketHandler. The router owns no
// algorithm of its own: every decision it makes (authorize then plan,
// reject on planning failure, project before responding) restates an
// invariant already proven in the subsystem packages.
package router

import (
	"fmt"

	"github.com/latticeflow/fedrouter/authz"
	"github.com/latticeflow/fedrouter/execute"
	"github.com/latticeflow/fedrouter/logger"
	"github.com/latticeflow/fedrouter/normalize"
	"github.com/latticeflow/fedrouter/planner"
	"github.com/latticeflow/fedrouter/routerconfig"
	"github.com/latticeflow/fedrouter/supergraph"
	"github.com/latticeflow/fedrouter/transport"
)

// defaultCacheSize bounds the normalize/plan LRUs when the config
// leaves cache sizing unspecified. Matches the teacher's own preference
// for a conservative fixed default over a tunable nobody sets.
const defaultCacheSize = 2048

// Router answers GraphQL requests against a fixed supergraph by
// chaining normalize -> authorization rewrite -> plan -> execute ->
// project.
type Router struct {
	Config routerconfig.Config
	State  *supergraph.State
	Log    logger.Logger

	Normalize *normalize.Cache
	Planner   *planner.Cache
	Authz     *authz.Engine
	AuthzMeta *authz.Metadata
	AuthzMode authz.Mode

	Executor      *execute.Executor
	PersistedDocs transport.PersistedDocumentResolver
}

// New builds a Router over a composed supergraph, wiring every cache
// and engine a request needs at startup so ServeHTTP never pays
// construction cost per request.
func New(cfg routerconfig.Config, state *supergraph.State, client transport.SubgraphClient, persistedDocs transport.PersistedDocumentResolver, log logger.Logger) (*Router, error) {
	if log == nil {
		log = logger.New()
	}
	if err := state.Finalize(); err != nil {
		return nil, fmt.Errorf("router: finalizing supergraph state: %w", err)
	}

	meta, err := authz.BuildMetadata(state)
	if err != nil {
		return nil, fmt.Errorf("router: building authorization metadata: %w", err)
	}
	mode, err := cfg.Authentication.Directives.Unauthorized.AsAuthzMode()
	if err != nil {
		return nil, fmt.Errorf("router: %w", err)
	}

	return &Router{
		Config:        cfg,
		State:         state,
		Log:           log,
		Normalize:     normalize.NewCache(defaultCacheSize, state),
		Planner:       planner.NewCache(defaultCacheSize, planner.New(state)),
		Authz:         authz.NewEngine(meta),
		AuthzMeta:     meta,
		AuthzMode:     mode,
		Executor:      execute.New(client, state, log),
		PersistedDocs: persistedDocs,
	}, nil
}
