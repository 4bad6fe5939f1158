package routerconfig

import (
	"fmt"

	"github.com/latticeflow/fedrouter/authz"
	"github.com/latticeflow/fedrouter/tracebatch"
)

// AsTraceBatchConfig converts the YAML-shaped TraceBatcherConfig into
// tracebatch.Config, the type tracebatch.NewProcessor actually takes.
func (c TraceBatcherConfig) AsTraceBatchConfig() tracebatch.Config {
	return tracebatch.Config{
		MaxTraceLifetime:     c.MaxTraceLifetime,
		SweepInterval:        c.SweepInterval,
		MaxTracesInMemory:    c.MaxTracesInMemory,
		MaxSpansPerTrace:     c.MaxSpansPerTrace,
		MaxExportTimeout:     c.MaxExportTimeout,
		MaxExportBatchSize:   c.MaxExportBatchSize,
		ScheduledDelay:       c.ScheduledDelay,
		MaxConcurrentExports: c.MaxConcurrentExports,
		QueueSize:            c.MaxQueueSize,
	}
}

// AsAuthzMode parses the `authentication.directives.unauthorized.mode`
// string into authz.Mode, defaulting to authz.ModeReject (the safer
// failure mode) when the document leaves it empty. Any other value than
// "skip" or "reject" is an error.
func (c UnauthorizedConfig) AsAuthzMode() (authz.Mode, error) {
	switch authz.Mode(c.Mode) {
	case authz.ModeSkip:
		return authz.ModeSkip, nil
	case authz.ModeReject, "":
		return authz.ModeReject, nil
	default:
		return "", fmt.Errorf("routerconfig: unknown authorization mode %q (want %q or %q)", c.Mode, authz.ModeSkip, authz.ModeReject)
	}
}
