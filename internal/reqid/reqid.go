// Package reqid generates request and trace identifiers. Grounded on
// the teacher's use of github.com/google/uuid for federation's
// schema_syncer.go poll identifiers, reused here for per-request ids
// (execctx).
package reqid

import "github.com/google/uuid"

// New returns a fresh random identifier suitable for a request id,
// trace id, or subscription id.
func New() string {
	return uuid.New().String()
}
