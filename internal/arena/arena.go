// Package arena provides the per-request byte arena named in
// SPEC_FULL.md §3: an append-only store that each subgraph response body
// is copied into once (one allocation per body) and kept for the
// request. respval.FromJSON decodes from that copy; the decoded
// respval.Values are ordinary Go values and do not reference the
// arena's bytes.
//
// Grounded on the teacher's emphasis on avoiding per-value heap churn
// in graphql/batch_executor.go's work-unit design, generalized here to
// an explicit arena since Go has no lifetime system to enforce the
// borrow implicitly.
package arena

import "sync"

// ByteStorage is a per-request arena of byte slices. It is safe for
// concurrent use since Parallel plan nodes copy subgraph response
// bodies in from multiple goroutines.
type ByteStorage struct {
	mu      sync.Mutex
	buffers [][]byte
}

// New builds an empty ByteStorage.
func New() *ByteStorage {
	return &ByteStorage{}
}

// Put copies b into the arena and returns the arena-owned slice backing
// it. The caller's b is never retained.
func (s *ByteStorage) Put(b []byte) []byte {
	owned := make([]byte, len(b))
	copy(owned, b)

	s.mu.Lock()
	s.buffers = append(s.buffers, owned)
	s.mu.Unlock()

	return owned
}

// Len reports how many buffers have been stored, for tests and
// diagnostics.
func (s *ByteStorage) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffers)
}
