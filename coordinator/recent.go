package coordinator

import (
	"sync"

	"github.com/tallyops/tally/operation"
)

// RecentResults is a fixed-size ring of the most recent transaction results,
// kept in memory for the admin surface. It is deliberately not durable: the
// subsystem keeps no transaction log, and callers own persistence of results
// they care about.
type RecentResults struct {
	mu   sync.Mutex
	buf  []*operation.TransactionResult
	next int
	size int
}

// NewRecentResults creates a ring holding up to n results.
func NewRecentResults(n int) *RecentResults {
	if n < 1 {
		n = 1
	}
	return &RecentResults{buf: make([]*operation.TransactionResult, n)}
}

// Add records a finished transaction, evicting the oldest when full.
func (r *RecentResults) Add(result *operation.TransactionResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = result
	r.next = (r.next + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	}
}

// List returns the stored results, newest first.
func (r *RecentResults) List() []*operation.TransactionResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*operation.TransactionResult, 0, r.size)
	for i := 1; i <= r.size; i++ {
		idx := (r.next - i + len(r.buf)) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	return out
}

// Get returns the result with the given transaction ID, if still retained.
func (r *RecentResults) Get(txnID string) (*operation.TransactionResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, res := range r.buf {
		if res != nil && res.TransactionID == txnID {
			return res, true
		}
	}
	return nil, false
}
