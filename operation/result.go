package operation

// Status is the lifecycle state of a transaction run.
type Status string

const (
	StatusPending     Status = "PENDING"
	StatusExecuting   Status = "EXECUTING"
	StatusCommitted   Status = "COMMITTED"
	StatusRollingBack Status = "ROLLING_BACK"
	StatusRolledBack  Status = "ROLLED_BACK"
	StatusFailed      Status = "FAILED"
)

// OperationResult records the outcome of one executed operation, including
// the affected-row payloads the datastore returned (assigned keys included).
type OperationResult struct {
	OperationID string `json:"operation_id"`
	Table       string `json:"table"`
	Kind        Kind   `json:"kind"`
	Rows        []Row  `json:"rows,omitempty"`
}

// TransactionResult is the outcome of one coordinator run. It is created at
// the start of coordination, mutated only by the coordinator, and returned
// immutable to the caller. It is not persisted by this subsystem.
//
// Invariants:
//   - StatusCommitted implies Errors is empty and Succeeded == Attempted.
//   - StatusRolledBack implies at least one operation succeeded before the
//     failure and every success was compensated.
//   - StatusFailed after execution began implies a compensation itself
//     failed and manual reconciliation is required.
type TransactionResult struct {
	TransactionID string            `json:"transaction_id"`
	Name          string            `json:"name"`
	Status        Status            `json:"status"`
	Attempted     int               `json:"attempted"`
	Succeeded     int               `json:"succeeded"`
	Results       []OperationResult `json:"results,omitempty"`
	Errors        []string          `json:"errors,omitempty"`

	RollbackPerformed bool     `json:"rollback_performed"`
	RollbackErrors    []string `json:"rollback_errors,omitempty"`

	ExecutionTimeMs int64 `json:"execution_time_ms"`
}

// Tables returns the distinct tables touched by successful operations, in
// first-touched order. Used for post-commit cache invalidation.
func (r *TransactionResult) Tables() []string {
	seen := make(map[string]struct{}, len(r.Results))
	out := make([]string, 0, len(r.Results))
	for _, res := range r.Results {
		if _, ok := seen[res.Table]; ok {
			continue
		}
		seen[res.Table] = struct{}{}
		out = append(out, res.Table)
	}
	return out
}
