package coordinator

import "fmt"

// ValidationRejectedError indicates pre-commit validation found blocking
// errors somewhere in the batch; nothing was written.
type ValidationRejectedError struct {
	TransactionID string
	ErrorCount    int
}

func (e *ValidationRejectedError) Error() string {
	return fmt.Sprintf("transaction %s rejected by validation: %d blocking errors", e.TransactionID, e.ErrorCount)
}

// OperationError wraps the failure of a single operation's datastore call.
// It always triggers rollback of the batch.
type OperationError struct {
	Index       int
	OperationID string
	Err         error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("operation %d (%s) failed: %v", e.Index, e.OperationID, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// CompensationError indicates a rollback step itself failed. The transaction
// ends in Failed status and requires manual reconciliation; it is never
// retried automatically since retrying a partially-compensated state risks
// double side effects.
type CompensationError struct {
	OperationID string
	Err         error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("compensation for %s failed: %v", e.OperationID, e.Err)
}

func (e *CompensationError) Unwrap() error {
	return e.Err
}

// NonCompensableError indicates a successful operation has no constructible
// compensation (e.g. an insert into a table without a key field), so a
// rollback cannot fully undo the batch.
type NonCompensableError struct {
	OperationID string
	Reason      string
}

func (e *NonCompensableError) Error() string {
	return fmt.Sprintf("operation %s cannot be compensated: %s", e.OperationID, e.Reason)
}
