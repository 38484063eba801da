// Package datastore defines the single-table datastore collaborator the
// write-transaction subsystem runs against, and its concrete backends:
// a REST client, a SQLite store with native transactions, and an in-memory
// store used by tests and ephemeral runs.
package datastore

import (
	"context"
	"errors"
	"fmt"

	"github.com/tallyops/tally/operation"
)

// Store is the single-table mutation surface. Every call returns the
// affected rows (assigned keys included) or an error. Implementations must
// be safe for concurrent use.
type Store interface {
	Insert(ctx context.Context, table string, payload operation.Row) ([]operation.Row, error)
	Update(ctx context.Context, table string, payload operation.Row, filter operation.Filter) ([]operation.Row, error)
	Delete(ctx context.Context, table string, filter operation.Filter) ([]operation.Row, error)
	Select(ctx context.Context, table string, filter operation.Filter, limit int) ([]operation.Row, error)
}

// TxStore is implemented by backends that expose server-side transaction
// primitives. The coordinator probes for this interface and falls back to
// compensation-based rollback when it is absent or unsupported.
type TxStore interface {
	Store
	BeginTransaction(ctx context.Context, id string) error
	Commit(ctx context.Context, id string) error
	Rollback(ctx context.Context, id string) error
}

// ErrTxnUnsupported is returned by BeginTransaction when the backend is
// reachable but offers no transaction primitives. The coordinator treats it
// as a signal to run in fallback (compensation) mode.
var ErrTxnUnsupported = errors.New("datastore does not support server-side transactions")

// UnknownTableError reports an operation against a table the datastore does
// not have. Validation surfaces it as a blocking error.
type UnknownTableError struct {
	Table string
}

func (e *UnknownTableError) Error() string {
	return fmt.Sprintf("unknown table %q", e.Table)
}

// IsUnknownTable reports whether err (or anything it wraps) is an
// UnknownTableError.
func IsUnknownTable(err error) bool {
	var ute *UnknownTableError
	return errors.As(err, &ute)
}
