// Package operation defines the write-operation model shared by the
// validation engine and the transaction coordinator: a single proposed
// table mutation, the per-operation validation report, and the final
// transaction result returned to callers.
package operation

import (
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Kind identifies the mutation type of a WriteOperation.
type Kind string

const (
	Insert Kind = "insert"
	Update Kind = "update"
	Delete Kind = "delete"
)

// Valid reports whether k is one of the three supported mutation kinds.
func (k Kind) Valid() bool {
	return k == Insert || k == Update || k == Delete
}

// Row is an ordered-enough mapping of field name to value as exchanged
// with the datastore. Values are the JSON scalar types plus time-formatted
// strings for dates.
type Row map[string]interface{}

// Clone returns a shallow copy of the row. Scalar values are shared, which
// is safe because rows are treated as immutable once handed to the coordinator.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Filter is an exact-match predicate on field values. Update and Delete
// operations without a filter are always rejected before execution.
type Filter map[string]interface{}

// WriteOperation is one proposed single-table mutation. It is created by a
// caller when assembling a transaction, read-only inside the coordinator,
// and never mutated after creation.
type WriteOperation struct {
	Table   string
	Kind    Kind
	Payload Row
	Filter  Filter

	// OperationID is a unique token derived from kind, table and creation
	// time. Used for logging and correlation only.
	OperationID string
}

var opSeq atomic.Uint64

// opID derives a compact unique token from kind, table and creation time.
// A process-local sequence breaks ties between operations created in the
// same nanosecond.
func opID(kind Kind, table string) string {
	h := xxhash.New()
	_, _ = h.WriteString(string(kind))
	_, _ = h.WriteString("|")
	_, _ = h.WriteString(table)
	_, _ = h.WriteString("|")
	_, _ = h.WriteString(strconv.FormatInt(time.Now().UnixNano(), 36))
	_, _ = h.WriteString("|")
	_, _ = h.WriteString(strconv.FormatUint(opSeq.Add(1), 36))
	return fmt.Sprintf("%s-%s-%012x", kind, table, h.Sum64()&0xffffffffffff)
}

// NewInsert builds an Insert operation for the given table and payload.
func NewInsert(table string, payload Row) WriteOperation {
	return WriteOperation{
		Table:       table,
		Kind:        Insert,
		Payload:     payload,
		OperationID: opID(Insert, table),
	}
}

// NewUpdate builds an Update operation. The filter selects the rows to
// mutate; validation rejects an empty filter.
func NewUpdate(table string, payload Row, filter Filter) WriteOperation {
	return WriteOperation{
		Table:       table,
		Kind:        Update,
		Payload:     payload,
		Filter:      filter,
		OperationID: opID(Update, table),
	}
}

// NewDelete builds a Delete operation for rows matching the filter.
func NewDelete(table string, filter Filter) WriteOperation {
	return WriteOperation{
		Table:       table,
		Kind:        Delete,
		Filter:      filter,
		OperationID: opID(Delete, table),
	}
}

// TxnID derives a transaction identifier from the caller-supplied name and
// creation time. IDs are unique within a process and stable for logging.
func TxnID(name string) string {
	h := xxhash.New()
	_, _ = h.WriteString(name)
	_, _ = h.WriteString("|")
	_, _ = h.WriteString(strconv.FormatInt(time.Now().UnixNano(), 36))
	_, _ = h.WriteString("|")
	_, _ = h.WriteString(strconv.FormatUint(opSeq.Add(1), 36))
	return fmt.Sprintf("txn-%016x", h.Sum64())
}
