package coordinator

import (
	"context"
	"fmt"

	"github.com/tallyops/tally/encoding"
	"github.com/tallyops/tally/operation"
)

// compensation records how to undo one successful operation in fallback
// mode. Inserts are undone with a keyed delete; updates and deletes restore
// the pre-image rows snapshotted before the mutation ran.
type compensation struct {
	originalID string
	kind       operation.Kind // kind of the ORIGINAL operation
	table      string
	keyField   string

	// deleteFilter undoes an insert.
	deleteFilter operation.Filter

	// preImage holds the msgpack-encoded rows matched by an update/delete
	// filter before the mutation ran.
	preImage []byte
	// restoreFilter is the original operation's filter, used to restore
	// pre-image rows when the table has no key field.
	restoreFilter operation.Filter
}

// insertCompensation synthesizes a keyed delete for a successful insert.
// The key value comes from the affected row the datastore returned (which
// carries any assigned fields), falling back to the submitted payload.
func insertCompensation(op operation.WriteOperation, keyField string, returned []operation.Row) (*compensation, error) {
	if keyField == "" {
		return nil, &NonCompensableError{
			OperationID: op.OperationID,
			Reason:      fmt.Sprintf("table %s has no key field", op.Table),
		}
	}

	var keyValue interface{}
	if len(returned) > 0 {
		keyValue = returned[0][keyField]
	}
	if keyValue == nil {
		keyValue = op.Payload[keyField]
	}
	if keyValue == nil {
		return nil, &NonCompensableError{
			OperationID: op.OperationID,
			Reason:      fmt.Sprintf("no %s value available for keyed delete", keyField),
		}
	}

	return &compensation{
		originalID:   op.OperationID,
		kind:         operation.Insert,
		table:        op.Table,
		keyField:     keyField,
		deleteFilter: operation.Filter{keyField: keyValue},
	}, nil
}

// mutationCompensation snapshots the rows an update/delete is about to touch
// and records them for restore. Without the snapshot the batch would not be
// fully compensable, so a snapshot failure fails the operation itself.
func (wc *WriteCoordinator) mutationCompensation(ctx context.Context, op operation.WriteOperation, keyField string) (*compensation, error) {
	rows, err := wc.store.Select(ctx, op.Table, op.Filter, 0)
	if err != nil {
		return nil, fmt.Errorf("pre-image snapshot failed: %w", err)
	}

	encoded, err := encoding.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to encode pre-image: %w", err)
	}

	return &compensation{
		originalID:    op.OperationID,
		kind:          op.Kind,
		table:         op.Table,
		keyField:      keyField,
		preImage:      encoded,
		restoreFilter: op.Filter,
	}, nil
}

// apply executes the compensating action against the datastore.
func (wc *WriteCoordinator) applyCompensation(ctx context.Context, c *compensation) error {
	switch c.kind {
	case operation.Insert:
		_, err := wc.store.Delete(ctx, c.table, c.deleteFilter)
		return err

	case operation.Update:
		var rows []operation.Row
		if err := encoding.Unmarshal(c.preImage, &rows); err != nil {
			return fmt.Errorf("failed to decode pre-image: %w", err)
		}
		for _, row := range rows {
			filter := c.restoreFilter
			if c.keyField != "" {
				if kv, ok := row[c.keyField]; ok && kv != nil {
					filter = operation.Filter{c.keyField: kv}
				}
			}
			if _, err := wc.store.Update(ctx, c.table, row, filter); err != nil {
				return err
			}
		}
		return nil

	case operation.Delete:
		var rows []operation.Row
		if err := encoding.Unmarshal(c.preImage, &rows); err != nil {
			return fmt.Errorf("failed to decode pre-image: %w", err)
		}
		for _, row := range rows {
			if _, err := wc.store.Insert(ctx, c.table, row); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("unknown compensation kind %q", c.kind)
}
