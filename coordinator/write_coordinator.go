// Package coordinator orchestrates all-or-nothing batches of single-table
// mutations against a datastore that has no native multi-statement
// transaction. It validates the whole batch up front, executes operations
// strictly in order, records a compensating action for every success, and
// on failure unwinds the successes in reverse order before reporting.
package coordinator

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tallyops/tally/cache"
	"github.com/tallyops/tally/datastore"
	"github.com/tallyops/tally/operation"
	"github.com/tallyops/tally/schema"
	"github.com/tallyops/tally/telemetry"
	"github.com/tallyops/tally/validate"
)

// CommitNotifier receives committed transaction results for best-effort
// post-commit fan-out (event publishing). Implementations must not block
// for long; errors are their own to log.
type CommitNotifier interface {
	TransactionCommitted(result *operation.TransactionResult)
}

// WriteCoordinator runs write transactions. Each Execute call is
// self-contained: the coordinator holds no shared mutable state between
// transactions and relies on the datastore's own concurrency control for
// cross-transaction isolation. Multiple Execute calls may run concurrently.
type WriteCoordinator struct {
	store       datastore.Store
	rules       *schema.RuleSet
	engine      *validate.Engine
	invalidator *cache.Invalidator
	notifier    CommitNotifier
	recent      *RecentResults
}

// Option configures a WriteCoordinator.
type Option func(*WriteCoordinator)

// WithNotifier attaches a post-commit notifier.
func WithNotifier(n CommitNotifier) Option {
	return func(wc *WriteCoordinator) { wc.notifier = n }
}

// WithRecentResults sizes the in-memory ring of recent transaction results.
func WithRecentResults(n int) Option {
	return func(wc *WriteCoordinator) { wc.recent = NewRecentResults(n) }
}

// NewWriteCoordinator creates a coordinator. engine may be nil (validation
// is then skipped regardless of validateBeforeCommit); invalidator may be
// nil (no cache invalidation).
func NewWriteCoordinator(store datastore.Store, rules *schema.RuleSet, engine *validate.Engine,
	invalidator *cache.Invalidator, opts ...Option) *WriteCoordinator {

	wc := &WriteCoordinator{
		store:       store,
		rules:       rules,
		engine:      engine,
		invalidator: invalidator,
		recent:      NewRecentResults(64),
	}
	for _, opt := range opts {
		opt(wc)
	}
	return wc
}

// Recent returns the ring of recent transaction results.
func (wc *WriteCoordinator) Recent() *RecentResults {
	return wc.recent
}

// Execute runs an ordered batch of operations as one logical transaction.
// Either every write becomes visible (Committed) or none should be
// (RolledBack / Failed before any write). A Failed status after execution
// began means a compensation itself failed and the datastore needs manual
// reconciliation.
//
// Operations run strictly sequentially: later operations may depend on rows
// written by earlier ones, and sequential execution keeps the compensation
// order well-defined.
func (wc *WriteCoordinator) Execute(ctx context.Context, ops []operation.WriteOperation, name string, validateBeforeCommit bool) *operation.TransactionResult {
	metrics := NewTxnMetrics()
	telemetry.ActiveTransactions.Inc()
	defer telemetry.ActiveTransactions.Dec()

	result := &operation.TransactionResult{
		TransactionID: operation.TxnID(name),
		Name:          name,
		Status:        operation.StatusPending,
		Attempted:     len(ops),
	}

	log.Debug().
		Str("txn_id", result.TransactionID).
		Str("name", name).
		Int("operations", len(ops)).
		Msg("Transaction started")

	// 1. Validate the whole batch before touching the datastore.
	if validateBeforeCommit && wc.engine != nil {
		reports := wc.engine.ValidateBatch(ctx, ops)
		for _, report := range reports {
			result.Errors = append(result.Errors, report.ErrorStrings()...)
		}
		if len(result.Errors) > 0 {
			result.Status = operation.StatusFailed
			wc.finish(result, metrics, "validation_failed")
			log.Warn().
				Err(&ValidationRejectedError{TransactionID: result.TransactionID, ErrorCount: len(result.Errors)}).
				Str("txn_id", result.TransactionID).
				Msg("Transaction rejected by validation")
			return result
		}
	}

	// Writes already in flight must land (or be rolled back) even if the
	// caller goes away; abandoning them mid-write leaves undefined state.
	execCtx := context.WithoutCancel(ctx)

	// 2. Open a transaction boundary if the datastore has one.
	txStore, _ := wc.store.(datastore.TxStore)
	native := false
	if txStore != nil {
		switch err := txStore.BeginTransaction(execCtx, result.TransactionID); {
		case err == nil:
			native = true
		case err == datastore.ErrTxnUnsupported:
			log.Debug().Str("txn_id", result.TransactionID).Msg("No server-side transactions, running in fallback mode")
		default:
			log.Warn().Err(err).Str("txn_id", result.TransactionID).Msg("Begin failed, running in fallback mode")
		}
	}

	// 3. Execute strictly in order, recording compensations in fallback mode.
	result.Status = operation.StatusExecuting
	compensations, opErr := wc.executeAll(execCtx, ops, result, !native)

	if opErr == nil {
		// 4. Close the boundary and report success.
		if native {
			if err := txStore.Commit(execCtx, result.TransactionID); err != nil {
				result.Errors = append(result.Errors, err.Error())
				wc.rollbackNative(execCtx, txStore, result)
				wc.finish(result, metrics, outcomeLabel(result.Status))
				return result
			}
		}
		result.Status = operation.StatusCommitted
		wc.afterCommit(result)
		wc.finish(result, metrics, "committed")
		return result
	}

	// 5. Roll back everything that succeeded before the failure.
	result.Errors = append(result.Errors, opErr.Error())
	if native {
		wc.rollbackNative(execCtx, txStore, result)
	} else {
		wc.rollbackCompensations(execCtx, compensations, result)
	}
	wc.finish(result, metrics, outcomeLabel(result.Status))
	return result
}

func outcomeLabel(s operation.Status) string {
	switch s {
	case operation.StatusCommitted:
		return "committed"
	case operation.StatusRolledBack:
		return "rolled_back"
	}
	return "failed"
}

// executeAll runs the operations sequentially. It stops at the first
// failure and returns the compensations recorded for the successes so far,
// in execution order.
func (wc *WriteCoordinator) executeAll(ctx context.Context, ops []operation.WriteOperation, result *operation.TransactionResult, fallback bool) ([]*compensation, error) {
	var compensations []*compensation

	for i, op := range ops {
		keyField := ""
		if rules, ok := wc.rules.Table(op.Table); ok {
			keyField = rules.KeyField
		}

		// In fallback mode an update/delete must be snapshotted before it
		// runs, or the batch stops being compensable.
		var pending *compensation
		if fallback && (op.Kind == operation.Update || op.Kind == operation.Delete) {
			c, err := wc.mutationCompensation(ctx, op, keyField)
			if err != nil {
				return compensations, &OperationError{Index: i, OperationID: op.OperationID, Err: err}
			}
			pending = c
		}

		rows, err := wc.executeOne(ctx, op)
		if err != nil {
			telemetry.OperationsTotal.With(string(op.Kind), "failed").Inc()
			log.Warn().
				Err(err).
				Str("txn_id", result.TransactionID).
				Str("op_id", op.OperationID).
				Int("index", i).
				Msg("Operation failed, rolling back")
			return compensations, &OperationError{Index: i, OperationID: op.OperationID, Err: err}
		}
		telemetry.OperationsTotal.With(string(op.Kind), "success").Inc()

		result.Results = append(result.Results, operation.OperationResult{
			OperationID: op.OperationID,
			Table:       op.Table,
			Kind:        op.Kind,
			Rows:        rows,
		})
		result.Succeeded++

		if !fallback {
			continue
		}
		if pending != nil {
			compensations = append(compensations, pending)
			continue
		}
		c, err := insertCompensation(op, keyField, rows)
		if err != nil {
			// The write landed but cannot be undone. Failing now (and
			// compensating the earlier successes) beats discovering it
			// during a later rollback.
			return compensations, &OperationError{Index: i, OperationID: op.OperationID, Err: err}
		}
		compensations = append(compensations, c)
	}

	return compensations, nil
}

func (wc *WriteCoordinator) executeOne(ctx context.Context, op operation.WriteOperation) ([]operation.Row, error) {
	start := time.Now()
	defer func() {
		telemetry.DatastoreCallSeconds.With(string(op.Kind)).Observe(time.Since(start).Seconds())
	}()

	switch op.Kind {
	case operation.Insert:
		return wc.store.Insert(ctx, op.Table, op.Payload)
	case operation.Update:
		return wc.store.Update(ctx, op.Table, op.Payload, op.Filter)
	case operation.Delete:
		return wc.store.Delete(ctx, op.Table, op.Filter)
	}
	return nil, &NonCompensableError{OperationID: op.OperationID, Reason: "unknown operation kind"}
}

// rollbackNative uses the datastore's rollback primitive.
func (wc *WriteCoordinator) rollbackNative(ctx context.Context, txStore datastore.TxStore, result *operation.TransactionResult) {
	result.Status = operation.StatusRollingBack
	if err := txStore.Rollback(ctx, result.TransactionID); err != nil {
		result.Status = operation.StatusFailed
		result.RollbackErrors = append(result.RollbackErrors, err.Error())
		log.Error().
			Err(err).
			Str("txn_id", result.TransactionID).
			Msg("Native rollback failed - manual reconciliation required")
		return
	}
	result.RollbackPerformed = true
	if result.Succeeded > 0 {
		result.Status = operation.StatusRolledBack
	} else {
		// Nothing was written; this is a plain failure, not a rollback.
		result.Status = operation.StatusFailed
	}
}

// rollbackCompensations undoes the recorded successes in reverse order.
// A compensation failure is logged but does not stop the remaining
// compensations: undoing as much as possible shrinks the reconciliation
// surface.
func (wc *WriteCoordinator) rollbackCompensations(ctx context.Context, compensations []*compensation, result *operation.TransactionResult) {
	if len(compensations) == 0 {
		result.Status = operation.StatusFailed
		return
	}

	result.Status = operation.StatusRollingBack
	for i := len(compensations) - 1; i >= 0; i-- {
		c := compensations[i]
		if err := wc.applyCompensation(ctx, c); err != nil {
			cerr := &CompensationError{OperationID: c.originalID, Err: err}
			result.RollbackErrors = append(result.RollbackErrors, cerr.Error())
			telemetry.CompensationsTotal.With("failed").Inc()
			log.Error().
				Err(err).
				Str("txn_id", result.TransactionID).
				Str("op_id", c.originalID).
				Msg("Compensation failed - manual reconciliation required")
			continue
		}
		telemetry.CompensationsTotal.With("success").Inc()
	}

	result.RollbackPerformed = true
	if len(result.RollbackErrors) > 0 {
		result.Status = operation.StatusFailed
	} else {
		result.Status = operation.StatusRolledBack
	}
}

// afterCommit runs the post-commit side effects: cache invalidation and
// event fan-out. Both are best-effort and never change the committed status;
// the write is already durable.
func (wc *WriteCoordinator) afterCommit(result *operation.TransactionResult) {
	if wc.invalidator != nil {
		wc.invalidator.InvalidateForTables(result.Tables())
	}
	if wc.notifier != nil {
		wc.notifier.TransactionCommitted(result)
	}
}

func (wc *WriteCoordinator) finish(result *operation.TransactionResult, metrics *TxnMetrics, outcome string) {
	elapsed := metrics.Record(outcome)
	result.ExecutionTimeMs = elapsed.Milliseconds()
	if wc.recent != nil {
		wc.recent.Add(result)
	}
	log.Info().
		Str("txn_id", result.TransactionID).
		Str("name", result.Name).
		Str("status", string(result.Status)).
		Int("attempted", result.Attempted).
		Int("succeeded", result.Succeeded).
		Bool("rollback_performed", result.RollbackPerformed).
		Int64("elapsed_ms", result.ExecutionTimeMs).
		Msg("Transaction finished")
}
