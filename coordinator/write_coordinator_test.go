package coordinator

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallyops/tally/cache"
	"github.com/tallyops/tally/datastore"
	"github.com/tallyops/tally/operation"
	"github.com/tallyops/tally/schema"
	"github.com/tallyops/tally/validate"
)

// recordingStore wraps a Store, recording every call and optionally failing
// specific kind:table combinations.
type recordingStore struct {
	inner datastore.Store

	mu     sync.Mutex
	writes []string
	failOn map[string]error
}

func newRecordingStore(inner datastore.Store) *recordingStore {
	return &recordingStore{inner: inner, failOn: make(map[string]error)}
}

func (s *recordingStore) record(kind, table string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	call := kind + ":" + table
	s.writes = append(s.writes, call)
	return s.failOn[call]
}

func (s *recordingStore) writeCalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.writes...)
}

func (s *recordingStore) Insert(ctx context.Context, table string, payload operation.Row) ([]operation.Row, error) {
	if err := s.record("insert", table); err != nil {
		return nil, err
	}
	return s.inner.Insert(ctx, table, payload)
}

func (s *recordingStore) Update(ctx context.Context, table string, payload operation.Row, filter operation.Filter) ([]operation.Row, error) {
	if err := s.record("update", table); err != nil {
		return nil, err
	}
	return s.inner.Update(ctx, table, payload, filter)
}

func (s *recordingStore) Delete(ctx context.Context, table string, filter operation.Filter) ([]operation.Row, error) {
	if err := s.record("delete", table); err != nil {
		return nil, err
	}
	return s.inner.Delete(ctx, table, filter)
}

func (s *recordingStore) Select(ctx context.Context, table string, filter operation.Filter, limit int) ([]operation.Row, error) {
	return s.inner.Select(ctx, table, filter, limit)
}

// fakeTxStore adds native transaction primitives to a MemoryStore.
type fakeTxStore struct {
	*datastore.MemoryStore
	beginErr  error
	commitErr error

	begun      []string
	committed  []string
	rolledBack []string
}

func (s *fakeTxStore) BeginTransaction(_ context.Context, id string) error {
	if s.beginErr != nil {
		return s.beginErr
	}
	s.begun = append(s.begun, id)
	return nil
}

func (s *fakeTxStore) Commit(_ context.Context, id string) error {
	if s.commitErr != nil {
		return s.commitErr
	}
	s.committed = append(s.committed, id)
	return nil
}

func (s *fakeTxStore) Rollback(_ context.Context, id string) error {
	s.rolledBack = append(s.rolledBack, id)
	return nil
}

type captureNotifier struct {
	mu      sync.Mutex
	results []*operation.TransactionResult
}

func (n *captureNotifier) TransactionCommitted(result *operation.TransactionResult) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.results = append(n.results, result)
}

func seededStore(t *testing.T) *datastore.MemoryStore {
	t.Helper()
	store := datastore.NewMemoryStore(schema.Default().Tables()...)
	ctx := context.Background()

	_, err := store.Insert(ctx, "entities", operation.Row{"entity_id": "ENT-001", "name": "Acme Fund"})
	require.NoError(t, err)
	_, err = store.Insert(ctx, "accounting_periods", operation.Row{
		"period_name": "2026-08", "status": "OPEN",
		"starts_on": "2026-08-01", "ends_on": "2026-08-31",
	})
	require.NoError(t, err)
	return store
}

func instructionRow(id string) operation.Row {
	return operation.Row{
		"instruction_id": id,
		"status":         "PENDING",
		"trade_date":     "2026-08-15",
		"entity_id":      "ENT-001",
		"created_by":     "ops-user",
		"created_at":     "2026-08-15T09:00:00Z",
	}
}

func TestExecute_CommitsValidBatch(t *testing.T) {
	store := seededStore(t)
	rules := schema.Default()
	engine := validate.NewEngine(rules, store)
	wc := NewWriteCoordinator(store, rules, engine, nil)
	ctx := context.Background()

	ops := []operation.WriteOperation{
		operation.NewInsert("instructions", instructionRow("INS-001")),
		operation.NewInsert("allocations", operation.Row{
			"allocation_id":  "ALC-001",
			"instruction_id": "INS-001",
			"account":        "ACC-7",
			"quantity":       100.0,
			"created_by":     "ops-user",
			"created_at":     "2026-08-15T09:00:00Z",
		}),
	}
	result := wc.Execute(ctx, ops, "new-settlement", true)

	assert.Equal(t, operation.StatusCommitted, result.Status)
	assert.Equal(t, 2, result.Attempted)
	assert.Equal(t, 2, result.Succeeded)
	assert.Empty(t, result.Errors)
	assert.False(t, result.RollbackPerformed)
	require.Len(t, result.Results, 2)
	assert.Equal(t, []string{"instructions", "allocations"}, result.Tables())

	rows, err := store.Select(ctx, "instructions", operation.Filter{"instruction_id": "INS-001"}, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestExecute_ValidationFailureWritesNothing(t *testing.T) {
	store := seededStore(t)
	recording := newRecordingStore(store)
	rules := schema.Default()
	engine := validate.NewEngine(rules, recording)
	wc := NewWriteCoordinator(recording, rules, engine, nil)

	bad := instructionRow("INS-001")
	delete(bad, "status")
	ops := []operation.WriteOperation{
		operation.NewInsert("instructions", instructionRow("INS-002")),
		operation.NewInsert("instructions", bad),
	}
	result := wc.Execute(context.Background(), ops, "mixed-batch", true)

	// One bad operation fails the whole batch before any write.
	assert.Equal(t, operation.StatusFailed, result.Status)
	assert.Equal(t, 0, result.Succeeded)
	assert.False(t, result.RollbackPerformed)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "instructions.status")
	assert.Empty(t, recording.writeCalls(), "validation failure must not touch the datastore")
}

func TestExecute_ValidationSkippedWhenDisabled(t *testing.T) {
	store := seededStore(t)
	rules := schema.Default()
	engine := validate.NewEngine(rules, store)
	wc := NewWriteCoordinator(store, rules, engine, nil)

	bad := instructionRow("INS-003")
	delete(bad, "status")
	result := wc.Execute(context.Background(), []operation.WriteOperation{
		operation.NewInsert("instructions", bad),
	}, "unchecked", false)

	// The datastore itself accepts the row; skipping validation commits it.
	assert.Equal(t, operation.StatusCommitted, result.Status)
}

func TestExecute_RollsBackOnMidBatchFailure(t *testing.T) {
	store := seededStore(t)
	rules := schema.Default()
	wc := NewWriteCoordinator(store, rules, nil, nil)
	ctx := context.Background()

	ops := []operation.WriteOperation{
		operation.NewInsert("instructions", instructionRow("INS-010")),
		operation.NewInsert("unknown_table", operation.Row{"x": 1}),
	}
	result := wc.Execute(ctx, ops, "doomed", false)

	assert.Equal(t, operation.StatusRolledBack, result.Status)
	assert.Equal(t, 1, result.Succeeded)
	assert.True(t, result.RollbackPerformed)
	assert.Empty(t, result.RollbackErrors)
	require.NotEmpty(t, result.Errors)

	// The committed-then-compensated insert must be gone.
	rows, err := store.Select(ctx, "instructions", operation.Filter{"instruction_id": "INS-010"}, 0)
	require.NoError(t, err)
	assert.Empty(t, rows, "compensation must remove the inserted row")
}

func TestExecute_CompensatesInReverseOrder(t *testing.T) {
	store := seededStore(t)
	recording := newRecordingStore(store)
	recording.failOn["insert:unknown_table"] = fmt.Errorf("boom")
	rules := schema.Default()
	wc := NewWriteCoordinator(recording, rules, nil, nil)

	ops := []operation.WriteOperation{
		operation.NewInsert("instructions", instructionRow("INS-020")),
		operation.NewInsert("allocations", operation.Row{
			"allocation_id": "ALC-020", "instruction_id": "INS-020",
			"account": "ACC-1", "quantity": 5.0,
		}),
		operation.NewInsert("unknown_table", operation.Row{"x": 1}),
	}
	result := wc.Execute(context.Background(), ops, "reverse-check", false)

	require.Equal(t, operation.StatusRolledBack, result.Status)
	assert.Equal(t, []string{
		"insert:instructions",
		"insert:allocations",
		"insert:unknown_table",
		"delete:allocations",
		"delete:instructions",
	}, recording.writeCalls())
}

func TestExecute_RestoresUpdatedRowsOnRollback(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()
	_, err := store.Insert(ctx, "instructions", instructionRow("INS-030"))
	require.NoError(t, err)

	rules := schema.Default()
	wc := NewWriteCoordinator(store, rules, nil, nil)

	ops := []operation.WriteOperation{
		operation.NewUpdate("instructions",
			operation.Row{"status": "RELEASED"},
			operation.Filter{"instruction_id": "INS-030"}),
		operation.NewInsert("unknown_table", operation.Row{"x": 1}),
	}
	result := wc.Execute(ctx, ops, "update-rollback", false)

	require.Equal(t, operation.StatusRolledBack, result.Status)

	rows, err := store.Select(ctx, "instructions", operation.Filter{"instruction_id": "INS-030"}, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "PENDING", rows[0]["status"], "pre-image must be restored")
}

func TestExecute_ReinsertsDeletedRowsOnRollback(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()
	_, err := store.Insert(ctx, "instructions", instructionRow("INS-040"))
	require.NoError(t, err)

	rules := schema.Default()
	wc := NewWriteCoordinator(store, rules, nil, nil)

	ops := []operation.WriteOperation{
		operation.NewDelete("instructions", operation.Filter{"instruction_id": "INS-040"}),
		operation.NewInsert("unknown_table", operation.Row{"x": 1}),
	}
	result := wc.Execute(ctx, ops, "delete-rollback", false)

	require.Equal(t, operation.StatusRolledBack, result.Status)

	rows, err := store.Select(ctx, "instructions", operation.Filter{"instruction_id": "INS-040"}, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "PENDING", rows[0]["status"])
}

func TestExecute_FailedCompensationMeansFailed(t *testing.T) {
	store := seededStore(t)
	recording := newRecordingStore(store)
	recording.failOn["insert:unknown_table"] = fmt.Errorf("boom")
	recording.failOn["delete:instructions"] = fmt.Errorf("datastore down")
	rules := schema.Default()
	wc := NewWriteCoordinator(recording, rules, nil, nil)

	ops := []operation.WriteOperation{
		operation.NewInsert("instructions", instructionRow("INS-050")),
		operation.NewInsert("unknown_table", operation.Row{"x": 1}),
	}
	result := wc.Execute(context.Background(), ops, "stuck", false)

	assert.Equal(t, operation.StatusFailed, result.Status)
	assert.True(t, result.RollbackPerformed)
	require.NotEmpty(t, result.RollbackErrors)
	assert.Contains(t, result.RollbackErrors[0], "compensation")
}

func TestExecute_FirstOperationFailureIsFailedNotRolledBack(t *testing.T) {
	store := seededStore(t)
	rules := schema.Default()
	wc := NewWriteCoordinator(store, rules, nil, nil)

	result := wc.Execute(context.Background(), []operation.WriteOperation{
		operation.NewInsert("unknown_table", operation.Row{"x": 1}),
	}, "instant-fail", false)

	// Nothing succeeded, so there is nothing to roll back.
	assert.Equal(t, operation.StatusFailed, result.Status)
	assert.Equal(t, 0, result.Succeeded)
	assert.False(t, result.RollbackPerformed)
}

func TestExecute_NonCompensableInsertFailsBatch(t *testing.T) {
	// A table without a key field cannot get a keyed delete compensation.
	tables := map[string]*schema.TableRules{
		"notes": {Required: []string{"body"}},
	}
	rules, err := schema.New(tables, schema.PeriodConfig{})
	require.NoError(t, err)

	store := datastore.NewMemoryStore("notes")
	wc := NewWriteCoordinator(store, rules, nil, nil)

	result := wc.Execute(context.Background(), []operation.WriteOperation{
		operation.NewInsert("notes", operation.Row{"body": "hello"}),
	}, "keyless", false)

	assert.Equal(t, operation.StatusFailed, result.Status)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "cannot be compensated")
}

func TestExecute_NativeTransactionCommit(t *testing.T) {
	store := &fakeTxStore{MemoryStore: seededStore(t)}
	rules := schema.Default()
	wc := NewWriteCoordinator(store, rules, nil, nil)

	result := wc.Execute(context.Background(), []operation.WriteOperation{
		operation.NewInsert("instructions", instructionRow("INS-060")),
	}, "native", false)

	assert.Equal(t, operation.StatusCommitted, result.Status)
	require.Len(t, store.begun, 1)
	assert.Equal(t, result.TransactionID, store.begun[0])
	assert.Equal(t, store.begun, store.committed)
	assert.Empty(t, store.rolledBack)
}

func TestExecute_NativeTransactionRollback(t *testing.T) {
	store := &fakeTxStore{MemoryStore: seededStore(t)}
	rules := schema.Default()
	wc := NewWriteCoordinator(store, rules, nil, nil)

	ops := []operation.WriteOperation{
		operation.NewInsert("instructions", instructionRow("INS-070")),
		operation.NewInsert("unknown_table", operation.Row{"x": 1}),
	}
	result := wc.Execute(context.Background(), ops, "native-fail", false)

	assert.Equal(t, operation.StatusRolledBack, result.Status)
	assert.True(t, result.RollbackPerformed)
	require.Len(t, store.rolledBack, 1)
	assert.Empty(t, store.committed)
}

func TestExecute_TxnUnsupportedFallsBack(t *testing.T) {
	store := &fakeTxStore{MemoryStore: seededStore(t), beginErr: datastore.ErrTxnUnsupported}
	rules := schema.Default()
	wc := NewWriteCoordinator(store, rules, nil, nil)
	ctx := context.Background()

	ops := []operation.WriteOperation{
		operation.NewInsert("instructions", instructionRow("INS-080")),
		operation.NewInsert("unknown_table", operation.Row{"x": 1}),
	}
	result := wc.Execute(ctx, ops, "fallback", false)

	// Compensation path: the rollback happens without the native primitive.
	assert.Equal(t, operation.StatusRolledBack, result.Status)
	assert.Empty(t, store.rolledBack)

	rows, err := store.Select(ctx, "instructions", operation.Filter{"instruction_id": "INS-080"}, 0)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestExecute_InvalidatesCacheAfterCommit(t *testing.T) {
	store := seededStore(t)
	rules := schema.Default()

	memCache := cache.NewMemoryCache()
	memCache.Set("instructions:INS-001", "cached")
	memCache.Set("view:settlement:summary", "cached")
	memCache.Set("entities:ENT-001", "cached")
	invalidator := cache.NewInvalidator(cache.DefaultDependencyMap(), memCache)

	wc := NewWriteCoordinator(store, rules, nil, invalidator)
	result := wc.Execute(context.Background(), []operation.WriteOperation{
		operation.NewInsert("instructions", instructionRow("INS-090")),
	}, "cache-purge", false)

	require.Equal(t, operation.StatusCommitted, result.Status)
	_, ok := memCache.Get("instructions:INS-001")
	assert.False(t, ok, "instruction keys must be purged")
	_, ok = memCache.Get("view:settlement:summary")
	assert.False(t, ok, "dependent view keys must be purged")
	_, ok = memCache.Get("entities:ENT-001")
	assert.True(t, ok, "unrelated keys must survive")
}

func TestExecute_NoCacheInvalidationOnRollback(t *testing.T) {
	store := seededStore(t)
	rules := schema.Default()

	memCache := cache.NewMemoryCache()
	memCache.Set("instructions:INS-001", "cached")
	invalidator := cache.NewInvalidator(cache.DefaultDependencyMap(), memCache)

	wc := NewWriteCoordinator(store, rules, nil, invalidator)
	ops := []operation.WriteOperation{
		operation.NewInsert("instructions", instructionRow("INS-091")),
		operation.NewInsert("unknown_table", operation.Row{"x": 1}),
	}
	result := wc.Execute(context.Background(), ops, "no-purge", false)

	require.Equal(t, operation.StatusRolledBack, result.Status)
	_, ok := memCache.Get("instructions:INS-001")
	assert.True(t, ok, "rolled-back transactions must not invalidate caches")
}

func TestExecute_NotifierOnlyOnCommit(t *testing.T) {
	store := seededStore(t)
	rules := schema.Default()
	notifier := &captureNotifier{}
	wc := NewWriteCoordinator(store, rules, nil, nil, WithNotifier(notifier))
	ctx := context.Background()

	result := wc.Execute(ctx, []operation.WriteOperation{
		operation.NewInsert("instructions", instructionRow("INS-100")),
	}, "notify", false)
	require.Equal(t, operation.StatusCommitted, result.Status)
	require.Len(t, notifier.results, 1)
	assert.Equal(t, result.TransactionID, notifier.results[0].TransactionID)

	wc.Execute(ctx, []operation.WriteOperation{
		operation.NewInsert("unknown_table", operation.Row{"x": 1}),
	}, "notify-fail", false)
	assert.Len(t, notifier.results, 1, "failed transactions must not notify")
}

func TestExecute_RecordsRecentResults(t *testing.T) {
	store := seededStore(t)
	rules := schema.Default()
	wc := NewWriteCoordinator(store, rules, nil, nil, WithRecentResults(8))

	result := wc.Execute(context.Background(), []operation.WriteOperation{
		operation.NewInsert("instructions", instructionRow("INS-110")),
	}, "remembered", false)

	got, ok := wc.Recent().Get(result.TransactionID)
	require.True(t, ok)
	assert.Equal(t, operation.StatusCommitted, got.Status)
}

func TestExecute_EmptyBatchCommits(t *testing.T) {
	store := seededStore(t)
	rules := schema.Default()
	engine := validate.NewEngine(rules, store)
	wc := NewWriteCoordinator(store, rules, engine, nil)

	result := wc.Execute(context.Background(), nil, "empty", true)

	assert.Equal(t, operation.StatusCommitted, result.Status)
	assert.Equal(t, 0, result.Attempted)
	assert.Equal(t, 0, result.Succeeded)
}

func TestExecute_ConcurrentTransactions(t *testing.T) {
	store := seededStore(t)
	rules := schema.Default()
	wc := NewWriteCoordinator(store, rules, nil, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("INS-2%02d", i)
			result := wc.Execute(ctx, []operation.WriteOperation{
				operation.NewInsert("instructions", instructionRow(id)),
			}, "concurrent", false)
			assert.Equal(t, operation.StatusCommitted, result.Status)
		}(i)
	}
	wg.Wait()

	rows, err := store.Select(ctx, "instructions", nil, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 20)
}
