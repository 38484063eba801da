package datastore

import (
	"context"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/tallyops/tally/operation"
)

// MemoryStore is an in-memory Store backed by lock-free concurrent maps.
// It offers no transaction primitives, so coordinators running against it
// always take the compensation path. Used by tests and ephemeral runs.
type MemoryStore struct {
	tables *xsync.MapOf[string, *memTable]
}

type memTable struct {
	mu   sync.Mutex
	rows []operation.Row
}

// NewMemoryStore creates a store with the given tables pre-registered.
// Operations against unregistered tables return UnknownTableError.
func NewMemoryStore(tables ...string) *MemoryStore {
	s := &MemoryStore{tables: xsync.NewMapOf[string, *memTable]()}
	for _, t := range tables {
		s.tables.Store(t, &memTable{})
	}
	return s
}

// CreateTable registers a table if it does not already exist.
func (s *MemoryStore) CreateTable(name string) {
	s.tables.LoadOrStore(name, &memTable{})
}

func (s *MemoryStore) table(name string) (*memTable, error) {
	t, ok := s.tables.Load(name)
	if !ok {
		return nil, &UnknownTableError{Table: name}
	}
	return t, nil
}

func matches(row operation.Row, filter operation.Filter) bool {
	for k, v := range filter {
		if row[k] != v {
			return false
		}
	}
	return true
}

func (s *MemoryStore) Insert(_ context.Context, table string, payload operation.Row) ([]operation.Row, error) {
	t, err := s.table(table)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	row := payload.Clone()
	t.rows = append(t.rows, row)
	return []operation.Row{row.Clone()}, nil
}

func (s *MemoryStore) Update(_ context.Context, table string, payload operation.Row, filter operation.Filter) ([]operation.Row, error) {
	t, err := s.table(table)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	var affected []operation.Row
	for i, row := range t.rows {
		if !matches(row, filter) {
			continue
		}
		updated := row.Clone()
		for k, v := range payload {
			updated[k] = v
		}
		t.rows[i] = updated
		affected = append(affected, updated.Clone())
	}
	return affected, nil
}

func (s *MemoryStore) Delete(_ context.Context, table string, filter operation.Filter) ([]operation.Row, error) {
	t, err := s.table(table)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	var removed []operation.Row
	kept := t.rows[:0]
	for _, row := range t.rows {
		if matches(row, filter) {
			removed = append(removed, row.Clone())
		} else {
			kept = append(kept, row)
		}
	}
	t.rows = kept
	return removed, nil
}

func (s *MemoryStore) Select(_ context.Context, table string, filter operation.Filter, limit int) ([]operation.Row, error) {
	t, err := s.table(table)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []operation.Row
	for _, row := range t.rows {
		if !matches(row, filter) {
			continue
		}
		out = append(out, row.Clone())
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
