package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	_ "github.com/mattn/go-sqlite3"

	"github.com/tallyops/tally/operation"
)

var sqliteDialect = goqu.Dialect("sqlite3")

// SQLiteStore implements TxStore on a local SQLite database. Unlike the
// REST backend it has native transactions, so a coordinator running against
// it never needs compensation-based rollback.
//
// At most one native transaction is open at a time; while it is open all
// writes are routed through it. Concurrent transactions must use separate
// stores or the fallback path.
type SQLiteStore struct {
	db *sql.DB

	mu   sync.Mutex
	tx   *sql.Tx
	txID string
}

// OpenSQLiteStore opens (or creates) the database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB exposes the handle for schema provisioning in tests and tools.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func (s *SQLiteStore) executor() execer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

func mapSQLiteError(table string, err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "no such table") {
		return &UnknownTableError{Table: table}
	}
	return err
}

func record(m map[string]interface{}) goqu.Record {
	r := make(goqu.Record, len(m))
	for k, v := range m {
		r[k] = v
	}
	return r
}

func scanRows(rows *sql.Rows) ([]operation.Row, error) {
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []operation.Row
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(operation.Row, len(cols))
		for i, col := range cols {
			v := vals[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[col] = v
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) query(ctx context.Context, table string, filter operation.Filter, limit int) ([]operation.Row, error) {
	ds := sqliteDialect.From(table)
	if len(filter) > 0 {
		ds = ds.Where(goqu.Ex(filter))
	}
	if limit > 0 {
		ds = ds.Limit(uint(limit))
	}
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, err
	}
	rows, err := s.executor().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapSQLiteError(table, err)
	}
	return scanRows(rows)
}

func (s *SQLiteStore) Insert(ctx context.Context, table string, payload operation.Row) ([]operation.Row, error) {
	query, args, err := sqliteDialect.Insert(table).Rows(record(payload)).Prepared(true).ToSQL()
	if err != nil {
		return nil, err
	}
	if _, err := s.executor().ExecContext(ctx, query, args...); err != nil {
		return nil, mapSQLiteError(table, err)
	}
	return []operation.Row{payload.Clone()}, nil
}

func (s *SQLiteStore) Update(ctx context.Context, table string, payload operation.Row, filter operation.Filter) ([]operation.Row, error) {
	query, args, err := sqliteDialect.Update(table).Set(record(payload)).Where(goqu.Ex(filter)).Prepared(true).ToSQL()
	if err != nil {
		return nil, err
	}
	if _, err := s.executor().ExecContext(ctx, query, args...); err != nil {
		return nil, mapSQLiteError(table, err)
	}
	return s.query(ctx, table, filter, 0)
}

func (s *SQLiteStore) Delete(ctx context.Context, table string, filter operation.Filter) ([]operation.Row, error) {
	removed, err := s.query(ctx, table, filter, 0)
	if err != nil {
		return nil, err
	}
	query, args, err := sqliteDialect.Delete(table).Where(goqu.Ex(filter)).Prepared(true).ToSQL()
	if err != nil {
		return nil, err
	}
	if _, err := s.executor().ExecContext(ctx, query, args...); err != nil {
		return nil, mapSQLiteError(table, err)
	}
	return removed, nil
}

func (s *SQLiteStore) Select(ctx context.Context, table string, filter operation.Filter, limit int) ([]operation.Row, error) {
	return s.query(ctx, table, filter, limit)
}

// BeginTransaction opens a native transaction. Fails if one is already open.
func (s *SQLiteStore) BeginTransaction(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx != nil {
		return fmt.Errorf("transaction %s already open", s.txID)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	s.tx = tx
	s.txID = id
	return nil
}

func (s *SQLiteStore) take(id string) (*sql.Tx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil || s.txID != id {
		return nil, fmt.Errorf("no open transaction %s", id)
	}
	tx := s.tx
	s.tx = nil
	s.txID = ""
	return tx, nil
}

// Commit finalizes the open native transaction.
func (s *SQLiteStore) Commit(_ context.Context, id string) error {
	tx, err := s.take(id)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// Rollback discards the open native transaction.
func (s *SQLiteStore) Rollback(_ context.Context, id string) error {
	tx, err := s.take(id)
	if err != nil {
		return err
	}
	return tx.Rollback()
}
