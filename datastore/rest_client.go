package datastore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tallyops/tally/operation"
)

// RESTClient implements Store (and, when the server supports it, TxStore)
// against a REST-style single-table API:
//
//	POST   {base}/api/v1/tables/{table}/rows        insert
//	PATCH  {base}/api/v1/tables/{table}/rows        update (payload + filter)
//	DELETE {base}/api/v1/tables/{table}/rows        delete (filter)
//	POST   {base}/api/v1/tables/{table}/rows/query  select (filter + limit)
//	POST   {base}/api/v1/transactions               begin
//	POST   {base}/api/v1/transactions/{id}/commit   commit
//	POST   {base}/api/v1/transactions/{id}/rollback rollback
//
// A client carries at most one open server-side transaction; its id is sent
// as the X-Txn-ID header on every write until commit or rollback. Servers
// without the transactions endpoint answer 404/405/501 and the client
// reports ErrTxnUnsupported, switching the coordinator to fallback mode.
type RESTClient struct {
	base string
	hc   *http.Client

	// txnUnsupported latches once the server rejects the begin endpoint,
	// so later transactions skip the probe.
	txnUnsupported atomic.Bool
	currentTxn     atomic.Value // string
}

// NewRESTClient creates a client for the datastore at baseURL. Individual
// calls honor their context deadlines; timeout bounds calls without one.
func NewRESTClient(baseURL string, timeout time.Duration) *RESTClient {
	return &RESTClient{
		base: baseURL,
		hc:   &http.Client{Timeout: timeout},
	}
}

type rowsEnvelope struct {
	Rows  []operation.Row `json:"rows"`
	Error string          `json:"error,omitempty"`
	Code  string          `json:"code,omitempty"`
}

type writeBody struct {
	Row    operation.Row    `json:"row,omitempty"`
	Filter operation.Filter `json:"filter,omitempty"`
	Limit  int              `json:"limit,omitempty"`
}

func (c *RESTClient) do(ctx context.Context, method, url string, body interface{}) (*rowsEnvelope, int, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if txn, ok := c.currentTxn.Load().(string); ok && txn != "" {
		req.Header.Set("X-Txn-ID", txn)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	var env rowsEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil && err != io.EOF {
		return nil, resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	return &env, resp.StatusCode, nil
}

func (c *RESTClient) tableURL(table string) string {
	return fmt.Sprintf("%s/api/v1/tables/%s/rows", c.base, table)
}

// mapError converts a non-2xx envelope into a typed error where possible.
func mapError(table string, status int, env *rowsEnvelope) error {
	if status == http.StatusNotFound && (env.Code == "table_not_found" || env.Error == "") {
		return &UnknownTableError{Table: table}
	}
	if env.Error != "" {
		return fmt.Errorf("datastore error (%d): %s", status, env.Error)
	}
	return fmt.Errorf("datastore error: unexpected status %d", status)
}

func (c *RESTClient) Insert(ctx context.Context, table string, payload operation.Row) ([]operation.Row, error) {
	env, status, err := c.do(ctx, http.MethodPost, c.tableURL(table), writeBody{Row: payload})
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, mapError(table, status, env)
	}
	return env.Rows, nil
}

func (c *RESTClient) Update(ctx context.Context, table string, payload operation.Row, filter operation.Filter) ([]operation.Row, error) {
	env, status, err := c.do(ctx, http.MethodPatch, c.tableURL(table), writeBody{Row: payload, Filter: filter})
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, mapError(table, status, env)
	}
	return env.Rows, nil
}

func (c *RESTClient) Delete(ctx context.Context, table string, filter operation.Filter) ([]operation.Row, error) {
	env, status, err := c.do(ctx, http.MethodDelete, c.tableURL(table), writeBody{Filter: filter})
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, mapError(table, status, env)
	}
	return env.Rows, nil
}

func (c *RESTClient) Select(ctx context.Context, table string, filter operation.Filter, limit int) ([]operation.Row, error) {
	env, status, err := c.do(ctx, http.MethodPost, c.tableURL(table)+"/query", writeBody{Filter: filter, Limit: limit})
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, mapError(table, status, env)
	}
	return env.Rows, nil
}

// BeginTransaction opens a server-side transaction. ErrTxnUnsupported is
// returned (and latched) when the server has no transactions endpoint.
func (c *RESTClient) BeginTransaction(ctx context.Context, id string) error {
	if c.txnUnsupported.Load() {
		return ErrTxnUnsupported
	}

	url := fmt.Sprintf("%s/api/v1/transactions", c.base)
	env, status, err := c.do(ctx, http.MethodPost, url, map[string]string{"id": id})
	if err != nil {
		return err
	}
	switch status {
	case http.StatusNotFound, http.StatusMethodNotAllowed, http.StatusNotImplemented:
		c.txnUnsupported.Store(true)
		log.Debug().Str("base", c.base).Msg("Datastore has no transaction endpoint, using fallback mode")
		return ErrTxnUnsupported
	}
	if status < 200 || status >= 300 {
		return mapError("", status, env)
	}
	c.currentTxn.Store(id)
	return nil
}

func (c *RESTClient) endTransaction(ctx context.Context, id, verb string) error {
	url := fmt.Sprintf("%s/api/v1/transactions/%s/%s", c.base, id, verb)
	env, status, err := c.do(ctx, http.MethodPost, url, nil)
	c.currentTxn.Store("")
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return mapError("", status, env)
	}
	return nil
}

// Commit finalizes a server-side transaction.
func (c *RESTClient) Commit(ctx context.Context, id string) error {
	return c.endTransaction(ctx, id, "commit")
}

// Rollback discards a server-side transaction.
func (c *RESTClient) Rollback(ctx context.Context, id string) error {
	return c.endTransaction(ctx, id, "rollback")
}
