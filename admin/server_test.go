package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallyops/tally/coordinator"
	"github.com/tallyops/tally/operation"
)

func testServer(recent *coordinator.RecentResults) *httptest.Server {
	s := NewServer("127.0.0.1:0", recent)
	return httptest.NewServer(s.srv.Handler)
}

func TestHealthz(t *testing.T) {
	srv := testServer(nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestTransactions_Empty(t *testing.T) {
	srv := testServer(coordinator.NewRecentResults(8))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/transactions")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTransactions_ListsRecent(t *testing.T) {
	recent := coordinator.NewRecentResults(8)
	recent.Add(&operation.TransactionResult{
		TransactionID: "txn-0000000000000001",
		Name:          "new-settlement",
		Status:        operation.StatusCommitted,
		Attempted:     2,
		Succeeded:     2,
	})
	srv := testServer(recent)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/transactions")
	require.NoError(t, err)
	defer resp.Body.Close()

	var results []operation.TransactionResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&results))
	require.Len(t, results, 1)
	assert.Equal(t, "txn-0000000000000001", results[0].TransactionID)
	assert.Equal(t, operation.StatusCommitted, results[0].Status)
}

func TestTransaction_ByID(t *testing.T) {
	recent := coordinator.NewRecentResults(8)
	recent.Add(&operation.TransactionResult{TransactionID: "txn-abc", Status: operation.StatusRolledBack})
	srv := testServer(recent)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/transactions/txn-abc")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result operation.TransactionResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, operation.StatusRolledBack, result.Status)
}

func TestTransaction_NotFound(t *testing.T) {
	srv := testServer(coordinator.NewRecentResults(8))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/transactions/txn-missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTransactions_NilRecent(t *testing.T) {
	srv := testServer(nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/transactions")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/transactions/txn-x")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
