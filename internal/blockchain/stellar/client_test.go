package stellar

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/chainwatch/internal/blockchain/transport"
	"github.com/irfndi/chainwatch/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	mgr := transport.NewEndpointManager([]models.RPCURL{{URL: srv.URL, Weight: 1}})
	return New(transport.NewTransport(mgr, nil))
}

func TestGetLedgersFollowsCursor(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		if calls == 1 {
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"ledgers":[{"sequence":100},{"sequence":101}],"cursor":"101"}}`))
		} else {
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"ledgers":[{"sequence":102}],"cursor":""}}`))
		}
	})

	ledgers, err := c.GetLedgers(context.Background(), 100, 102)
	require.NoError(t, err)
	require.Len(t, ledgers, 3)
	assert.Equal(t, uint64(102), ledgers[2].Sequence)
	assert.Equal(t, 2, calls)
}

func TestGetLedgersStopsAtEnd(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"ledgers":[{"sequence":100},{"sequence":200}],"cursor":"200"}}`))
	})

	ledgers, err := c.GetLedgers(context.Background(), 100, 150)
	require.NoError(t, err)
	require.Len(t, ledgers, 1)
	assert.Equal(t, uint64(100), ledgers[0].Sequence)
}

func TestGetLedgersRejectsInvertedRange(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not issue any request for an invalid range")
	})
	_, err := c.GetLedgers(context.Background(), 200, 100)
	require.Error(t, err)
}

func TestGetTransactionsClassifiesRetentionWindowError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32600,"message":"start ledger must be within the ledger range: [500, 1000]"}}`))
	})

	_, err := c.GetTransactions(context.Background(), 1, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside_retention_window")
}

func TestGetEventsUnmarshalsPage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		body, _ := json.Marshal(eventPage{
			Events: []models.StellarEvent{{ContractID: "C123", Ledger: 50}},
			Cursor: "",
		})
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":` + string(body) + `}`))
	})

	events, err := c.GetEvents(context.Background(), 1, 100)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "C123", events[0].ContractID)
}
