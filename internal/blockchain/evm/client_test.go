package evm

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

type rpcCall struct {
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	mgr := transport.NewEndpointManager([]models.RPCURL{{URL: srv.URL, Weight: 1}})
	return New(transport.NewTransport(mgr, nil))
}

func TestLatestBlockNumber(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"0x64"}`))
	})
	n, err := c.LatestBlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(100), n)
}

func TestGetBlocksPreservesOrder(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		var numberHex string
		_ = json.Unmarshal(body.Params[0], &numberHex)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"number":"` + numberHex + `","hash":"0xabc"}}`))
	})

	blocks, err := c.GetBlocks(context.Background(), 10, 15)
	require.NoError(t, err)
	require.Len(t, blocks, 6)
	for i, b := range blocks {
		assert.Equal(t, uint64(10+i), b.Number())
	}
}

func TestGetBlocksRejectsInvertedRange(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not issue any request for an invalid range")
	})
	_, err := c.GetBlocks(context.Background(), 20, 10)
	require.Error(t, err)
}

func TestGetLogsForBlocksSingleCall(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":[{"address":"0x1","topics":["0xdead"],"data":"0x","blockNumber":"0xa"}]}`))
	})

	logs, err := c.GetLogsForBlocks(context.Background(), 10, 20)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
	assert.Equal(t, 1, calls, "log range must be fetched with a single eth_getLogs call")
}
