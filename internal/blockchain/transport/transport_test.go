package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/chainwatch/internal/models"
)

func TestEndpointManagerOrdersByWeightDescending(t *testing.T) {
	mgr := NewEndpointManager([]models.RPCURL{
		{URL: "low", Weight: 10},
		{URL: "high", Weight: 100},
		{URL: "mid", Weight: 50},
	})
	url, err := mgr.ActiveURL()
	require.NoError(t, err)
	assert.Equal(t, "high", url)
	assert.ElementsMatch(t, []string{"mid", "low"}, mgr.FallbackURLs())
}

// TestEndpointManagerRotateSwapsActiveAndFallback is spec.md §8 property 1:
// after a successful rotation, the new active URL was a prior fallback, the
// prior active URL is now a fallback, and set sizes are unchanged.
func TestEndpointManagerRotateSwapsActiveAndFallback(t *testing.T) {
	mgr := NewEndpointManager([]models.RPCURL{
		{URL: "a", Weight: 10},
		{URL: "b", Weight: 5},
		{URL: "c", Weight: 1},
	})
	firstActive, _ := mgr.ActiveURL()
	firstFallbacks := mgr.FallbackURLs()

	newURL, err := mgr.Rotate(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Contains(t, firstFallbacks, newURL)

	secondActive, _ := mgr.ActiveURL()
	assert.Equal(t, newURL, secondActive)
	assert.Contains(t, mgr.FallbackURLs(), firstActive)
	assert.Len(t, mgr.FallbackURLs(), len(firstFallbacks))
}

// TestEndpointManagerNoFallbackRotationFails is spec.md §8 property 2.
func TestEndpointManagerNoFallbackRotationFails(t *testing.T) {
	mgr := NewEndpointManager([]models.RPCURL{{URL: "only", Weight: 1}})
	before, _ := mgr.ActiveURL()

	_, err := mgr.Rotate(context.Background(), nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no fallback URLs")

	after, _ := mgr.ActiveURL()
	assert.Equal(t, before, after)
}

func TestEndpointManagerRotateFailsConnectLeavesStateUnchanged(t *testing.T) {
	mgr := NewEndpointManager([]models.RPCURL{
		{URL: "a", Weight: 10},
		{URL: "b", Weight: 5},
	})
	before, _ := mgr.ActiveURL()

	_, err := mgr.Rotate(context.Background(), func(context.Context, string) error {
		return assert.AnError
	}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect")

	after, _ := mgr.ActiveURL()
	assert.Equal(t, before, after)
}

func TestTransportSendRawRequestSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"0x1b4"}`))
	}))
	defer srv.Close()

	mgr := NewEndpointManager([]models.RPCURL{{URL: srv.URL, Weight: 1}})
	tr := NewTransport(mgr, nil)

	result, err := tr.SendRawRequest(context.Background(), "eth_blockNumber", []interface{}{})
	require.NoError(t, err)

	var hex string
	require.NoError(t, json.Unmarshal(result, &hex))
	assert.Equal(t, "0x1b4", hex)
}

// TestTransportRotatesOn429 is spec.md S2: a 429 on the active URL rotates
// to the fallback and the retried request succeeds there.
func TestTransportRotatesOn429(t *testing.T) {
	rateLimited := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer rateLimited.Close()

	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"success"}`))
	}))
	defer good.Close()

	mgr := NewEndpointManager([]models.RPCURL{
		{URL: rateLimited.URL, Weight: 100},
		{URL: good.URL, Weight: 1},
	})
	tr := NewTransport(mgr, nil)

	result, err := tr.SendRawRequest(context.Background(), "eth_blockNumber", []interface{}{})
	require.NoError(t, err)

	var s string
	require.NoError(t, json.Unmarshal(result, &s))
	assert.Equal(t, "success", s)

	active, _ := mgr.ActiveURL()
	assert.Equal(t, good.URL, active)
	assert.Contains(t, mgr.FallbackURLs(), rateLimited.URL)
}

// TestTransportOtherHTTPErrorsAreNotRotated covers spec.md §4.1 rule 3: a
// non-429 HTTP error is surfaced immediately without rotating.
func TestTransportOtherHTTPErrorsAreNotRotated(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	mgr := NewEndpointManager([]models.RPCURL{{URL: srv.URL, Weight: 1}})
	tr := NewTransport(mgr, nil)

	_, err := tr.SendRawRequest(context.Background(), "eth_blockNumber", []interface{}{})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "a 500 is terminal, not retried or rotated")
}

func TestTransportRPCErrorIsNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"method not found"}}`))
	}))
	defer srv.Close()

	mgr := NewEndpointManager([]models.RPCURL{{URL: srv.URL, Weight: 1}})
	tr := NewTransport(mgr, nil)

	_, err := tr.SendRawRequest(context.Background(), "eth_bogus", []interface{}{})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "an RPC-level error response must not be retried")
}

func TestTransportJSONParseFailureIsTerminal(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	mgr := NewEndpointManager([]models.RPCURL{{URL: srv.URL, Weight: 1}})
	tr := NewTransport(mgr, nil)

	_, err := tr.SendRawRequest(context.Background(), "eth_blockNumber", []interface{}{})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "a JSON parse failure must not be retried or rotated")
}
