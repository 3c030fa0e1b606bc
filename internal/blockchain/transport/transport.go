// Package transport implements the JSON-RPC 2.0 transport shared by the EVM
// and Stellar chain clients: request/response envelopes, an EndpointManager
// that rotates across a network's weighted RPC URL list on failure, and a
// Transport that retries a request with exponential backoff before giving up
// (spec.md §4.1).
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	appErrors "github.com/irfndi/chainwatch/internal/errors"
	"github.com/irfndi/chainwatch/internal/models"
)

// rawRequest is the JSON-RPC 2.0 envelope sent on the wire.
type rawRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int         `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

// rawResponse is the JSON-RPC 2.0 envelope received on the wire.
type rawResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// EndpointManager owns a network's active RPC URL and its ordered fallback
// list (spec.md §4.1). Reads take a read-lock; the whole rotate-to-a-new-URL
// ceremony is serialized by a dedicated mutex so two concurrent rotations
// never interleave their snapshot/validate/swap steps.
type EndpointManager struct {
	rotationMu sync.Mutex
	mu         sync.RWMutex
	active     string
	fallbacks  []string
}

// NewEndpointManager orders urls by descending weight; the highest-weight
// URL starts active, the rest start as fallbacks in their resulting order.
// Construction does not probe connectivity — callers that want the "first
// URL that returns 2xx" behaviour of spec.md §4.1's last paragraph should use
// Dial.
func NewEndpointManager(urls []models.RPCURL) *EndpointManager {
	ordered := make([]models.RPCURL, len(urls))
	copy(ordered, urls)
	for i := 0; i < len(ordered); i++ {
		best := i
		for j := i + 1; j < len(ordered); j++ {
			if ordered[j].Weight > ordered[best].Weight {
				best = j
			}
		}
		ordered[i], ordered[best] = ordered[best], ordered[i]
	}
	m := &EndpointManager{}
	if len(ordered) > 0 {
		m.active = ordered[0].URL
		for _, u := range ordered[1:] {
			m.fallbacks = append(m.fallbacks, u.URL)
		}
	}
	return m
}

// ActiveURL returns the URL currently selected for requests.
func (m *EndpointManager) ActiveURL() (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active == "" {
		return "", appErrors.NewURLRotationError(nil, "endpoint manager has no active url")
	}
	return m.active, nil
}

// FallbackURLs returns a copy of the current fallback list, in order.
func (m *EndpointManager) FallbackURLs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.fallbacks))
	copy(out, m.fallbacks)
	return out
}

// Rotate performs the rotation ceremony of spec.md §4.1: select the first
// fallback distinct from the current active URL, validate it via tryConnect
// and updateClient (either may be nil to skip that check), then atomically
// swap it in as active and push the old active onto the back of the
// fallback list. No writer holds the RW-lock across tryConnect/updateClient.
func (m *EndpointManager) Rotate(ctx context.Context, tryConnect func(context.Context, string) error, updateClient func(string) error) (string, error) {
	m.rotationMu.Lock()
	defer m.rotationMu.Unlock()

	m.mu.RLock()
	active := m.active
	fallbacks := append([]string(nil), m.fallbacks...)
	m.mu.RUnlock()

	var candidate string
	var rest []string
	for i, u := range fallbacks {
		if u != active {
			candidate = u
			rest = append(append([]string{}, fallbacks[:i]...), fallbacks[i+1:]...)
			break
		}
	}
	if candidate == "" {
		return "", appErrors.NewURLRotationError(nil, "no fallback URLs")
	}

	if tryConnect != nil {
		if err := tryConnect(ctx, candidate); err != nil {
			return "", appErrors.NewURLRotationError(err, "failed to connect")
		}
	}
	if updateClient != nil {
		if err := updateClient(candidate); err != nil {
			return "", appErrors.NewURLRotationError(err, "failed to update client")
		}
	}

	m.mu.Lock()
	m.active = candidate
	m.fallbacks = append(rest, active)
	m.mu.Unlock()
	return candidate, nil
}

// requestOutcome classifies what happened to one HTTP attempt so
// SendRawRequest's retry loop can apply spec.md §4.1's rotation policy.
type requestOutcome int

const (
	outcomeOK requestOutcome = iota
	outcomeRotateAndRetry    // 429 or network-layer error
	outcomeTerminal          // any other HTTP error, or a JSON parse failure
	outcomeRPCError          // a well-formed JSON-RPC error response
)

// Transport sends JSON-RPC 2.0 requests against an EndpointManager's current
// URL, rotating to the next URL and retrying with exponential backoff when a
// request fails at the network layer or returns 429.
type Transport struct {
	httpClient *http.Client
	manager    *EndpointManager
	maxRetries uint64
	testMethod string
}

// NewTransport builds a Transport over manager. A nil httpClient gets a
// sensible default timeout (30s total, matching spec.md §5's pool default).
func NewTransport(manager *EndpointManager, httpClient *http.Client) *Transport {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Transport{httpClient: httpClient, manager: manager, maxRetries: 3, testMethod: "net_version"}
}

// Dial tries manager's URLs in their already-weight-sorted order (active
// first, then each fallback) with a test payload, adopting the first one
// that answers with HTTP 2xx as active — spec.md §4.1's initial-connection
// rule. It does not fail construction if every URL is unreachable; the
// caller learns that on the first real SendRawRequest.
func (t *Transport) Dial(ctx context.Context) {
	urls := append([]string{}, mustActive(t.manager))
	urls = append(urls, t.manager.FallbackURLs()...)
	for _, u := range urls {
		if err := t.tryConnect(ctx, u); err == nil {
			for i := 0; i < len(urls) && u != mustActive(t.manager); i++ {
				if _, err := t.manager.Rotate(ctx, nil, nil); err != nil {
					break
				}
			}
			return
		}
	}
}

func mustActive(m *EndpointManager) string {
	u, err := m.ActiveURL()
	if err != nil {
		return ""
	}
	return u
}

// tryConnect issues the configured health-check method against url and
// succeeds on any HTTP 2xx response, regardless of JSON-RPC body contents.
func (t *Transport) tryConnect(ctx context.Context, u string) error {
	body, _ := json.Marshal(rawRequest{JSONRPC: "2.0", ID: 1, Method: t.testMethod, Params: nil})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return nil
}

// updateClient validates that url parses as an absolute HTTP(S) URL. There is
// no persistent client-side connection to rebuild (net/http dials lazily),
// so this is the full "update the client" step for this transport.
func (t *Transport) updateClient(u string) error {
	parsed, err := url.Parse(u)
	if err != nil {
		return err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid rpc url %q", u)
	}
	return nil
}

// SendRawRequest issues method(params) as a JSON-RPC 2.0 call, rotating to a
// fallback endpoint and retrying on 429 or a network-layer error, and
// surfacing any other HTTP error or JSON parse failure immediately without
// rotating (spec.md §4.1).
func (t *Transport) SendRawRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	body, err := json.Marshal(rawRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return nil, appErrors.NewRequestSerializationError(err, "marshal request for %s", method)
	}

	var result json.RawMessage
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), t.maxRetries)

	op := func() error {
		u, err := t.manager.ActiveURL()
		if err != nil {
			return backoff.Permanent(err)
		}

		resp, outcome, opErr := t.attempt(ctx, u, body)
		switch outcome {
		case outcomeOK:
			result = resp.Result
			return nil
		case outcomeRPCError:
			return backoff.Permanent(resp.Error)
		case outcomeTerminal:
			return backoff.Permanent(opErr)
		case outcomeRotateAndRetry:
			if _, rotErr := t.manager.Rotate(ctx, t.tryConnect, t.updateClient); rotErr != nil {
				return backoff.Permanent(rotErr)
			}
			return opErr
		default:
			return backoff.Permanent(opErr)
		}
	}

	if err := backoff.Retry(op, backoff.WithContext(policy, ctx)); err != nil {
		var rpcErr *rpcError
		if asRPCError(err, &rpcErr) {
			return nil, appErrors.NewRPCError(rpcErr, "%s: %s", method, rpcErr.Message).
				WithMetadata("rpc_code", rpcErr.Code)
		}
		if ae, ok := err.(*appErrors.AppError); ok {
			return nil, ae
		}
		return nil, appErrors.NewHTTPError(err, "%s: all endpoints exhausted", method)
	}
	return result, nil
}

// attempt performs one HTTP POST and classifies the outcome per spec.md
// §4.1's rotation policy: 429 and network/connect errors rotate-and-retry;
// any other non-2xx status and JSON parse failures are terminal; a
// well-formed JSON-RPC error is returned for the caller to surface as-is.
func (t *Transport) attempt(ctx context.Context, u string, body []byte) (*rawResponse, requestOutcome, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, outcomeTerminal, appErrors.NewRequestSerializationError(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, outcomeRotateAndRetry, appErrors.NewNetworkError(err, "POST %s", u)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, outcomeRotateAndRetry, appErrors.NewNetworkError(err, "reading response body from %s", u)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, outcomeRotateAndRetry, appErrors.NewHTTPError(nil, "%s: HTTP 429", u)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, outcomeTerminal, appErrors.NewHTTPError(nil, "%s: HTTP %d: %s", u, resp.StatusCode, string(data))
	}

	var parsed rawResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, outcomeTerminal, appErrors.NewResponseParseError(err, "unmarshal response from %s", u)
	}
	if parsed.Error != nil {
		return &parsed, outcomeRPCError, parsed.Error
	}
	return &parsed, outcomeOK, nil
}

func asRPCError(err error, target **rpcError) bool {
	if re, ok := err.(*rpcError); ok {
		*target = re
		return true
	}
	type unwrapper interface{ Unwrap() error }
	if u, ok := err.(unwrapper); ok && u.Unwrap() != nil {
		return asRPCError(u.Unwrap(), target)
	}
	return false
}
