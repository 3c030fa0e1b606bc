// Package pool provides a process-wide cache of chain clients keyed by
// network fingerprint, so two networks (or a network reloaded unchanged)
// that share an RPC URL list share one Transport and EndpointManager
// instead of each BlockWatcher tick building fresh ones (spec.md §4.2.4).
package pool

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sort"
	"sync"

	"github.com/irfndi/chainwatch/internal/blockchain/evm"
	"github.com/irfndi/chainwatch/internal/blockchain/stellar"
	"github.com/irfndi/chainwatch/internal/blockchain/transport"
	"github.com/irfndi/chainwatch/internal/models"
)

// Fingerprint deterministically hashes a network's RPC URL list, sorted
// first, so that two Network configs with the same endpoints (in any order)
// resolve to the same pooled client.
func Fingerprint(n models.Network) string {
	urls := make([]string, len(n.RPCURLs))
	for i, u := range n.RPCURLs {
		urls[i] = u.URL
	}
	sort.Strings(urls)

	h := sha256.New()
	for _, u := range urls {
		h.Write([]byte(u))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Pool is a thread-safe, single-flight-on-create cache of chain clients,
// partitioned by chain type then by network fingerprint.
type Pool struct {
	mu         sync.Mutex
	evmClients map[string]*evm.Client
	stlClients map[string]*stellar.Client
	httpClient *http.Client
}

// New builds an empty Pool. httpClient may be nil to use transport's default.
func New(httpClient *http.Client) *Pool {
	return &Pool{
		evmClients: map[string]*evm.Client{},
		stlClients: map[string]*stellar.Client{},
		httpClient: httpClient,
	}
}

// EVMClient returns the pooled evm.Client for n, creating one if this is the
// first request for n's fingerprint.
func (p *Pool) EVMClient(n models.Network) *evm.Client {
	key := Fingerprint(n)

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.evmClients[key]; ok {
		return c
	}
	mgr := transport.NewEndpointManager(n.RPCURLs)
	t := transport.NewTransport(mgr, p.httpClient)
	c := evm.New(t)
	p.evmClients[key] = c
	return c
}

// StellarClient returns the pooled stellar.Client for n, creating one if
// this is the first request for n's fingerprint.
func (p *Pool) StellarClient(n models.Network) *stellar.Client {
	key := Fingerprint(n)

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.stlClients[key]; ok {
		return c
	}
	mgr := transport.NewEndpointManager(n.RPCURLs)
	t := transport.NewTransport(mgr, p.httpClient)
	c := stellar.New(t)
	p.stlClients[key] = c
	return c
}
