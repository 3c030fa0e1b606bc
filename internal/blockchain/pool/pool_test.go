package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/irfndi/chainwatch/internal/models"
)

func TestFingerprintStableUnderReordering(t *testing.T) {
	a := models.Network{RPCURLs: []models.RPCURL{{URL: "https://a/"}, {URL: "https://b/"}}}
	b := models.Network{RPCURLs: []models.RPCURL{{URL: "https://b/"}, {URL: "https://a/"}}}
	assert.Equal(t, Fingerprint(a), Fingerprint(b))
}

func TestFingerprintDiffersOnDifferentURLs(t *testing.T) {
	a := models.Network{RPCURLs: []models.RPCURL{{URL: "https://a/"}}}
	b := models.Network{RPCURLs: []models.RPCURL{{URL: "https://c/"}}}
	assert.NotEqual(t, Fingerprint(a), Fingerprint(b))
}

func TestEVMClientIsCachedByFingerprint(t *testing.T) {
	p := New(nil)
	n := models.Network{Type: models.ChainEVM, RPCURLs: []models.RPCURL{{URL: "https://rpc.example/", Weight: 1}}}

	first := p.EVMClient(n)
	second := p.EVMClient(n)
	assert.Same(t, first, second)
}

func TestStellarClientIsCachedByFingerprint(t *testing.T) {
	p := New(nil)
	n := models.Network{Type: models.ChainStellar, RPCURLs: []models.RPCURL{{URL: "https://soroban.example/", Weight: 1}}}

	first := p.StellarClient(n)
	second := p.StellarClient(n)
	assert.Same(t, first, second)
}
