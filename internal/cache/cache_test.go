package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/chainwatch/internal/models"
)

func TestInProcessCacheRoundTrip(t *testing.T) {
	c := NewInProcess()
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "ethereum-mainnet", "0xUSDC")
	require.NoError(t, err)
	assert.False(t, ok)

	spec := models.ContractSpec{Kind: models.ContractSpecEVM, EVM: &models.EVMContractSpec{}}
	require.NoError(t, c.Set(ctx, "ethereum-mainnet", "0xUSDC", spec))

	got, ok, err := c.Get(ctx, "ethereum-mainnet", "0xUSDC")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.ContractSpecEVM, got.Kind)
}

func TestStatsTracksHitsAndMisses(t *testing.T) {
	c := NewInProcess()
	ctx := context.Background()

	_, _, _ = c.Get(ctx, "net", "addr") // miss
	_ = c.Set(ctx, "net", "addr", models.ContractSpec{})
	_, _, _ = c.Get(ctx, "net", "addr") // hit

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate(), 0.0001)
}

func TestHitRateWithNoData(t *testing.T) {
	var s Stats
	assert.Equal(t, float64(0), s.HitRate())
}
