package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.MetricsEnabled)
	assert.Nil(t, cfg.Block)
}

func TestLoadBlockRequiresNetwork(t *testing.T) {
	_, err := Load([]string{"--block", "100"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--block requires --network")
}

func TestLoadOneShotMode(t *testing.T) {
	cfg, err := Load([]string{"--network", "ethereum-mainnet", "--block", "12345"})
	require.NoError(t, err)
	assert.Equal(t, "ethereum-mainnet", cfg.Network)
	require.NotNil(t, cfg.Block)
	assert.Equal(t, uint64(12345), *cfg.Block)
}

func TestLoadInvalidBlock(t *testing.T) {
	_, err := Load([]string{"--network", "x", "--block", "not-a-number"})
	require.Error(t, err)
}
