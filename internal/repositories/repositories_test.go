package repositories

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadAndValidateHappyPath(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "networks", "ethereum-mainnet.json"), `{
		"slug": "ethereum-mainnet",
		"type": "EVM",
		"rpc_urls": [{"url": "https://rpc.example/", "weight": 100, "type": "rpc"}],
		"block_time_ms": 12000,
		"confirmation_blocks": 12,
		"cron_schedule": "*/15 * * * * *"
	}`)
	writeFile(t, filepath.Join(dir, "monitors", "usdc-transfers.json"), `{
		"name": "usdc-transfers",
		"networks": ["ethereum-mainnet"],
		"addresses": [{"address": "0xA0b8"}],
		"match_conditions": {"events": [{"signature": "Transfer(address,address,uint256)"}]},
		"triggers": ["slack-alerts"]
	}`)
	writeFile(t, filepath.Join(dir, "triggers", "slack-alerts.json"), `{
		"name": "slack-alerts",
		"kind": "Slack",
		"message": {"title": "match", "body": "hit"},
		"slack": {"webhook_url": "https://hooks.slack.com/x"}
	}`)

	repo, err := Load(dir)
	require.NoError(t, err)
	require.NoError(t, repo.ValidateAll())

	assert.Len(t, repo.Networks, 1)
	assert.Len(t, repo.Monitors, 1)
	assert.Len(t, repo.Triggers, 1)

	matched := repo.NetworkMonitors("ethereum-mainnet")
	require.Len(t, matched, 1)
	assert.Equal(t, "usdc-transfers", matched[0].Name)
}

func TestValidateAllCatchesUnknownNetwork(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "monitors", "orphan.json"), `{
		"name": "orphan",
		"networks": ["does-not-exist"],
		"triggers": []
	}`)

	repo, err := Load(dir)
	require.NoError(t, err)

	err = repo.ValidateAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown network")
}

func TestValidateAllCatchesUnknownTrigger(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "networks", "net.json"), `{
		"slug": "net", "type": "EVM",
		"rpc_urls": [{"url": "https://x/", "weight": 1, "type": "rpc"}],
		"block_time_ms": 1000, "confirmation_blocks": 1, "cron_schedule": "* * * * * *"
	}`)
	writeFile(t, filepath.Join(dir, "monitors", "m.json"), `{
		"name": "m", "networks": ["net"], "triggers": ["missing-trigger"]
	}`)

	repo, err := Load(dir)
	require.NoError(t, err)

	err = repo.ValidateAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown trigger")
}

func TestMissingDirectoriesAreEmptyNotError(t *testing.T) {
	repo, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, repo.Networks)
	assert.Empty(t, repo.Monitors)
	assert.Empty(t, repo.Triggers)
}

func TestPausedMonitorsExcludedFromNetworkMonitors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "networks", "net.json"), `{
		"slug": "net", "type": "EVM",
		"rpc_urls": [{"url": "https://x/", "weight": 1, "type": "rpc"}],
		"block_time_ms": 1000, "confirmation_blocks": 1, "cron_schedule": "* * * * * *"
	}`)
	writeFile(t, filepath.Join(dir, "monitors", "m.json"), `{
		"name": "m", "paused": true, "networks": ["net"], "triggers": []
	}`)

	repo, err := Load(dir)
	require.NoError(t, err)
	assert.Empty(t, repo.NetworkMonitors("net"))
}
