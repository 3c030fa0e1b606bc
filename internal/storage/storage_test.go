package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startPostgres spins up a disposable Postgres container for integration
// tests, following the teacher's testcontainers-go usage for datastore tests.
func startPostgres(t *testing.T) Config {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping testcontainers-backed test in -short mode")
	}

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "chainwatch",
			"POSTGRES_PASSWORD": "chainwatch",
			"POSTGRES_DB":       "chainwatch",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	return Config{
		Host:     host,
		Port:     port.Int(),
		User:     "chainwatch",
		Password: "chainwatch",
		DBName:   "chainwatch",
		SSLMode:  "disable",
	}
}

func TestBlockStorageLastProcessedBlockRoundTrip(t *testing.T) {
	cfg := startPostgres(t)
	store, err := NewBlockStorage(cfg)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Migrate(ctx))

	_, found, err := store.GetLastProcessedBlock(ctx, "ethereum-mainnet")
	require.NoError(t, err)
	require.False(t, found, "fresh network must report no last processed block")

	require.NoError(t, store.SaveLastProcessedBlock(ctx, "ethereum-mainnet", 100))
	n, found, err := store.GetLastProcessedBlock(ctx, "ethereum-mainnet")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(100), n)

	require.NoError(t, store.SaveLastProcessedBlock(ctx, "ethereum-mainnet", 150))
	n, _, err = store.GetLastProcessedBlock(ctx, "ethereum-mainnet")
	require.NoError(t, err)
	require.Equal(t, uint64(150), n)
}

func TestBlockStorageSaveAndDeleteBlocks(t *testing.T) {
	cfg := startPostgres(t)
	store, err := NewBlockStorage(cfg)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Migrate(ctx))

	require.NoError(t, store.SaveBlocks(ctx, "ethereum-mainnet", map[uint64][]byte{
		100: []byte(`{"number":"0x64"}`),
		101: []byte(`{"number":"0x65"}`),
		102: []byte(`{"number":"0x66"}`),
	}))

	require.NoError(t, store.DeleteBlocks(ctx, "ethereum-mainnet"))

	var remaining int
	require.NoError(t, store.db.QueryRowContext(ctx,
		`SELECT count(*) FROM stored_blocks WHERE network_slug = $1`, "ethereum-mainnet").Scan(&remaining))
	require.Equal(t, 0, remaining)
}
