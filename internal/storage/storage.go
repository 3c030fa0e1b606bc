// Package storage persists BlockWatcher's per-network progress (and,
// optionally, raw block bodies) to Postgres, following the teacher's
// database.DB connection/pooling/instrumentation pattern adapted from a
// user-service datastore to a block-progress ledger (spec.md §4.3).
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/XSAM/otelsql"
	_ "github.com/lib/pq"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	appErrors "github.com/irfndi/chainwatch/internal/errors"
)

// Config is the Postgres connection configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (c Config) dsn() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// BlockStorage wraps a *sql.DB with the last-processed-block and optional
// raw-block-cache operations BlockWatcher needs.
type BlockStorage struct {
	db *sql.DB
}

// NewBlockStorage opens a plain (uninstrumented) connection, tuning the pool
// the same way the teacher's NewConnection does.
func NewBlockStorage(cfg Config) (*BlockStorage, error) {
	db, err := sql.Open("postgres", cfg.dsn())
	if err != nil {
		return nil, appErrors.NewInternalError(err, "opening postgres connection")
	}
	configurePool(db)
	if err := db.Ping(); err != nil {
		return nil, appErrors.NewInternalError(err, "pinging postgres")
	}
	return &BlockStorage{db: db}, nil
}

// NewInstrumentedBlockStorage opens a connection wrapped by otelsql, so every
// query emits OTEL spans and the driver's connection-pool metrics are
// registered globally, mirroring the teacher's NewInstrumentedConnection.
func NewInstrumentedBlockStorage(cfg Config) (*BlockStorage, error) {
	db, err := otelsql.Open("postgres", cfg.dsn(), otelsql.WithAttributes(
		semconv.DBSystemPostgreSQL,
		semconv.DBName(cfg.DBName),
		semconv.NetPeerName(cfg.Host),
		semconv.NetPeerPort(cfg.Port),
	))
	if err != nil {
		return nil, appErrors.NewInternalError(err, "opening instrumented postgres connection")
	}
	configurePool(db)
	if err := db.Ping(); err != nil {
		return nil, appErrors.NewInternalError(err, "pinging postgres")
	}
	if err := otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(semconv.DBName(cfg.DBName))); err != nil {
		return nil, appErrors.NewInternalError(err, "registering db stats metrics")
	}
	return &BlockStorage{db: db}, nil
}

func configurePool(db *sql.DB) {
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
}

// Health pings the underlying connection.
func (s *BlockStorage) Health(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return appErrors.NewInternalError(err, "postgres health check")
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *BlockStorage) Close() error { return s.db.Close() }

// Migrate creates the tables BlockStorage needs if they do not already
// exist. Called once at startup; there is no migration framework, matching
// the teacher's plain-SQL approach.
func (s *BlockStorage) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS last_processed_block (
			network_slug TEXT PRIMARY KEY,
			block_number BIGINT NOT NULL,
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS stored_blocks (
			network_slug TEXT NOT NULL,
			block_number BIGINT NOT NULL,
			payload      JSONB NOT NULL,
			PRIMARY KEY (network_slug, block_number)
		);
	`)
	if err != nil {
		return appErrors.NewInternalError(err, "running schema migration")
	}
	return nil
}

// GetLastProcessedBlock returns the last block number recorded for slug, and
// false if none has ever been recorded (fresh-start case, spec.md §4.7).
func (s *BlockStorage) GetLastProcessedBlock(ctx context.Context, slug string) (uint64, bool, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT block_number FROM last_processed_block WHERE network_slug = $1`, slug).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, appErrors.NewInternalError(err, "loading last processed block for %s", slug)
	}
	return uint64(n), true, nil
}

// SaveLastProcessedBlock upserts slug's progress marker.
func (s *BlockStorage) SaveLastProcessedBlock(ctx context.Context, slug string, number uint64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO last_processed_block (network_slug, block_number, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (network_slug) DO UPDATE SET block_number = EXCLUDED.block_number, updated_at = now()
	`, slug, int64(number))
	if err != nil {
		return appErrors.NewInternalError(err, "saving last processed block for %s", slug)
	}
	return nil
}

// SaveBlocks persists raw block payloads for networks configured with
// store_blocks=true. payloads is keyed by block number; deletion of the
// superseded range must happen first (see DeleteBlocks) per spec.md §4.3's
// delete-then-save ordering invariant.
func (s *BlockStorage) SaveBlocks(ctx context.Context, slug string, payloads map[uint64][]byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return appErrors.NewInternalError(err, "beginning save-blocks transaction")
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	for number, payload := range payloads {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO stored_blocks (network_slug, block_number, payload)
			VALUES ($1, $2, $3)
			ON CONFLICT (network_slug, block_number) DO UPDATE SET payload = EXCLUDED.payload
		`, slug, int64(number), payload); err != nil {
			_ = tx.Rollback()
			return appErrors.NewInternalError(err, "saving block %d for %s", number, slug)
		}
	}

	if err := tx.Commit(); err != nil {
		return appErrors.NewInternalError(err, "committing save-blocks transaction")
	}
	return nil
}

// DeleteBlocks removes the entire previous raw-block snapshot for slug. Per
// spec.md §4.3 this MUST run, and succeed, before SaveBlocks writes the new
// tick's blocks: a BlockWatcher tick calls delete-then-save, aborting before
// the save if delete fails.
func (s *BlockStorage) DeleteBlocks(ctx context.Context, slug string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM stored_blocks WHERE network_slug = $1`, slug)
	if err != nil {
		return appErrors.NewInternalError(err, "deleting stored blocks for %s", slug)
	}
	return nil
}

// WithTransaction runs fn inside a transaction, rolling back on error or
// panic and committing otherwise, matching the teacher's helper shape.
func (s *BlockStorage) WithTransaction(ctx context.Context, fn func(*sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return appErrors.NewInternalError(err, "beginning transaction")
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	return fn(tx)
}
