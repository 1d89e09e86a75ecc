// Copyright 2025 Certen Protocol
//
// Package pgarchiver is a Postgres-backed implementation of the §4.5
// archiver contract, an alternative to pkg/archiver's kv.Store-backed
// default for deployments that already operate a Postgres fleet and want
// SQL-queryable block history.
//
// Grounded on the teacher's pkg/database/client.go (sql.Open("postgres",
// ...), connection-pool configuration, PingContext on startup) and
// pkg/database/repository_batch.go (context-scoped QueryRowContext/
// ExecContext repository methods, wrapped errors per call), adapted from
// anchor-batch rows to height-keyed block rows.
package pgarchiver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/cbdc-core/settlement/pkg/txmodel"
)

// ErrNotFound is returned by Get when no block exists at the requested
// height.
var ErrNotFound = errors.New("pgarchiver: no block at that height")

// Config controls the connection pool, mirroring the teacher's
// DatabaseMaxConns/MinConns/MaxIdleTime/MaxLifetime settings.
type Config struct {
	DatabaseURL     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

// Archiver persists blocks in a "settlement_blocks(height bigint primary key, body
// bytea not null)" table.
type Archiver struct {
	db *sql.DB
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS settlement_blocks (
	height BIGINT PRIMARY KEY,
	body   BYTEA NOT NULL
)`

// Open establishes a pooled connection and ensures the blocks table
// exists.
func Open(ctx context.Context, cfg Config) (*Archiver, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("pgarchiver: database URL cannot be empty")
	}
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("pgarchiver: open: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pgarchiver: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("pgarchiver: create table: %w", err)
	}
	return &Archiver{db: db}, nil
}

// Close releases the connection pool.
func (a *Archiver) Close() error { return a.db.Close() }

// Put is idempotent via ON CONFLICT DO UPDATE: writing the same height
// twice with the same body is a no-op in effect, matching §4.5's
// idempotent-put contract.
func (a *Archiver) Put(ctx context.Context, block txmodel.Block) error {
	body, err := block.MarshalBinary()
	if err != nil {
		return fmt.Errorf("pgarchiver: marshal block %d: %w", block.Height, err)
	}
	_, err = a.db.ExecContext(ctx, `
		INSERT INTO settlement_blocks (height, body) VALUES ($1, $2)
		ON CONFLICT (height) DO UPDATE SET body = EXCLUDED.body`,
		int64(block.Height), body)
	if err != nil {
		return fmt.Errorf("pgarchiver: put block %d: %w", block.Height, err)
	}
	return nil
}

// Get returns the block at height, or ErrNotFound.
func (a *Archiver) Get(ctx context.Context, height uint64) (txmodel.Block, error) {
	var body []byte
	err := a.db.QueryRowContext(ctx,
		`SELECT body FROM settlement_blocks WHERE height = $1`, int64(height)).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return txmodel.Block{}, ErrNotFound
	}
	if err != nil {
		return txmodel.Block{}, fmt.Errorf("pgarchiver: get block %d: %w", height, err)
	}
	block, err := txmodel.UnmarshalBlock(body)
	if err != nil {
		return txmodel.Block{}, fmt.Errorf("pgarchiver: decode block %d: %w", height, err)
	}
	return block, nil
}

// GetRange returns every persisted block with height in [lo, hi], in
// ascending height order.
func (a *Archiver) GetRange(ctx context.Context, lo, hi uint64) ([]txmodel.Block, error) {
	if hi < lo {
		return nil, nil
	}
	rows, err := a.db.QueryContext(ctx,
		`SELECT body FROM settlement_blocks WHERE height BETWEEN $1 AND $2 ORDER BY height ASC`,
		int64(lo), int64(hi))
	if err != nil {
		return nil, fmt.Errorf("pgarchiver: get range [%d,%d]: %w", lo, hi, err)
	}
	defer rows.Close()

	var out []txmodel.Block
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("pgarchiver: scan range row: %w", err)
		}
		block, err := txmodel.UnmarshalBlock(body)
		if err != nil {
			return nil, fmt.Errorf("pgarchiver: decode range row: %w", err)
		}
		out = append(out, block)
	}
	return out, rows.Err()
}

// LatestHeight returns the highest height ever Put, or 0 if empty.
func (a *Archiver) LatestHeight(ctx context.Context) (uint64, error) {
	var height sql.NullInt64
	err := a.db.QueryRowContext(ctx, `SELECT MAX(height) FROM settlement_blocks`).Scan(&height)
	if err != nil {
		return 0, fmt.Errorf("pgarchiver: latest height: %w", err)
	}
	if !height.Valid {
		return 0, nil
	}
	return uint64(height.Int64), nil
}
