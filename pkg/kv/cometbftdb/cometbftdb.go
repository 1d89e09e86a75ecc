// Copyright 2025 Certen Protocol
//
// Package cometbftdb adapts github.com/cometbft/cometbft-db's dbm.DB to
// the kv.Store interface, the production-grade counterpart to kv/memdb.
// Grounded directly on the teacher's pkg/kvdb.KVAdapter, which wraps the
// same dbm.DB for its LedgerStore.
package cometbftdb

import (
	dbm "github.com/cometbft/cometbft-db"

	"github.com/cbdc-core/settlement/pkg/kv"
)

// DB wraps a CometBFT dbm.DB and exposes the kv.Store interface, so the
// archiver can be backed by any dbm.DB implementation
// (memdb, goleveldb, badgerdb, pebbledb, rocksdb).
type DB struct {
	inner dbm.DB
}

// New wraps an already-opened dbm.DB.
func New(inner dbm.DB) *DB { return &DB{inner: inner} }

// Get implements kv.Store.Get; dbm.DB already returns nil for an absent
// key, so it maps straight through.
func (d *DB) Get(key []byte) ([]byte, error) { return d.inner.Get(key) }

func (d *DB) Has(key []byte) (bool, error) { return d.inner.Has(key) }

// Set uses SetSync for durable writes, matching the teacher's choice to
// use SetSync "for durable writes at commit time".
func (d *DB) Set(key, value []byte) error { return d.inner.SetSync(key, value) }

func (d *DB) Delete(key []byte) error { return d.inner.DeleteSync(key) }

func (d *DB) Close() error { return d.inner.Close() }

func (d *DB) Iterator(start, end []byte) (kv.Iterator, error) {
	it, err := d.inner.Iterator(start, end)
	if err != nil {
		return nil, err
	}
	return &iterAdapter{it: it}, nil
}

// NewBatch implements kv.Batch for atomic multi-key commits.
func (d *DB) NewBatch() kv.WriteBatch {
	return &batchAdapter{batch: d.inner.NewBatch()}
}

type iterAdapter struct{ it dbm.Iterator }

func (a *iterAdapter) Valid() bool    { return a.it.Valid() }
func (a *iterAdapter) Next()          { a.it.Next() }
func (a *iterAdapter) Key() []byte    { return a.it.Key() }
func (a *iterAdapter) Value() []byte  { return a.it.Value() }
func (a *iterAdapter) Close() error   { return a.it.Close() }

type batchAdapter struct{ batch dbm.Batch }

func (b *batchAdapter) Set(key, value []byte) { _ = b.batch.Set(key, value) }
func (b *batchAdapter) Delete(key []byte)     { _ = b.batch.Delete(key) }
func (b *batchAdapter) Commit() error         { return b.batch.WriteSync() }
