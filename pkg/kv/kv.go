// Copyright 2025 Certen Protocol
//
// Package kv defines the ordered key-value store interface the archiver
// persists blocks through. Per spec §1, the on-disk format of shards and
// archivers is out of scope and is treated as an opaque ordered map; this
// interface is that map. Concrete backends (in-memory, CometBFT-DB-backed)
// live in kv/memdb and kv/cometbftdb.
package kv

import "errors"

// ErrNotFound is returned by Get when key is absent.
var ErrNotFound = errors.New("kv: key not found")

// Store is the narrow ordered key-value interface every persistence
// backend implements, grounded on the teacher's pkg/ledger.KV /
// pkg/kvdb.KVAdapter shape (Get/Set over []byte, nil meaning absent).
type Store interface {
	// Get returns the value for key, or (nil, nil) if absent.
	Get(key []byte) ([]byte, error)
	// Set durably writes key/value; durability-before-ack is a backend
	// concern (§6 "each put atomic and durable").
	Set(key, value []byte) error
	// Has reports whether key is present without paying for the value.
	Has(key []byte) (bool, error)
	// Delete removes key; deleting an absent key is a no-op.
	Delete(key []byte) error
	// Iterator walks [start, end) in key order; end == nil means "to the
	// end of the keyspace". Callers must Close the returned Iterator.
	Iterator(start, end []byte) (Iterator, error)
	// Close releases backend resources.
	Close() error
}

// Iterator walks a key range in ascending order.
type Iterator interface {
	Valid() bool
	Next()
	Key() []byte
	Value() []byte
	Close() error
}

// Batch is an optional bulk-write extension; backends that support
// atomic multi-key commits implement it. The locking shard keeps its
// keys in memory and does not use it.
type Batch interface {
	NewBatch() WriteBatch
}

// WriteBatch accumulates writes for atomic commit.
type WriteBatch interface {
	Set(key, value []byte)
	Delete(key []byte)
	Commit() error
}
