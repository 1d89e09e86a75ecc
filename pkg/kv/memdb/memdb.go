// Copyright 2025 Certen Protocol
//
// Package memdb is an in-memory kv.Store used by default topologies and
// by every deterministic test in this repository (§10.4: tests avoid a
// real network or consensus cluster).
package memdb

import (
	"sort"
	"sync"

	"github.com/cbdc-core/settlement/pkg/kv"
)

// DB is a sorted in-memory map guarded by a single mutex, mirroring the
// "single recursive lock per shard" guidance in §5 for the simplest
// backend.
type DB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New returns an empty DB.
func New() *DB {
	return &DB{data: make(map[string][]byte)}
}

func (d *DB) Get(key []byte) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.data[string(key)]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (d *DB) Has(key []byte) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.data[string(key)]
	return ok, nil
}

func (d *DB) Set(key, value []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	d.data[string(key)] = cp
	return nil
}

func (d *DB) Delete(key []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.data, string(key))
	return nil
}

func (d *DB) Close() error { return nil }

// Iterator walks [start, end) in ascending key order over a point-in-time
// snapshot of the key set.
func (d *DB) Iterator(start, end []byte) (kv.Iterator, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	keys := make([]string, 0, len(d.data))
	for k := range d.data {
		if string(start) != "" && k < string(start) {
			continue
		}
		if end != nil && k >= string(end) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	vals := make([][]byte, len(keys))
	for i, k := range keys {
		vals[i] = d.data[k]
	}
	return &memIterator{keys: keys, vals: vals, pos: 0}, nil
}

// NewBatch implements kv.Batch.
func (d *DB) NewBatch() kv.WriteBatch {
	return &memBatch{db: d}
}

type memBatch struct {
	db      *DB
	sets    map[string][]byte
	deletes map[string]struct{}
}

func (b *memBatch) Set(key, value []byte) {
	if b.sets == nil {
		b.sets = make(map[string][]byte)
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	b.sets[string(key)] = cp
	if b.deletes != nil {
		delete(b.deletes, string(key))
	}
}

func (b *memBatch) Delete(key []byte) {
	if b.deletes == nil {
		b.deletes = make(map[string]struct{})
	}
	b.deletes[string(key)] = struct{}{}
	if b.sets != nil {
		delete(b.sets, string(key))
	}
}

func (b *memBatch) Commit() error {
	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	for k := range b.deletes {
		delete(b.db.data, k)
	}
	for k, v := range b.sets {
		b.db.data[k] = v
	}
	return nil
}

type memIterator struct {
	keys []string
	vals [][]byte
	pos  int
}

func (it *memIterator) Valid() bool { return it.pos < len(it.keys) }
func (it *memIterator) Next()       { it.pos++ }
func (it *memIterator) Key() []byte { return []byte(it.keys[it.pos]) }
func (it *memIterator) Value() []byte { return it.vals[it.pos] }
func (it *memIterator) Close() error { return nil }
