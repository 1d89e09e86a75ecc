// Copyright 2025 Certen Protocol
//
// Package bootstrap holds the cluster-wiring steps every cmd/*-node
// daemon otherwise duplicates: turning a loaded config.Config's indexed
// shard keys into a directory.Table, and dialing every peer a daemon's
// interfaces require. It has no teacher analog (the teacher is a single
// monolithic binary with no per-component daemon split) but reuses
// config.go's own fmt.Sprintf-indexed key convention for the scanning
// loops below.
package bootstrap

import (
	"fmt"

	"github.com/cbdc-core/settlement/pkg/config"
	"github.com/cbdc-core/settlement/pkg/directory"
	"github.com/cbdc-core/settlement/pkg/rpcclient"
)

// Directory builds the shard routing table from every shard{i}_start/end
// entry in cfg.
func Directory(cfg *config.Config) (*directory.Table, error) {
	n, err := cfg.ShardCount()
	if err != nil {
		return nil, fmt.Errorf("bootstrap: directory: %w", err)
	}
	ranges := make([]directory.Range, n)
	for i := 0; i < n; i++ {
		start, end, err := cfg.ShardRange(i)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: directory: shard %d: %w", i, err)
		}
		ranges[i] = directory.Range{ShardIndex: i, Start: start, End: end}
	}
	return directory.NewTable(ranges)
}

// ShardConns dials every shard endpoint in cfg, returning a map from
// shard index to an open Conn. Callers should Close every Conn on
// shutdown.
func ShardConns(cfg *config.Config) (map[int]*rpcclient.Conn, error) {
	n, err := cfg.ShardCount()
	if err != nil {
		return nil, fmt.Errorf("bootstrap: shard conns: %w", err)
	}
	out := make(map[int]*rpcclient.Conn, n)
	for i := 0; i < n; i++ {
		endpoint, err := cfg.ShardEndpoint(i)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: shard conns: shard %d: %w", i, err)
		}
		conn, err := rpcclient.Dial(endpoint)
		if err != nil {
			CloseAll(out)
			return nil, fmt.Errorf("bootstrap: dial shard %d at %s: %w", i, endpoint, err)
		}
		out[i] = conn
	}
	return out, nil
}

// AtomizerConn dials the first reachable atomizer replica in cfg, trying
// each atomizer{i}_endpoint in order. A real cluster would retry against
// the next replica on a leader redirect; this reference client dials the
// first replica and relies on replog.Log.Propose failing fast if it is
// not the leader.
func AtomizerConn(cfg *config.Config) (*rpcclient.Conn, error) {
	n, err := cfg.AtomizerCount()
	if err != nil {
		return nil, fmt.Errorf("bootstrap: atomizer conn: %w", err)
	}
	var lastErr error
	for i := 0; i < n; i++ {
		endpoint, err := cfg.AtomizerEndpoint(i)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: atomizer conn: replica %d: %w", i, err)
		}
		conn, err := rpcclient.Dial(endpoint)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("bootstrap: no atomizer replica reachable: %w", lastErr)
}

// CoordinatorConn dials the first reachable replica of coordinator
// cluster i.
func CoordinatorConn(cfg *config.Config, i int) (*rpcclient.Conn, error) {
	n, err := cfg.CoordinatorReplicaCount(i)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: coordinator %d conn: %w", i, err)
	}
	var lastErr error
	for j := 0; j < n; j++ {
		endpoint, err := cfg.CoordinatorEndpoint(i, j)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: coordinator %d conn: replica %d: %w", i, j, err)
		}
		conn, err := rpcclient.Dial(endpoint)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("bootstrap: no replica of coordinator %d reachable: %w", i, lastErr)
}

// SentinelConns dials every sentinel endpoint in cfg other than skipIndex
// (a sentinel's own index, so it never dials itself as a peer).
func SentinelConns(cfg *config.Config, skipIndex int) (map[int]*rpcclient.Conn, error) {
	n, err := cfg.SentinelCount()
	if err != nil {
		return nil, fmt.Errorf("bootstrap: sentinel conns: %w", err)
	}
	out := make(map[int]*rpcclient.Conn, n)
	for i := 0; i < n; i++ {
		if i == skipIndex {
			continue
		}
		endpoint, err := cfg.SentinelEndpoint(i)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: sentinel conns: sentinel %d: %w", i, err)
		}
		conn, err := rpcclient.Dial(endpoint)
		if err != nil {
			CloseAll(out)
			return nil, fmt.Errorf("bootstrap: dial sentinel %d at %s: %w", i, endpoint, err)
		}
		out[i] = conn
	}
	return out, nil
}

// CloseAll closes every Conn in conns, ignoring individual close errors
// (used for best-effort cleanup after a partial dial failure).
func CloseAll(conns map[int]*rpcclient.Conn) {
	for _, c := range conns {
		_ = c.Close()
	}
}
