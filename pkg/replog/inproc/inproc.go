// Copyright 2025 Certen Protocol
//
// Package inproc is a single-node reference implementation of replog.Log:
// Propose applies the entry to the local Applier synchronously and
// returns. It has no peers and no network, which is sufficient for the
// deterministic unit and integration tests in this repository (§10.4) and
// for a single-node development topology; a real deployment backs the
// same replog.Log interface with replog/abci over an actual CometBFT
// cluster instead.
package inproc

import (
	"context"
	"sync"

	"github.com/cbdc-core/settlement/pkg/replog"
)

// Log is an in-process, single-replica replog.Log.
type Log struct {
	mu      sync.Mutex
	applier replog.Applier
	last    replog.AppliedIndex
}

// New returns a Log that applies every proposed entry to applier.
func New(applier replog.Applier) *Log {
	return &Log{applier: applier}
}

func (l *Log) Propose(ctx context.Context, entry replog.Entry) (replog.AppliedIndex, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.last++
	idx := l.last
	l.applier.Apply(idx, entry)
	return idx, nil
}

func (l *Log) LastApplied() replog.AppliedIndex {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

// IsLeader is always true: a single in-process replica is trivially its
// own leader.
func (l *Log) IsLeader() bool { return true }

func (l *Log) Close() error { return nil }
