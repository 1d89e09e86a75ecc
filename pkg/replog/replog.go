// Copyright 2025 Certen Protocol
//
// Package replog defines the "replicated log with snapshots" abstraction
// called for in spec §9: raft (or any other consensus) transport is out
// of scope (§1); every consensus-replicated component (atomizer, locking
// shard) is written against this interface instead of a concrete
// consensus library, so swapping in a real cluster later is a matter of
// providing a new Log implementation.
//
// The shape is grounded on the teacher's CometBFT ABCI integration
// (pkg/consensus/abci_validator.go): entries are proposed, applied to
// every replica in the same order, and the whole state can be snapshotted
// and restored. replog/abci adapts a real ABCI application to this
// interface; replog/inproc is a single-node reference implementation used
// by tests and by the default local topology.
package replog

import "context"

// Entry is an opaque, already-serialized log entry. Components choose
// their own encoding (the atomizer logs inserts and block cuts; the
// locking shard logs prepare/commit/rollback/finish).
type Entry []byte

// AppliedIndex is the position of an applied entry in the replicated log,
// monotonically increasing from 1.
type AppliedIndex uint64

// Applier is implemented by the owner of replicated state. Apply is
// called exactly once per entry, in log order, on every replica
// (including the one that proposed it) — this is the component's only
// permitted mutation path, per §5 "external calls enqueue log entries".
type Applier interface {
	Apply(index AppliedIndex, entry Entry)
	// Snapshot returns a serialized snapshot of the applier's entire
	// state as of the most recently applied index.
	Snapshot() ([]byte, error)
	// Restore replaces the applier's state with a previously produced
	// snapshot, used when a replica falls behind the log's retention
	// window.
	Restore(snapshot []byte) error
}

// Log is the abstract replicated log a component proposes entries into.
type Log interface {
	// Propose submits entry for replication and returns the index it was
	// applied at once a quorum has accepted it. Propose only returns
	// after the local Applier has observed Apply for this entry.
	Propose(ctx context.Context, entry Entry) (AppliedIndex, error)
	// LastApplied returns the highest index applied locally.
	LastApplied() AppliedIndex
	// IsLeader reports whether this replica currently drives proposals
	// (relevant to single-writer components like the atomizer's apply
	// loop and the coordinator/locking-shard leader).
	IsLeader() bool
	// Close stops the log and releases its resources.
	Close() error
}
