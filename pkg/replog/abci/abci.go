// Copyright 2025 Certen Protocol
//
// Package abci adapts a CometBFT ABCI application to the replog.Log /
// replog.Applier interfaces, so a real BFT-replicated cluster can back
// the atomizer or a locking shard in production. Grounded on the
// teacher's pkg/consensus/abci_validator.go (ValidatorApp), which drives
// ledger commits off FinalizeBlock/Commit the same way this adapter
// drives replog.Applier.Apply off DeliverTx-equivalent processing.
//
// This package wires the interface; it does not start a CometBFT node
// (node wiring, RPC, and P2P transport are raft-transport-equivalent and
// out of scope per spec §1).
package abci

import (
	"context"
	"fmt"
	"sync"

	abcitypes "github.com/cometbft/cometbft/abci/types"

	"github.com/cbdc-core/settlement/pkg/replog"
)

// App adapts a replog.Applier to abcitypes.Application, so it can be
// handed to a CometBFT node as the consensus-driven state machine.
type App struct {
	abcitypes.BaseApplication

	mu      sync.Mutex
	applier replog.Applier
	height  int64
	pending []replog.Entry
}

// NewApp wraps applier for ABCI-driven replication.
func NewApp(applier replog.Applier) *App {
	return &App{applier: applier}
}

// CheckTx accepts every well-formed entry; domain-specific rejection
// (e.g. a malformed prepare/commit log record) happens in FinalizeBlock
// via Apply, mirroring teacher's split between cheap mempool admission
// and authoritative execution at commit time.
func (a *App) CheckTx(_ context.Context, req *abcitypes.RequestCheckTx) (*abcitypes.ResponseCheckTx, error) {
	if len(req.Tx) == 0 {
		return &abcitypes.ResponseCheckTx{Code: 1, Log: "empty entry"}, nil
	}
	return &abcitypes.ResponseCheckTx{Code: 0}, nil
}

// FinalizeBlock stages every transaction in the block for application at
// Commit, matching teacher's FinalizeBlock/Commit split.
func (a *App) FinalizeBlock(_ context.Context, req *abcitypes.RequestFinalizeBlock) (*abcitypes.ResponseFinalizeBlock, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	results := make([]*abcitypes.ExecTxResult, len(req.Txs))
	for i, tx := range req.Txs {
		a.pending = append(a.pending, replog.Entry(tx))
		results[i] = &abcitypes.ExecTxResult{Code: 0}
	}
	return &abcitypes.ResponseFinalizeBlock{TxResults: results}, nil
}

// Commit applies every entry staged by FinalizeBlock, in order, to the
// wrapped Applier, then advances the height.
func (a *App) Commit(_ context.Context, _ *abcitypes.RequestCommit) (*abcitypes.ResponseCommit, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.height++
	for _, e := range a.pending {
		a.applier.Apply(replog.AppliedIndex(a.height), e)
	}
	a.pending = nil
	return &abcitypes.ResponseCommit{}, nil
}

// Info reports the last committed height, used by CometBFT to resume a
// restarted replica at the right point in the log.
func (a *App) Info(_ context.Context, _ *abcitypes.RequestInfo) (*abcitypes.ResponseInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return &abcitypes.ResponseInfo{LastBlockHeight: a.height}, nil
}

// ListSnapshots/OfferSnapshot/LoadSnapshotChunk/ApplySnapshotChunk wire
// the Applier's Snapshot/Restore into CometBFT's state-sync protocol.
func (a *App) ListSnapshots(_ context.Context, _ *abcitypes.RequestListSnapshots) (*abcitypes.ResponseListSnapshots, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	snap, err := a.applier.Snapshot()
	if err != nil || len(snap) == 0 {
		return &abcitypes.ResponseListSnapshots{}, nil
	}
	return &abcitypes.ResponseListSnapshots{
		Snapshots: []*abcitypes.Snapshot{{Height: uint64(a.height), Format: 1, Chunks: 1}},
	}, nil
}

func (a *App) OfferSnapshot(_ context.Context, _ *abcitypes.RequestOfferSnapshot) (*abcitypes.ResponseOfferSnapshot, error) {
	return &abcitypes.ResponseOfferSnapshot{Result: abcitypes.ResponseOfferSnapshot_ACCEPT}, nil
}

func (a *App) LoadSnapshotChunk(_ context.Context, _ *abcitypes.RequestLoadSnapshotChunk) (*abcitypes.ResponseLoadSnapshotChunk, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	snap, err := a.applier.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("abci: snapshot: %w", err)
	}
	return &abcitypes.ResponseLoadSnapshotChunk{Chunk: snap}, nil
}

func (a *App) ApplySnapshotChunk(_ context.Context, req *abcitypes.RequestApplySnapshotChunk) (*abcitypes.ResponseApplySnapshotChunk, error) {
	if err := a.applier.Restore(req.Chunk); err != nil {
		return &abcitypes.ResponseApplySnapshotChunk{Result: abcitypes.ResponseApplySnapshotChunk_ABORT}, nil
	}
	return &abcitypes.ResponseApplySnapshotChunk{Result: abcitypes.ResponseApplySnapshotChunk_ACCEPT}, nil
}
