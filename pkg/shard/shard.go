// Copyright 2025 Certen Protocol
//
// Package shard implements §4.4: an atomizer-mode shard holds the
// range-restricted slice of the UTXO set it is authoritative for, checks
// each arriving CTX's in-range inputs against that set, and forwards a
// tx to the atomizer once every in-range input has been confirmed
// present.
//
// Grounded on the teacher's pkg/batch/consensus_coordinator.go (mutex-
// guarded map of per-id pending state, entries completed and removed once
// every expected confirmation has arrived) and pkg/ledger/store.go
// (applying a committed block by walking its entries and mutating a KV
// set), generalized from anchor/ledger bookkeeping to UTXO-set membership.
package shard

import (
	"fmt"
	"sync"

	"github.com/cbdc-core/settlement/pkg/directory"
	"github.com/cbdc-core/settlement/pkg/txmodel"
)

// AtomizerClient is the shard's view of the atomizer. *atomizer.Atomizer
// satisfies this directly.
type AtomizerClient interface {
	Insert(blockHeight uint64, ctx txmodel.CTX, confirmedInputs map[txmodel.Hash]struct{}) *txmodel.TxError
}

// ArchiverClient is the shard's view of the archiver, used to fill gaps
// when a block arrives non-contiguously. *archiver.Archiver satisfies
// this directly.
type ArchiverClient interface {
	GetRange(lo, hi uint64) ([]txmodel.Block, error)
}

// ErrorSink is where inputs_dne/sync failures are reported; the
// watchtower is the production sink.
type ErrorSink interface {
	Report(txID txmodel.Hash, err *txmodel.TxError)
}

type pendingTx struct {
	ctx      txmodel.CTX
	verified map[txmodel.Hash]struct{}
	required int
}

// Shard is one atomizer-mode shard, authoritative for the UHS ids routed
// to shardIndex by dir.
type Shard struct {
	mu sync.Mutex

	shardIndex int
	dir        *directory.Table
	atomizer   AtomizerClient
	archiver   ArchiverClient
	sink       ErrorSink

	utxo       map[txmodel.Hash]struct{}
	bestHeight uint64
	pending    map[txmodel.Hash]*pendingTx
}

// New returns an empty Shard authoritative for shardIndex under dir.
func New(shardIndex int, dir *directory.Table, atomizer AtomizerClient, archiver ArchiverClient, sink ErrorSink) *Shard {
	return &Shard{
		shardIndex: shardIndex,
		dir:        dir,
		atomizer:   atomizer,
		archiver:   archiver,
		sink:       sink,
		utxo:       make(map[txmodel.Hash]struct{}),
		pending:    make(map[txmodel.Hash]*pendingTx),
	}
}

func (s *Shard) inRange(id txmodel.Hash) bool { return s.dir.RoutesToShard(id, s.shardIndex) }

// Seed marks ids as already unspent, used to bootstrap a shard's UTXO
// set from a snapshot or genesis allocation.
func (s *Shard) Seed(ids ...txmodel.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.utxo[id] = struct{}{}
	}
}

// BestHeight returns the most recently applied block height.
func (s *Shard) BestHeight() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bestHeight
}

// OnCTX implements §4.4's CTX-arrival handling: requiredHeight is the
// height the sentinel observed when it forwarded ctx, letting this shard
// detect that it has fallen behind (KindSync) instead of judging the tx
// against stale UTXO-set data. Each in-range input is checked against the
// UTXO set; once every in-range input has been confirmed present across
// however many calls it took to see them all (a shard may learn about a
// tx's inputs incrementally), the tx is forwarded to the atomizer with
// this shard's confirmation.
func (s *Shard) OnCTX(ctx txmodel.CTX, requiredHeight uint64) *txmodel.TxError {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bestHeight < requiredHeight {
		err := txmodel.NewTxError(txmodel.KindSync).WithMsg(
			fmt.Sprintf("shard at height %d, required %d", s.bestHeight, requiredHeight))
		s.sink.Report(ctx.TxID, err)
		return err
	}

	var inRangeInputs []txmodel.Hash
	for _, id := range ctx.InputUHSIDs {
		if s.inRange(id) {
			inRangeInputs = append(inRangeInputs, id)
		}
	}
	if len(inRangeInputs) == 0 {
		return nil
	}

	p, exists := s.pending[ctx.TxID]
	if !exists {
		p = &pendingTx{ctx: ctx.Clone(), verified: make(map[txmodel.Hash]struct{}), required: len(inRangeInputs)}
		s.pending[ctx.TxID] = p
	}

	var dne []txmodel.Hash
	for _, id := range inRangeInputs {
		if _, already := p.verified[id]; already {
			continue
		}
		if _, present := s.utxo[id]; present {
			p.verified[id] = struct{}{}
		} else {
			dne = append(dne, id)
		}
	}
	if len(dne) > 0 {
		delete(s.pending, ctx.TxID)
		err := txmodel.NewTxError(txmodel.KindInputsDNE).WithIds(dne...)
		s.sink.Report(ctx.TxID, err)
		return err
	}
	if len(p.verified) < p.required {
		return nil // other in-range inputs still outstanding
	}

	delete(s.pending, ctx.TxID)
	return s.atomizer.Insert(s.bestHeight, p.ctx, p.verified)
}

// OnBlock implements §4.4's block-arrival handling: in-range inputs are
// deleted from the UTXO set, in-range outputs are inserted, and best
// observed height advances. A non-contiguous block triggers a pull of the
// missing range from the archiver before block is itself applied;
// failure to catch up is reported as KindSync (no single tx is at fault,
// so the zero Hash stands in for "this shard", the only sync-error
// reporting convention the watchtower's per-tx cache needs to support).
func (s *Shard) OnBlock(block txmodel.Block) *txmodel.TxError {
	s.mu.Lock()
	defer s.mu.Unlock()

	if block.Height <= s.bestHeight {
		return nil // already applied
	}

	if block.Height > s.bestHeight+1 {
		if s.archiver == nil {
			err := txmodel.NewTxError(txmodel.KindSync).WithMsg("non-contiguous block with no archiver configured")
			s.sink.Report(txmodel.Hash{}, err)
			return err
		}
		missing, aerr := s.archiver.GetRange(s.bestHeight+1, block.Height-1)
		if aerr != nil {
			err := txmodel.NewTxError(txmodel.KindSync).WithMsg(aerr.Error())
			s.sink.Report(txmodel.Hash{}, err)
			return err
		}
		for _, b := range missing {
			s.applyBlockLocked(b)
		}
		if s.bestHeight != block.Height-1 {
			err := txmodel.NewTxError(txmodel.KindSync).WithMsg("archiver could not fill the missing block range")
			s.sink.Report(txmodel.Hash{}, err)
			return err
		}
	}

	s.applyBlockLocked(block)
	return nil
}

func (s *Shard) applyBlockLocked(block txmodel.Block) {
	for _, ctx := range block.Body {
		for _, id := range ctx.InputUHSIDs {
			if s.inRange(id) {
				delete(s.utxo, id)
			}
		}
		for _, id := range ctx.OutputUHSIDs {
			if s.inRange(id) {
				s.utxo[id] = struct{}{}
			}
		}
	}
	s.bestHeight = block.Height
}
