// Copyright 2025 Certen Protocol
//
// Package atomizer implements the consensus-replicated block-cutting
// service of the atomizer architecture: it collects, per CTX, the set of
// input UHS ids that shards have confirmed exist inside a sliding
// spent-output window, and periodically cuts a block from every CTX
// whose confirmed-input set now covers all of its declared inputs.
//
// Every mutation (insert, insert_complete, make_block) is proposed as a
// replog.Entry so every replica applies the same sequence in the same
// order (pkg/replog); Atomizer itself implements replog.Applier.
//
// Grounded on the teacher's pkg/batch/consensus_coordinator.go for the
// mutex-guarded map-of-pending-entries shape and on
// pkg/batch/collector.go for the "erase across a ring of per-height
// buckets" idiom, adapted from anchor batch collection to spent-output
// windowing. The completion check itself is grounded directly on
// atomizer::insert in _examples/original_source's
// src/uhs/atomizer/atomizer/atomizer.cpp, which compares
// total_attestations.size() against tx.m_inputs.size() — a literal count
// of confirmed input ids, with no routing-table or shard-identity
// involvement anywhere in that class.
package atomizer

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cbdc-core/settlement/pkg/replog"
	"github.com/cbdc-core/settlement/pkg/txmodel"
)

// ErrorSink receives tx_errors the atomizer cannot return synchronously
// (stale double-spends discovered against an older, already-returned
// insert, and blocks expiring out of the STXO window). The watchtower is
// the production sink (§4.6); tests use a recording stub.
type ErrorSink interface {
	Report(txID txmodel.Hash, err *txmodel.TxError)
}

// pendingEntry is one (tx, set-of-confirmed-input-ids) record living at a
// single ring offset.
type pendingEntry struct {
	ctx       txmodel.CTX
	confirmed map[txmodel.Hash]struct{}
}

// Atomizer holds the STXO cache and pending-confirmation ring described
// in §4.3 and cuts blocks from fully-confirmed, unspent transactions.
type Atomizer struct {
	mu sync.Mutex

	sink  ErrorSink
	depth int // d: ring has depth+1 slots, 0 is the current (not-yet-cut) block

	bestHeight  uint64
	completeTxs []txmodel.CTX
	txs         []map[txmodel.Hash]*pendingEntry // ring[off]
	spent       []map[txmodel.Hash]struct{}      // ring[off], keyed by UHS id
}

// New returns an Atomizer with an empty cache of the given depth. sink
// may be nil to discard error reports.
func New(depth int, sink ErrorSink) *Atomizer {
	a := &Atomizer{sink: sink, depth: depth}
	a.resetRings()
	return a
}

func (a *Atomizer) resetRings() {
	a.txs = make([]map[txmodel.Hash]*pendingEntry, a.depth+1)
	a.spent = make([]map[txmodel.Hash]struct{}, a.depth+1)
	for i := range a.txs {
		a.txs[i] = make(map[txmodel.Hash]*pendingEntry)
		a.spent[i] = make(map[txmodel.Hash]struct{})
	}
}

func (a *Atomizer) report(txID txmodel.Hash, err *txmodel.TxError) {
	if a.sink != nil {
		a.sink.Report(txID, err)
	}
}

// Insert implements §4.3's insert operation: blockHeight is the shard's
// current_best_height at the moment it confirmed, ctx is the compact
// transaction, and confirmedInputs is the set of input UHS ids a shard
// has just confirmed exist (singleton or small in the common case of one
// shard reporting at a time; callers union repeated reports themselves by
// calling Insert again — the atomizer unions across ring offsets). A tx
// is complete once the union of every confirmed input id seen for it, at
// any offset, has the same size as ctx.InputUHSIDs — mirroring
// atomizer::insert's total_attestations.size() == tx.m_inputs.size().
func (a *Atomizer) Insert(blockHeight uint64, ctx txmodel.CTX, confirmedInputs map[txmodel.Hash]struct{}) *txmodel.TxError {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.insertLocked(blockHeight, ctx, confirmedInputs)
}

func (a *Atomizer) insertLocked(blockHeight uint64, ctx txmodel.CTX, confirmedInputs map[txmodel.Hash]struct{}) *txmodel.TxError {
	off := 0
	if a.bestHeight > blockHeight {
		off = int(a.bestHeight - blockHeight)
	}
	if off > a.depth && len(ctx.InputUHSIDs) > 0 {
		return txmodel.NewTxError(txmodel.KindStxoRange).WithMsg(
			fmt.Sprintf("shard attestation at height %d is %d blocks stale, window is %d", blockHeight, off, a.depth))
	}
	if off > a.depth {
		off = a.depth
	}

	entry, ok := a.txs[off][ctx.TxID]
	if !ok {
		entry = &pendingEntry{ctx: ctx, confirmed: make(map[txmodel.Hash]struct{})}
		a.txs[off][ctx.TxID] = entry
	}
	entry.ctx = ctx
	for id := range confirmedInputs {
		entry.confirmed[id] = struct{}{}
	}

	// Union confirmed input ids across every offset the tx appears at, and
	// find "oldest": the largest offset (furthest in the past) still
	// holding an entry, since offset measures blocks-in-the-past and the
	// window shrinks toward the atomizer's current height as blocks are
	// cut.
	union := make(map[txmodel.Hash]struct{})
	oldest := off
	for o := 0; o <= a.depth; o++ {
		e, present := a.txs[o][ctx.TxID]
		if !present {
			continue
		}
		if o > oldest {
			oldest = o
		}
		for id := range e.confirmed {
			union[id] = struct{}{}
		}
	}

	if len(union) != len(ctx.InputUHSIDs) {
		return nil
	}

	var offenders []txmodel.Hash
	for o := 0; o <= oldest; o++ {
		for _, id := range ctx.InputUHSIDs {
			if _, spent := a.spent[o][id]; spent {
				offenders = append(offenders, id)
			}
		}
	}
	if len(offenders) > 0 {
		txErr := txmodel.NewTxError(txmodel.KindInputsSpent).WithIds(offenders...)
		a.report(ctx.TxID, txErr)
		a.eraseAllOffsets(ctx.TxID)
		return txErr
	}

	for _, id := range ctx.InputUHSIDs {
		a.spent[0][id] = struct{}{}
	}
	for o := 0; o <= a.depth; o++ {
		if o != oldest {
			delete(a.txs[o], ctx.TxID)
		}
	}
	a.completeTxs = append(a.completeTxs, ctx)
	delete(a.txs[oldest], ctx.TxID)
	return nil
}

func (a *Atomizer) eraseAllOffsets(txID txmodel.Hash) {
	for o := 0; o <= a.depth; o++ {
		delete(a.txs[o], txID)
	}
}

// InsertComplete implements §4.3's insert_complete: used when a
// sufficient sentinel quorum makes shard-level input attestation
// unnecessary — the tx only needs the spent-window double-spend check,
// not the confirmed-input coverage check Insert performs.
func (a *Atomizer) InsertComplete(oldestAttestationHeight uint64, ctx txmodel.CTX) *txmodel.TxError {
	a.mu.Lock()
	defer a.mu.Unlock()

	off := 0
	if a.bestHeight > oldestAttestationHeight {
		off = int(a.bestHeight - oldestAttestationHeight)
	}
	if off > a.depth && len(ctx.InputUHSIDs) > 0 {
		return txmodel.NewTxError(txmodel.KindStxoRange).WithMsg(
			fmt.Sprintf("attestation at height %d is %d blocks stale, window is %d", oldestAttestationHeight, off, a.depth))
	}
	if off > a.depth {
		off = a.depth
	}

	var offenders []txmodel.Hash
	for o := 0; o <= off; o++ {
		for _, id := range ctx.InputUHSIDs {
			if _, spent := a.spent[o][id]; spent {
				offenders = append(offenders, id)
			}
		}
	}
	if len(offenders) > 0 {
		txErr := txmodel.NewTxError(txmodel.KindInputsSpent).WithIds(offenders...)
		a.report(ctx.TxID, txErr)
		return txErr
	}

	for _, id := range ctx.InputUHSIDs {
		a.spent[0][id] = struct{}{}
	}
	a.completeTxs = append(a.completeTxs, ctx)
	return nil
}

// MakeBlock implements §4.3's atomic block cut: every complete_txs entry
// is drained into the new block body, every entry still sitting in the
// oldest ring slot expires as "incomplete", and the ring shifts by one.
func (a *Atomizer) MakeBlock() (txmodel.Block, []txmodel.TxError) {
	a.mu.Lock()
	defer a.mu.Unlock()

	block := txmodel.Block{Height: a.bestHeight + 1, Body: a.completeTxs}
	a.completeTxs = nil

	var expirations []txmodel.TxError
	expiredIDs := make([]txmodel.Hash, 0, len(a.txs[a.depth]))
	for id := range a.txs[a.depth] {
		expiredIDs = append(expiredIDs, id)
	}
	sort.Slice(expiredIDs, func(i, j int) bool { return expiredIDs[i].String() < expiredIDs[j].String() })
	for _, id := range expiredIDs {
		txErr := *txmodel.NewTxError(txmodel.KindIncomplete)
		expirations = append(expirations, txErr)
		a.report(id, &txErr)
	}

	for o := a.depth; o >= 1; o-- {
		a.txs[o] = a.txs[o-1]
		a.spent[o] = a.spent[o-1]
	}
	a.txs[0] = make(map[txmodel.Hash]*pendingEntry)
	a.spent[0] = make(map[txmodel.Hash]struct{})
	a.bestHeight++

	return block, expirations
}

// Height returns the atomizer's current best height.
func (a *Atomizer) Height() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bestHeight
}

// PendingTransactions returns the number of distinct CTX currently
// tracked anywhere in the confirmation ring, awaiting either full
// confirmation or expiry.
func (a *Atomizer) PendingTransactions() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	seen := make(map[txmodel.Hash]struct{})
	for _, m := range a.txs {
		for id := range m {
			seen[id] = struct{}{}
		}
	}
	return len(seen)
}

// Entry tags, used to multiplex replog.Entry payloads across the three
// operations the atomizer replicates.
const (
	entryInsert         byte = 0
	entryInsertComplete byte = 1
	entryMakeBlock      byte = 2
)

func sortedHashes(set map[txmodel.Hash]struct{}) []txmodel.Hash {
	ids := make([]txmodel.Hash, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// EncodeInsert serializes an Insert call as a replog.Entry.
func EncodeInsert(blockHeight uint64, ctx txmodel.CTX, confirmedInputs map[txmodel.Hash]struct{}) replog.Entry {
	e := txmodel.NewEncoder(128)
	e.WriteU8(entryInsert)
	e.WriteU64(blockHeight)
	ctx.Encode(e)
	e.WriteU64(uint64(len(confirmedInputs)))
	for _, id := range sortedHashes(confirmedInputs) {
		e.WriteHash(id)
	}
	return replog.Entry(e.Bytes())
}

// EncodeInsertComplete serializes an InsertComplete call as a replog.Entry.
func EncodeInsertComplete(oldestAttestationHeight uint64, ctx txmodel.CTX) replog.Entry {
	e := txmodel.NewEncoder(128)
	e.WriteU8(entryInsertComplete)
	e.WriteU64(oldestAttestationHeight)
	ctx.Encode(e)
	return replog.Entry(e.Bytes())
}

// EncodeMakeBlock serializes a MakeBlock call as a replog.Entry.
func EncodeMakeBlock() replog.Entry {
	e := txmodel.NewEncoder(1)
	e.WriteU8(entryMakeBlock)
	return replog.Entry(e.Bytes())
}

// Apply implements replog.Applier: it decodes and performs exactly one of
// the three operations above. The operation's return value is dropped,
// since every replica must reach the same state regardless of whether
// anyone is listening for this particular entry's result: inputs_spent
// and incomplete outcomes still reach the ErrorSink, while a stxo_range
// rejection is not reported anywhere.
func (a *Atomizer) Apply(_ replog.AppliedIndex, entry replog.Entry) {
	d := txmodel.NewDecoder(entry)
	tag, err := d.ReadU8()
	if err != nil {
		return
	}
	switch tag {
	case entryInsert:
		blockHeight, err := d.ReadU64()
		if err != nil {
			return
		}
		ctx, err := txmodel.DecodeCTX(d)
		if err != nil {
			return
		}
		n, err := d.ReadU64()
		if err != nil {
			return
		}
		confirmed := make(map[txmodel.Hash]struct{}, n)
		for i := uint64(0); i < n; i++ {
			id, err := d.ReadHash()
			if err != nil {
				return
			}
			confirmed[id] = struct{}{}
		}
		a.mu.Lock()
		a.insertLocked(blockHeight, ctx, confirmed)
		a.mu.Unlock()
	case entryInsertComplete:
		height, err := d.ReadU64()
		if err != nil {
			return
		}
		ctx, err := txmodel.DecodeCTX(d)
		if err != nil {
			return
		}
		a.InsertComplete(height, ctx)
	case entryMakeBlock:
		a.MakeBlock()
	}
}

// Snapshot serializes the atomizer's full in-memory state (§4.3: "the
// full state defined above").
func (a *Atomizer) Snapshot() ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	e := txmodel.NewEncoder(1024)
	e.WriteU64(a.bestHeight)
	e.WriteU64(uint64(a.depth))

	e.WriteU64(uint64(len(a.completeTxs)))
	for _, ctx := range a.completeTxs {
		ctx.Encode(e)
	}

	for o := 0; o <= a.depth; o++ {
		e.WriteU64(uint64(len(a.txs[o])))
		for _, entry := range a.txs[o] {
			entry.ctx.Encode(e)
			e.WriteU64(uint64(len(entry.confirmed)))
			for _, id := range sortedHashes(entry.confirmed) {
				e.WriteHash(id)
			}
		}
		e.WriteU64(uint64(len(a.spent[o])))
		for id := range a.spent[o] {
			e.WriteHash(id)
		}
	}
	return txmodel.WrapEnvelope(e.Bytes()), nil
}

// Restore replaces the atomizer's state with a previously produced
// snapshot, used to catch a replica up that fell behind the log.
func (a *Atomizer) Restore(snapshot []byte) error {
	payload, err := txmodel.UnwrapEnvelope(snapshot)
	if err != nil {
		return fmt.Errorf("atomizer: restore: %w", err)
	}
	d := txmodel.NewDecoder(payload)

	bestHeight, err := d.ReadU64()
	if err != nil {
		return fmt.Errorf("atomizer: restore best_height: %w", err)
	}
	depth, err := d.ReadU64()
	if err != nil {
		return fmt.Errorf("atomizer: restore depth: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.bestHeight = bestHeight
	a.depth = int(depth)
	a.resetRings()

	nComplete, err := d.ReadU64()
	if err != nil {
		return fmt.Errorf("atomizer: restore complete_txs: %w", err)
	}
	a.completeTxs = make([]txmodel.CTX, nComplete)
	for i := range a.completeTxs {
		if a.completeTxs[i], err = txmodel.DecodeCTX(d); err != nil {
			return fmt.Errorf("atomizer: restore complete_txs[%d]: %w", i, err)
		}
	}

	for o := 0; o <= a.depth; o++ {
		nTxs, err := d.ReadU64()
		if err != nil {
			return fmt.Errorf("atomizer: restore txs[%d]: %w", o, err)
		}
		for i := uint64(0); i < nTxs; i++ {
			ctx, err := txmodel.DecodeCTX(d)
			if err != nil {
				return fmt.Errorf("atomizer: restore txs[%d][%d]: %w", o, i, err)
			}
			nConfirmed, err := d.ReadU64()
			if err != nil {
				return fmt.Errorf("atomizer: restore confirmed[%d][%d]: %w", o, i, err)
			}
			confirmed := make(map[txmodel.Hash]struct{}, nConfirmed)
			for c := uint64(0); c < nConfirmed; c++ {
				id, err := d.ReadHash()
				if err != nil {
					return fmt.Errorf("atomizer: restore confirmed input id: %w", err)
				}
				confirmed[id] = struct{}{}
			}
			a.txs[o][ctx.TxID] = &pendingEntry{ctx: ctx, confirmed: confirmed}
		}
		nSpent, err := d.ReadU64()
		if err != nil {
			return fmt.Errorf("atomizer: restore spent[%d]: %w", o, err)
		}
		for i := uint64(0); i < nSpent; i++ {
			h, err := d.ReadHash()
			if err != nil {
				return fmt.Errorf("atomizer: restore spent hash: %w", err)
			}
			a.spent[o][h] = struct{}{}
		}
	}
	return nil
}
