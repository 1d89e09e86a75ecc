// Copyright 2025 Certen Protocol
//
// Package watchtower implements §4.6: a dual bounded cache (recent
// blocks, recent errors) that answers client status queries about
// specific (tx_id, uhs_id) pairs without having to replay the whole
// settlement log.
//
// Grounded on the teacher's pkg/batch/status.go (bounded-map-with-FIFO-
// eviction status cache keyed by id) and pkg/batch/confirmation_tracker.go
// (separate "confirmed" vs "errored" bookkeeping with a suppression rule
// between them), adapted from anchor-confirmation tracking to UHS-id
// spend tracking.
package watchtower

import (
	"sync"

	"github.com/cbdc-core/settlement/pkg/txmodel"
)

// Status is the classification returned for a single (tx_id, uhs_id)
// query, per §4.6's six-way vocabulary.
type Status string

const (
	StatusUnspent       Status = "unspent"
	StatusSpent         Status = "spent"
	StatusNoHistory     Status = "no_history"
	StatusTxRejected    Status = "tx_rejected"
	StatusInvalidInput  Status = "invalid_input"
	StatusInternalError Status = "internal_error"
)

// Result is one (tx_id, uhs_id) classification, with height populated
// when the cache has one to offer.
type Result struct {
	Status Status
	Height uint64
	HasHeight bool
}

type uhsEntry struct {
	height uint64
	txID   txmodel.Hash
	status Status // StatusSpent or StatusUnspent
}

type txErrEntry struct {
	status    Status // StatusTxRejected-equivalent baseline for this tx
	offenders map[txmodel.Hash]struct{}
	height    uint64
	hasHeight bool
}

// Watchtower is the bounded dual cache described by §4.6.
type Watchtower struct {
	mu sync.Mutex

	blockCap int
	errorCap int

	bestHeight uint64

	uhsStatus       map[txmodel.Hash]uhsEntry
	confirmedTx     map[txmodel.Hash]struct{}
	blockHeightFIFO []uint64
	touchedByHeight map[uint64][]txmodel.Hash

	errorsByTx    map[txmodel.Hash]*txErrEntry
	errorTxFIFO   []txmodel.Hash
}

// New returns an empty Watchtower retaining at most blockCap blocks'
// worth of UHS-id history and errorCap distinct tx error reports.
func New(blockCap, errorCap int) *Watchtower {
	return &Watchtower{
		blockCap:        blockCap,
		errorCap:        errorCap,
		uhsStatus:       make(map[txmodel.Hash]uhsEntry),
		confirmedTx:     make(map[txmodel.Hash]struct{}),
		touchedByHeight: make(map[uint64][]txmodel.Hash),
		errorsByTx:      make(map[txmodel.Hash]*txErrEntry),
	}
}

// OnBlock records a newly committed block: every input UHS id becomes
// spent, every output UHS id becomes unspent, each attributed to the CTX
// that spent or created it.
func (w *Watchtower) OnBlock(block txmodel.Block) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if block.Height > w.bestHeight {
		w.bestHeight = block.Height
	}

	var touched []txmodel.Hash
	for _, ctx := range block.Body {
		w.confirmedTx[ctx.TxID] = struct{}{}
		for _, id := range ctx.InputUHSIDs {
			w.uhsStatus[id] = uhsEntry{height: block.Height, txID: ctx.TxID, status: StatusSpent}
			touched = append(touched, id)
		}
		for _, id := range ctx.OutputUHSIDs {
			w.uhsStatus[id] = uhsEntry{height: block.Height, txID: ctx.TxID, status: StatusUnspent}
			touched = append(touched, id)
		}
	}

	w.touchedByHeight[block.Height] = touched
	w.blockHeightFIFO = append(w.blockHeightFIFO, block.Height)
	for len(w.blockHeightFIFO) > w.blockCap {
		oldest := w.blockHeightFIFO[0]
		w.blockHeightFIFO = w.blockHeightFIFO[1:]
		for _, id := range w.touchedByHeight[oldest] {
			if e, ok := w.uhsStatus[id]; ok && e.height == oldest {
				delete(w.uhsStatus, id)
			}
		}
		delete(w.touchedByHeight, oldest)
	}
}

// Report records a tx_error from the atomizer or a shard. A report for a tx already visible in the block cache is
// suppressed, since the block cache is authoritative once a tx commits.
func (w *Watchtower) Report(txID txmodel.Hash, txErr *txmodel.TxError) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, confirmed := w.confirmedTx[txID]; confirmed {
		return
	}

	entry, exists := w.errorsByTx[txID]
	if !exists {
		entry = &txErrEntry{status: StatusTxRejected, offenders: make(map[txmodel.Hash]struct{})}
		w.errorsByTx[txID] = entry
		w.errorTxFIFO = append(w.errorTxFIFO, txID)
	}
	for _, id := range txErr.Ids {
		entry.offenders[id] = struct{}{}
	}

	for len(w.errorTxFIFO) > w.errorCap {
		oldest := w.errorTxFIFO[0]
		w.errorTxFIFO = w.errorTxFIFO[1:]
		delete(w.errorsByTx, oldest)
	}
}

// BestBlockHeight returns the height of the most recently observed
// block.
func (w *Watchtower) BestBlockHeight() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.bestHeight
}

// StatusUpdate classifies every (tx_id, uhs_id) pair in req, per §4.6's
// resolution precedence: invalid_input (if this uhs_id specifically
// errored) else tx_rejected, then spent, then unspent, then no_history.
// No path in this cache produces internal_error.
func (w *Watchtower) StatusUpdate(req map[txmodel.Hash][]txmodel.Hash) map[txmodel.Hash]map[txmodel.Hash]Result {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make(map[txmodel.Hash]map[txmodel.Hash]Result, len(req))
	for txID, uhsIDs := range req {
		perTx := make(map[txmodel.Hash]Result, len(uhsIDs))
		errEntry := w.errorsByTx[txID]
		for _, uhsID := range uhsIDs {
			perTx[uhsID] = w.resolve(txID, uhsID, errEntry)
		}
		out[txID] = perTx
	}
	return out
}

func (w *Watchtower) resolve(txID, uhsID txmodel.Hash, errEntry *txErrEntry) Result {
	if errEntry != nil {
		if _, isOffender := errEntry.offenders[uhsID]; isOffender {
			return Result{Status: StatusInvalidInput, Height: errEntry.height, HasHeight: errEntry.hasHeight}
		}
		return Result{Status: StatusTxRejected, Height: errEntry.height, HasHeight: errEntry.hasHeight}
	}
	if e, ok := w.uhsStatus[uhsID]; ok && e.txID == txID {
		return Result{Status: e.status, Height: e.height, HasHeight: true}
	}
	return Result{Status: StatusNoHistory}
}
