// Copyright 2025 Certen Protocol
//
// Package wallet implements §4.10: a client that holds unspent outputs
// and per-address key material, builds and submits transactions through
// the sentinel, and reconciles pending transactions against settlement
// state.
//
// Grounded on dcrd's rpctest memWallet (other_examples) for the overall
// shape: a mutex-guarded map of spendable out-points, a fundTx-style
// coin-selection loop that accumulates utxos until the requested amount
// is covered, and a lock/unlock-on-spend discipline around in-flight
// transactions (here, the pending-tx reservation §4.10 requires), and on
// the teacher's pkg/batch/scheduler.go for the background sync-loop
// shape, adapted from batch-anchoring cadence to wallet resync cadence.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cbdc-core/settlement/pkg/sentinel"
	"github.com/cbdc-core/settlement/pkg/txmodel"
	"github.com/cbdc-core/settlement/pkg/xsign"
)

// ErrInsufficientFunds is returned when no combination of spendable
// outputs covers a requested send amount.
var ErrInsufficientFunds = errors.New("wallet: insufficient spendable funds")

// SentinelClient is the wallet's view of the sentinel it submits
// transactions through. *sentinel.Sentinel satisfies this directly.
type SentinelClient interface {
	Execute(ctx context.Context, tx txmodel.FullTx) (sentinel.ExecuteResult, error)
}

// BootstrapSubmitter is the wallet's view of whatever trusted endpoint
// accepts invalid-input bootstrap mints, bypassing sentinel validation
// (mint transactions carry no inputs and would fail ordinary static
// validation). *coordinator.Coordinator and an atomizer-mode equivalent
// both satisfy this shape.
type BootstrapSubmitter interface {
	Execute(ctx context.Context, tx txmodel.FullTx) (bool, error)
}

// SyncOutcome classifies a pending transaction's settlement state.
type SyncOutcome string

const (
	OutcomePending   SyncOutcome = "pending"
	OutcomeConfirmed SyncOutcome = "confirmed"
	OutcomeRejected  SyncOutcome = "rejected"
)

// SyncSource answers "what happened to this transaction" for Sync, per
// §4.10: atomizer mode asks the watchtower, 2PC mode asks a shard's
// read-only endpoint.
type SyncSource interface {
	Status(ctx context.Context, txID txmodel.Hash, inputUHS, outputUHS []txmodel.Hash) (SyncOutcome, error)
}

type coin struct {
	OutPoint txmodel.OutPoint
	Output   txmodel.Output
	Key      *xsign.KeyPair
}

type selfOutput struct {
	index int
	key   *xsign.KeyPair
}

type pendingTx struct {
	tx          txmodel.FullTx
	reserved    []coin
	selfOutputs []selfOutput
}

type pendingImport struct {
	input txmodel.Input
	key   *xsign.KeyPair
}

// Wallet is one client's local settlement-layer state: spendable
// outputs, pending transactions awaiting confirmation, imported inputs
// awaiting confirmation, and per-address key material.
type Wallet struct {
	mu sync.Mutex

	keys map[txmodel.PubKey]*xsign.KeyPair
	coins map[txmodel.OutPoint]coin

	pending        map[txmodel.Hash]*pendingTx
	pendingImports map[txmodel.Hash]*pendingImport

	sentinelClient SentinelClient
	bootstrap      BootstrapSubmitter
	syncSource     SyncSource
}

// New returns an empty Wallet submitting transactions via sentinelClient,
// bootstrap mints via bootstrap, and resolving Sync against syncSource.
func New(sentinelClient SentinelClient, bootstrap BootstrapSubmitter, syncSource SyncSource) *Wallet {
	return &Wallet{
		keys:           make(map[txmodel.PubKey]*xsign.KeyPair),
		coins:          make(map[txmodel.OutPoint]coin),
		pending:        make(map[txmodel.Hash]*pendingTx),
		pendingImports: make(map[txmodel.Hash]*pendingImport),
		sentinelClient: sentinelClient,
		bootstrap:      bootstrap,
		syncSource:     syncSource,
	}
}

// NewAddress generates a fresh key pair and returns its public key as a
// spendable address.
func (w *Wallet) NewAddress() (txmodel.PubKey, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.newAddressLocked()
}

func (w *Wallet) newAddressLocked() (txmodel.PubKey, error) {
	kp, err := xsign.GenerateKeyPair()
	if err != nil {
		return txmodel.PubKey{}, fmt.Errorf("wallet: new address: %w", err)
	}
	w.keys[kp.PublicKey()] = kp
	return kp.PublicKey(), nil
}

// Seed credits the wallet with an already-owned, already-settled output,
// used to bootstrap test and demo wallets from a known allocation.
func (w *Wallet) Seed(op txmodel.OutPoint, out txmodel.Output, key *xsign.KeyPair) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.keys[key.PublicKey()] = key
	w.coins[op] = coin{OutPoint: op, Output: out, Key: key}
}

// Balance sums the value of every currently spendable output.
func (w *Wallet) Balance() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	var total uint64
	for _, c := range w.coins {
		total += c.Output.Value
	}
	return total
}

// selectCoins accumulates coins largest-first until their sum covers
// target, minimizing the number of inputs spent.
func (w *Wallet) selectCoins(target uint64) ([]coin, uint64, error) {
	all := make([]coin, 0, len(w.coins))
	for _, c := range w.coins {
		all = append(all, c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Output.Value > all[j].Output.Value })

	var selected []coin
	var sum uint64
	for _, c := range all {
		if sum >= target {
			break
		}
		selected = append(selected, c)
		sum += c.Output.Value
	}
	if sum < target {
		return nil, 0, ErrInsufficientFunds
	}
	return selected, sum, nil
}

// buildTransaction implements §4.10's transaction construction: select a
// minimum-count set of unspent outputs covering the requested payouts,
// append a change output back to this wallet if needed, sign every input
// over the assembled tx_id, and reserve the spent coins under a pending
// tx until confirm or abandon.
func (w *Wallet) buildTransaction(payouts []txmodel.Output) (txmodel.FullTx, error) {
	var total uint64
	for _, o := range payouts {
		total += o.Value
	}

	selected, sum, err := w.selectCoins(total)
	if err != nil {
		return txmodel.FullTx{}, err
	}

	tx := txmodel.FullTx{Outputs: append([]txmodel.Output(nil), payouts...)}
	for _, c := range selected {
		tx.Inputs = append(tx.Inputs, txmodel.Input{OutPoint: c.OutPoint, Output: c.Output})
	}

	var selfOutputs []selfOutput
	if change := sum - total; change > 0 {
		changeAddr, err := w.newAddressLocked()
		if err != nil {
			return txmodel.FullTx{}, err
		}
		changeKey := w.keys[changeAddr]
		tx.Outputs = append(tx.Outputs, txmodel.Output{
			WitnessProgramCommitment: xsign.P2PKCommitment(changeAddr),
			Value:                    change,
		})
		selfOutputs = append(selfOutputs, selfOutput{index: len(tx.Outputs) - 1, key: changeKey})
	}

	txID := tx.TxID()
	for i, c := range selected {
		sig, err := c.Key.Sign(txID)
		if err != nil {
			return txmodel.FullTx{}, fmt.Errorf("wallet: sign input %d: %w", i, err)
		}
		tx.Inputs[i].Witness = xsign.BuildP2PKWitness(c.Key.PublicKey(), sig)
	}

	for _, c := range selected {
		delete(w.coins, c.OutPoint)
	}
	w.pending[txID] = &pendingTx{tx: tx, reserved: selected, selfOutputs: selfOutputs}
	return tx, nil
}

// Send builds and submits a single-payee transaction.
func (w *Wallet) Send(ctx context.Context, value uint64, payee txmodel.PubKey) (*txmodel.FullTx, *sentinel.ExecuteResult, error) {
	return w.submit(ctx, []txmodel.Output{{
		WitnessProgramCommitment: xsign.P2PKCommitment(payee),
		Value:                    value,
	}})
}

// Fan builds and submits a transaction paying the same payee count times,
// used to pre-split liquidity across many outputs.
func (w *Wallet) Fan(ctx context.Context, count int, value uint64, payee txmodel.PubKey) (*txmodel.FullTx, *sentinel.ExecuteResult, error) {
	payouts := make([]txmodel.Output, count)
	for i := range payouts {
		payouts[i] = txmodel.Output{WitnessProgramCommitment: xsign.P2PKCommitment(payee), Value: value}
	}
	return w.submit(ctx, payouts)
}

func (w *Wallet) submit(ctx context.Context, payouts []txmodel.Output) (*txmodel.FullTx, *sentinel.ExecuteResult, error) {
	w.mu.Lock()
	tx, err := w.buildTransaction(payouts)
	w.mu.Unlock()
	if err != nil {
		return nil, nil, err
	}

	res, err := w.sentinelClient.Execute(ctx, tx)
	if err != nil {
		return &tx, nil, fmt.Errorf("wallet: submit: %w", err)
	}
	return &tx, &res, nil
}

// Mint constructs an invalid-input bootstrap transaction minting n
// outputs of value v each to fresh addresses of this wallet, and submits
// it directly to the trusted bootstrap endpoint rather than through the
// sentinel (mint transactions carry no inputs, so ordinary static
// validation would reject them).
func (w *Wallet) Mint(ctx context.Context, n int, v uint64) (*txmodel.FullTx, bool, error) {
	w.mu.Lock()
	tx := txmodel.FullTx{}
	selfOutputs := make([]selfOutput, n)
	for i := 0; i < n; i++ {
		addr, err := w.newAddressLocked()
		if err != nil {
			w.mu.Unlock()
			return nil, false, err
		}
		tx.Outputs = append(tx.Outputs, txmodel.Output{
			WitnessProgramCommitment: xsign.P2PKCommitment(addr),
			Value:                    v,
		})
		selfOutputs[i] = selfOutput{index: i, key: w.keys[addr]}
	}
	txID := tx.TxID()
	w.pending[txID] = &pendingTx{tx: tx, selfOutputs: selfOutputs}
	w.mu.Unlock()

	committed, err := w.bootstrap.Execute(ctx, tx)
	if err != nil {
		return &tx, false, fmt.Errorf("wallet: mint: %w", err)
	}
	if committed {
		w.mu.Lock()
		w.confirmLocked(txID)
		w.mu.Unlock()
	}
	return &tx, committed, nil
}

// ImportSendInput registers an externally received output as a
// pending import, held until Sync observes it settled and graduates it
// into the spendable set.
func (w *Wallet) ImportSendInput(input txmodel.Input, key *xsign.KeyPair) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.keys[key.PublicKey()] = key
	w.pendingImports[input.UHSID()] = &pendingImport{input: input, key: key}
}

// ConfirmTransaction finalizes bookkeeping for a tx known settled:
// reserved inputs stay spent and outputs destined to this wallet move
// into the spendable set.
func (w *Wallet) ConfirmTransaction(txID txmodel.Hash) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.confirmLocked(txID)
}

func (w *Wallet) confirmLocked(txID txmodel.Hash) {
	p, ok := w.pending[txID]
	if !ok {
		return
	}
	delete(w.pending, txID)
	for _, so := range p.selfOutputs {
		op := txmodel.OutPoint{TxID: txID, OutputIndex: uint64(so.index)}
		w.coins[op] = coin{OutPoint: op, Output: p.tx.Outputs[so.index], Key: so.key}
	}
}

// AbandonTransaction un-reserves a pending transaction's spent outputs,
// making them spendable again, used once a tx is known rejected or has
// gone unknown for too long.
func (w *Wallet) AbandonTransaction(txID txmodel.Hash) {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.pending[txID]
	if !ok {
		return
	}
	delete(w.pending, txID)
	for _, c := range p.reserved {
		w.coins[c.OutPoint] = c
	}
}

// Sync reconciles every pending transaction against syncSource,
// confirming or abandoning as §4.10 dictates, and graduates any
// now-settled imported input into the spendable set.
func (w *Wallet) Sync(ctx context.Context) error {
	w.mu.Lock()
	txIDs := make([]txmodel.Hash, 0, len(w.pending))
	for id := range w.pending {
		txIDs = append(txIDs, id)
	}
	w.mu.Unlock()

	for _, txID := range txIDs {
		w.mu.Lock()
		p, ok := w.pending[txID]
		if !ok {
			w.mu.Unlock()
			continue
		}
		inputUHS := p.tx.InputUHSIDs()
		outputUHS := p.tx.OutputUHSIDs()
		w.mu.Unlock()

		outcome, err := w.syncSource.Status(ctx, txID, inputUHS, outputUHS)
		if err != nil {
			return fmt.Errorf("wallet: sync %s: %w", txID, err)
		}
		switch outcome {
		case OutcomeConfirmed:
			w.ConfirmTransaction(txID)
		case OutcomeRejected:
			w.AbandonTransaction(txID)
		case OutcomePending:
			// leave reserved, try again next Sync
		}
	}

	w.mu.Lock()
	for uhsID, imp := range w.pendingImports {
		outcome, err := w.syncSource.Status(ctx, imp.input.UHSID(), nil, []txmodel.Hash{uhsID})
		if err != nil {
			continue
		}
		if outcome == OutcomeConfirmed {
			w.coins[imp.input.OutPoint] = coin{OutPoint: imp.input.OutPoint, Output: imp.input.Output, Key: imp.key}
			delete(w.pendingImports, uhsID)
		}
	}
	w.mu.Unlock()
	return nil
}
