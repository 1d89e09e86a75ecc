// Copyright 2025 Certen Protocol
package atomizer

import (
	"testing"

	"github.com/cbdc-core/settlement/pkg/txmodel"
)

type recordingSink struct {
	errs map[txmodel.Hash]*txmodel.TxError
}

func newRecordingSink() *recordingSink {
	return &recordingSink{errs: make(map[txmodel.Hash]*txmodel.TxError)}
}

func (s *recordingSink) Report(txID txmodel.Hash, err *txmodel.TxError) {
	s.errs[txID] = err
}

func idWithFirstByte(b byte, salt byte) txmodel.Hash {
	var h txmodel.Hash
	h[0] = b
	h[1] = salt
	return h
}

func confirmed(ids ...txmodel.Hash) map[txmodel.Hash]struct{} {
	out := make(map[txmodel.Hash]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

func ctxWithInputs(salt byte, inputs ...txmodel.Hash) txmodel.CTX {
	var txID txmodel.Hash
	txID[0] = 0xAA
	txID[1] = salt
	return txmodel.CTX{
		TxID:         txID,
		InputUHSIDs:  inputs,
		OutputUHSIDs: []txmodel.Hash{idWithFirstByte(0x10, salt)},
		Attestations: txmodel.NewAttestationSet(),
	}
}

func TestInsertFullyConfirmedMovesToCompleteTxs(t *testing.T) {
	a := New(3, nil)
	input := idWithFirstByte(0x01, 1)
	ctx := ctxWithInputs(1, input)

	if err := a.Insert(0, ctx, confirmed(input)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if got := a.PendingTransactions(); got != 0 {
		t.Fatalf("expected 0 pending after full confirmation, got %d", got)
	}

	block, expirations := a.MakeBlock()
	if len(expirations) != 0 {
		t.Fatalf("expected no expirations, got %d", expirations)
	}
	if block.Height != 1 {
		t.Fatalf("expected block height 1, got %d", block.Height)
	}
	if len(block.Body) != 1 || block.Body[0].TxID != ctx.TxID {
		t.Fatalf("expected block to contain the confirmed tx")
	}
}

// TestInsertPartialConfirmationStaysPending mirrors atomizer::insert's
// literal total_attestations.size() == tx.m_inputs.size() check: a tx
// with two declared inputs stays pending until both have individually
// been reported confirmed, regardless of which call reported which.
func TestInsertPartialConfirmationStaysPending(t *testing.T) {
	a := New(3, nil)
	first := idWithFirstByte(0x01, 2)
	second := idWithFirstByte(0x90, 2)
	ctx := ctxWithInputs(2, first, second)

	if err := a.Insert(0, ctx, confirmed(first)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if got := a.PendingTransactions(); got != 1 {
		t.Fatalf("expected 1 pending tx awaiting its second input, got %d", got)
	}

	if err := a.Insert(0, ctx, confirmed(second)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if got := a.PendingTransactions(); got != 0 {
		t.Fatalf("expected tx to complete once both inputs are confirmed, got %d pending", got)
	}
}

func TestInsertStaleHeightRejectedWithStxoRange(t *testing.T) {
	a := New(2, nil)
	for i := 0; i < 5; i++ {
		a.MakeBlock()
	}
	input := idWithFirstByte(0x01, 3)
	ctx := ctxWithInputs(3, input)

	err := a.Insert(0, ctx, confirmed(input))
	if err == nil || err.Kind != txmodel.KindStxoRange {
		t.Fatalf("expected stxo_range, got %v", err)
	}
}

func TestInsertDoubleSpendReportsInputsSpent(t *testing.T) {
	sink := newRecordingSink()
	a := New(3, sink)
	sharedInput := idWithFirstByte(0x01, 9)

	first := ctxWithInputs(9, sharedInput)
	if err := a.Insert(0, first, confirmed(sharedInput)); err != nil {
		t.Fatalf("Insert first: %v", err)
	}

	second := ctxWithInputs(10, sharedInput)
	err := a.Insert(0, second, confirmed(sharedInput))
	if err == nil || err.Kind != txmodel.KindInputsSpent {
		t.Fatalf("expected inputs_spent for the second spender, got %v", err)
	}
	if _, reported := sink.errs[second.TxID]; !reported {
		t.Fatal("expected the watchtower sink to receive the inputs_spent report")
	}
}

func TestMakeBlockExpiresIncompleteTransactions(t *testing.T) {
	sink := newRecordingSink()
	a := New(1, sink)
	first := idWithFirstByte(0x01, 4)
	second := idWithFirstByte(0x90, 4)
	ctx := ctxWithInputs(4, first, second)

	// Only one of the tx's two inputs is ever confirmed, so it never
	// reaches completion and must expire out of the window.
	if err := a.Insert(0, ctx, confirmed(first)); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	a.MakeBlock()                    // offset 0 -> 1
	_, expirations := a.MakeBlock() // offset 1 falls out of a depth-1 window
	if len(expirations) != 1 || expirations[0].Kind != txmodel.KindIncomplete {
		t.Fatalf("expected one incomplete expiration, got %+v", expirations)
	}
	if _, reported := sink.errs[ctx.TxID]; !reported {
		t.Fatal("expected the watchtower sink to receive the incomplete report")
	}
}

func TestInsertCompleteBypassesShardConfirmation(t *testing.T) {
	a := New(3, nil)
	ctx := ctxWithInputs(5, idWithFirstByte(0x01, 5))

	if err := a.InsertComplete(0, ctx); err != nil {
		t.Fatalf("InsertComplete: %v", err)
	}
	block, _ := a.MakeBlock()
	if len(block.Body) != 1 || block.Body[0].TxID != ctx.TxID {
		t.Fatal("expected insert_complete tx to appear in the next block")
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	a := New(2, nil)
	first := idWithFirstByte(0x01, 6)
	second := idWithFirstByte(0x90, 6)
	ctx := ctxWithInputs(6, first, second)
	if err := a.Insert(0, ctx, confirmed(first)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	settledInput := idWithFirstByte(0x02, 7)
	settled := ctxWithInputs(7, settledInput)
	if err := a.Insert(0, settled, confirmed(settledInput)); err != nil {
		t.Fatalf("Insert settled: %v", err)
	}

	snap, err := a.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	restored := New(0, nil)
	if err := restored.Restore(snap); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restored.Height() != a.Height() {
		t.Fatalf("expected height %d, got %d", a.Height(), restored.Height())
	}
	if restored.PendingTransactions() != a.PendingTransactions() {
		t.Fatalf("expected %d pending, got %d", a.PendingTransactions(), restored.PendingTransactions())
	}
	if err := restored.Insert(0, ctx, confirmed(second)); err != nil {
		t.Fatalf("Insert after restore: %v", err)
	}
	block, _ := restored.MakeBlock()
	found := false
	for _, c := range block.Body {
		if c.TxID == ctx.TxID {
			found = true
		}
	}
	if !found {
		t.Fatal("expected the restored pending tx to complete and appear in the next block")
	}
}
