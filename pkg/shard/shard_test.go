// Copyright 2025 Certen Protocol
package shard

import (
	"testing"

	"github.com/cbdc-core/settlement/pkg/archiver"
	"github.com/cbdc-core/settlement/pkg/atomizer"
	"github.com/cbdc-core/settlement/pkg/directory"
	"github.com/cbdc-core/settlement/pkg/kv/memdb"
	"github.com/cbdc-core/settlement/pkg/txmodel"
)

type recordingSink struct {
	errs map[txmodel.Hash]*txmodel.TxError
}

func newRecordingSink() *recordingSink {
	return &recordingSink{errs: make(map[txmodel.Hash]*txmodel.TxError)}
}

func (s *recordingSink) Report(txID txmodel.Hash, err *txmodel.TxError) { s.errs[txID] = err }

func hashWithByte(b byte) txmodel.Hash {
	var h txmodel.Hash
	h[0] = b
	return h
}

func singleShardDirectory(t *testing.T) *directory.Table {
	t.Helper()
	tbl, err := directory.NewTable([]directory.Range{{ShardIndex: 0, Start: 0, End: 255}})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	return tbl
}

func TestOnCTXForwardsOnceAllInRangeInputsConfirmed(t *testing.T) {
	dir := singleShardDirectory(t)
	sink := newRecordingSink()
	az := atomizer.New(4, sink)
	s := New(0, dir, az, nil, sink)

	input := hashWithByte(0x01)
	output := hashWithByte(0x02)
	s.Seed(input)

	ctx := txmodel.CTX{TxID: hashWithByte(0xAA), InputUHSIDs: []txmodel.Hash{input}, OutputUHSIDs: []txmodel.Hash{output}, Attestations: txmodel.NewAttestationSet()}
	if err := s.OnCTX(ctx, 0); err != nil {
		t.Fatalf("OnCTX: %v", err)
	}
	block, _ := az.MakeBlock()
	if len(block.Body) != 1 || block.Body[0].TxID != ctx.TxID {
		t.Fatalf("expected the forwarded tx in the next cut block, got %d txs", len(block.Body))
	}
}

func TestOnCTXReportsInputsDNE(t *testing.T) {
	dir := singleShardDirectory(t)
	sink := newRecordingSink()
	az := atomizer.New(4, sink)
	s := New(0, dir, az, nil, sink)

	missing := hashWithByte(0x01)
	ctx := txmodel.CTX{TxID: hashWithByte(0xBB), InputUHSIDs: []txmodel.Hash{missing}, Attestations: txmodel.NewAttestationSet()}
	err := s.OnCTX(ctx, 0)
	if err == nil || err.Kind != txmodel.KindInputsDNE {
		t.Fatalf("expected inputs_dne, got %v", err)
	}
	if sink.errs[ctx.TxID].Kind != txmodel.KindInputsDNE {
		t.Fatalf("expected the error reported to the sink, got %v", sink.errs[ctx.TxID])
	}
}

func TestOnCTXReportsSyncWhenBehindRequiredHeight(t *testing.T) {
	dir := singleShardDirectory(t)
	sink := newRecordingSink()
	az := atomizer.New(4, sink)
	s := New(0, dir, az, nil, sink)

	ctx := txmodel.CTX{TxID: hashWithByte(0xCC), Attestations: txmodel.NewAttestationSet()}
	err := s.OnCTX(ctx, 5)
	if err == nil || err.Kind != txmodel.KindSync {
		t.Fatalf("expected sync, got %v", err)
	}
}

func TestOnCTXWaitsForAllInRangeInputs(t *testing.T) {
	dir := singleShardDirectory(t)
	sink := newRecordingSink()
	az := atomizer.New(4, sink)
	s := New(0, dir, az, nil, sink)

	a := hashWithByte(0x01)
	b := hashWithByte(0x02)
	s.Seed(a, b)

	// First delivery somehow only names input a (split delivery).
	ctxPartial := txmodel.CTX{TxID: hashWithByte(0xDD), InputUHSIDs: []txmodel.Hash{a}, Attestations: txmodel.NewAttestationSet()}
	if err := s.OnCTX(ctxPartial, 0); err != nil {
		t.Fatalf("OnCTX partial: %v", err)
	}
	if az.PendingTransactions() != 0 {
		t.Fatalf("expected no atomizer forward yet (required was only 1 input in this call)")
	}

	ctxFull := txmodel.CTX{TxID: hashWithByte(0xDD), InputUHSIDs: []txmodel.Hash{a, b}, Attestations: txmodel.NewAttestationSet()}
	if err := s.OnCTX(ctxFull, 0); err != nil {
		t.Fatalf("OnCTX full: %v", err)
	}
	if az.PendingTransactions() != 1 {
		t.Fatalf("expected forward once every in-range input of the latest delivery is confirmed")
	}
}

func TestOnBlockAppliesInRangeInputsAndOutputs(t *testing.T) {
	dir := singleShardDirectory(t)
	sink := newRecordingSink()
	az := atomizer.New(4, sink)
	s := New(0, dir, az, nil, sink)

	input := hashWithByte(0x01)
	output := hashWithByte(0x02)
	s.Seed(input)

	block := txmodel.Block{Height: 1, Body: []txmodel.CTX{{
		TxID: hashWithByte(0xEE), InputUHSIDs: []txmodel.Hash{input}, OutputUHSIDs: []txmodel.Hash{output}, Attestations: txmodel.NewAttestationSet(),
	}}}
	if err := s.OnBlock(block); err != nil {
		t.Fatalf("OnBlock: %v", err)
	}
	if s.BestHeight() != 1 {
		t.Fatalf("expected best height 1, got %d", s.BestHeight())
	}
	if _, present := s.utxo[input]; present {
		t.Fatalf("expected the spent input removed from the utxo set")
	}
	if _, present := s.utxo[output]; !present {
		t.Fatalf("expected the new output present in the utxo set")
	}
}

func TestOnBlockFillsGapFromArchiver(t *testing.T) {
	dir := singleShardDirectory(t)
	sink := newRecordingSink()
	az := atomizer.New(4, sink)
	ar := archiver.New(memdb.New())
	s := New(0, dir, az, ar, sink)

	skipped := txmodel.Block{Height: 1, Body: nil}
	if err := ar.Put(skipped); err != nil {
		t.Fatalf("archiver Put: %v", err)
	}

	block2 := txmodel.Block{Height: 2, Body: nil}
	if err := s.OnBlock(block2); err != nil {
		t.Fatalf("OnBlock: %v", err)
	}
	if s.BestHeight() != 2 {
		t.Fatalf("expected best height 2 after filling the gap, got %d", s.BestHeight())
	}
}

func TestOnBlockReportsSyncWhenArchiverCannotFillGap(t *testing.T) {
	dir := singleShardDirectory(t)
	sink := newRecordingSink()
	az := atomizer.New(4, sink)
	ar := archiver.New(memdb.New())
	s := New(0, dir, az, ar, sink)

	block := txmodel.Block{Height: 3, Body: nil}
	err := s.OnBlock(block)
	if err == nil || err.Kind != txmodel.KindSync {
		t.Fatalf("expected sync, got %v", err)
	}
}
