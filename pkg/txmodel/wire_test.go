// Copyright 2025 Certen Protocol

package txmodel

import (
	"bytes"
	"testing"
)

func sampleTx() FullTx {
	var commitA, commitB Hash
	commitA[0] = 0xAA
	commitB[0] = 0xBB
	return FullTx{
		Inputs: []Input{
			{
				OutPoint: OutPoint{TxID: Hash{1, 2, 3}, OutputIndex: 0},
				Output:   Output{WitnessProgramCommitment: commitA, Value: 100},
				Witness:  []byte{0x00, 1, 2, 3},
			},
		},
		Outputs: []Output{
			{WitnessProgramCommitment: commitB, Value: 60},
			{WitnessProgramCommitment: commitA, Value: 40},
		},
	}
}

func TestFullTxRoundTrip(t *testing.T) {
	tx := sampleTx()
	b, err := tx.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := UnmarshalFullTx(b)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.TxID() != tx.TxID() {
		t.Fatalf("tx id mismatch after round trip")
	}
	if len(got.Inputs) != len(tx.Inputs) || len(got.Outputs) != len(tx.Outputs) {
		t.Fatalf("shape mismatch after round trip")
	}
	if !bytes.Equal(got.Inputs[0].Witness, tx.Inputs[0].Witness) {
		t.Fatalf("witness mismatch after round trip")
	}
}

func TestTxIDDeterministic(t *testing.T) {
	tx := sampleTx()
	if tx.TxID() != sampleTx().TxID() {
		t.Fatalf("tx id is not a pure function of the transaction")
	}
}

func TestUHSIDDistinctPerOutput(t *testing.T) {
	tx := sampleTx()
	ids := tx.OutputUHSIDs()
	if ids[0] == ids[1] {
		t.Fatalf("distinct outputs produced the same UHS id")
	}
}

func TestCTXRoundTrip(t *testing.T) {
	tx := sampleTx()
	ctx := tx.ToCTX()
	b, err := ctx.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := UnmarshalCTX(b)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.TxID != ctx.TxID {
		t.Fatalf("tx id mismatch")
	}
	if len(got.InputUHSIDs) != len(ctx.InputUHSIDs) {
		t.Fatalf("input id count mismatch")
	}
}

func TestBlockRoundTrip(t *testing.T) {
	ctx := sampleTx().ToCTX()
	blk := Block{Height: 7, Body: []CTX{ctx}}
	b, err := blk.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := UnmarshalBlock(b)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Height != blk.Height || len(got.Body) != 1 {
		t.Fatalf("block mismatch: %+v", got)
	}
	if got.Body[0].TxID != ctx.TxID {
		t.Fatalf("body tx id mismatch")
	}
}

func TestUnwrapEnvelopeBadVersion(t *testing.T) {
	_, err := UnwrapEnvelope([]byte{99, 1, 2, 3})
	if err == nil {
		t.Fatalf("expected bad version error")
	}
}

func TestDecodeShortBuffer(t *testing.T) {
	_, err := UnmarshalFullTx([]byte{WireVersion, 1, 2})
	if err == nil {
		t.Fatalf("expected short buffer error")
	}
}
