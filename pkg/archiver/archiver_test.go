// Copyright 2025 Certen Protocol
package archiver

import (
	"errors"
	"testing"

	"github.com/cbdc-core/settlement/pkg/kv/memdb"
	"github.com/cbdc-core/settlement/pkg/txmodel"
)

func sampleBlock(height uint64, salt byte) txmodel.Block {
	var txID txmodel.Hash
	txID[0] = salt
	return txmodel.Block{
		Height: height,
		Body: []txmodel.CTX{{
			TxID:         txID,
			InputUHSIDs:  nil,
			OutputUHSIDs: []txmodel.Hash{txID},
			Attestations: txmodel.NewAttestationSet(),
		}},
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	a := New(memdb.New())
	block := sampleBlock(5, 0x11)
	if err := a.Put(block); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := a.Get(5)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Height != block.Height || got.Body[0].TxID != block.Body[0].TxID {
		t.Fatalf("round trip mismatch: got %+v", got)
	}
}

func TestGetMissingReturnsErrNotFound(t *testing.T) {
	a := New(memdb.New())
	_, err := a.Get(42)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPutIsIdempotent(t *testing.T) {
	a := New(memdb.New())
	block := sampleBlock(3, 0x22)
	if err := a.Put(block); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := a.Put(block); err != nil {
		t.Fatalf("Put again: %v", err)
	}
	got, err := a.Get(3)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Body[0].TxID != block.Body[0].TxID {
		t.Fatal("expected the same block content after a repeated put")
	}
}

func TestGetRangeSkipsGaps(t *testing.T) {
	a := New(memdb.New())
	for _, h := range []uint64{1, 3, 5} {
		if err := a.Put(sampleBlock(h, byte(h))); err != nil {
			t.Fatalf("Put(%d): %v", h, err)
		}
	}
	blocks, err := a.GetRange(0, 5)
	if err != nil {
		t.Fatalf("GetRange: %v", err)
	}
	if len(blocks) != 3 {
		t.Fatalf("expected 3 present blocks, got %d", len(blocks))
	}
	for i, h := range []uint64{1, 3, 5} {
		if blocks[i].Height != h {
			t.Fatalf("expected block %d at position %d, got height %d", h, i, blocks[i].Height)
		}
	}
}

func TestLatestHeightTracksHighestPut(t *testing.T) {
	a := New(memdb.New())
	if h, err := a.LatestHeight(); err != nil || h != 0 {
		t.Fatalf("expected 0 for an empty archiver, got %d, %v", h, err)
	}
	_ = a.Put(sampleBlock(10, 0x01))
	_ = a.Put(sampleBlock(7, 0x02))
	h, err := a.LatestHeight()
	if err != nil {
		t.Fatalf("LatestHeight: %v", err)
	}
	if h != 10 {
		t.Fatalf("expected latest height 10 despite out-of-order puts, got %d", h)
	}
}
