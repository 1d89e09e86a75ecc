// Copyright 2025 Certen Protocol

package directory

import (
	"testing"

	"github.com/cbdc-core/settlement/pkg/txmodel"
)

func idWithFirstByte(b byte) txmodel.Hash {
	var h txmodel.Hash
	h[0] = b
	return h
}

func TestEvenSplitCoversWholeRange(t *testing.T) {
	tbl, err := EvenSplit(4)
	if err != nil {
		t.Fatalf("EvenSplit: %v", err)
	}
	for b := 0; b < 256; b++ {
		if _, err := tbl.Route(idWithFirstByte(byte(b))); err != nil {
			t.Fatalf("byte %d not routed: %v", b, err)
		}
	}
}

func TestRouteFirstMatchWinsOnOverlap(t *testing.T) {
	tbl, err := NewTable([]Range{
		{ShardIndex: 0, Start: 0, End: 200},
		{ShardIndex: 1, Start: 100, End: 255},
	})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	idx, err := tbl.Route(idWithFirstByte(150))
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if idx != 0 {
		t.Fatalf("expected first matching shard 0, got %d", idx)
	}
}

func TestRouteNoShard(t *testing.T) {
	tbl, err := NewTable([]Range{{ShardIndex: 0, Start: 0, End: 99}})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	if _, err := tbl.Route(idWithFirstByte(200)); err == nil {
		t.Fatalf("expected ErrNoShard")
	}
}

func TestShardsForByteRange(t *testing.T) {
	tbl, err := EvenSplit(4)
	if err != nil {
		t.Fatalf("EvenSplit: %v", err)
	}
	shards := tbl.ShardsForByteRange(0, 5)
	if len(shards) != 1 || shards[0] != 0 {
		t.Fatalf("expected only shard 0 for bytes 0..5, got %v", shards)
	}
}

func TestInvalidRangeRejected(t *testing.T) {
	if _, err := NewTable([]Range{{ShardIndex: 0, Start: 10, End: 5}}); err == nil {
		t.Fatalf("expected error for start > end")
	}
}
