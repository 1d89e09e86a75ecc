// Copyright 2025 Certen Protocol
//
// Package directory implements the deterministic UHS-id-to-shard routing
// function (§4.9). It is a pure function of the configured range table;
// every node computes identical answers given the same table.
package directory

import (
	"errors"
	"fmt"

	"github.com/cbdc-core/settlement/pkg/txmodel"
)

// ErrNoShard is returned when no configured range covers a UHS id.
var ErrNoShard = errors.New("directory: no shard range covers this id")

// Range is an inclusive byte interval [Start, End] over a UHS id's first
// byte. Ranges may overlap across shards for replication; routing uses
// the first matching shard in table order (§3 "Shard range").
type Range struct {
	ShardIndex int
	Start      byte
	End        byte
}

// Validate reports whether r is a well-formed inclusive interval.
func (r Range) Validate() error {
	if r.Start > r.End {
		return fmt.Errorf("directory: range for shard %d has start %d > end %d", r.ShardIndex, r.Start, r.End)
	}
	return nil
}

// Contains reports whether b falls within the inclusive range.
func (r Range) Contains(b byte) bool { return b >= r.Start && b <= r.End }

// Table is an ordered list of shard ranges.
type Table struct {
	ranges []Range
}

// NewTable builds a routing table from ranges, preserving their order
// (first match wins when ranges overlap, per §3).
func NewTable(ranges []Range) (*Table, error) {
	for _, r := range ranges {
		if err := r.Validate(); err != nil {
			return nil, err
		}
	}
	cp := append([]Range(nil), ranges...)
	return &Table{ranges: cp}, nil
}

// ShardCount returns the number of distinct shard indices configured.
func (t *Table) ShardCount() int {
	max := -1
	for _, r := range t.ranges {
		if r.ShardIndex > max {
			max = r.ShardIndex
		}
	}
	return max + 1
}

// Route returns the index of the first shard whose range contains id's
// first byte, or ErrNoShard if none does.
func (t *Table) Route(id txmodel.Hash) (int, error) {
	b := id[0]
	for _, r := range t.ranges {
		if r.Contains(b) {
			return r.ShardIndex, nil
		}
	}
	return -1, fmt.Errorf("%w: first byte %#x", ErrNoShard, b)
}

// RoutesToShard reports whether id belongs to shardIndex under t. Shards
// use this to decide "is this UHS id in my range" (§4.4 "for each input
// in this shard's range").
func (t *Table) RoutesToShard(id txmodel.Hash, shardIndex int) bool {
	idx, err := t.Route(id)
	return err == nil && idx == shardIndex
}

// ShardsForByteRange returns every shard index whose range intersects
// the inclusive byte interval [lo, hi].
func (t *Table) ShardsForByteRange(lo, hi byte) []int {
	seen := make(map[int]bool)
	var out []int
	for _, r := range t.ranges {
		if r.Start > hi || r.End < lo {
			continue
		}
		if !seen[r.ShardIndex] {
			seen[r.ShardIndex] = true
			out = append(out, r.ShardIndex)
		}
	}
	return out
}

// EvenSplit builds a Table dividing [0,255] into n contiguous, roughly
// equal shard ranges with no overlap — the common case where shard{i}_start
// / shard{i}_end are not explicitly configured.
func EvenSplit(n int) (*Table, error) {
	if n <= 0 || n > 256 {
		return nil, fmt.Errorf("directory: invalid shard count %d", n)
	}
	ranges := make([]Range, 0, n)
	width := 256 / n
	remainder := 256 % n
	start := 0
	for i := 0; i < n; i++ {
		w := width
		if i < remainder {
			w++
		}
		end := start + w - 1
		ranges = append(ranges, Range{ShardIndex: i, Start: byte(start), End: byte(end)})
		start = end + 1
	}
	return NewTable(ranges)
}
