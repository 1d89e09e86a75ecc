// Copyright 2025 Certen Protocol
package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/cbdc-core/settlement/pkg/directory"
	"github.com/cbdc-core/settlement/pkg/lockingshard"
	"github.com/cbdc-core/settlement/pkg/txmodel"
)

func singleShardSetup(t *testing.T) (*Coordinator, *lockingshard.Shard) {
	t.Helper()
	dir, err := directory.EvenSplit(1)
	if err != nil {
		t.Fatalf("EvenSplit: %v", err)
	}
	shard := lockingshard.New(directory.Range{ShardIndex: 0, Start: 0, End: 255})
	clients := map[int]ShardClient{0: InProcessShardClient{Shard: shard}}
	c := New(dir, clients, NewTicketMachine(0), Config{MaxThreads: 4, RetryBackoff: time.Millisecond, MaxRetries: 50})
	return c, shard
}

func mintTx(value uint64, program byte) txmodel.FullTx {
	return txmodel.FullTx{
		Outputs: []txmodel.Output{{WitnessProgramCommitment: func() txmodel.Hash {
			var h txmodel.Hash
			h[0] = program
			return h
		}(), Value: value}},
	}
}

func TestExecuteMintCommits(t *testing.T) {
	c, _ := singleShardSetup(t)
	tx := mintTx(100, 0x01)
	ok, err := c.Execute(context.Background(), tx)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !ok {
		t.Fatalf("expected commit for an uncontended mint")
	}
}

func TestExecuteSpendAfterMint(t *testing.T) {
	c, shard := singleShardSetup(t)
	mint := mintTx(50, 0x02)
	ok, err := c.Execute(context.Background(), mint)
	if err != nil || !ok {
		t.Fatalf("mint Execute: ok=%v err=%v", ok, err)
	}

	outputUHS := mint.OutputUHSIDs()[0]
	spend := txmodel.FullTx{
		Inputs: []txmodel.Input{{
			OutPoint: txmodel.OutPoint{TxID: mint.TxID(), OutputIndex: 0},
			Output:   mint.Outputs[0],
		}},
		Outputs: []txmodel.Output{{WitnessProgramCommitment: func() txmodel.Hash {
			var h txmodel.Hash
			h[0] = 0x03
			return h
		}(), Value: 50}},
	}
	ok, err = c.Execute(context.Background(), spend)
	if err != nil {
		t.Fatalf("spend Execute: %v", err)
	}
	if !ok {
		t.Fatalf("expected the spend to commit")
	}

	// The input UHS id should now hold a nil (deleted) value.
	val, lockErr := shard.TryLock(999, "probe", outputUHS, lockingshard.ModeRead, true)
	if lockErr != nil {
		t.Fatalf("probe lock: %v", lockErr)
	}
	if val != nil {
		t.Fatalf("expected the spent input's value deleted, got %q", val)
	}
}

func TestExecuteRejectsDoubleSpend(t *testing.T) {
	c, _ := singleShardSetup(t)
	mint := mintTx(10, 0x04)
	if ok, err := c.Execute(context.Background(), mint); err != nil || !ok {
		t.Fatalf("mint: ok=%v err=%v", ok, err)
	}

	spend := txmodel.FullTx{
		Inputs: []txmodel.Input{{
			OutPoint: txmodel.OutPoint{TxID: mint.TxID(), OutputIndex: 0},
			Output:   mint.Outputs[0],
		}},
	}
	if ok, err := c.Execute(context.Background(), spend); err != nil || !ok {
		t.Fatalf("first spend: ok=%v err=%v", ok, err)
	}
	// Second attempt to spend the same (now-deleted) input must fail.
	ok, err := c.Execute(context.Background(), spend)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if ok {
		t.Fatalf("expected the double-spend to be rejected")
	}
}

func TestExecuteRejectsDuplicateMint(t *testing.T) {
	c, _ := singleShardSetup(t)
	mint := mintTx(10, 0x05)
	if ok, err := c.Execute(context.Background(), mint); err != nil || !ok {
		t.Fatalf("first mint: ok=%v err=%v", ok, err)
	}
	// Re-running the identical mint targets the same output UHS id, which
	// is already occupied.
	ok, err := c.Execute(context.Background(), mint)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if ok {
		t.Fatalf("expected the duplicate mint to be rejected")
	}
}

func TestRecoverCommitsTicketReportedCommittedOnOneShard(t *testing.T) {
	c, shard := singleShardSetup(t)
	k := func() txmodel.Hash {
		var h txmodel.Hash
		h[0] = 0x06
		return h
	}()

	ticket := c.tickets.Next()
	if _, err := shard.TryLock(ticket, c.BrokerID(), k, lockingshard.ModeWrite, true); err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	if err := shard.Prepare(ticket, c.BrokerID(), map[txmodel.Hash][]byte{k: []byte("v")}); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := shard.Commit(ticket); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	// Simulate a crash before Finish: recovery should finish it off.

	if err := c.Recover(context.Background()); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if _, ok := shard.GetTickets(c.BrokerID())[ticket]; ok {
		t.Fatalf("expected recovery to finish the committed ticket")
	}
}

func TestRecoverRollsBackTicketStuckBegun(t *testing.T) {
	c, shard := singleShardSetup(t)
	k := func() txmodel.Hash {
		var h txmodel.Hash
		h[0] = 0x07
		return h
	}()
	ticket := c.tickets.Next()
	if _, err := shard.TryLock(ticket, c.BrokerID(), k, lockingshard.ModeWrite, true); err != nil {
		t.Fatalf("TryLock: %v", err)
	}

	if err := c.Recover(context.Background()); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if _, ok := shard.GetTickets(c.BrokerID())[ticket]; ok {
		t.Fatalf("expected recovery to finish the abandoned ticket")
	}
	// The key should be free again.
	if _, err := shard.TryLock(ticket+1, "other", k, lockingshard.ModeWrite, true); err != nil {
		t.Fatalf("expected the key free after rollback recovery, got %v", err)
	}
}
