// Copyright 2025 Certen Protocol
package sentinel

import (
	"context"
	"testing"

	"github.com/cbdc-core/settlement/pkg/directory"
	"github.com/cbdc-core/settlement/pkg/shard"
	"github.com/cbdc-core/settlement/pkg/txmodel"
	"github.com/cbdc-core/settlement/pkg/xsign"
)

func unsignedInput(kp *xsign.KeyPair, value uint64, prevTx byte) txmodel.Input {
	commitment := xsign.P2PKCommitment(kp.PublicKey())
	out := txmodel.Output{WitnessProgramCommitment: commitment, Value: value}
	op := txmodel.OutPoint{TxID: txmodel.Hash{prevTx}, OutputIndex: 0}
	return txmodel.Input{OutPoint: op, Output: out}
}

func buildValidTx(t *testing.T) (txmodel.FullTx, *xsign.KeyPair) {
	t.Helper()
	kp, err := xsign.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	in := unsignedInput(kp, 100, 9)
	out := txmodel.Output{WitnessProgramCommitment: xsign.P2PKCommitment(kp.PublicKey()), Value: 100}
	tx := txmodel.FullTx{Inputs: []txmodel.Input{in}, Outputs: []txmodel.Output{out}}

	sig, err := kp.Sign(tx.TxID())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	tx.Inputs[0].Witness = xsign.BuildP2PKWitness(kp.PublicKey(), sig)
	return tx, kp
}

type fixedForwarder struct {
	status Status
	err    error
}

func (f fixedForwarder) Forward(context.Context, txmodel.FullTx, txmodel.CTX) (Status, error) {
	return f.status, f.err
}

func newSentinel(t *testing.T, peers []PeerClient, threshold int, fwd Forwarder) *Sentinel {
	t.Helper()
	kp, err := xsign.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return New(kp, peers, threshold, fwd)
}

func TestExecuteStaticInvalidShortCircuits(t *testing.T) {
	tx, _ := buildValidTx(t)
	tx.Outputs = nil
	s := newSentinel(t, nil, 1, fixedForwarder{status: StatusConfirmed})

	res, err := s.Execute(context.Background(), tx)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != StatusStaticInvalid {
		t.Fatalf("expected static_invalid, got %v", res.Status)
	}
	if res.Err == nil {
		t.Fatalf("expected the validation error echoed back")
	}
}

func TestExecuteSelfAttestationMeetsThresholdOfOne(t *testing.T) {
	tx, _ := buildValidTx(t)
	s := newSentinel(t, nil, 1, fixedForwarder{status: StatusPending})

	res, err := s.Execute(context.Background(), tx)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != StatusPending {
		t.Fatalf("expected pending, got %v", res.Status)
	}
}

func TestExecuteGathersPeerAttestationsToThreshold(t *testing.T) {
	tx, _ := buildValidTx(t)
	peerA := newSentinel(t, nil, 1, nil)
	peerB := newSentinel(t, nil, 1, nil)
	peers := []PeerClient{InProcessPeerClient{Peer: peerA}, InProcessPeerClient{Peer: peerB}}

	s := newSentinel(t, peers, 3, fixedForwarder{status: StatusConfirmed})
	res, err := s.Execute(context.Background(), tx)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != StatusConfirmed {
		t.Fatalf("expected confirmed once threshold reached, got %v", res.Status)
	}
}

func TestExecuteStateInvalidWhenPeersExhaustedBelowThreshold(t *testing.T) {
	tx, _ := buildValidTx(t)
	peerA := newSentinel(t, nil, 1, nil)
	peers := []PeerClient{InProcessPeerClient{Peer: peerA}}

	s := newSentinel(t, peers, 5, fixedForwarder{status: StatusConfirmed})
	res, err := s.Execute(context.Background(), tx)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != StatusStateInvalid {
		t.Fatalf("expected state_invalid on peer exhaustion, got %v", res.Status)
	}
}

func TestExecutePropagatesTransientForwardError(t *testing.T) {
	tx, _ := buildValidTx(t)
	s := newSentinel(t, nil, 1, fixedForwarder{err: context.DeadlineExceeded})

	_, err := s.Execute(context.Background(), tx)
	if err == nil {
		t.Fatalf("expected a transient forwarding error")
	}
}

func TestValidateForPeerRejectsStaticallyInvalidTx(t *testing.T) {
	tx, _ := buildValidTx(t)
	tx.Inputs[0].Witness = nil
	s := newSentinel(t, nil, 1, nil)

	if _, ok := s.ValidateForPeer(tx); ok {
		t.Fatalf("expected a statically invalid tx to be refused attestation")
	}
}

func TestValidateForPeerAttestsValidTx(t *testing.T) {
	tx, _ := buildValidTx(t)
	s := newSentinel(t, nil, 1, nil)

	att, ok := s.ValidateForPeer(tx)
	if !ok {
		t.Fatalf("expected attestation for a valid tx")
	}
	if att.SentinelKey != s.PublicKey() {
		t.Fatalf("expected the attestation keyed under this sentinel's public key")
	}
	if !(xsign.SchnorrVerifier{}).Verify(att.SentinelKey, tx.TxID(), att.Signature) {
		t.Fatalf("expected the attestation signature to verify")
	}
}

func TestAtomizerForwarderSendsToOwningShard(t *testing.T) {
	dir, err := directory.NewTable([]directory.Range{{ShardIndex: 0, Start: 0, End: 255}})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	tx, _ := buildValidTx(t)
	compact := tx.ToCTX()

	sh := shard.New(0, dir, noopAtomizer{}, nil, noopSink{})
	sh.Seed(compact.InputUHSIDs...)

	f := AtomizerForwarder{Dir: dir, Shards: map[int]ShardForwardClient{0: sh}}
	status, err := f.Forward(context.Background(), tx, compact)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if status != StatusPending {
		t.Fatalf("expected pending after fan-out, got %v", status)
	}
}

func TestAtomizerForwarderStateInvalidWhenNoShardClientConfigured(t *testing.T) {
	dir, err := directory.NewTable([]directory.Range{{ShardIndex: 0, Start: 0, End: 255}})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	tx, _ := buildValidTx(t)
	compact := tx.ToCTX()

	f := AtomizerForwarder{Dir: dir, Shards: map[int]ShardForwardClient{}}
	status, err := f.Forward(context.Background(), tx, compact)
	if err == nil {
		t.Fatalf("expected an error when no shard client is configured")
	}
	if status != StatusStateInvalid {
		t.Fatalf("expected state_invalid, got %v", status)
	}
}

func TestTwoPCForwarderTranslatesCommitResult(t *testing.T) {
	tx, _ := buildValidTx(t)
	f := TwoPCForwarder{Leader: fixedCoordinator{committed: true}}
	status, err := f.Forward(context.Background(), tx, txmodel.CTX{})
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if status != StatusConfirmed {
		t.Fatalf("expected confirmed, got %v", status)
	}

	f = TwoPCForwarder{Leader: fixedCoordinator{committed: false}}
	status, err = f.Forward(context.Background(), tx, txmodel.CTX{})
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if status != StatusStateInvalid {
		t.Fatalf("expected state_invalid, got %v", status)
	}
}

type fixedCoordinator struct {
	committed bool
}

func (c fixedCoordinator) Execute(context.Context, txmodel.FullTx) (bool, error) {
	return c.committed, nil
}

type noopAtomizer struct{}

func (noopAtomizer) Insert(uint64, txmodel.CTX, map[txmodel.Hash]struct{}) *txmodel.TxError {
	return nil
}

type noopSink struct{}

func (noopSink) Report(txmodel.Hash, *txmodel.TxError) {}
