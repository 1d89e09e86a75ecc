// Copyright 2025 Certen Protocol
//
// Package sentinel implements §4.2: the client-facing entry point that
// statically validates a transaction, gathers a quorum of peer
// attestations, and forwards the result downstream (to the owning shards
// in atomizer mode, or to the 2PC coordinator cluster's leader).
//
// Grounded on the teacher's pkg/batch/attestation_broadcaster.go and
// pkg/batch/peer_manager.go (fan out a request to a peer set, collect
// responses until quorum or exhaustion, uniform random peer ordering via
// math/rand), generalized from validator-network attestation broadcast
// to sentinel peer polling, and on pkg/verification/unified_verifier.go
// for the validate-then-classify-status idiom.
package sentinel

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/cbdc-core/settlement/pkg/directory"
	"github.com/cbdc-core/settlement/pkg/txmodel"
	"github.com/cbdc-core/settlement/pkg/validate"
	"github.com/cbdc-core/settlement/pkg/xsign"
)

// Status is the client-visible outcome of Execute, per §4.2.
type Status string

const (
	StatusStaticInvalid Status = "static_invalid"
	StatusPending       Status = "pending"
	StatusConfirmed     Status = "confirmed"
	StatusStateInvalid  Status = "state_invalid"
)

// ErrQuorumNotReached is returned internally when peer polling exhausts
// every peer without reaching the attestation threshold.
var ErrQuorumNotReached = errors.New("sentinel: exhausted peers without reaching attestation quorum")

// ExecuteResult is Execute's client-visible response.
type ExecuteResult struct {
	Status Status
	Err    error // populated for StatusStaticInvalid, echoed to the client verbatim
}

// PeerClient is how a sentinel asks one peer to validate and, if valid,
// attest to a transaction. An InProcessPeerClient wraps another local
// *Sentinel; a network client wraps an RPC call to a remote sentinel.
type PeerClient interface {
	RequestAttestation(ctx context.Context, tx txmodel.FullTx) (txmodel.Attestation, bool)
}

// InProcessPeerClient adapts a local *Sentinel to PeerClient.
type InProcessPeerClient struct {
	Peer *Sentinel
}

func (c InProcessPeerClient) RequestAttestation(_ context.Context, tx txmodel.FullTx) (txmodel.Attestation, bool) {
	return c.Peer.ValidateForPeer(tx)
}

// Forwarder is the downstream hop once a CTX has reached quorum: in
// atomizer mode it fans the CTX out to the owning shards (AtomizerForwarder);
// in 2PC mode it drives the coordinator leader synchronously
// (TwoPCForwarder).
type Forwarder interface {
	Forward(ctx context.Context, tx txmodel.FullTx, compact txmodel.CTX) (Status, error)
}

// Sentinel is one validator-network participant.
type Sentinel struct {
	key       *xsign.KeyPair
	peers     []PeerClient
	threshold int
	forwarder Forwarder
	verifier  xsign.SchnorrVerifier
	rng       *rand.Rand
}

// New returns a Sentinel signing with key, polling peers for attestation
// quorum up to threshold, and forwarding confirmed CTXs via forwarder.
func New(key *xsign.KeyPair, peers []PeerClient, threshold int, forwarder Forwarder) *Sentinel {
	return &Sentinel{
		key:       key,
		peers:     peers,
		threshold: threshold,
		forwarder: forwarder,
		rng:       rand.New(rand.NewSource(int64(key.PublicKey()[0])<<8 | int64(key.PublicKey()[1]))),
	}
}

// PublicKey returns this sentinel's attestation key.
func (s *Sentinel) PublicKey() txmodel.PubKey { return s.key.PublicKey() }

// ValidateForPeer implements §4.2's `validate(tx) → attestation | none`
// peer-facing operation: statically validate tx and, if valid, return a
// fresh attestation over its tx_id under this sentinel's key.
func (s *Sentinel) ValidateForPeer(tx txmodel.FullTx) (txmodel.Attestation, bool) {
	if res := validate.Validate(tx); !res.OK() {
		return txmodel.Attestation{}, false
	}
	sig, err := s.key.Sign(tx.TxID())
	if err != nil {
		return txmodel.Attestation{}, false
	}
	return txmodel.Attestation{SentinelKey: s.key.PublicKey(), Signature: sig}, true
}

// Execute implements §4.2's `execute(tx) → {status, error?}`: validate,
// self-attest, gather peer attestations to quorum, and forward. A nil
// error alongside a populated ExecuteResult is a terminal client-visible
// outcome; a non-nil error is a transient, retry-eligible failure (an
// unreachable forwarding target), per §4.2's failure semantics.
func (s *Sentinel) Execute(ctx context.Context, tx txmodel.FullTx) (ExecuteResult, error) {
	if res := validate.Validate(tx); !res.OK() {
		return ExecuteResult{Status: StatusStaticInvalid, Err: res.Err}, nil
	}

	compact := tx.ToCTX()
	selfSig, err := s.key.Sign(compact.TxID)
	if err != nil {
		return ExecuteResult{}, fmt.Errorf("sentinel: self-attestation: %w", err)
	}
	selfAtt := txmodel.Attestation{SentinelKey: s.key.PublicKey(), Signature: selfSig}
	if !compact.Attestations.Add(s.verifier, compact.TxID, selfAtt) {
		return ExecuteResult{}, fmt.Errorf("sentinel: self-attestation failed to verify")
	}

	if err := s.gatherAttestations(ctx, tx, compact.TxID, &compact.Attestations); err != nil {
		return ExecuteResult{Status: StatusStateInvalid}, nil
	}

	status, err := s.forwarder.Forward(ctx, tx, compact)
	if err != nil {
		return ExecuteResult{}, fmt.Errorf("sentinel: forward: %w", err)
	}
	return ExecuteResult{Status: status}, nil
}

// gatherAttestations implements the attestation-gathering policy: peers
// are polled in a uniformly random order without replacement until
// threshold−1 additional attestations are collected (self already counts
// for one) or every peer has been exhausted.
func (s *Sentinel) gatherAttestations(ctx context.Context, tx txmodel.FullTx, txID txmodel.Hash, set *txmodel.AttestationSet) error {
	if set.Quorum(s.threshold) {
		return nil
	}
	order := s.rng.Perm(len(s.peers))
	for _, idx := range order {
		if set.Quorum(s.threshold) {
			return nil
		}
		att, ok := s.peers[idx].RequestAttestation(ctx, tx)
		if !ok {
			continue
		}
		set.Add(s.verifier, txID, att)
	}
	if !set.Quorum(s.threshold) {
		return ErrQuorumNotReached
	}
	return nil
}

// AtomizerForwarder fans a confirmed CTX out to the shard each of its
// inputs routes to (directory.Table.Route: the first range containing the
// input's first byte), per §4.2's atomizer-mode forwarding rule.
type AtomizerForwarder struct {
	Dir            *directory.Table
	Shards         map[int]ShardForwardClient
	RequiredHeight func() uint64
}

// ShardForwardClient is the forwarder's view of one atomizer-mode shard.
// *shard.Shard satisfies this directly.
type ShardForwardClient interface {
	OnCTX(ctx txmodel.CTX, requiredHeight uint64) *txmodel.TxError
}

func (f AtomizerForwarder) Forward(_ context.Context, _ txmodel.FullTx, compact txmodel.CTX) (Status, error) {
	owning := make(map[int]struct{})
	for _, id := range compact.InputUHSIDs {
		idx, err := f.Dir.Route(id)
		if err != nil {
			continue
		}
		owning[idx] = struct{}{}
	}
	if len(owning) == 0 {
		return StatusStateInvalid, fmt.Errorf("sentinel: no shard owns any input of tx %s", compact.TxID)
	}

	reqHeight := uint64(0)
	if f.RequiredHeight != nil {
		reqHeight = f.RequiredHeight()
	}

	var lastErr error
	sent := 0
	for idx := range owning {
		client, ok := f.Shards[idx]
		if !ok {
			lastErr = fmt.Errorf("sentinel: no shard client configured for shard %d", idx)
			continue
		}
		if txErr := client.OnCTX(compact, reqHeight); txErr != nil {
			lastErr = txErr
			continue
		}
		sent++
	}
	if sent == 0 {
		return StatusStateInvalid, lastErr
	}
	return StatusPending, nil
}

// TwoPCForwarder blocks on the coordinator cluster's leader response,
// translating true → confirmed, false → state_invalid.
type TwoPCForwarder struct {
	Leader CoordinatorClient
}

// CoordinatorClient is the forwarder's view of the coordinator leader.
// *coordinator.Coordinator satisfies this directly.
type CoordinatorClient interface {
	Execute(ctx context.Context, tx txmodel.FullTx) (bool, error)
}

func (f TwoPCForwarder) Forward(ctx context.Context, tx txmodel.FullTx, _ txmodel.CTX) (Status, error) {
	committed, err := f.Leader.Execute(ctx, tx)
	if err != nil {
		return "", err
	}
	if committed {
		return StatusConfirmed, nil
	}
	return StatusStateInvalid, nil
}
