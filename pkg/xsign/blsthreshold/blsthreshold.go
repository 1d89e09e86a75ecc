// Copyright 2025 Certen Protocol
//
// Package blsthreshold is an alternate, pluggable sentinel attestation
// scheme built on BLS12-381 aggregate signatures, offered alongside the
// default Schnorr scheme in pkg/xsign. Where Schnorr attestations are
// checked and counted one at a time (pkg/txmodel.AttestationSet), BLS
// lets a quorum's signatures be combined into a single aggregate
// signature and checked with one pairing, trading per-sentinel identity
// in the aggregate for a smaller wire footprint. No config key selects
// this scheme and the sentinel does not call it; sentinels attest with
// the Schnorr scheme only.
//
// Grounded on the teacher's pkg/crypto/bls/bls.go (pure Go BLS12-381 via
// gnark-crypto: scalar private key, G2 public key, G1 signature,
// pairing-based Verify, point-addition AggregateSignatures/
// AggregatePublicKeys) and pkg/crypto/bls/key_manager.go (key
// load/persist lifecycle), adapted from Accumulate-anchor domain
// separation tags to sentinel-attestation ones.
package blsthreshold

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sync"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
)

// DomainAttestation domain-separates sentinel CTX attestations from any
// other use of the same keys.
const DomainAttestation = "CERTEN_SETTLEMENT_ATTESTATION_V1"

const (
	PrivateKeySize = 32
	PublicKeySize  = 96
	SignatureSize  = 48
)

var (
	initOnce sync.Once
	g2Gen    bls12381.G2Affine
)

func initialize() {
	initOnce.Do(func() {
		_, _, _, g2 := bls12381.Generators()
		g2Gen = g2
	})
}

// PrivateKey is a sentinel's BLS signing key, a scalar in Fr.
type PrivateKey struct{ scalar fr.Element }

// PublicKey is a sentinel's BLS verification key, a point on G2.
type PublicKey struct{ point bls12381.G2Affine }

// Signature is a BLS signature, a point on G1.
type Signature struct{ point bls12381.G1Affine }

// GenerateKeyPair returns a fresh random key pair.
func GenerateKeyPair() (*PrivateKey, *PublicKey, error) {
	initialize()
	var sk fr.Element
	if _, err := sk.SetRandom(); err != nil {
		return nil, nil, fmt.Errorf("blsthreshold: generate scalar: %w", err)
	}
	priv := &PrivateKey{scalar: sk}
	return priv, priv.PublicKey(), nil
}

// KeyPairFromSeed derives a deterministic key pair, for tests and key
// recovery from a backup seed.
func KeyPairFromSeed(seed [32]byte) (*PrivateKey, *PublicKey, error) {
	initialize()
	digest := sha256.Sum256(seed[:])
	var sk fr.Element
	sk.SetBytes(digest[:])
	priv := &PrivateKey{scalar: sk}
	return priv, priv.PublicKey(), nil
}

func (sk *PrivateKey) Bytes() []byte {
	b := sk.scalar.Bytes()
	return b[:]
}

func (sk *PrivateKey) Hex() string { return hex.EncodeToString(sk.Bytes()) }

// PublicKey derives the public key pk = sk * G2.
func (sk *PrivateKey) PublicKey() *PublicKey {
	initialize()
	var pk bls12381.G2Affine
	var skBig big.Int
	sk.scalar.BigInt(&skBig)
	pk.ScalarMultiplication(&g2Gen, &skBig)
	return &PublicKey{point: pk}
}

// Sign signs a CTX transaction id with domain separation: sig = sk *
// H(domain || txID).
func (sk *PrivateKey) Sign(txID [32]byte) *Signature {
	h := hashToG1(append([]byte(DomainAttestation), txID[:]...))
	var sig bls12381.G1Affine
	var skBig big.Int
	sk.scalar.BigInt(&skBig)
	sig.ScalarMultiplication(&h, &skBig)
	return &Signature{point: sig}
}

func (pk *PublicKey) Bytes() []byte {
	b := pk.point.Bytes()
	return b[:]
}

func (pk *PublicKey) Hex() string { return hex.EncodeToString(pk.Bytes()) }

func PublicKeyFromBytes(data []byte) (*PublicKey, error) {
	initialize()
	if len(data) != PublicKeySize {
		return nil, fmt.Errorf("blsthreshold: public key must be %d bytes, got %d", PublicKeySize, len(data))
	}
	var pk bls12381.G2Affine
	if _, err := pk.SetBytes(data); err != nil {
		return nil, fmt.Errorf("blsthreshold: decode public key: %w", err)
	}
	return &PublicKey{point: pk}, nil
}

func (pk *PublicKey) Equal(other *PublicKey) bool { return pk.point.Equal(&other.point) }

// Verify checks a single sentinel's attestation over a CTX id.
func (pk *PublicKey) Verify(sig *Signature, txID [32]byte) bool {
	initialize()
	h := hashToG1(append([]byte(DomainAttestation), txID[:]...))
	var negPk bls12381.G2Affine
	negPk.Neg(&pk.point)
	ok, err := bls12381.PairingCheck(
		[]bls12381.G1Affine{sig.point, h},
		[]bls12381.G2Affine{g2Gen, negPk},
	)
	return err == nil && ok
}

func (sig *Signature) Bytes() []byte {
	b := sig.point.Bytes()
	return b[:]
}

func SignatureFromBytes(data []byte) (*Signature, error) {
	initialize()
	if len(data) != SignatureSize {
		return nil, fmt.Errorf("blsthreshold: signature must be %d bytes, got %d", SignatureSize, len(data))
	}
	var sig bls12381.G1Affine
	if _, err := sig.SetBytes(data); err != nil {
		return nil, fmt.Errorf("blsthreshold: decode signature: %w", err)
	}
	return &Signature{point: sig}, nil
}

// AggregateSignatures combines a quorum's individual signatures over the
// same CTX id into one, so a quorum's attestation is a single
// constant-size signature regardless of quorum size.
func AggregateSignatures(sigs []*Signature) (*Signature, error) {
	if len(sigs) == 0 {
		return nil, errors.New("blsthreshold: no signatures to aggregate")
	}
	var acc bls12381.G1Jac
	acc.FromAffine(&sigs[0].point)
	for _, s := range sigs[1:] {
		var jac bls12381.G1Jac
		jac.FromAffine(&s.point)
		acc.AddAssign(&jac)
	}
	var result bls12381.G1Affine
	result.FromJacobian(&acc)
	return &Signature{point: result}, nil
}

// AggregatePublicKeys combines the public keys of the quorum members
// whose signatures went into an aggregate signature.
func AggregatePublicKeys(pubs []*PublicKey) (*PublicKey, error) {
	if len(pubs) == 0 {
		return nil, errors.New("blsthreshold: no public keys to aggregate")
	}
	var acc bls12381.G2Jac
	acc.FromAffine(&pubs[0].point)
	for _, p := range pubs[1:] {
		var jac bls12381.G2Jac
		jac.FromAffine(&p.point)
		acc.AddAssign(&jac)
	}
	var result bls12381.G2Affine
	result.FromJacobian(&acc)
	return &PublicKey{point: result}, nil
}

// VerifyQuorum checks an aggregate signature against the aggregate of
// the claimed signers' public keys in a single pairing check — the
// threshold-attestation equivalent of txmodel.AttestationSet.Quorum.
func VerifyQuorum(aggSig *Signature, signers []*PublicKey, txID [32]byte) bool {
	if len(signers) == 0 {
		return false
	}
	aggPk, err := AggregatePublicKeys(signers)
	if err != nil {
		return false
	}
	return aggPk.Verify(aggSig, txID)
}

// hashToG1 maps an arbitrary message to a point on G1 by hashing to a
// scalar and multiplying the G1 generator, sufficient for a closed set
// of permissioned sentinel keys (not a general-purpose hash-to-curve
// construction safe against adversarial public keys).
func hashToG1(message []byte) bls12381.G1Affine {
	digest := sha256.Sum256(message)
	var scalar fr.Element
	scalar.SetBytes(digest[:])
	var scalarBig big.Int
	scalar.BigInt(&scalarBig)

	g1Gen, _, _, _ := bls12381.Generators()
	var point bls12381.G1Affine
	point.ScalarMultiplication(&g1Gen, &scalarBig)
	return point
}
