// Copyright 2025 Certen Protocol
//
// Package xsign provides the default signature scheme consumed by the
// transaction model and the sentinel layer: BIP-340 Schnorr signatures
// over secp256k1, keyed on a 32-byte x-only public key, signing the
// SHA-256 digest of a canonical payload (§3). Built on
// github.com/btcsuite/btcd/btcec/v2, the pack's pointer to the canonical
// Go secp256k1/Schnorr implementation (see DESIGN.md).
package xsign

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"github.com/cbdc-core/settlement/pkg/txmodel"
)

// KeyPair is a secp256k1 private key together with its cached x-only
// public key.
type KeyPair struct {
	priv *btcec.PrivateKey
	pub  txmodel.PubKey
}

// GenerateKeyPair creates a fresh, random key pair.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("xsign: generate key: %w", err)
	}
	return newKeyPair(priv), nil
}

// KeyPairFromSeed derives a deterministic key pair from a 32-byte seed,
// used by tests and by wallet address derivation.
func KeyPairFromSeed(seed [32]byte) *KeyPair {
	priv, _ := btcec.PrivKeyFromBytes(seed[:])
	return newKeyPair(priv)
}

func newKeyPair(priv *btcec.PrivateKey) *KeyPair {
	var pub txmodel.PubKey
	copy(pub[:], schnorr.SerializePubKey(priv.PubKey()))
	return &KeyPair{priv: priv, pub: pub}
}

// PublicKey returns the 32-byte x-only public key.
func (k *KeyPair) PublicKey() txmodel.PubKey { return k.pub }

// Sign produces a BIP-340 Schnorr signature over msg (already a 32-byte
// digest, per §3 "signed message = tx_id").
func (k *KeyPair) Sign(msg txmodel.Hash) (txmodel.Signature, error) {
	sig, err := schnorr.Sign(k.priv, msg[:], schnorr.CustomNonce(rngNonce()))
	if err != nil {
		return txmodel.Signature{}, fmt.Errorf("xsign: sign: %w", err)
	}
	var out txmodel.Signature
	copy(out[:], sig.Serialize())
	return out, nil
}

// rngNonce draws 32 bytes of auxiliary randomness for nonce generation,
// per BIP-340's recommended (but not mandatory) defense against fault
// attacks on fully deterministic nonces.
func rngNonce() [32]byte {
	var aux [32]byte
	_, _ = rand.Read(aux[:])
	return aux
}

// SchnorrVerifier implements txmodel.Verifier using BIP-340 verification.
type SchnorrVerifier struct{}

// Verify checks sig over msg under pub.
func (SchnorrVerifier) Verify(pub txmodel.PubKey, msg txmodel.Hash, sig txmodel.Signature) bool {
	parsedPub, err := schnorr.ParsePubKey(pub[:])
	if err != nil {
		return false
	}
	parsedSig, err := schnorr.ParseSignature(sig[:])
	if err != nil {
		return false
	}
	return parsedSig.Verify(msg[:], parsedPub)
}

// Digest hashes an arbitrary payload to the 32-byte message format every
// signature in this system is computed over.
func Digest(payload []byte) txmodel.Hash {
	return sha256.Sum256(payload)
}
