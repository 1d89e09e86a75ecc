// Copyright 2025 Certen Protocol

package xsign

import (
	"github.com/cbdc-core/settlement/pkg/txmodel"
)

// P2PKSHA256SchnorrType is the witness program type byte for the only
// mandatory spend policy (§4.1): P2PK-SHA256-Schnorr.
const P2PKSHA256SchnorrType byte = 0x00

// P2PKCommitment computes the witness-program commitment for a public
// key under the P2PK-SHA256-Schnorr policy: SHA-256(type_byte || pubkey).
func P2PKCommitment(pub txmodel.PubKey) txmodel.Hash {
	buf := make([]byte, 0, 1+txmodel.PubKeySize)
	buf = append(buf, P2PKSHA256SchnorrType)
	buf = append(buf, pub[:]...)
	return Digest(buf)
}

// BuildP2PKWitness encodes the witness blob type_byte || pubkey || signature.
func BuildP2PKWitness(pub txmodel.PubKey, sig txmodel.Signature) []byte {
	out := make([]byte, 0, 1+txmodel.PubKeySize+txmodel.SignatureSize)
	out = append(out, P2PKSHA256SchnorrType)
	out = append(out, pub[:]...)
	out = append(out, sig[:]...)
	return out
}

// ParseP2PKWitness decodes a witness blob produced by BuildP2PKWitness. It
// returns ok=false (not an error) for any other recognized or unrecognized
// witness type, since callers must dispatch on type before parsing.
func ParseP2PKWitness(witness []byte) (pub txmodel.PubKey, sig txmodel.Signature, ok bool) {
	wantLen := 1 + txmodel.PubKeySize + txmodel.SignatureSize
	if len(witness) != wantLen || witness[0] != P2PKSHA256SchnorrType {
		return pub, sig, false
	}
	copy(pub[:], witness[1:1+txmodel.PubKeySize])
	copy(sig[:], witness[1+txmodel.PubKeySize:])
	return pub, sig, true
}
