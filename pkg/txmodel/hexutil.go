// Copyright 2025 Certen Protocol
//
// Hex codecs for the fixed-width wire types, used by config loading and
// CLI/log output where a human needs to read or paste a key or hash.
// Built on go-ethereum's common package, the pack's pointer for
// 0x-prefixed hex conversion of fixed-size byte arrays.
package txmodel

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// HashFromHex decodes a 0x-prefixed or bare hex string into a Hash.
func HashFromHex(s string) (Hash, error) {
	b := common.FromHex(s)
	var h Hash
	if len(b) != len(h) {
		return Hash{}, fmt.Errorf("txmodel: hash hex %q decodes to %d bytes, want %d", s, len(b), len(h))
	}
	copy(h[:], b)
	return h, nil
}

// PubKeyFromHex decodes a 0x-prefixed or bare hex string into a PubKey.
func PubKeyFromHex(s string) (PubKey, error) {
	b := common.FromHex(s)
	var k PubKey
	if len(b) != len(k) {
		return PubKey{}, fmt.Errorf("txmodel: pubkey hex %q decodes to %d bytes, want %d", s, len(b), len(k))
	}
	copy(k[:], b)
	return k, nil
}
