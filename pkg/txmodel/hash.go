// Copyright 2025 Certen Protocol
//
// Package txmodel defines the transaction, compact-transaction, and block
// data model shared by every settlement component (sentinel, atomizer,
// shards, coordinator, archiver, watchtower, wallet).
package txmodel

import "crypto/sha256"

// HashSize is the length in bytes of every hash value in the system.
const HashSize = 32

// Hash is a 32-byte SHA-256 digest, domain-separated by context (tx id,
// UHS id) via a leading domain tag mixed into the preimage.
type Hash [HashSize]byte

// IsZero reports whether h is the all-zero hash (used as "absent").
func (h Hash) IsZero() bool {
	return h == Hash{}
}

func (h Hash) String() string {
	return hexEncode(h[:])
}

// domain tags, mixed into preimages so the same bytes never hash to the
// same value across different hash purposes.
var (
	domainTxID  = []byte("rtgs/txid/v1")
	domainUHSID = []byte("rtgs/uhsid/v1")
)

// sha256Sum hashes the concatenation of the given byte slices.
func sha256Sum(parts ...[]byte) Hash {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

const hexDigits = "0123456789abcdef"

func hexEncode(b []byte) string {
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hexDigits[v>>4]
		out[i*2+1] = hexDigits[v&0x0f]
	}
	return string(out)
}
