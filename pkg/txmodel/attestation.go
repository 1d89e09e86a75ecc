// Copyright 2025 Certen Protocol

package txmodel

// Attestation is a sentinel's signature of a tx_id under its own key.
type Attestation struct {
	SentinelKey PubKey
	Signature   Signature
}

// Verifier checks an Attestation against a tx_id. Concrete signature
// schemes (Schnorr by default, see pkg/xsign) implement this so txmodel
// stays free of cryptographic dependencies.
type Verifier interface {
	Verify(pub PubKey, msg Hash, sig Signature) bool
}

// AttestationSet is a set of attestations keyed by sentinel public key,
// so duplicate attestations from the same key collapse (§3) and the
// quorum-counting open question ("verify each signature and deduplicate
// by key before comparing to threshold") has an unambiguous home.
//
// AttestationSet grows only by union (§3 "accumulated monotonically");
// there is no removal operation.
type AttestationSet struct {
	byKey map[PubKey]Attestation
}

// NewAttestationSet returns an empty set.
func NewAttestationSet() AttestationSet {
	return AttestationSet{byKey: make(map[PubKey]Attestation)}
}

// Add verifies att against txID under v and, if valid, inserts it keyed by
// sentinel public key (last-write-wins on collision, which is harmless
// since two valid attestations from the same key over the same message
// are equal in effect). Returns whether the attestation was accepted.
func (s *AttestationSet) Add(v Verifier, txID Hash, att Attestation) bool {
	if s.byKey == nil {
		s.byKey = make(map[PubKey]Attestation)
	}
	if !v.Verify(att.SentinelKey, txID, att.Signature) {
		return false
	}
	s.byKey[att.SentinelKey] = att
	return true
}

// Union merges other into s in place (set union over distinct keys).
func (s *AttestationSet) Union(other AttestationSet) {
	if s.byKey == nil {
		s.byKey = make(map[PubKey]Attestation)
	}
	for k, v := range other.byKey {
		s.byKey[k] = v
	}
}

// Len returns the number of distinct sentinel keys attesting.
func (s AttestationSet) Len() int { return len(s.byKey) }

// Quorum reports whether s contains at least threshold distinct,
// already-verified attestations.
func (s AttestationSet) Quorum(threshold int) bool { return len(s.byKey) >= threshold }

// Keys returns the set of sentinel keys that have attested, order
// unspecified.
func (s AttestationSet) Keys() []PubKey {
	out := make([]PubKey, 0, len(s.byKey))
	for k := range s.byKey {
		out = append(out, k)
	}
	return out
}

// Clone returns an independent copy of s.
func (s AttestationSet) Clone() AttestationSet {
	out := NewAttestationSet()
	out.Union(s)
	return out
}

func (s AttestationSet) encode(e *Encoder) {
	e.WriteU64(uint64(len(s.byKey)))
	for _, a := range s.byKey {
		e.WriteFixed(a.SentinelKey[:])
		e.WriteFixed(a.Signature[:])
	}
}

func decodeAttestationSet(d *Decoder) (AttestationSet, error) {
	s := NewAttestationSet()
	n, err := d.ReadU64()
	if err != nil {
		return s, err
	}
	for i := uint64(0); i < n; i++ {
		keyB, err := d.ReadFixed(PubKeySize)
		if err != nil {
			return s, err
		}
		sigB, err := d.ReadFixed(SignatureSize)
		if err != nil {
			return s, err
		}
		var a Attestation
		copy(a.SentinelKey[:], keyB)
		copy(a.Signature[:], sigB)
		s.byKey[a.SentinelKey] = a
	}
	return s, nil
}

// CTX is the compact transaction representation that shards, the
// atomizer, and the coordinator operate on exclusively (§3).
type CTX struct {
	TxID         Hash
	InputUHSIDs  []Hash
	OutputUHSIDs []Hash
	Attestations AttestationSet
}

// Encode appends the wire encoding of c to e.
func (c CTX) Encode(e *Encoder) {
	e.WriteHash(c.TxID)
	e.WriteU64(uint64(len(c.InputUHSIDs)))
	for _, h := range c.InputUHSIDs {
		e.WriteHash(h)
	}
	e.WriteU64(uint64(len(c.OutputUHSIDs)))
	for _, h := range c.OutputUHSIDs {
		e.WriteHash(h)
	}
	c.Attestations.encode(e)
}

// DecodeCTX reads a CTX off of d.
func DecodeCTX(d *Decoder) (CTX, error) {
	var c CTX
	var err error
	if c.TxID, err = d.ReadHash(); err != nil {
		return c, err
	}
	nIn, err := d.ReadU64()
	if err != nil {
		return c, err
	}
	c.InputUHSIDs = make([]Hash, nIn)
	for i := range c.InputUHSIDs {
		if c.InputUHSIDs[i], err = d.ReadHash(); err != nil {
			return c, err
		}
	}
	nOut, err := d.ReadU64()
	if err != nil {
		return c, err
	}
	c.OutputUHSIDs = make([]Hash, nOut)
	for i := range c.OutputUHSIDs {
		if c.OutputUHSIDs[i], err = d.ReadHash(); err != nil {
			return c, err
		}
	}
	if c.Attestations, err = decodeAttestationSet(d); err != nil {
		return c, err
	}
	return c, nil
}

// MarshalBinary implements the canonical wire format for CTX.
func (c CTX) MarshalBinary() ([]byte, error) {
	e := NewEncoder(128)
	c.Encode(e)
	return WrapEnvelope(e.Bytes()), nil
}

// UnmarshalCTX decodes a CTX previously produced by MarshalBinary.
func UnmarshalCTX(buf []byte) (CTX, error) {
	payload, err := UnwrapEnvelope(buf)
	if err != nil {
		return CTX{}, err
	}
	return DecodeCTX(NewDecoder(payload))
}

// Clone returns a deep-enough copy of c suitable for storing independent
// of caller-owned slices/maps.
func (c CTX) Clone() CTX {
	out := CTX{
		TxID:         c.TxID,
		InputUHSIDs:  append([]Hash(nil), c.InputUHSIDs...),
		OutputUHSIDs: append([]Hash(nil), c.OutputUHSIDs...),
		Attestations: c.Attestations.Clone(),
	}
	return out
}

// Block is a contiguous, ordered sequence of committed CTX at a given
// height (§3). Height 0 is genesis and always has an empty body.
type Block struct {
	Height uint64
	Body   []CTX
}

// Encode appends the wire encoding of b to e.
func (b Block) Encode(e *Encoder) {
	e.WriteU64(b.Height)
	e.WriteU64(uint64(len(b.Body)))
	for _, c := range b.Body {
		c.Encode(e)
	}
}

// MarshalBinary implements the canonical wire format for Block.
func (b Block) MarshalBinary() ([]byte, error) {
	e := NewEncoder(256)
	b.Encode(e)
	return WrapEnvelope(e.Bytes()), nil
}

// DecodeBlock reads a Block off d, the counterpart to Block.Encode.
func DecodeBlock(d *Decoder) (Block, error) {
	var b Block
	var err error
	if b.Height, err = d.ReadU64(); err != nil {
		return b, err
	}
	n, err := d.ReadU64()
	if err != nil {
		return b, err
	}
	b.Body = make([]CTX, n)
	for i := range b.Body {
		if b.Body[i], err = DecodeCTX(d); err != nil {
			return b, err
		}
	}
	return b, nil
}

// UnmarshalBlock decodes a Block previously produced by MarshalBinary.
func UnmarshalBlock(buf []byte) (Block, error) {
	payload, err := UnwrapEnvelope(buf)
	if err != nil {
		return Block{}, err
	}
	return DecodeBlock(NewDecoder(payload))
}

// GenesisBlock returns the empty block at height 0.
func GenesisBlock() Block { return Block{Height: 0, Body: nil} }
