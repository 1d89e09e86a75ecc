// Copyright 2025 Certen Protocol

package txmodel

// PubKeySize is the length of an x-only secp256k1 public key.
const PubKeySize = 32

// SignatureSize is the length of a BIP-340 Schnorr signature.
const SignatureSize = 64

// PubKey is a 32-byte x-only public key.
type PubKey [PubKeySize]byte

func (k PubKey) String() string { return hexEncode(k[:]) }

// Signature is a 64-byte Schnorr signature over SHA-256(message).
type Signature [SignatureSize]byte

// OutPoint names an output produced by a transaction.
type OutPoint struct {
	TxID        Hash
	OutputIndex uint64
}

// Encode appends the wire encoding of o to e.
func (o OutPoint) Encode(e *Encoder) {
	e.WriteHash(o.TxID)
	e.WriteU64(o.OutputIndex)
}

// DecodeOutPoint reads an OutPoint off of d.
func DecodeOutPoint(d *Decoder) (OutPoint, error) {
	var o OutPoint
	var err error
	if o.TxID, err = d.ReadHash(); err != nil {
		return o, err
	}
	if o.OutputIndex, err = d.ReadU64(); err != nil {
		return o, err
	}
	return o, nil
}

// Output is a value locked to a witness-program commitment, with optional
// confidential-transaction fields.
type Output struct {
	WitnessProgramCommitment Hash
	Value                    uint64

	// Confidential variant, optional.
	PedersenCommitment []byte // present iff len > 0
	RangeProof         []byte // present iff len > 0
}

// Encode appends the wire encoding of o to e.
func (o Output) Encode(e *Encoder) {
	e.WriteHash(o.WitnessProgramCommitment)
	e.WriteU64(o.Value)
	e.WriteBool(len(o.PedersenCommitment) > 0)
	if len(o.PedersenCommitment) > 0 {
		e.WriteBytes(o.PedersenCommitment)
	}
	e.WriteBool(len(o.RangeProof) > 0)
	if len(o.RangeProof) > 0 {
		e.WriteBytes(o.RangeProof)
	}
}

// DecodeOutput reads an Output off of d.
func DecodeOutput(d *Decoder) (Output, error) {
	var o Output
	var err error
	if o.WitnessProgramCommitment, err = d.ReadHash(); err != nil {
		return o, err
	}
	if o.Value, err = d.ReadU64(); err != nil {
		return o, err
	}
	hasPedersen, err := d.ReadBool()
	if err != nil {
		return o, err
	}
	if hasPedersen {
		if o.PedersenCommitment, err = d.ReadBytes(); err != nil {
			return o, err
		}
	}
	hasRange, err := d.ReadBool()
	if err != nil {
		return o, err
	}
	if hasRange {
		if o.RangeProof, err = d.ReadBytes(); err != nil {
			return o, err
		}
	}
	return o, nil
}

// UHSID computes the Unspent-Hash-Set identifier for an output referenced
// via the given out-point: SHA-256 over (out_point, output) with a fixed
// encoding (§3).
func UHSID(op OutPoint, out Output) Hash {
	e := NewEncoder(128)
	e.WriteFixed(domainUHSID)
	op.Encode(e)
	out.Encode(e)
	return sha256Sum(e.Bytes())
}

// Input references a prior output by out-point, carrying a copy of the
// referenced output and an optional spend-data witness.
type Input struct {
	OutPoint OutPoint
	Output   Output
	Witness  []byte // type_byte || pubkey || signature for P2PK-SHA256-Schnorr
}

// UHSID is the identifier this input consumes from the unspent set.
func (in Input) UHSID() Hash { return UHSID(in.OutPoint, in.Output) }

// Encode appends the wire encoding of in to e (witness data included,
// used only for sentinel-facing full-transaction transport; CTX never
// carries it).
func (in Input) Encode(e *Encoder) {
	in.OutPoint.Encode(e)
	in.Output.Encode(e)
	e.WriteBytes(in.Witness)
}

// DecodeInput reads an Input off of d.
func DecodeInput(d *Decoder) (Input, error) {
	var in Input
	var err error
	if in.OutPoint, err = DecodeOutPoint(d); err != nil {
		return in, err
	}
	if in.Output, err = DecodeOutput(d); err != nil {
		return in, err
	}
	if in.Witness, err = d.ReadBytes(); err != nil {
		return in, err
	}
	return in, nil
}

// FullTx is a complete transaction as submitted by a client: ordered
// inputs, ordered outputs, and one witness per input (carried inside
// Input.Witness to keep the wire shape flat).
type FullTx struct {
	Inputs  []Input
	Outputs []Output
}

// TxID is SHA-256 over the inputs' out-points concatenated with the
// outputs, per §3.
func (tx FullTx) TxID() Hash {
	e := NewEncoder(256)
	e.WriteFixed(domainTxID)
	e.WriteU64(uint64(len(tx.Inputs)))
	for _, in := range tx.Inputs {
		in.OutPoint.Encode(e)
	}
	e.WriteU64(uint64(len(tx.Outputs)))
	for _, out := range tx.Outputs {
		out.Encode(e)
	}
	return sha256Sum(e.Bytes())
}

// Encode appends the wire encoding of tx to e.
func (tx FullTx) Encode(e *Encoder) {
	e.WriteU64(uint64(len(tx.Inputs)))
	for _, in := range tx.Inputs {
		in.Encode(e)
	}
	e.WriteU64(uint64(len(tx.Outputs)))
	for _, out := range tx.Outputs {
		out.Encode(e)
	}
}

// MarshalBinary implements the canonical wire format for FullTx.
func (tx FullTx) MarshalBinary() ([]byte, error) {
	e := NewEncoder(256)
	tx.Encode(e)
	return WrapEnvelope(e.Bytes()), nil
}

// UnmarshalFullTx decodes a FullTx previously produced by MarshalBinary.
func UnmarshalFullTx(buf []byte) (FullTx, error) {
	var tx FullTx
	payload, err := UnwrapEnvelope(buf)
	if err != nil {
		return tx, err
	}
	return DecodeFullTx(NewDecoder(payload))
}

// DecodeFullTx reads a FullTx off of d.
func DecodeFullTx(d *Decoder) (FullTx, error) {
	var tx FullTx
	nIn, err := d.ReadU64()
	if err != nil {
		return tx, err
	}
	tx.Inputs = make([]Input, nIn)
	for i := range tx.Inputs {
		if tx.Inputs[i], err = DecodeInput(d); err != nil {
			return tx, err
		}
	}
	nOut, err := d.ReadU64()
	if err != nil {
		return tx, err
	}
	tx.Outputs = make([]Output, nOut)
	for i := range tx.Outputs {
		if tx.Outputs[i], err = DecodeOutput(d); err != nil {
			return tx, err
		}
	}
	return tx, nil
}

// InputUHSIDs returns the UHS ids consumed by tx, in input order.
func (tx FullTx) InputUHSIDs() []Hash {
	out := make([]Hash, len(tx.Inputs))
	for i, in := range tx.Inputs {
		out[i] = in.UHSID()
	}
	return out
}

// OutputUHSIDs returns the UHS ids produced by tx, in output order.
func (tx FullTx) OutputUHSIDs() []Hash {
	id := tx.TxID()
	out := make([]Hash, len(tx.Outputs))
	for i, o := range tx.Outputs {
		out[i] = UHSID(OutPoint{TxID: id, OutputIndex: uint64(i)}, o)
	}
	return out
}

// ToCTX projects a FullTx into its compact representation, discarding
// witness data, with an empty attestation set.
func (tx FullTx) ToCTX() CTX {
	return CTX{
		TxID:          tx.TxID(),
		InputUHSIDs:   tx.InputUHSIDs(),
		OutputUHSIDs:  tx.OutputUHSIDs(),
		Attestations:  NewAttestationSet(),
	}
}
