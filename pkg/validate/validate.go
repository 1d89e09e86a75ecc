// Copyright 2025 Certen Protocol
//
// Package validate implements the pure, side-effect-free static
// transaction validator (§4.1). It performs no I/O and is safe to run
// concurrently.
package validate

import (
	"github.com/cbdc-core/settlement/pkg/txmodel"
	"github.com/cbdc-core/settlement/pkg/xsign"
)

// Result is the outcome of validating a transaction: either ok, or a
// structured error carrying the failing check's kind and, where
// applicable, the offending input/output index.
type Result struct {
	Err *ValidationError
}

// OK reports whether the transaction passed every check.
func (r Result) OK() bool { return r.Err == nil }

// ValidationError names the failing §4.1 check and the offending index,
// where one exists.
type ValidationError struct {
	Kind  Kind
	Index int // -1 when not applicable
	Cause error
}

func (e *ValidationError) Error() string {
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return string(e.Kind)
}

func (e *ValidationError) Unwrap() error { return e.Cause }

// Kind enumerates the §4.1 failure codes, in check order.
type Kind string

const (
	KindNoInputs         Kind = "no_inputs"
	KindNoOutputs        Kind = "no_outputs"
	KindMissingWitness   Kind = "missing_witness"
	KindDuplicate        Kind = "duplicate"
	KindDataError        Kind = "data_error"
	KindZeroValue        Kind = "zero_value"
	KindAsymmetricValues Kind = "asymmetric_values"
	KindBadSignature     Kind = "bad_signature"
)

func fail(kind Kind, index int, cause error) Result {
	return Result{Err: &ValidationError{Kind: kind, Index: index, Cause: cause}}
}

// Validate runs the ordered §4.1 checks against tx and returns the first
// failure, carrying the offending index where applicable, or an ok
// Result. It is deterministic and performs no I/O.
func Validate(tx txmodel.FullTx) Result {
	// 1. no_inputs / no_outputs.
	if len(tx.Inputs) == 0 {
		return fail(KindNoInputs, -1, txmodel.ErrNoInputs)
	}
	if len(tx.Outputs) == 0 {
		return fail(KindNoOutputs, -1, txmodel.ErrNoOutputs)
	}

	// 2. missing_witness: witnesses travel inline on Input.Witness, so
	// this degenerates to "every input carries a non-empty witness".
	for i, in := range tx.Inputs {
		if len(in.Witness) == 0 {
			return fail(KindMissingWitness, i, txmodel.ErrMissingWitness)
		}
	}

	// 3. Per input: duplicate out-point, then output-shape check.
	seen := make(map[txmodel.OutPoint]struct{}, len(tx.Inputs))
	for i, in := range tx.Inputs {
		if _, dup := seen[in.OutPoint]; dup {
			return fail(KindDuplicate, i, txmodel.ErrDuplicateInput)
		}
		seen[in.OutPoint] = struct{}{}
		if err := validateOutputShape(in.Output); err != nil {
			return fail(KindDataError, i, err)
		}
	}

	// 4. Per output: zero_value.
	for i, out := range tx.Outputs {
		if out.Value == 0 {
			return fail(KindZeroValue, i, txmodel.ErrZeroValue)
		}
	}

	// 5. asymmetric_values: conservation (I1).
	var inSum, outSum uint64
	for _, in := range tx.Inputs {
		inSum += in.Output.Value
	}
	for _, out := range tx.Outputs {
		outSum += out.Value
	}
	if inSum != outSum {
		return fail(KindAsymmetricValues, -1, txmodel.ErrAsymmetricValues)
	}

	// 6. Per witness/input pair: signature check.
	txID := tx.TxID()
	verifier := xsign.SchnorrVerifier{}
	for i, in := range tx.Inputs {
		if err := verifyWitness(verifier, in, txID); err != nil {
			return fail(KindBadSignature, i, err)
		}
	}

	return Result{}
}

// validateOutputShape checks the invariants an output must satisfy to be
// well-formed independent of the spend it is locked by a zero-value
// check belongs to the per-output pass, not here, so this only rejects
// malformed confidential-variant pairings.
func validateOutputShape(out txmodel.Output) error {
	if len(out.RangeProof) > 0 && len(out.PedersenCommitment) == 0 {
		return txmodel.ErrMalformedOutput
	}
	return nil
}

// verifyWitness dispatches on the witness program type and checks the
// signature for the one mandatory type, P2PK-SHA256-Schnorr.
func verifyWitness(v xsign.SchnorrVerifier, in txmodel.Input, txID txmodel.Hash) error {
	if len(in.Witness) == 0 || in.Witness[0] != xsign.P2PKSHA256SchnorrType {
		return txmodel.ErrUnknownWitness
	}
	pub, sig, ok := xsign.ParseP2PKWitness(in.Witness)
	if !ok {
		return txmodel.ErrUnknownWitness
	}
	wantCommitment := xsign.P2PKCommitment(pub)
	if wantCommitment != in.Output.WitnessProgramCommitment {
		return txmodel.ErrBadSignature
	}
	if !v.Verify(pub, txID, sig) {
		return txmodel.ErrBadSignature
	}
	return nil
}
