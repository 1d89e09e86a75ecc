// Copyright 2025 Certen Protocol
//
// Sentinel errors for validation and protocol failures, grounded on the
// small-catalog-of-exported-errors idiom used throughout the teacher
// (pkg/database/errors.go, pkg/batch/errors.go).

package txmodel

import (
	"errors"
	"fmt"
)

// Static validation errors (§4.1), permanent and client-visible.
var (
	ErrNoInputs         = errors.New("txmodel: transaction has no inputs")
	ErrNoOutputs        = errors.New("txmodel: transaction has no outputs")
	ErrMissingWitness   = errors.New("txmodel: witness count does not match input count")
	ErrDuplicateInput   = errors.New("txmodel: duplicate out-point referenced twice")
	ErrZeroValue        = errors.New("txmodel: output has zero value")
	ErrAsymmetricValues = errors.New("txmodel: sum of input values does not equal sum of output values")
	ErrBadSignature     = errors.New("txmodel: witness signature does not verify")
	ErrUnknownWitness   = errors.New("txmodel: unrecognized witness program type")
	ErrMalformedOutput  = errors.New("txmodel: output has a range proof with no commitment")
)

// ErrorKind enumerates the structured protocol-error codes used by the
// atomizer, shards, locking shard, and coordinator (§4.3, §4.4, §4.7, §7).
type ErrorKind string

const (
	KindDataError     ErrorKind = "data_error"
	KindStxoRange     ErrorKind = "stxo_range"
	KindInputsSpent   ErrorKind = "inputs_spent"
	KindIncomplete    ErrorKind = "incomplete"
	KindInputsDNE     ErrorKind = "inputs_dne"
	KindSync          ErrorKind = "sync"
	KindNotInRange    ErrorKind = "not_in_range"
	KindUnknownTicket ErrorKind = "unknown_ticket"
	KindWounded       ErrorKind = "wounded"
	KindNotPrepared   ErrorKind = "not_prepared"
	KindCommitted     ErrorKind = "committed"
	KindAborted       ErrorKind = "aborted"
	KindPrepared      ErrorKind = "prepared"
	KindBegun         ErrorKind = "begun"
	KindRetry         ErrorKind = "retry"
)

// TxError is a structured protocol error carrying a code plus whatever
// detail the spec requires alongside it (offending index, offender ids,
// wounding ticket/key). Components compare on Kind, never on the message
// text.
type TxError struct {
	Kind  ErrorKind
	Index int     // -1 if not applicable
	Ids   []Hash  // offender UHS ids, when applicable
	Msg   string  // human-readable detail for logs only

	// Wound-wait detail (§4.7), populated only for Kind == KindWounded.
	WoundingTicket uint64
	WoundingKey    Hash
}

func (e *TxError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
	return string(e.Kind)
}

// Is reports whether target is a *TxError with the same Kind, so callers
// can use errors.Is(err, &TxError{Kind: KindWounded}) style checks.
func (e *TxError) Is(target error) bool {
	t, ok := target.(*TxError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// NewTxError builds a TxError with no extra detail.
func NewTxError(kind ErrorKind) *TxError { return &TxError{Kind: kind, Index: -1} }

// WithIndex returns a copy of e annotated with the offending index.
func (e *TxError) WithIndex(i int) *TxError {
	c := *e
	c.Index = i
	return &c
}

// WithIds returns a copy of e annotated with offender ids.
func (e *TxError) WithIds(ids ...Hash) *TxError {
	c := *e
	c.Ids = ids
	return &c
}

// WithMsg returns a copy of e annotated with a human-readable detail.
func (e *TxError) WithMsg(msg string) *TxError {
	c := *e
	c.Msg = msg
	return &c
}

// EncodeTxError writes e onto enc, writing a single zero byte for a nil
// error so RPC responses can carry "no error" without a sentinel value.
func EncodeTxError(enc *Encoder, e *TxError) {
	if e == nil {
		enc.WriteBool(false)
		return
	}
	enc.WriteBool(true)
	enc.WriteBytes([]byte(e.Kind))
	enc.WriteU32(uint32(int32(e.Index)))
	enc.WriteU32(uint32(len(e.Ids)))
	for _, id := range e.Ids {
		enc.WriteHash(id)
	}
	enc.WriteBytes([]byte(e.Msg))
	enc.WriteU64(e.WoundingTicket)
	enc.WriteHash(e.WoundingKey)
}

// DecodeTxError reads the value EncodeTxError wrote, returning a nil
// *TxError when none was present.
func DecodeTxError(d *Decoder) (*TxError, error) {
	present, err := d.ReadBool()
	if err != nil || !present {
		return nil, err
	}
	kind, err := d.ReadBytes()
	if err != nil {
		return nil, err
	}
	idx, err := d.ReadU32()
	if err != nil {
		return nil, err
	}
	n, err := d.ReadU32()
	if err != nil {
		return nil, err
	}
	ids := make([]Hash, 0, n)
	for i := uint32(0); i < n; i++ {
		id, err := d.ReadHash()
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	msg, err := d.ReadBytes()
	if err != nil {
		return nil, err
	}
	ticket, err := d.ReadU64()
	if err != nil {
		return nil, err
	}
	key, err := d.ReadHash()
	if err != nil {
		return nil, err
	}
	return &TxError{
		Kind:           ErrorKind(kind),
		Index:          int(int32(idx)),
		Ids:            ids,
		Msg:            string(msg),
		WoundingTicket: ticket,
		WoundingKey:    key,
	}, nil
}
