// Copyright 2025 Certen Protocol
package txmodel

import "testing"

func TestEncodeDecodeTxErrorRoundTrip(t *testing.T) {
	want := NewTxError(KindInputsSpent).WithIndex(2).WithIds(Hash{1}, Hash{2}).WithMsg("already spent")

	enc := NewEncoder(0)
	EncodeTxError(enc, want)

	got, err := DecodeTxError(NewDecoder(enc.Bytes()))
	if err != nil {
		t.Fatalf("DecodeTxError: %v", err)
	}
	if got.Kind != want.Kind || got.Index != want.Index || got.Msg != want.Msg {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	if len(got.Ids) != 2 || got.Ids[0] != want.Ids[0] {
		t.Fatalf("unexpected Ids: %+v", got.Ids)
	}
}

func TestEncodeDecodeTxErrorNil(t *testing.T) {
	enc := NewEncoder(0)
	EncodeTxError(enc, nil)

	got, err := DecodeTxError(NewDecoder(enc.Bytes()))
	if err != nil {
		t.Fatalf("DecodeTxError: %v", err)
	}
	if got != nil {
		t.Fatalf("expected a nil TxError, got %+v", got)
	}
}

func TestEncodeDecodeTxErrorWoundDetail(t *testing.T) {
	want := &TxError{Kind: KindWounded, Index: -1, WoundingTicket: 42, WoundingKey: Hash{9}}

	enc := NewEncoder(0)
	EncodeTxError(enc, want)

	got, err := DecodeTxError(NewDecoder(enc.Bytes()))
	if err != nil {
		t.Fatalf("DecodeTxError: %v", err)
	}
	if got.WoundingTicket != 42 || got.WoundingKey != want.WoundingKey {
		t.Fatalf("unexpected wound detail: %+v", got)
	}
	if got.Index != -1 {
		t.Fatalf("expected Index -1 to round-trip through uint32, got %d", got.Index)
	}
}
