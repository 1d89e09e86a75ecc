// Copyright 2025 Certen Protocol
//
// Wire encoding per spec §6: little-endian fixed-width scalars, sequences
// as a u64 length followed by elements, variants as a u8 tag then payload,
// options as a u8 present-flag then payload.

package txmodel

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// WireVersion is prefixed to every top-level encoded value so future
// format changes can be detected without breaking older readers outright.
const WireVersion uint8 = 1

// ErrShortBuffer is returned when a Decoder runs out of bytes mid-field.
var ErrShortBuffer = errors.New("txmodel: short buffer")

// ErrBadVersion is returned when a decoded envelope's version byte does
// not match a version this build understands.
var ErrBadVersion = errors.New("txmodel: unsupported wire version")

// Encoder accumulates a little-endian, length-prefixed byte buffer.
type Encoder struct {
	buf []byte
}

// NewEncoder returns an Encoder with a pre-sized backing buffer.
func NewEncoder(sizeHint int) *Encoder {
	return &Encoder{buf: make([]byte, 0, sizeHint)}
}

// Bytes returns the accumulated buffer.
func (e *Encoder) Bytes() []byte { return e.buf }

func (e *Encoder) WriteU8(v uint8) { e.buf = append(e.buf, v) }

func (e *Encoder) WriteU16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *Encoder) WriteU32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *Encoder) WriteU64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

// WriteHash writes a fixed 32-byte hash with no length prefix.
func (e *Encoder) WriteHash(h Hash) { e.buf = append(e.buf, h[:]...) }

// WriteFixed writes a fixed-size byte slice verbatim, with no length
// prefix (caller guarantees the length is part of the schema).
func (e *Encoder) WriteFixed(b []byte) { e.buf = append(e.buf, b...) }

// WriteBytes writes a u64 length followed by the bytes.
func (e *Encoder) WriteBytes(b []byte) {
	e.WriteU64(uint64(len(b)))
	e.buf = append(e.buf, b...)
}

// WriteBool writes a single presence/flag byte.
func (e *Encoder) WriteBool(v bool) {
	if v {
		e.WriteU8(1)
	} else {
		e.WriteU8(0)
	}
}

// Decoder reads fields off of a byte slice in the same order they were
// written, failing closed on truncation.
type Decoder struct {
	buf []byte
	off int
}

// NewDecoder wraps buf for sequential decoding.
func NewDecoder(buf []byte) *Decoder { return &Decoder{buf: buf} }

// Remaining reports how many bytes have not yet been consumed.
func (d *Decoder) Remaining() int { return len(d.buf) - d.off }

func (d *Decoder) take(n int) ([]byte, error) {
	if d.off+n > len(d.buf) || n < 0 {
		return nil, ErrShortBuffer
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b, nil
}

func (d *Decoder) ReadU8() (uint8, error) {
	b, err := d.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *Decoder) ReadU16() (uint16, error) {
	b, err := d.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (d *Decoder) ReadU32() (uint32, error) {
	b, err := d.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (d *Decoder) ReadU64() (uint64, error) {
	b, err := d.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (d *Decoder) ReadHash() (Hash, error) {
	var h Hash
	b, err := d.take(HashSize)
	if err != nil {
		return h, err
	}
	copy(h[:], b)
	return h, nil
}

func (d *Decoder) ReadFixed(n int) ([]byte, error) {
	b, err := d.take(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

func (d *Decoder) ReadBytes() ([]byte, error) {
	n, err := d.ReadU64()
	if err != nil {
		return nil, err
	}
	if n > uint64(d.Remaining()) {
		return nil, ErrShortBuffer
	}
	return d.ReadFixed(int(n))
}

func (d *Decoder) ReadBool() (bool, error) {
	b, err := d.ReadU8()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

// WrapEnvelope prefixes a payload with the wire version byte.
func WrapEnvelope(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+1)
	out = append(out, WireVersion)
	out = append(out, payload...)
	return out
}

// UnwrapEnvelope strips and validates the wire version byte.
func UnwrapEnvelope(buf []byte) ([]byte, error) {
	if len(buf) < 1 {
		return nil, ErrShortBuffer
	}
	if buf[0] != WireVersion {
		return nil, fmt.Errorf("%w: got %d want %d", ErrBadVersion, buf[0], WireVersion)
	}
	return buf[1:], nil
}
