// Package serialize provides the small set of byte-level encoding helpers
// a binary wire protocol would share: unsigned LEB128 varints and
// length-prefixed byte strings. Nothing in this module's HTTP/text-based
// wire formats needs it today; it exists as tested, ready-to-use
// infrastructure for the next protocol that does (see DESIGN.md).
package serialize

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// WriteUvarint64 appends v to buf as an unsigned LEB128 varint and
// returns the extended slice. Values always round-trip through the full
// 64-bit range — there is no 32-bit-truncating variant, since a 32-bit
// signature reading a value written by a 64-bit writer silently drops
// the high bits instead of failing loudly.
func WriteUvarint64(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

// ReadUvarint64 decodes an unsigned LEB128 varint from the front of buf,
// returning the value and how many bytes it occupied.
func ReadUvarint64(buf []byte) (uint64, int, error) {
	v, n := binary.Uvarint(buf)
	if n == 0 {
		return 0, 0, fmt.Errorf("serialize: varint truncated")
	}
	if n < 0 {
		return 0, 0, fmt.Errorf("serialize: varint overflows 64 bits")
	}
	return v, n, nil
}

// WriteBytes appends a varint length prefix followed by p.
func WriteBytes(buf []byte, p []byte) []byte {
	buf = WriteUvarint64(buf, uint64(len(p)))
	return append(buf, p...)
}

// ReadBytes decodes a varint-length-prefixed byte string from the front
// of buf, returning the payload (a view into buf) and bytes consumed.
func ReadBytes(buf []byte) ([]byte, int, error) {
	n, hdrLen, err := ReadUvarint64(buf)
	if err != nil {
		return nil, 0, err
	}
	total := hdrLen + int(n)
	if total > len(buf) || int(n) < 0 {
		return nil, 0, fmt.Errorf("serialize: byte string length %d exceeds buffer", n)
	}
	return buf[hdrLen:total], total, nil
}

// Builder accumulates a sequence of varints/byte strings into one buffer,
// mirroring the bytewise appends a wire encoder performs field by field.
type Builder struct {
	buf bytes.Buffer
}

// PutUvarint64 appends v.
func (b *Builder) PutUvarint64(v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	b.buf.Write(tmp[:n])
}

// PutBytes appends a length-prefixed byte string.
func (b *Builder) PutBytes(p []byte) {
	b.PutUvarint64(uint64(len(p)))
	b.buf.Write(p)
}

// Bytes returns the accumulated buffer.
func (b *Builder) Bytes() []byte { return b.buf.Bytes() }
