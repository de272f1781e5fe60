package storage

import (
	"encoding/binary"
	"errors"
)

// Key class discriminants. Every persisted key starts with one of these
// bytes so the three logical key families share a single keyspace without
// colliding, and so a range scan can be bounded to one family.
const (
	ClassLookupKey     byte = 0x01
	ClassCounter       byte = 0x02
	ClassCounterExpiry byte = 0x03
	ClassReportHeader  byte = 0x10
	ClassReportEvent   byte = 0x11
	ClassReportLock    byte = 0x12
)

// U64Len is the encoded size of a big-endian uint64 key field.
const U64Len = 8

// ErrCorruptedKey is returned when stored key or value bytes cannot be
// decoded. Callers must treat it as a decode failure for that single
// record, never as a zero value.
var ErrCorruptedKey = errors.New("storage: corrupted key or value")

// KeyBuilder assembles composite keys. All integer fields are written
// big-endian so that lexicographic byte ordering matches field ordering.
type KeyBuilder struct {
	buf []byte
}

// NewKeyBuilder creates a builder with the given capacity hint.
func NewKeyBuilder(capacity int) *KeyBuilder {
	return &KeyBuilder{buf: make([]byte, 0, capacity)}
}

// Byte appends a single byte.
func (b *KeyBuilder) Byte(v byte) *KeyBuilder {
	b.buf = append(b.buf, v)
	return b
}

// Bytes appends raw bytes.
func (b *KeyBuilder) Bytes(v []byte) *KeyBuilder {
	b.buf = append(b.buf, v...)
	return b
}

// String appends the bytes of s followed by a zero terminator, so that a
// shorter string always sorts before any of its extensions and
// variable-length fields do not bleed into the fields that follow.
func (b *KeyBuilder) String(s string) *KeyBuilder {
	b.buf = append(b.buf, s...)
	b.buf = append(b.buf, 0x00)
	return b
}

// Uint64 appends v big-endian.
func (b *KeyBuilder) Uint64(v uint64) *KeyBuilder {
	b.buf = binary.BigEndian.AppendUint64(b.buf, v)
	return b
}

// Build returns the assembled key.
func (b *KeyBuilder) Build() []byte {
	return b.buf
}

// DecodeUint64 reads a big-endian uint64 at offset, returning
// ErrCorruptedKey when the slice is too short.
func DecodeUint64(b []byte, offset int) (uint64, error) {
	if offset < 0 || len(b) < offset+U64Len {
		return 0, ErrCorruptedKey
	}
	return binary.BigEndian.Uint64(b[offset : offset+U64Len]), nil
}

// DecodeString reads a zero-terminated string at offset and returns the
// string together with the offset of the first byte after the terminator.
func DecodeString(b []byte, offset int) (string, int, error) {
	if offset < 0 || offset >= len(b) {
		return "", 0, ErrCorruptedKey
	}
	for i := offset; i < len(b); i++ {
		if b[i] == 0x00 {
			return string(b[offset:i]), i + 1, nil
		}
	}
	return "", 0, ErrCorruptedKey
}

// ClassRange returns the smallest and largest keys of a class, suitable as
// bounds for a full-family scan. The upper bound uses a run of 0xFF bytes
// longer than any key the family writes.
func ClassRange(class byte) (from, to []byte) {
	from = []byte{class}
	to = make([]byte, 1, 130)
	to[0] = class
	for i := 0; i < 128; i++ {
		to = append(to, 0xFF)
	}
	return from, to
}
