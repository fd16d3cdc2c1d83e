// Package codec implements the key and value encodings shared by every
// sub-database in internal/index and internal/tasks: big-endian integer
// keys, composite key concatenation, roaring-bitmap posting lists, the
// obkv document encoding, and the DelAdd delta wrapper. Every codec here is
// canonical — encode composed with decode is the identity — since the KV
// layer (internal/kv) stores and orders raw bytes and has no notion of the
// logical types riding on top of them.
package codec

import "encoding/binary"

// EncodeUint16 big-endian encodes v so that byte-lexicographic order
// matches numeric order.
func EncodeUint16(v uint16) []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, v)
	return buf
}

// DecodeUint16 is the inverse of EncodeUint16.
func DecodeUint16(b []byte) uint16 {
	return binary.BigEndian.Uint16(b)
}

// EncodeUint32 big-endian encodes v, used for internal document ids so a
// bucket's natural key order is also id order.
func EncodeUint32(v uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, v)
	return buf
}

// DecodeUint32 is the inverse of EncodeUint32.
func DecodeUint32(b []byte) uint32 {
	return binary.BigEndian.Uint32(b)
}

// EncodeUint64 big-endian encodes v, used for task and batch ids so the
// task-queue bucket's natural key order is also uid order.
func EncodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

// DecodeUint64 is the inverse of EncodeUint64.
func DecodeUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

// Concat builds a composite key by concatenating parts in order. Ordering
// a bucket keyed this way is lexicographic on the concatenated bytes, so
// fixed-width parts (EncodeUint16/EncodeUint32) must come before any
// variable-length trailing part for prefix scans over a leading part to
// behave correctly.
func Concat(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	buf := make([]byte, 0, n)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return buf
}
