package codec

import (
	"encoding/binary"
	"fmt"
)

const (
	delAddFlagDeletion = 1 << 0
	delAddFlagAddition = 1 << 1
)

// DelAdd pairs an optional "old value" and an optional "new value" for one
// key during the indexer's delta pipeline: Deletion carries what must be
// subtracted from postings/facets, Addition carries what must be added.
// Either or both may be nil (a pure addition, a pure deletion, or — for a
// key untouched by this delta — absent entirely).
type DelAdd[T any] struct {
	Deletion *T
	Addition *T
}

// HasDeletion reports whether this delta removes a previous value.
func (d DelAdd[T]) HasDeletion() bool {
	return d.Deletion != nil
}

// HasAddition reports whether this delta introduces a new value.
func (d DelAdd[T]) HasAddition() bool {
	return d.Addition != nil
}

// EncodeDelAdd serializes d using enc to encode each present side. Layout:
// one flags byte, then for each side present (deletion before addition) a
// u32 length followed by its encoded bytes.
func EncodeDelAdd[T any](d DelAdd[T], enc func(T) []byte) []byte {
	var flags byte
	var parts [][]byte

	if d.Deletion != nil {
		flags |= delAddFlagDeletion
		parts = append(parts, enc(*d.Deletion))
	}
	if d.Addition != nil {
		flags |= delAddFlagAddition
		parts = append(parts, enc(*d.Addition))
	}

	out := []byte{flags}
	for _, p := range parts {
		lenBuf := make([]byte, 4)
		binary.BigEndian.PutUint32(lenBuf, uint32(len(p)))
		out = append(out, lenBuf...)
		out = append(out, p...)
	}
	return out
}

// DecodeDelAdd is the inverse of EncodeDelAdd, using dec to decode each
// side present.
func DecodeDelAdd[T any](data []byte, dec func([]byte) (T, error)) (DelAdd[T], error) {
	if len(data) < 1 {
		return DelAdd[T]{}, fmt.Errorf("codec: deladd blob too short: %d bytes", len(data))
	}
	flags := data[0]
	offset := 1
	var result DelAdd[T]

	if flags&delAddFlagDeletion != 0 {
		v, next, err := decodeDelAddPart(data, offset, dec)
		if err != nil {
			return DelAdd[T]{}, err
		}
		result.Deletion = v
		offset = next
	}
	if flags&delAddFlagAddition != 0 {
		v, _, err := decodeDelAddPart(data, offset, dec)
		if err != nil {
			return DelAdd[T]{}, err
		}
		result.Addition = v
	}
	return result, nil
}

func decodeDelAddPart[T any](data []byte, offset int, dec func([]byte) (T, error)) (*T, int, error) {
	if offset+4 > len(data) {
		return nil, 0, fmt.Errorf("codec: deladd blob truncated at length prefix")
	}
	length := int(binary.BigEndian.Uint32(data[offset : offset+4]))
	offset += 4
	if offset+length > len(data) {
		return nil, 0, fmt.Errorf("codec: deladd blob truncated at value (want %d bytes)", length)
	}
	v, err := dec(data[offset : offset+length])
	if err != nil {
		return nil, 0, err
	}
	return &v, offset + length, nil
}
