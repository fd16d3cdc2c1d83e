package codec

import (
	"bytes"
	"encoding/binary"

	roaring "github.com/RoaringBitmap/roaring/v2"
)

// cookie values from the RoaringFormatSpec serialized header, used by the
// cardinality fast path below.
const (
	cookieNoRunContainer = 12346
	cookieRunContainer   = 12347
)

// EncodeBitmap serializes bm into the standard Roaring on-disk format,
// run-length optimizing it first since posting lists are written once and
// read many times.
func EncodeBitmap(bm *roaring.Bitmap) ([]byte, error) {
	bm.RunOptimize()
	return bm.ToBytes()
}

// DecodeBitmap fully materializes a bitmap from its serialized form.
func DecodeBitmap(data []byte) (*roaring.Bitmap, error) {
	bm := roaring.New()
	if _, err := bm.ReadFrom(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return bm, nil
}

// BitmapCardinality returns a serialized bitmap's cardinality without
// materializing its containers, used by facet counting where only the
// count, never the member doc ids, is needed. The Roaring format stores
// each container's cardinality directly in its descriptive header, so the
// fast path sums those without touching container bodies; any layout this
// parser doesn't recognize falls back to a full decode.
func BitmapCardinality(data []byte) (uint64, error) {
	if n, ok := fastCardinality(data); ok {
		return n, nil
	}
	bm, err := DecodeBitmap(data)
	if err != nil {
		return 0, err
	}
	return bm.GetCardinality(), nil
}

func fastCardinality(data []byte) (uint64, bool) {
	if len(data) < 8 {
		return 0, false
	}

	cookie := binary.LittleEndian.Uint32(data[0:4])
	var size, headerOffset int

	switch cookie & 0xFFFF {
	case cookieNoRunContainer:
		size = int(binary.LittleEndian.Uint32(data[4:8]))
		headerOffset = 8
	case cookieRunContainer:
		size = int(cookie>>16) + 1
		headerOffset = 4 + (size+7)/8 // skip the has-run-container bitset
	default:
		return 0, false
	}

	if size < 0 || headerOffset+size*4 > len(data) {
		return 0, false
	}

	var total uint64
	for i := 0; i < size; i++ {
		// each descriptive-header entry is (key:u16, cardinality-1:u16)
		cardOffset := headerOffset + i*4 + 2
		total += uint64(binary.LittleEndian.Uint16(data[cardOffset:cardOffset+2])) + 1
	}
	return total, true
}
