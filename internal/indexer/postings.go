package indexer

import (
	"encoding/binary"

	roaring "github.com/RoaringBitmap/roaring/v2"

	"github.com/siftengine/sift/internal/codec"
	"github.com/siftengine/sift/internal/kv"
)

// prefixLength is how many leading runes of a word are indexed into
// BucketPrefixDocids for prefix search.
const prefixLength = 4

// proximityWindow bounds how far apart two tokens can sit and still get a
// word-pair-proximity posting; pairs farther apart contribute nothing to
// the proximity ranking rule, so there's no reason to store them.
const proximityWindow = 4

// maxFieldWordCountBucket caps the stored bucket for BucketFieldWordCount:
// fields with more words than this all land in the same "many words"
// bucket, since the field-length-norm ranking rule only needs a coarse
// distinction past a certain length.
const maxFieldWordCountBucket = 10

func getBitmapEntry(b *kv.Bucket, key []byte) (*roaring.Bitmap, error) {
	data := b.Get(key)
	if data == nil {
		return roaring.New(), nil
	}
	return codec.DecodeBitmap(data)
}

func putBitmapEntry(b *kv.Bucket, key []byte, bm *roaring.Bitmap) error {
	if bm.IsEmpty() {
		return b.Delete(key)
	}
	data, err := codec.EncodeBitmap(bm)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

func addToBitmapEntry(b *kv.Bucket, key []byte, docID uint32) error {
	bm, err := getBitmapEntry(b, key)
	if err != nil {
		return err
	}
	bm.Add(docID)
	return putBitmapEntry(b, key, bm)
}

func removeFromBitmapEntry(b *kv.Bucket, key []byte, docID uint32) error {
	bm, err := getBitmapEntry(b, key)
	if err != nil {
		return err
	}
	bm.Remove(docID)
	return putBitmapEntry(b, key, bm)
}

// wordKey and prefixKey store raw UTF-8 bytes: word order matters for
// range/prefix scans, and the words themselves are the natural key.
func wordKey(word string) []byte { return []byte(word) }

func wordPrefix(word string) string {
	runes := []rune(word)
	if len(runes) > prefixLength {
		runes = runes[:prefixLength]
	}
	return string(runes)
}

func AddWordPosting(b *kv.Bucket, word string, docID uint32) error {
	return addToBitmapEntry(b, wordKey(word), docID)
}

func RemoveWordPosting(b *kv.Bucket, word string, docID uint32) error {
	return removeFromBitmapEntry(b, wordKey(word), docID)
}

// WordDocids returns the bitmap of documents containing word exactly.
func WordDocids(b *kv.Bucket, word string) (*roaring.Bitmap, error) {
	return getBitmapEntry(b, wordKey(word))
}

func AddPrefixPosting(b *kv.Bucket, word string, docID uint32) error {
	return addToBitmapEntry(b, wordKey(wordPrefix(word)), docID)
}

func RemovePrefixPosting(b *kv.Bucket, word string, docID uint32) error {
	return removeFromBitmapEntry(b, wordKey(wordPrefix(word)), docID)
}

// PrefixDocids returns the bitmap of documents holding a word whose first
// prefixLength runes equal prefix, used to resolve the query's last word
// as a prefix match per spec.md's matching-strategy rules.
func PrefixDocids(b *kv.Bucket, prefix string) (*roaring.Bitmap, error) {
	return getBitmapEntry(b, wordKey(wordPrefix(prefix)))
}

// wordPositionsKey identifies the position list for one (word, document)
// pair: a length-prefixed word so the fixed-width docid suffix can be
// stripped back off unambiguously, even though words vary in length.
func wordPositionsKey(word string, docID uint32) []byte {
	return codec.Concat(codec.EncodeUint16(uint16(len(word))), []byte(word), codec.EncodeUint32(docID))
}

// EncodePositions serializes a sorted list of token positions.
func EncodePositions(positions []int) []byte {
	buf := make([]byte, 4, 4+len(positions)*4)
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(positions)))
	for _, p := range positions {
		buf = binary.BigEndian.AppendUint32(buf, uint32(p))
	}
	return buf
}

// DecodePositions is the inverse of EncodePositions.
func DecodePositions(data []byte) []int {
	if len(data) < 4 {
		return nil
	}
	count := binary.BigEndian.Uint32(data[0:4])
	positions := make([]int, 0, count)
	for i := uint32(0); i < count; i++ {
		offset := 4 + i*4
		if int(offset+4) > len(data) {
			break
		}
		positions = append(positions, int(binary.BigEndian.Uint32(data[offset:offset+4])))
	}
	return positions
}

func PutWordPositions(b *kv.Bucket, word string, docID uint32, positions []int) error {
	if len(positions) == 0 {
		return b.Delete(wordPositionsKey(word, docID))
	}
	return b.Put(wordPositionsKey(word, docID), EncodePositions(positions))
}

func GetWordPositions(b *kv.Bucket, word string, docID uint32) []int {
	return DecodePositions(b.Get(wordPositionsKey(word, docID)))
}

func DeleteWordPositions(b *kv.Bucket, word string, docID uint32) error {
	return b.Delete(wordPositionsKey(word, docID))
}

// proximityKey identifies a (wordA, wordB, distance) triple. Both words
// are length-prefixed so the fixed single trailing proximity byte can
// always be recovered unambiguously.
func proximityKey(wordA, wordB string, proximity uint8) []byte {
	return codec.Concat(
		codec.EncodeUint16(uint16(len(wordA))), []byte(wordA),
		codec.EncodeUint16(uint16(len(wordB))), []byte(wordB),
		[]byte{proximity},
	)
}

func AddProximityPosting(b *kv.Bucket, wordA, wordB string, proximity uint8, docID uint32) error {
	return addToBitmapEntry(b, proximityKey(wordA, wordB, proximity), docID)
}

func RemoveProximityPosting(b *kv.Bucket, wordA, wordB string, proximity uint8, docID uint32) error {
	return removeFromBitmapEntry(b, proximityKey(wordA, wordB, proximity), docID)
}

// ProximityDocids returns the bitmap of documents where wordA and wordB
// occur exactly proximity tokens apart, in either order: AddProximityPostings
// stores every pair in both directions.
func ProximityDocids(b *kv.Bucket, wordA, wordB string, proximity uint8) (*roaring.Bitmap, error) {
	return getBitmapEntry(b, proximityKey(wordA, wordB, proximity))
}

// BestProximityDocids unions a (wordA, wordB) pair's postings across every
// distance from 1 up to proximityWindow, paired with the distance the
// ranking rule should credit for each resulting document: the search
// runtime scores a document by the closest proximity at which the pair
// actually co-occurs, so this returns the minimum distance ever observed
// per docid rather than a bare union.
func BestProximityDocids(b *kv.Bucket, wordA, wordB string) (map[uint32]uint8, error) {
	best := make(map[uint32]uint8)
	for d := uint8(1); d <= proximityWindow; d++ {
		bm, err := ProximityDocids(b, wordA, wordB, d)
		if err != nil {
			return nil, err
		}
		it := bm.Iterator()
		for it.HasNext() {
			docID := it.Next()
			if _, ok := best[docID]; !ok {
				best[docID] = d
			}
		}
	}
	return best, nil
}

// AddProximityPostings records every token pair within proximityWindow of
// each other in tokens, in both directions (sift's ranking rule looks up
// proximity without caring which side of the pair the query term was on).
func AddProximityPostings(b *kv.Bucket, tokens []Token, docID uint32) error {
	for i, a := range tokens {
		for j := i + 1; j < len(tokens) && j <= i+proximityWindow; j++ {
			bTok := tokens[j]
			distance := bTok.Position - a.Position
			if distance <= 0 || distance > proximityWindow {
				continue
			}
			if err := AddProximityPosting(b, a.Term, bTok.Term, uint8(distance), docID); err != nil {
				return err
			}
			if err := AddProximityPosting(b, bTok.Term, a.Term, uint8(distance), docID); err != nil {
				return err
			}
		}
	}
	return nil
}

// RemoveProximityPostings is AddProximityPostings' inverse, used when a
// document is deleted or re-tokenized during an update.
func RemoveProximityPostings(b *kv.Bucket, tokens []Token, docID uint32) error {
	for i, a := range tokens {
		for j := i + 1; j < len(tokens) && j <= i+proximityWindow; j++ {
			bTok := tokens[j]
			distance := bTok.Position - a.Position
			if distance <= 0 || distance > proximityWindow {
				continue
			}
			if err := RemoveProximityPosting(b, a.Term, bTok.Term, uint8(distance), docID); err != nil {
				return err
			}
			if err := RemoveProximityPosting(b, bTok.Term, a.Term, uint8(distance), docID); err != nil {
				return err
			}
		}
	}
	return nil
}

func fieldWordCountBucket(count int) int {
	if count > maxFieldWordCountBucket {
		return maxFieldWordCountBucket
	}
	return count
}

func fieldWordCountKey(fieldID uint16, wordCount int) []byte {
	return codec.Concat(codec.EncodeUint16(fieldID), codec.EncodeUint16(uint16(fieldWordCountBucket(wordCount))))
}

func AddFieldWordCountPosting(b *kv.Bucket, fieldID uint16, wordCount int, docID uint32) error {
	return addToBitmapEntry(b, fieldWordCountKey(fieldID, wordCount), docID)
}

func RemoveFieldWordCountPosting(b *kv.Bucket, fieldID uint16, wordCount int, docID uint32) error {
	return removeFromBitmapEntry(b, fieldWordCountKey(fieldID, wordCount), docID)
}

// FieldWordCountDocids returns the bitmap of documents whose fieldID field
// holds exactly wordCount words (capped at maxFieldWordCountBucket), the
// raw input to the attribute ranking rule's field-length-norm scoring.
func FieldWordCountDocids(b *kv.Bucket, fieldID uint16, wordCount int) (*roaring.Bitmap, error) {
	return getBitmapEntry(b, fieldWordCountKey(fieldID, wordCount))
}
