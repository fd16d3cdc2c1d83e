package index

import (
	"encoding/json"

	"github.com/siftengine/sift/internal/codec"
	"github.com/siftengine/sift/internal/kv"
)

// Document is a single record's field values, keyed by attribute name.
// Values are whatever encoding/json decodes a document's JSON body into:
// string, float64, bool, nil, []any, or map[string]any.
type Document map[string]any

// EncodeDocument converts doc into its on-disk obkv representation,
// assigning a field id (mutating fields) to any attribute name not seen
// before.
func EncodeDocument(fields *FieldsIDsMap, doc Document) ([]byte, error) {
	builder := codec.NewObkvBuilder()
	for name, value := range doc {
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		builder.Put(fields.InsertOrID(name), raw)
	}
	return builder.Encode(), nil
}

// DecodeDocument reverses EncodeDocument. A field id with no corresponding
// name in fields is skipped rather than failing the whole document — it
// can only happen if the fields-ids map and document store have drifted
// out of sync, which a full reindex repairs.
func DecodeDocument(fields *FieldsIDsMap, raw []byte) (Document, error) {
	obkv, err := codec.DecodeObkv(raw)
	if err != nil {
		return nil, err
	}
	doc := make(Document, obkv.Len())
	var decodeErr error
	obkv.ForEach(func(fieldID uint16, value []byte) bool {
		name, ok := fields.Name(fieldID)
		if !ok {
			return true
		}
		var v any
		if err := json.Unmarshal(value, &v); err != nil {
			decodeErr = err
			return false
		}
		doc[name] = v
		return true
	})
	if decodeErr != nil {
		return nil, decodeErr
	}
	return doc, nil
}

// PutDocument stores a document's already-encoded obkv bytes under
// internalID in BucketDocuments.
func PutDocument(b *kv.Bucket, internalID uint32, raw []byte) error {
	return b.Put(codec.EncodeUint32(internalID), raw)
}

// GetDocument retrieves a document's raw obkv bytes by internal id, or nil
// if no document is stored under that id.
func GetDocument(b *kv.Bucket, internalID uint32) []byte {
	return b.Get(codec.EncodeUint32(internalID))
}

// DeleteDocument removes internalID's stored document.
func DeleteDocument(b *kv.Bucket, internalID uint32) error {
	return b.Delete(codec.EncodeUint32(internalID))
}

// PutExternalID records the external<->internal id mapping for a newly
// added document, in BucketExternalIDs.
func PutExternalID(b *kv.Bucket, externalID string, internalID uint32) error {
	return b.Put(externalIDKey(externalID), internalIDValue(internalID))
}

// InternalID looks up the internal id assigned to externalID, if any.
func InternalID(b *kv.Bucket, externalID string) (uint32, bool) {
	data := b.Get(externalIDKey(externalID))
	if data == nil {
		return 0, false
	}
	return codec.DecodeUint32(data), true
}

// DeleteExternalID removes the external->internal id mapping.
func DeleteExternalID(b *kv.Bucket, externalID string) error {
	return b.Delete(externalIDKey(externalID))
}
