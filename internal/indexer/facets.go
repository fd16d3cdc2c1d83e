package indexer

import (
	"github.com/siftengine/sift/internal/codec"
	"github.com/siftengine/sift/internal/index"
	"github.com/siftengine/sift/internal/kv"
)

// facetBuckets bundles the four sub-databases one document's facetable
// field values touch: the numeric and string interval trees themselves,
// plus the per-(field,docid) exact-value posting each tree's leaf value
// is recovered from when rendering a document's own facet values or a
// facet distribution.
type facetBuckets struct {
	numericTree *kv.Bucket
	stringTree  *kv.Bucket
	exactF64    *kv.Bucket
	exactStr    *kv.Bucket
}

func exactFacetKey(fieldID uint16, docID uint32) []byte {
	return codec.Concat(codec.EncodeUint16(fieldID), codec.EncodeUint32(docID))
}

// IndexFacetValue inserts docID into fieldID's facet tree for value,
// recursing into array values (each element indexed independently, as
// Meilisearch-style faceting treats a multi-valued attribute as "matches
// any of these values"). Non-facetable value kinds (objects, nil) are
// silently skipped rather than erroring, since not every document is
// guaranteed to carry a scalar for every filterable attribute.
func IndexFacetValue(fb facetBuckets, fieldID uint16, docID uint32, value any) error {
	switch v := value.(type) {
	case float64:
		return indexNumericFacet(fb, fieldID, docID, v)
	case string:
		return indexStringFacet(fb, fieldID, docID, v)
	case bool:
		return indexStringFacet(fb, fieldID, docID, boolString(v))
	case []any:
		for _, item := range v {
			if err := IndexFacetValue(fb, fieldID, docID, item); err != nil {
				return err
			}
		}
		return nil
	default:
		return nil
	}
}

func indexNumericFacet(fb facetBuckets, fieldID uint16, docID uint32, v float64) error {
	tree := index.NewFacetTree(fieldID)
	bound := codec.EncodeOrderedFloat64(v)
	if err := tree.InsertOne(fb.numericTree, bound, docID); err != nil {
		return err
	}
	return fb.exactF64.Put(exactFacetKey(fieldID, docID), bound)
}

func indexStringFacet(fb facetBuckets, fieldID uint16, docID uint32, v string) error {
	tree := index.NewFacetTree(fieldID)
	bound := []byte(v)
	if err := tree.InsertOne(fb.stringTree, bound, docID); err != nil {
		return err
	}
	return fb.exactStr.Put(exactFacetKey(fieldID, docID), bound)
}

// RemoveFacetValue removes docID from fieldID's facet tree(s), looking up
// the bound(s) it was last indexed under via the exact-value postings
// rather than requiring the caller to re-supply the original value.
func RemoveFacetValue(fb facetBuckets, fieldID uint16, docID uint32) error {
	key := exactFacetKey(fieldID, docID)

	if bound := fb.exactF64.Get(key); bound != nil {
		tree := index.NewFacetTree(fieldID)
		if err := tree.RemoveOne(fb.numericTree, bound, docID); err != nil {
			return err
		}
		if err := fb.exactF64.Delete(key); err != nil {
			return err
		}
	}
	if bound := fb.exactStr.Get(key); bound != nil {
		tree := index.NewFacetTree(fieldID)
		if err := tree.RemoveOne(fb.stringTree, bound, docID); err != nil {
			return err
		}
		if err := fb.exactStr.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

func boolString(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
