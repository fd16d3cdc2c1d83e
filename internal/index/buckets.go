// Package index implements per-index storage: the sub-database layout,
// settings, fields-ids map, document store, and facet tree described in
// spec.md §4.3. Each Index owns exactly one kv.Environment file handle.
package index

// Sub-database names, one kv.Environment bucket per logical table in the
// §4.3 layout table. Declared once here so every package that opens an
// index (internal/indexer, internal/search, internal/snapshot) agrees on
// names.
var (
	BucketMain               = []byte("main")
	BucketDocuments          = []byte("docid_to_document")
	BucketExternalIDs        = []byte("external_to_internal")
	BucketWordDocids         = []byte("word_docids")
	BucketPrefixDocids       = []byte("prefix_docids")
	BucketWordPositions      = []byte("word_position_docids")
	BucketWordPairProximity  = []byte("word_pair_proximity_docids")
	BucketFieldWordCount     = []byte("field_word_count_docids")
	BucketFacetNumericTree   = []byte("facet_id_f64_docids")
	BucketFacetStringTree    = []byte("facet_id_string_docids")
	BucketFieldDocidFacetF64 = []byte("field_docid_facet_f64")
	BucketFieldDocidFacetStr = []byte("field_docid_facet_string")
	BucketEmbeddings         = []byte("embedder_docid_vectors")
)

// AllBuckets lists every sub-database an Index opens, used by
// Environment.EnsureBuckets when creating a fresh index.
var AllBuckets = [][]byte{
	BucketMain,
	BucketDocuments,
	BucketExternalIDs,
	BucketWordDocids,
	BucketPrefixDocids,
	BucketWordPositions,
	BucketWordPairProximity,
	BucketFieldWordCount,
	BucketFacetNumericTree,
	BucketFacetStringTree,
	BucketFieldDocidFacetF64,
	BucketFieldDocidFacetStr,
	BucketEmbeddings,
}

// Keys within BucketMain. main is a flat attribute-name -> typed-blob store
// (settings, fields-ids map, timestamps, FSTs), so its keys are fixed
// strings rather than a codec.
var (
	mainKeySettings         = []byte("settings")
	mainKeyFieldsIDsMap     = []byte("fields_ids_map")
	mainKeyFieldDistribution = []byte("field_distribution")
	mainKeyPrimaryKey       = []byte("primary_key")
	mainKeyCreatedAt        = []byte("created_at")
	mainKeyUpdatedAt        = []byte("updated_at")
	mainKeyDocumentsIDs     = []byte("documents_ids")
	mainKeyWordsFST         = []byte("words_fst")
	mainKeyPrefixesFST      = []byte("prefixes_fst")
)
