package indexer

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	roaring "github.com/RoaringBitmap/roaring/v2"

	"github.com/siftengine/sift/internal/embed"
	"github.com/siftengine/sift/internal/errors"
	"github.com/siftengine/sift/internal/index"
	"github.com/siftengine/sift/internal/kv"
)

// Pipeline turns document add/update/delete/settings/clear operations into
// the writes internal/index's sub-databases expect: tokenized word/prefix/
// position/proximity postings, field-word-count postings, facet tree
// entries, and embedder vectors, per spec.md §4.4.
type Pipeline struct {
	idx  *index.Index
	stop *StopSignal
}

// New builds a Pipeline over an already-opened index.
func New(idx *index.Index) *Pipeline {
	return &Pipeline{idx: idx}
}

// SetStopSignal wires the scheduler's cooperative cancellation token into
// p. Subsequent AddDocuments/DeleteDocuments/UpdateSettings calls poll it
// at each document-chunk checkpoint and abort with errors.CodeAbortedTask
// once it is signaled.
func (p *Pipeline) SetStopSignal(s *StopSignal) {
	p.stop = s
}

func aborted() error {
	return errors.New(errors.CodeAbortedTask, "batch aborted by cooperative cancellation", nil)
}

// textBuckets bundles the sub-databases one field's tokenized text touches.
type textBuckets struct {
	words, prefix, positions, proximity, fieldWordCount *kv.Bucket
}

func openTextBuckets(tx *kv.Tx) (textBuckets, error) {
	var tb textBuckets
	var err error
	if tb.words, err = tx.Bucket(index.BucketWordDocids); err != nil {
		return tb, err
	}
	if tb.prefix, err = tx.Bucket(index.BucketPrefixDocids); err != nil {
		return tb, err
	}
	if tb.positions, err = tx.Bucket(index.BucketWordPositions); err != nil {
		return tb, err
	}
	if tb.proximity, err = tx.Bucket(index.BucketWordPairProximity); err != nil {
		return tb, err
	}
	if tb.fieldWordCount, err = tx.Bucket(index.BucketFieldWordCount); err != nil {
		return tb, err
	}
	return tb, nil
}

func openFacetBuckets(tx *kv.Tx) (facetBuckets, error) {
	var fb facetBuckets
	var err error
	if fb.numericTree, err = tx.Bucket(index.BucketFacetNumericTree); err != nil {
		return fb, err
	}
	if fb.stringTree, err = tx.Bucket(index.BucketFacetStringTree); err != nil {
		return fb, err
	}
	if fb.exactF64, err = tx.Bucket(index.BucketFieldDocidFacetF64); err != nil {
		return fb, err
	}
	if fb.exactStr, err = tx.Bucket(index.BucketFieldDocidFacetStr); err != nil {
		return fb, err
	}
	return fb, nil
}

func attributeSet(attrs []string) map[string]bool {
	if len(attrs) == 0 {
		return nil
	}
	m := make(map[string]bool, len(attrs))
	for _, a := range attrs {
		m[a] = true
	}
	return m
}

// isSearchableAttribute reports whether name should be tokenized. An empty
// SearchableAttributes list means every attribute is searchable, matching
// the "*" wildcard default.
func isSearchableAttribute(searchable map[string]bool, name string) bool {
	if searchable == nil {
		return true
	}
	return searchable[name]
}

// flattenToText reduces a document field's decoded JSON value to the text
// tokenization should see. Booleans and objects carry no useful search
// text; arrays contribute each string/number element, space-joined.
func flattenToText(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			if t := flattenToText(item); t != "" {
				parts = append(parts, t)
			}
		}
		return strings.Join(parts, " ")
	default:
		return ""
	}
}

// appendWordPositions merges newly tokenized positions into whatever
// positions a word already has for this document (another field in the
// same document may share a word), keeping the stored list sorted.
func appendWordPositions(b *kv.Bucket, tokens []Token, docID uint32) error {
	byWord := make(map[string][]int)
	for _, tok := range tokens {
		byWord[tok.Term] = append(byWord[tok.Term], tok.Position)
	}
	for word, positions := range byWord {
		merged := append(GetWordPositions(b, word, docID), positions...)
		sort.Ints(merged)
		if err := PutWordPositions(b, word, docID, merged); err != nil {
			return err
		}
	}
	return nil
}

func indexDocumentText(tb textBuckets, fields *index.FieldsIDsMap, docID uint32, name string, value any, settings index.Settings) error {
	if !isSearchableAttribute(attributeSet(settings.SearchableAttributes), name) {
		return nil
	}
	text := flattenToText(value)
	if text == "" {
		return nil
	}
	tokens := Tokenize(text, settings)
	if len(tokens) == 0 {
		return nil
	}
	fieldID := fields.InsertOrID(name)
	for _, tok := range tokens {
		if err := AddWordPosting(tb.words, tok.Term, docID); err != nil {
			return err
		}
		if err := AddPrefixPosting(tb.prefix, tok.Term, docID); err != nil {
			return err
		}
	}
	if err := appendWordPositions(tb.positions, tokens, docID); err != nil {
		return err
	}
	if err := AddProximityPostings(tb.proximity, tokens, docID); err != nil {
		return err
	}
	return AddFieldWordCountPosting(tb.fieldWordCount, fieldID, len(tokens), docID)
}

func removeDocumentText(tb textBuckets, fields *index.FieldsIDsMap, docID uint32, name string, value any, settings index.Settings) error {
	if !isSearchableAttribute(attributeSet(settings.SearchableAttributes), name) {
		return nil
	}
	fieldID, ok := fields.ID(name)
	if !ok {
		return nil
	}
	text := flattenToText(value)
	if text == "" {
		return nil
	}
	tokens := Tokenize(text, settings)
	if len(tokens) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		if err := RemoveWordPosting(tb.words, tok.Term, docID); err != nil {
			return err
		}
		if err := RemovePrefixPosting(tb.prefix, tok.Term, docID); err != nil {
			return err
		}
		if !seen[tok.Term] {
			seen[tok.Term] = true
			if err := DeleteWordPositions(tb.positions, tok.Term, docID); err != nil {
				return err
			}
		}
	}
	if err := RemoveProximityPostings(tb.proximity, tokens, docID); err != nil {
		return err
	}
	return RemoveFieldWordCountPosting(tb.fieldWordCount, fieldID, len(tokens), docID)
}

// indexDocumentDerivedData indexes one already-decoded document's fields:
// text postings for searchable attributes, facet entries for
// filterable/sortable attributes, and field-distribution bookkeeping.
func indexDocumentDerivedData(tb textBuckets, fb facetBuckets, fields *index.FieldsIDsMap, docID uint32, doc index.Document, settings index.Settings, dist index.FieldDistribution) error {
	filterable := attributeSet(settings.FilterableAttributes)
	sortable := attributeSet(settings.SortableAttributes)
	for name, value := range doc {
		if name == vectorsAttribute {
			continue
		}
		dist.Increment(name, 1)
		if err := indexDocumentText(tb, fields, docID, name, value, settings); err != nil {
			return err
		}
		if filterable[name] || sortable[name] {
			fieldID := fields.InsertOrID(name)
			if err := IndexFacetValue(fb, fieldID, docID, value); err != nil {
				return err
			}
		}
	}
	return nil
}

func removeDocumentDerivedData(tb textBuckets, fb facetBuckets, fields *index.FieldsIDsMap, docID uint32, doc index.Document, settings index.Settings, dist index.FieldDistribution) error {
	filterable := attributeSet(settings.FilterableAttributes)
	sortable := attributeSet(settings.SortableAttributes)
	for name, value := range doc {
		if name == vectorsAttribute {
			continue
		}
		dist.Increment(name, -1)
		if err := removeDocumentText(tb, fields, docID, name, value, settings); err != nil {
			return err
		}
		if filterable[name] || sortable[name] {
			if fieldID, ok := fields.ID(name); ok {
				if err := RemoveFacetValue(fb, fieldID, docID); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

const vectorsAttribute = "_vectors"

func documentExternalID(doc index.Document, primaryKey string) (string, error) {
	v, ok := doc[primaryKey]
	if !ok {
		return "", errors.New(errors.CodeMissingDocumentID, fmt.Sprintf("document missing primary key %q", primaryKey), nil)
	}
	switch t := v.(type) {
	case string:
		if t == "" {
			return "", errors.New(errors.CodeInvalidDocumentID, "primary key value must not be empty", nil)
		}
		return t, nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	default:
		return "", errors.New(errors.CodeInvalidDocumentID, fmt.Sprintf("primary key %q must be a string or number", primaryKey), nil)
	}
}

// AddDocumentsResult reports how many documents from one AddDocuments call
// were newly created versus replaced in place.
type AddDocumentsResult struct {
	Added   int
	Updated int
}

// AddDocuments indexes docs, adding each as a new document or fully
// replacing an existing one sharing the same primary-key value. Embeddings
// are computed before the write transaction opens, so a slow embedder
// call never holds bbolt's single writer lock.
func (p *Pipeline) AddDocuments(ctx context.Context, docs []index.Document) (AddDocumentsResult, error) {
	var result AddDocumentsResult
	if len(docs) == 0 {
		return result, nil
	}

	settings, err := p.idx.Settings()
	if err != nil {
		return result, err
	}
	primaryKey, err := p.idx.PrimaryKey()
	if err != nil {
		return result, err
	}
	fields, err := p.idx.FieldsIDsMap()
	if err != nil {
		return result, err
	}
	dist, err := p.idx.FieldDistribution()
	if err != nil {
		return result, err
	}
	docIDs, err := p.idx.DocumentIDs()
	if err != nil {
		return result, err
	}

	type prepared struct {
		doc        index.Document
		externalID string
		vectors    map[string][]float32
	}

	cache := newEmbedderCache()
	defer cache.close()

	preparedDocs := make([]prepared, 0, len(docs))
	for _, doc := range docs {
		externalID, err := documentExternalID(doc, primaryKey)
		if err != nil {
			return result, err
		}
		vectors, err := EmbedDocument(ctx, cache, settings, doc)
		if err != nil {
			return result, err
		}
		preparedDocs = append(preparedDocs, prepared{doc: doc, externalID: externalID, vectors: vectors})
	}

	err = p.idx.Env().Update(func(tx *kv.Tx) error {
		docsBucket, err := tx.Bucket(index.BucketDocuments)
		if err != nil {
			return err
		}
		extBucket, err := tx.Bucket(index.BucketExternalIDs)
		if err != nil {
			return err
		}
		embedBucket, err := tx.Bucket(index.BucketEmbeddings)
		if err != nil {
			return err
		}
		tb, err := openTextBuckets(tx)
		if err != nil {
			return err
		}
		fb, err := openFacetBuckets(tx)
		if err != nil {
			return err
		}

		for _, pd := range preparedDocs {
			if p.stop.Stopped() {
				return aborted()
			}
			var docID uint32
			if existing, ok := index.InternalID(extBucket, pd.externalID); ok {
				docID = existing
				if oldRaw := index.GetDocument(docsBucket, docID); oldRaw != nil {
					oldDoc, err := index.DecodeDocument(fields, oldRaw)
					if err != nil {
						return err
					}
					if err := removeDocumentDerivedData(tb, fb, fields, docID, oldDoc, settings, dist); err != nil {
						return err
					}
				}
				result.Updated++
			} else {
				seq, err := docsBucket.NextSequence()
				if err != nil {
					return err
				}
				docID = uint32(seq)
				if err := index.PutExternalID(extBucket, pd.externalID, docID); err != nil {
					return err
				}
				docIDs.Add(docID)
				result.Added++
			}

			if err := indexDocumentDerivedData(tb, fb, fields, docID, pd.doc, settings, dist); err != nil {
				return err
			}

			encoded, err := index.EncodeDocument(fields, pd.doc)
			if err != nil {
				return err
			}
			if err := index.PutDocument(docsBucket, docID, encoded); err != nil {
				return err
			}

			for name, vec := range pd.vectors {
				if err := PutVector(embedBucket, name, docID, vec); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return result, err
	}

	if err := p.idx.PutFieldsIDsMap(fields); err != nil {
		return result, err
	}
	if err := p.idx.PutFieldDistribution(dist); err != nil {
		return result, err
	}
	if err := p.idx.PutDocumentIDs(docIDs); err != nil {
		return result, err
	}
	return result, nil
}

// DeleteDocuments removes the documents identified by externalIDs, ignoring
// any id that doesn't exist, and returns how many were actually deleted.
func (p *Pipeline) DeleteDocuments(ctx context.Context, externalIDs []string) (int, error) {
	if len(externalIDs) == 0 {
		return 0, nil
	}

	settings, err := p.idx.Settings()
	if err != nil {
		return 0, err
	}
	fields, err := p.idx.FieldsIDsMap()
	if err != nil {
		return 0, err
	}
	dist, err := p.idx.FieldDistribution()
	if err != nil {
		return 0, err
	}
	docIDs, err := p.idx.DocumentIDs()
	if err != nil {
		return 0, err
	}

	deleted := 0
	err = p.idx.Env().Update(func(tx *kv.Tx) error {
		docsBucket, err := tx.Bucket(index.BucketDocuments)
		if err != nil {
			return err
		}
		extBucket, err := tx.Bucket(index.BucketExternalIDs)
		if err != nil {
			return err
		}
		embedBucket, err := tx.Bucket(index.BucketEmbeddings)
		if err != nil {
			return err
		}
		tb, err := openTextBuckets(tx)
		if err != nil {
			return err
		}
		fb, err := openFacetBuckets(tx)
		if err != nil {
			return err
		}

		for _, externalID := range externalIDs {
			if p.stop.Stopped() {
				return aborted()
			}
			docID, ok := index.InternalID(extBucket, externalID)
			if !ok {
				continue
			}
			if raw := index.GetDocument(docsBucket, docID); raw != nil {
				doc, err := index.DecodeDocument(fields, raw)
				if err != nil {
					return err
				}
				if err := removeDocumentDerivedData(tb, fb, fields, docID, doc, settings, dist); err != nil {
					return err
				}
			}
			for name := range settings.Embedders {
				if err := DeleteVector(embedBucket, name, docID); err != nil {
					return err
				}
			}
			if err := index.DeleteDocument(docsBucket, docID); err != nil {
				return err
			}
			if err := index.DeleteExternalID(extBucket, externalID); err != nil {
				return err
			}
			docIDs.Remove(docID)
			deleted++
		}
		return nil
	})
	if err != nil {
		return deleted, err
	}

	if err := p.idx.PutFieldDistribution(dist); err != nil {
		return deleted, err
	}
	if err := p.idx.PutDocumentIDs(docIDs); err != nil {
		return deleted, err
	}
	return deleted, nil
}

// DeleteDocumentsByFilter parses filter, resolves it against the index's
// current filterable attributes, and deletes every matching document. It
// returns the number of documents the filter matched and the number
// actually deleted (the two differ only if the batch is aborted partway
// through). A filter referencing a non-filterable or unknown attribute
// fails with errors.CodeInvalidSearchFilter before any write happens.
func (p *Pipeline) DeleteDocumentsByFilter(ctx context.Context, filter string) (matched int, deleted int, err error) {
	expr, err := index.ParseFilter(filter)
	if err != nil {
		return 0, 0, err
	}

	settings, err := p.idx.Settings()
	if err != nil {
		return 0, 0, err
	}
	primaryKey, err := p.idx.PrimaryKey()
	if err != nil {
		return 0, 0, err
	}
	fields, err := p.idx.FieldsIDsMap()
	if err != nil {
		return 0, 0, err
	}
	dist, err := p.idx.FieldDistribution()
	if err != nil {
		return 0, 0, err
	}
	docIDs, err := p.idx.DocumentIDs()
	if err != nil {
		return 0, 0, err
	}

	var matches *roaring.Bitmap
	err = p.idx.Env().Update(func(tx *kv.Tx) error {
		docsBucket, err := tx.Bucket(index.BucketDocuments)
		if err != nil {
			return err
		}
		extBucket, err := tx.Bucket(index.BucketExternalIDs)
		if err != nil {
			return err
		}
		embedBucket, err := tx.Bucket(index.BucketEmbeddings)
		if err != nil {
			return err
		}
		tb, err := openTextBuckets(tx)
		if err != nil {
			return err
		}
		fb, err := openFacetBuckets(tx)
		if err != nil {
			return err
		}

		fctx := index.FilterContext{
			NumericTree: fb.numericTree,
			StringTree:  fb.stringTree,
			Fields:      fields,
			Settings:    settings,
			AllDocids:   docIDs,
		}
		matches, err = index.ResolveFilter(expr, fctx)
		if err != nil {
			return err
		}

		it := matches.Iterator()
		for it.HasNext() {
			if p.stop.Stopped() {
				return aborted()
			}
			docID := it.Next()
			raw := index.GetDocument(docsBucket, docID)
			if raw == nil {
				continue
			}
			doc, err := index.DecodeDocument(fields, raw)
			if err != nil {
				return err
			}
			if err := removeDocumentDerivedData(tb, fb, fields, docID, doc, settings, dist); err != nil {
				return err
			}
			for name := range settings.Embedders {
				if err := DeleteVector(embedBucket, name, docID); err != nil {
					return err
				}
			}
			if err := index.DeleteDocument(docsBucket, docID); err != nil {
				return err
			}
			externalID, err := documentExternalID(doc, primaryKey)
			if err != nil {
				return err
			}
			if err := index.DeleteExternalID(extBucket, externalID); err != nil {
				return err
			}
			docIDs.Remove(docID)
			deleted++
		}
		return nil
	})
	if matches != nil {
		matched = int(matches.GetCardinality())
	}
	if err != nil {
		return matched, deleted, err
	}

	if err := p.idx.PutFieldDistribution(dist); err != nil {
		return matched, deleted, err
	}
	if err := p.idx.PutDocumentIDs(docIDs); err != nil {
		return matched, deleted, err
	}
	return matched, deleted, nil
}

// Clear drops every document and derived posting/facet/vector entry while
// leaving settings, the fields-ids map, and the primary key untouched.
func (p *Pipeline) Clear(ctx context.Context) error {
	err := p.idx.Env().Update(func(tx *kv.Tx) error {
		for _, name := range index.AllBuckets {
			if string(name) == string(index.BucketMain) {
				continue
			}
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := p.idx.PutDocumentIDs(roaring.New()); err != nil {
		return err
	}
	return p.idx.PutFieldDistribution(index.FieldDistribution{})
}

// UpdateSettings persists next, retokenizing every live document's text
// postings when the change affects tokenization (per
// index.DiffReindexScope) and regenerating or dropping embedder vectors
// whose configuration changed in a way embed.Diff says requires it. Facet
// entries and field distribution are untouched: neither depends on
// tokenization or embedder settings.
func (p *Pipeline) UpdateSettings(ctx context.Context, next index.Settings) error {
	old, err := p.idx.Settings()
	if err != nil {
		return err
	}
	scope := index.DiffReindexScope(old, next)
	embedderOutcomes := diffEmbedders(old.Embedders, next.Embedders)
	retokenize := scope == index.ReindexFull

	if retokenize || len(embedderOutcomes) > 0 {
		if err := p.reindexDocuments(ctx, old, next, retokenize, embedderOutcomes); err != nil {
			return err
		}
	}

	return p.idx.PutSettings(next)
}

func diffEmbedders(old, next map[string]embed.Config) map[string]embed.DiffOutcome {
	names := make(map[string]bool)
	for name := range old {
		names[name] = true
	}
	for name := range next {
		names[name] = true
	}

	outcomes := make(map[string]embed.DiffOutcome)
	for name := range names {
		var oldCfg, nextCfg *embed.Config
		if c, ok := old[name]; ok {
			cc := c
			oldCfg = &cc
		}
		if c, ok := next[name]; ok {
			cc := c
			nextCfg = &cc
		}
		outcome, err := embed.Diff(oldCfg, nextCfg)
		if err != nil {
			// Irreversible change (e.g. un-quantizing): leave existing
			// vectors as-is rather than guessing at a recovery.
			continue
		}
		if outcome != embed.NoChange {
			outcomes[name] = outcome
		}
	}
	return outcomes
}

// reindexDocuments retokenizes (when scope requires it) and re-embeds
// (when an embedder's outcome requires it) every live document. Embedding
// calls happen before the write transaction opens so bbolt's single writer
// lock is never held across network I/O.
func (p *Pipeline) reindexDocuments(ctx context.Context, old, next index.Settings, retokenize bool, embedderOutcomes map[string]embed.DiffOutcome) error {
	fields, err := p.idx.FieldsIDsMap()
	if err != nil {
		return err
	}
	docIDs, err := p.idx.DocumentIDs()
	if err != nil {
		return err
	}

	type docSnapshot struct {
		id  uint32
		doc index.Document
	}
	var snapshots []docSnapshot
	err = p.idx.Env().View(func(tx *kv.Tx) error {
		docsBucket, err := tx.Bucket(index.BucketDocuments)
		if err != nil {
			return err
		}
		it := docIDs.Iterator()
		for it.HasNext() {
			id := it.Next()
			raw := index.GetDocument(docsBucket, id)
			if raw == nil {
				continue
			}
			doc, err := index.DecodeDocument(fields, raw)
			if err != nil {
				return err
			}
			snapshots = append(snapshots, docSnapshot{id: id, doc: doc})
		}
		return nil
	})
	if err != nil {
		return err
	}

	cache := newEmbedderCache()
	defer cache.close()

	type vectorUpdate struct {
		id     uint32
		name   string
		vec    []float32
		remove bool
	}
	var vectorUpdates []vectorUpdate
	for _, snap := range snapshots {
		if p.stop.Stopped() {
			return aborted()
		}
		for name, outcome := range embedderOutcomes {
			switch outcome {
			case embed.Remove:
				vectorUpdates = append(vectorUpdates, vectorUpdate{id: snap.id, name: name, remove: true})
			case embed.FullReindex, embed.RegeneratePrompts:
				cfg := next.Embedders[name]
				scoped := index.Settings{Embedders: map[string]embed.Config{name: cfg}}
				vectors, err := EmbedDocument(ctx, cache, scoped, snap.doc)
				if err != nil {
					return err
				}
				if vec, ok := vectors[name]; ok {
					vectorUpdates = append(vectorUpdates, vectorUpdate{id: snap.id, name: name, vec: vec})
				}
			}
		}
	}

	return p.idx.Env().Update(func(tx *kv.Tx) error {
		tb, err := openTextBuckets(tx)
		if err != nil {
			return err
		}
		embedBucket, err := tx.Bucket(index.BucketEmbeddings)
		if err != nil {
			return err
		}

		if retokenize {
			for _, snap := range snapshots {
				if p.stop.Stopped() {
					return aborted()
				}
				for name, value := range snap.doc {
					if name == vectorsAttribute {
						continue
					}
					if err := removeDocumentText(tb, fields, snap.id, name, value, old); err != nil {
						return err
					}
					if err := indexDocumentText(tb, fields, snap.id, name, value, next); err != nil {
						return err
					}
				}
			}
		}

		for _, vu := range vectorUpdates {
			if vu.remove {
				if err := DeleteVector(embedBucket, vu.name, vu.id); err != nil {
					return err
				}
				continue
			}
			if err := PutVector(embedBucket, vu.name, vu.id, vu.vec); err != nil {
				return err
			}
		}
		return nil
	})
}
