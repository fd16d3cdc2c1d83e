package search

import (
	"context"
	"fmt"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/semaphore"

	"github.com/siftengine/sift/internal/errors"
	"github.com/siftengine/sift/internal/index"
	"github.com/siftengine/sift/internal/indexer"
	"github.com/siftengine/sift/internal/kv"
)

// Searcher runs single-query searches against one index, bounding
// concurrent in-flight queries with a search-permit semaphore per spec.md
// §4.6's concurrency note, matching the teacher's errgroup+semaphore idiom
// used elsewhere for bounded fan-out.
type Searcher struct {
	idx *index.Index
	sem *semaphore.Weighted
}

// NewSearcher builds a Searcher allowing up to maxConcurrent queries to run
// against idx at once.
func NewSearcher(idx *index.Index, maxConcurrent int64) *Searcher {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Searcher{idx: idx, sem: semaphore.NewWeighted(maxConcurrent)}
}

// Search runs the full 8-step pipeline described in spec.md §4.6 and
// returns the query's Result.
func (s *Searcher) Search(ctx context.Context, q Query) (*Result, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, errors.New(errors.CodeInvalidSearchQuery, "search queue acquisition canceled", err)
	}
	defer s.sem.Release(1)

	start := time.Now()

	settings, err := s.idx.Settings()
	if err != nil {
		return nil, err
	}
	fields, err := s.idx.FieldsIDsMap()
	if err != nil {
		return nil, err
	}
	allDocids, err := s.idx.DocumentIDs()
	if err != nil {
		return nil, err
	}

	cutoffMs := settings.SearchCutoffMs
	if q.CutoffMsOverride != nil {
		cutoffMs = *q.CutoffMsOverride
	}
	runCtx := ctx
	if cutoffMs > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(cutoffMs)*time.Millisecond)
		defer cancel()
	}

	result := &Result{}
	degraded := false

	err = s.idx.Env().View(func(tx *kv.Tx) error {
		numericTree, err := tx.Bucket(index.BucketFacetNumericTree)
		if err != nil {
			return err
		}
		stringTree, err := tx.Bucket(index.BucketFacetStringTree)
		if err != nil {
			return err
		}
		wordBucket, err := tx.Bucket(index.BucketWordDocids)
		if err != nil {
			return err
		}
		prefixBucket, err := tx.Bucket(index.BucketPrefixDocids)
		if err != nil {
			return err
		}
		proximityBucket, err := tx.Bucket(index.BucketWordPairProximity)
		if err != nil {
			return err
		}
		fieldWordCountBucket, err := tx.Bucket(index.BucketFieldWordCount)
		if err != nil {
			return err
		}
		docBucket, err := tx.Bucket(index.BucketDocuments)
		if err != nil {
			return err
		}
		embedBucket, err := tx.Bucket(index.BucketEmbeddings)
		if err != nil {
			return err
		}

		// Step 2: filter.
		candidates := allDocids.Clone()
		if q.Filter != "" {
			expr, err := index.ParseFilter(q.Filter)
			if err != nil {
				return err
			}
			fctx := index.FilterContext{NumericTree: numericTree, StringTree: stringTree, Fields: fields, Settings: settings, AllDocids: allDocids}
			candidates, err = index.ResolveFilter(expr, fctx)
			if err != nil {
				return err
			}
		}

		kind := q.kind(len(settings.Embedders) > 0)

		var queryWords []QueryWord
		var scores map[uint32]DocScore
		var rankedCandidates *roaring.Bitmap

		switch kind {
		case KindKeyword:
			queryWords = TokenizeQuery(wordBucket, q.Q, settings)
			if len(queryWords) == 0 {
				// No search terms: a bare filter/browse query matches every
				// candidate document rather than the empty set.
				rankedCandidates = candidates.Clone()
				scores = make(map[uint32]DocScore, rankedCandidates.GetCardinality())
				it := rankedCandidates.Iterator()
				for it.HasNext() {
					docID := it.Next()
					scores[docID] = DocScore{DocID: docID}
				}
				break
			}
			matched, sc, err := resolveKeywordCandidates(wordBucket, prefixBucket, proximityBucket, fieldWordCountBucket, fields, queryWords, q.effectiveMatchingStrategy())
			if err != nil {
				return err
			}
			rankedCandidates = roaring.And(candidates, matched)
			scores = sc
		case KindSemantic:
			graph, err := buildVectorGraph(embedBucket, q.EmbedderName)
			if err != nil {
				return err
			}
			k := int(candidates.GetCardinality())
			if lim, _ := q.effectiveLimitOffset(settings.Pagination.MaxTotalHits); lim > 0 && lim*4 < k {
				k = lim * 4
			}
			vresults := searchVectorGraph(graph, q.Vector, k)
			rankedCandidates = roaring.New()
			scores = make(map[uint32]DocScore, len(vresults))
			for _, vr := range vresults {
				if !candidates.Contains(vr.DocID) {
					continue
				}
				rankedCandidates.Add(vr.DocID)
				scores[vr.DocID] = DocScore{DocID: vr.DocID, VectorScore: vr.Score}
			}
		case KindHybrid:
			queryWords = TokenizeQuery(wordBucket, q.Q, settings)
			matched, sc, err := resolveKeywordCandidates(wordBucket, prefixBucket, proximityBucket, fieldWordCountBucket, fields, queryWords, q.effectiveMatchingStrategy())
			if err != nil {
				return err
			}
			graph, err := buildVectorGraph(embedBucket, q.EmbedderName)
			if err != nil {
				return err
			}
			vresults := searchVectorGraph(graph, q.Vector, int(candidates.GetCardinality()))
			vecScore := make(map[uint32]float32, len(vresults))
			for _, vr := range vresults {
				vecScore[vr.DocID] = vr.Score
			}
			rankedCandidates = roaring.And(candidates, matched)
			scores = blendHybridScores(sc, vecScore, q.SemanticRatio)
		}

		// Step 4/5/6: rank, distinct, paginate.
		docIDs := rankedCandidates.ToArray()
		rules := ParseRankingRules(settings.RankingRules)
		resolveSortKey := makeSortKeyResolver(numericTree, stringTree, fields)
		ordered := RankDocuments(docIDs, rules, scores, resolveSortKey, kind == KindSemantic)
		if len(q.Sort) > 0 {
			ordered = applySortCriteria(ordered, q.Sort, resolveSortKey)
		}

		distinctAttr := settings.DistinctAttribute
		if q.DistinctOverride != nil {
			distinctAttr = q.DistinctOverride
		}
		if distinctAttr != nil && *distinctAttr != "" {
			ordered = applyDistinct(ordered, docBucket, fields, *distinctAttr)
		}

		result.EstimatedTotalHits = len(ordered)

		limit, offset := q.effectiveLimitOffset(settings.Pagination.MaxTotalHits)
		page := pageSlice(ordered, offset, limit)

		hits := make([]Hit, 0, len(page))
		var queryTerms []string
		for _, qw := range queryWords {
			queryTerms = append(queryTerms, qw.Term)
		}
		for _, docID := range page {
			select {
			case <-runCtx.Done():
				degraded = true
			default:
			}
			if degraded {
				break
			}
			raw := index.GetDocument(docBucket, docID)
			if raw == nil {
				continue
			}
			doc, err := index.DecodeDocument(fields, raw)
			if err != nil {
				return err
			}
			hit := Hit{Document: doc, DocID: docID, IndexUID: q.IndexUID}
			hit.ScoreDetails = buildScoreDetails(scores[docID])
			if len(q.AttributesToHighlight) > 0 || len(q.AttributesToCrop) > 0 {
				hit.Formatted = FormatDocument(doc, queryTerms, q)
			}
			if q.ShowMatchesPosition {
				hit.MatchesPosition = MatchesPosition(doc, queryTerms)
			}
			if q.ShowRankingScore || q.ShowRankingScoreDetails {
				sc := scores[docID]
				score := relevancyScore(sc, kind == KindSemantic)
				hit.RankingScore = &score
				if q.ShowRankingScoreDetails {
					hit.RankingScoreDetails = buildScoreDetails(sc)
				}
			}
			hits = append(hits, hit)
		}
		result.Hits = hits

		if len(q.Facets) > 0 {
			dist, err := ComputeFacetDistribution(numericTree, stringTree, fields, q.Facets, rankedCandidates, settings.Faceting)
			if err != nil {
				return err
			}
			result.FacetDistribution = dist
			stats, err := ComputeFacetStats(numericTree, fields, q.Facets, rankedCandidates)
			if err != nil {
				return err
			}
			result.FacetStats = stats
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	result.Degraded = degraded
	result.ProcessingTimeMs = time.Since(start).Milliseconds()
	return result, nil
}

// effectiveMatchingStrategy returns the query's MatchingStrategy, defaulting
// to "last" per spec.md's convention for an unset strategy.
func (q Query) effectiveMatchingStrategy() MatchingStrategy {
	if q.MatchingStrategy == "" {
		return MatchingStrategyLast
	}
	return q.MatchingStrategy
}

// resolveKeywordCandidates computes the matched-document bitmap and every
// matched document's relevancy score inputs for a tokenized query.
func resolveKeywordCandidates(
	wordBucket, prefixBucket, proximityBucket, fieldWordCountBucket *kv.Bucket,
	fields *index.FieldsIDsMap,
	queryWords []QueryWord,
	strategy MatchingStrategy,
) (*roaring.Bitmap, map[uint32]DocScore, error) {
	if len(queryWords) == 0 {
		return roaring.New(), map[uint32]DocScore{}, nil
	}

	type variantBitmap struct {
		typos int
		bm    *roaring.Bitmap
	}
	perWord := make([][]variantBitmap, len(queryWords))
	union := make([]*roaring.Bitmap, len(queryWords))

	for i, qw := range queryWords {
		u := roaring.New()
		var vbs []variantBitmap
		for _, v := range qw.Variants {
			bm, err := indexer.WordDocids(wordBucket, v.Term)
			if err != nil {
				return nil, nil, err
			}
			vbs = append(vbs, variantBitmap{typos: v.Typos, bm: bm})
			u.Or(bm)
		}
		if qw.IsPrefix {
			pb, err := indexer.PrefixDocids(prefixBucket, qw.Term)
			if err != nil {
				return nil, nil, err
			}
			vbs = append(vbs, variantBitmap{typos: 1, bm: pb})
			u.Or(pb)
		}
		perWord[i] = vbs
		union[i] = u
	}

	anyWords := roaring.New()
	for _, u := range union {
		anyWords.Or(u)
	}
	allWords := union[0].Clone()
	for _, u := range union[1:] {
		allWords = roaring.And(allWords, u)
	}

	matched := anyWords
	if strategy == MatchingStrategyAll {
		matched = allWords
	}

	scores := make(map[uint32]DocScore, matched.GetCardinality())
	it := matched.Iterator()
	for it.HasNext() {
		docID := it.Next()
		sc := DocScore{DocID: docID}
		for _, vbs := range perWord {
			best := -1
			for _, vb := range vbs {
				if vb.bm.Contains(docID) {
					if best == -1 || vb.typos < best {
						best = vb.typos
					}
				}
			}
			if best == -1 {
				sc.MissingWords++
			} else {
				sc.Typos += best
				if best == 0 {
					sc.Exactness++
				}
			}
		}
		scores[docID] = sc
	}

	// Proximity: credit each adjacent query-word pair's best observed
	// distance, summed across the query.
	for i := 0; i+1 < len(queryWords); i++ {
		best, err := indexer.BestProximityDocids(proximityBucket, queryWords[i].Term, queryWords[i+1].Term)
		if err != nil {
			return nil, nil, err
		}
		for docID, dist := range best {
			if sc, ok := scores[docID]; ok {
				sc.Proximity += int(dist)
				scores[docID] = sc
			}
		}
	}

	// Attribute rule approximation: favor documents whose matched fields
	// are short, using FieldWordCountDocids as a stand-in for a true
	// per-field match-weight posting (the index doesn't retain which field
	// a word occurred in, only its field's total word count).
	for id := uint16(0); id < uint16(fields.Len()); id++ {
		for bucket := 0; bucket <= 2; bucket++ {
			bm, err := indexer.FieldWordCountDocids(fieldWordCountBucket, id, bucket)
			if err != nil {
				return nil, nil, err
			}
			itb := bm.Iterator()
			for itb.HasNext() {
				docID := itb.Next()
				if sc, ok := scores[docID]; ok {
					sc.AttributeRank += bucket
					scores[docID] = sc
				}
			}
		}
	}

	return matched, scores, nil
}

func blendHybridScores(keyword map[uint32]DocScore, vector map[uint32]float32, ratio float64) map[uint32]DocScore {
	if ratio <= 0 {
		return keyword
	}
	out := make(map[uint32]DocScore, len(keyword))
	for docID, sc := range keyword {
		sc.VectorScore = vector[docID]
		out[docID] = sc
	}
	for docID, vs := range vector {
		if _, ok := out[docID]; !ok {
			out[docID] = DocScore{DocID: docID, VectorScore: vs}
		}
	}
	return out
}

func makeSortKeyResolver(numericTree, stringTree *kv.Bucket, fields *index.FieldsIDsMap) sortKeyFunc {
	return func(field string, docID uint32) ([]byte, bool, bool) {
		id, ok := fields.ID(field)
		if !ok {
			return nil, false, false
		}
		tree := index.NewFacetTree(id)
		if v, ok := singleFacetBound(tree, numericTree, docID); ok {
			return v, true, true
		}
		if v, ok := singleFacetBound(tree, stringTree, docID); ok {
			return v, false, true
		}
		return nil, false, false
	}
}

// singleFacetBound finds docID's bound in tree by scanning its distinct
// values. Facet trees aren't keyed by docid, so this is a linear scan over
// the field's cardinality; sort-heavy deployments should keep sortable
// attributes low-cardinality.
func singleFacetBound(tree index.FacetTree, b *kv.Bucket, docID uint32) ([]byte, bool) {
	if b == nil {
		return nil, false
	}
	values, err := tree.Values(b)
	if err != nil {
		return nil, false
	}
	for _, v := range values {
		if v.Bitmap.Contains(docID) {
			return v.Bound, true
		}
	}
	return nil, false
}

func applyDistinct(ordered []uint32, docBucket *kv.Bucket, fields *index.FieldsIDsMap, attr string) []uint32 {
	seen := make(map[string]bool)
	out := make([]uint32, 0, len(ordered))
	for _, docID := range ordered {
		raw := index.GetDocument(docBucket, docID)
		if raw == nil {
			continue
		}
		doc, err := index.DecodeDocument(fields, raw)
		if err != nil {
			continue
		}
		key := fmt.Sprintf("%v", doc[attr])
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, docID)
	}
	return out
}

func pageSlice(ordered []uint32, offset, limit int) []uint32 {
	if offset >= len(ordered) || limit <= 0 {
		return nil
	}
	end := offset + limit
	if end > len(ordered) {
		end = len(ordered)
	}
	return ordered[offset:end]
}

func relevancyScore(sc DocScore, semantic bool) float64 {
	if semantic {
		return float64(sc.VectorScore)
	}
	// A simple monotone combination: each rule contributes an inverse
	// penalty, normalized to roughly 0..1. Exact global ranking is driven
	// by RankDocuments' multi-key comparator; this is only the single
	// scalar surfaced to callers that request _rankingScore.
	penalty := float64(sc.MissingWords)*4 + float64(sc.Typos)*2 + float64(sc.Proximity) + float64(sc.AttributeRank)
	score := 1.0 / (1.0 + penalty)
	if sc.VectorScore > 0 {
		score = (score + float64(sc.VectorScore)) / 2
	}
	return score
}

func buildScoreDetails(sc DocScore) *ScoreDetails {
	return &ScoreDetails{
		Words:     &RuleScore{Score: 1.0 / float64(1+sc.MissingWords), Order: 0},
		Typo:      &RuleScore{Score: 1.0 / float64(1+sc.Typos), Order: 1},
		Proximity: &RuleScore{Score: 1.0 / float64(1+sc.Proximity), Order: 2},
		Attribute: &RuleScore{Score: 1.0 / float64(1+sc.AttributeRank), Order: 3},
		Exactness: &RuleScore{Score: float64(sc.Exactness), Order: 4},
	}
}
