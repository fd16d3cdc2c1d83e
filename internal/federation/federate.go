package federation

import (
	"context"
	"time"

	"github.com/siftengine/sift/internal/search"
)

// SearcherProvider resolves an index uid to the Searcher and settings
// needed to run one sub-query against it, and to look up a document's
// internal id by its external id for Rule selectors.
type SearcherProvider interface {
	Searcher(indexUID string) (*search.Searcher, error)
	RankingRules(indexUID string) ([]search.RankingRule, error)
	InternalDocID(indexUID, externalID string) (uint32, bool)
}

// Run executes a federated search request end to end: canonicalization and
// compatibility checking, dynamic-rule expansion, per-query execution,
// k-way merge, pin/hide post-processing, and cross-index facet merging,
// per spec.md §4.7.
func Run(ctx context.Context, provider SearcherProvider, queries []FederatedQuery, opts Options, rules []Rule) (*Result, error) {
	start := time.Now()

	var canonical []CanonicalRules
	for i, q := range queries {
		configured, err := provider.RankingRules(q.IndexUID)
		if err != nil {
			return nil, err
		}
		canonical = append(canonical, Canonicalize(q.IndexUID, i, configured, q.Query))
	}
	if err := CheckAllCompatible(canonical); err != nil {
		return nil, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	required := opts.Offset + limit

	var subQueries []FederatedQuery
	queryIndexOf := make([]int, 0)
	for i, q := range queries {
		for _, sub := range ExpandQuery(q, rules) {
			sub.Query.Limit = required
			sub.Query.Offset = 0
			if len(opts.FacetsByIndex[q.IndexUID]) > 0 {
				sub.Query.Facets = opts.FacetsByIndex[q.IndexUID]
			}
			subQueries = append(subQueries, sub)
			queryIndexOf = append(queryIndexOf, i)
		}
	}

	results := make([]queryResult, len(subQueries))
	perIndexFacetList := make([]perIndexFacets, 0)
	semanticHitCount := 0

	for i, sq := range subQueries {
		searcher, err := provider.Searcher(sq.IndexUID)
		if err != nil {
			return nil, err
		}
		res, err := searcher.Search(ctx, sq.Query)
		if err != nil {
			return nil, err
		}
		if len(sq.Query.Vector) > 0 || sq.Query.SemanticRatio > 0 {
			semanticHitCount += len(res.Hits)
		}
		results[i] = queryResult{
			IndexUID: sq.IndexUID,
			Weight:   sq.EffectiveWeight(),
			Degraded: res.Degraded,
			EstTotal: res.EstimatedTotalHits,
			Hits:     res.Hits,
		}
		if res.FacetDistribution != nil || res.FacetStats != nil {
			perIndexFacetList = append(perIndexFacetList, perIndexFacets{
				indexUID:     sq.IndexUID,
				distribution: res.FacetDistribution,
				stats:        res.FacetStats,
			})
		}
	}

	merged, estimatedTotal, degraded := Merge(results, limit, opts.Offset)
	for mi := range merged {
		merged[mi].QueryIndex = queryIndexOf[merged[mi].QueryIndex]
	}

	lookup := func(indexUID, externalID string) (uint32, bool) {
		return provider.InternalDocID(indexUID, externalID)
	}
	merged = ApplyPinsAndHides(merged, rules, lookup)

	result := &Result{
		Hits:               merged,
		EstimatedTotalHits: estimatedTotal,
		ProcessingTimeMs:   time.Since(start).Milliseconds(),
		SemanticHitCount:   semanticHitCount,
		Degraded:           degraded,
	}

	if opts.FacetsByIndex != nil {
		result.FacetsByIndex = make(map[string]FacetsByIndex, len(perIndexFacetList))
		for _, pf := range perIndexFacetList {
			result.FacetsByIndex[pf.indexUID] = FacetsByIndex{FacetDistribution: pf.distribution, FacetStats: pf.stats}
		}
	}
	if opts.MergeFacets != nil && len(perIndexFacetList) > 0 {
		dist, stats, err := MergeFacetValues(perIndexFacetList)
		if err != nil {
			return nil, err
		}
		result.FacetDistribution = dist
		result.FacetStats = stats
	}

	return result, nil
}
