package federation

import "github.com/siftengine/sift/internal/search"

// FederatedQuery is one entry of a federated request's `queries` array: a
// single-index Query plus the federation-only options attached to it.
type FederatedQuery struct {
	IndexUID string
	Query    search.Query
	Weight   float64 // default 1.0, per spec.md §4.7
}

// EffectiveWeight returns q.Weight, defaulting to 1.0 when unset (the zero
// value), matching spec.md §4.7's "default 1.0, >= 0".
func (q FederatedQuery) EffectiveWeight() float64 {
	if q.Weight == 0 {
		return 1.0
	}
	return q.Weight
}

// MergeFacetsOptions controls cross-index facet aggregation, set only when
// the request's federation.mergeFacets is present.
type MergeFacetsOptions struct {
	MaxValuesPerFacet int
}

// Options bundles the top-level federation.* request fields.
type Options struct {
	Limit         int
	Offset        int
	FacetsByIndex map[string][]string // indexUid -> requested facet attributes
	MergeFacets   *MergeFacetsOptions
}

// Hit is one federated result: the underlying single-index Hit plus the
// federation annotation spec.md's external interface attaches to each hit
// (`_federation.indexUid`, `.queryIndex`, `.weightedRankingScore`).
type Hit struct {
	search.Hit
	QueryIndex            int
	WeightedRankingScore  float64
}

// Result is a federated search response: merged, deduplicated hits plus
// per-index facet data.
type Result struct {
	Hits               []Hit
	EstimatedTotalHits int
	ProcessingTimeMs   int64
	SemanticHitCount   int
	Degraded           bool
	FacetsByIndex      map[string]FacetsByIndex
	FacetDistribution  map[string]map[string]int64 // present only when MergeFacets is set
	FacetStats         map[string]search.FacetStat  // present only when MergeFacets is set
}

// FacetsByIndex is one index's facet computation, reported verbatim
// alongside the merged hits when federation.facetsByIndex was requested.
type FacetsByIndex struct {
	FacetDistribution map[string]map[string]int64
	FacetStats        map[string]search.FacetStat
}
