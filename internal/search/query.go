package search

import "github.com/siftengine/sift/internal/index"

// MatchingStrategy controls how many query words a document must contain
// to be considered a match at all (spec.md §4.6 step 4's "words" rule).
type MatchingStrategy string

const (
	MatchingStrategyLast      MatchingStrategy = "last"
	MatchingStrategyAll       MatchingStrategy = "all"
	MatchingStrategyFrequency MatchingStrategy = "frequency"
)

// SortCriterion is one "field:asc"/"field:desc" entry from a query's Sort
// list. Sorting compares only Field and Descending; GeoPoint is not read,
// so no geo-distance ordering is performed.
type SortCriterion struct {
	Field       string
	Descending  bool
	GeoPoint    *GeoPoint
}

// GeoPoint is a latitude/longitude pair carried by a SortCriterion.
type GeoPoint struct {
	Lat, Lng float64
}

// Query is one search request against a single index, the input shape
// spec.md §4.6 describes for SearchQuery.
type Query struct {
	IndexUID string

	Q      string
	Vector []float32
	Filter string // raw filter expression, parsed by ParseFilter

	Sort []SortCriterion

	Limit  int
	Offset int
	// Page/HitsPerPage are an alternate pagination shape; when HitsPerPage
	// is nonzero it takes priority over Limit/Offset.
	Page         int
	HitsPerPage  int

	AttributesToRetrieve []string
	AttributesToCrop     []string
	CropLength           int
	CropMarker           string
	AttributesToHighlight []string
	HighlightPreTag       string
	HighlightPostTag      string

	MatchingStrategy MatchingStrategy

	// TypoToleranceOverride is not read by Search: typo tolerance always
	// follows the index's configured settings.
	TypoToleranceOverride *bool

	ShowRankingScore        bool
	ShowRankingScoreDetails bool
	ShowMatchesPosition     bool

	CutoffMsOverride *int

	Locales []string

	DistinctOverride *string

	Facets []string

	// SemanticRatio applies to hybrid queries. Above 0, each keyword-matched
	// document's vector similarity is attached and averaged into its
	// _rankingScore; at 0 or below it is left out. Candidates stay the
	// keyword matches and their order follows the ranking rules, so every
	// value above 0 behaves the same.
	SemanticRatio   float64
	EmbedderName    string
}

// Default markers, matching spec.md's "distinguishable literal strings".
const (
	DefaultHighlightPreTag  = "<em>"
	DefaultHighlightPostTag = "</em>"
	DefaultCropMarker       = "…"
	DefaultCropLength       = 10
)

// Kind classifies a query by which candidate-generation path it needs.
type Kind int

const (
	KindKeyword Kind = iota
	KindSemantic
	KindHybrid
)

// kind determines the search kind from the query shape and whether the
// index has any embedders configured, per spec.md §4.6 step 1.
func (q Query) kind(hasEmbedders bool) Kind {
	hasQ := q.Q != ""
	hasVector := len(q.Vector) > 0
	switch {
	case hasVector && hasQ && hasEmbedders:
		return KindHybrid
	case hasVector:
		return KindSemantic
	default:
		return KindKeyword
	}
}

// effectiveLimitOffset resolves the query's pagination shape to a single
// (limit, offset) pair, honoring maxTotalHits.
func (q Query) effectiveLimitOffset(maxTotalHits int) (limit, offset int) {
	if q.HitsPerPage > 0 {
		page := q.Page
		if page < 1 {
			page = 1
		}
		limit = q.HitsPerPage
		offset = (page - 1) * q.HitsPerPage
	} else {
		limit = q.Limit
		if limit <= 0 {
			limit = 20
		}
		offset = q.Offset
	}
	if maxTotalHits > 0 && offset+limit > maxTotalHits {
		if offset >= maxTotalHits {
			limit = 0
		} else {
			limit = maxTotalHits - offset
		}
	}
	return limit, offset
}

// Hit is one matched document in a Result, with optional scoring and
// formatting detail attached per the query's toggles.
type Hit struct {
	Document index.Document `json:"-"`

	// DocID and IndexUID identify the hit within its originating index, for
	// internal/federation's dedup-by-first-occurrence merge; neither is
	// part of a single-index Result's wire shape.
	DocID    uint32 `json:"-"`
	IndexUID string `json:"-"`

	ScoreDetails *ScoreDetails `json:"-"` // full detail sequence, used by federation's lockstep comparator regardless of ShowRankingScoreDetails

	Formatted        map[string]any `json:"_formatted,omitempty"`
	MatchesPosition  map[string][]MatchSpan `json:"_matchesPosition,omitempty"`
	RankingScore     *float64       `json:"_rankingScore,omitempty"`
	RankingScoreDetails *ScoreDetails `json:"_rankingScoreDetails,omitempty"`
}

// MatchSpan identifies where within a field's original text a query term
// matched, as reported in _matchesPosition; Start and Length count runes.
type MatchSpan struct {
	Start  int `json:"start"`
	Length int `json:"length"`
}

// ScoreDetails exposes the per-rule scores a hit accumulated, for queries
// that request rankingScoreDetails.
type ScoreDetails struct {
	Words      *RuleScore `json:"words,omitempty"`
	Typo       *RuleScore `json:"typo,omitempty"`
	Proximity  *RuleScore `json:"proximity,omitempty"`
	Attribute  *RuleScore `json:"attribute,omitempty"`
	Exactness  *RuleScore `json:"exactness,omitempty"`
	Sort       []SortDetail `json:"sort,omitempty"`
}

// RuleScore is one relevancy rule's score and a fixed order index (words 0
// through exactness 4). Words, typo, proximity and attribute scores lie in
// 0..1; the exactness score is the raw count of exact term matches.
type RuleScore struct {
	Score float64 `json:"score"`
	Order int     `json:"order"`
}

// SortDetail is one sort criterion's comparison key for a hit, the shape
// federated search's lockstep comparison reads from ScoreDetails.Sort.
// Search never fills ScoreDetails.Sort, so that slice is always empty.
type SortDetail struct {
	Field      string  `json:"field"`
	Value      any     `json:"value"`
	Descending bool    `json:"descending"`
}

// Result is one query's full response shape.
type Result struct {
	Hits                []Hit
	EstimatedTotalHits  int
	ProcessingTimeMs    int64
	Degraded            bool
	FacetDistribution   map[string]map[string]int64
	FacetStats          map[string]FacetStat
}

// FacetStat is a numeric facet's {min,max} summary over the candidate set.
type FacetStat struct {
	Min float64
	Max float64
}
