package index

import (
	"encoding/json"

	"github.com/siftengine/sift/internal/embed"
)

// TypoTolerance configures per-attribute and per-word-length typo matching.
type TypoTolerance struct {
	Enabled             bool     `json:"enabled"`
	MinWordSizeOneTypo  int      `json:"minWordSizeForTypos1,omitempty"`
	MinWordSizeTwoTypos int      `json:"minWordSizeForTypos2,omitempty"`
	DisableOnAttributes []string `json:"disableOnAttributes,omitempty"`
	DisableOnWords      []string `json:"disableOnWords,omitempty"`
	DisableOnNumbers    bool     `json:"disableOnNumbers,omitempty"`
}

// DefaultTypoTolerance matches the teacher's "sane defaults, overridable"
// convention: one-typo from 5 characters, two-typo from 9.
func DefaultTypoTolerance() TypoTolerance {
	return TypoTolerance{
		Enabled:             true,
		MinWordSizeOneTypo:  5,
		MinWordSizeTwoTypos: 9,
	}
}

// LocalizedAttribute restricts a detected locale to a subset of attributes,
// so e.g. CJK tokenization only applies where it's expected.
type LocalizedAttribute struct {
	AttributePatterns []string `json:"attributePatterns"`
	Locales           []string `json:"locales"`
}

// Faceting controls facet-value ordering and response size limits.
type Faceting struct {
	MaxValuesPerFacet int               `json:"maxValuesPerFacet"`
	SortFacetValuesBy map[string]string `json:"sortFacetValuesBy,omitempty"`
}

// Pagination caps how many hits a single query can return.
type Pagination struct {
	MaxTotalHits int `json:"maxTotalHits"`
}

// Settings is an index's full mutable configuration (spec.md §3's "plus
// settings" clause). Ranking rules are stored as an ordered list of rule
// names/criteria strings (e.g. "words", "typo", "asc(price)") since their
// declared order is itself part of the contract (§4.6).
type Settings struct {
	SearchableAttributes []string `json:"searchableAttributes,omitempty"`
	DisplayedAttributes  []string `json:"displayedAttributes,omitempty"`
	FilterableAttributes []string `json:"filterableAttributes,omitempty"`
	SortableAttributes   []string `json:"sortableAttributes,omitempty"`

	RankingRules []string `json:"rankingRules,omitempty"`

	StopWords []string            `json:"stopWords,omitempty"`
	Synonyms  map[string][]string `json:"synonyms,omitempty"`

	NonSeparatorTokens []string `json:"nonSeparatorTokens,omitempty"`
	SeparatorTokens    []string `json:"separatorTokens,omitempty"`
	Dictionary         []string `json:"dictionary,omitempty"`

	TypoTolerance TypoTolerance `json:"typoTolerance"`

	DistinctAttribute *string `json:"distinctAttribute,omitempty"`

	ProximityPrecision string `json:"proximityPrecision,omitempty"` // "byWord" | "byAttribute"

	Pagination Pagination `json:"pagination"`
	Faceting   Faceting   `json:"faceting"`

	SearchCutoffMs int `json:"searchCutoffMs,omitempty"`

	LocalizedAttributes []LocalizedAttribute `json:"localizedAttributes,omitempty"`

	PrefixSearch       string `json:"prefixSearch,omitempty"` // "indexingTime" | "disabled"
	FacetSearch        bool   `json:"facetSearch"`

	Embedders map[string]embed.Config `json:"embedders,omitempty"`
}

// DefaultSettings returns an index's settings at creation time, before any
// settings-update task has run.
func DefaultSettings() Settings {
	return Settings{
		RankingRules:       []string{"words", "typo", "proximity", "attribute", "sort", "exactness"},
		TypoTolerance:      DefaultTypoTolerance(),
		Pagination:         Pagination{MaxTotalHits: 1000},
		Faceting:           Faceting{MaxValuesPerFacet: 100},
		ProximityPrecision: "byWord",
		PrefixSearch:       "indexingTime",
		FacetSearch:        true,
	}
}

// Marshal encodes settings for storage in BucketMain.
func (s Settings) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalSettings decodes settings previously written by Marshal.
func UnmarshalSettings(data []byte) (Settings, error) {
	var s Settings
	if len(data) == 0 {
		return DefaultSettings(), nil
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// ReindexScope classifies how much work a settings change demands, per
// spec.md §4.4: tokenization-affecting fields force a full reindex,
// embedder-prompt-only changes force a prompt-only reindex, everything
// else applies in place.
type ReindexScope int

const (
	// ReindexNone means the new settings can be written without touching
	// any document's postings or vectors.
	ReindexNone ReindexScope = iota
	// ReindexPromptsOnly means embedder prompt templates changed and
	// existing documents need re-rendered prompts (see embed.Diff).
	ReindexPromptsOnly
	// ReindexFull means tokenization-affecting fields changed and every
	// document must be re-tokenized and re-indexed.
	ReindexFull
)

// DiffReindexScope compares old and next settings and reports the widest
// reindex scope any single changed field demands. Embedder changes are
// diffed separately per embedder via embed.Diff (internal/indexer calls
// both and takes the wider of the two results).
func DiffReindexScope(old, next Settings) ReindexScope {
	if tokenizationChanged(old, next) {
		return ReindexFull
	}
	return ReindexNone
}

func tokenizationChanged(old, next Settings) bool {
	if !stringSlicesEqual(old.SearchableAttributes, next.SearchableAttributes) {
		return true
	}
	if !stringSlicesEqual(old.StopWords, next.StopWords) {
		return true
	}
	if !synonymsEqual(old.Synonyms, next.Synonyms) {
		return true
	}
	if !stringSlicesEqual(old.NonSeparatorTokens, next.NonSeparatorTokens) {
		return true
	}
	if !stringSlicesEqual(old.SeparatorTokens, next.SeparatorTokens) {
		return true
	}
	if !stringSlicesEqual(old.Dictionary, next.Dictionary) {
		return true
	}
	if !typoToleranceEqual(old.TypoTolerance, next.TypoTolerance) {
		return true
	}
	return false
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func synonymsEqual(a, b map[string][]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !stringSlicesEqual(av, bv) {
			return false
		}
	}
	return true
}

func typoToleranceEqual(a, b TypoTolerance) bool {
	return a.Enabled == b.Enabled &&
		a.MinWordSizeOneTypo == b.MinWordSizeOneTypo &&
		a.MinWordSizeTwoTypos == b.MinWordSizeTwoTypos &&
		a.DisableOnNumbers == b.DisableOnNumbers &&
		stringSlicesEqual(a.DisableOnAttributes, b.DisableOnAttributes) &&
		stringSlicesEqual(a.DisableOnWords, b.DisableOnWords)
}
