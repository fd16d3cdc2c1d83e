package search

import (
	"bytes"
	"sort"
	"strings"
)

// RuleKind classifies one entry of Settings.RankingRules.
type RuleKind int

const (
	RuleWords RuleKind = iota
	RuleTypo
	RuleProximity
	RuleAttribute
	RuleExactness
	RuleSort
	RuleAsc
	RuleDesc
)

// RankingRule is one parsed entry from the index's declared ranking-rule
// list; Asc/Desc carry the field name they sort on.
type RankingRule struct {
	Kind  RuleKind
	Field string // set for Asc/Desc
}

// ParseRankingRules turns the stored "words"/"typo"/.../"asc(field)" string
// list into a parsed sequence, skipping any entry it doesn't recognize
// rather than erroring: settings are validated at write time, so by the
// time a query runs here the list is assumed well-formed.
func ParseRankingRules(rules []string) []RankingRule {
	out := make([]RankingRule, 0, len(rules))
	for _, r := range rules {
		switch {
		case r == "words":
			out = append(out, RankingRule{Kind: RuleWords})
		case r == "typo":
			out = append(out, RankingRule{Kind: RuleTypo})
		case r == "proximity":
			out = append(out, RankingRule{Kind: RuleProximity})
		case r == "attribute":
			out = append(out, RankingRule{Kind: RuleAttribute})
		case r == "exactness":
			out = append(out, RankingRule{Kind: RuleExactness})
		case r == "sort":
			out = append(out, RankingRule{Kind: RuleSort})
		case strings.HasPrefix(r, "asc(") && strings.HasSuffix(r, ")"):
			out = append(out, RankingRule{Kind: RuleAsc, Field: r[4 : len(r)-1]})
		case strings.HasPrefix(r, "desc(") && strings.HasSuffix(r, ")"):
			out = append(out, RankingRule{Kind: RuleDesc, Field: r[5 : len(r)-1]})
		}
	}
	return out
}

// DocScore bundles every per-document relevancy signal the keyword ranking
// rules read, computed once per query before sorting.
type DocScore struct {
	DocID uint32

	MissingWords int // words rule: count of query words absent from the doc, lower is better
	Typos        int // typo rule: total edits across matched words, lower is better
	Proximity    int // proximity rule: sum of best pair distances, lower is better
	AttributeRank int // attribute rule: sum of the doc's field word-count buckets (0..2), lower is better
	Exactness    int // exactness rule: count of exact (non-typo) term matches, higher is better

	// VectorScore is set only for semantic/hybrid queries, where it
	// replaces the relevancy rules entirely per spec.md §4.6 step 4.
	VectorScore float32
}

// sortKeyFunc resolves a document's value for a sort/asc/desc rule's field.
// Numeric fields return (floatBytes, true); string/geo fields return
// (rawBytes, false). A document missing the field sorts last regardless of
// direction, signaled by ok=false.
type sortKeyFunc func(field string, docID uint32) (key []byte, numeric bool, ok bool)

// RankDocuments orders docIDs by rules in declared order, using scores for
// the relevancy rules and resolveSortKey for sort/asc/desc rules. semantic
// indicates the query is vector-only, in which case every relevancy rule is
// replaced by descending VectorScore per spec.md §4.6 step 4.
func RankDocuments(docIDs []uint32, rules []RankingRule, scores map[uint32]DocScore, resolveSortKey sortKeyFunc, semantic bool) []uint32 {
	out := make([]uint32, len(docIDs))
	copy(out, docIDs)

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if semantic {
			return scores[a].VectorScore > scores[b].VectorScore
		}
		for _, rule := range rules {
			cmp := compareByRule(rule, scores[a], scores[b], resolveSortKey)
			if cmp != 0 {
				return cmp < 0
			}
		}
		return false
	})
	return out
}

// compareByRule returns <0 if a should rank before b, >0 if after, 0 if the
// rule doesn't distinguish them.
func compareByRule(rule RankingRule, a, b DocScore, resolveSortKey sortKeyFunc) int {
	switch rule.Kind {
	case RuleWords:
		return a.MissingWords - b.MissingWords
	case RuleTypo:
		return a.Typos - b.Typos
	case RuleProximity:
		return a.Proximity - b.Proximity
	case RuleAttribute:
		return a.AttributeRank - b.AttributeRank
	case RuleExactness:
		return b.Exactness - a.Exactness
	case RuleAsc:
		return compareSortKey(a.DocID, b.DocID, rule.Field, resolveSortKey, false)
	case RuleDesc:
		return compareSortKey(a.DocID, b.DocID, rule.Field, resolveSortKey, true)
	case RuleSort:
		// Bare "sort" compares nothing here. Search applies the query's Sort
		// criteria with applySortCriteria after RankDocuments, so they take
		// precedence over every ranking rule wherever "sort" is declared.
		return 0
	}
	return 0
}

func compareSortKey(aID, bID uint32, field string, resolveSortKey sortKeyFunc, descending bool) int {
	if resolveSortKey == nil {
		return 0
	}
	aKey, _, aOK := resolveSortKey(field, aID)
	bKey, _, bOK := resolveSortKey(field, bID)
	if !aOK && !bOK {
		return 0
	}
	if !aOK {
		return 1
	}
	if !bOK {
		return -1
	}
	// Both numeric (EncodeOrderedFloat64) and raw string bounds compare
	// correctly as plain byte sequences.
	cmp := bytes.Compare(aKey, bKey)
	if descending {
		return -cmp
	}
	return cmp
}

// applySortCriteria orders docIDs by a query's explicit Sort list. The sort
// is stable, so the incoming ranking breaks ties. Search applies it after
// RankDocuments whenever the query has Sort criteria, whether or not
// RankingRules contains a bare "sort" entry.
func applySortCriteria(docIDs []uint32, criteria []SortCriterion, resolveSortKey sortKeyFunc) []uint32 {
	if len(criteria) == 0 {
		return docIDs
	}
	out := make([]uint32, len(docIDs))
	copy(out, docIDs)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		for _, c := range criteria {
			cmp := compareSortKey(a, b, c.Field, resolveSortKey, c.Descending)
			if cmp != 0 {
				return cmp < 0
			}
		}
		return false
	})
	return out
}
